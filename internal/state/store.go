// Package state implements the State Store: atomic read/write of per-target
// TargetState records, keyed by the Paths & Hashing scheme. It keeps an
// in-memory-cache-plus-JSON-file shape, writing to the shared state
// directory, fsyncing before rename, and probing PID liveness with the
// correct signal(0) rather than a nil os.Signal that always errors (see
// DESIGN.md).
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/paths"
	"github.com/poltergeist/poltergeist/internal/procutil"
)

// Store is the State Store for one project.
type Store struct {
	paths       *paths.Paths
	projectRoot string
	configPath  string
	logger      logging.Logger

	mu    sync.Mutex
	cache map[string]*model.TargetState

	heartbeatStop chan struct{}
	heartbeatWG   sync.WaitGroup
}

// New creates a Store rooted at projectRoot.
func New(projectRoot, configPath string, log logging.Logger) (*Store, error) {
	p, err := paths.New(projectRoot)
	if err != nil {
		return nil, err
	}
	return &Store{
		paths:       p,
		projectRoot: projectRoot,
		configPath:  configPath,
		logger:      log,
		cache:       make(map[string]*model.TargetState),
	}, nil
}

// Initialize creates-or-loads a TargetState for target, stamping the current
// process as its owning daemon while preserving historical build data.
func (s *Store) Initialize(target string, kind model.TargetType) (*model.TargetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked(target)
	if err != nil && err != model.ErrNotFound {
		s.logger.Warn("existing state unreadable, reinitializing", logging.WithField("target", target), logging.WithField("error", err))
		existing = nil
	}

	hostname, _ := os.Hostname()
	now := time.Now()
	st := &model.TargetState{
		SchemaVersion: model.SchemaVersion,
		ProjectRoot:   s.projectRoot,
		ProjectName:   s.paths.ProjectName,
		Target:        target,
		TargetKind:    kind,
		ConfigPath:    s.configPath,
		DaemonProcess: model.DaemonProcess{
			PID:             os.Getpid(),
			Hostname:        hostname,
			StartedAt:       now,
			LastHeartbeatAt: now,
			IsActive:        true,
		},
	}
	if existing != nil {
		st.LastBuild = existing.LastBuild
		st.LastBuildError = existing.LastBuildError
		st.BuildStats = existing.BuildStats
		st.ArtifactInfo = existing.ArtifactInfo
	}
	if err := s.saveLocked(target, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Read returns the TargetState for target, or (nil, model.ErrNotFound) if
// absent, or (nil, an error wrapping model.ErrCorrupt) if the file exists
// but cannot be parsed.
func (s *Store) Read(target string) (*model.TargetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(target)
}

func (s *Store) readLocked(target string) (*model.TargetState, error) {
	if cached, ok := s.cache[target]; ok {
		return cached, nil
	}
	data, err := os.ReadFile(s.paths.TargetState(target))
	if os.IsNotExist(err) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	var st model.TargetState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCorrupt, err)
	}
	s.cache[target] = &st
	return &st, nil
}

// Mutator mutates a TargetState in place.
type Mutator func(*model.TargetState)

// Update performs a read-modify-write under the store's lock, so concurrent
// controllers in this process never race a torn write; the write itself is
// atomic on disk (temp file, fsync, rename).
func (s *Store) Update(target string, mutate Mutator) (*model.TargetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.readLocked(target)
	if err != nil && !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrCorrupt) {
		return nil, err
	}
	if st == nil {
		st = &model.TargetState{SchemaVersion: model.SchemaVersion, ProjectRoot: s.projectRoot, ProjectName: s.paths.ProjectName, Target: target}
	}
	mutate(st)
	if err := s.saveLocked(target, st); err != nil {
		return nil, err
	}
	return st, nil
}

// RecordBuildOutcome updates lastBuild (and lastBuildError on failure),
// appending to buildStats.successfulBuilds only on success.
func (s *Store) RecordBuildOutcome(target string, outcome model.BuildOutcome) (*model.TargetState, error) {
	return s.Update(target, func(st *model.TargetState) {
		outcomeCopy := outcome
		st.LastBuild = &outcomeCopy
		if outcome.Status == model.BuildStatusFailure {
			errCopy := outcome
			st.LastBuildError = &errCopy
		}
		if outcome.Status == model.BuildStatusSuccess {
			st.BuildStats.Record(model.BuildStatsPoint{DurationMs: outcome.DurationMs, FinishedAt: outcome.FinishedAt})
		}
	})
}

// Remove deletes the state file for target (used by `clean`).
func (s *Store) Remove(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, target)
	if err := os.Remove(s.paths.TargetState(target)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return nil
}

// Enumerate lists every *.state file name in the shared state directory
// (across all projects).
func (s *Store) Enumerate() ([]string, error) {
	entries, err := os.ReadDir(s.paths.StateDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 6 && e.Name()[len(e.Name())-6:] == ".state" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *Store) saveLocked(target string, st *model.TargetState) error {
	path := s.paths.TargetState(target)
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	s.cache[target] = st
	return nil
}

// writeAtomic writes data to a temp file in the same directory as path,
// fsyncs it, then renames onto path.
func writeAtomic(path string, data []byte) error {
	tmp := path + fmt.Sprintf(".tmp-%d", os.Getpid())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// StartHeartbeat schedules a periodic task (~10s) updating every cached
// target's daemonProcess.lastHeartbeatAt.
func (s *Store) StartHeartbeat(period time.Duration) {
	if period <= 0 {
		period = 10 * time.Second
	}
	s.heartbeatStop = make(chan struct{})
	s.heartbeatWG.Add(1)
	go func() {
		defer s.heartbeatWG.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.beat()
			case <-s.heartbeatStop:
				return
			}
		}
	}()
}

func (s *Store) beat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for target, st := range s.cache {
		st.DaemonProcess.LastHeartbeatAt = now
		if err := s.saveLocked(target, st); err != nil {
			s.logger.Warn("heartbeat save failed", logging.WithField("target", target), logging.WithField("error", err))
		}
	}
}

// StopHeartbeat stops the periodic heartbeat task, waiting for it to exit.
func (s *Store) StopHeartbeat() {
	if s.heartbeatStop == nil {
		return
	}
	close(s.heartbeatStop)
	s.heartbeatWG.Wait()
	s.heartbeatStop = nil
}

// MarkInactive sets daemonProcess.isActive=false for every cached target,
// used during clean shutdown.
func (s *Store) MarkInactive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for target, st := range s.cache {
		st.DaemonProcess.IsActive = false
		if err := s.saveLocked(target, st); err != nil {
			s.logger.Warn("failed to mark inactive", logging.WithField("target", target), logging.WithField("error", err))
		}
	}
}

// HeartbeatStaleAfter is the daemon heartbeat staleness window; it has the
// same value as the Build Lock's own lock.StaleAfter.
const HeartbeatStaleAfter = 60 * time.Second

// IsHeartbeatStale reports whether a TargetState's owning daemon appears
// dead: its pid is not alive on this host, or its heartbeat predates the
// staleness window.
func IsHeartbeatStale(st *model.TargetState, staleAfter time.Duration) bool {
	if !procutil.IsAlive(st.DaemonProcess.PID) {
		return true
	}
	return time.Since(st.DaemonProcess.LastHeartbeatAt) > staleAfter
}
