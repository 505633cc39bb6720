// Package lock implements the Build Lock: a per-target, ephemeral advisory
// lock that prevents two processes from building the same target
// concurrently. A PID-file-plus-mutex design is the common approach for
// this, but this version uses os.Link for atomic, no-replace "create if
// absent" semantics, since Go's os package has no portable O_EXCL-on-rename
// primitive (see DESIGN.md).
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/paths"
	"github.com/poltergeist/poltergeist/internal/procutil"
)

// StaleAfter is the heartbeat staleness window.
const StaleAfter = 60 * time.Second

// Handle represents a held lock; call Release or keep calling Heartbeat
// while the build is in progress.
type Handle struct {
	path   string
	target string
	mu     sync.Mutex
}

// Manager resolves and manipulates lock files for one project.
type Manager struct {
	paths *paths.Paths
}

func New(projectRoot string) (*Manager, error) {
	p, err := paths.New(projectRoot)
	if err != nil {
		return nil, err
	}
	return &Manager{paths: p}, nil
}

// TryAcquire attempts to take the lock for target. It fails with
// model.ErrLockHeld if a live, non-stale lock already exists.
func (m *Manager) TryAcquire(target, command string) (*Handle, error) {
	path := m.paths.BuildLock(target)

	if held, err := m.IsHeld(target); err != nil {
		return nil, err
	} else if held {
		return nil, fmt.Errorf("%w: target %q", model.ErrLockHeld, target)
	}
	// A stale lock may still be on disk; clear it before attempting the
	// atomic create below.
	os.Remove(path)

	hostname, _ := os.Hostname()
	now := time.Now()
	rec := model.BuildLock{
		SchemaVersion:   model.SchemaVersion,
		PID:             os.Getpid(),
		Hostname:        hostname,
		Target:          target,
		AcquiredAt:      now,
		LastHeartbeatAt: now,
		Command:         command,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}

	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	defer os.Remove(tmp)

	// os.Link fails with ErrExist if path already exists, giving us an
	// atomic create-if-absent primitive that a plain Rename lacks.
	if err := os.Link(tmp, path); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: target %q", model.ErrLockHeld, target)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return &Handle{path: path, target: target}, nil
}

// IsHeld reports whether target is currently locked by a live, non-stale
// owner. A lock whose owner is dead or whose heartbeat has gone stale is
// reported as not held (the caller may then steal it).
func (m *Manager) IsHeld(target string) (bool, error) {
	rec, err := m.read(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if m.isStale(rec) {
		return false, nil
	}
	return true, nil
}

func (m *Manager) isStale(rec *model.BuildLock) bool {
	if !procutil.IsAlive(rec.PID) {
		return true
	}
	return time.Since(rec.LastHeartbeatAt) > StaleAfter
}

func (m *Manager) read(target string) (*model.BuildLock, error) {
	data, err := os.ReadFile(m.paths.BuildLock(target))
	if err != nil {
		return nil, err
	}
	var rec model.BuildLock
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCorrupt, err)
	}
	return &rec, nil
}

// Heartbeat refreshes lastHeartbeatAt on an already-held lock.
func (h *Handle) Heartbeat() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	var rec model.BuildLock
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCorrupt, err)
	}
	rec.LastHeartbeatAt = time.Now()
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(h.path, out, 0o644)
}

// StartHeartbeat runs Heartbeat on a ticker until stop is closed.
func (h *Handle) StartHeartbeat(period time.Duration, stop <-chan struct{}) {
	if period <= 0 {
		period = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Heartbeat()
			case <-stop:
				return
			}
		}
	}()
}

// Release removes the lock file, freeing the target for the next build.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return nil
}

// ForceUnlock removes a target's lock file unconditionally (used by the
// `clean` command and manual operator intervention).
func (m *Manager) ForceUnlock(target string) error {
	if err := os.Remove(m.paths.BuildLock(target)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return nil
}
