package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

// Event is one filesystem change, batched with others from the same
// settling window before delivery.
type Event struct {
	Path   string
	Exists bool
	Kind   string // "create", "modify", "remove", "rename"
}

// BatchHandler receives a coalesced batch of events once the service's raw
// coalesce window has elapsed with no further activity.
type BatchHandler func([]Event)

// Service is the abstraction every Target Controller depends on, so the
// backend (fsnotify today, watchman historically) can be swapped freely.
type Service interface {
	Connect() error
	Subscribe(watchPaths, excludePaths []string, settlingDelay time.Duration, handler BatchHandler) error
	Refresh(watchPaths, excludePaths []string) error
	Unsubscribe() error
	Disconnect() error
}

// rawEventCoalesceWindow merges a burst of truly-simultaneous raw filesystem
// events (a single save often produces a WRITE and a CHMOD back to back)
// into one batch before delivery. It is deliberately small and independent
// of any target's configured settling delay: per-target debounce semantics
// belong solely to the Target Controller, which arms its own timer on
// receipt of a batch. If this service re-used settlingDelay as its own
// flush timer too, every build would wait out the debounce window twice.
const rawEventCoalesceWindow = 15 * time.Millisecond

// fsnotifyService recursively watches directories under each configured
// watch path, drops pure-directory events, and coalesces bursts into a
// single batch per rawEventCoalesceWindow.
type fsnotifyService struct {
	logger  logging.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	excludes []string
	handler  BatchHandler
	pending  map[string]Event
	timer    *time.Timer

	done chan struct{}
}

func NewFSNotifyService(log logging.Logger) Service {
	return &fsnotifyService{logger: log, pending: make(map[string]Event)}
}

func (s *fsnotifyService) Connect() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrWatchDisconnected, err)
	}
	s.watcher = w
	s.done = make(chan struct{})
	return nil
}

// Subscribe accepts settlingDelay for interface symmetry with the debounce
// configuration callers already have on hand, but does not use it: this
// service's own flush timer runs on rawEventCoalesceWindow, not the
// caller's settling delay (see its doc comment for why).
func (s *fsnotifyService) Subscribe(watchPaths, excludePaths []string, settlingDelay time.Duration, handler BatchHandler) error {
	if s.watcher == nil {
		return model.ErrWatchDisconnected
	}
	s.mu.Lock()
	s.excludes = append(append([]string{}, DefaultExcludes...), excludePaths...)
	s.handler = handler
	s.mu.Unlock()

	if err := s.addRecursive(watchPaths); err != nil {
		return err
	}
	go s.loop()
	return nil
}

// Refresh re-walks watchPaths, adding any directories not yet watched,
// without a full resubscribe.
func (s *fsnotifyService) Refresh(watchPaths, excludePaths []string) error {
	if s.watcher == nil {
		return model.ErrWatchDisconnected
	}
	return s.addRecursive(watchPaths)
}

func (s *fsnotifyService) addRecursive(roots []string) error {
	for _, root := range roots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // skip unreadable entries rather than aborting the whole walk
			}
			if !info.IsDir() {
				return nil
			}
			rel, _ := filepath.Rel(root, path)
			if rel != "." && Matches(rel, s.excludesSnapshot()) {
				return filepath.SkipDir
			}
			if err := s.watcher.Add(path); err != nil {
				s.logger.Warn("failed to watch directory", logging.WithField("path", path), logging.WithField("error", err))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrWatchDisconnected, err)
		}
	}
	return nil
}

func (s *fsnotifyService) excludesSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.excludes
}

func (s *fsnotifyService) loop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleRaw(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch backend error", logging.WithField("error", err))
		case <-s.done:
			return
		}
	}
}

func (s *fsnotifyService) handleRaw(ev fsnotify.Event) {
	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()
	// Directory-only events are dropped: a created directory is added to the
	// watcher (its subdirectories are not walked), but it never reaches the
	// controller as a build-triggering event.
	if isDir {
		if ev.Op&(fsnotify.Create) != 0 {
			s.watcher.Add(ev.Name)
		}
		return
	}

	if Matches(ev.Name, s.excludesSnapshot()) {
		return
	}

	kind := "modify"
	exists := statErr == nil
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = "create"
	case ev.Op&fsnotify.Remove != 0:
		kind = "remove"
		exists = false
	case ev.Op&fsnotify.Rename != 0:
		kind = "rename"
		exists = false
	case ev.Op&fsnotify.Write != 0:
		kind = "modify"
	}

	s.mu.Lock()
	s.pending[ev.Name] = Event{Path: ev.Name, Exists: exists, Kind: kind}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(rawEventCoalesceWindow, s.flush)
	s.mu.Unlock()
}

func (s *fsnotifyService) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]Event, 0, len(s.pending))
	for _, e := range s.pending {
		batch = append(batch, e)
	}
	s.pending = make(map[string]Event)
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(batch)
	}
}

func (s *fsnotifyService) Unsubscribe() error {
	s.mu.Lock()
	s.handler = nil
	s.pending = make(map[string]Event)
	s.mu.Unlock()
	return nil
}

func (s *fsnotifyService) Disconnect() error {
	if s.done != nil {
		close(s.done)
	}
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
