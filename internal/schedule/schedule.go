// Package schedule runs the daemon's periodic housekeeping: stale build-lock
// reclamation and a debug-level report of inactive-target state (the state
// itself is not deleted). Grounded on
// inful-docbuilder/internal/daemon/scheduler.go's periodic-task-execution
// design (a named set of jobs ticking independently of the watch/build
// path), reimplemented against the real go-co-op/gocron/v2 scheduler
// instead of docbuilder's hand-rolled ticker-plus-switch-statement, since
// nothing here needs docbuilder's cron/interval/once expression language -
// one fixed-interval job covers the daemon's housekeeping needs.
package schedule

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/state"
)

// DefaultCleanInterval is how often the housekeeping jobs run.
const DefaultCleanInterval = 5 * time.Minute

// Housekeeper periodically reclaims stale locks so a project's lock
// directory does not accumulate orphaned lock files from crashed builds. It
// logs (at debug level) targets whose state belongs to an inactive, dead
// daemon, but leaves that state file in place.
type Housekeeper struct {
	scheduler gocron.Scheduler
	lockMgr   *lock.Manager
	store     *state.Store
	logger    logging.Logger
	targets   func() []string
}

// New constructs a Housekeeper. targets returns the current set of target
// names to sweep; it is called fresh on every tick so added/removed targets
// are picked up without restarting the scheduler.
func New(lockMgr *lock.Manager, store *state.Store, log logging.Logger, targets func() []string) (*Housekeeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Housekeeper{scheduler: s, lockMgr: lockMgr, store: store, logger: log, targets: targets}, nil
}

// Start schedules the housekeeping jobs and begins running them in the
// background; it returns once the jobs are registered, not once they've run.
func (h *Housekeeper) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCleanInterval
	}
	_, err := h.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(h.sweep),
	)
	if err != nil {
		return err
	}
	h.scheduler.Start()
	return nil
}

// Stop shuts down the scheduler, waiting for any in-flight job to finish.
func (h *Housekeeper) Stop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- h.scheduler.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweep reclaims stale locks for every known target and logs, without
// removing it, any state whose daemon is inactive and stale.
func (h *Housekeeper) sweep() {
	for _, target := range h.targets() {
		if held, err := h.lockMgr.IsHeld(target); err == nil && !held {
			_ = h.lockMgr.ForceUnlock(target) // clears any stale lock file IsHeld just found reclaimable
		}
		st, err := h.store.Read(target)
		if err != nil {
			continue
		}
		if !st.DaemonProcess.IsActive && state.IsHeartbeatStale(st, state.HeartbeatStaleAfter) {
			h.logger.Debug("found state for inactive target", logging.WithField("target", target))
		}
	}
}
