// Package engine implements the Target Controller, Build Dispatcher, and
// Orchestrator: the per-target state machine that turns batched
// file-change events into builds, and the cross-target scheduling that
// runs them. A pending-file map plus a single time.AfterFunc reset on every
// change is the simplest version of this; this package generalizes that
// into an explicit Idle/Pending/Building machine with next-pending
// coalescing, so a change arriving mid-build schedules exactly one
// follow-up build, not one per file.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/internal/builder"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/state"
)

// ControllerState is the Target Controller's state machine position.
type ControllerState int

const (
	StateIdle ControllerState = iota
	StatePending
	StateBuilding
)

func (s ControllerState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBuilding:
		return "building"
	default:
		return "idle"
	}
}

// Controller owns one target's build lifecycle: coalescing file-change
// batches behind a settling delay, running at most one build at a time, and
// immediately re-queuing a single follow-up build if changes arrive while
// one is in flight.
type Controller struct {
	target      *model.BaseTarget
	projectRoot string
	build       *builder.Builder
	store       *state.Store
	logger      logging.Logger

	mu           sync.Mutex
	st           ControllerState
	pendingFiles map[string]struct{}
	timer        *time.Timer
	nextPending  bool
	cancelBuild  context.CancelFunc
}

func NewController(target *model.BaseTarget, projectRoot string, store *state.Store, log logging.Logger) *Controller {
	return &Controller{
		target:       target,
		projectRoot:  projectRoot,
		build:        builder.New(target, projectRoot, log),
		store:        store,
		logger:       log.WithTarget(target.Name),
		st:           StateIdle,
		pendingFiles: make(map[string]struct{}),
	}
}

// State returns the controller's current machine position.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// OnFilesChanged records changed files and (re)starts the settling timer. A
// change arriving while a build is already running just flags nextPending,
// so exactly one follow-up build runs once the current one finishes.
func (c *Controller) OnFilesChanged(ctx context.Context, files []string, runBuild func(ctx context.Context, files []string)) {
	c.mu.Lock()
	for _, f := range files {
		c.pendingFiles[f] = struct{}{}
	}

	if c.st == StateBuilding {
		c.nextPending = true
		c.mu.Unlock()
		return
	}

	c.st = StatePending
	delay := time.Duration(c.target.GetSettlingDelayMs()) * time.Millisecond
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		c.startBuild(ctx, runBuild)
	})
	c.mu.Unlock()
}

func (c *Controller) startBuild(ctx context.Context, runBuild func(ctx context.Context, files []string)) {
	c.mu.Lock()
	if c.st == StateBuilding {
		c.mu.Unlock()
		return
	}
	files := make([]string, 0, len(c.pendingFiles))
	for f := range c.pendingFiles {
		files = append(files, f)
	}
	c.pendingFiles = make(map[string]struct{})
	c.st = StateBuilding
	buildCtx, cancel := context.WithCancel(ctx)
	c.cancelBuild = cancel
	c.mu.Unlock()

	runBuild(buildCtx, files)

	c.mu.Lock()
	c.cancelBuild = nil
	if c.nextPending {
		c.nextPending = false
		c.st = StatePending
		delay := time.Duration(c.target.GetSettlingDelayMs()) * time.Millisecond
		c.timer = time.AfterFunc(delay, func() {
			c.startBuild(ctx, runBuild)
		})
	} else {
		c.st = StateIdle
	}
	c.mu.Unlock()
}

// Cancel aborts any in-flight build's context, used when a config reload
// removes this target.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancelBuild != nil {
		c.cancelBuild()
	}
}

// Builder exposes the underlying Builder so the dispatcher can run it.
func (c *Controller) Builder() *builder.Builder { return c.build }

// Target exposes the controller's target definition.
func (c *Controller) Target() *model.BaseTarget { return c.target }

// ProjectRoot exposes the project root the controller's builder runs
// relative to, used to resolve a successful build's outputPath to an
// absolute artifactInfo.outputPath.
func (c *Controller) ProjectRoot() string { return c.projectRoot }
