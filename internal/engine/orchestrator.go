// Orchestrator owns every running target's Controller, the shared Watch
// Service subscription, and the State Store, and applies ConfigDelta values
// produced by a hot config reload without a full daemon restart. Its
// start/Stop lifecycle is generalized to support adding and removing
// targets at runtime instead of only at startup.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/internal/eventbus"
	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/metrics"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/paths"
	"github.com/poltergeist/poltergeist/internal/state"
	"github.com/poltergeist/poltergeist/internal/watch"
)

// Orchestrator wires the Watch Service to per-target Controllers and runs
// builds through the Dispatcher.
type Orchestrator struct {
	projectRoot string
	logger      logging.Logger
	store       *state.Store
	lockMgr     *lock.Manager
	watcher     watch.Service
	dispatcher  *Dispatcher
	recorder    *metrics.Recorder
	bus         *eventbus.Bus

	mu          sync.Mutex
	controllers map[string]*Controller
	ctx         context.Context
	cancel      context.CancelFunc
	sg          *SafeGroup
}

func NewOrchestrator(projectRoot string, store *state.Store, lockMgr *lock.Manager, watcher watch.Service, schedulingCfg model.BuildSchedulingConfig, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		projectRoot: projectRoot,
		logger:      log,
		store:       store,
		lockMgr:     lockMgr,
		watcher:     watcher,
		dispatcher:  NewDispatcher(schedulingCfg, log),
		controllers: make(map[string]*Controller),
	}
}

// WithObservability attaches the optional Prometheus recorder and event bus
// integrations. Both are nil-safe; an Orchestrator that never calls this
// records nothing and publishes nothing.
func (o *Orchestrator) WithObservability(recorder *metrics.Recorder, bus *eventbus.Bus) *Orchestrator {
	o.recorder = recorder
	o.bus = bus
	return o
}

// Start connects the watch backend and brings up a Controller for each
// enabled target, performing one initial build per target.
func (o *Orchestrator) Start(ctx context.Context, targets []*model.BaseTarget) error {
	o.mu.Lock()
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.sg, _ = NewSafeGroup(o.ctx, o.logger)
	o.mu.Unlock()

	if err := o.watcher.Connect(); err != nil {
		return err
	}

	for _, t := range targets {
		if !t.IsEnabled() {
			continue
		}
		if err := o.addTarget(t); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) addTarget(t *model.BaseTarget) error {
	if _, err := o.store.Initialize(t.Name, t.Type); err != nil {
		return err
	}
	ctl := NewController(t, o.projectRoot, o.store, o.logger)

	o.mu.Lock()
	o.controllers[t.Name] = ctl
	o.mu.Unlock()

	handler := o.batchHandler(t.Name, ctl)
	delay := time.Duration(t.GetSettlingDelayMs()) * time.Millisecond
	if err := o.watcher.Subscribe(t.WatchPaths, t.ExcludePaths, delay, handler); err != nil {
		return fmt.Errorf("subscribe target %q: %w", t.Name, err)
	}

	o.sg.Go(func() error {
		o.runBuild(ctl, nil)
		return nil
	})
	return nil
}

func (o *Orchestrator) batchHandler(targetName string, ctl *Controller) watch.BatchHandler {
	return func(events []watch.Event) {
		var files []string
		for _, e := range events {
			if e.Exists {
				files = append(files, e.Path)
			}
		}
		if len(files) == 0 {
			return
		}
		// Events for a controller that removeTarget has dropped are ignored.
		o.mu.Lock()
		current := o.controllers[targetName]
		o.mu.Unlock()
		if current != ctl {
			return
		}
		if o.recorder != nil {
			o.recorder.RecordWatchEvent(targetName)
		}
		o.dispatcher.RecordChange(targetName)
		ctl.OnFilesChanged(o.ctx, files, func(ctx context.Context, files []string) {
			o.runBuild(ctl, files)
		})
	}
}

func (o *Orchestrator) runBuild(ctl *Controller, files []string) {
	projectName := paths.ProjectName(o.projectRoot)
	o.dispatcher.Run(o.ctx, func() {
		RunBuild(o.ctx, ctl, o.lockMgr, o.store, o.dispatcher, o.recorder, o.bus, projectName, files)
	})
}

// ApplyDelta hot-reloads a config change: removed targets are cancelled and
// their watch events ignored from then on, added targets get a fresh
// Controller and initial build, and modified targets are torn down and, if
// still enabled, re-added with a fresh Controller.
func (o *Orchestrator) ApplyDelta(delta model.ConfigDelta) error {
	for _, t := range delta.Removed {
		o.removeTarget(t.Name)
	}
	for _, t := range delta.Modified {
		o.removeTarget(t.Name)
		if !t.IsEnabled() {
			continue
		}
		if err := o.addTarget(t); err != nil {
			return err
		}
	}
	for _, t := range delta.Added {
		if !t.IsEnabled() {
			continue
		}
		if err := o.addTarget(t); err != nil {
			return err
		}
	}
	return nil
}

// removeTarget cancels a target's controller and drops it from the managed
// set (so batchHandler ignores its later watch events) without
// touching its persisted TargetState: a hot reload (target removed from
// config, or modified and re-added) must not discard lastBuild/buildStats/
// artifactInfo history. Only the `clean` command deletes state.
func (o *Orchestrator) removeTarget(name string) {
	o.mu.Lock()
	ctl, ok := o.controllers[name]
	delete(o.controllers, name)
	o.mu.Unlock()
	if !ok {
		return
	}
	ctl.Cancel()
}

// Stop cancels every in-flight build, disconnects the watch backend, and
// waits for outstanding goroutines to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	for _, ctl := range o.controllers {
		ctl.Cancel()
	}
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.watcher.Unsubscribe()
	o.watcher.Disconnect()
	if o.sg != nil {
		o.sg.Wait()
	}
	o.store.MarkInactive()
}

// Controllers returns a snapshot of the currently managed Controllers, keyed
// by target name.
func (o *Orchestrator) Controllers() map[string]*Controller {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*Controller, len(o.controllers))
	for k, v := range o.controllers {
		out[k] = v
	}
	return out
}
