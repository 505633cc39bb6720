package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/internal/eventbus"
	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/metrics"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/state"
)

// PendingBuild is one target's queued build request, ranked by Priority.
type PendingBuild struct {
	Target  string
	Files   []string
	Queued  time.Time
	Priority float64
}

// targetMetrics tracks the rolling signals priority is derived from. One
// copy of this bookkeeping is enough; there is no need for a
// separately-embedded priority engine per queue.
type targetMetrics struct {
	lastDirectChange time.Time
	lastBuildTime    time.Duration
	totalBuilds      int
	successfulBuilds int
}

// Dispatcher runs builds with bounded cross-target parallelism (Run) and
// tracks per-target change and build history. Rank orders targets whose
// files changed most recently (and most reliably) ahead of quieter ones when
// prioritization is enabled; Run itself hands out free slots without
// consulting Rank.
type Dispatcher struct {
	cfg    model.BuildSchedulingConfig
	sem    chan struct{}
	logger logging.Logger

	mu      sync.Mutex
	metrics map[string]*targetMetrics
}

func NewDispatcher(cfg model.BuildSchedulingConfig, log logging.Logger) *Dispatcher {
	n := cfg.Parallelization
	if n <= 0 {
		n = 1
	}
	return &Dispatcher{
		cfg:     cfg,
		sem:     make(chan struct{}, n),
		logger:  log,
		metrics: make(map[string]*targetMetrics),
	}
}

// Rank sorts pending in descending priority order using the prioritization
// config, if enabled; otherwise it preserves queue (FIFO) order.
func (d *Dispatcher) Rank(pending []*PendingBuild) {
	if d.cfg.Prioritization == nil || !d.cfg.Prioritization.Enabled {
		return
	}
	for _, p := range pending {
		p.Priority = d.priority(p.Target)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Priority > pending[j].Priority
	})
}

func (d *Dispatcher) priority(target string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.metrics[target]
	if !ok {
		return 50.0
	}
	p := 50.0
	window := time.Duration(d.cfg.Prioritization.FocusDetectionWindow) * time.Millisecond
	if window > 0 && time.Since(m.lastDirectChange) < window {
		p += 30.0
	}
	if m.totalBuilds > 0 {
		successRate := float64(m.successfulBuilds) / float64(m.totalBuilds)
		p *= 0.5 + successRate*0.5
	}
	switch {
	case m.lastBuildTime > 0 && m.lastBuildTime < 5*time.Second:
		p += 10.0
	case m.lastBuildTime > 30*time.Second:
		p -= 10.0
	}
	return p
}

// RecordChange stamps target's lastDirectChange, used by Rank's recency factor.
func (d *Dispatcher) RecordChange(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.metricsFor(target)
	m.lastDirectChange = time.Now()
}

// RecordOutcome folds a finished build's duration and success into target's
// rolling metrics.
func (d *Dispatcher) RecordOutcome(target string, duration time.Duration, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.metricsFor(target)
	m.lastBuildTime = duration
	m.totalBuilds++
	if success {
		m.successfulBuilds++
	}
}

func (d *Dispatcher) metricsFor(target string) *targetMetrics {
	m, ok := d.metrics[target]
	if !ok {
		m = &targetMetrics{}
		d.metrics[target] = m
	}
	return m
}

// Run executes fn under the dispatcher's bounded-parallelism semaphore,
// blocking until a slot is free or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, fn func()) error {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.sem }()
	fn()
	return nil
}

// RunBuild is the per-target build execution path shared by every
// Controller: acquire the build lock, run the builder, persist the outcome,
// release the lock, and feed the outcome back into dispatcher metrics.
// recorder and bus are both optional (nil-safe) observers: RunBuild never
// behaves differently depending on whether they are wired up.
func RunBuild(ctx context.Context, ctl *Controller, lm *lock.Manager, store *state.Store, dispatcher *Dispatcher, recorder *metrics.Recorder, bus *eventbus.Bus, projectName string, files []string) {
	target := ctl.Target()
	handle, err := lm.TryAcquire(target.Name, target.BuildCommand)
	if err != nil {
		if errors.Is(err, model.ErrLockHeld) && recorder != nil {
			recorder.RecordLockContention(target.Name)
		}
		return
	}
	stop := make(chan struct{})
	handle.StartHeartbeat(5*time.Second, stop)
	defer close(stop)
	defer handle.Release()

	if recorder != nil {
		recorder.RecordBuildStart()
	}
	outcome, _ := ctl.Builder().Run(ctx, files)
	if recorder != nil {
		recorder.RecordBuildEnd(target.Name, string(outcome.Status), float64(outcome.DurationMs)/1000.0)
	}
	store.RecordBuildOutcome(target.Name, outcome)
	if outcome.Status == model.BuildStatusSuccess && target.OutputPath != "" {
		recordArtifact(store, ctl.ProjectRoot(), target)
	}
	dispatcher.RecordOutcome(target.Name, time.Duration(outcome.DurationMs)*time.Millisecond, outcome.Status == model.BuildStatusSuccess)
	bus.PublishBuildOutcome(projectName, target.Name, outcome)
}

// recordArtifact resolves target.OutputPath to an absolute path and persists
// it as the target's artifactInfo, so consumers like polter can trust state
// over recomputing a search from target.OutputPath themselves.
func recordArtifact(store *state.Store, projectRoot string, target *model.BaseTarget) {
	outputPath := target.OutputPath
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(projectRoot, outputPath)
	}
	store.Update(target.Name, func(st *model.TargetState) {
		st.ArtifactInfo = &model.ArtifactInfo{OutputPath: outputPath, BundleID: target.BundleID}
	})
}
