package engine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/state"
	"github.com/poltergeist/poltergeist/internal/watch"
)

type fakeWatcher struct {
	mu          sync.Mutex
	connected   bool
	subscribed  map[string]watch.BatchHandler
	unsubscribe int
	disconnect  int
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{subscribed: make(map[string]watch.BatchHandler)}
}

func (w *fakeWatcher) Connect() error {
	w.connected = true
	return nil
}

func (w *fakeWatcher) Subscribe(watchPaths, excludePaths []string, settlingDelay time.Duration, handler watch.BatchHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(watchPaths) > 0 {
		w.subscribed[watchPaths[0]] = handler
	}
	return nil
}

func (w *fakeWatcher) Refresh(watchPaths, excludePaths []string) error { return nil }

func (w *fakeWatcher) Unsubscribe() error {
	w.unsubscribe++
	return nil
}

func (w *fakeWatcher) Disconnect() error {
	w.disconnect++
	return nil
}

func (w *fakeWatcher) trigger(watchPath string, events []watch.Event) {
	w.mu.Lock()
	handler := w.subscribed[watchPath]
	w.mu.Unlock()
	if handler != nil {
		handler(events)
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeWatcher) {
	t.Helper()
	t.Setenv("POLTERGEIST_STATE_DIR", t.TempDir())
	root := t.TempDir()
	log := logging.New(io.Discard, "error")
	store, err := state.New(root, "", log)
	if err != nil {
		t.Fatal(err)
	}
	lockMgr, err := lock.New(root)
	if err != nil {
		t.Fatal(err)
	}
	watcher := newFakeWatcher()
	orch := NewOrchestrator(root, store, lockMgr, watcher, model.BuildSchedulingConfig{Parallelization: 2}, log)
	return orch, watcher
}

func TestOrchestratorStartRunsInitialBuildPerEnabledTarget(t *testing.T) {
	orch, watcher := newTestOrchestrator(t)
	disabled := false
	targets := []*model.BaseTarget{
		{Name: "app", Type: model.TargetTypeExecutable, BuildCommand: "true", WatchPaths: []string{"."}},
		{Name: "skipped", Type: model.TargetTypeExecutable, BuildCommand: "true", WatchPaths: []string{"."}, Enabled: &disabled},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.Start(ctx, targets); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer orch.Stop()

	if !watcher.connected {
		t.Error("expected Start to connect the watcher")
	}

	controllers := orch.Controllers()
	if _, ok := controllers["app"]; !ok {
		t.Error("expected a controller for the enabled target")
	}
	if _, ok := controllers["skipped"]; ok {
		t.Error("did not expect a controller for the disabled target")
	}
}

func TestOrchestratorApplyDeltaAddsAndRemovesTargets(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.Start(ctx, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer orch.Stop()

	added := &model.BaseTarget{Name: "new", Type: model.TargetTypeExecutable, BuildCommand: "true", WatchPaths: []string{"."}}
	if err := orch.ApplyDelta(model.ConfigDelta{Added: []*model.BaseTarget{added}}); err != nil {
		t.Fatalf("ApplyDelta add: %v", err)
	}
	if _, ok := orch.Controllers()["new"]; !ok {
		t.Fatal("expected controller for newly added target")
	}

	if err := orch.ApplyDelta(model.ConfigDelta{Removed: []*model.BaseTarget{added}}); err != nil {
		t.Fatalf("ApplyDelta remove: %v", err)
	}
	if _, ok := orch.Controllers()["new"]; ok {
		t.Fatal("expected controller to be gone after removal")
	}
}

func TestOrchestratorApplyDeltaPreservesStateAcrossRemoval(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := &model.BaseTarget{Name: "app", Type: model.TargetTypeExecutable, BuildCommand: "true", WatchPaths: []string{"."}}
	if err := orch.Start(ctx, []*model.BaseTarget{target}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer orch.Stop()

	outcome := model.BuildOutcome{Status: model.BuildStatusSuccess}
	if _, err := orch.store.RecordBuildOutcome("app", outcome); err != nil {
		t.Fatalf("RecordBuildOutcome: %v", err)
	}

	if err := orch.ApplyDelta(model.ConfigDelta{Removed: []*model.BaseTarget{target}}); err != nil {
		t.Fatalf("ApplyDelta remove: %v", err)
	}

	st, err := orch.store.Read("app")
	if err != nil {
		t.Fatalf("expected state to survive removal, got err: %v", err)
	}
	if st.LastBuild == nil || st.LastBuild.Status != model.BuildStatusSuccess {
		t.Fatalf("expected lastBuild history to survive removal, got %+v", st.LastBuild)
	}
}

func TestOrchestratorStopDisconnectsWatcher(t *testing.T) {
	orch, watcher := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.Start(ctx, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	orch.Stop()

	if watcher.unsubscribe == 0 || watcher.disconnect == 0 {
		t.Error("expected Stop to unsubscribe and disconnect the watcher")
	}
}
