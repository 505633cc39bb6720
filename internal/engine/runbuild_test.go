package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/metrics"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/state"
)

func newRunBuildFixture(t *testing.T) (*Controller, *lock.Manager, *state.Store) {
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
	target := &model.BaseTarget{Name: "app", Type: model.TargetTypeExecutable, BuildCommand: "true", WatchPaths: []string{"."}}
	ctl := NewController(target, root, store, log)
	return ctl, lockMgr, store
}

func TestRunBuildRecordsMetricsAndPublishesOutcome(t *testing.T) {
	ctl, lockMgr, store := newRunBuildFixture(t)
	dispatcher := NewDispatcher(model.BuildSchedulingConfig{Parallelization: 1}, logging.New(io.Discard, "error"))
	recorder := metrics.NewRecorder()

	// A nil *eventbus.Bus is the normal "no NATS configured" case; RunBuild
	// must not panic when publishing to it.
	RunBuild(context.Background(), ctl, lockMgr, store, dispatcher, recorder, nil, "myproject", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()
	if !strings.Contains(body, "poltergeist_build_outcomes_total") {
		t.Errorf("expected build outcome to be recorded, got body:\n%s", body)
	}
	if !strings.Contains(body, `target="app"`) {
		t.Errorf("expected metrics labeled with target name, got body:\n%s", body)
	}

	st, err := store.Read("app")
	if err != nil {
		t.Fatalf("store.Read: %v", err)
	}
	if st.LastBuild == nil {
		t.Fatal("expected RunBuild to persist a build outcome")
	}
}

func TestRunBuildRecordsArtifactInfoOnSuccess(t *testing.T) {
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
	target := &model.BaseTarget{Name: "app", Type: model.TargetTypeExecutable, BuildCommand: "true", WatchPaths: []string{"."}, OutputPath: "app-bin"}
	ctl := NewController(target, root, store, log)
	dispatcher := NewDispatcher(model.BuildSchedulingConfig{Parallelization: 1}, log)

	RunBuild(context.Background(), ctl, lockMgr, store, dispatcher, nil, nil, "myproject", nil)

	st, err := store.Read("app")
	if err != nil {
		t.Fatalf("store.Read: %v", err)
	}
	if st.ArtifactInfo == nil || st.ArtifactInfo.OutputPath == "" {
		t.Fatal("expected a successful build to record artifactInfo.outputPath")
	}
	if want := filepath.Join(root, "app-bin"); st.ArtifactInfo.OutputPath != want {
		t.Fatalf("expected outputPath %s, got %s", want, st.ArtifactInfo.OutputPath)
	}
}

func TestRunBuildRecordsLockContention(t *testing.T) {
	ctl, lockMgr, store := newRunBuildFixture(t)
	dispatcher := NewDispatcher(model.BuildSchedulingConfig{Parallelization: 1}, logging.New(io.Discard, "error"))
	recorder := metrics.NewRecorder()

	handle, err := lockMgr.TryAcquire("app", "true")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	defer handle.Release()

	// The lock is already held, so RunBuild must observe the contention and
	// record it rather than running the build.
	RunBuild(context.Background(), ctl, lockMgr, store, dispatcher, recorder, nil, "myproject", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "poltergeist_lock_contention_total") {
		t.Errorf("expected lock contention to be recorded, got body:\n%s", rec.Body.String())
	}
}
