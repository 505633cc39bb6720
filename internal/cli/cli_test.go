package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/state"
)

func testLogger() logging.Logger {
	return logging.New(&bytes.Buffer{}, "error")
}

func TestColorStatus(t *testing.T) {
	cases := []string{"success", "failure", "building", "idle", "unknown"}
	for _, status := range cases {
		got := colorStatus(status)
		if got == "" {
			t.Errorf("colorStatus(%q) returned empty string", status)
		}
	}
}

func TestGetConfigPathDefaultsUnderRoot(t *testing.T) {
	origRoot, origFile := projectRoot, cfgFile
	defer func() { projectRoot, cfgFile = origRoot, origFile }()

	projectRoot = "/tmp/some-project"
	cfgFile = ""
	got := getConfigPath()
	want := filepath.Join("/tmp/some-project", "poltergeist.config.json")
	if got != want {
		t.Errorf("getConfigPath() = %q, want %q", got, want)
	}

	cfgFile = "/explicit/path.json"
	if got := getConfigPath(); got != cfgFile {
		t.Errorf("getConfigPath() = %q, want explicit %q", got, cfgFile)
	}
}

func TestExitCode(t *testing.T) {
	origExitCode := exitCode
	defer func() { exitCode = origExitCode }()

	exitCode = 0
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
	if got := ExitCode(os.ErrClosed); got != 1 {
		t.Errorf("ExitCode(err) = %d, want 1", got)
	}

	exitCode = 7
	if got := ExitCode(nil); got != 7 {
		t.Errorf("ExitCode(nil) with propagated exit code = %d, want 7", got)
	}
}

func newTestProject(t *testing.T) *project {
	t.Helper()
	root := t.TempDir()
	log := testLogger()
	store, err := state.New(root, filepath.Join(root, "poltergeist.config.json"), log)
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	lockMgr, err := lock.New(root)
	if err != nil {
		t.Fatalf("lock.New: %v", err)
	}
	target := &model.BaseTarget{
		Name:         "app",
		Type:         model.TargetTypeExecutable,
		BuildCommand: "true",
	}
	return &project{
		root:    root,
		targets: []*model.BaseTarget{target},
		store:   store,
		lockMgr: lockMgr,
		log:     log,
	}
}

func TestProjectFind(t *testing.T) {
	p := newTestProject(t)
	if got := p.find("app"); got == nil || got.Name != "app" {
		t.Errorf("find(%q) = %v, want the app target", "app", got)
	}
	if got := p.find("missing"); got != nil {
		t.Errorf("find(%q) = %v, want nil", "missing", got)
	}
}

func TestRunCleanRemovesInactiveState(t *testing.T) {
	p := newTestProject(t)
	if _, err := p.store.Initialize("app", model.TargetTypeExecutable); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := p.store.Update("app", func(st *model.TargetState) {
		st.DaemonProcess.IsActive = false
		st.DaemonProcess.LastHeartbeatAt = time.Now().AddDate(0, 0, -30)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := runClean(p, false, 7, false); err != nil {
		t.Fatalf("runClean: %v", err)
	}
	if _, err := p.store.Read("app"); err == nil {
		t.Error("expected state to be removed after clean, but it still exists")
	}
}

func TestRunCleanDryRunLeavesStateInPlace(t *testing.T) {
	p := newTestProject(t)
	if _, err := p.store.Initialize("app", model.TargetTypeExecutable); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := runClean(p, true, 7, true); err != nil {
		t.Fatalf("runClean: %v", err)
	}
	if _, err := p.store.Read("app"); err != nil {
		t.Errorf("expected state to survive a dry run, got: %v", err)
	}
}
