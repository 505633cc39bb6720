package schedule

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/state"
)

func newTestHousekeeper(t *testing.T, targets func() []string) *Housekeeper {
	t.Helper()
	t.Setenv("POLTERGEIST_STATE_DIR", t.TempDir())
	root := t.TempDir()

	lockMgr, err := lock.New(root)
	if err != nil {
		t.Fatal(err)
	}
	store, err := state.New(root, root+"/poltergeist.config.json", logging.New(io.Discard, "error"))
	if err != nil {
		t.Fatal(err)
	}
	h, err := New(lockMgr, store, logging.New(io.Discard, "error"), targets)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestStartAndStopRunsWithoutError(t *testing.T) {
	h := newTestHousekeeper(t, func() []string { return nil })
	if err := h.Start(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestSweepLeavesLiveLockAlone(t *testing.T) {
	h := newTestHousekeeper(t, func() []string { return []string{"app"} })

	handle, err := h.lockMgr.TryAcquire("app", "make build")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.Initialize("app", model.TargetTypeExecutable); err != nil {
		t.Fatal(err)
	}

	h.sweep()

	held, err := h.lockMgr.IsHeld("app")
	if err != nil {
		t.Fatal(err)
	}
	if !held {
		t.Fatal("expected sweep to leave a freshly acquired, live lock alone")
	}
	if err := handle.Release(); err != nil {
		t.Fatal(err)
	}
}
