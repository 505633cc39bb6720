package daemon

import (
	"os"
	"testing"
	"time"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	t.Setenv("POLTERGEIST_STATE_DIR", t.TempDir())
	root := t.TempDir()
	s, err := New(root, root+"/poltergeist.config.json")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestReadWithNoDaemonReturnsNotRunning(t *testing.T) {
	s := newTestSupervisor(t)
	if _, err := s.Read(); err == nil {
		t.Fatal("expected an error reading a nonexistent daemon record")
	}
	if s.IsRunning() {
		t.Fatal("expected IsRunning=false with no daemon record")
	}
}

func TestSpawnFailsWithoutReadinessHandshake(t *testing.T) {
	s := newTestSupervisor(t)
	// Spawn re-invokes os.Args[0]. Pointing it at `false` gives a child that
	// exits immediately without writing to fd 3 (the test binary itself would
	// ignore "daemon-worker" and rerun this suite); Spawn must surface that
	// as a spawn failure rather than hang.
	origArg0 := os.Args[0]
	os.Args[0] = "false"
	defer func() { os.Args[0] = origArg0 }()
	_, err := s.Spawn()
	if err == nil {
		t.Fatal("expected spawn to fail when the child never signals readiness")
	}
}

func TestStopWithNoDaemonReturnsNotRunning(t *testing.T) {
	s := newTestSupervisor(t)
	if err := s.Stop(time.Second); err == nil {
		t.Fatal("expected Stop to fail when no daemon is registered")
	}
}
