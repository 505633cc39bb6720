// Package daemon implements the Daemon Supervisor: detaching a background
// worker process, confirming it came up via a readiness handshake, and
// gating a single daemon per project. The worker is detached in its own
// session (Setsid) and stopped with SIGTERM, a grace period, then SIGKILL.
// Since this daemon re-invokes its own binary in a child worker mode, a
// readiness handshake is layered on via an os.Pipe the child writes
// "READY\n" to once its Orchestrator has started. Singleton gating holds a
// gofrs/flock lock beside DaemonInfo while checking whether the registered
// pid is alive, spawning, and writing the record; the DaemonInfo file itself
// is written with temp-file-then-rename, which replaces any existing file
// rather than failing when one exists.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/paths"
	"github.com/poltergeist/poltergeist/internal/procutil"
)

// readyTimeout bounds how long Spawn waits for the child's readiness
// handshake before declaring the spawn failed.
const readyTimeout = 10 * time.Second

// Supervisor spawns and supervises the detached worker process for one
// project.
type Supervisor struct {
	paths       *paths.Paths
	projectRoot string
	configPath  string
}

func New(projectRoot, configPath string) (*Supervisor, error) {
	p, err := paths.New(projectRoot)
	if err != nil {
		return nil, err
	}
	return &Supervisor{paths: p, projectRoot: projectRoot, configPath: configPath}, nil
}

// flockPath returns the gofrs/flock hardening lock alongside DaemonInfo,
// serializing concurrent Spawn calls from two CLI invocations racing to
// become the daemon for the same project.
func (s *Supervisor) flockPath() string {
	return s.paths.DaemonInfo() + ".flock"
}

// Spawn detaches a new worker process (re-invoking os.Args[0] with the
// hidden "daemon-worker" subcommand), waits for its readiness handshake,
// and persists DaemonInfo. It fails with model.ErrDaemonAlreadyRunning if a
// live daemon is already registered for this project.
func (s *Supervisor) Spawn(extraArgs ...string) (*model.DaemonInfo, error) {
	fl := flock.New(s.flockPath())
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	defer fl.Unlock()

	if info, err := s.Read(); err == nil && procutil.IsAlive(info.PID) {
		return nil, fmt.Errorf("%w: pid %d", model.ErrDaemonAlreadyRunning, info.PID)
	}

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	defer readyR.Close()

	logPath := s.paths.DaemonLog()
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		readyW.Close()
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	defer logFile.Close()

	// Absolute paths, since the worker runs with cmd.Dir = projectRoot.
	absRoot, rootErr := filepath.Abs(s.projectRoot)
	absConfig, configErr := filepath.Abs(s.configPath)
	if rootErr != nil || configErr != nil {
		readyW.Close()
		return nil, fmt.Errorf("%w: cannot resolve project root or config path", model.ErrIO)
	}
	args := append([]string{"daemon-worker", "--root", absRoot, "--config", absConfig}, extraArgs...)
	cmd := exec.Command(os.Args[0], args...)
	cmd.Dir = s.projectRoot
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.ExtraFiles = []*os.File{readyW}
	// Setsid fully detaches the worker from this CLI's session, so it
	// survives the parent exiting immediately after the handshake.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		readyW.Close()
		return nil, fmt.Errorf("%w: %v", model.ErrSpawnFailed, err)
	}
	readyW.Close()

	if err := waitReady(readyR, readyTimeout); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("%w: %v", model.ErrSpawnFailed, err)
	}

	hostname, _ := os.Hostname()
	info := &model.DaemonInfo{
		SchemaVersion: model.SchemaVersion,
		PID:           cmd.Process.Pid,
		Hostname:      hostname,
		StartedAt:     time.Now(),
		LogFile:       logPath,
		ProjectRoot:   s.projectRoot,
		ConfigPath:    s.configPath,
	}
	if err := s.write(info); err != nil {
		syscall.Kill(cmd.Process.Pid, syscall.SIGTERM)
		return nil, err
	}
	// The child now owns its own lifecycle; releasing it here avoids
	// leaving a zombie once it exits.
	go cmd.Process.Release()
	return info, nil
}

func waitReady(r *os.File, timeout time.Duration) error {
	buf := make([]byte, 16)
	done := make(chan struct{})
	var n int
	var readErr error
	go func() {
		n, readErr = r.Read(buf)
		close(done)
	}()
	select {
	case <-done:
		if readErr != nil || n == 0 {
			return fmt.Errorf("worker exited before signaling readiness")
		}
		if string(buf[:n]) != "READY\n" {
			return fmt.Errorf("unexpected readiness message %q", buf[:n])
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for readiness handshake")
	}
}

// SignalReady is called by the worker process once its Orchestrator has
// started, writing to fd 3 (the pipe the parent passed via ExtraFiles).
func SignalReady() {
	if len(os.Args) == 0 {
		return
	}
	f := os.NewFile(3, "ready-pipe")
	if f == nil {
		return
	}
	defer f.Close()
	f.Write([]byte("READY\n"))
}

// Read loads the persisted DaemonInfo for this project, if any.
func (s *Supervisor) Read() (*model.DaemonInfo, error) {
	data, err := os.ReadFile(s.paths.DaemonInfo())
	if os.IsNotExist(err) {
		return nil, model.ErrDaemonNotRunning
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	var info model.DaemonInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCorrupt, err)
	}
	return &info, nil
}

func (s *Supervisor) write(info *model.DaemonInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.paths.DaemonInfo() + fmt.Sprintf(".tmp-%d", os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	if err := os.Rename(tmp, s.paths.DaemonInfo()); err != nil {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return nil
}

// Stop sends SIGTERM to the registered daemon, waits up to grace, escalates
// to SIGKILL, and removes DaemonInfo.
func (s *Supervisor) Stop(grace time.Duration) error {
	info, err := s.Read()
	if err != nil {
		return err
	}
	if !procutil.IsAlive(info.PID) {
		os.Remove(s.paths.DaemonInfo())
		return fmt.Errorf("%w: stale daemon record removed", model.ErrDaemonNotRunning)
	}
	if err := procutil.Terminate(info.PID, false, grace); err != nil {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return os.Remove(s.paths.DaemonInfo())
}

// IsRunning reports whether a live daemon is registered for this project.
func (s *Supervisor) IsRunning() bool {
	info, err := s.Read()
	if err != nil {
		return false
	}
	return procutil.IsAlive(info.PID)
}
