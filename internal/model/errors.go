package model

import "errors"

// Sentinel errors shared across packages. Library code returns these
// (wrapped with context via %w); only the CLI layer translates them to user
// messages and exit codes.
var (
	ErrConfigInvalid      = errors.New("configuration invalid")
	ErrIO                 = errors.New("io error")
	ErrLockHeld           = errors.New("build lock held")
	ErrBuildFailed        = errors.New("build failed")
	ErrBuildTimeout       = errors.New("build timed out")
	ErrSpawnFailed        = errors.New("failed to spawn build process")
	ErrWatchDisconnected  = errors.New("watch backend disconnected")
	ErrDaemonAlreadyRunning = errors.New("daemon already running")
	ErrDaemonNotRunning     = errors.New("daemon not running")
	ErrCorrupt              = errors.New("record corrupt")
	ErrNotFound             = errors.New("not found")
)
