package model

import "encoding/json"

// LogLevel is the accepted set of logging.level values.
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

// WatchmanConfig tunes the Watch Service backend.
type WatchmanConfig struct {
	UseDefaultExclusions bool     `json:"useDefaultExclusions" yaml:"useDefaultExclusions"`
	ExcludeDirs          []string `json:"excludeDirs,omitempty" yaml:"excludeDirs,omitempty"`
	MaxFileEvents        int      `json:"maxFileEvents,omitempty" yaml:"maxFileEvents,omitempty"`
	RecrawlThreshold     int      `json:"recrawlThreshold,omitempty" yaml:"recrawlThreshold,omitempty"`
	SettlingDelay        int      `json:"settlingDelay,omitempty" yaml:"settlingDelay,omitempty"`
}

// BuildPrioritization is the optional focus-based scheduling tuning.
type BuildPrioritization struct {
	Enabled                bool    `json:"enabled" yaml:"enabled"`
	FocusDetectionWindow   int     `json:"focusDetectionWindow" yaml:"focusDetectionWindow"`
	PriorityDecayTime      int     `json:"priorityDecayTime" yaml:"priorityDecayTime"`
	BuildTimeoutMultiplier float64 `json:"buildTimeoutMultiplier" yaml:"buildTimeoutMultiplier"`
}

// BuildSchedulingConfig controls cross-target concurrency.
type BuildSchedulingConfig struct {
	Parallelization int                  `json:"parallelization" yaml:"parallelization"`
	Prioritization  *BuildPrioritization `json:"prioritization,omitempty" yaml:"prioritization,omitempty"`
}

// NotificationConfig is read by the Notifier shim (internal/notifier); the
// daemon does not call that shim, and no delivery mechanism is implemented
// here.
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	File  string   `json:"file,omitempty" yaml:"file,omitempty"`
	Level LogLevel `json:"level,omitempty" yaml:"level,omitempty"`
}

// Config is the top-level parsed configuration document.
type Config struct {
	Version         string                 `json:"version" yaml:"version"`
	ProjectType     string                 `json:"projectType,omitempty" yaml:"projectType,omitempty"`
	Targets         []json.RawMessage      `json:"targets" yaml:"targets"`
	Watchman        *WatchmanConfig        `json:"watchman,omitempty" yaml:"watchman,omitempty"`
	BuildScheduling *BuildSchedulingConfig `json:"buildScheduling,omitempty" yaml:"buildScheduling,omitempty"`
	Notifications   *NotificationConfig    `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging         *LoggingConfig         `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ConfigDelta is the result of diffing two configs.
type ConfigDelta struct {
	Added             []*BaseTarget
	Removed           []*BaseTarget
	Modified          []*BaseTarget
	WatchChanged      bool
	SchedulingChanged bool
}

func (d ConfigDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0 &&
		!d.WatchChanged && !d.SchedulingChanged
}
