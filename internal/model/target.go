// Package model holds the data types shared across the Poltergeist daemon:
// targets, build outcomes, persisted records, and configuration shapes.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// TargetType is the closed set of supported build target kinds.
type TargetType string

const (
	TargetTypeExecutable TargetType = "executable"
	TargetTypeAppBundle   TargetType = "app-bundle"
	TargetTypeLibrary     TargetType = "library"
	TargetTypeFramework   TargetType = "framework"
	TargetTypeTest        TargetType = "test"
	TargetTypeContainer   TargetType = "container-image"
	TargetTypeCustom      TargetType = "custom"
)

// LibraryType represents library linkage kinds for LibraryTarget.
type LibraryType string

const (
	LibraryTypeStatic  LibraryType = "static"
	LibraryTypeDynamic LibraryType = "dynamic"
	LibraryTypeShared  LibraryType = "shared"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidTargetName reports whether name satisfies the target name invariant.
func ValidTargetName(name string) bool {
	return nameRe.MatchString(name)
}

// BaseTarget carries the fields common to every target kind.
type BaseTarget struct {
	Name          string            `json:"name" yaml:"name"`
	Type          TargetType        `json:"type" yaml:"type"`
	Enabled       *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	BuildCommand  string            `json:"buildCommand" yaml:"buildCommand"`
	OutputPath    string            `json:"outputPath,omitempty" yaml:"outputPath,omitempty"`
	WatchPaths    []string          `json:"watchPaths" yaml:"watchPaths"`
	ExcludePaths  []string          `json:"excludePaths,omitempty" yaml:"excludePaths,omitempty"`
	SettlingDelay *int              `json:"settlingDelayMs,omitempty" yaml:"settlingDelayMs,omitempty"`
	MaxRetries    *int              `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	TimeoutMs     *int              `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	Environment   map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Kind-specific metadata. Only the fields relevant to Type are populated.
	BundleID     string   `json:"bundleId,omitempty" yaml:"bundleId,omitempty"`
	AutoRelaunch *bool    `json:"autoRelaunch,omitempty" yaml:"autoRelaunch,omitempty"`
	LibraryType  LibraryType `json:"libraryType,omitempty" yaml:"libraryType,omitempty"`
	TestCommand  string   `json:"testCommand,omitempty" yaml:"testCommand,omitempty"`
	CoverageFile string   `json:"coverageFile,omitempty" yaml:"coverageFile,omitempty"`
	ImageName    string   `json:"imageName,omitempty" yaml:"imageName,omitempty"`
	Dockerfile   string   `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`
	Context      string   `json:"context,omitempty" yaml:"context,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Target defaults: 100 ms settling delay, 3 retries, no timeout.
const (
	DefaultSettlingDelayMs = 100
	DefaultMaxRetries      = 3
)

func (t *BaseTarget) GetName() string     { return t.Name }
func (t *BaseTarget) GetType() TargetType { return t.Type }
func (t *BaseTarget) IsEnabled() bool     { return t.Enabled == nil || *t.Enabled }
func (t *BaseTarget) GetBuildCommand() string { return t.BuildCommand }
func (t *BaseTarget) GetOutputPath() string   { return t.OutputPath }
func (t *BaseTarget) GetWatchPaths() []string { return t.WatchPaths }
func (t *BaseTarget) GetExcludePaths() []string { return t.ExcludePaths }

func (t *BaseTarget) GetSettlingDelayMs() int {
	if t.SettlingDelay != nil {
		return *t.SettlingDelay
	}
	return DefaultSettlingDelayMs
}

func (t *BaseTarget) GetMaxRetries() int {
	if t.MaxRetries != nil {
		return *t.MaxRetries
	}
	return DefaultMaxRetries
}

func (t *BaseTarget) GetTimeoutMs() int {
	if t.TimeoutMs != nil {
		return *t.TimeoutMs
	}
	return 0
}

func (t *BaseTarget) GetEnvironment() map[string]string { return t.Environment }

func (t *BaseTarget) GetAutoRelaunch() bool {
	return t.AutoRelaunch != nil && *t.AutoRelaunch
}

// Validate checks invariants that are cheap to check structurally,
// independent of the filesystem.
func (t *BaseTarget) Validate() error {
	if !ValidTargetName(t.Name) {
		return fmt.Errorf("%w: target name %q must match ^[A-Za-z0-9][A-Za-z0-9_-]*$", ErrConfigInvalid, t.Name)
	}
	if t.BuildCommand == "" {
		return fmt.Errorf("%w: target %q has empty buildCommand", ErrConfigInvalid, t.Name)
	}
	switch t.Type {
	case TargetTypeExecutable, TargetTypeAppBundle, TargetTypeLibrary, TargetTypeFramework,
		TargetTypeTest, TargetTypeContainer, TargetTypeCustom:
	default:
		return fmt.Errorf("%w: target %q has unknown kind %q", ErrConfigInvalid, t.Name, t.Type)
	}
	if t.Type == TargetTypeAppBundle && t.BundleID == "" {
		return fmt.Errorf("%w: app-bundle target %q requires bundleId", ErrConfigInvalid, t.Name)
	}
	if t.Type == TargetTypeContainer && t.ImageName == "" {
		return fmt.Errorf("%w: container-image target %q requires imageName", ErrConfigInvalid, t.Name)
	}
	return nil
}

// ParseTarget unmarshals a raw JSON target into a BaseTarget. Target kind is
// a closed, flat set; no per-kind Go type hierarchy is needed since every
// kind-specific field already lives on BaseTarget (see DESIGN.md).
func ParseTarget(data []byte) (*BaseTarget, error) {
	var t BaseTarget
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
