// Package paths implements deterministic file naming for state, lock, and
// daemon-info records, kept under a shared state directory rather than
// per-project under {projectRoot}/.poltergeist/.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeProjectName reduces s to the [A-Za-z0-9_-] alphabet.
func SanitizeProjectName(s string) string {
	out := sanitizeRe.ReplaceAllString(s, "-")
	if out == "" {
		return "project"
	}
	return out
}

// ProjectName derives the project name from the last path segment of the
// canonicalized root, so "." and an absolute path to the same directory
// give the same name.
func ProjectName(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			root = resolved
		}
	}
	return SanitizeProjectName(filepath.Base(root))
}

// ProjectHash returns the first 8 hex chars of SHA-256 of the canonicalized
// project root.
func ProjectHash(root string) (string, error) {
	real, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(real); err == nil {
		real = resolved
	}
	sum := sha256.Sum256([]byte(real))
	return hex.EncodeToString(sum[:])[:8], nil
}

// Dir resolves the shared state directory: $POLTERGEIST_STATE_DIR if set,
// else a conventional per-user temp location.
func Dir() string {
	if d := os.Getenv("POLTERGEIST_STATE_DIR"); d != "" {
		return d
	}
	return filepath.Join(os.TempDir(), "poltergeist")
}

// Paths is the resolved set of file names for one project root.
type Paths struct {
	StateDir    string
	ProjectName string
	ProjectHash string
}

// New resolves Paths for a project root, creating the state directory.
func New(root string) (*Paths, error) {
	hash, err := ProjectHash(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project hash: %w", err)
	}
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Paths{
		StateDir:    dir,
		ProjectName: ProjectName(root),
		ProjectHash: hash,
	}, nil
}

func (p *Paths) prefix() string {
	return fmt.Sprintf("%s-%s", p.ProjectName, p.ProjectHash)
}

func (p *Paths) TargetState(target string) string {
	return filepath.Join(p.StateDir, fmt.Sprintf("%s-%s.state", p.prefix(), target))
}

func (p *Paths) BuildLock(target string) string {
	return filepath.Join(p.StateDir, fmt.Sprintf("%s-%s.lock", p.prefix(), target))
}

func (p *Paths) DaemonInfo() string {
	return filepath.Join(p.StateDir, fmt.Sprintf("%s-daemon.json", p.prefix()))
}

func (p *Paths) DaemonLog() string {
	return filepath.Join(p.StateDir, fmt.Sprintf("%s-daemon.log", p.prefix()))
}

// BuilderLogPath is the per-target build log.
func BuilderLogPath(projectRoot, target string) string {
	return filepath.Join(projectRoot, fmt.Sprintf(".poltergeist-build-%s.log", target))
}
