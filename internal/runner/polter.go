// Package runner implements polter: a freshness-aware execution wrapper
// that consults the State Store and Build Lock before execing a target's
// artifact, waiting out in-progress builds and triggering a one-shot
// automatic rebuild after a recent failure. The run/wait/exec split follows
// the classic runPolter/waitForBuildCompletion/executeTarget shape,
// generalized from per-target-type field access onto the flattened
// BaseTarget, with artifact search and launcher-by-suffix dispatch for
// executable targets; other target kinds are rejected.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/poltergeist/poltergeist/internal/builder"
	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/paths"
	"github.com/poltergeist/poltergeist/internal/state"
)

// staleBuildFailureWindow bounds how recent a failure must be to qualify for
// the one-shot automatic rebuild.
const staleBuildFailureWindow = 5 * time.Minute

// stuckBuildSentinels are substrings of captured build output that indicate
// another process is holding a resource the build needed, rather than a
// genuine compile/test failure.
var stuckBuildSentinels = []string{
	"another process is already running",
	"resource temporarily unavailable",
	"cannot obtain lock",
	"file is locked",
}

// Options configures one polter invocation.
type Options struct {
	Target   string
	Args     []string
	Force    bool
	NoWait   bool
	Timeout  time.Duration
	Verbose  bool
	Cwd      string
}

// Run executes Options and returns the exit code to propagate.
func Run(ctx context.Context, opts Options, log logging.Logger) int {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	configPath, projectRoot, found := discoverConfig(cwd)
	if !found {
		return runStale(opts, cwd, log)
	}

	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		log.Error("failed to load configuration", logging.WithField("error", err))
		return 1
	}
	targets, err := config.Targets(cfg)
	if err != nil {
		log.Error("failed to parse targets", logging.WithField("error", err))
		return 1
	}

	target := findTarget(targets, opts.Target)
	if target == nil {
		return runStaleWarning(opts, projectRoot, log)
	}
	if target.Type != model.TargetTypeExecutable {
		log.Error("target is not executable", logging.WithField("target", target.Name), logging.WithField("type", target.Type))
		return 1
	}

	p, err := paths.New(projectRoot)
	if err != nil {
		log.Error("failed to resolve state paths", logging.WithField("error", err))
		return 1
	}
	store, err := state.New(projectRoot, configPath, log)
	if err != nil {
		log.Error("failed to open state store", logging.WithField("error", err))
		return 1
	}
	lockMgr, err := lock.New(projectRoot)
	if err != nil {
		log.Error("failed to open lock manager", logging.WithField("error", err))
		return 1
	}

	st, err := store.Read(target.Name)
	switch {
	case errors.Is(err, model.ErrNotFound):
		log.Warn("no build state recorded, proceeding without a freshness guarantee")
	case err != nil:
		log.Warn("build state unreadable, proceeding without a freshness guarantee", logging.WithField("error", err))
	case state.IsHeartbeatStale(st, state.HeartbeatStaleAfter):
		if !checkArtifactFreshness(target, projectRoot, st.ArtifactInfo) {
			log.Warn("poltergeist is not running and the artifact looks stale")
		}
	default:
		if code, handled := handleBuildStatus(ctx, opts, target, projectRoot, store, lockMgr, st, log); handled {
			return code
		}
	}

	var artifact *model.ArtifactInfo
	if st != nil {
		artifact = st.ArtifactInfo
	}
	return execArtifact(opts, target, projectRoot, artifact)
}

// handleBuildStatus waits out an in-progress build, then decides whether a
// recent failure qualifies for the one-shot automatic rebuild. It returns
// handled=true when it has already decided the exit code (a failure path);
// handled=false means the caller should proceed to exec the artifact.
func handleBuildStatus(ctx context.Context, opts Options, target *model.BaseTarget, projectRoot string, store *state.Store, lockMgr *lock.Manager, st *model.TargetState, log logging.Logger) (int, bool) {
	status := model.BuildStatusSuccess
	if st.LastBuild != nil {
		status = st.LastBuild.Status
	} else if st.LastBuildError != nil {
		status = model.BuildStatusFailure
	}

	if status == model.BuildStatusBuilding {
		if opts.NoWait {
			log.Error("build in progress and --no-wait specified")
			return 1, true
		}
		final, err := pollUntilSettled(ctx, store, target.Name, opts.Timeout)
		if err != nil {
			log.Error("timed out waiting for build to finish", logging.WithField("timeout", opts.Timeout))
			return 1, true
		}
		st = final
		status = st.LastBuild.Status
	}

	if status != model.BuildStatusFailure {
		return 0, false
	}

	if opts.Force {
		log.Warn("running despite build failure (--force specified)")
		return 0, false
	}

	if st.LastBuildError != nil && hasStuckSentinel(st.LastBuildError.ErrorOutputTail) {
		log.Warn("build failure looks like a stuck build (lock contention), not a real compile error")
	}

	if st.LastBuild != nil && time.Since(st.LastBuild.FinishedAt) <= staleBuildFailureWindow && os.Getenv("POLTERGEIST_NO_AUTO_REBUILD") == "" {
		return runAutoRebuild(ctx, target, projectRoot, store, lockMgr, log)
	}

	log.Error("last build failed", logging.WithField("target", target.Name))
	return 1, true
}

func runAutoRebuild(ctx context.Context, target *model.BaseTarget, projectRoot string, store *state.Store, lockMgr *lock.Manager, log logging.Logger) (int, bool) {
	handle, err := lockMgr.TryAcquire(target.Name, target.BuildCommand)
	if err != nil {
		// Someone else (the daemon) holds the lock; wait for it, then
		// re-evaluate the state it leaves behind.
		final, waitErr := pollUntilSettled(ctx, store, target.Name, staleBuildFailureWindow)
		if waitErr != nil || final.LastBuild == nil || final.LastBuild.Status != model.BuildStatusSuccess {
			return 1, true
		}
		return 0, false
	}
	defer handle.Release()

	log.Info("build failed recently, attempting one automatic rebuild", logging.WithField("target", target.Name))
	b := builder.New(target, projectRoot, log)
	outcome, _ := b.Run(ctx, nil)
	store.RecordBuildOutcome(target.Name, outcome)
	if outcome.Status != model.BuildStatusSuccess {
		log.Error("automatic rebuild failed")
		return 1, true
	}
	return 0, false
}

func pollUntilSettled(ctx context.Context, store *state.Store, target string, timeout time.Duration) (*model.TargetState, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := store.Read(target)
		if err == nil && st.LastBuild != nil && st.LastBuild.Status != model.BuildStatusBuilding {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("timed out after %s", timeout)
}

func hasStuckSentinel(lines []string) bool {
	joined := strings.ToLower(strings.Join(lines, "\n"))
	for _, s := range stuckBuildSentinels {
		if strings.Contains(joined, s) {
			return true
		}
	}
	return false
}

func checkArtifactFreshness(target *model.BaseTarget, projectRoot string, artifact *model.ArtifactInfo) bool {
	path, ok := resolveArtifact(target, projectRoot, artifact)
	if !ok {
		return false
	}
	artInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	for _, wp := range target.WatchPaths {
		root := wp
		if !filepath.IsAbs(root) {
			root = filepath.Join(projectRoot, root)
		}
		newer := false
		filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
			if err != nil || info == nil || info.IsDir() {
				return nil
			}
			if info.ModTime().After(artInfo.ModTime()) {
				newer = true
			}
			return nil
		})
		if newer {
			return false
		}
	}
	return true
}

func execArtifact(opts Options, target *model.BaseTarget, projectRoot string, artifact *model.ArtifactInfo) int {
	path, ok := resolveArtifact(target, projectRoot, artifact)
	if !ok {
		fmt.Fprintf(os.Stderr, "poltergeist: no artifact found for target %q\n", target.Name)
		return 1
	}
	return spawn(path, opts.Args, projectRoot)
}

// resolveArtifact prefers the current artifactInfo.outputPath recorded by
// the last successful build, falls back to the target's own outputPath, and
// finally to a deterministic search across conventional build output
// locations and extensions.
func resolveArtifact(target *model.BaseTarget, projectRoot string, artifact *model.ArtifactInfo) (string, bool) {
	if artifact != nil && artifact.OutputPath != "" {
		if _, err := os.Stat(artifact.OutputPath); err == nil {
			return artifact.OutputPath, true
		}
	}
	if target.OutputPath != "" {
		p := target.OutputPath
		if !filepath.IsAbs(p) {
			p = filepath.Join(projectRoot, p)
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	dirs := []string{projectRoot, filepath.Join(projectRoot, "build"), filepath.Join(projectRoot, "dist")}
	exts := []string{"", ".js", ".mjs", ".py", ".sh"}
	for _, dir := range dirs {
		for _, ext := range exts {
			candidate := filepath.Join(dir, target.Name+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
	}
	return "", false
}

// spawn selects a launcher by the artifact's suffix and execs it with
// inherited stdio, propagating the child's exit code.
func spawn(artifactPath string, args []string, projectRoot string) int {
	var cmd *exec.Cmd
	switch filepath.Ext(artifactPath) {
	case ".js", ".mjs":
		cmd = exec.Command("node", append([]string{artifactPath}, args...)...)
	case ".py":
		cmd = exec.Command("python", append([]string{artifactPath}, args...)...)
	case ".sh":
		cmd = exec.Command("sh", append([]string{artifactPath}, args...)...)
	default:
		cmd = exec.Command(artifactPath, args...)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = projectRoot

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "poltergeist: failed to execute: %v\n", err)
		return 1
	}
	return 0
}

// discoverConfig walks up from dir looking for poltergeist.config.json;
// the resulting project root is canonicalized via realpath.
func discoverConfig(dir string) (configPath, projectRoot string, found bool) {
	cur, err := filepath.Abs(dir)
	if err != nil {
		return "", "", false
	}
	if real, err := filepath.EvalSymlinks(cur); err == nil {
		cur = real
	}
	for {
		candidate := filepath.Join(cur, "poltergeist.config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, cur, true
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", "", false
		}
		cur = parent
	}
}

func findTarget(targets []*model.BaseTarget, name string) *model.BaseTarget {
	for _, t := range targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// runStale handles the no-config-found path: search conventional locations
// directly and warn before executing a potentially stale binary.
func runStale(opts Options, cwd string, log logging.Logger) int {
	log.Warn("no poltergeist.config.json found, attempting stale execution", logging.WithField("target", opts.Target))
	target := &model.BaseTarget{Name: opts.Target}
	return execArtifact(opts, target, cwd, nil)
}

func runStaleWarning(opts Options, projectRoot string, log logging.Logger) int {
	log.Warn("target not found in configuration, attempting stale execution", logging.WithField("target", opts.Target))
	target := &model.BaseTarget{Name: opts.Target}
	return execArtifact(opts, target, projectRoot, nil)
}
