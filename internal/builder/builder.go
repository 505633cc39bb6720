// Package builder implements the Builder: runs a target's build command to
// completion and produces a structured BuildOutcome. It follows the
// classic createCommand shell heuristic and output-capture-to-log-file
// pattern for build runners, but returns a structured BuildOutcome plus a
// separate tail extraction rather than embedding captured output directly
// into the returned error (see DESIGN.md).
package builder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/poltergeist/poltergeist/internal/gitinfo"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/paths"
	"github.com/poltergeist/poltergeist/internal/procutil"
)

// errorTailLines bounds how much of a failing build's output is copied into
// BuildOutcome.ErrorOutputTail (the full output still lives in the log file).
const errorTailLines = 40

// errorSummaryMaxLen bounds BuildOutcome.ErrorSummary after truncation.
const errorSummaryMaxLen = 200

// errorSummaryMaxMatches is how many of the matching tail lines are joined
// into ErrorSummary, most recent last.
const errorSummaryMaxMatches = 3

// errorLinePatterns are the common compiler/linker failure markers scanned
// for in a failing build's captured output.
var errorLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`error:`),
	regexp.MustCompile(`Error:`),
	regexp.MustCompile(`undefined symbols`),
	regexp.MustCompile(`linker command failed`),
	regexp.MustCompile(`cannot find .* in scope`),
}

// summarizeError scans output for lines matching errorLinePatterns and joins
// up to the last errorSummaryMaxMatches of them, truncated to
// errorSummaryMaxLen. If nothing matches, it falls back to fallback.
func summarizeError(output string, fallback string) string {
	var matches []string
	for _, line := range strings.Split(output, "\n") {
		for _, p := range errorLinePatterns {
			if p.MatchString(line) {
				matches = append(matches, strings.TrimSpace(line))
				break
			}
		}
	}
	if len(matches) == 0 {
		return truncateSummary(fallback)
	}
	if len(matches) > errorSummaryMaxMatches {
		matches = matches[len(matches)-errorSummaryMaxMatches:]
	}
	return truncateSummary(strings.Join(matches, "; "))
}

func truncateSummary(s string) string {
	if len(s) <= errorSummaryMaxLen {
		return s
	}
	return s[:errorSummaryMaxLen]
}

// Builder runs one target's build command.
type Builder struct {
	target      *model.BaseTarget
	projectRoot string
	logger      logging.Logger
}

func New(target *model.BaseTarget, projectRoot string, log logging.Logger) *Builder {
	return &Builder{target: target, projectRoot: projectRoot, logger: log.WithTarget(target.Name)}
}

// Run executes the build command, enforcing the target's configured timeout
// (SIGTERM to the process group, SIGKILL after a 10s grace period), and
// returns a BuildOutcome describing what happened. Run never returns a
// non-nil error for an ordinary build failure; that is reported via
// outcome.Status, so callers can always persist a result.
func (b *Builder) Run(ctx context.Context, changedFiles []string) (model.BuildOutcome, error) {
	start := time.Now()
	logPath := paths.BuilderLogPath(b.projectRoot, b.target.Name)
	logFile, ferr := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if ferr != nil {
		b.logger.Warn("failed to open build log", logging.WithField("error", ferr))
	}
	if logFile != nil {
		defer logFile.Close()
		fmt.Fprintf(logFile, "\n=== build started %s ===\n", start.Format(time.RFC3339))
		if len(changedFiles) > 0 {
			fmt.Fprintf(logFile, "changed: %s\n", strings.Join(changedFiles, ", "))
		}
	}

	effectiveCommand := b.effectiveCommand()

	var cancel context.CancelFunc
	runCtx := ctx
	if timeout := b.target.GetTimeoutMs(); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
		defer cancel()
	}

	cmd := b.createCommand(runCtx, effectiveCommand)
	cmd.Dir = b.projectRoot
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// On context expiry the group gets SIGTERM (not the default SIGKILL of
	// the leader); terminate escalates to SIGKILL after the grace period.
	cmd.Cancel = func() error {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		return nil
	}
	if env := b.target.GetEnvironment(); env != nil {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var buf bytes.Buffer
	var out io.Writer = &buf
	if logFile != nil {
		out = io.MultiWriter(&buf, logFile)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		finished := time.Now()
		return model.BuildOutcome{
			Status:         model.BuildStatusFailure,
			StartedAt:      start,
			FinishedAt:     finished,
			DurationMs:     finished.Sub(start).Milliseconds(),
			ErrorSummary:   truncateSummary(err.Error()),
			BuilderLogPath: logPath,
		}, fmt.Errorf("%w: %v", model.ErrSpawnFailed, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-runCtx.Done():
		b.terminate(cmd, done)
		runErr = runCtx.Err()
	}

	finished := time.Now()
	hash, _ := gitinfo.HeadHash(b.projectRoot)

	outcome := model.BuildOutcome{
		StartedAt:      start,
		FinishedAt:     finished,
		DurationMs:     finished.Sub(start).Milliseconds(),
		GitHash:        hash,
		BuilderLogPath: logPath,
	}

	switch {
	case runErr == nil:
		outcome.Status = model.BuildStatusSuccess
		outcome.ExitCode = 0
		if logFile != nil {
			fmt.Fprintf(logFile, "=== build succeeded in %s ===\n", finished.Sub(start))
		}
	case runCtx.Err() == context.DeadlineExceeded:
		outcome.Status = model.BuildStatusFailure
		outcome.ErrorSummary = "build timed out"
		outcome.ErrorOutputTail = tail(buf.String(), errorTailLines)
		if logFile != nil {
			fmt.Fprintf(logFile, "=== build TIMED OUT after %s ===\n", finished.Sub(start))
		}
		return outcome, fmt.Errorf("%w: %s", model.ErrBuildTimeout, b.target.Name)
	default:
		outcome.Status = model.BuildStatusFailure
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			outcome.ExitCode = exitErr.ExitCode()
		}
		outcome.ErrorSummary = summarizeError(buf.String(), runErr.Error())
		outcome.ErrorOutputTail = tail(buf.String(), errorTailLines)
		if logFile != nil {
			fmt.Fprintf(logFile, "=== build FAILED after %s: %v ===\n", finished.Sub(start), runErr)
		}
	}

	b.runKindHooks(&outcome)
	return outcome, nil
}

// terminate sends SIGTERM to the build's process group, waits up to 10s,
// then escalates to SIGKILL if the group has not exited.
func (b *Builder) terminate(cmd *exec.Cmd, done chan error) {
	pid := cmd.Process.Pid
	syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(10 * time.Second):
	}
	if procutil.IsAlive(pid) {
		syscall.Kill(-pid, syscall.SIGKILL)
	}
	<-done
}

// createCommand applies the standard shell-operator heuristic: a command
// containing shell metacharacters runs under `sh -c`; otherwise it is
// tokenized and exec'd directly, avoiding an unnecessary shell fork.
func (b *Builder) createCommand(ctx context.Context, command string) *exec.Cmd {
	if strings.ContainsAny(command, "&|;") {
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// tail returns at most n trailing lines of s, after trailing newlines are
// trimmed; empty lines inside that span are kept.
func tail(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
