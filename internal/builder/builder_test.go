package builder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

func newTarget(name, buildCommand string) *model.BaseTarget {
	return &model.BaseTarget{Name: name, Type: model.TargetTypeExecutable, BuildCommand: buildCommand, WatchPaths: []string{"."}}
}

func TestRunSuccess(t *testing.T) {
	root := t.TempDir()
	b := New(newTarget("app", "true"), root, logging.New(io.Discard, "error"))
	outcome, err := b.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != model.BuildStatusSuccess {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if _, statErr := os.Stat(outcome.BuilderLogPath); statErr != nil {
		t.Fatalf("expected build log at %s: %v", outcome.BuilderLogPath, statErr)
	}
}

func TestRunFailureCapturesOutput(t *testing.T) {
	root := t.TempDir()
	b := New(newTarget("app", "sh -c 'echo boom 1>&2; exit 1'"), root, logging.New(io.Discard, "error"))
	outcome, err := b.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != model.BuildStatusFailure {
		t.Fatalf("expected failure, got %+v", outcome)
	}
	if outcome.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", outcome.ExitCode)
	}
	if len(outcome.ErrorOutputTail) == 0 {
		t.Fatal("expected non-empty error output tail")
	}
}

func TestRunFailureExtractsErrorSummaryFromLog(t *testing.T) {
	root := t.TempDir()
	b := New(newTarget("app", "sh -c 'echo note; echo error: widget missing; exit 1'"), root, logging.New(io.Discard, "error"))
	outcome, err := b.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(outcome.ErrorSummary, "error: widget missing") {
		t.Fatalf("expected errorSummary to contain the matching log line, got %q", outcome.ErrorSummary)
	}
	if strings.Contains(outcome.ErrorSummary, "note") {
		t.Fatalf("expected non-matching lines to be excluded, got %q", outcome.ErrorSummary)
	}
}

func TestRunFailureFallsBackToExitStatus(t *testing.T) {
	root := t.TempDir()
	b := New(newTarget("app", "sh -c 'echo nothing useful; exit 1'"), root, logging.New(io.Discard, "error"))
	outcome, err := b.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.ErrorSummary == "" {
		t.Fatal("expected a non-empty errorSummary fallback")
	}
}

func TestRunTimeout(t *testing.T) {
	root := t.TempDir()
	timeout := 50
	target := newTarget("app", "sleep 5")
	target.TimeoutMs = &timeout
	b := New(target, root, logging.New(io.Discard, "error"))
	outcome, err := b.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if outcome.Status != model.BuildStatusFailure {
		t.Fatalf("expected failure status on timeout, got %+v", outcome)
	}
}

func TestDockerEffectiveCommandSynthesized(t *testing.T) {
	root := t.TempDir()
	target := &model.BaseTarget{
		Name: "img", Type: model.TargetTypeContainer, BuildCommand: "true",
		WatchPaths: []string{"."}, ImageName: "myimage", Dockerfile: "Dockerfile.prod", Context: "docker/",
	}
	b := New(target, root, logging.New(io.Discard, "error"))
	cmd := b.effectiveCommand()
	if !strings.Contains(cmd, "docker build") || !strings.Contains(cmd, "myimage") || !strings.Contains(cmd, "Dockerfile.prod") {
		t.Fatalf("unexpected effective command: %s", cmd)
	}
}

func TestBuilderLogPathUnderProjectRoot(t *testing.T) {
	root := t.TempDir()
	want := filepath.Join(root, ".poltergeist-build-app.log")
	b := New(newTarget("app", "true"), root, logging.New(io.Discard, "error"))
	outcome, err := b.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.BuilderLogPath != want {
		t.Fatalf("expected log path %s, got %s", want, outcome.BuilderLogPath)
	}
}
