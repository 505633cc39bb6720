package builder

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

// effectiveCommand returns the command actually executed, synthesizing it
// for kinds where buildCommand alone is insufficient. A Docker-kind builder
// could mutate Target.BuildCommand in place before delegating to the base
// build and restore it afterward, but this computes the effective command
// as a plain value instead, so the target is never mutated.
func (b *Builder) effectiveCommand() string {
	switch b.target.Type {
	case model.TargetTypeContainer:
		return b.dockerCommand()
	default:
		return b.target.BuildCommand
	}
}

func (b *Builder) dockerCommand() string {
	dockerfile := b.target.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	context := b.target.Context
	if context == "" {
		context = "."
	}
	tag := b.target.ImageName
	if tag == "" {
		tag = b.target.Name
	}
	return fmt.Sprintf("%s && docker build -f %s -t %s %s", b.target.BuildCommand, dockerfile, tag, context)
}

// runKindHooks performs the post-build side effects specific to a target
// kind: auto-relaunching an app bundle and checking for a test target's
// coverage file.
func (b *Builder) runKindHooks(outcome *model.BuildOutcome) {
	if outcome.Status != model.BuildStatusSuccess {
		return
	}

	switch b.target.Type {
	case model.TargetTypeAppBundle:
		b.maybeRelaunch()
	case model.TargetTypeTest:
		b.checkCoverage(outcome)
	}
}

// maybeRelaunch kills any running instance of the app bundle and relaunches
// it detached. A failed relaunch is logged only; it never flips the build
// outcome away from success.
func (b *Builder) maybeRelaunch() {
	if !b.target.GetAutoRelaunch() || b.target.BundleID == "" {
		return
	}
	if err := exec.Command("pkill", "-f", b.target.BundleID).Run(); err != nil {
		if killErr := exec.Command("killall", "-9", b.target.BundleID).Run(); killErr != nil {
			b.logger.Debug("no running instance to kill before relaunch", logging.WithField("bundleId", b.target.BundleID))
		}
	}
	if err := exec.Command("open", "-b", b.target.BundleID).Start(); err != nil {
		b.logger.Warn("auto-relaunch failed", logging.WithField("bundleId", b.target.BundleID), logging.WithField("error", err))
	}
}

func (b *Builder) checkCoverage(outcome *model.BuildOutcome) {
	if b.target.CoverageFile == "" {
		return
	}
	path := b.target.CoverageFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.projectRoot, path)
	}
	if _, err := os.Stat(path); err != nil {
		b.logger.Warn("expected coverage file not produced", logging.WithField("path", path))
	}
}
