// Package notifier reports build lifecycle events. A BuildNotifier in this
// space often dispatches desktop notifications through gen2brain/beeep;
// desktop notification delivery is out of scope here (see DESIGN.md), so
// this keeps the same NotifyBuildStart/Success/Failure surface but reports
// through the structured logger every other component already depends on.
package notifier

import (
	"fmt"
	"time"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

// Notifier reports build lifecycle events for one target.
type Notifier struct {
	enabled bool
	logger  logging.Logger
}

func New(cfg *model.NotificationConfig, log logging.Logger) *Notifier {
	enabled := true
	if cfg != nil && cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}
	return &Notifier{enabled: enabled, logger: log}
}

func (n *Notifier) NotifyBuildStart(target string) {
	if !n.enabled {
		return
	}
	n.logger.Info("building", logging.WithField("target", target))
}

func (n *Notifier) NotifyBuildSuccess(target string, duration time.Duration) {
	if !n.enabled {
		return
	}
	n.logger.Success(fmt.Sprintf("built %s in %s", target, formatDuration(duration)))
}

func (n *Notifier) NotifyBuildFailure(target string, summary string) {
	if !n.enabled {
		return
	}
	n.logger.Error(fmt.Sprintf("build failed: %s", target), logging.WithField("error", summary))
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
