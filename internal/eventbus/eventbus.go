// Package eventbus optionally publishes build lifecycle events to NATS, so
// external tooling (dashboards, CI triggers) can observe the daemon without
// polling State Store files. Grounded on
// inful-docbuilder/internal/linkverify/nats_client.go's
// connect-now-but-treat-failure-as-non-fatal pattern; Poltergeist's event
// bus is pure publish (no KV, no JetStream), since nothing here needs
// durable delivery.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

// BuildEvent is published on every completed build, to subject
// "<subjectPrefix>.<project>.<target>.build".
type BuildEvent struct {
	Project    string            `json:"project"`
	Target     string            `json:"target"`
	Status     model.BuildStatus `json:"status"`
	DurationMs int64             `json:"durationMs"`
	FinishedAt time.Time         `json:"finishedAt"`
}

// Bus publishes BuildEvents. A nil *Bus is valid and publishes nowhere,
// so callers can wire it unconditionally whether or not NATS is configured.
type Bus struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        logging.Logger
}

// Connect dials url; a connection failure is non-fatal, since the event bus
// is an optional observability surface, never load-bearing for builds.
func Connect(url, subjectPrefix string, log logging.Logger) *Bus {
	if url == "" {
		return nil
	}
	conn, err := nats.Connect(url, nats.Timeout(5*time.Second))
	if err != nil {
		log.Warn("nats connection failed, build events will not be published", logging.WithField("error", err))
		return nil
	}
	return &Bus{conn: conn, subjectPrefix: subjectPrefix, logger: log}
}

// PublishBuildOutcome publishes a BuildEvent; a nil Bus is a no-op.
func (b *Bus) PublishBuildOutcome(project, target string, outcome model.BuildOutcome) {
	if b == nil || b.conn == nil {
		return
	}
	evt := BuildEvent{
		Project:    project,
		Target:     target,
		Status:     outcome.Status,
		DurationMs: outcome.DurationMs,
		FinishedAt: outcome.FinishedAt,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%s.%s.build", b.subjectPrefix, project, target)
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish build event", logging.WithField("error", err))
	}
}

// Close closes the underlying connection without draining it; a nil Bus is
// a no-op.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Close()
}
