package eventbus

import (
	"bytes"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

func TestConnectWithEmptyURLReturnsNilBus(t *testing.T) {
	log := logging.New(&bytes.Buffer{}, "error")
	bus := Connect("", "poltergeist", log)
	if bus != nil {
		t.Errorf("Connect(\"\", ...) = %v, want nil", bus)
	}
}

func TestConnectWithUnreachableURLReturnsNilBus(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "warn")
	bus := Connect("nats://127.0.0.1:1", "poltergeist", log)
	if bus != nil {
		t.Errorf("Connect to an unreachable broker = %v, want nil", bus)
	}
}

func TestNilBusMethodsAreNoOps(t *testing.T) {
	var bus *Bus
	// None of these should panic on a nil receiver.
	bus.PublishBuildOutcome("/project", "backend", model.BuildOutcome{
		Status:     model.BuildStatusSuccess,
		DurationMs: 100,
		FinishedAt: time.Now(),
	})
	bus.Close()
}
