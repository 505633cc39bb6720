package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Info("should be filtered out")
	log.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered out") {
		t.Errorf("Info message leaked through at warn level: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("Warn message missing from output: %q", out)
	}
}

func TestNewDefaultsToInfoOnInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "not-a-level")
	log.Debug("hidden")
	log.Info("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Debug message leaked through at default info level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("Info message missing: %q", out)
	}
}

func TestWithTargetPrefixesRecords(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info").WithTarget("backend")
	log.Info("built")

	out := buf.String()
	if !strings.Contains(out, "[backend]") {
		t.Errorf("expected target prefix in output, got: %q", out)
	}
}

func TestWithFieldAttachesKeyValue(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	log.Info("event", WithField("durationMs", 42))

	out := buf.String()
	if !strings.Contains(out, "durationMs=42") {
		t.Errorf("expected durationMs=42 in output, got: %q", out)
	}
}
