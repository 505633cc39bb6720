package config

import (
	"encoding/json"
	"testing"

	"github.com/poltergeist/poltergeist/internal/model"
)

func rawTarget(t *testing.T, name, buildCmd string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"name": name, "type": "executable", "buildCommand": buildCmd, "watchPaths": []string{"src"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDiffDetectsWatchChange(t *testing.T) {
	prev := &model.Config{Version: "1.0", Targets: []json.RawMessage{rawTarget(t, "app", "make")}}
	next := &model.Config{Version: "1.0", Targets: []json.RawMessage{rawTarget(t, "app", "make")}, Watchman: &model.WatchmanConfig{SettlingDelay: 500}}

	delta, err := Diff(prev, next)
	if err != nil {
		t.Fatal(err)
	}
	if !delta.WatchChanged {
		t.Fatal("expected WatchChanged=true")
	}
	if len(delta.Added) != 0 || len(delta.Removed) != 0 || len(delta.Modified) != 0 {
		t.Fatalf("expected no target-level delta, got %+v", delta)
	}
}

func TestDiffDetectsTargetModification(t *testing.T) {
	prev := &model.Config{Version: "1.0", Targets: []json.RawMessage{rawTarget(t, "app", "make v1")}}
	next := &model.Config{Version: "1.0", Targets: []json.RawMessage{rawTarget(t, "app", "make v2")}}

	delta, err := Diff(prev, next)
	if err != nil {
		t.Fatal(err)
	}
	if len(delta.Modified) != 1 || delta.Modified[0].Name != "app" {
		t.Fatalf("expected app modified, got %+v", delta)
	}
}
