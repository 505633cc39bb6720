package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/poltergeist/poltergeist/internal/model"
)

func TestDiscoverConfigWalksUpward(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "poltergeist.config.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	path, projectRoot, found := discoverConfig(nested)
	if !found {
		t.Fatal("expected to discover config by walking upward")
	}
	if filepath.Dir(path) != projectRoot {
		t.Fatalf("expected config dir to equal project root, got %s vs %s", path, projectRoot)
	}
}

func TestDiscoverConfigNotFound(t *testing.T) {
	root := t.TempDir()
	if _, _, found := discoverConfig(root); found {
		t.Fatal("expected no config to be discovered in an empty tree")
	}
}

func TestResolveArtifactPrefersOutputPath(t *testing.T) {
	root := t.TempDir()
	binPath := filepath.Join(root, "app-bin")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	target := &model.BaseTarget{Name: "app", OutputPath: "app-bin"}
	path, ok := resolveArtifact(target, root, nil)
	if !ok || path != binPath {
		t.Fatalf("expected to resolve outputPath binary, got %s (%v)", path, ok)
	}
}

func TestResolveArtifactPrefersArtifactInfo(t *testing.T) {
	root := t.TempDir()
	statePath := filepath.Join(root, "state-bin")
	if err := os.WriteFile(statePath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	outputPath := filepath.Join(root, "app-bin")
	if err := os.WriteFile(outputPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	target := &model.BaseTarget{Name: "app", OutputPath: "app-bin"}
	path, ok := resolveArtifact(target, root, &model.ArtifactInfo{OutputPath: statePath})
	if !ok || path != statePath {
		t.Fatalf("expected artifactInfo.outputPath to take precedence, got %s (%v)", path, ok)
	}
}

func TestResolveArtifactSearchesConventionalLocations(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dist"), 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(root, "dist", "app.js")
	if err := os.WriteFile(script, []byte("console.log('hi')"), 0o644); err != nil {
		t.Fatal(err)
	}
	target := &model.BaseTarget{Name: "app"}
	path, ok := resolveArtifact(target, root, nil)
	if !ok || path != script {
		t.Fatalf("expected to find dist/app.js, got %s (%v)", path, ok)
	}
}

func TestResolveArtifactNotFound(t *testing.T) {
	root := t.TempDir()
	target := &model.BaseTarget{Name: "ghost"}
	if _, ok := resolveArtifact(target, root, nil); ok {
		t.Fatal("expected no artifact to resolve in an empty project")
	}
}

func TestHasStuckSentinel(t *testing.T) {
	if !hasStuckSentinel([]string{"error: resource temporarily unavailable"}) {
		t.Fatal("expected sentinel match")
	}
	if hasStuckSentinel([]string{"undefined reference to foo"}) {
		t.Fatal("expected no sentinel match for an ordinary compile error")
	}
}
