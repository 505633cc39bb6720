package paths

import (
	"path/filepath"
	"testing"
)

func TestSanitizeProjectName(t *testing.T) {
	cases := map[string]string{
		"my-project":   "my-project",
		"my project!!": "my-project--",
		"":             "project",
	}
	for in, want := range cases {
		if got := SanitizeProjectName(in); got != want {
			t.Errorf("SanitizeProjectName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProjectHashStable(t *testing.T) {
	dir := t.TempDir()
	h1, err := ProjectHash(dir)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ProjectHash(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash not stable: %s != %s", h1, h2)
	}
	if len(h1) != 8 {
		t.Fatalf("expected 8 hex chars, got %d (%s)", len(h1), h1)
	}
}

func TestFileNaming(t *testing.T) {
	t.Setenv("POLTERGEIST_STATE_DIR", t.TempDir())
	root := t.TempDir()
	p, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(p.StateDir, p.ProjectName+"-"+p.ProjectHash+"-app.state")
	if got := p.TargetState("app"); got != want {
		t.Errorf("TargetState = %q, want %q", got, want)
	}
	if filepath.Base(p.DaemonInfo()) != p.prefixForTest()+"-daemon.json" {
		t.Errorf("DaemonInfo name mismatch: %s", p.DaemonInfo())
	}
}

func (p *Paths) prefixForTest() string { return p.prefix() }
