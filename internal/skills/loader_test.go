package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadReadsMarkdownSorted(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "zebra.md", "stripes\n")
	writeSkill(t, dir, "apple.md", "crunch")
	writeSkill(t, dir, "notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "sub.md"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	l := NewLoader(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	skills := l.List()
	if len(skills) != 2 {
		t.Fatalf("got %d skills, want 2: %+v", len(skills), skills)
	}
	if skills[0].Name != "apple" || skills[1].Name != "zebra" {
		t.Fatalf("order wrong: %+v", skills)
	}
	if skills[1].Content != "stripes" {
		t.Fatalf("content not trimmed: %q", skills[1].Content)
	}
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "absent"))
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(l.List()) != 0 {
		t.Fatal("skills appeared from a missing directory")
	}

	empty := NewLoader("")
	if err := empty.Load(); err != nil {
		t.Fatalf("load with no dir: %v", err)
	}
	if empty.PromptSection() != "" {
		t.Fatal("empty loader rendered a section")
	}
}

func TestPromptSection(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "greet.md", "Be nice.")
	writeSkill(t, dir, "math.md", "Show your work.")

	l := NewLoader(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := l.PromptSection()
	if !strings.HasPrefix(got, "## Skills\n") {
		t.Fatalf("missing header: %q", got)
	}
	gi := strings.Index(got, "### greet")
	mi := strings.Index(got, "### math")
	if gi < 0 || mi < 0 || gi > mi {
		t.Fatalf("sections wrong: %q", got)
	}
	if !strings.Contains(got, "Be nice.") || !strings.Contains(got, "Show your work.") {
		t.Fatalf("content missing: %q", got)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "greet.md", "Be nice.")

	l := NewLoader(dir)
	l.debounce = 10 * time.Millisecond
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := l.Watch(context.Background()); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer l.Close()

	writeSkill(t, dir, "extra.md", "More.")

	deadline := time.Now().Add(5 * time.Second)
	for len(l.List()) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("reload never happened: %+v", l.List())
		}
		time.Sleep(20 * time.Millisecond)
	}
}
