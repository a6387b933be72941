// Package skills loads markdown skill files from a directory and keeps
// them fresh with a filesystem watcher, so edits land without a restart.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Skill is one loaded skill file.
type Skill struct {
	Name    string
	Content string
}

// Loader reads *.md files from a directory. Reads are lock-protected; the
// watcher goroutine replaces the whole set on change.
type Loader struct {
	dir      string
	debounce time.Duration

	mu     sync.RWMutex
	skills []Skill

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewLoader returns a loader for dir. An empty or missing directory is not
// an error; the loader just has no skills.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, debounce: 250 * time.Millisecond}
}

// Load reads every skill file in the directory, replacing the current set.
func (l *Loader) Load() error {
	if l.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("skills: read dir %s: %w", l.dir, err)
	}

	var skills []Skill
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			slog.Warn("skills: read file failed", "file", e.Name(), "error", err)
			continue
		}
		skills = append(skills, Skill{
			Name:    strings.TrimSuffix(e.Name(), ".md"),
			Content: strings.TrimSpace(string(data)),
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })

	l.mu.Lock()
	l.skills = skills
	l.mu.Unlock()

	slog.Info("skills: loaded", "dir", l.dir, "count", len(skills))
	return nil
}

// List returns the current skill set.
func (l *Loader) List() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Skill(nil), l.skills...)
}

// PromptSection renders the skills as a system prompt section. Empty when
// no skills are loaded.
func (l *Loader) PromptSection() string {
	skills := l.List()
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Skills\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", s.Name, s.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Watch reloads the skill set when files change, debounced so editor save
// bursts trigger one reload. No-op when the directory does not exist.
func (l *Loader) Watch(ctx context.Context) error {
	if l.dir == "" {
		return nil
	}
	if _, err := os.Stat(l.dir); err != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills: create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("skills: watch %s: %w", l.dir, err)
	}
	l.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go l.watchLoop(watchCtx)
	return nil
}

// Close stops the watcher.
func (l *Loader) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.watcher != nil {
		_ = l.watcher.Close()
	}
	l.wg.Wait()
	return nil
}

func (l *Loader) watchLoop(ctx context.Context) {
	defer l.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(l.debounce, func() {
			if err := l.Load(); err != nil {
				slog.Warn("skills: reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("skills: watch error", "error", err)
		}
	}
}
