package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/careercompass/internal/config"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// runWatcher starts w in the background and returns a channel of diffs.
func runWatcher(t *testing.T, w *config.Watcher) <-chan config.Diff {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	diffs := make(chan config.Diff, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx, func(_, _ *config.Config, d config.Diff) { diffs <- d })
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return diffs
}

func TestWatcher_ReportsValidChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")
	w, err := config.NewWatcher(path, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	diffs := runWatcher(t, w)

	writeConfig(t, path, "server:\n  log_level: debug\n")
	select {
	case d := <-diffs:
		if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current = %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidEditKeepsCurrent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "voice:\n  persona: coral\n")
	w, err := config.NewWatcher(path, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	diffs := runWatcher(t, w)

	writeConfig(t, path, "voice:\n  persona: nova\n")
	select {
	case d := <-diffs:
		t.Fatalf("invalid config accepted: %+v", d)
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Voice.Persona != "coral" {
		t.Errorf("persona = %q", w.Current().Voice.Persona)
	}
}

func TestWatcher_UnchangedContentIsSilent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: warn\n")
	w, err := config.NewWatcher(path, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	diffs := runWatcher(t, w)

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}
	select {
	case d := <-diffs:
		t.Fatalf("touch produced a reload: %+v", d)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewWatcher_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
