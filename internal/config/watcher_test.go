package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherYAMLv1 = `
realtime:
  api_key: k
  model: m
  voice: sage
`

const watcherYAMLv2 = `
realtime:
  api_key: k
  model: m
  voice: alloy
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Polling compares mtimes; make sure the rewrite is observable.
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oculo.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Realtime.Voice; got != "sage" {
		t.Fatalf("voice = %q, want sage", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oculo.yaml")
	writeConfig(t, path, "not: [valid")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("invalid initial config accepted")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oculo.yaml")
	writeConfig(t, path, watcherYAMLv1)

	var mu sync.Mutex
	var oldVoice, newVoice string
	changed := make(chan struct{}, 1)

	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		oldVoice = old.Realtime.Voice
		newVoice = new.Realtime.Voice
		mu.Unlock()
		changed <- struct{}{}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Ensure a distinct mtime before rewriting.
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, watcherYAMLv2)

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("change never detected")
	}

	mu.Lock()
	defer mu.Unlock()
	if oldVoice != "sage" || newVoice != "alloy" {
		t.Fatalf("onChange voices = %q -> %q", oldVoice, newVoice)
	}
	if w.Current().Realtime.Voice != "alloy" {
		t.Fatalf("Current not updated")
	}
}

func TestWatcher_KeepsPreviousOnInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oculo.yaml")
	writeConfig(t, path, watcherYAMLv1)

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		called <- struct{}{}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "realtime: [broken")

	select {
	case <-called:
		t.Fatal("onChange fired for invalid config")
	case <-time.After(200 * time.Millisecond):
	}

	if got := w.Current().Realtime.Voice; got != "sage" {
		t.Fatalf("voice = %q, want previous config retained", got)
	}
}
