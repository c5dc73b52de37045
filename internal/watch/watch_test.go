package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWatcherDebouncesAndSkipsOwnOutput(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	calls := map[string]int{}
	handled := make(chan string, 8)
	handler := func(_ context.Context, path string) (string, error) {
		mu.Lock()
		calls[filepath.Base(path)]++
		mu.Unlock()

		out := strings.TrimSuffix(path, filepath.Ext(path)) + ".jpg"
		if err := os.WriteFile(out, []byte("converted"), 0o644); err != nil {
			return "", err
		}
		handled <- path
		return out, nil
	}

	w, err := New(dir, handler, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	input := filepath.Join(dir, "photo.png")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(input, []byte(strings.Repeat("x", i+1)), 0o644); err != nil {
			t.Fatalf("write input: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for conversion")
	}
	time.Sleep(300 * time.Millisecond)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls["photo.png"] != 1 {
		t.Fatalf("expected one conversion of photo.png, got %d", calls["photo.png"])
	}
	if calls["photo.jpg"] != 0 {
		t.Fatalf("own output must be skipped, got %d calls", calls["photo.jpg"])
	}
	if calls["notes.txt"] != 0 {
		t.Fatal("unsupported files must be ignored")
	}
}

func TestNewRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.png")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	noop := func(context.Context, string) (string, error) { return "", nil }

	if _, err := New(file, noop); err == nil {
		t.Fatal("expected error for file target")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing"), noop); err == nil {
		t.Fatal("expected error for missing dir")
	}
	if _, err := New(t.TempDir(), nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestSupported(t *testing.T) {
	for path, want := range map[string]bool{
		"/in/photo.png":    true,
		"/in/photo.HEIC":   true,
		"/in/.photo.png":   false,
		"/in/photo.png.gz": false,
		"/in/notes.txt":    false,
		"/in/noext":        false,
	} {
		if got := Supported(path); got != want {
			t.Fatalf("Supported(%q): expected %v, got %v", path, want, got)
		}
	}
}

func TestFireAfterRunReturnsDoesNotBlock(t *testing.T) {
	w := &Watcher{
		ready:  make(chan string, 1),
		done:   make(chan struct{}),
		timers: make(map[string]*pending),
	}
	w.ready <- "/in/full.png"
	w.stop()

	p := &pending{}
	w.timers["/in/late.png"] = p

	returned := make(chan struct{})
	go func() {
		w.fire("/in/late.png", p)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("timer callback blocked after the watcher stopped")
	}
}

func TestRescheduleSupersedesPendingTimer(t *testing.T) {
	w := &Watcher{
		debounce: time.Hour,
		ready:    make(chan string, 4),
		done:     make(chan struct{}),
		timers:   make(map[string]*pending),
	}
	defer w.stop()

	w.schedule("/in/photo.png")
	w.mu.Lock()
	first := w.timers["/in/photo.png"]
	w.mu.Unlock()

	w.schedule("/in/photo.png")
	w.mu.Lock()
	second := w.timers["/in/photo.png"]
	w.mu.Unlock()

	if first == second {
		t.Fatal("expected reschedule to replace the pending timer")
	}

	// A stale callback that lost the race with Stop must not queue the path.
	w.fire("/in/photo.png", first)
	if len(w.ready) != 0 {
		t.Fatalf("stale timer queued %d paths", len(w.ready))
	}

	w.fire("/in/photo.png", second)
	if got := <-w.ready; got != "/in/photo.png" {
		t.Fatalf("expected current timer to queue photo.png, got %q", got)
	}
}
