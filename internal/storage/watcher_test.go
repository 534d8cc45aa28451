package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type watchRecorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *watchRecorder) onChange(doc Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, doc.ID)
}

func (r *watchRecorder) onRemove(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, docID)
}

func (r *watchRecorder) has(list func(*watchRecorder) []string, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range list(r) {
		if got == id {
			return true
		}
	}
	return false
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatchRootReportsChanges(t *testing.T) {
	store := newTestStore(t)
	rec := &watchRecorder{}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = WatchRoot(ctx, store, slog.Default(), rec.onChange, rec.onRemove)
	}()
	defer func() { cancel(); <-done }()

	// Give the watcher a moment to register the root.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(store.RootDir(), "a.md"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool {
		return rec.has(func(r *watchRecorder) []string { return r.changed }, "a.md")
	})

	// New subdirectories are watched as they appear.
	if err := os.MkdirAll(filepath.Join(store.RootDir(), "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(store.RootDir(), "sub", "b.md"), []byte("nested"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool {
		return rec.has(func(r *watchRecorder) []string { return r.changed }, "sub/b.md")
	})

	if err := os.Remove(filepath.Join(store.RootDir(), "a.md")); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool {
		return rec.has(func(r *watchRecorder) []string { return r.removed }, "a.md")
	})
}

func TestWatchRootIgnoresNonMarkdown(t *testing.T) {
	store := newTestStore(t)
	rec := &watchRecorder{}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = WatchRoot(ctx, store, slog.Default(), rec.onChange, rec.onRemove)
	}()
	defer func() { cancel(); <-done }()

	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(store.RootDir(), "image.png"), []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.RootDir(), "a.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool {
		return rec.has(func(r *watchRecorder) []string { return r.changed }, "a.md")
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, id := range rec.changed {
		if id != "a.md" {
			t.Errorf("unexpected change event for %q", id)
		}
	}
}
