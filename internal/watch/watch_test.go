package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

type countingReloader struct {
	calls atomic.Int32
	err   error
}

func (c *countingReloader) Reload(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, w *Watcher) (results chan error) {
	t.Helper()
	results = make(chan error, 16)
	w.reloaded = func(err error) { results <- err }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	return results
}

func TestWatcher_ReloadsOnceAfterBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wine.json")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &countingReloader{}
	results := startWatcher(t, New(path, r, 200*time.Millisecond, quietLogger()))

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case err := <-results:
		if err != nil {
			t.Fatalf("reload err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after file change")
	}

	time.Sleep(400 * time.Millisecond)
	if n := r.calls.Load(); n != 1 {
		t.Errorf("Reload called %d times for one burst, want 1", n)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wine.json")

	r := &countingReloader{}
	results := startWatcher(t, New(path, r, 50*time.Millisecond, quietLogger()))

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-results:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_RenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wine.json")

	r := &countingReloader{err: errors.New("bad artifact")}
	results := startWatcher(t, New(path, r, 50*time.Millisecond, quietLogger()))

	tmp := filepath.Join(dir, "wine.json.tmp")
	if err := os.WriteFile(tmp, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-results:
		if err == nil {
			t.Error("reload error was not reported")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after rename")
	}
}

func TestRun_MissingDirectory(t *testing.T) {
	w := New("/nonexistent/dir/wine.json", &countingReloader{}, 0, quietLogger())
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error watching a missing directory")
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want bool
	}{
		{fsnotify.Write, true},
		{fsnotify.Create, true},
		{fsnotify.Rename, true},
		{fsnotify.Remove, false},
		{fsnotify.Chmod, false},
	}
	for _, tt := range tests {
		if got := relevant(tt.op); got != tt.want {
			t.Errorf("relevant(%v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}
