// Package watch reloads the model when its artifact file changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// Reloader is implemented by predict.Service.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Watcher triggers a reload after the model file has been written, created
// or renamed into place and then left alone for the debounce interval.
type Watcher struct {
	path     string
	reloader Reloader
	debounce time.Duration
	logger   *slog.Logger

	// reloaded, when set, receives the result of every reload attempt.
	reloaded func(error)
}

func New(path string, r Reloader, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: filepath.Clean(path), reloader: r, debounce: debounce, logger: logger}
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file itself so that atomic replace-by-rename is observed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.logger.Info("watching model file", "path", w.path, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !relevant(ev.Op) {
				continue
			}
			w.logger.Debug("model file event", "op", ev.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-timer.C:
			err := w.reloader.Reload(ctx)
			if err != nil {
				w.logger.Error("model reload after file change failed; previous model kept", "path", w.path, "error", err)
			} else {
				w.logger.Info("model reloaded after file change", "path", w.path)
			}
			if w.reloaded != nil {
				w.reloaded(err)
			}
		}
	}
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create) || op.Has(fsnotify.Rename)
}
