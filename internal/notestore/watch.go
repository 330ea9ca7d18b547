package notestore

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/blob"
)

// EventCallback is called after a watcher-driven index change.
// kind is currently always "deleted".
type EventCallback func(kind, noteID string)

// Watch starts an fsnotify watcher on the audio blob directory and keeps the
// note index consistent with it until ctx is cancelled: when an audio file
// is removed out from under the store, the notes referencing it are dropped.
// Rename events trigger a debounced reconciliation pass.
func Watch(ctx context.Context, l *Local, blobs *blob.Dir, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(blobs.Root()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", blobs.Root()))

	// reconcileTimer debounces rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := Sync(l, logger); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") {
				// Temp files from atomic writes.
				continue
			}

			switch {
			case ev.Op&fsnotify.Remove != 0:
				n, delErr := l.removeByBlob(name)
				if delErr != nil {
					logger.Warn("watcher: remove failed", slog.String("blob", name), slog.String("error", delErr.Error()))
					continue
				}
				if n > 0 {
					logger.Info("watcher: audio removed, notes dropped", slog.String("blob", name), slog.Int64("notes", n))
					if cb != nil {
						cb("deleted", name)
					}
				}

			case ev.Op&fsnotify.Rename != 0:
				scheduleReconcile()
			}

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher: error", slog.String("error", werr.Error()))
		}
	}
}
