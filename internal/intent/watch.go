package intent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// WatchCatalog reloads the catalog at path whenever the file changes and
// hands each successfully parsed version to apply. The parent directory is
// watched so that editors replacing the file by rename are noticed. It blocks
// until ctx is cancelled.
func WatchCatalog(ctx context.Context, path string, logger *slog.Logger, apply func(*Catalog) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Info("watching dialog catalog", "path", path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			cat, err := LoadCatalog(path, logger)
			if err != nil {
				logger.Warn("dialog catalog reload failed", "path", path, "err", err)
				continue
			}
			if err := apply(cat); err != nil {
				logger.Warn("dialog catalog rejected", "path", path, "err", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", "err", err)
		}
	}
}
