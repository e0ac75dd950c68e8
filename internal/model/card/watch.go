package card

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads the catalog at path whenever the file changes and passes the parsed
// catalog to onChange. The parent directory is watched so editors that replace the file
// through a rename are still observed. Invalid catalogs are logged and skipped.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Catalog)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	logger.Info("catalog watcher: started", slog.String("path", absPath))

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("catalog watcher: stopped")
			return nil

		case <-timerCh:
			timerCh = nil
			catalog, loadErr := LoadCatalog(absPath)
			if loadErr != nil {
				logger.Warn("catalog watcher: reload failed", slog.String("error", loadErr.Error()))
				continue
			}
			logger.Info("catalog watcher: reloaded", slog.Int("cards", len(catalog.Cards)))
			onChange(catalog)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != absPath {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerCh = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("catalog watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
