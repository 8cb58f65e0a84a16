package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// WatchTargets reloads the targets file whenever it changes and passes each
// successfully parsed version to onChange. A file that fails to parse is
// logged and the previous version stays in effect. It blocks until ctx is
// cancelled.
func WatchTargets(ctx context.Context, path string, logger *zap.Logger, onChange func(TargetsFile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	// editors often replace the file, so watch its directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("targets_watch_error", zap.Error(err))
		case <-timer.C:
			f, err := LoadTargets(path)
			if err != nil {
				logger.Warn("targets_reload_failed", zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("targets_reloaded", zap.String("path", path), zap.Int("targets", len(f.Targets)))
			onChange(f)
		}
	}
}
