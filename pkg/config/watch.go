package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/spokehub/pkg/observability"
)

// WatchSpokesFile reloads the registry whenever path changes, until ctx is
// cancelled. The parent directory is watched so that editors and config
// management tools that replace the file by rename are picked up.
func WatchSpokesFile(ctx context.Context, path string, registry *SpokeRegistry, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve spokes file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger = logger.WithField("file", abs)
	logger.Info("Watching spoke registry for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reloadSpokes(abs, registry, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Spoke registry watcher error")
		}
	}
}

func reloadSpokes(path string, registry *SpokeRegistry, logger *observability.Logger) {
	spokes, err := LoadSpokesFile(path)
	if err != nil {
		logger.WithError(err).Error("Failed to reload spoke registry, keeping previous table")
		return
	}
	if err := registry.Replace(spokes); err != nil {
		logger.WithError(err).Error("Invalid spoke registry, keeping previous table")
		return
	}
	logger.WithField("spokes", registry.Len()).Info("Spoke registry reloaded")
}
