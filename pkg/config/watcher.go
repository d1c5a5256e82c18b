package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watch reloads the YAML file at path whenever it is written or replaced and
// passes every configuration that validates to onChange. Invalid files are
// logged and skipped. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger logr.Logger, onChange func(*APMConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file by rename are seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadFromFile(path)
			if err != nil {
				logger.Error(err, "Ignoring invalid configuration change", "file", path)
				continue
			}
			logger.Info("Configuration file changed, reloaded", "file", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "Config watcher error", "file", path)
		}
	}
}
