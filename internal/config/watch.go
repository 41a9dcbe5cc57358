package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// Watch reloads path into catalog whenever the file changes, until ctx is
// done. The parent directory is watched so editors that replace the file on
// save are picked up. An invalid file is logged and the previous contents
// stay in effect.
func Watch(ctx context.Context, path string, catalog *Catalog, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&reloadOps == 0 {
				continue
			}
			f, err := reload(target)
			if err != nil {
				logger.Warn("config reload rejected", "path", target, "error", err)
				continue
			}
			catalog.Store(f)
			logger.Info("config reloaded", "path", target, "templates", len(f.Templates))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "path", target, "error", err)
		}
	}
}

// reload refuses an empty file, which is what a truncate-then-write save looks
// like halfway through.
func reload(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return File{}, errors.New("config file is empty")
	}
	return Parse(raw)
}
