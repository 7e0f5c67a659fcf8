package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchLogLevel re-reads the TOML file at path whenever it changes and
// applies its log_level to lvl. It blocks until ctx is done.
//
// The parent directory is watched so editors that replace the file on
// save are still picked up.
func WatchLogLevel(ctx context.Context, path string, lvl *slog.LevelVar, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			reloadLogLevel(abs, lvl, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "err", err)
		}
	}
}

func reloadLogLevel(path string, lvl *slog.LevelVar, logger *slog.Logger) {
	var cfg Config
	if err := LoadFile(path, &cfg); err != nil {
		logger.Warn("config reload failed", "path", path, "err", err)
		return
	}
	if cfg.LogLevel == "" {
		return
	}
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("config reload rejected", "path", path, "err", err)
		return
	}
	if lvl.Level() != level {
		lvl.Set(level)
		logger.Info("log level changed", "level", level.String())
	}
}
