package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes and publishes the new Config.
// Reloads that fail to parse or validate are logged and dropped.
type Watcher struct {
	path    string
	logger  *slog.Logger
	updates chan Config
}

func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:    path,
		logger:  logger,
		updates: make(chan Config, 4),
	}
}

// Updates is closed when the watcher stops.
func (w *Watcher) Updates() <-chan Config {
	return w.updates
}

// Start watches the file's directory, so editors that replace the file by rename are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}
	target := filepath.Clean(w.path)

	go func() {
		defer fsw.Close()
		defer close(w.updates)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Warn("config reload failed", "path", ev.Name, "error", err)
					continue
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
				select {
				case w.updates <- cfg:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
