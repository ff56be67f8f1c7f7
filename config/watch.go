package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Watcher hot-reloads the mutable configuration subset from the YAML overlay
// file. Consumers read the current generation through Mutable(); the swap is
// atomic and a failed reload keeps the previous generation.
type Watcher struct {
	path    string
	log     *slog.Logger
	level   *slog.LevelVar
	current atomic.Pointer[Mutable]
}

// NewWatcher seeds the watcher with the loaded configuration. level may be
// nil when the caller does not route the log level through a LevelVar.
func NewWatcher(cfg *Config, path string, log *slog.Logger, level *slog.LevelVar) *Watcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	w := &Watcher{path: path, log: log, level: level}
	m := cfg.Mutable
	w.current.Store(&m)
	w.applyLevel(m.LogLevel)
	return w
}

// Mutable returns the current mutable configuration generation.
func (w *Watcher) Mutable() Mutable {
	return *w.current.Load()
}

// Run watches the overlay file until ctx is done. Editors replace files
// rather than writing in place, so the watch covers the directory and
// filters to the configured path.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config watch %s: %w", w.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.log.WarnContext(ctx, "config.reload.fail", "err", err)
				continue
			}
			w.log.InfoContext(ctx, "config.reload.ok", "path", w.path)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WarnContext(ctx, "config.watch.err", "err", err)
		}
	}
}

// Reload re-reads the overlay and swaps the mutable generation. The previous
// generation stays live on any failure.
func (w *Watcher) Reload() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	next := w.Mutable()
	if err := yaml.Unmarshal(raw, &next); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if next.LogLevel != "" {
		if _, err := ParseLevel(next.LogLevel); err != nil {
			return err
		}
	}
	w.current.Store(&next)
	w.applyLevel(next.LogLevel)
	return nil
}

func (w *Watcher) applyLevel(s string) {
	if w.level == nil {
		return
	}
	if lvl, err := ParseLevel(s); err == nil {
		w.level.Set(lvl)
	}
}
