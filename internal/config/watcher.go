package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultReloadDebounce coalesces the burst of events an editor save
// produces into one reload.
const defaultReloadDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes and pushes the
// repository set into the registry through a RegistrySync. A file that
// fails to parse or validate leaves the previous config active.
type Watcher struct {
	mu       sync.Mutex // serializes Reload
	holder   *Holder
	sync     *RegistrySync
	logger   *slog.Logger
	lookup   LookupEnvFunc
	debounce time.Duration
	onReload func(*Config, SyncReport)
}

// NewWatcher creates a Watcher for holder's config file.
func NewWatcher(holder *Holder, rs *RegistrySync, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		holder:   holder,
		sync:     rs,
		logger:   logger,
		debounce: defaultReloadDebounce,
	}
}

// OnReload registers fn to run after each successful reload.
func (w *Watcher) OnReload(fn func(*Config, SyncReport)) {
	w.onReload = fn
}

// Reload reads the config file once, applies its repositories and
// publishes it through the Holder. Safe to call while Run is active.
func (w *Watcher) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.holder.Path()

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return err
	}

	entries, err := cfg.Entries(w.lookup)
	if err != nil {
		return fmt.Errorf("config: repositories in %s: %w", path, err)
	}

	report, err := w.sync.Apply(entries)
	w.holder.Update(cfg)

	if w.onReload != nil {
		w.onReload(cfg, report)
	}

	return err
}

// Run watches the config file's directory until ctx is canceled. The
// directory is watched rather than the file so that editors replacing the
// file by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	path := filepath.Clean(w.holder.Path())

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(path), err)
	}

	w.logger.Info("watching config file", slog.String("path", path))

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path || !relevant(ev) {
				continue
			}

			w.logger.Debug("config file event", slog.String("op", ev.Op.String()))

			if timer != nil {
				timer.Stop()
			}

			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil

			if err := w.Reload(); err != nil {
				w.logger.Warn("config reload failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				continue
			}

			w.logger.Info("config reloaded", slog.String("path", path))

		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("config watcher error", slog.String("error", werr.Error()))
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}
