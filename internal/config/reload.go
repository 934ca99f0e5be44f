// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/lavasync/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Holder holds configuration with atomic reloading capability.
// It provides thread-safe access to configuration and supports hot reloading
// from file, SIGHUP or a manual trigger.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	epoch   uint64
	loader  *Loader
	logger  zerolog.Logger

	reloadMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig

	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewHolder creates a holder with the already loaded initial config.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current:  initial,
		loader:   loader,
		logger:   log.WithComponent("config"),
		debounce: reloadDebounce,
	}
}

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Epoch counts successful reloads.
func (h *Holder) Epoch() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.epoch
}

// Reload reloads configuration from file and validates it.
// If validation fails, the old configuration is kept and an error is returned.
func (h *Holder) Reload(_ context.Context) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")
	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("new configuration rejected, keeping the current one")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = next
	h.epoch++
	h.mu.Unlock()

	h.logChanges(old, next)
	h.notify(next)
	h.logger.Info().Str("event", "config.reload_success").Msg("configuration reloaded successfully")
	return nil
}

// Watch reloads on file changes and on SIGHUP until ctx ends. Without a
// config file only SIGHUP triggers reloads.
func (h *Holder) Watch(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	var events <-chan fsnotify.Event
	var errs <-chan error
	path := h.loader.Path()
	if path != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			signal.Stop(hup)
			return fmt.Errorf("create watcher: %w", err)
		}
		// Editors replace the file; watching the directory survives that.
		if err := w.Add(filepath.Dir(path)); err != nil {
			_ = w.Close()
			signal.Stop(hup)
			return fmt.Errorf("watch config dir: %w", err)
		}
		h.watcher = w
		events, errs = w.Events, w.Errors
		h.logger.Info().
			Str("event", "config.watcher_started").
			Str(log.FieldPath, path).
			Msg("watching config file for changes")
	}

	go h.watchLoop(ctx, hup, events, errs, filepath.Clean(path))
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, hup chan os.Signal, events <-chan fsnotify.Event, errs <-chan error, path string) {
	defer signal.Stop(hup)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return

		case <-hup:
			h.logger.Info().Str("event", "config.sighup").Msg("SIGHUP received")
			h.reloadLogged(ctx)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str("event", "config.file_changed").
				Str(log.FieldOp, ev.Op.String()).
				Msg("config file changed")
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			h.reloadLogged(ctx)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			h.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

func (h *Holder) reloadLogged(ctx context.Context) {
	if err := h.Reload(ctx); err != nil {
		h.logger.Error().Err(err).Str("event", "config.auto_reload_failed").Msg("automatic config reload failed")
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// Sends never block; a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *Holder) logChanges(old, next AppConfig) {
	d := DiffNodes(old.Nodes, next.Nodes)
	if !d.Empty() {
		h.logger.Info().
			Strs("added", keys(d.Added)).
			Strs("removed", keys(d.Removed)).
			Strs("changed", keys(d.Changed)).
			Msg("config changed: nodes")
	}
	if old.Log.Level != next.Log.Level {
		h.logger.Info().Str("old", old.Log.Level).Str("new", next.Log.Level).Msg("config changed: log.level")
	}
	if !cmp.Equal(old.Player, next.Player) {
		h.logger.Info().Msg("config changed: player (takes effect after restart)")
	}
}
