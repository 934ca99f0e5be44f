// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/lavasync/internal/config"
	"github.com/ManuGH/lavasync/internal/log"
	playermanager "github.com/ManuGH/lavasync/internal/manager"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/rs/zerolog"
)

const initRetryInterval = 5 * time.Second

// App owns the long-lived runtime: config watching, reload wiring and the
// manager's connection to its nodes. Server lifecycle is delegated to Manager.
type App struct {
	logger    zerolog.Logger
	servers   Manager
	cfgHolder *config.Holder
	rt        *Runtime
	client    node.ClientInfo

	current config.AppConfig
}

// NewApp creates a new App orchestrator. cfgHolder may be nil to disable
// reloading.
func NewApp(logger zerolog.Logger, servers Manager, cfgHolder *config.Holder, rt *Runtime, client node.ClientInfo) *App {
	a := &App{
		logger:    logger,
		servers:   servers,
		cfgHolder: cfgHolder,
		rt:        rt,
		client:    client,
	}
	if cfgHolder != nil {
		a.current = cfgHolder.Get()
	}
	return a
}

// Run connects the nodes, starts the API server and applies reloads until
// ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.servers == nil || a.rt == nil {
		return ErrMissingRuntime
	}
	if err := a.initManager(ctx); err != nil {
		_ = a.rt.Close(context.WithoutCancel(ctx))
		return err
	}
	a.rt.Register(a.servers)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		// Config watcher is best-effort: startup should not fail if it cannot start.
		if err := a.cfgHolder.Watch(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case next := <-applyCh:
					a.apply(ctx, next)
				}
			}
		})
	}

	if !a.rt.Manager.Initialized() {
		g.Go(func() error {
			a.retryInit(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return a.servers.Start(ctx)
	})
	return g.Wait()
}

// initManager connects the manager. Only a rejected identity or invalid
// options are fatal; any other failure leaves the manager uninitialized for
// a later retry.
func (a *App) initManager(ctx context.Context) error {
	err := a.rt.Manager.Init(ctx, a.client)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playermanager.ErrNoNodes):
		a.logger.Warn().Msg("no nodes configured; waiting for a config reload")
	case errors.Is(err, node.ErrUnauthorized), errors.Is(err, node.ErrInvalidOptions):
		return fmt.Errorf("init: %w", err)
	default:
		a.logger.Error().Err(err).Msg("no node connected yet; retrying")
	}
	return nil
}

func (a *App) retryInit(ctx context.Context) {
	ticker := time.NewTicker(initRetryInterval)
	defer ticker.Stop()
	for !a.rt.Manager.Initialized() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if len(a.rt.Manager.Nodes().Nodes()) == 0 {
			continue
		}
		if err := a.initManager(ctx); err != nil {
			a.logger.Error().Err(err).Msg("init retry failed")
			return
		}
	}
}

// apply reconciles the running manager with a reloaded config. Player, queue
// and search settings are fixed for the process lifetime.
func (a *App) apply(ctx context.Context, next config.AppConfig) {
	old := a.current
	a.current = next

	if next.Log.Level != old.Log.Level {
		if err := log.SetLevel(next.Log.Level); err != nil {
			a.logger.Warn().Err(err).Str("level", next.Log.Level).Msg("log level not applied")
		}
	}

	nodes := a.rt.Manager.Nodes()
	d := config.DiffNodes(old.Nodes, next.Nodes)
	for _, n := range d.Removed {
		if err := nodes.DeleteNode(ctx, n.Key()); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldNodeID, n.Key()).Msg("node removal failed")
		}
	}
	for _, n := range d.Changed {
		key := n.Key()
		if moved, err := a.rt.Manager.MovePlayers(ctx, key, ""); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldNodeID, key).Int("moved", moved).Msg("players not moved before node restart")
		}
		if err := nodes.DeleteNode(ctx, key); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldNodeID, key).Msg("node restart failed")
			continue
		}
		a.addNode(ctx, n)
	}
	for _, n := range d.Added {
		a.addNode(ctx, n)
	}
}

func (a *App) addNode(ctx context.Context, n config.NodeConfig) {
	created, err := a.rt.Manager.Nodes().CreateNode(n.Options())
	if err != nil {
		a.logger.Error().Err(err).Str(log.FieldNodeID, n.Key()).Msg("node not created")
		return
	}
	if err := created.Connect(ctx, ""); err != nil {
		a.logger.Warn().Err(err).Str(log.FieldNodeID, created.ID()).Msg("node connect failed; retrying in the background")
		return
	}
	a.logger.Info().Str(log.FieldNodeID, created.ID()).Msg("node added from config")
}
