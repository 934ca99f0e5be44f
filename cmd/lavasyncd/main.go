// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command lavasyncd runs the lavasync node manager with its status API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/lavasync/internal/config"
	"github.com/ManuGH/lavasync/internal/daemon"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/manager"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/version"
	"github.com/ManuGH/lavasync/internal/voice"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/gateway"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if err := run(strings.TrimSpace(*configPath)); err != nil {
		logger := log.WithComponent("daemon")
		logger.Fatal().Err(err).Msg("lavasyncd stopped")
	}
}

func run(configPath string) error {
	if configPath == "" {
		configPath = strings.TrimSpace(config.ParseString(config.EnvConfig, ""))
	}

	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config %q: %w", configPath, err)
	}

	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Service: daemon.ServiceName,
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str(log.FieldPath, loader.Path()).
		Int("nodes", len(cfg.Nodes)).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := node.ClientInfo{Name: cfg.Client.Name}
	opts := daemon.Options{Version: version.Version}

	// The manager exists only after Bootstrap, but gateway events flow only
	// after OpenGateway below.
	var mgr *manager.Manager
	var gw *bot.Client
	if cfg.Discord.Token != "" {
		gw, err = disgo.New(cfg.Discord.Token,
			bot.WithGatewayConfigOpts(gateway.WithIntents(gateway.IntentGuilds, gateway.IntentGuildVoiceStates)),
			bot.WithCacheConfigOpts(cache.WithCaches(cache.FlagGuilds, cache.FlagVoiceStates)),
			bot.WithEventListeners(voice.Listeners(func(ctx context.Context, p voice.Packet) {
				if err := mgr.HandlePacket(ctx, p); err != nil {
					logger.Debug().Err(err).Str(log.FieldGuildID, p.Guild().String()).Msg("voice packet not applied")
				}
			})...),
		)
		if err != nil {
			return fmt.Errorf("discord client: %w", err)
		}
		client.ID = gw.ID()
		opts.Voice = voice.DisgoSender{Client: gw}
	} else {
		if client.ID, err = cfg.ClientID(); err != nil {
			return err
		}
		logger.Warn().Msg("no discord token configured; voice updates are dropped")
	}

	rt, err := daemon.Bootstrap(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	mgr = rt.Manager

	if gw != nil {
		if err := gw.OpenGateway(ctx); err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
			return fmt.Errorf("open gateway: %w", err)
		}
		defer gw.Close(context.WithoutCancel(ctx))
	}

	servers, err := daemon.NewManager(daemon.DefaultServerConfig(cfg.API.ListenAddr), daemon.Deps{
		Logger:     logger,
		APIHandler: rt.API.Handler(),
	})
	if err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return err
	}

	var holder *config.Holder
	if loader.Path() != "" {
		holder = config.NewHolder(cfg, loader)
	}
	return daemon.NewApp(logger, servers, holder, rt, client).Run(ctx)
}
