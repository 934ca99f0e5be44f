// SPDX-License-Identifier: MIT

// Package daemon wires configuration into a running lavasync process and
// owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManuGH/lavasync/internal/api"
	"github.com/ManuGH/lavasync/internal/bus"
	"github.com/ManuGH/lavasync/internal/cache"
	"github.com/ManuGH/lavasync/internal/config"
	"github.com/ManuGH/lavasync/internal/health"
	"github.com/ManuGH/lavasync/internal/log"
	playermanager "github.com/ManuGH/lavasync/internal/manager"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/queue/store"
	"github.com/ManuGH/lavasync/internal/telemetry"
	"github.com/ManuGH/lavasync/internal/voice"
	"github.com/rs/zerolog"
)

// ServiceName names the process in traces and logs.
const ServiceName = "lavasync"

// Options carries what the config file cannot.
type Options struct {
	Version string
	// Voice sends voice state updates through the bot's gateway. Nil drops
	// them with a warning, which only suits a status-only deployment.
	Voice voice.Sender
	// Bus overrides the manager's event bus.
	Bus bus.Bus
	// HTTPClient overrides the client used for node REST calls.
	HTTPClient *http.Client
}

// Runtime holds every long-lived component built from one AppConfig.
type Runtime struct {
	Manager *playermanager.Manager
	API     *api.Server
	Health  *health.Manager

	logger zerolog.Logger
	hooks  []namedHook
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Bootstrap builds the runtime. Nothing connects to a node until the App
// runs. On error every component built so far is released.
func Bootstrap(ctx context.Context, cfg config.AppConfig, opts Options) (rt *Runtime, err error) {
	rt = &Runtime{logger: log.WithComponent("bootstrap")}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	if err := health.PerformStartupChecks(cfg); err != nil {
		return rt, fmt.Errorf("startup checks: %w", err)
	}
	rt.initTelemetry(ctx, cfg, opts.Version)

	qs, closer, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return rt, fmt.Errorf("queue store: %w", err)
	}
	rt.addHook("queue_store", closeHook(closer))

	search, err := rt.openSearchCache(ctx, cfg.Search)
	if err != nil {
		return rt, err
	}

	popts, err := cfg.PlayerOptions()
	if err != nil {
		return rt, err
	}
	popts.Queue.Store = qs
	sortKey, err := cfg.SortKey()
	if err != nil {
		return rt, err
	}

	sender := opts.Voice
	if sender == nil {
		sender = voice.SenderFunc(func(_ context.Context, u voice.Update) error {
			rt.logger.Warn().Str(log.FieldGuildID, u.GuildID.String()).Msg("no gateway configured; voice update dropped")
			return nil
		})
	}

	m, err := playermanager.New(playermanager.Config{
		Nodes:       cfg.NodeOptions(),
		Player:      popts,
		SortKey:     sortKey,
		Voice:       sender,
		Bus:         opts.Bus,
		SearchCache: search,
		SearchTTL:   cfg.Search.TTL,
		HTTPClient:  opts.HTTPClient,
	})
	if err != nil {
		return rt, fmt.Errorf("manager: %w", err)
	}
	rt.Manager = m
	rt.addHook("manager", func(ctx context.Context) error {
		m.Close(ctx)
		return nil
	})

	rt.Health = health.NewManager(opts.Version)
	rt.Health.RegisterChecker(health.NewNodeChecker(m.Nodes()))
	if hc, ok := qs.(healthChecker); ok {
		rt.Health.RegisterChecker(health.NewFuncChecker("queue_store", true, hc.HealthCheck))
	}
	if hc, ok := search.(healthChecker); ok {
		rt.Health.RegisterChecker(health.NewFuncChecker("search_cache", false, hc.HealthCheck))
	}

	apiCfg := api.Config{RateLimit: cfg.API.RateLimit}
	if cfg.Telemetry.Enabled {
		apiCfg.TracingService = ServiceName
	}
	rt.API = api.New(apiCfg, m, rt.Health)
	return rt, nil
}

func (rt *Runtime) initTelemetry(ctx context.Context, cfg config.AppConfig, version string) {
	t := cfg.Telemetry
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        t.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: version,
		ExporterType:   t.Exporter,
		Endpoint:       t.Endpoint,
		Insecure:       t.Insecure,
		SamplingRate:   t.SampleRate,
	})
	if err != nil {
		rt.logger.Warn().Err(err).Msg("telemetry initialization failed, continuing without tracing")
		return
	}
	rt.addHook("telemetry", provider.Shutdown)
	if t.Enabled {
		rt.logger.Info().
			Str("endpoint", t.Endpoint).
			Str("exporter", t.Exporter).
			Float64("sampling_rate", t.SampleRate).
			Msg("telemetry initialized")
	}
}

// openSearchCache returns nil for the memory backend so the manager owns
// its own cache.
func (rt *Runtime) openSearchCache(ctx context.Context, cfg config.SearchConfig) (cache.Cache[protocol.LoadResult], error) {
	switch cfg.Cache {
	case config.SearchCacheNone:
		return cache.Nop[protocol.LoadResult]{}, nil
	case config.SearchCacheRedis:
		c, err := cache.NewRedis[protocol.LoadResult](ctx, cache.RedisConfig{
			Addr:   cfg.RedisAddr,
			Prefix: cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("search cache: %w", err)
		}
		rt.addHook("search_cache", closeHook(c))
		return c, nil
	default:
		return nil, nil
	}
}

func (rt *Runtime) addHook(name string, hook ShutdownHook) {
	rt.hooks = append(rt.hooks, namedHook{name: name, hook: hook})
}

// Register hands the runtime's cleanup to the server manager.
func (rt *Runtime) Register(m Manager) {
	for _, h := range rt.hooks {
		m.RegisterShutdownHook(h.name, h.hook)
	}
	rt.hooks = nil
}

// Close runs the cleanup not yet handed to a server manager, newest first.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.hooks) - 1; i >= 0; i-- {
		if err := rt.hooks[i].hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt.hooks[i].name, err))
		}
	}
	rt.hooks = nil
	return errors.Join(errs...)
}

func closeHook(c io.Closer) ShutdownHook {
	return func(context.Context) error { return c.Close() }
}
