package config

import (
	"fmt"
	"strings"

	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/queue/store"
	"github.com/ManuGH/lavasync/internal/resolver"
	"github.com/rs/zerolog"
)

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, message string, value any) {
	v.errs = append(v.errs, ValidationError{Field: field, Value: value, Message: message})
}

func (v *validator) port(field string, port int) {
	if port <= 0 || port > 65535 {
		v.add(field, fmt.Sprintf("port must be between 1 and 65535, got %d", port), port)
	}
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

// Validate checks cfg and returns ValidationErrors listing every problem.
func Validate(cfg AppConfig) error {
	v := &validator{}

	if _, err := cfg.ClientID(); err != nil {
		v.add("client.id", "must be a snowflake", cfg.Client.ID)
	}

	seen := make(map[string]int, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		prefix := fmt.Sprintf("nodes[%d]", i)
		if strings.TrimSpace(n.Host) == "" {
			v.add(prefix+".host", "is required", n.Host)
		}
		v.port(prefix+".port", n.Port)
		if n.Secure && n.Port == 80 {
			v.add(prefix+".port", "secure node cannot use port 80", n.Port)
		}
		if n.Authorization == "" {
			v.add(prefix+".authorization", "is required", "")
		}
		if n.RetryAmount < 0 {
			v.add(prefix+".retryAmount", "must not be negative", n.RetryAmount)
		}
		if n.RetryDelay < 0 || n.ResumeTimeout < 0 {
			v.add(prefix, "durations must not be negative", nil)
		}
		key := n.Key()
		if j, dup := seen[key]; dup {
			v.add(prefix+".id", fmt.Sprintf("duplicates nodes[%d]", j), key)
		} else {
			seen[key] = i
		}
	}

	p := cfg.Player
	if p.VolumeDecrementer <= 0 || p.VolumeDecrementer > 1 {
		v.add("player.volumeDecrementer", "must be in (0, 1]", p.VolumeDecrementer)
	}
	if p.MinAutoPlayInterval < 0 {
		v.add("player.minAutoPlayInterval", "must not be negative", p.MinAutoPlayInterval)
	}
	if p.MaxErrorsPerTime.Threshold < 0 || p.MaxErrorsPerTime.MaxAmount < 0 {
		v.add("player.maxErrorsPerTime", "must not be negative", p.MaxErrorsPerTime)
	}
	if d := p.OnEmptyQueue.DestroyAfter; d != nil && *d < 0 {
		v.add("player.onEmptyQueue.destroyAfter", "must not be negative", *d)
	}
	if _, err := resolver.ParseMergePolicy(p.MergePolicy); err != nil {
		v.add("player.mergePolicy", "must be prefer_fetched or fill_missing", p.MergePolicy)
	}
	if _, err := node.ParseSortKey(p.SortKey); err != nil {
		v.add("player.sortKey", "unknown sort key", p.SortKey)
	}
	if _, ok := resolver.SearchPrefix(p.DefaultSearchPlatform); !ok && p.DefaultSearchPlatform != "" {
		v.add("player.defaultSearchPlatform", "unknown search platform", p.DefaultSearchPlatform)
	}

	q := cfg.Queue
	if q.MaxPreviousTracks < 0 {
		v.add("queue.maxPreviousTracks", "must not be negative", q.MaxPreviousTracks)
	}
	switch q.Store.Backend {
	case "", store.BackendMemory:
	case store.BackendRedis:
		if q.Store.RedisAddr == "" {
			v.add("queue.store.redisAddr", "is required for the redis backend", "")
		}
	case store.BackendSQLite, store.BackendBadger, store.BackendFile:
		if q.Store.Path == "" {
			v.add("queue.store.path", "is required for the "+q.Store.Backend+" backend", "")
		}
	default:
		v.add("queue.store.backend", "unknown queue backend", q.Store.Backend)
	}

	switch cfg.Search.Cache {
	case "", SearchCacheMemory, SearchCacheNone:
	case SearchCacheRedis:
		if cfg.Search.RedisAddr == "" {
			v.add("search.redisAddr", "is required for the redis cache", "")
		}
	default:
		v.add("search.cache", "must be memory, redis or none", cfg.Search.Cache)
	}
	if cfg.Search.TTL < 0 {
		v.add("search.ttl", "must not be negative", cfg.Search.TTL)
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		v.add("log.level", "unknown log level", cfg.Log.Level)
	}
	if cfg.API.RateLimit < 0 {
		v.add("api.rateLimit", "must not be negative", cfg.API.RateLimit)
	}

	t := cfg.Telemetry
	if t.Enabled {
		if t.Exporter != ExporterGRPC && t.Exporter != ExporterHTTP {
			v.add("telemetry.exporter", "must be grpc or http", t.Exporter)
		}
		if t.Endpoint == "" {
			v.add("telemetry.endpoint", "is required when telemetry is enabled", "")
		}
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		v.add("telemetry.sampleRate", "must be in [0, 1]", t.SampleRate)
	}

	return v.err()
}
