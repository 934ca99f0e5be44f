package config

import (
	"errors"
	"testing"
	"time"
)

func validConfig() AppConfig {
	cfg := Default()
	cfg.Client.ID = "1234"
	cfg.Nodes = []NodeConfig{{ID: "main", Host: "localhost", Port: 2333, Authorization: "pw"}}
	return cfg
}

func TestValidate(t *testing.T) {
	negative := -time.Second
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"missing host", func(c *AppConfig) { c.Nodes[0].Host = " " }, "nodes[0].host"},
		{"port out of range", func(c *AppConfig) { c.Nodes[0].Port = 70000 }, "nodes[0].port"},
		{"secure on port 80", func(c *AppConfig) { c.Nodes[0].Secure = true; c.Nodes[0].Port = 80 }, "nodes[0].port"},
		{"missing authorization", func(c *AppConfig) { c.Nodes[0].Authorization = "" }, "nodes[0].authorization"},
		{"negative retry amount", func(c *AppConfig) { c.Nodes[0].RetryAmount = -1 }, "nodes[0].retryAmount"},
		{"duplicate node", func(c *AppConfig) { c.Nodes = append(c.Nodes, c.Nodes[0]) }, "nodes[1].id"},
		{"bad client id", func(c *AppConfig) { c.Client.ID = "abc" }, "client.id"},
		{"decrementer zero", func(c *AppConfig) { c.Player.VolumeDecrementer = 0 }, "player.volumeDecrementer"},
		{"decrementer above one", func(c *AppConfig) { c.Player.VolumeDecrementer = 1.5 }, "player.volumeDecrementer"},
		{"negative destroy delay", func(c *AppConfig) { c.Player.OnEmptyQueue.DestroyAfter = &negative }, "player.onEmptyQueue.destroyAfter"},
		{"unknown merge policy", func(c *AppConfig) { c.Player.MergePolicy = "newest" }, "player.mergePolicy"},
		{"unknown sort key", func(c *AppConfig) { c.Player.SortKey = "random" }, "player.sortKey"},
		{"unknown search platform", func(c *AppConfig) { c.Player.DefaultSearchPlatform = "altavista" }, "player.defaultSearchPlatform"},
		{"negative previous tracks", func(c *AppConfig) { c.Queue.MaxPreviousTracks = -1 }, "queue.maxPreviousTracks"},
		{"unknown backend", func(c *AppConfig) { c.Queue.Store.Backend = "etcd" }, "queue.store.backend"},
		{"sqlite without path", func(c *AppConfig) { c.Queue.Store.Backend = "sqlite" }, "queue.store.path"},
		{"redis without addr", func(c *AppConfig) { c.Queue.Store.Backend = "redis" }, "queue.store.redisAddr"},
		{"unknown search cache", func(c *AppConfig) { c.Search.Cache = "disk" }, "search.cache"},
		{"bad log level", func(c *AppConfig) { c.Log.Level = "loud" }, "log.level"},
		{"telemetry without endpoint", func(c *AppConfig) { c.Telemetry.Enabled = true }, "telemetry.endpoint"},
		{"sample rate above one", func(c *AppConfig) { c.Telemetry.SampleRate = 2 }, "telemetry.sampleRate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if !verrs.Has(tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Nodes[0].Host = ""
	cfg.Player.MergePolicy = "bogus"
	cfg.Queue.MaxPreviousTracks = -5

	var verrs ValidationErrors
	if !errors.As(Validate(cfg), &verrs) {
		t.Fatal("expected ValidationErrors")
	}
	if len(verrs) != 3 {
		t.Errorf("expected 3 problems, got %d: %v", len(verrs), verrs)
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults must validate, got %v", err)
	}
}
