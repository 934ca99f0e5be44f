// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. An empty configPath loads
// defaults and environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the config file path, empty when none is used.
func (l *Loader) Path() string { return l.configPath }

// Load applies defaults, the file and the environment, in that order, and
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	mergeEnv(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg with strict parsing: unknown fields are
// fatal.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv overrides cfg with LAVASYNC_* variables.
func mergeEnv(cfg *AppConfig) {
	cfg.Log.Level = ParseString(EnvLogLevel, cfg.Log.Level)
	cfg.Client.ID = ParseString(EnvClientID, cfg.Client.ID)
	cfg.Client.Name = ParseString(EnvClientName, cfg.Client.Name)
	cfg.API.ListenAddr = ParseString(EnvAPIListen, cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(EnvAPIRateLimit, cfg.API.RateLimit)

	cfg.Queue.Store.Backend = ParseString(EnvQueueBackend, cfg.Queue.Store.Backend)
	cfg.Queue.Store.Path = ParseString(EnvQueuePath, cfg.Queue.Store.Path)
	cfg.Queue.Store.RedisAddr = ParseString(EnvRedisAddr, cfg.Queue.Store.RedisAddr)
	cfg.Queue.Store.RedisPassword = ParseString(EnvRedisPassword, cfg.Queue.Store.RedisPassword)
	cfg.Search.Cache = ParseString(EnvSearchCache, cfg.Search.Cache)
	cfg.Search.TTL = ParseDuration(EnvSearchTTL, cfg.Search.TTL)
	if cfg.Search.Cache == SearchCacheRedis && cfg.Search.RedisAddr == "" {
		cfg.Search.RedisAddr = cfg.Queue.Store.RedisAddr
	}

	cfg.Discord.Token = ParseString(EnvDiscordToken, cfg.Discord.Token)
	if auth := ParseString(EnvNodeAuthorization, ""); auth != "" {
		for i := range cfg.Nodes {
			if cfg.Nodes[i].Authorization == "" {
				cfg.Nodes[i].Authorization = auth
			}
		}
	}

	cfg.Telemetry.Enabled = ParseBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString(EnvTelemetryExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString(EnvTelemetryEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = ParseBool(EnvTelemetryInsecure, cfg.Telemetry.Insecure)
	cfg.Telemetry.SampleRate = ParseFloat(EnvTelemetrySample, cfg.Telemetry.SampleRate)
}
