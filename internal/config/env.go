// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/lavasync/internal/log"
	"github.com/rs/zerolog"
)

// Environment variables read by the loader.
const (
	EnvConfig            = "LAVASYNC_CONFIG"
	EnvLogLevel          = "LAVASYNC_LOG_LEVEL"
	EnvClientID          = "LAVASYNC_CLIENT_ID"
	EnvClientName        = "LAVASYNC_CLIENT_NAME"
	EnvAPIListen         = "LAVASYNC_API_LISTEN"
	EnvAPIRateLimit      = "LAVASYNC_API_RATE_LIMIT"
	EnvQueueBackend      = "LAVASYNC_QUEUE_BACKEND"
	EnvQueuePath         = "LAVASYNC_QUEUE_PATH"
	EnvRedisAddr         = "LAVASYNC_REDIS_ADDR"
	EnvRedisPassword     = "LAVASYNC_REDIS_PASSWORD"
	EnvSearchCache       = "LAVASYNC_SEARCH_CACHE"
	EnvSearchTTL         = "LAVASYNC_SEARCH_TTL"
	EnvDiscordToken      = "LAVASYNC_DISCORD_TOKEN"
	EnvNodeAuthorization = "LAVASYNC_NODE_AUTHORIZATION"
	EnvTelemetryEnabled  = "LAVASYNC_TELEMETRY_ENABLED"
	EnvTelemetryExporter = "LAVASYNC_TELEMETRY_EXPORTER"
	EnvTelemetryEndpoint = "LAVASYNC_TELEMETRY_ENDPOINT"
	EnvTelemetryInsecure = "LAVASYNC_TELEMETRY_INSECURE"
	EnvTelemetrySample   = "LAVASYNC_TELEMETRY_SAMPLE_RATE"
)

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password") || strings.Contains(k, "authorization")
}

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	switch {
	case !exists:
		return defaultValue
	case value == "":
		logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue
	case sensitive(key):
		logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
	default:
		logger.Debug().
			Str("key", key).
			Str("value", value).
			Str("source", "environment").
			Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi, "integer")
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration, "duration")
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }, "float")
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	}, "boolean")
}

func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error), kind string) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Interface("default", defaultValue).
			Msgf("invalid %s in environment variable, using default", kind)
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Interface("value", parsed).
		Str("source", "environment").
		Msg("using environment variable")
	return parsed
}
