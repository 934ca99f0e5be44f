// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store provides the persistent queue.Store backends.
package store

import (
	"context"
	"fmt"
	"io"

	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/queue"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendFile   = "file"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Path    string
	Redis   RedisConfig
}

// Open creates the configured store and validates its codec. The returned
// closer is a no-op for the memory backend.
func Open(ctx context.Context, cfg Config) (queue.Store, io.Closer, error) {
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}

	var (
		s      queue.Store
		closer io.Closer = nopCloser{}
		err    error
	)
	switch cfg.Backend {
	case BackendMemory:
		s = queue.NewMemoryStore()
	case BackendRedis:
		var rs *RedisStore
		rs, err = NewRedisStore(ctx, cfg.Redis)
		s, closer = rs, rs
	case BackendSQLite:
		var ss *SQLiteStore
		ss, err = NewSQLiteStore(cfg.Path)
		s, closer = ss, ss
	case BackendBadger:
		var bs *BadgerStore
		bs, err = OpenBadgerStore(cfg.Path)
		s, closer = bs, bs
	case BackendFile:
		s, err = NewFileStore(cfg.Path)
	default:
		return nil, nil, fmt.Errorf("unknown queue store backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := queue.ValidateStore(s); err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	logger := log.WithComponent("store")
	logger.Info().Str(log.FieldBackend, cfg.Backend).Str(log.FieldPath, cfg.Path).Msg("queue store opened")
	return s, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
