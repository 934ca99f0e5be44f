// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ManuGH/lavasync/internal/config"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/queue/store"
	"github.com/rs/zerolog"
)

// PerformStartupChecks verifies what validation cannot: that the listen
// address parses and that on-disk queue stores can write their directory.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if addr := cfg.API.ListenAddr; addr != "" {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid API listen address %q: %w", addr, err)
		}
		if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("invalid API listen port %q in %q", port, addr)
		}
	}

	switch s := cfg.Queue.Store; s.Backend {
	case store.BackendSQLite:
		if err := checkWritableDir(logger, filepath.Dir(s.Path)); err != nil {
			return fmt.Errorf("queue store: %w", err)
		}
	case store.BackendBadger, store.BackendFile:
		if err := checkWritableDir(logger, s.Path); err != nil {
			return fmt.Errorf("queue store: %w", err)
		}
	case store.BackendMemory, "":
		logger.Warn().Msg("queue store is in memory; queues are lost on restart")
	}

	if len(cfg.Nodes) == 0 {
		logger.Warn().Msg("no nodes configured; players cannot be created until a reload adds one")
	}
	logger.Info().Msg("startup checks passed")
	return nil
}

func checkWritableDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(probe)
	logger.Debug().Str(log.FieldPath, path).Msg("directory is writable")
	return nil
}
