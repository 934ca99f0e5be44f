// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the read-mostly status API of the lavasync daemon.
package api

import (
	"context"
	"net/http"

	"github.com/ManuGH/lavasync/internal/api/middleware"
	"github.com/ManuGH/lavasync/internal/health"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/player"
	"github.com/disgoorg/snowflake/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is the part of the manager the API reads and drains.
// *manager.Manager implements it.
type Backend interface {
	Nodes() *node.Manager
	Players() []*player.Player
	GetPlayer(guildID snowflake.ID) (*player.Player, bool)
	MovePlayers(ctx context.Context, from, to string) (int, error)
}

// Config configures the status API.
type Config struct {
	// RateLimit is requests per minute and client IP on /api; 0 disables it.
	RateLimit int
	// TracingService enables server spans under this name.
	TracingService string
}

// Server is the HTTP surface of the daemon.
type Server struct {
	cfg     Config
	backend Backend
	health  *health.Manager
}

// New creates a server. Handler builds the routes.
func New(cfg Config, backend Backend, hm *health.Manager) *Server {
	return &Server{cfg: cfg, backend: backend, health: hm}
}

// HealthManager exposes the health manager for additional checkers.
func (s *Server) HealthManager() *health.Manager { return s.health }

// Handler returns the configured HTTP handler with all routes and middleware applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		EnableLogging:  true,
		TracingService: s.cfg.TracingService,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.APIRateLimit(s.cfg.RateLimit))
		}
		r.Get("/nodes", s.handleNodes)
		r.Get("/nodes/{nodeID}", s.handleNode)
		r.Post("/nodes/{nodeID}/drain", s.handleDrain)
		r.Get("/players", s.handlePlayers)
		r.Get("/players/{guildID}", s.handlePlayer)
		r.Get("/logs", s.handleLogs)
	})
	return r
}
