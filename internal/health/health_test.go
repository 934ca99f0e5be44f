// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/lavasync/internal/config"
	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/node/nodetest"
	"github.com/ManuGH/lavasync/internal/queue/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	m := NewManager("v1.2.3")
	assert.NotNil(t, m)
	assert.Equal(t, "v1.2.3", m.version)
	assert.Empty(t, m.checkers)
}

func TestManager_Health_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks)
}

func TestManager_Health_WithCheckers(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	// Non-verbose: no checks included
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusHealthy, resp.Checks["healthy"].Status)
	assert.Equal(t, StatusDegraded, resp.Checks["degraded"].Status)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name    string
		checks  []Status
		ready   bool
		overall Status
	}{
		{"no checkers", nil, true, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, true, StatusHealthy},
		{"degraded", []Status{StatusHealthy, StatusDegraded}, true, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1.0.0")
			for i, s := range tt.checks {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.ready, resp.Ready)
			assert.Equal(t, tt.overall, resp.Status)
		})
	}
}

func TestManager_ServeHealth(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "test", status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))

	// Liveness never fails on component state.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks, "test")
}

func TestManager_ServeReady(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		code int
	}{
		{"healthy", StatusHealthy, http.StatusOK},
		{"degraded", StatusDegraded, http.StatusOK},
		{"unhealthy", StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1.0.0")
			m.RegisterChecker(&mockChecker{name: "test", status: tt.st})

			rec := httptest.NewRecorder()
			m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.code, rec.Code)

			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.st, resp.Status)
		})
	}
}

func TestNodeChecker(t *testing.T) {
	srv := nodetest.New(t)
	transport := &http.Transport{}
	t.Cleanup(transport.CloseIdleConnections)
	nodes := node.NewManager(node.ManagerConfig{HTTPClient: &http.Client{Transport: transport}})
	t.Cleanup(func() { nodes.DisconnectAll(context.Background(), events.ReasonDisconnectAllNodes, true) })

	c := NewNodeChecker(nodes)
	assert.Equal(t, "nodes", c.Name())

	r := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "no nodes configured", r.Error)

	up, err := nodes.CreateNode(srv.Options("up"))
	require.NoError(t, err)
	r = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "0/1 nodes connected", r.Message)

	require.NoError(t, up.Connect(t.Context(), ""))
	require.Eventually(t, up.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	down := srv.Options("down")
	down.Port = 1
	_, err = nodes.CreateNode(down)
	require.NoError(t, err)
	r = c.Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "1/2 nodes connected", r.Message)
}

func TestFuncChecker(t *testing.T) {
	boom := errors.New("boom")
	ok := NewFuncChecker("store", false, func(context.Context) error { return nil })
	soft := NewFuncChecker("cache", false, func(context.Context) error { return boom })
	hard := NewFuncChecker("store", true, func(context.Context) error { return boom })

	assert.Equal(t, "store", ok.Name())
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	r := soft.Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "boom", r.Error)

	assert.Equal(t, StatusUnhealthy, hard.Check(context.Background()).Status)
}

func TestPerformStartupChecks(t *testing.T) {
	dir := t.TempDir()

	t.Run("memory store", func(t *testing.T) {
		cfg := config.Default()
		require.NoError(t, PerformStartupChecks(cfg))
	})

	t.Run("sqlite store creates parent directory", func(t *testing.T) {
		cfg := config.Default()
		cfg.Queue.Store.Backend = store.BackendSQLite
		cfg.Queue.Store.Path = filepath.Join(dir, "nested", "queue.db")
		require.NoError(t, PerformStartupChecks(cfg))
		_, err := os.Stat(filepath.Join(dir, "nested"))
		assert.NoError(t, err)
	})

	t.Run("badger store uses path as directory", func(t *testing.T) {
		cfg := config.Default()
		cfg.Queue.Store.Backend = store.BackendBadger
		cfg.Queue.Store.Path = filepath.Join(dir, "badger")
		require.NoError(t, PerformStartupChecks(cfg))
		_, err := os.Stat(filepath.Join(dir, "badger"))
		assert.NoError(t, err)
	})

	t.Run("unwritable path", func(t *testing.T) {
		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
		cfg := config.Default()
		cfg.Queue.Store.Backend = store.BackendFile
		cfg.Queue.Store.Path = filepath.Join(blocker, "queues")
		assert.Error(t, PerformStartupChecks(cfg))
	})

	t.Run("bad listen address", func(t *testing.T) {
		cfg := config.Default()
		cfg.API.ListenAddr = "8090"
		assert.Error(t, PerformStartupChecks(cfg))

		cfg.API.ListenAddr = ":99999"
		assert.Error(t, PerformStartupChecks(cfg))
	})
}

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(_ context.Context) CheckResult {
	return CheckResult{Status: m.status}
}
