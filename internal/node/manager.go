// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package node

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// SortKey names the metric SelectNode ranks by.
type SortKey string

const (
	SortPlayers        SortKey = "players"
	SortPlayingPlayers SortKey = "playingPlayers"
	SortMemory         SortKey = "memory"
	SortCPULavalink    SortKey = "cpuLavalink"
	SortCPUSystem      SortKey = "cpuSystem"
	SortCalls          SortKey = "calls"
	SortPenalties      SortKey = "penalties"
)

// ParseSortKey maps a configured name to a SortKey. Empty means players.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortPlayers, nil
	case SortPlayers, SortPlayingPlayers, SortMemory, SortCPULavalink, SortCPUSystem, SortCalls, SortPenalties:
		return k, nil
	default:
		return "", fmt.Errorf("node: unknown sort key %q", s)
	}
}

// ManagerConfig wires a Manager. Zero values get working defaults.
type ManagerConfig struct {
	Players    Players
	Emit       func(events.Event)
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Manager owns the set of nodes and ranks them for player assignment.
type Manager struct {
	cfg    ManagerConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	client ClientInfo
	nodes  map[string]*Node
	order  []string
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Manager{
		cfg:    cfg,
		logger: log.WithComponent("nodemanager"),
		client: ClientInfo{Name: DefaultClientName},
		nodes:  make(map[string]*Node),
	}
}

// SetPlayers installs the player registry used for frame dispatch.
func (m *Manager) SetPlayers(p Players) {
	m.mu.Lock()
	m.cfg.Players = p
	m.mu.Unlock()
}

// SetClient sets the identity sent on the next connect of every node.
func (m *Manager) SetClient(c ClientInfo) {
	if c.Name == "" {
		c.Name = DefaultClientName
	}
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
}

// Client returns the identity sent to nodes.
func (m *Manager) Client() ClientInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// CreateNode registers a node, or returns the existing node with the same
// identity. It does not connect.
func (m *Manager) CreateNode(opts Options) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	key := opts.Key()

	m.mu.Lock()
	if n, ok := m.nodes[key]; ok {
		m.mu.Unlock()
		return n, nil
	}
	n := newNode(opts, deps{
		client:  m.Client,
		players: registry{m},
		emit:    m.forward,
		release: m.release,
		http:    m.cfg.HTTPClient,
		dialer:  m.cfg.Dialer,
	})
	m.nodes[key] = n
	m.order = append(m.order, key)
	m.mu.Unlock()

	m.logger.Info().Str(log.FieldNodeID, key).Msg("node created")
	m.forward(events.NodeCreate{NodeID: key})
	return n, nil
}

// Node returns the node registered under id.
func (m *Manager) Node(id string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Nodes lists every registered node in creation order.
func (m *Manager) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.nodes[id])
	}
	return out
}

// SelectNode returns the connected nodes ranked ascending by key. Nodes
// advertising region come first; the rest follow, so a region nobody serves
// never empties the result.
func (m *Manager) SelectNode(key SortKey, region string) []*Node {
	var preferred, rest []*Node
	for _, n := range m.Nodes() {
		if !n.Connected() {
			continue
		}
		if region != "" && n.HasRegion(region) {
			preferred = append(preferred, n)
		} else {
			rest = append(rest, n)
		}
	}
	score := scorer(key)
	byScore := func(a, b *Node) int { return cmp.Compare(score(a), score(b)) }
	slices.SortStableFunc(preferred, byScore)
	slices.SortStableFunc(rest, byScore)
	return append(preferred, rest...)
}

// LeastUsed returns the best ranked connected node.
func (m *Manager) LeastUsed(key SortKey, region string) (*Node, error) {
	ranked := m.SelectNode(key, region)
	if len(ranked) == 0 {
		return nil, ErrNoNodes
	}
	return ranked[0], nil
}

func scorer(key SortKey) func(*Node) float64 {
	switch key {
	case SortPlayingPlayers:
		return func(n *Node) float64 { return float64(n.Stats().PlayingPlayers) }
	case SortMemory:
		return func(n *Node) float64 { return float64(n.Stats().Memory.Used) }
	case SortCPULavalink:
		return func(n *Node) float64 { c := n.Stats().CPU; return perCore(c.LavalinkLoad, c.Cores) }
	case SortCPUSystem:
		return func(n *Node) float64 { c := n.Stats().CPU; return perCore(c.SystemLoad, c.Cores) }
	case SortCalls:
		return func(n *Node) float64 { return float64(n.Calls()) }
	case SortPenalties:
		return func(n *Node) float64 { return n.Penalties() }
	default:
		return func(n *Node) float64 { return float64(n.Stats().Players) }
	}
}

func perCore(load float64, cores int) float64 {
	if cores <= 0 {
		return load * 100
	}
	return load / float64(cores) * 100
}

// DeleteNode destroys the node and removes it from the registry.
func (m *Manager) DeleteNode(ctx context.Context, id string) error {
	n, ok := m.Node(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n.Destroy(ctx, events.ReasonNodeDeleted, true)
	return nil
}

// ConnectAll connects every registered node concurrently. Failed nodes keep
// retrying in the background; their errors are joined.
func (m *Manager) ConnectAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, n := range m.Nodes() {
		g.Go(func() error {
			if err := n.Connect(ctx, ""); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("node %s: %w", n.ID(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// DisconnectAll closes every node. With deregister the nodes are destroyed
// and removed.
func (m *Manager) DisconnectAll(ctx context.Context, reason events.DestroyReason, deregister bool) {
	var g errgroup.Group
	for _, n := range m.Nodes() {
		g.Go(func() error {
			n.Destroy(ctx, reason, deregister)
			return nil
		})
	}
	_ = g.Wait()
}

// registry resolves players through whatever SetPlayers installed last.
type registry struct{ m *Manager }

func (r registry) current() Players {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.m.cfg.Players
}

func (r registry) Player(guildID snowflake.ID) (Bound, bool) {
	if p := r.current(); p != nil {
		return p.Player(guildID)
	}
	return nil, false
}

func (r registry) BoundTo(nodeID string) []Bound {
	if p := r.current(); p != nil {
		return p.BoundTo(nodeID)
	}
	return nil
}

func (m *Manager) release(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.nodes[n.ID()]; !ok || cur != n {
		return
	}
	delete(m.nodes, n.ID())
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == n.ID() })
}

// forward re-emits node events to the manager's listener.
func (m *Manager) forward(ev events.Event) {
	if ne, ok := ev.(events.NodeEvent); ok && ev.Kind() != events.KindNodeRaw {
		m.logger.Debug().
			Str(log.FieldNodeID, ne.Node()).
			Str(log.FieldEvent, string(ev.Kind())).
			Msg("node event")
	}
	if m.cfg.Emit != nil {
		m.cfg.Emit(ev)
	}
}
