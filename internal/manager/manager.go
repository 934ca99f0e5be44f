// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manager is the entry point for an embedding bot: it owns the node
// manager and the guild players, routes voice gateway payloads to players and
// publishes every event on a bus.
package manager

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/lavasync/internal/bus"
	"github.com/ManuGH/lavasync/internal/cache"
	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/player"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/queue"
	"github.com/ManuGH/lavasync/internal/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrNotInitialized = errors.New("manager: not initialized")
	ErrClosed         = errors.New("manager: closed")
	ErrNoPlayer       = errors.New("manager: no player for guild")
	ErrNoNodes        = errors.New("manager: no nodes configured")
)

// DefaultSearchTTL is how long search results are cached when Config leaves
// SearchTTL unset.
const DefaultSearchTTL = 5 * time.Minute

// Config wires a Manager.
type Config struct {
	Nodes   []node.Options
	Player  player.Options
	SortKey node.SortKey
	// Voice transmits voice state directives through the bot's gateway.
	Voice voice.Sender
	// Bus receives every event. Nil creates a private MemoryBus that Close
	// shuts down.
	Bus bus.Bus
	// PublishRaw also publishes a NodeRaw event per received frame.
	PublishRaw bool
	// SearchCache caches Search results; nil uses an in-memory cache.
	SearchCache cache.Cache[protocol.LoadResult]
	// SearchTTL <= 0 selects DefaultSearchTTL.
	SearchTTL  time.Duration
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Manager owns the nodes and players of one bot.
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	nodes  *node.Manager
	bus    bus.Bus
	search cache.Cache[protocol.LoadResult]
	owned  []func()

	createMu sync.Mutex

	mu       sync.RWMutex
	players  map[snowflake.ID]*player.Player
	client   node.ClientInfo
	initDone bool
	closed   bool
}

// New validates cfg and registers its nodes. Nothing connects before Init.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Player.Validate(); err != nil {
		return nil, err
	}
	if cfg.SearchTTL <= 0 {
		cfg.SearchTTL = DefaultSearchTTL
	}
	m := &Manager{
		cfg:     cfg,
		logger:  log.WithComponent("manager"),
		bus:     cfg.Bus,
		search:  cfg.SearchCache,
		players: make(map[snowflake.ID]*player.Player),
	}
	if m.bus == nil {
		mb := bus.NewMemoryBus()
		m.bus = mb
		m.owned = append(m.owned, mb.Close)
	}
	if m.search == nil {
		mc := cache.NewMemory[protocol.LoadResult](time.Minute)
		m.search = mc
		m.owned = append(m.owned, mc.Stop)
	}
	m.nodes = node.NewManager(node.ManagerConfig{
		Players:    m,
		Emit:       m.publish,
		HTTPClient: cfg.HTTPClient,
		Dialer:     cfg.Dialer,
	})
	for _, o := range cfg.Nodes {
		if _, err := m.nodes.CreateNode(o); err != nil {
			m.release()
			return nil, fmt.Errorf("node %s: %w", o.Key(), err)
		}
	}
	return m, nil
}

// Nodes returns the node manager.
func (m *Manager) Nodes() *node.Manager { return m.nodes }

// Bus returns the bus events are published on.
func (m *Manager) Bus() bus.Bus { return m.bus }

// Init sets the bot identity and connects every node concurrently. It fails
// only when no node could connect; nodes that failed keep retrying.
func (m *Manager) Init(ctx context.Context, client node.ClientInfo) error {
	if client.ID == 0 {
		return fmt.Errorf("init: %w: missing client id", node.ErrInvalidOptions)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.client = client
	m.mu.Unlock()

	m.nodes.SetClient(client)
	all := m.nodes.Nodes()
	if len(all) == 0 {
		return ErrNoNodes
	}
	err := m.nodes.ConnectAll(ctx)
	connected := 0
	for _, n := range all {
		if n.Connected() {
			connected++
		}
	}
	if connected == 0 && err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err != nil {
		m.logger.Warn().Err(err).Int("connected", connected).Msg("some nodes failed to connect")
	}

	m.mu.Lock()
	m.initDone = true
	m.mu.Unlock()
	m.logger.Info().
		Str("client_id", client.ID.String()).
		Int("nodes", len(all)).
		Int("connected", connected).
		Msg("manager initialized")
	return nil
}

// Initialized reports whether Init succeeded.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initDone
}

// Client returns the bot identity set by Init.
func (m *Manager) Client() node.ClientInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Player implements node.Players.
func (m *Manager) Player(guildID snowflake.ID) (node.Bound, bool) {
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return nil, false
	}
	return p, true
}

// BoundTo implements node.Players.
func (m *Manager) BoundTo(nodeID string) []node.Bound {
	var out []node.Bound
	for _, p := range m.Players() {
		if p.NodeID() == nodeID {
			out = append(out, p)
		}
	}
	return out
}

// GetPlayer returns the player of a guild.
func (m *Manager) GetPlayer(guildID snowflake.ID) (*player.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[guildID]
	return p, ok
}

// Players lists every player ordered by guild id.
func (m *Manager) Players() []*player.Player {
	m.mu.RLock()
	out := make([]*player.Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *player.Player) int { return cmp.Compare(a.GuildID(), b.GuildID()) })
	return out
}

// Close destroys every player, then every node, then releases what New
// created.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	for _, p := range m.Players() {
		if err := p.Destroy(ctx, events.ReasonManagerClosed, true); err != nil {
			m.logger.Warn().Err(err).Str(log.FieldGuildID, p.GuildID().String()).Msg("player destroy failed")
		}
	}
	m.nodes.DisconnectAll(ctx, events.ReasonManagerClosed, true)
	m.release()
	m.logger.Info().Msg("manager closed")
}

func (m *Manager) release() {
	for _, fn := range m.owned {
		fn()
	}
	m.owned = nil
}

// publish routes an event to its bus topic without blocking the caller.
func (m *Manager) publish(ev events.Event) {
	topic := bus.TopicPlayer
	switch ev.(type) {
	case events.NodeRaw:
		if !m.cfg.PublishRaw {
			return
		}
		topic = bus.TopicNode
	case events.NodeEvent:
		topic = bus.TopicNode
	case events.QueueChange:
		topic = bus.TopicQueue
	}
	m.bus.TryPublish(topic, ev)
}

func (m *Manager) unregister(p *player.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.players[p.GuildID()]; ok && cur == p {
		delete(m.players, p.GuildID())
		metrics.PlayersActive.Set(float64(len(m.players)))
	}
}

var _ node.Players = (*Manager)(nil)

// queueOptions attaches the manager's watcher to the queue config of o.
func (m *Manager) queueOptions(o player.Options) player.Options {
	prev := o.Queue.Watcher
	o.Queue.Watcher = queue.WatcherFunc(func(c events.QueueChange) {
		m.publish(c)
		if prev != nil {
			prev.QueueChanged(c)
		}
	})
	return o
}
