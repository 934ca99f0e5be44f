package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/player"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/resolver"
	"github.com/disgoorg/snowflake/v2"
)

// PlayerOptions creates one player.
type PlayerOptions struct {
	GuildID        snowflake.ID
	VoiceChannelID snowflake.ID
	TextChannelID  snowflake.ID
	SelfMute       bool
	SelfDeaf       bool
	// Volume is the initial display volume; nil means the default.
	Volume *int
	// Node pins the player to a node id; empty selects the least used node.
	Node   string
	Region string
	// RestoreQueue loads the persisted queue of the guild after creation.
	RestoreQueue bool
}

// CreatePlayer returns the guild's player, creating it on a connected node
// when none exists.
func (m *Manager) CreatePlayer(ctx context.Context, o PlayerOptions) (*player.Player, error) {
	if o.GuildID == 0 {
		return nil, fmt.Errorf("%w: missing guild id", player.ErrInvalidOptions)
	}
	m.createMu.Lock()
	defer m.createMu.Unlock()
	if p, ok := m.GetPlayer(o.GuildID); ok {
		return p, nil
	}
	m.mu.RLock()
	ready, closed := m.initDone, m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ready {
		return nil, ErrNotInitialized
	}

	n, err := m.pickNode(o.Node, o.Region)
	if err != nil {
		return nil, err
	}
	cfg := player.Config{
		GuildID:       o.GuildID,
		TextChannelID: o.TextChannelID,
		SelfMute:      o.SelfMute,
		SelfDeaf:      o.SelfDeaf,
		Volume:        o.Volume,
		Node:          n,
		Options:       m.queueOptions(m.cfg.Player),
		Voice:         m.cfg.Voice,
		Emit:          m.publish,
		Release:       m.unregister,
	}
	if o.VoiceChannelID != 0 {
		ch := o.VoiceChannelID
		cfg.VoiceChannelID = &ch
	}
	p, err := player.New(cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.players[o.GuildID] = p
	metrics.PlayersActive.Set(float64(len(m.players)))
	m.mu.Unlock()

	if o.RestoreQueue {
		if err := p.Queue().Sync(ctx, true, false); err != nil {
			m.logger.Warn().Err(err).Str(log.FieldGuildID, o.GuildID.String()).Msg("queue restore failed")
		}
	}
	m.logger.Info().
		Str(log.FieldGuildID, o.GuildID.String()).
		Str(log.FieldNodeID, n.ID()).
		Msg("player created")
	m.publish(events.PlayerCreate{GuildID: o.GuildID, NodeID: n.ID()})
	return p, nil
}

func (m *Manager) pickNode(id, region string) (*node.Node, error) {
	if id == "" {
		n, err := m.nodes.LeastUsed(m.cfg.SortKey, region)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", player.ErrNodeUnavailable, err)
		}
		return n, nil
	}
	n, ok := m.nodes.Node(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", node.ErrUnknownNode, id)
	}
	if !n.Connected() {
		return nil, fmt.Errorf("%w: %s", player.ErrNodeUnavailable, id)
	}
	return n, nil
}

// DeletePlayer destroys the guild's player and leaves voice.
func (m *Manager) DeletePlayer(ctx context.Context, guildID snowflake.ID, reason events.DestroyReason) error {
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPlayer, guildID)
	}
	if reason == "" {
		reason = events.ReasonDisconnected
	}
	return p.Destroy(ctx, reason, true)
}

// MovePlayers migrates every player of node from to node to. An empty to
// picks the least used other node. It returns how many players moved.
func (m *Manager) MovePlayers(ctx context.Context, from, to string) (int, error) {
	if _, ok := m.nodes.Node(from); !ok {
		return 0, fmt.Errorf("%w: %s", node.ErrUnknownNode, from)
	}
	target, err := m.moveTarget(from, to)
	if err != nil {
		return 0, err
	}

	var (
		moved int
		errs  []error
	)
	for _, p := range m.Players() {
		if p.NodeID() != from {
			continue
		}
		if err := p.ChangeNode(ctx, target); err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", p.GuildID(), err))
			continue
		}
		moved++
	}
	m.logger.Info().
		Str("from", from).
		Str("to", target.ID()).
		Int("moved", moved).
		Int("failed", len(errs)).
		Msg("players moved")
	return moved, errors.Join(errs...)
}

func (m *Manager) moveTarget(from, to string) (*node.Node, error) {
	if to != "" {
		if to == from {
			return nil, fmt.Errorf("%w: %s", player.ErrSameNode, to)
		}
		return m.pickNode(to, "")
	}
	for _, n := range m.nodes.SelectNode(m.cfg.SortKey, "") {
		if n.ID() != from {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: no node besides %s", player.ErrNodeUnavailable, from)
}

// Search loads query on the least used node, prefixed for source or the
// default search platform. Track, playlist and search results are cached.
func (m *Manager) Search(ctx context.Context, query, source string) (protocol.LoadResult, error) {
	q := resolver.BuildQuery(query, source, m.cfg.Player.DefaultSearchPlatform)
	if res, ok := m.search.Get(q); ok {
		return res, nil
	}
	n, err := m.nodes.LeastUsed(m.cfg.SortKey, "")
	if err != nil {
		return protocol.LoadResult{}, err
	}
	res, err := n.LoadTracks(ctx, q)
	if err != nil {
		return res, fmt.Errorf("search %q: %w", q, err)
	}
	switch res.LoadType {
	case protocol.LoadTrack, protocol.LoadPlaylist, protocol.LoadSearch:
		m.search.Set(q, res, m.cfg.SearchTTL)
	}
	return res, nil
}
