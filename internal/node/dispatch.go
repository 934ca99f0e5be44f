package node

import (
	"context"
	"math"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/disgoorg/snowflake/v2"
)

// handleFrame runs on the read loop, so frames of one node are applied in
// arrival order.
func (n *Node) handleFrame(data []byte) {
	n.emit(events.NodeRaw{NodeID: n.ID(), Payload: data})

	msg, err := protocol.DecodeFrame(data)
	if err != nil {
		metrics.IncNodeFrame(n.ID(), "")
		n.reportError(err, data)
		return
	}
	metrics.IncNodeFrame(n.ID(), string(msg.Op()))

	switch m := msg.(type) {
	case protocol.Ready:
		n.onReady(m)
	case protocol.Stats:
		n.onStats(m)
	case protocol.PlayerUpdate:
		if p, ok := n.lookup(m.GuildID, "playerUpdate"); ok {
			p.HandlePlayerUpdate(m)
		}
	case protocol.Event:
		if p, ok := n.lookup(m.Guild(), string(m.Type())); ok {
			p.HandleEvent(m)
		}
	}
}

// lookup finds the player bound to this node for guildID. Frames for players
// that moved to another node are dropped.
func (n *Node) lookup(guildID snowflake.ID, what string) (Bound, bool) {
	if n.deps.players != nil {
		if p, ok := n.deps.players.Player(guildID); ok && p.NodeID() == n.ID() {
			return p, true
		}
	}
	n.logger.Debug().
		Str(log.FieldGuildID, guildID.String()).
		Str(log.FieldEventType, what).
		Msg("no player for frame, dropped")
	return nil, false
}

func (n *Node) onReady(m protocol.Ready) {
	n.mu.Lock()
	n.sessionID = m.SessionID
	n.resumeID = ""
	n.mu.Unlock()

	n.fire(triggerReady)
	metrics.SetNodeConnected(n.ID(), true)
	n.logger.Info().
		Str(log.FieldSessionID, m.SessionID).
		Bool("resumed", m.Resumed).
		Msg("session ready")
	n.emit(events.NodeReady{NodeID: n.ID(), SessionID: m.SessionID, Resumed: m.Resumed})

	if n.opts.Resuming == nil && !m.Resumed {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.dialTimeout())
		defer cancel()
		if r := n.opts.Resuming; r != nil {
			if _, err := n.UpdateSession(ctx, true, r.Timeout); err != nil {
				n.reportError(err, nil)
			}
		}
		if !m.Resumed {
			return
		}
		players, err := n.FetchPlayers(ctx)
		if err != nil {
			n.reportError(err, nil)
			return
		}
		n.emit(events.NodeResumed{NodeID: n.ID(), SessionID: m.SessionID, Players: players})
	}()
}

func (n *Node) onStats(m protocol.Stats) {
	n.mu.Lock()
	n.stats = m
	conn := n.conn
	n.mu.Unlock()

	n.alive.Store(true)
	metrics.SetNodePlayers(n.ID(), m.Players, m.PlayingPlayers)
	if n.opts.EnablePingOnStatsCheck && conn != nil {
		n.ping(conn)
	}
}

// Penalties scores the node's load from its last stats frame; lower is
// better. Nodes without stats score zero.
func (n *Node) Penalties() float64 {
	return penalties(n.Stats())
}

func penalties(s protocol.Stats) float64 {
	total := float64(s.PlayingPlayers)
	total += math.Pow(1.05, 100*s.CPU.SystemLoad)*10 - 10
	if f := s.FrameStats; f != nil {
		total += math.Pow(1.03, 500*(float64(f.Deficit)/3000))*600 - 600
		total += (math.Pow(1.03, 500*(float64(f.Nulled)/3000))*300 - 300) * 2
	}
	return total
}
