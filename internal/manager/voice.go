package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/voice"
)

// SendRawData forwards a raw gateway dispatch. Dispatches unrelated to
// voice are ignored.
func (m *Manager) SendRawData(ctx context.Context, raw []byte) error {
	pkt, err := voice.DecodePacket(raw)
	if errors.Is(err, voice.ErrUnsupportedPacket) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.HandlePacket(ctx, pkt)
}

// HandlePacket routes a decoded voice packet to the player of its guild.
// Packets for guilds without a player are dropped.
func (m *Manager) HandlePacket(ctx context.Context, pkt voice.Packet) error {
	p, ok := m.GetPlayer(pkt.Guild())
	if !ok {
		m.logger.Debug().Str(log.FieldGuildID, pkt.Guild().String()).Msg("voice packet without player, dropped")
		return nil
	}
	switch v := pkt.(type) {
	case voice.ServerUpdate:
		return p.HandleVoiceServer(ctx, v)
	case voice.StateUpdate:
		if self := m.Client().ID; self != 0 && v.UserID != self {
			return nil
		}
		return p.HandleVoiceState(ctx, v)
	case voice.ChannelDelete:
		if ch, ok := p.VoiceChannelID(); !ok || ch != v.ChannelID {
			return nil
		}
		m.logger.Info().Str(log.FieldGuildID, pkt.Guild().String()).Msg("voice channel deleted")
		return p.Destroy(ctx, events.ReasonChannelDeleted, true)
	default:
		return fmt.Errorf("%w: %T", voice.ErrUnsupportedPacket, pkt)
	}
}
