package player

import (
	"context"
	"fmt"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/voice"
	"github.com/disgoorg/snowflake/v2"
)

// Connect asks the embedding client to join the configured voice channel.
func (p *Player) Connect(ctx context.Context) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	u := voice.Update{GuildID: p.guildID, ChannelID: p.voiceChannel, SelfMute: p.selfMute, SelfDeaf: p.selfDeaf}
	p.mu.Unlock()
	if u.ChannelID == nil {
		return ErrNoVoiceChannel
	}
	return p.sendVoice(ctx, u)
}

// Disconnect asks the embedding client to leave voice. The player stays
// alive.
func (p *Player) Disconnect(ctx context.Context) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	u := voice.Update{GuildID: p.guildID, SelfMute: p.selfMute, SelfDeaf: p.selfDeaf}
	p.mu.Unlock()
	p.setFlag(&p.leaving, true)
	if err := p.sendVoice(ctx, u); err != nil {
		p.setFlag(&p.leaving, false)
		return err
	}
	p.mu.Lock()
	p.voiceChannel = nil
	p.mu.Unlock()
	return nil
}

// VoiceStateChange updates the bot's voice state. Nil fields keep their
// value.
type VoiceStateChange struct {
	ChannelID *snowflake.ID
	SelfMute  *bool
	SelfDeaf  *bool
}

// ChangeVoiceState moves the bot or toggles its mute/deaf flags. Moving to
// the current channel is rejected.
func (p *Player) ChangeVoiceState(ctx context.Context, c VoiceStateChange) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	if c.ChannelID != nil && p.voiceChannel != nil && *c.ChannelID == *p.voiceChannel {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSameVoiceChannel, c.ChannelID)
	}
	if c.ChannelID != nil {
		ch := *c.ChannelID
		p.voiceChannel = &ch
	}
	if c.SelfMute != nil {
		p.selfMute = *c.SelfMute
	}
	if c.SelfDeaf != nil {
		p.selfDeaf = *c.SelfDeaf
	}
	u := voice.Update{GuildID: p.guildID, ChannelID: p.voiceChannel, SelfMute: p.selfMute, SelfDeaf: p.selfDeaf}
	p.mu.Unlock()
	if u.ChannelID == nil {
		return ErrNoVoiceChannel
	}
	return p.sendVoice(ctx, u)
}

func (p *Player) sendVoice(ctx context.Context, u voice.Update) error {
	if p.voiceTx == nil {
		return ErrNoVoiceSender
	}
	if err := p.voiceTx.SendVoiceUpdate(ctx, u); err != nil {
		return fmt.Errorf("send voice update: %w", err)
	}
	return nil
}

// HandleVoiceServer stores fresh voice server credentials and pushes them to
// the node once the voice state is complete.
func (p *Player) HandleVoiceServer(ctx context.Context, u voice.ServerUpdate) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	p.voiceState.Token = u.Token
	p.voiceState.Endpoint = u.Endpoint
	vs := p.voiceState
	p.mu.Unlock()
	if !vs.Complete() {
		return nil
	}
	if _, err := p.sync(ctx, protocol.UpdatePlayer{Voice: &vs}, false); err != nil {
		return fmt.Errorf("push voice server: %w", err)
	}
	return nil
}

// HandleVoiceState applies a voice state update of the bot user.
func (p *Player) HandleVoiceState(ctx context.Context, u voice.StateUpdate) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	old := p.voiceChannel
	if u.ChannelID == nil {
		p.voiceChannel = nil
		p.remote.Connected = false
		p.mu.Unlock()

		var from snowflake.ID
		if old != nil {
			from = *old
		}
		p.logger.Info().Str(log.FieldChannelID, from.String()).Msg("left voice channel")
		p.emit(events.PlayerDisconnect{GuildID: p.guildID, ChannelID: from})
		if p.takeFlag(&p.leaving) {
			return nil
		}
		p.onVoiceLost(ctx, events.ReasonDisconnected, old)
		return nil
	}

	ch := *u.ChannelID
	p.voiceChannel = &ch
	p.selfMute = u.SelfMute
	p.selfDeaf = u.SelfDeaf
	changed := p.voiceState.SessionID != u.SessionID
	p.voiceState.SessionID = u.SessionID
	p.voiceState.ChannelID = ch.String()
	vs := p.voiceState
	p.mu.Unlock()

	if old != nil && *old != ch {
		p.logger.Info().Str(log.FieldChannelID, ch.String()).Msg("moved to voice channel")
		p.emit(events.PlayerMove{GuildID: p.guildID, From: *old, To: ch})
	}
	if !changed || !vs.Complete() {
		return nil
	}
	if _, err := p.sync(ctx, protocol.UpdatePlayer{Voice: &vs}, false); err != nil {
		return fmt.Errorf("push voice state: %w", err)
	}
	return nil
}

// onVoiceLost applies the disconnect policy. channel is the channel the bot
// was in.
func (p *Player) onVoiceLost(ctx context.Context, reason events.DestroyReason, channel *snowflake.ID) {
	pol := p.opts.OnDisconnect
	if pol.AutoReconnect && channel != nil {
		ch := *channel
		p.mu.Lock()
		p.voiceChannel = &ch
		p.mu.Unlock()
		err := p.Connect(ctx)
		if err == nil && p.queue.Current() != nil {
			_, err = p.sync(ctx, p.resumePayload(), false)
		}
		if err == nil {
			p.logger.Info().Str(log.FieldChannelID, ch.String()).Msg("voice reconnected")
			return
		}
		p.warn(err, "voice reconnect failed")
		if pol.DestroyPlayer {
			p.warn(p.Destroy(ctx, events.ReasonPlayerReconnectFail, true), "destroy failed")
		}
		return
	}
	if pol.DestroyPlayer {
		p.warn(p.Destroy(ctx, reason, true), "destroy failed")
	}
}

// resumePayload replays the local state: current track at the current
// position, volume, pause, filters and voice.
func (p *Player) resumePayload() protocol.UpdatePlayer {
	p.mu.Lock()
	pos := p.positionLocked(p.clock.Now())
	vol := p.remoteVolume
	paused := p.paused
	filters := p.filters.Clone()
	vs := p.voiceState
	p.mu.Unlock()

	u := protocol.UpdatePlayer{Volume: &vol, Paused: &paused, Filters: &filters}
	if vs.Complete() {
		u.Voice = &vs
	}
	if cur := p.queue.Current(); cur != nil {
		if t, ok := cur.Track(); ok {
			enc := t.Encoded
			u.Track = &protocol.UpdatePlayerTrack{Encoded: &enc, UserData: t.UserData}
			u.Position = &pos
		}
	}
	return u
}

// ChangeNode moves the player to another node and resumes playback there.
func (p *Player) ChangeNode(ctx context.Context, to Remote) error {
	if err := p.alive(); err != nil {
		return err
	}
	from := p.Node()
	if to == nil || !to.Connected() {
		return ErrNodeUnavailable
	}
	if to.ID() == from.ID() {
		return fmt.Errorf("%w: %s", ErrSameNode, to.ID())
	}

	u := p.resumePayload()
	if err := from.DestroyPlayer(ctx, p.guildID); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldNodeID, from.ID()).Msg("destroy on old node failed")
	}
	p.mu.Lock()
	p.node = to
	p.mu.Unlock()

	if _, err := p.sync(ctx, u, false); err != nil {
		return fmt.Errorf("change node to %s: %w", to.ID(), err)
	}
	if u.Track != nil {
		p.mu.Lock()
		p.playing = true
		p.mu.Unlock()
	}
	p.logger.Info().
		Str("from", from.ID()).
		Str("to", to.ID()).
		Msg("player moved to node")
	p.emit(events.PlayerNodeChange{GuildID: p.guildID, From: from.ID(), To: to.ID()})
	return nil
}
