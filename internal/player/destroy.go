package player

import (
	"context"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/voice"
)

// Destroy tears the player down: voice leave (with disconnect), queue
// persistence, registry slot, remote player, then the PlayerDestroy event.
// Concurrent calls share one teardown; later calls return nil.
func (p *Player) Destroy(ctx context.Context, reason events.DestroyReason, disconnect bool) error {
	_, err, _ := p.destroys.Do("destroy", func() (any, error) {
		return nil, p.destroy(ctx, reason, disconnect)
	})
	return err
}

func (p *Player) destroy(ctx context.Context, reason events.DestroyReason, disconnect bool) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	if p.emptyTimer != nil {
		p.emptyTimer.Stop()
		p.emptyTimer = nil
	}
	remote := p.node
	channel := p.voiceChannel
	p.playing = false
	p.destroyReason = reason
	p.mu.Unlock()

	logger := p.logger.With().Str(log.FieldReason, string(reason)).Logger()

	if disconnect && channel != nil && p.voiceTx != nil {
		if err := p.voiceTx.SendVoiceUpdate(ctx, voice.Update{GuildID: p.guildID}); err != nil {
			logger.Warn().Err(err).Msg("voice leave failed")
		}
	}
	if err := p.queue.Destroy(ctx); err != nil {
		logger.Warn().Err(err).Msg("queue cleanup failed")
	}
	if p.release != nil {
		p.release(p)
	}
	err := remote.DestroyPlayer(ctx, p.guildID)
	if err != nil {
		logger.Warn().Err(err).Msg("remote destroy failed")
	}
	metrics.IncPlayerDestroy(string(reason))
	logger.Info().Msg("player destroyed")
	p.emit(events.PlayerDestroy{GuildID: p.guildID, Reason: reason, Err: err})
	close(p.quit)
	return err
}
