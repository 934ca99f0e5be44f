package voice

import (
	"context"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
)

// DisgoSender sends Updates through a disgo gateway client.
type DisgoSender struct {
	Client *bot.Client
}

func (s DisgoSender) SendVoiceUpdate(ctx context.Context, u Update) error {
	return s.Client.UpdateVoiceState(ctx, u.GuildID, u.ChannelID, u.SelfMute, u.SelfDeaf)
}

// Listeners returns disgo event listeners that translate voice related
// gateway events into Packets and pass them to handle. Voice state updates of
// other users are filtered out.
func Listeners(handle func(ctx context.Context, p Packet)) []bot.EventListener {
	return []bot.EventListener{
		bot.NewListenerFunc(func(e *events.GuildVoiceStateUpdate) {
			if e.VoiceState.UserID != e.Client().ID() {
				return
			}
			handle(context.Background(), StateUpdate{
				GuildID:   e.VoiceState.GuildID,
				UserID:    e.VoiceState.UserID,
				ChannelID: e.VoiceState.ChannelID,
				SessionID: e.VoiceState.SessionID,
				SelfMute:  e.VoiceState.SelfMute,
				SelfDeaf:  e.VoiceState.SelfDeaf,
			})
		}),
		bot.NewListenerFunc(func(e *events.VoiceServerUpdate) {
			p := ServerUpdate{GuildID: e.GuildID, Token: e.Token}
			if e.Endpoint != nil {
				p.Endpoint = *e.Endpoint
			}
			handle(context.Background(), p)
		}),
		bot.NewListenerFunc(func(e *events.GuildChannelDelete) {
			handle(context.Background(), ChannelDelete{GuildID: e.GuildID, ChannelID: e.ChannelID})
		}),
	}
}
