package voice

import (
	"context"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacket(t *testing.T) {
	p, err := DecodePacket([]byte(`{"t":"VOICE_SERVER_UPDATE","d":{"guild_id":"42","token":"tok","endpoint":"eu.discord.media"}}`))
	require.NoError(t, err)
	assert.Equal(t, ServerUpdate{GuildID: 42, Token: "tok", Endpoint: "eu.discord.media"}, p)

	p, err = DecodePacket([]byte(`{"t":"VOICE_STATE_UPDATE","d":{"guild_id":"42","user_id":"7","channel_id":"9","session_id":"s1","self_deaf":true}}`))
	require.NoError(t, err)
	st, ok := p.(StateUpdate)
	require.True(t, ok)
	require.NotNil(t, st.ChannelID)
	assert.Equal(t, snowflake.ID(9), *st.ChannelID)
	assert.Equal(t, "s1", st.SessionID)
	assert.True(t, st.SelfDeaf)

	p, err = DecodePacket([]byte(`{"t":"VOICE_STATE_UPDATE","d":{"guild_id":"42","user_id":"7","channel_id":null,"session_id":"s1"}}`))
	require.NoError(t, err)
	assert.Nil(t, p.(StateUpdate).ChannelID)

	p, err = DecodePacket([]byte(`{"t":"CHANNEL_DELETE","d":{"guild_id":"42","id":"9"}}`))
	require.NoError(t, err)
	assert.Equal(t, ChannelDelete{GuildID: 42, ChannelID: 9}, p)
}

func TestDecodePacketRejects(t *testing.T) {
	for name, raw := range map[string]string{
		"other dispatch": `{"t":"MESSAGE_CREATE","d":{}}`,
		"no guild":       `{"t":"CHANNEL_DELETE","d":{"id":"9"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePacket([]byte(raw))
			assert.ErrorIs(t, err, ErrUnsupportedPacket)
		})
	}
	_, err := DecodePacket([]byte(`{`))
	assert.Error(t, err)
}

func TestSenderFunc(t *testing.T) {
	var got Update
	var s Sender = SenderFunc(func(_ context.Context, u Update) error {
		got = u
		return nil
	})
	ch := snowflake.ID(5)
	require.NoError(t, s.SendVoiceUpdate(t.Context(), Update{GuildID: 1, ChannelID: &ch, SelfDeaf: true}))
	assert.Equal(t, snowflake.ID(1), got.GuildID)
	assert.True(t, got.SelfDeaf)
}
