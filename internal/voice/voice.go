// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package voice carries voice-gateway payloads between the embedding Discord
// client and lavasync. lavasync never opens a gateway connection itself: it
// hands outbound Updates to a Sender and consumes inbound Packets.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
)

// ErrUnsupportedPacket is returned by DecodePacket for dispatches that carry
// no voice information.
var ErrUnsupportedPacket = errors.New("voice: unsupported packet")

// Update is the "set voice state" directive for one guild. A nil ChannelID
// leaves the voice channel.
type Update struct {
	GuildID   snowflake.ID
	ChannelID *snowflake.ID
	SelfMute  bool
	SelfDeaf  bool
}

// Sender transmits Updates over the embedding client's gateway connection.
type Sender interface {
	SendVoiceUpdate(ctx context.Context, u Update) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, u Update) error

func (f SenderFunc) SendVoiceUpdate(ctx context.Context, u Update) error { return f(ctx, u) }

// Packet is an inbound gateway dispatch relevant to voice.
type Packet interface {
	Guild() snowflake.ID
}

// ServerUpdate carries fresh voice server credentials. An empty Endpoint
// means the voice server went away and a new one will follow.
type ServerUpdate struct {
	GuildID  snowflake.ID `json:"guild_id"`
	Token    string       `json:"token"`
	Endpoint string       `json:"endpoint"`
}

// StateUpdate is a voice state change of one user. A nil ChannelID means the
// user left voice.
type StateUpdate struct {
	GuildID   snowflake.ID  `json:"guild_id"`
	UserID    snowflake.ID  `json:"user_id"`
	ChannelID *snowflake.ID `json:"channel_id"`
	SessionID string        `json:"session_id"`
	SelfMute  bool          `json:"self_mute"`
	SelfDeaf  bool          `json:"self_deaf"`
}

// ChannelDelete reports a deleted guild channel.
type ChannelDelete struct {
	GuildID   snowflake.ID `json:"guild_id"`
	ChannelID snowflake.ID `json:"id"`
}

func (p ServerUpdate) Guild() snowflake.ID  { return p.GuildID }
func (p StateUpdate) Guild() snowflake.ID   { return p.GuildID }
func (p ChannelDelete) Guild() snowflake.ID { return p.GuildID }

// DecodePacket decodes a raw gateway dispatch ({"t": ..., "d": ...}).
func DecodePacket(raw []byte) (Packet, error) {
	var env struct {
		T string          `json:"t"`
		D json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode dispatch: %w", err)
	}
	var p Packet
	switch env.T {
	case "VOICE_SERVER_UPDATE":
		var v ServerUpdate
		if err := json.Unmarshal(env.D, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.T, err)
		}
		p = v
	case "VOICE_STATE_UPDATE":
		var v StateUpdate
		if err := json.Unmarshal(env.D, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.T, err)
		}
		p = v
	case "CHANNEL_DELETE":
		var v ChannelDelete
		if err := json.Unmarshal(env.D, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.T, err)
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPacket, env.T)
	}
	if p.Guild() == 0 {
		return nil, fmt.Errorf("%w: %s without guild", ErrUnsupportedPacket, env.T)
	}
	return p, nil
}
