// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package protocol contains the wire types exchanged with an audio node over
// its websocket and REST interfaces.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
)

// Version is the REST/websocket protocol version path segment.
const Version = "v4"

// Op discriminates inbound websocket frames.
type Op string

const (
	OpReady        Op = "ready"
	OpStats        Op = "stats"
	OpPlayerUpdate Op = "playerUpdate"
	OpEvent        Op = "event"
)

var (
	// ErrUnknownOp is returned for frames with an op outside the known set.
	ErrUnknownOp = errors.New("protocol: unknown op")
	// ErrUnknownEvent is returned for event frames with an unrecognised type.
	ErrUnknownEvent = errors.New("protocol: unknown event type")
)

// Message is a decoded inbound frame.
type Message interface {
	Op() Op
}

// Ready is sent once after the websocket handshake.
type Ready struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

func (Ready) Op() Op { return OpReady }

// PlayerState is the remote view of a player's progress.
type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int64 `json:"ping"`
}

// PlayerUpdate carries a periodic PlayerState for one guild.
type PlayerUpdate struct {
	GuildID snowflake.ID `json:"guildId"`
	State   PlayerState  `json:"state"`
}

func (PlayerUpdate) Op() Op { return OpPlayerUpdate }

// Memory is the memory section of a stats frame, in bytes.
type Memory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// CPU is the cpu section of a stats frame.
type CPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// FrameStats is reported only when at least one player is active.
type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// Stats is pushed roughly once a minute and returned by the stats endpoint.
type Stats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         Memory      `json:"memory"`
	CPU            CPU         `json:"cpu"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`
}

func (Stats) Op() Op { return OpStats }

type opHeader struct {
	Op Op `json:"op"`
}

// DecodeFrame decodes one inbound websocket frame. Event frames decode to the
// concrete Event variant. Unknown ops return ErrUnknownOp; unknown event types
// return an UnknownEvent together with ErrUnknownEvent.
func DecodeFrame(data []byte) (Message, error) {
	var h opHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch h.Op {
	case OpReady:
		var m Ready
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.Op, err)
		}
		return m, nil
	case OpStats:
		var m Stats
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.Op, err)
		}
		return m, nil
	case OpPlayerUpdate:
		var m PlayerUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.Op, err)
		}
		return m, nil
	case OpEvent:
		return DecodeEvent(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, h.Op)
	}
}
