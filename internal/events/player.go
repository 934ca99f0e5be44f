package events

import (
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/disgoorg/snowflake/v2"
)

// PlayerCreate is emitted when a player is registered.
type PlayerCreate struct {
	GuildID snowflake.ID
	NodeID  string
}

// PlayerDestroy is emitted once, after the remote destroy settled.
type PlayerDestroy struct {
	GuildID snowflake.ID
	Reason  DestroyReason
	Err     error
}

// PlayerUpdate carries the player as seen before and after a playerUpdate
// frame.
type PlayerUpdate struct {
	GuildID snowflake.ID
	Old     PlayerView
	New     PlayerView
}

// PlayerView is a point-in-time copy of a player's playback state. Position
// is interpolated to the moment the view was taken.
type PlayerView struct {
	NodeID       string
	Volume       int
	RemoteVolume int
	Position     int64
	Playing      bool
	Paused       bool
	Remote       protocol.PlayerState
	Current      *track.Item
	Queued       int
}

// PlayerMove is emitted when the bot is moved to another voice channel.
type PlayerMove struct {
	GuildID snowflake.ID
	From    snowflake.ID
	To      snowflake.ID
}

// PlayerDisconnect is emitted when the bot left the voice channel.
type PlayerDisconnect struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
}

// PlayerSocketClosed mirrors the node's WebSocketClosedEvent.
type PlayerSocketClosed struct {
	GuildID  snowflake.ID
	Code     int
	Reason   string
	ByRemote bool
}

// PlayerNodeChange is emitted after a player migrated between nodes.
type PlayerNodeChange struct {
	GuildID snowflake.ID
	From    string
	To      string
}

type TrackStart struct {
	GuildID snowflake.ID
	Track   track.Track
}

type TrackEnd struct {
	GuildID snowflake.ID
	Track   track.Track
	Reason  protocol.TrackEndReason
}

type TrackStuck struct {
	GuildID     snowflake.ID
	Track       track.Track
	ThresholdMs int64
}

// TrackError is emitted for node exceptions and for resolve failures. Item is
// the queue entry that failed.
type TrackError struct {
	GuildID   snowflake.ID
	Item      track.Item
	Exception *protocol.Exception
	Err       error
}

// QueueEnd is emitted when the queue ran dry and autoplay added nothing.
type QueueEnd struct {
	GuildID snowflake.ID
	Last    *track.Track
}

// Segments forwards SponsorBlock segment events.
type Segments struct {
	GuildID snowflake.ID
	Loaded  []protocol.Segment
	Skipped *protocol.Segment
}

// Chapters forwards chapter events.
type Chapters struct {
	GuildID snowflake.ID
	Loaded  []protocol.Chapter
	Started *protocol.Chapter
}

// Lyrics forwards lyrics plugin events. Found is nil for LyricsNotFound.
type Lyrics struct {
	GuildID   snowflake.ID
	Found     *protocol.Lyrics
	Line      *protocol.LyricsLine
	LineIndex int
	Skipped   bool
}

func (PlayerCreate) Kind() Kind       { return KindPlayerCreate }
func (PlayerDestroy) Kind() Kind      { return KindPlayerDestroy }
func (PlayerUpdate) Kind() Kind       { return KindPlayerUpdate }
func (PlayerMove) Kind() Kind         { return KindPlayerMove }
func (PlayerDisconnect) Kind() Kind   { return KindPlayerDisconnect }
func (PlayerSocketClosed) Kind() Kind { return KindPlayerSocketClosed }
func (PlayerNodeChange) Kind() Kind   { return KindPlayerNodeChange }
func (TrackStart) Kind() Kind         { return KindTrackStart }
func (TrackEnd) Kind() Kind           { return KindTrackEnd }
func (TrackStuck) Kind() Kind         { return KindTrackStuck }
func (TrackError) Kind() Kind         { return KindTrackError }
func (QueueEnd) Kind() Kind           { return KindQueueEnd }
func (Segments) Kind() Kind           { return KindSegments }
func (Chapters) Kind() Kind           { return KindChapters }
func (Lyrics) Kind() Kind             { return KindLyrics }

// GuildEvent is implemented by every guild-scoped event.
type GuildEvent interface {
	Event
	Guild() snowflake.ID
}

func (e PlayerCreate) Guild() snowflake.ID       { return e.GuildID }
func (e PlayerDestroy) Guild() snowflake.ID      { return e.GuildID }
func (e PlayerUpdate) Guild() snowflake.ID       { return e.GuildID }
func (e PlayerMove) Guild() snowflake.ID         { return e.GuildID }
func (e PlayerDisconnect) Guild() snowflake.ID   { return e.GuildID }
func (e PlayerSocketClosed) Guild() snowflake.ID { return e.GuildID }
func (e PlayerNodeChange) Guild() snowflake.ID   { return e.GuildID }
func (e TrackStart) Guild() snowflake.ID         { return e.GuildID }
func (e TrackEnd) Guild() snowflake.ID           { return e.GuildID }
func (e TrackStuck) Guild() snowflake.ID         { return e.GuildID }
func (e TrackError) Guild() snowflake.ID         { return e.GuildID }
func (e QueueEnd) Guild() snowflake.ID           { return e.GuildID }
func (e Segments) Guild() snowflake.ID           { return e.GuildID }
func (e Chapters) Guild() snowflake.ID           { return e.GuildID }
func (e Lyrics) Guild() snowflake.ID             { return e.GuildID }
