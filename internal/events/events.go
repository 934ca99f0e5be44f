// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events defines the typed events lavasync emits to the embedding
// application. Every event is a concrete struct; switch on the type.
package events

// Kind names an event for logging and filtering.
type Kind string

// Event is implemented by every emitted event.
type Event interface {
	Kind() Kind
}

const (
	KindNodeCreate       Kind = "node.create"
	KindNodeConnect      Kind = "node.connect"
	KindNodeReady        Kind = "node.ready"
	KindNodeResumed      Kind = "node.resumed"
	KindNodeDisconnect   Kind = "node.disconnect"
	KindNodeReconnecting Kind = "node.reconnecting"
	KindNodeError        Kind = "node.error"
	KindNodeDestroy      Kind = "node.destroy"
	KindNodeRaw          Kind = "node.raw"

	KindPlayerCreate       Kind = "player.create"
	KindPlayerDestroy      Kind = "player.destroy"
	KindPlayerUpdate       Kind = "player.update"
	KindPlayerMove         Kind = "player.move"
	KindPlayerDisconnect   Kind = "player.disconnect"
	KindPlayerSocketClosed Kind = "player.socket_closed"
	KindPlayerNodeChange   Kind = "player.node_change"
	KindTrackStart         Kind = "track.start"
	KindTrackEnd           Kind = "track.end"
	KindTrackStuck         Kind = "track.stuck"
	KindTrackError         Kind = "track.error"
	KindQueueEnd           Kind = "queue.end"
	KindSegments           Kind = "player.segments"
	KindChapters           Kind = "player.chapters"
	KindLyrics             Kind = "player.lyrics"

	KindQueueChange Kind = "queue.change"
)
