package player

import (
	"time"

	"github.com/ManuGH/lavasync/internal/protocol"
)

// remoteView is the part of the player state that updates and node
// responses write.
type remoteView struct {
	Paused     bool
	Volume     int
	Filters    protocol.Filters
	Voice      protocol.VoiceState
	Position   int64
	PositionAt time.Time
	Connected  bool
}

// applyIntent mirrors an outgoing update before it is sent. current is the
// derived position at now.
func applyIntent(v remoteView, u protocol.UpdatePlayer, current int64, now time.Time) remoteView {
	if u.Paused != nil {
		v.Position, v.PositionAt = current, now
		v.Paused = *u.Paused
	}
	if u.Track != nil && !u.Track.Stop && u.Position == nil {
		v.Position, v.PositionAt = 0, now
	}
	if u.Position != nil {
		v.Position, v.PositionAt = *u.Position, now
	}
	if u.Volume != nil {
		v.Volume = *u.Volume
	}
	if u.Filters != nil {
		v.Filters = u.Filters.Clone()
	}
	if u.Voice != nil {
		v.Voice = *u.Voice
	}
	return v
}

// reconcile folds the node's answer to u into v. The response wins for
// pause, volume and filters. Progress is taken from it only when u moved
// playback and raced is false; raced means a playerUpdate frame arrived
// while the call was in flight and already carries newer progress.
func reconcile(v remoteView, u protocol.UpdatePlayer, res protocol.Player, raced bool, now time.Time) remoteView {
	v.Paused = res.Paused
	v.Volume = res.Volume
	v.Filters = res.Filters.Clone()
	if raced {
		return v
	}
	if u.Position != nil || u.Track != nil {
		v.Position, v.PositionAt = res.State.Position, now
	}
	v.Connected = res.State.Connected
	return v
}
