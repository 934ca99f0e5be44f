package player

import (
	"context"
	"time"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/track"
)

// Voice websocket close codes after which the node will not reconnect on its
// own.
const (
	closeDisconnected   = 4014
	closeCallTerminated = 4022
)

func (p *Player) onPlayerUpdate(ctx context.Context, st protocol.PlayerState) {
	cur, queued := p.queue.Current(), p.queue.Len()
	p.mu.Lock()
	old := p.eventViewLocked(cur, queued)
	p.remote = st
	p.frames++
	p.setPositionLocked(st.Position)
	next := p.eventViewLocked(cur, queued)
	fix := p.filterFix
	hadVoice := p.voiceState.Complete()
	p.mu.Unlock()

	p.emit(events.PlayerUpdate{GuildID: p.guildID, Old: old, New: next})

	if fix {
		p.filterFixSeek(ctx, st.Position)
	}
	if !st.Connected && hadVoice && p.opts.OnDisconnect.DestroyPlayer && !p.opts.OnDisconnect.AutoReconnect {
		p.logger.Info().Msg("node reports no voice connection, destroying")
		p.warn(p.Destroy(ctx, events.ReasonLavalinkNoVoice, true), "destroy failed")
	}
}

// filterFixSeek re-seeks to pos so a filter change is heard at once. Long
// remote tracks are left alone.
func (p *Player) filterFixSeek(ctx context.Context, pos int64) {
	p.mu.Lock()
	p.filterFix = false
	p.mu.Unlock()

	cur := p.queue.Current()
	if cur == nil {
		return
	}
	info := cur.Info()
	limit := p.opts.MaxFilterFixDuration
	if !info.IsLocal() && limit > 0 && info.Duration() > limit {
		return
	}
	if t, ok := cur.Track(); !ok || !t.Seekable() {
		return
	}
	p.warn(p.Seek(ctx, time.Duration(pos)*time.Millisecond), "filter fix seek failed")
}

func (p *Player) onEvent(ctx context.Context, ev protocol.Event) {
	switch e := ev.(type) {
	case *protocol.TrackStartEvent:
		p.onTrackStart(e)
	case *protocol.TrackEndEvent:
		p.onTrackEnd(ctx, e)
	case *protocol.TrackExceptionEvent:
		p.onTrackException(ctx, e)
	case *protocol.TrackStuckEvent:
		p.onTrackStuck(ctx, e)
	case *protocol.WebSocketClosedEvent:
		p.onSocketClosed(ctx, e)
	case *protocol.SegmentsLoadedEvent:
		p.emit(events.Segments{GuildID: p.guildID, Loaded: e.Segments})
	case *protocol.SegmentSkippedEvent:
		seg := e.Segment
		p.emit(events.Segments{GuildID: p.guildID, Skipped: &seg})
	case *protocol.ChaptersLoadedEvent:
		p.emit(events.Chapters{GuildID: p.guildID, Loaded: e.Chapters})
	case *protocol.ChapterStartedEvent:
		ch := e.Chapter
		p.emit(events.Chapters{GuildID: p.guildID, Started: &ch})
	case *protocol.LyricsFoundEvent:
		l := e.Lyrics
		p.emit(events.Lyrics{GuildID: p.guildID, Found: &l})
	case *protocol.LyricsNotFoundEvent:
		p.emit(events.Lyrics{GuildID: p.guildID})
	case *protocol.LyricsLineEvent:
		line := e.Line
		p.emit(events.Lyrics{GuildID: p.guildID, Line: &line, LineIndex: e.LineIndex, Skipped: e.Skipped})
	default:
		p.logger.Debug().Str(log.FieldEventType, string(ev.Type())).Msg("unhandled event")
	}
}

// eventTrack returns t enriched with what the queue knows about it, since
// the node drops the requester.
func (p *Player) eventTrack(t track.Track) track.Track {
	if cur := p.queue.Current(); cur != nil {
		if ct, ok := cur.Track(); ok && ct.Encoded == t.Encoded {
			return ct
		}
	}
	return t
}

func (p *Player) onTrackStart(e *protocol.TrackStartEvent) {
	p.mu.Lock()
	p.playing = true
	p.paused = false
	p.mu.Unlock()
	t := p.eventTrack(e.Track)
	p.logger.Debug().Str(log.FieldTrack, t.Info.Title).Msg("track started")
	p.emit(events.TrackStart{GuildID: p.guildID, Track: t})
}

func (p *Player) onTrackEnd(ctx context.Context, e *protocol.TrackEndEvent) {
	t := p.eventTrack(e.Track)
	p.mu.Lock()
	if e.Reason != protocol.EndReplaced {
		p.playing = false
	}
	repeat := p.repeat
	stopped, skipped := p.stopping, p.skipping
	p.stopping, p.skipping = false, false
	p.lastTrack = &t
	p.mu.Unlock()

	p.emit(events.TrackEnd{GuildID: p.guildID, Track: t, Reason: e.Reason})

	switch {
	case e.Reason == protocol.EndReplaced, stopped:
		return
	case e.Reason == protocol.EndLoadFailed, e.Reason == protocol.EndCleanup:
		if p.queue.Advance(ctx, false) == nil {
			p.queueEnd(ctx, &t)
			return
		}
		if p.opts.AutoSkip {
			p.warn(p.Play(ctx, PlayOptions{NoReplace: true}), "play after failed track")
		}
		return
	}

	p.warn(p.advance(ctx, &t, repeat, skipped), "play next")
}

// advance moves the queue past last and plays what follows. Track end events
// and skips on an idle player both end up here.
func (p *Player) advance(ctx context.Context, last *track.Track, repeat RepeatMode, skipped bool) error {
	if repeat == RepeatTrack && !skipped {
		return p.Play(ctx, PlayOptions{})
	}
	if p.queue.Advance(ctx, repeat == RepeatQueue) == nil {
		p.queueEnd(ctx, last)
		return nil
	}
	if p.opts.AutoSkip || skipped {
		return p.Play(ctx, PlayOptions{NoReplace: true})
	}
	return nil
}

// queueEnd runs when the queue ran dry: autoplay first, then the optional
// delayed destroy.
func (p *Player) queueEnd(ctx context.Context, last *track.Track) {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()

	if fn := p.opts.OnEmptyQueue.AutoPlay; fn != nil && p.autoplay.Allow() {
		if err := fn(ctx, p, last); err != nil {
			p.logger.Warn().Err(err).Msg("autoplay failed")
		} else if p.queue.Len() > 0 {
			err := p.Play(ctx, PlayOptions{NoReplace: true})
			if err == nil {
				return
			}
			p.warn(err, "autoplay play failed")
		}
	}

	p.emit(events.QueueEnd{GuildID: p.guildID, Last: last})
	p.scheduleEmptyDestroy(ctx)
}

func (p *Player) scheduleEmptyDestroy(ctx context.Context) {
	after := p.opts.OnEmptyQueue.DestroyAfter
	if after == nil {
		return
	}
	if *after <= 0 {
		p.warn(p.Destroy(ctx, events.ReasonQueueEmpty, true), "destroy failed")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	if p.emptyTimer != nil {
		p.emptyTimer.Stop()
	}
	p.emptyTimer = time.AfterFunc(*after, func() {
		if p.queue.Current() != nil || p.queue.Len() > 0 {
			return
		}
		p.warn(p.Destroy(context.Background(), events.ReasonQueueEmpty, true), "destroy failed")
	})
}

func (p *Player) stopEmptyTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.emptyTimer != nil {
		p.emptyTimer.Stop()
		p.emptyTimer = nil
	}
}

func (p *Player) onTrackException(ctx context.Context, e *protocol.TrackExceptionEvent) {
	metrics.IncTrackError("exception")
	item := track.Resolved(p.eventTrack(e.Track))
	exc := e.Exception
	p.logger.Warn().
		Str(log.FieldTrack, e.Track.Info.Title).
		Str("severity", string(exc.Severity)).
		Str("cause", exc.Cause).
		Msg(exc.Message)
	p.emit(events.TrackError{GuildID: p.guildID, Item: item, Exception: &exc, Err: exc})

	if p.errs.Record() {
		p.warn(p.Destroy(ctx, events.ReasonTrackErrorMaxTracksErroredPerTime, true), "destroy failed")
	}
}

func (p *Player) onTrackStuck(ctx context.Context, e *protocol.TrackStuckEvent) {
	metrics.IncTrackError("stuck")
	t := p.eventTrack(e.Track)
	p.emit(events.TrackStuck{GuildID: p.guildID, Track: t, ThresholdMs: e.ThresholdMs})

	if p.stucks.Record() {
		p.warn(p.Destroy(ctx, events.ReasonTrackStuckMaxTracksErroredPerTime, true), "destroy failed")
		return
	}
	if p.opts.AutoSkip {
		p.warn(p.Skip(ctx, 0, false), "skip stuck track")
	}
}

func (p *Player) onSocketClosed(ctx context.Context, e *protocol.WebSocketClosedEvent) {
	p.logger.Info().
		Int("code", e.Code).
		Str(log.FieldReason, e.Reason).
		Bool("byRemote", e.ByRemote).
		Msg("voice socket closed")
	p.emit(events.PlayerSocketClosed{GuildID: p.guildID, Code: e.Code, Reason: e.Reason, ByRemote: e.ByRemote})
	if e.Code == closeDisconnected || e.Code == closeCallTerminated {
		p.mu.Lock()
		ch := p.voiceChannel
		p.mu.Unlock()
		p.onVoiceLost(ctx, events.ReasonDisconnected, ch)
	}
}
