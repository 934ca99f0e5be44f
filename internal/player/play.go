package player

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/resolver"
	"github.com/ManuGH/lavasync/internal/telemetry"
	"github.com/ManuGH/lavasync/internal/track"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("github.com/ManuGH/lavasync/internal/player")

// PlayOptions selects what Play starts. At most one of Track, Encoded and
// Identifier is used, in that order; with none set the queue is played.
type PlayOptions struct {
	// Track interrupts the current track.
	Track      *track.Item
	Encoded    string
	Identifier string
	Requester  *track.Requester
	Position   *time.Duration
	EndTime    *time.Duration
	Volume     *int
	Paused     *bool
	Filters    *protocol.Filters
	UserData   json.RawMessage
	NoReplace  bool
}

// Play starts the current queue entry, or the source named in o, on the
// node. Unresolved entries are resolved first.
func (p *Player) Play(ctx context.Context, o PlayOptions) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.stopEmptyTimer()

	interrupt, err := p.pickSource(ctx, o)
	if err != nil {
		return err
	}
	if p.queue.Current() == nil && p.queue.Len() > 0 {
		p.queue.Advance(ctx, false)
	}
	cur := p.queue.Current()
	if cur == nil {
		return ErrNothingToPlay
	}

	t, err := p.resolve(ctx, *cur)
	if err != nil {
		metrics.IncTrackError("resolve")
		p.emit(events.TrackError{GuildID: p.guildID, Item: *cur, Err: err})
		if p.opts.AutoSkipOnResolveError && p.queue.Len() > 0 {
			p.logger.Warn().Err(err).Str(log.FieldTrack, cur.String()).Msg("resolve failed, skipping")
			p.queue.Advance(ctx, false)
			o.Track, o.Encoded, o.Identifier = nil, "", ""
			return p.Play(ctx, o)
		}
		return fmt.Errorf("play %s: %w", cur, err)
	}

	u, err := p.playPayload(t, o)
	if err != nil {
		return err
	}
	noReplace := o.NoReplace && !interrupt

	p.mu.Lock()
	p.length = t.Info.Length
	p.stream = t.Info.IsStream
	p.mu.Unlock()

	ctx, span := tracer.Start(ctx, "lavasync.player.play",
		trace.WithAttributes(telemetry.PlayerAttributes(p.guildID.String(), t.Info.Identifier)...))
	defer span.End()
	if _, err := p.sync(ctx, u, noReplace); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "play failed")
		return fmt.Errorf("play %s: %w", t.Info.Title, err)
	}
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
	p.logger.Debug().
		Str(log.FieldTrack, t.Info.Title).
		Bool("noReplace", noReplace).
		Msg("play")
	return nil
}

// pickSource puts an explicitly requested track at the head of the queue and
// makes it current. It reports whether a client track interrupted playback.
func (p *Player) pickSource(ctx context.Context, o PlayOptions) (bool, error) {
	var (
		item      track.Item
		interrupt bool
	)
	switch {
	case o.Track != nil:
		item = *o.Track
		interrupt = true
	case o.Encoded != "":
		t, err := p.Node().DecodeTrack(ctx, o.Encoded)
		if err != nil {
			return false, fmt.Errorf("decode track: %w", err)
		}
		item = track.Resolved(t.WithRequester(o.Requester))
	case o.Identifier != "":
		res, err := p.Node().LoadTracks(ctx, o.Identifier)
		if err != nil {
			return false, fmt.Errorf("load %q: %w", o.Identifier, err)
		}
		if res.Exception != nil {
			return false, fmt.Errorf("load %q: %w", o.Identifier, res.Exception)
		}
		if len(res.Tracks) == 0 {
			return false, fmt.Errorf("load %q: %w", o.Identifier, resolver.ErrNoResults)
		}
		item = track.Resolved(res.Tracks[0].WithRequester(o.Requester))
	default:
		return false, nil
	}
	if item.IsZero() {
		return false, track.ErrInvalidItem
	}
	if err := p.queue.Insert(ctx, 0, item); err != nil {
		return false, err
	}
	p.queue.Advance(ctx, false)
	return interrupt, nil
}

// resolve returns the playable form of item, replacing it in the queue when
// it had to be resolved.
func (p *Player) resolve(ctx context.Context, item track.Item) (track.Track, error) {
	if t, ok := item.Track(); ok {
		return t, nil
	}
	u, ok := item.Unresolved()
	if !ok {
		return track.Track{}, track.ErrInvalidItem
	}
	t, err := resolver.Resolve(ctx, p.Node(), u, resolver.Options{
		DefaultSource: p.opts.searchPlatform(),
		Policy:        p.opts.MergePolicy,
	})
	if err != nil {
		return track.Track{}, err
	}
	p.queue.ReplaceCurrent(ctx, item, track.Resolved(t))
	return t, nil
}

func (p *Player) playPayload(t track.Track, o PlayOptions) (protocol.UpdatePlayer, error) {
	length := t.Info.Length
	bounded := length > 0 && !t.Info.IsStream
	ms := func(d time.Duration) int64 { return d.Milliseconds() }

	u := protocol.UpdatePlayer{Paused: o.Paused, Filters: o.Filters}
	if o.Position != nil {
		pos := ms(*o.Position)
		if pos < 0 || (bounded && pos >= length) {
			return u, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidPosition, pos, length)
		}
		u.Position = &pos
	}
	if o.EndTime != nil {
		end := ms(*o.EndTime)
		if end < 0 || (bounded && end >= length) {
			return u, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidEndTime, end, length)
		}
		if u.Position != nil && end <= *u.Position {
			return u, fmt.Errorf("%w: %d not after position %d", ErrInvalidEndTime, end, *u.Position)
		}
		u.EndTime = &end
	}
	if o.Volume != nil {
		if *o.Volume < 0 {
			return u, ErrInvalidVolume
		}
		p.volumeInto(&u, *o.Volume, false)
	} else {
		p.mu.Lock()
		p.remoteVolumeIntoLocked(&u, p.remoteVolume)
		p.mu.Unlock()
	}

	enc := t.Encoded
	data := o.UserData
	if len(data) == 0 {
		data = t.UserData
	}
	u.Track = &protocol.UpdatePlayerTrack{Encoded: &enc, UserData: data}
	return u, nil
}

// Stop clears the current track without advancing the queue.
func (p *Player) Stop(ctx context.Context) error {
	if err := p.alive(); err != nil {
		return err
	}
	if p.Playing() {
		p.setFlag(&p.stopping, true)
	}
	if _, err := p.sync(ctx, protocol.UpdatePlayer{Track: &protocol.UpdatePlayerTrack{Stop: true}}, false); err != nil {
		p.setFlag(&p.stopping, false)
		return fmt.Errorf("stop: %w", err)
	}
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	return nil
}

// Skip ends the current track. With skipTo > 1 the skipTo-1 tracks before
// the target are dropped first. While playing, the queue advances on the
// track end event the node sends back. An idle player with no current entry
// starts the queue; one that still holds a stopped entry advances at once.
func (p *Player) Skip(ctx context.Context, skipTo int, throwIfEmpty bool) error {
	if err := p.alive(); err != nil {
		return err
	}
	n := p.queue.Len()
	if n == 0 && throwIfEmpty {
		return ErrQueueEmpty
	}
	if skipTo > 1 {
		if skipTo > n {
			return fmt.Errorf("%w: %d of %d", ErrSkipOutOfRange, skipTo, n)
		}
		if _, err := p.queue.Splice(ctx, 0, skipTo-1); err != nil {
			return err
		}
	}
	if !p.Playing() {
		cur := p.queue.Current()
		if cur == nil {
			return p.Play(ctx, PlayOptions{})
		}
		// The node has nothing to end, so no track end event will follow.
		var last *track.Track
		if t, ok := cur.Track(); ok {
			last = &t
		}
		return p.advance(ctx, last, p.RepeatMode(), true)
	}
	p.setFlag(&p.skipping, true)
	if _, err := p.sync(ctx, protocol.UpdatePlayer{Track: &protocol.UpdatePlayerTrack{Stop: true}}, false); err != nil {
		p.setFlag(&p.skipping, false)
		return fmt.Errorf("skip: %w", err)
	}
	return nil
}

// Pause pauses playback. Pausing an already paused player that is still
// playing is a no-op.
func (p *Player) Pause(ctx context.Context) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	paused, playing := p.paused, p.playing
	p.mu.Unlock()
	if paused {
		if !playing {
			return ErrAlreadyPaused
		}
		return nil
	}
	t := true
	if _, err := p.sync(ctx, protocol.UpdatePlayer{Paused: &t}, false); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Resume resumes a paused player; it is a no-op when not paused.
func (p *Player) Resume(ctx context.Context) error {
	if err := p.alive(); err != nil {
		return err
	}
	if !p.Paused() {
		return nil
	}
	f := false
	if _, err := p.sync(ctx, protocol.UpdatePlayer{Paused: &f}, false); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

// Seek moves playback to pos, clamped to the track length.
func (p *Player) Seek(ctx context.Context, pos time.Duration) error {
	if err := p.alive(); err != nil {
		return err
	}
	cur := p.queue.Current()
	if cur == nil {
		return ErrNothingPlaying
	}
	t, ok := cur.Track()
	if !ok || !t.Seekable() {
		return fmt.Errorf("%w: %s", ErrNotSeekable, cur)
	}
	ms := min(max(pos.Milliseconds(), 0), t.Info.Length)
	if _, err := p.sync(ctx, protocol.UpdatePlayer{Position: &ms}, false); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// SetVolume sets the display volume, clamped to [0, MaxVolume]. The node
// receives it scaled by the decrementer unless ignoreDecrementer is set.
func (p *Player) SetVolume(ctx context.Context, vol int, ignoreDecrementer bool) error {
	if err := p.alive(); err != nil {
		return err
	}
	var u protocol.UpdatePlayer
	p.volumeInto(&u, vol, ignoreDecrementer)
	if _, err := p.sync(ctx, u, false); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	return nil
}

// volumeInto records vol as the display volume and puts the scaled value
// into u, as plain volume or as volume filter.
func (p *Player) volumeInto(u *protocol.UpdatePlayer, vol int, ignoreDecrementer bool) {
	vol = clampVolume(vol)
	remote := vol
	if !ignoreDecrementer {
		remote = p.opts.scale(vol)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = vol
	p.remoteVolumeIntoLocked(u, remote)
}

// remoteVolumeIntoLocked puts the already scaled remote volume into u.
func (p *Player) remoteVolumeIntoLocked(u *protocol.UpdatePlayer, remote int) {
	if !p.opts.ApplyVolumeAsFilter {
		u.Volume = &remote
		return
	}
	var f protocol.Filters
	if u.Filters != nil {
		f = u.Filters.Clone()
	} else {
		f = p.filters.Clone()
	}
	gain := float64(remote) / 100
	f.Volume = &gain
	u.Filters = &f
}

// Search loads query from the node, prefixed for source or the default
// search platform.
func (p *Player) Search(ctx context.Context, query, source string) (protocol.LoadResult, error) {
	q := resolver.BuildQuery(query, source, p.opts.searchPlatform())
	res, err := p.Node().LoadTracks(ctx, q)
	if err != nil {
		return res, fmt.Errorf("search %q: %w", q, err)
	}
	return res, nil
}

// Lyrics loads lyrics of the playing track. Nil means none were found.
func (p *Player) Lyrics(ctx context.Context, skipTrackSource bool) (*protocol.Lyrics, error) {
	return p.Node().GetCurrentLyrics(ctx, p.guildID, skipTrackSource)
}

func (p *Player) SubscribeLyrics(ctx context.Context, skipTrackSource bool) error {
	return p.Node().SubscribeLyrics(ctx, p.guildID, skipTrackSource)
}

func (p *Player) UnsubscribeLyrics(ctx context.Context) error {
	return p.Node().UnsubscribeLyrics(ctx, p.guildID)
}

// SponsorBlock returns the segment categories skipped for this guild.
func (p *Player) SponsorBlock(ctx context.Context) ([]string, error) {
	return p.Node().GetSponsorBlock(ctx, p.guildID)
}

func (p *Player) SetSponsorBlock(ctx context.Context, categories []string) error {
	return p.Node().SetSponsorBlock(ctx, p.guildID, categories)
}

func (p *Player) DeleteSponsorBlock(ctx context.Context) error {
	return p.Node().DeleteSponsorBlock(ctx, p.guildID)
}
