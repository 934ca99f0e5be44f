// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player implements the per-guild playback state machine. A Player
// owns its queue, mirrors the remote player state of the node it is bound to
// and advances the queue on track end events.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/queue"
	"github.com/ManuGH/lavasync/internal/resilience"
	"github.com/ManuGH/lavasync/internal/resolver"
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/ManuGH/lavasync/internal/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Remote is the node surface a player drives.
type Remote interface {
	resolver.Searcher
	ID() string
	Connected() bool
	Info() (protocol.Info, bool)
	UpdatePlayer(ctx context.Context, guildID snowflake.ID, payload protocol.UpdatePlayer, noReplace bool) (protocol.Player, error)
	DestroyPlayer(ctx context.Context, guildID snowflake.ID) error
	GetCurrentLyrics(ctx context.Context, guildID snowflake.ID, skipTrackSource bool) (*protocol.Lyrics, error)
	SubscribeLyrics(ctx context.Context, guildID snowflake.ID, skipTrackSource bool) error
	UnsubscribeLyrics(ctx context.Context, guildID snowflake.ID) error
	GetSponsorBlock(ctx context.Context, guildID snowflake.ID) ([]string, error)
	SetSponsorBlock(ctx context.Context, guildID snowflake.ID, categories []string) error
	DeleteSponsorBlock(ctx context.Context, guildID snowflake.ID) error
}

var (
	_ Remote     = (*node.Node)(nil)
	_ node.Bound = (*Player)(nil)
)

// Clock supplies the wall clock used for position interpolation.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config creates one Player.
type Config struct {
	GuildID        snowflake.ID
	VoiceChannelID *snowflake.ID
	TextChannelID  snowflake.ID
	SelfMute       bool
	SelfDeaf       bool
	// Volume is the initial display volume; nil means DefaultVolume.
	Volume  *int
	Node    Remote
	Options Options
	Voice   voice.Sender
	Emit    func(events.Event)
	// Release is called once during destroy to drop the player from its
	// registry.
	Release func(*Player)
	Clock   Clock
}

// Player is the playback state of one guild.
type Player struct {
	guildID  snowflake.ID
	opts     Options
	voiceTx  voice.Sender
	emitFn   func(events.Event)
	release  func(*Player)
	clock    Clock
	logger   zerolog.Logger
	queue    *queue.Queue
	data     *Data
	errs     *resilience.ErrorWindow
	stucks   *resilience.ErrorWindow
	autoplay *rate.Limiter
	destroys singleflight.Group
	created  time.Time

	mu           sync.Mutex
	node         Remote
	voiceChannel *snowflake.ID
	lastChannel  *snowflake.ID
	textChannel  snowflake.ID
	selfMute     bool
	selfDeaf     bool
	voiceState   protocol.VoiceState
	volume       int
	remoteVolume int
	filters      protocol.Filters
	playing      bool
	paused       bool
	repeat       RepeatMode
	length       int64
	stream       bool
	position     int64
	positionAt   time.Time
	remote       protocol.PlayerState
	frames       uint64
	filterFix    bool
	emptyTimer   *time.Timer
	destroyed    bool

	// Track end bookkeeping, consumed by the next trackEnd event.
	stopping      bool
	skipping      bool
	leaving       bool
	lastTrack     *track.Track
	destroyReason events.DestroyReason

	tasks chan func()
	quit  chan struct{}
}

// New creates a player bound to cfg.Node and starts its event loop.
func New(cfg Config) (*Player, error) {
	if cfg.GuildID == 0 {
		return nil, fmt.Errorf("%w: missing guild id", ErrInvalidOptions)
	}
	if cfg.Node == nil {
		return nil, fmt.Errorf("%w: missing node", ErrInvalidOptions)
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	vol := DefaultVolume
	if cfg.Volume != nil {
		vol = clampVolume(*cfg.Volume)
	}
	limit := cfg.Options.MaxErrorsPerTime
	interval := cfg.Options.MinAutoPlayInterval

	p := &Player{
		guildID:      cfg.GuildID,
		opts:         cfg.Options,
		voiceTx:      cfg.Voice,
		emitFn:       cfg.Emit,
		release:      cfg.Release,
		clock:        clock,
		queue:        queue.New(cfg.GuildID, cfg.Options.Queue),
		data:         newData(),
		errs:         resilience.NewErrorWindow(limit.Threshold, limit.MaxAmount, resilience.WithClock(clock)),
		stucks:       resilience.NewErrorWindow(limit.Threshold, limit.MaxAmount, resilience.WithClock(clock)),
		autoplay:     rate.NewLimiter(rate.Every(interval), 1),
		created:      clock.Now(),
		node:         cfg.Node,
		textChannel:  cfg.TextChannelID,
		selfMute:     cfg.SelfMute,
		selfDeaf:     cfg.SelfDeaf,
		volume:       vol,
		remoteVolume: cfg.Options.scale(vol),
		repeat:       RepeatOff,
		tasks:        make(chan func(), mailboxSize),
		quit:         make(chan struct{}),
	}
	if cfg.VoiceChannelID != nil {
		ch := *cfg.VoiceChannelID
		p.voiceChannel = &ch
		p.voiceState.ChannelID = ch.String()
	}
	p.logger = log.WithComponent("player").With().
		Str(log.FieldGuildID, cfg.GuildID.String()).
		Logger()

	go p.run()
	return p, nil
}

func (p *Player) GuildID() snowflake.ID { return p.guildID }

// NodeID returns the id of the node the player is bound to.
func (p *Player) NodeID() string { return p.Node().ID() }

func (p *Player) Node() Remote {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

func (p *Player) Queue() *queue.Queue { return p.queue }

func (p *Player) Data() *Data { return p.data }

func (p *Player) Filters() *FilterManager { return &FilterManager{p: p} }

// Volume returns the display volume, before the decrementer is applied.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// RemoteVolume returns the volume last sent to the node.
func (p *Player) RemoteVolume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteVolume
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) RepeatMode() RepeatMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

// SetRepeatMode changes the repeat mode. It is local only.
func (p *Player) SetRepeatMode(m RepeatMode) error {
	if _, err := ParseRepeatMode(string(m)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m == "" {
		m = RepeatOff
	}
	p.repeat = m
	return nil
}

func (p *Player) VoiceChannelID() (snowflake.ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.voiceChannel == nil {
		return 0, false
	}
	return *p.voiceChannel, true
}

// Connected reports the node's last view of the voice connection.
func (p *Player) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote.Connected
}

// Ping returns the voice ping last reported by the node.
func (p *Player) Ping() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.remote.Ping) * time.Millisecond
}

func (p *Player) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Position interpolates the playback position from the last known remote
// position and the time elapsed since.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.positionLocked(p.clock.Now())) * time.Millisecond
}

func (p *Player) positionLocked(now time.Time) int64 {
	pos := p.position
	if p.playing && !p.paused && !p.positionAt.IsZero() {
		pos += now.Sub(p.positionAt).Milliseconds()
	}
	if p.length > 0 && !p.stream && pos > p.length {
		pos = p.length
	}
	return pos
}

func (p *Player) setPositionLocked(pos int64) {
	p.position = pos
	p.positionAt = p.clock.Now()
}

func (p *Player) alive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	return nil
}

// sync sends one update to the node. The intent is mirrored locally before
// the call and reconciled with the response afterwards.
func (p *Player) sync(ctx context.Context, u protocol.UpdatePlayer, noReplace bool) (protocol.Player, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return protocol.Player{}, ErrDestroyed
	}
	remote := p.node
	seen := p.frames
	p.applyIntentLocked(u)
	p.mu.Unlock()

	res, err := remote.UpdatePlayer(ctx, p.guildID, u, noReplace)
	if err != nil {
		return res, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.node != remote {
		return res, nil
	}
	p.setViewLocked(reconcile(p.viewLocked(), u, res, p.frames != seen, p.clock.Now()))
	if p.opts.ApplyVolumeAsFilter {
		p.remoteVolume = p.opts.scale(p.volume)
	}
	return res, nil
}

func (p *Player) applyIntentLocked(u protocol.UpdatePlayer) {
	now := p.clock.Now()
	p.setViewLocked(applyIntent(p.viewLocked(), u, p.positionLocked(now), now))
}

func (p *Player) viewLocked() remoteView {
	return remoteView{
		Paused:     p.paused,
		Volume:     p.remoteVolume,
		Filters:    p.filters,
		Voice:      p.voiceState,
		Position:   p.position,
		PositionAt: p.positionAt,
		Connected:  p.remote.Connected,
	}
}

func (p *Player) setViewLocked(v remoteView) {
	p.paused = v.Paused
	p.remoteVolume = v.Volume
	p.filters = v.Filters
	p.voiceState = v.Voice
	p.position, p.positionAt = v.Position, v.PositionAt
	p.remote.Connected = v.Connected
}

// scale applies the decrementer to a display volume.
func (o Options) scale(vol int) int {
	return int(math.Round(float64(vol) * o.decrementer()))
}

func clampVolume(v int) int {
	return min(max(v, 0), MaxVolume)
}

// run applies node frames one at a time so events of a guild keep their
// order without blocking the node's read loop on REST calls.
func (p *Player) run() {
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.tasks:
			task()
		}
	}
}

func (p *Player) enqueue(task func()) {
	select {
	case <-p.quit:
	case p.tasks <- task:
	}
}

// HandlePlayerUpdate queues a playerUpdate frame.
func (p *Player) HandlePlayerUpdate(m protocol.PlayerUpdate) {
	p.enqueue(func() { p.onPlayerUpdate(context.Background(), m.State) })
}

// HandleEvent queues an event frame.
func (p *Player) HandleEvent(ev protocol.Event) {
	p.enqueue(func() { p.onEvent(context.Background(), ev) })
}

func (p *Player) emit(ev events.Event) {
	if p.emitFn != nil {
		p.emitFn(ev)
	}
}

// Snapshot is the serializable view of a player.
type Snapshot struct {
	GuildID        snowflake.ID     `json:"guildId"`
	NodeID         string           `json:"nodeId"`
	VoiceChannelID *snowflake.ID    `json:"voiceChannelId"`
	TextChannelID  snowflake.ID     `json:"textChannelId,omitempty"`
	Volume         int              `json:"volume"`
	RemoteVolume   int              `json:"remoteVolume"`
	Position       int64            `json:"position"`
	Playing        bool             `json:"playing"`
	Paused         bool             `json:"paused"`
	Connected      bool             `json:"connected"`
	Ping           int64            `json:"ping"`
	RepeatMode     RepeatMode       `json:"repeatMode"`
	Filters        protocol.Filters `json:"filters"`
	Enabled        FilterState      `json:"enabledFilters"`
	Current        *track.Item      `json:"current,omitempty"`
	Queued         int              `json:"queued"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Snapshot captures the player's state.
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	s := Snapshot{
		GuildID:       p.guildID,
		NodeID:        p.node.ID(),
		TextChannelID: p.textChannel,
		Volume:        p.volume,
		RemoteVolume:  p.remoteVolume,
		Position:      p.positionLocked(p.clock.Now()),
		Playing:       p.playing,
		Paused:        p.paused,
		Connected:     p.remote.Connected,
		Ping:          p.remote.Ping,
		RepeatMode:    p.repeat,
		Filters:       p.filters.Clone(),
		CreatedAt:     p.created,
	}
	if p.voiceChannel != nil {
		ch := *p.voiceChannel
		s.VoiceChannelID = &ch
	}
	p.mu.Unlock()
	s.Enabled = stateOf(s.Filters)
	s.Current = p.queue.Current()
	s.Queued = p.queue.Len()
	return s
}

func (p *Player) eventViewLocked(cur *track.Item, queued int) events.PlayerView {
	return events.PlayerView{
		NodeID:       p.node.ID(),
		Volume:       p.volume,
		RemoteVolume: p.remoteVolume,
		Position:     p.positionLocked(p.clock.Now()),
		Playing:      p.playing,
		Paused:       p.paused,
		Remote:       p.remote,
		Current:      cur,
		Queued:       queued,
	}
}

// setFlag sets or clears one of the bookkeeping flags under p.mu.
func (p *Player) setFlag(f *bool, v bool) {
	p.mu.Lock()
	*f = v
	p.mu.Unlock()
}

// takeFlag clears f and reports whether it was set.
func (p *Player) takeFlag(f *bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := *f
	*f = false
	return v
}

// LastTrack returns the track of the most recent track end event.
func (p *Player) LastTrack() (track.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastTrack == nil {
		return track.Track{}, false
	}
	return *p.lastTrack, true
}

// DestroyReason returns why the player was destroyed, or "" while it is
// alive.
func (p *Player) DestroyReason() events.DestroyReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyReason
}

func (p *Player) warn(err error, msg string) {
	if err == nil || errors.Is(err, ErrDestroyed) {
		return
	}
	p.logger.Warn().Err(err).Msg(msg)
}
