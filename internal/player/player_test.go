package player_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/node/nodetest"
	"github.com/ManuGH/lavasync/internal/player"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/ManuGH/lavasync/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestNew_RequiresNodeAndGuild(t *testing.T) {
	_, err := player.New(player.Config{GuildID: guild})
	assert.ErrorIs(t, err, player.ErrInvalidOptions)

	h := newHarness(t)
	_, err = player.New(player.Config{Node: h.node})
	assert.ErrorIs(t, err, player.ErrInvalidOptions)

	opts := player.DefaultOptions()
	opts.VolumeDecrementer = 1.5
	_, err = player.New(player.Config{GuildID: guild, Node: h.node, Options: opts})
	assert.ErrorIs(t, err, player.ErrInvalidOptions)
}

func TestPlay_RejectsPositionBeyondDuration(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	h.tracks(t, p, song("A", 180000))

	err := p.Play(t.Context(), player.PlayOptions{Position: ptr(200 * time.Second)})
	require.ErrorIs(t, err, player.ErrInvalidPosition)
	assert.Empty(t, patches(t, h.srv))

	err = p.Play(t.Context(), player.PlayOptions{
		Position: ptr(60 * time.Second),
		EndTime:  ptr(30 * time.Second),
	})
	require.ErrorIs(t, err, player.ErrInvalidEndTime)
	err = p.Play(t.Context(), player.PlayOptions{Volume: ptr(-1)})
	require.ErrorIs(t, err, player.ErrInvalidVolume)
	assert.Empty(t, patches(t, h.srv))
}

func TestPlay_SendsCurrentTrack(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	h.tracks(t, p, song("A", 180000), song("B", 120000))

	require.NoError(t, p.Play(t.Context(), player.PlayOptions{Position: ptr(10 * time.Second)}))

	ps := patches(t, h.srv)
	require.Len(t, ps, 1)
	require.NotNil(t, ps[0].body.Track)
	assert.Equal(t, "A", *ps[0].body.Track.Encoded)
	assert.Equal(t, int64(10000), *ps[0].body.Position)
	assert.False(t, ps[0].noReplace)
	assert.Equal(t, "A", remoteTrack(h.srv))
	assert.True(t, p.Playing())
	assert.Equal(t, 1, p.Queue().Len())

	p.Queue().Clear(t.Context())
	p.Queue().SetCurrent(t.Context(), nil)
	assert.ErrorIs(t, p.Play(t.Context(), player.PlayOptions{}), player.ErrNothingToPlay)
}

func TestPlay_ClientTrackInterrupts(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	h.tracks(t, p, song("A", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	b := song("B", 90000)
	h.srv.AddTrack(b)
	item := track.Resolved(b)
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{Track: &item, NoReplace: true}))

	ps := patches(t, h.srv)
	require.Len(t, ps, 2)
	assert.False(t, ps[1].noReplace, "an interrupting track never sends noReplace")
	assert.Equal(t, "B", remoteTrack(h.srv))
	assert.Equal(t, "B", currentEncoded(p))
	prev := p.Queue().Previous()
	require.Len(t, prev, 1)
	assert.Equal(t, "A", prev[0].Encoded())
}

func TestPlay_EncodedAndIdentifier(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())

	h.srv.AddTrack(song("ENC", 60000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{Encoded: "ENC"}))
	assert.Equal(t, "ENC", remoteTrack(h.srv))

	h.srv.AddTrack(song("S1", 60000))
	h.srv.SetLoadResult("ytsearch:lofi", protocol.LoadResult{
		LoadType: protocol.LoadSearch,
		Tracks:   []track.Track{song("S1", 60000), song("S2", 60000)},
	})
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{Identifier: "ytsearch:lofi"}))
	assert.Equal(t, "S1", remoteTrack(h.srv))

	err := p.Play(t.Context(), player.PlayOptions{Encoded: "missing"})
	assert.Error(t, err)
}

func TestPlay_ResolvesUnresolvedEntry(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())

	found := song("R", 200000)
	h.srv.AddTrack(found)
	h.srv.SetLoadResult("ytsearch:Song R by Band", protocol.LoadResult{
		LoadType: protocol.LoadSearch,
		Tracks:   []track.Track{found},
	})
	hint := track.Pending(track.Unresolved{Info: track.Info{Title: "Song R", Author: "Band", SourceName: "youtube"}})
	require.NoError(t, p.Queue().Add(t.Context(), hint))

	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))
	cur := p.Queue().Current()
	require.NotNil(t, cur)
	assert.Equal(t, track.KindResolved, cur.Kind())
	assert.Equal(t, "R", remoteTrack(h.srv))
}

func TestPlay_ResolveFailureSkipsWhenEnabled(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.AutoSkipOnResolveError = true
	p := h.player(t, opts)

	bad := track.Pending(track.Unresolved{Info: track.Info{Title: "Nothing", SourceName: "youtube"}})
	good := song("G", 60000)
	h.srv.AddTrack(good)
	require.NoError(t, p.Queue().Add(t.Context(), bad, track.Resolved(good)))

	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))
	assert.Equal(t, "G", remoteTrack(h.srv))
	errs := h.rec.kind(events.KindTrackError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Nothing", errs[0].(events.TrackError).Item.Info().Title)

	// Without auto skip the failure is returned.
	h2 := newHarness(t)
	p2 := h2.player(t, player.DefaultOptions())
	require.NoError(t, p2.Queue().Add(t.Context(), bad))
	assert.Error(t, p2.Play(t.Context(), player.PlayOptions{}))
	assert.Empty(t, patches(t, h2.srv))
}

func TestSetVolume_AppliesDecrementer(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.VolumeDecrementer = 0.8
	p := h.player(t, opts)

	require.NoError(t, p.SetVolume(t.Context(), 50, false))
	ps := patches(t, h.srv)
	require.Len(t, ps, 1)
	require.NotNil(t, ps[0].body.Volume)
	assert.Equal(t, 40, *ps[0].body.Volume)
	assert.Equal(t, 50, p.Volume())
	assert.Equal(t, 40, p.RemoteVolume())

	require.NoError(t, p.SetVolume(t.Context(), 50, true))
	assert.Equal(t, 50, *patches(t, h.srv)[1].body.Volume)

	require.NoError(t, p.SetVolume(t.Context(), 5000, true))
	assert.Equal(t, player.MaxVolume, p.Volume())
}

func TestSetVolume_AsFilter(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.ApplyVolumeAsFilter = true
	opts.VolumeDecrementer = 0.8
	p := h.player(t, opts)

	require.NoError(t, p.SetVolume(t.Context(), 50, false))
	ps := patches(t, h.srv)
	require.Len(t, ps, 1)
	assert.Nil(t, ps[0].body.Volume)
	require.NotNil(t, ps[0].body.Filters)
	require.NotNil(t, ps[0].body.Filters.Volume)
	assert.InDelta(t, 0.4, *ps[0].body.Filters.Volume, 1e-9)
	assert.Equal(t, 50, p.Volume())
}

func TestPlay_CarriesScaledVolume(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.VolumeDecrementer = 0.8
	p := h.player(t, opts, func(c *player.Config) { c.Volume = ptr(50) })
	require.Equal(t, 40, p.RemoteVolume())

	a := song("A", 180000)
	h.tracks(t, p, a)
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	ps := patches(t, h.srv)
	require.Len(t, ps, 1)
	require.NotNil(t, ps[0].body.Volume)
	assert.Equal(t, 40, *ps[0].body.Volume)
	remote, ok := h.srv.Player(guild)
	require.True(t, ok)
	assert.Equal(t, 40, remote.Volume)
	assert.Equal(t, 40, p.RemoteVolume())
	assert.Equal(t, 50, p.Volume())
}

func TestPlay_CarriesVolumeFilter(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.ApplyVolumeAsFilter = true
	opts.VolumeDecrementer = 0.8
	p := h.player(t, opts, func(c *player.Config) { c.Volume = ptr(50) })

	h.tracks(t, p, song("A", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	ps := patches(t, h.srv)
	require.Len(t, ps, 1)
	assert.Nil(t, ps[0].body.Volume)
	require.NotNil(t, ps[0].body.Filters)
	require.NotNil(t, ps[0].body.Filters.Volume)
	assert.InDelta(t, 0.4, *ps[0].body.Filters.Volume, 1e-9)
	assert.Equal(t, 40, p.RemoteVolume())
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())

	require.NoError(t, p.Pause(t.Context()))
	assert.True(t, p.Paused())
	assert.ErrorIs(t, p.Pause(t.Context()), player.ErrAlreadyPaused)

	require.NoError(t, p.Resume(t.Context()))
	assert.False(t, p.Paused())
	require.NoError(t, p.Resume(t.Context()))
	assert.Len(t, patches(t, h.srv), 2)

	// Paused while playing: pausing again is a no-op.
	h.tracks(t, p, song("A", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{Paused: ptr(true)}))
	n := len(patches(t, h.srv))
	require.NoError(t, p.Pause(t.Context()))
	assert.Len(t, patches(t, h.srv), n)
}

func TestSeek(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	assert.ErrorIs(t, p.Seek(t.Context(), time.Second), player.ErrNothingPlaying)

	live := song("LIVE", 0)
	live.Info.IsStream = true
	h.tracks(t, p, song("A", 180000), live)
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	require.NoError(t, p.Seek(t.Context(), 500*time.Second))
	ps := patches(t, h.srv)
	assert.Equal(t, int64(180000), *ps[len(ps)-1].body.Position)
	require.NoError(t, p.Seek(t.Context(), -time.Second))
	ps = patches(t, h.srv)
	assert.Equal(t, int64(0), *ps[len(ps)-1].body.Position)

	p.Queue().Advance(t.Context(), false)
	assert.ErrorIs(t, p.Seek(t.Context(), time.Second), player.ErrNotSeekable)
}

func TestPosition_Interpolates(t *testing.T) {
	h := newHarness(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p := h.player(t, player.DefaultOptions(), func(c *player.Config) { c.Clock = clock })
	h.tracks(t, p, song("A", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, p.Position())

	require.NoError(t, p.Pause(t.Context()))
	clock.Advance(time.Second)
	assert.Equal(t, 1500*time.Millisecond, p.Position())

	require.NoError(t, p.Resume(t.Context()))
	clock.Advance(time.Second)
	assert.Equal(t, 2500*time.Millisecond, p.Position())

	clock.Advance(time.Hour)
	assert.Equal(t, 180*time.Second, p.Position())
}

func TestSkip_AdvancesOnTrackEnd(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	a, b, c := song("A", 180000), song("B", 180000), song("C", 180000)
	h.tracks(t, p, a, b, c)
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	require.NoError(t, p.Skip(t.Context(), 0, true))
	ps := patches(t, h.srv)
	require.Len(t, ps, 2)
	assert.True(t, ps[1].body.Track.Stop)
	assert.Equal(t, "A", currentEncoded(p), "skip waits for the node's track end")

	endTrack(t, h.srv, a, protocol.EndStopped)
	require.Eventually(t, func() bool { return remoteTrack(h.srv) == "B" }, waitFor, tick)
	assert.Equal(t, "B", currentEncoded(p))

	assert.ErrorIs(t, p.Skip(t.Context(), 5, true), player.ErrSkipOutOfRange)
	p.Queue().Clear(t.Context())
	assert.ErrorIs(t, p.Skip(t.Context(), 0, true), player.ErrQueueEmpty)
}

func TestSkip_Idle(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	a, b := song("A", 180000), song("B", 180000)
	h.tracks(t, p, a, b)

	require.Nil(t, p.Queue().Current())
	require.NoError(t, p.Skip(t.Context(), 0, true))
	assert.Equal(t, "A", currentEncoded(p), "an idle player without a current entry starts the queue")
	assert.Equal(t, "A", remoteTrack(h.srv))

	require.NoError(t, p.Stop(t.Context()))
	endTrack(t, h.srv, a, protocol.EndStopped)
	require.Eventually(t, func() bool { return !p.Playing() && len(h.rec.kind(events.KindTrackEnd)) == 1 }, waitFor, tick)
	require.Equal(t, "A", currentEncoded(p))

	n := len(patches(t, h.srv))
	require.NoError(t, p.Skip(t.Context(), 0, true))
	assert.Equal(t, "B", currentEncoded(p))
	assert.Equal(t, "B", remoteTrack(h.srv))
	ps := patches(t, h.srv)
	require.Len(t, ps, n+1, "no stop is sent for a track the node is not playing")
	assert.Equal(t, "B", *ps[n].body.Track.Encoded)
}

func TestStop_DoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	a := song("A", 180000)
	h.tracks(t, p, a, song("B", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	require.NoError(t, p.Stop(t.Context()))
	endTrack(t, h.srv, a, protocol.EndStopped)
	require.Eventually(t, func() bool { return len(h.rec.kind(events.KindTrackEnd)) == 1 }, waitFor, tick)
	assert.Equal(t, "A", currentEncoded(p))
	assert.Equal(t, 1, p.Queue().Len())
	assert.False(t, p.Playing())
}

func TestRepeatTrack_KeepsCurrentAndHistory(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	a := song("A", 180000)
	h.tracks(t, p, a, song("B", 180000))
	require.NoError(t, p.SetRepeatMode(player.RepeatTrack))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	for i := range 3 {
		endTrack(t, h.srv, a, protocol.EndFinished)
		want := i + 2
		require.Eventually(t, func() bool { return len(patches(t, h.srv)) == want }, waitFor, tick)
	}
	assert.Equal(t, "A", currentEncoded(p))
	assert.Empty(t, p.Queue().Previous())
	assert.Equal(t, 1, p.Queue().Len())
}

func TestRepeatQueue_RestoresOrderAfterCycle(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	ts := []track.Track{song("A", 1000), song("B", 1000), song("C", 1000)}
	h.tracks(t, p, ts...)
	require.NoError(t, p.SetRepeatMode(player.RepeatQueue))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	for i, tr := range ts {
		endTrack(t, h.srv, tr, protocol.EndFinished)
		next := ts[(i+1)%len(ts)].Encoded
		require.Eventually(t, func() bool { return remoteTrack(h.srv) == next && currentEncoded(p) == next }, waitFor, tick)
	}
	assert.Equal(t, "A", currentEncoded(p))
	rest := p.Queue().Tracks()
	require.Len(t, rest, 2)
	assert.Equal(t, "B", rest[0].Encoded())
	assert.Equal(t, "C", rest[1].Encoded())
}

func TestReplacedEndDoesNothing(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	a := song("A", 1000)
	h.tracks(t, p, a, song("B", 1000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	endTrack(t, h.srv, a, protocol.EndReplaced)
	require.Eventually(t, func() bool { return len(h.rec.kind(events.KindTrackEnd)) == 1 }, waitFor, tick)
	assert.Equal(t, "A", currentEncoded(p))
	assert.Len(t, patches(t, h.srv), 1)
}

func TestLoadFailedAdvancesWithNoReplace(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	a := song("A", 1000)
	h.tracks(t, p, a, song("B", 1000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	endTrack(t, h.srv, a, protocol.EndLoadFailed)
	require.Eventually(t, func() bool { return len(patches(t, h.srv)) == 2 }, waitFor, tick)
	last := patches(t, h.srv)[1]
	assert.True(t, last.noReplace)
	assert.Equal(t, "B", *last.body.Track.Encoded)
}

func TestQueueEnd_DestroysAfterDelay(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.OnEmptyQueue.DestroyAfter = ptr(20 * time.Millisecond)
	p := h.player(t, opts)
	a := song("A", 1000)
	h.tracks(t, p, a)
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	endTrack(t, h.srv, a, protocol.EndFinished)
	require.Eventually(t, func() bool { return len(h.rec.destroys()) == 1 }, waitFor, tick)
	assert.Len(t, h.rec.kind(events.KindQueueEnd), 1)
	assert.Equal(t, events.ReasonQueueEmpty, h.rec.destroys()[0].Reason)
	assert.True(t, p.Destroyed())
}

func TestQueueEnd_AutoplayIsRateLimited(t *testing.T) {
	h := newHarness(t)
	b := song("B", 1000)
	h.srv.AddTrack(b)

	var calls atomic.Int32
	opts := player.DefaultOptions()
	opts.MinAutoPlayInterval = time.Hour
	opts.OnEmptyQueue.AutoPlay = func(ctx context.Context, p *player.Player, last *track.Track) error {
		calls.Add(1)
		if last == nil || last.Encoded != "A" {
			return nil
		}
		return p.Queue().Add(ctx, track.Resolved(b))
	}
	p := h.player(t, opts)
	a := song("A", 1000)
	h.tracks(t, p, a)
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	endTrack(t, h.srv, a, protocol.EndFinished)
	require.Eventually(t, func() bool { return remoteTrack(h.srv) == "B" }, waitFor, tick)
	assert.Empty(t, h.rec.kind(events.KindQueueEnd))

	endTrack(t, h.srv, b, protocol.EndFinished)
	require.Eventually(t, func() bool { return len(h.rec.kind(events.KindQueueEnd)) == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), calls.Load())
	qe := h.rec.kind(events.KindQueueEnd)[0].(events.QueueEnd)
	require.NotNil(t, qe.Last)
	assert.Equal(t, "B", qe.Last.Encoded)
}

func TestTrackExceptions_DestroyAfterLimit(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.AutoSkip = false
	opts.MaxErrorsPerTime = player.ErrorLimit{Threshold: time.Minute, MaxAmount: 2}
	p := h.player(t, opts)
	a := song("A", 1000)
	h.tracks(t, p, a)
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	for range 3 {
		require.NoError(t, h.srv.SendEvent(guild, protocol.EventTrackException, map[string]any{
			"track":     a,
			"exception": map[string]any{"message": "boom", "severity": "common", "cause": "test"},
		}))
	}
	require.Eventually(t, func() bool { return len(h.rec.destroys()) == 1 }, waitFor, tick)
	assert.Equal(t, events.ReasonTrackErrorMaxTracksErroredPerTime, h.rec.destroys()[0].Reason)
	assert.Len(t, h.rec.kind(events.KindTrackError), 3)
}

func TestNoVoice_DestroysExactlyOnce(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.OnDisconnect = player.DisconnectPolicy{DestroyPlayer: true}
	p := h.player(t, opts)

	ch := channel
	require.NoError(t, p.HandleVoiceState(t.Context(), voice.StateUpdate{GuildID: guild, UserID: botUser, ChannelID: &ch, SessionID: "vs-1"}))
	assert.Empty(t, patches(t, h.srv))
	require.NoError(t, p.HandleVoiceServer(t.Context(), voice.ServerUpdate{GuildID: guild, Token: "tok", Endpoint: "eu.example"}))
	ps := patches(t, h.srv)
	require.Len(t, ps, 1)
	require.NotNil(t, ps[0].body.Voice)
	assert.Equal(t, protocol.VoiceState{Token: "tok", Endpoint: "eu.example", SessionID: "vs-1", ChannelID: "77"}, *ps[0].body.Voice)

	for range 2 {
		require.NoError(t, h.srv.SendPlayerUpdate(guild, protocol.PlayerState{Connected: false}))
	}
	require.Eventually(t, func() bool { return len(h.rec.destroys()) == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return len(h.rec.destroys()) > 1 }, 100*time.Millisecond, tick)
	assert.Equal(t, events.ReasonLavalinkNoVoice, h.rec.destroys()[0].Reason)

	_, ok := h.reg.Player(guild)
	assert.False(t, ok)
	ups := h.voice.all()
	require.NotEmpty(t, ups)
	assert.Nil(t, ups[len(ups)-1].ChannelID)
}

func TestDestroy_ConcurrentCallsCollapse(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	p.Data().Set("note", "x")

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() { _ = p.Destroy(context.Background(), events.ReasonNodeDestroy, true) })
	}
	wg.Wait()

	assert.Len(t, h.rec.destroys(), 1)
	assert.Len(t, h.srv.RequestsFor(http.MethodDelete, h.srv.PlayerPath(guild)), 1)
	assert.Len(t, h.voice.all(), 1)
	_, ok := h.reg.Player(guild)
	assert.False(t, ok)
	assert.ErrorIs(t, p.Play(t.Context(), player.PlayOptions{}), player.ErrDestroyed)
	assert.Equal(t, events.ReasonNodeDestroy, p.DestroyReason())
	assert.Equal(t, []string{"note"}, p.Data().Keys())
}

func TestChangeNode_ReplaysState(t *testing.T) {
	h := newHarness(t)
	srv2 := nodetest.New(t)
	backup := h.connect(t, srv2, "backup")
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p := h.player(t, player.DefaultOptions(), func(c *player.Config) { c.Clock = clock })

	a := song("A", 180000)
	srv2.AddTrack(a)
	h.tracks(t, p, a)
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))
	require.NoError(t, p.SetVolume(t.Context(), 70, false))
	clock.Advance(30 * time.Second)

	require.NoError(t, p.ChangeNode(t.Context(), backup))
	assert.Equal(t, "backup", p.NodeID())
	assert.Len(t, h.srv.RequestsFor(http.MethodDelete, h.srv.PlayerPath(guild)), 1)

	ps := patches(t, srv2)
	require.Len(t, ps, 1)
	assert.Equal(t, "A", *ps[0].body.Track.Encoded)
	assert.Equal(t, int64(30000), *ps[0].body.Position)
	assert.Equal(t, 70, *ps[0].body.Volume)
	require.Len(t, h.rec.kind(events.KindPlayerNodeChange), 1)

	assert.ErrorIs(t, p.ChangeNode(t.Context(), backup), player.ErrSameNode)
}

func TestVoiceCommands(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())

	require.NoError(t, p.Connect(t.Context()))
	ups := h.voice.all()
	require.Len(t, ups, 1)
	assert.Equal(t, channel, *ups[0].ChannelID)

	same := channel
	assert.ErrorIs(t, p.ChangeVoiceState(t.Context(), player.VoiceStateChange{ChannelID: &same}), player.ErrSameVoiceChannel)
	require.NoError(t, p.ChangeVoiceState(t.Context(), player.VoiceStateChange{SelfDeaf: ptr(true)}))
	assert.True(t, h.voice.all()[1].SelfDeaf)

	other := channel + 1
	require.NoError(t, p.HandleVoiceState(t.Context(), voice.StateUpdate{GuildID: guild, ChannelID: &same, SessionID: "s"}))
	require.NoError(t, p.HandleVoiceState(t.Context(), voice.StateUpdate{GuildID: guild, ChannelID: &other, SessionID: "s"}))
	moves := h.rec.kind(events.KindPlayerMove)
	require.Len(t, moves, 1)
	assert.Equal(t, other, moves[0].(events.PlayerMove).To)

	require.NoError(t, p.Disconnect(t.Context()))
	require.NoError(t, p.HandleVoiceState(t.Context(), voice.StateUpdate{GuildID: guild, SessionID: "s"}))
	assert.Len(t, h.rec.kind(events.KindPlayerDisconnect), 1)
	assert.False(t, p.Destroyed())
	assert.ErrorIs(t, p.Connect(t.Context()), player.ErrNoVoiceChannel)
}

func TestVoiceLost_AutoReconnect(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.OnDisconnect = player.DisconnectPolicy{AutoReconnect: true, DestroyPlayer: true}
	p := h.player(t, opts)
	h.tracks(t, p, song("A", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))

	require.NoError(t, h.srv.SendEvent(guild, protocol.EventWebSocketClosed, map[string]any{"code": 4014, "reason": "kicked", "byRemote": true}))
	require.Eventually(t, func() bool { return len(h.voice.all()) == 1 }, waitFor, tick)
	assert.Equal(t, channel, *h.voice.all()[0].ChannelID)
	require.Eventually(t, func() bool { return len(patches(t, h.srv)) == 2 }, waitFor, tick)
	assert.Len(t, h.rec.kind(events.KindPlayerSocketClosed), 1)
	assert.Empty(t, h.rec.destroys())
}

func TestFilters(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	f := p.Filters()

	require.NoError(t, f.ToggleNightcore(t.Context()))
	assert.True(t, f.State().Nightcore)
	require.NoError(t, f.ToggleVaporwave(t.Context()))
	st := f.State()
	assert.True(t, st.Vaporwave)
	assert.False(t, st.Nightcore)
	require.NoError(t, f.ToggleVaporwave(t.Context()))
	assert.Nil(t, f.Current().Timescale)

	require.NoError(t, f.ToggleKaraoke(t.Context()))
	require.NoError(t, f.ToggleRotation(t.Context(), 0))
	cur := f.Current()
	require.NotNil(t, cur.Rotation)
	assert.InDelta(t, 0.2, cur.Rotation.RotationHz, 1e-9)
	assert.Equal(t, 1.0, cur.Karaoke.Level)

	require.NoError(t, f.SetEQ(t.Context(), protocol.EqualizerBand{Band: 3, Gain: 2}, protocol.EqualizerBand{Band: 3, Gain: -1}))
	assert.Equal(t, []protocol.EqualizerBand{{Band: 3, Gain: -0.25}}, f.Current().Equalizer)
	assert.ErrorIs(t, f.SetEQ(t.Context(), protocol.EqualizerBand{Band: 15}), player.ErrInvalidBand)

	require.NoError(t, f.SetChannelMix(t.Context(), player.OutputMono))
	assert.Equal(t, player.OutputMono, f.State().AudioOutput)
	assert.ErrorIs(t, f.ToggleEcho(t.Context(), player.Echo{}), player.ErrFilterUnavailable)

	ps := patches(t, h.srv)
	last := ps[len(ps)-1].body.Filters
	require.NotNil(t, last)
	assert.NotNil(t, last.Karaoke, "filters are sent as a full set")

	require.NoError(t, f.ResetFilters(t.Context()))
	assert.Equal(t, player.FilterState{AudioOutput: player.OutputStereo}, f.State())
}

func TestFilters_PluginFilters(t *testing.T) {
	srv := nodetest.New(t)
	srv.SetPlugins(player.FilterPlugin)
	h := newHarness(t)
	n := h.connect(t, srv, "plugins")
	p := h.player(t, player.DefaultOptions(), func(c *player.Config) { c.Node = n })
	f := p.Filters()

	require.NoError(t, f.ToggleEcho(t.Context(), player.Echo{}))
	require.NoError(t, f.ToggleReverb(t.Context(), nil))
	st := f.State()
	assert.True(t, st.Echo)
	assert.True(t, st.Reverb)

	raw := f.Current().PluginFilters[player.FilterPlugin]
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Contains(t, body, "echo")
	assert.Contains(t, body, "reverb")

	require.NoError(t, f.ToggleEcho(t.Context(), player.Echo{}))
	require.NoError(t, f.ToggleReverb(t.Context(), nil))
	assert.Empty(t, f.Current().PluginFilters)
}

func TestPlayerUpdate_EmitsViewsBeforeAndAfter(t *testing.T) {
	h := newHarness(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p := h.player(t, player.DefaultOptions(), func(c *player.Config) { c.Clock = clock })
	h.tracks(t, p, song("A", 180000), song("B", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))
	clock.Advance(2 * time.Second)

	require.NoError(t, h.srv.SendPlayerUpdate(guild, protocol.PlayerState{Position: 5000, Connected: true, Ping: 7}))
	require.Eventually(t, func() bool { return len(h.rec.kind(events.KindPlayerUpdate)) == 1 }, waitFor, tick)
	ev := h.rec.kind(events.KindPlayerUpdate)[0].(events.PlayerUpdate)

	assert.Equal(t, int64(2000), ev.Old.Position)
	assert.Equal(t, int64(5000), ev.New.Position)
	assert.Equal(t, int64(7), ev.New.Remote.Ping)
	assert.True(t, ev.New.Remote.Connected)
	for _, v := range []events.PlayerView{ev.Old, ev.New} {
		assert.Equal(t, "main", v.NodeID)
		assert.True(t, v.Playing)
		assert.Equal(t, 100, v.Volume)
		assert.Equal(t, 1, v.Queued)
		require.NotNil(t, v.Current)
		assert.Equal(t, "A", v.Current.Encoded())
	}
}

func TestInstantFilterFix_SeeksOnNextUpdate(t *testing.T) {
	h := newHarness(t)
	opts := player.DefaultOptions()
	opts.InstaUpdateFiltersFix = true
	p := h.player(t, opts)
	h.tracks(t, p, song("A", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))
	require.NoError(t, p.Filters().ToggleKaraoke(t.Context()))

	require.NoError(t, h.srv.SendPlayerUpdate(guild, protocol.PlayerState{Position: 5000, Connected: true}))
	require.Eventually(t, func() bool { return len(patches(t, h.srv)) == 3 }, waitFor, tick)
	last := patches(t, h.srv)[2].body
	require.NotNil(t, last.Position)
	assert.Equal(t, int64(5000), *last.Position)
	assert.Nil(t, last.Track)

	// The flag is consumed by the first update.
	require.NoError(t, h.srv.SendPlayerUpdate(guild, protocol.PlayerState{Position: 6000, Connected: true}))
	require.Eventually(t, func() bool { return len(h.rec.kind(events.KindPlayerUpdate)) == 2 }, waitFor, tick)
	assert.Len(t, patches(t, h.srv), 3)
}

func TestData_Clear(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	d := p.Data()
	d.Set("user", 1)
	d.Set("internal_stopPlaying", true)
	assert.Equal(t, []string{"internal_stopPlaying", "user"}, d.Keys())
	d.Clear()
	assert.Empty(t, d.Keys())
}

func TestData_DoesNotSteerPlayback(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	a := song("a", 180000)
	h.tracks(t, p, a, song("b", 180000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))
	p.Data().Set("internal_stopPlaying", true)
	p.Data().Set("internal_skipped", true)

	endTrack(t, h.srv, a, protocol.EndFinished)
	require.Eventually(t, func() bool { return remoteTrack(h.srv) == "b" }, waitFor, tick)
	last, ok := p.LastTrack()
	require.True(t, ok)
	assert.Equal(t, "a", last.Encoded)
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t)
	p := h.player(t, player.DefaultOptions())
	h.tracks(t, p, song("A", 180000), song("B", 1000))
	require.NoError(t, p.Play(t.Context(), player.PlayOptions{}))
	require.NoError(t, p.SetRepeatMode(player.RepeatQueue))

	s := p.Snapshot()
	assert.Equal(t, guild, s.GuildID)
	assert.Equal(t, "main", s.NodeID)
	assert.Equal(t, player.RepeatQueue, s.RepeatMode)
	assert.Equal(t, 1, s.Queued)
	require.NotNil(t, s.Current)
	assert.Equal(t, "A", s.Current.Encoded())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"guildId":"4242"`)
	assert.Contains(t, string(data), `"repeatMode":"queue"`)
}

func TestParseRepeatMode(t *testing.T) {
	m, err := player.ParseRepeatMode("")
	require.NoError(t, err)
	assert.Equal(t, player.RepeatOff, m)
	_, err = player.ParseRepeatMode("forever")
	assert.Error(t, err)
}
