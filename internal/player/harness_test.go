package player_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/node/nodetest"
	"github.com/ManuGH/lavasync/internal/player"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/ManuGH/lavasync/internal/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond

	guild   snowflake.ID = 4242
	channel snowflake.ID = 77
	botUser snowflake.ID = 1234
)

func song(enc string, length int64) track.Track {
	return track.Track{
		Encoded: enc,
		Info: track.Info{
			Identifier: enc,
			Title:      "Song " + enc,
			Author:     "Band",
			Length:     length,
			IsSeekable: true,
			SourceName: "youtube",
		},
	}
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) kind(k events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.evs {
		if ev.Kind() == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) destroys() []events.PlayerDestroy {
	var out []events.PlayerDestroy
	for _, ev := range r.kind(events.KindPlayerDestroy) {
		out = append(out, ev.(events.PlayerDestroy))
	}
	return out
}

type registry struct {
	mu      sync.Mutex
	players map[snowflake.ID]*player.Player
}

func (r *registry) add(p *player.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.GuildID()] = p
}

func (r *registry) remove(p *player.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.players[p.GuildID()] == p {
		delete(r.players, p.GuildID())
	}
}

func (r *registry) Player(id snowflake.ID) (node.Bound, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return nil, false
	}
	return p, true
}

func (r *registry) BoundTo(nodeID string) []node.Bound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []node.Bound
	for _, p := range r.players {
		if p.NodeID() == nodeID {
			out = append(out, p)
		}
	}
	return out
}

type voiceLog struct {
	mu      sync.Mutex
	updates []voice.Update
}

func (v *voiceLog) SendVoiceUpdate(_ context.Context, u voice.Update) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.updates = append(v.updates, u)
	return nil
}

func (v *voiceLog) all() []voice.Update {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]voice.Update(nil), v.updates...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	srv   *nodetest.Server
	mgr   *node.Manager
	node  *node.Node
	reg   *registry
	rec   *recorder
	voice *voiceLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		srv:   nodetest.New(t),
		reg:   &registry{players: make(map[snowflake.ID]*player.Player)},
		rec:   &recorder{},
		voice: &voiceLog{},
	}
	transport := &http.Transport{}
	t.Cleanup(transport.CloseIdleConnections)
	h.mgr = node.NewManager(node.ManagerConfig{
		Players:    h.reg,
		Emit:       h.rec.emit,
		HTTPClient: &http.Client{Transport: transport},
	})
	h.mgr.SetClient(node.ClientInfo{ID: botUser, Name: "lavasync-test"})
	t.Cleanup(func() { h.mgr.DisconnectAll(context.Background(), events.ReasonManagerClosed, true) })
	h.node = h.connect(t, h.srv, "main")
	return h
}

func (h *harness) connect(t *testing.T, srv *nodetest.Server, id string) *node.Node {
	t.Helper()
	n, err := h.mgr.CreateNode(srv.Options(id))
	require.NoError(t, err)
	require.NoError(t, n.Connect(context.Background(), ""))
	require.Eventually(t, n.Connected, waitFor, tick)
	return n
}

func (h *harness) player(t *testing.T, opts player.Options, mods ...func(*player.Config)) *player.Player {
	t.Helper()
	ch := channel
	cfg := player.Config{
		GuildID:        guild,
		VoiceChannelID: &ch,
		Node:           h.node,
		Options:        opts,
		Voice:          h.voice,
		Emit:           h.rec.emit,
		Release:        h.reg.remove,
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	p, err := player.New(cfg)
	require.NoError(t, err)
	h.reg.add(p)
	t.Cleanup(func() { _ = p.Destroy(context.Background(), events.ReasonManagerClosed, false) })
	return p
}

// tracks registers the tracks with the server and queues them.
func (h *harness) tracks(t *testing.T, p *player.Player, ts ...track.Track) {
	t.Helper()
	items := make([]track.Item, 0, len(ts))
	for _, tr := range ts {
		h.srv.AddTrack(tr)
		items = append(items, track.Resolved(tr))
	}
	require.NoError(t, p.Queue().Add(context.Background(), items...))
}

type patch struct {
	body      protocol.UpdatePlayer
	noReplace bool
}

func patches(t *testing.T, srv *nodetest.Server) []patch {
	t.Helper()
	var out []patch
	for _, r := range srv.RequestsFor(http.MethodPatch, srv.PlayerPath(guild)) {
		var body protocol.UpdatePlayer
		require.NoError(t, r.Decode(&body))
		out = append(out, patch{body: body, noReplace: r.Query.Get("noReplace") == "true"})
	}
	return out
}

func remoteTrack(srv *nodetest.Server) string {
	p, ok := srv.Player(guild)
	if !ok || p.Track == nil {
		return ""
	}
	return p.Track.Encoded
}

func currentEncoded(p *player.Player) string {
	if cur := p.Queue().Current(); cur != nil {
		return cur.Encoded()
	}
	return ""
}

func endTrack(t *testing.T, srv *nodetest.Server, tr track.Track, reason protocol.TrackEndReason) {
	t.Helper()
	require.NoError(t, srv.SendEvent(guild, protocol.EventTrackEnd, map[string]any{"track": tr, "reason": reason}))
}
