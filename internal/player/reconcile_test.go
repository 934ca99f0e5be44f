package player

import (
	"testing"
	"time"

	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestApplyIntent(t *testing.T) {
	t0 := time.Unix(1000, 0)
	now := t0.Add(5 * time.Second)
	base := remoteView{Volume: 100, Position: 1000, PositionAt: t0}
	paused, pos, vol := true, int64(42_000), 80
	voiceState := protocol.VoiceState{Token: "tok", Endpoint: "ep", SessionID: "sid"}

	tests := []struct {
		name string
		u    protocol.UpdatePlayer
		want remoteView
	}{
		{
			name: "pause freezes the derived position",
			u:    protocol.UpdatePlayer{Paused: &paused},
			want: remoteView{Paused: true, Volume: 100, Position: 6000, PositionAt: now},
		},
		{
			name: "new track restarts at zero",
			u:    protocol.UpdatePlayer{Track: &protocol.UpdatePlayerTrack{Identifier: "x"}},
			want: remoteView{Volume: 100, Position: 0, PositionAt: now},
		},
		{
			name: "explicit position wins over the track reset",
			u:    protocol.UpdatePlayer{Track: &protocol.UpdatePlayerTrack{Identifier: "x"}, Position: &pos},
			want: remoteView{Volume: 100, Position: pos, PositionAt: now},
		},
		{
			name: "stop keeps progress",
			u:    protocol.UpdatePlayer{Track: &protocol.UpdatePlayerTrack{Stop: true}},
			want: base,
		},
		{
			name: "volume and voice",
			u:    protocol.UpdatePlayer{Volume: &vol, Voice: &voiceState},
			want: remoteView{Volume: vol, Voice: voiceState, Position: 1000, PositionAt: t0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyIntent(base, tt.u, 6000, now)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("applyIntent() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplyIntent_ClonesFilters(t *testing.T) {
	gain := 0.5
	f := protocol.Filters{Volume: &gain}
	got := applyIntent(remoteView{}, protocol.UpdatePlayer{Filters: &f}, 0, time.Now())
	gain = 2
	assert.Equal(t, 0.5, *got.Filters.Volume)
}

func TestReconcile(t *testing.T) {
	t0 := time.Unix(1000, 0)
	now := t0.Add(time.Second)
	pos := int64(30_000)
	optimistic := remoteView{Paused: true, Volume: 50, Position: pos, PositionAt: t0}
	res := protocol.Player{
		Volume: 40,
		Paused: false,
		State:  protocol.PlayerState{Position: 30_250, Connected: true},
	}

	t.Run("response wins", func(t *testing.T) {
		got := reconcile(optimistic, protocol.UpdatePlayer{Position: &pos}, res, false, now)
		assert.False(t, got.Paused)
		assert.Equal(t, 40, got.Volume)
		assert.Equal(t, int64(30_250), got.Position)
		assert.Equal(t, now, got.PositionAt)
		assert.True(t, got.Connected)
	})

	t.Run("raced frame keeps newer progress", func(t *testing.T) {
		got := reconcile(optimistic, protocol.UpdatePlayer{Position: &pos}, res, true, now)
		assert.Equal(t, 40, got.Volume)
		assert.Equal(t, pos, got.Position)
		assert.Equal(t, t0, got.PositionAt)
		assert.False(t, got.Connected)
	})

	t.Run("non seeking update keeps progress", func(t *testing.T) {
		got := reconcile(optimistic, protocol.UpdatePlayer{}, res, false, now)
		assert.Equal(t, pos, got.Position)
		assert.True(t, got.Connected)
	})
}
