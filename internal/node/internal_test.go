package node

import (
	"testing"

	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsValidate(t *testing.T) {
	valid := Options{Host: "localhost", Port: 2333, Authorization: "pw"}
	tests := []struct {
		name   string
		mutate func(*Options)
		ok     bool
	}{
		{"valid", func(*Options) {}, true},
		{"missing host", func(o *Options) { o.Host = " " }, false},
		{"port zero", func(o *Options) { o.Port = 0 }, false},
		{"port too large", func(o *Options) { o.Port = 70000 }, false},
		{"secure on 80", func(o *Options) { o.Secure = true; o.Port = 80 }, false},
		{"secure on 443", func(o *Options) { o.Secure = true; o.Port = 443 }, true},
		{"missing authorization", func(o *Options) { o.Authorization = "" }, false},
		{"negative retries", func(o *Options) { o.RetryAmount = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			err := o.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOptions)
			}
		})
	}
}

func TestOptionsURLs(t *testing.T) {
	o := Options{Host: "lava.example", Port: 443, Secure: true}
	assert.Equal(t, "https://lava.example:443", o.restBase())
	assert.Equal(t, "wss://lava.example:443/v4/websocket", o.socketURL())
	assert.Equal(t, "lava.example:443", o.Key())

	o.ID = "main"
	assert.Equal(t, "main", o.Key())
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{RequestTimeout: -1}.withDefaults()
	assert.Equal(t, DefaultRetryAmount, o.RetryAmount)
	assert.Equal(t, DefaultRetryDelay, o.RetryDelay)
	assert.Equal(t, DefaultHeartbeatInterval, o.HeartbeatInterval)
	assert.Negative(t, int64(o.RequestTimeout), "negative timeout stays disabled")

	o = Options{}.withDefaults()
	assert.Zero(t, o.RequestTimeout, "zero timeout stays disabled")
	assert.Equal(t, DefaultRequestTimeout, (&Node{opts: o}).dialTimeout())
}

func TestPenalties(t *testing.T) {
	assert.InDelta(t, 0, penalties(protocol.Stats{}), 1e-9)

	base := protocol.Stats{PlayingPlayers: 3}
	assert.InDelta(t, 3, penalties(base), 1e-9)

	loaded := base
	loaded.CPU.SystemLoad = 0.5
	assert.Greater(t, penalties(loaded), penalties(base))

	lossy := loaded
	lossy.FrameStats = &protocol.FrameStats{Sent: 3000, Nulled: 300, Deficit: 300}
	assert.Greater(t, penalties(lossy), penalties(loaded))
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortPlayers, k)

	k, err = ParseSortKey("cpuLavalink")
	require.NoError(t, err)
	assert.Equal(t, SortCPULavalink, k)

	_, err = ParseSortKey("vibes")
	assert.Error(t, err)
}

func TestStateTable(t *testing.T) {
	m := newMachine()
	assert.Equal(t, StateDisconnected, m.State())
	for _, tr := range []trigger{triggerDial, triggerReady, triggerClose, triggerRetry, triggerDial, triggerFail, triggerDestroy} {
		_, err := m.Fire(t.Context(), tr)
		require.NoError(t, err, "trigger %s", tr)
	}
	assert.Equal(t, StateDestroyed, m.State())
	for _, tr := range []trigger{triggerDial, triggerRetry, triggerDestroy} {
		assert.False(t, m.Can(tr), "destroyed never transitions (%s)", tr)
	}
}
