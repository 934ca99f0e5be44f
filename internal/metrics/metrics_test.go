package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestPromhttpExposure(t *testing.T) {
	metrics.IncPlayerDestroy("QueueEmpty")

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "lavasync_player_destroys_total"))
}

func TestIncNodeFrame_FoldsUnknownOps(t *testing.T) {
	before := counterValue(t, metrics.NodeFramesTotal.WithLabelValues("n-fold", "unknown"))
	metrics.IncNodeFrame("n-fold", "bogus")
	metrics.IncNodeFrame("n-fold", "alsoBogus")
	after := counterValue(t, metrics.NodeFramesTotal.WithLabelValues("n-fold", "unknown"))
	assert.Equal(t, before+2, after)
}

func TestObserveNodeREST_StatusClass(t *testing.T) {
	tests := []struct {
		status int
		class  string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{404, "4xx"},
		{503, "5xx"},
		{0, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			c := metrics.NodeRESTRequestsTotal.WithLabelValues("n-rest", "GET", tt.class)
			before := counterValue(t, c)
			metrics.ObserveNodeREST("n-rest", "GET", tt.status, 10*time.Millisecond)
			assert.Equal(t, before+1, counterValue(t, c))
		})
	}
}

func TestSetNodeConnected(t *testing.T) {
	metrics.SetNodeConnected("n-conn", true)
	assert.Equal(t, 1.0, gaugeValue(t, metrics.NodeConnected.WithLabelValues("n-conn")))
	metrics.SetNodeConnected("n-conn", false)
	assert.Equal(t, 0.0, gaugeValue(t, metrics.NodeConnected.WithLabelValues("n-conn")))
}

func TestIncBusDropReason_DefaultsLabels(t *testing.T) {
	c := metrics.BusDroppedTotal.WithLabelValues("unknown", "unknown")
	before := counterValue(t, c)
	metrics.IncBusDropReason("", "")
	assert.Equal(t, before+1, counterValue(t, c))
}
