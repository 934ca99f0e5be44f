// Package metrics provides Prometheus metrics for lavasync.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Node labels are bounded by configuration; guild ids never appear as labels.
var (
	NodeConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavasync_node_connected",
		Help: "1 while the node websocket is open and a session is established.",
	}, []string{"node"})

	NodeReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavasync_node_reconnect_attempts_total",
		Help: "Total number of reconnect attempts, by node.",
	}, []string{"node"})

	NodeFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavasync_node_frames_total",
		Help: "Total number of inbound websocket frames, by node and op.",
	}, []string{"node", "op"})

	NodeRESTRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavasync_node_rest_requests_total",
		Help: "Total number of REST requests issued to nodes, by method and status class.",
	}, []string{"node", "method", "status_class"})

	NodeRESTDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lavasync_node_rest_duration_seconds",
		Help:    "REST request latency against nodes.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"node", "method"})

	NodePlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavasync_node_players",
		Help: "Players reported by the node's last stats frame.",
	}, []string{"node", "kind"})
)

// SetNodeConnected flips the connected gauge for a node.
func SetNodeConnected(node string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	NodeConnected.WithLabelValues(node).Set(v)
}

// IncNodeReconnect counts one reconnect attempt.
func IncNodeReconnect(node string) {
	NodeReconnectAttemptsTotal.WithLabelValues(node).Inc()
}

// IncNodeFrame counts one inbound frame. Unknown ops are folded together.
func IncNodeFrame(node, op string) {
	switch op {
	case "ready", "stats", "playerUpdate", "event":
	default:
		op = "unknown"
	}
	NodeFramesTotal.WithLabelValues(node, op).Inc()
}

// ObserveNodeREST records the outcome of one REST call. status 0 means a
// transport failure.
func ObserveNodeREST(node, method string, status int, d time.Duration) {
	NodeRESTRequestsTotal.WithLabelValues(node, method, statusClass(status)).Inc()
	NodeRESTDuration.WithLabelValues(node, method).Observe(d.Seconds())
}

// SetNodePlayers mirrors the node's reported player counts.
func SetNodePlayers(node string, players, playing int) {
	NodePlayers.WithLabelValues(node, "total").Set(float64(players))
	NodePlayers.WithLabelValues(node, "playing").Set(float64(playing))
}

// ForgetNode removes the per-node series once a node is deleted.
func ForgetNode(node string) {
	NodeConnected.DeleteLabelValues(node)
	NodeReconnectAttemptsTotal.DeleteLabelValues(node)
	NodePlayers.DeleteLabelValues(node, "total")
	NodePlayers.DeleteLabelValues(node, "playing")
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
