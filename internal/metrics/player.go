// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlayersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lavasync_players_active",
		Help: "Current number of registered players.",
	})

	PlayerDestroysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavasync_player_destroys_total",
		Help: "Total number of player destroys, by reason.",
	}, []string{"reason"})

	TrackErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavasync_track_errors_total",
		Help: "Total number of track-level errors (stuck, exception, resolve).",
	}, []string{"kind"})

	QueuePersistErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavasync_queue_persist_errors_total",
		Help: "Total number of failed queue store operations, by operation.",
	}, []string{"op"})
)

// IncPlayerDestroy counts a destroy with the given reason.
func IncPlayerDestroy(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	PlayerDestroysTotal.WithLabelValues(reason).Inc()
}

// IncTrackError counts a track error of kind stuck, exception or resolve.
func IncTrackError(kind string) {
	TrackErrorsTotal.WithLabelValues(kind).Inc()
}

// IncQueuePersistError counts a failed store get/set/delete.
func IncQueuePersistError(op string) {
	QueuePersistErrorsTotal.WithLabelValues(op).Inc()
}
