// Package metrics provides Prometheus instrumentation for the duel
// server: queue and match gauges, answer and settlement counters, and a
// match duration histogram.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the current number of players in the waiting pool.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duel_queue_size",
		Help: "Current number of players in the waiting pool",
	})

	// ActiveMatches tracks the number of running matches.
	ActiveMatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duel_active_matches",
		Help: "Current number of running matches",
	})

	// MatchesTotal counts finished matches by result:
	// "a_wins", "b_wins", "draw", "cancelled", "aborted".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_matches_total",
		Help: "Total number of matches by result",
	}, []string{"result"})

	// AnswersTotal counts processed answers by verdict:
	// "correct", "incorrect", "rate_limited".
	AnswersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_answers_total",
		Help: "Total number of answer submissions by verdict",
	}, []string{"verdict"})

	// ReconnectsTotal counts reconnect-grace outcomes: "success", "timeout".
	ReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_reconnects_total",
		Help: "Reconnect grace outcomes",
	}, []string{"outcome"})

	// MatchDuration records wall time from handshake to settlement.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "duel_match_duration_seconds",
		Help:    "Match duration from handshake to settlement",
		Buckets: []float64{5, 15, 30, 60, 120, 240, 360, 480},
	})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		ActiveMatches,
		MatchesTotal,
		AnswersTotal,
		ReconnectsTotal,
		MatchDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
