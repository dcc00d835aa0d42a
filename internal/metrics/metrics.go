// Package metrics provides Prometheus instrumentation for Loopr. It exposes
// gauges for pool and connection sizes, counters for match lifecycle
// outcomes, and histograms for proposal latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopr_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts gateway messages processed, labeled by type:
	// "sent", "received", or "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopr_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"}) // type = "sent", "received", "blocked"

	// PairingRequests counts accepted pairing requests.
	PairingRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopr_pairing_requests_total",
		Help: "Total number of accepted pairing requests",
	})

	// WaitingUsers tracks the current size of the waiting pool.
	WaitingUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopr_waiting_users",
		Help: "Current number of users in the waiting pool",
	})

	// PendingMatches tracks the number of proposals awaiting acceptance.
	PendingMatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopr_pending_matches",
		Help: "Current number of matches awaiting acceptance",
	})

	// MatchesProposed counts proposals created.
	MatchesProposed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopr_matches_proposed_total",
		Help: "Total number of match proposals created",
	})

	// MatchesConfirmed counts matches accepted by both sides.
	MatchesConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopr_matches_confirmed_total",
		Help: "Total number of matches confirmed by both users",
	})

	// MatchesDissolved counts proposals that did not confirm, labeled by
	// reason: "rejected", "timed_out", or "disconnected".
	MatchesDissolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopr_matches_dissolved_total",
		Help: "Total number of match proposals dissolved",
	}, []string{"reason"})

	// TimeToPropose records waiting-pool time from join to proposal.
	TimeToPropose = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loopr_time_to_propose_seconds",
		Help:    "Time from joining the pool to receiving a proposal",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 60, 120},
	})

	// MatchCycleDuration records how long each periodic match cycle takes.
	MatchCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loopr_match_cycle_duration_seconds",
		Help:    "Duration of each periodic match cycle",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// PersistFailures counts failed finalized-match writes.
	PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopr_persist_failures_total",
		Help: "Total number of failed finalized-match writes",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		PairingRequests,
		WaitingUsers,
		PendingMatches,
		MatchesProposed,
		MatchesConfirmed,
		MatchesDissolved,
		TimeToPropose,
		MatchCycleDuration,
		PersistFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
