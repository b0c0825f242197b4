// Package metrics provides Prometheus metrics for pubd.
// Counters and gauges cover the discovery pipeline, the swarm transport,
// the trust store and health checks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Discovery ──────────────────────────────────────────────────────────────

// Announcements counts swarm announcements by filter outcome
// ("accepted" or the name of the predicate that rejected it).
var Announcements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pubd",
	Name:      "announcements_total",
	Help:      "Swarm announcements by filter outcome.",
}, []string{"outcome"})

// Invitations counts invitation exchanges by terminal result.
var Invitations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pubd",
	Name:      "invitation_exchanges_total",
	Help:      "Invitation exchanges with discovered pubs by result.",
}, []string{"result"})

// InvitationFetchLatency tracks GET /invited/json round trips.
var InvitationFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pubd",
	Name:      "invitation_fetch_seconds",
	Help:      "Time to fetch an invitation from a discovered pub.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// CandidatesInFlight tracks invitation exchanges currently running.
var CandidatesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pubd",
	Name:      "candidates_in_flight",
	Help:      "Invitation exchanges currently in flight.",
})

// ─── Swarm ──────────────────────────────────────────────────────────────────

// SwarmHandshakes counts swarm handshakes by direction and result.
var SwarmHandshakes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pubd",
	Name:      "swarm_handshakes_total",
	Help:      "Swarm handshakes by direction (inbound/outbound) and result.",
}, []string{"direction", "result"})

// ─── Trust Store ────────────────────────────────────────────────────────────

// FederatedPeers tracks federated peers by connection state.
var FederatedPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pubd",
	Name:      "federated_peers",
	Help:      "Federated peers by connection state.",
}, []string{"state"})

// InvitationsIssued counts invitations created for remote pubs.
var InvitationsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pubd",
	Name:      "invitations_issued_total",
	Help:      "Invitations issued through /invited/json.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pubd",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
