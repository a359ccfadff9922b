// Package metrics exposes Prometheus metrics for the authorization service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts authorization decisions by outcome
	// (granted, denied, blocked).
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total authorization decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// EscalationAttemptsTotal counts detected escalation attempts by severity.
	EscalationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_escalation_attempts_total",
			Help: "Total privilege escalation attempts by severity.",
		},
		[]string{"severity"},
	)

	// ReauthChallengesTotal counts re-authentication challenges by method.
	ReauthChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_reauth_challenges_total",
			Help: "Total re-authentication challenges issued, by method.",
		},
		[]string{"method"},
	)

	// BlacklistedUsers tracks the current number of blacklisted users.
	BlacklistedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authz_blacklisted_users",
		Help: "Users currently on the escalation blacklist.",
	})

	// ActiveSessions tracks the current number of live sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authz_active_sessions",
		Help: "Sessions currently held in the session store.",
	})

	// AuditChainLength tracks the audit chain size.
	AuditChainLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authz_audit_chain_length",
		Help: "Entries in the in-memory audit hash chain.",
	})

	// IntegrityChecksTotal counts periodic audit chain verifications by result.
	IntegrityChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_audit_integrity_checks_total",
			Help: "Audit chain integrity verifications by result (ok, violated).",
		},
		[]string{"result"},
	)
)

// Init registers the metrics with the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		DecisionsTotal,
		EscalationAttemptsTotal,
		ReauthChallengesTotal,
		BlacklistedUsers,
		ActiveSessions,
		AuditChainLength,
		IntegrityChecksTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
