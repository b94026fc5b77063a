package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the SSO server.
type Metrics struct {
	attaches    prometheus.Counter
	logins      *prometheus.CounterVec
	logouts     prometheus.Counter
	revocations prometheus.Counter
	refreshes   prometheus.Counter
	commands    prometheus.Counter
	rejected    prometheus.Counter
}

// NewMetrics builds the server collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "attaches_total",
			Help:      "Completed broker attach handshakes.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "logouts_total",
			Help:      "Logout calls completed.",
		}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "revocations_total",
			Help:      "Sessions revoked, including logout side effects.",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "refreshes_total",
			Help:      "Bridge TTL refreshes from authenticated calls.",
		}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "commands_total",
			Help:      "Custom command invocations.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "rejected_total",
			Help:      "Calls rejected for identity or checksum failures.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attaches, m.logins, m.logouts, m.revocations, m.refreshes, m.commands, m.rejected)
	}
	return m
}

func (m *Metrics) recordRefresh() {
	m.refreshes.Inc()
}

func (m *Metrics) recordEvent(event AuditEvent) {
	switch event {
	case AuditAttached:
		m.attaches.Inc()
	case AuditLoginSuccess:
		m.logins.WithLabelValues("success").Inc()
	case AuditLoginFailure:
		m.logins.WithLabelValues("failure").Inc()
	case AuditLogout:
		m.logouts.Inc()
	case AuditSessionRevoked:
		m.revocations.Inc()
	case AuditCommandRun:
		m.commands.Inc()
	case AuditAttachRejected:
		m.rejected.Inc()
	}
}
