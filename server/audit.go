package server

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditAttached       AuditEvent = "broker_attached"
	AuditAttachRejected AuditEvent = "attach_rejected"
	AuditLoginSuccess   AuditEvent = "login_success"
	AuditLoginFailure   AuditEvent = "login_failure"
	AuditLogout         AuditEvent = "logout"
	AuditSessionRevoked AuditEvent = "session_revoked"
	AuditCommandRun     AuditEvent = "command_run"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// It never logs secrets or unsigned tokens.
type auditLogger struct {
	logger  *slog.Logger
	metrics *Metrics
}

func newAuditLogger(logger *slog.Logger, metrics *Metrics) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: metrics,
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent is a convenience for events attributed to a broker.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, brokerID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("broker_id", brokerID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected call with its reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
