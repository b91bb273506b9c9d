// ABOUTME: Audit logging system for operational event tracking
// ABOUTME: Records database installs, rejected payloads, reloads, and rate limit denials

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Audit event type constants.
const (
	EventTypeRefresh = "REFRESH"
	EventTypeAccess  = "ACCESS"
)

// Audit action constants.
const (
	ActionInstall = "INSTALL"
	ActionReload  = "RELOAD"
	ActionRead    = "READ"
)

// Audit result constants.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// AuditLogger provides structured audit logging for operational events.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogDatabaseInstall logs a successful database install.
func (a *AuditLogger) LogDatabaseInstall(ctx context.Context, source string, buildEpoch int64, trigger string) {
	correlationID := FromContext(ctx)

	a.logger.InfoContext(ctx, "audit_event",
		slog.String("event_type", EventTypeRefresh),
		slog.String("action", ActionInstall),
		slog.String("actor", "system"),
		slog.String("resource", source),
		slog.String("result", ResultSuccess),
		slog.Int64("build_epoch", buildEpoch),
		slog.String("trigger", trigger),
		slog.String("correlation_id", string(correlationID)),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// LogDatabaseRejected logs a candidate payload that failed validation.
func (a *AuditLogger) LogDatabaseRejected(ctx context.Context, source, reason string) {
	correlationID := FromContext(ctx)

	a.logger.WarnContext(ctx, "audit_event",
		slog.String("event_type", EventTypeRefresh),
		slog.String("action", ActionInstall),
		slog.String("actor", "system"),
		slog.String("resource", source),
		slog.String("result", ResultFailure),
		slog.String("reason", reason),
		slog.String("correlation_id", string(correlationID)),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// LogDatabaseReload logs a reload of the on-disk database without a fetch.
func (a *AuditLogger) LogDatabaseReload(ctx context.Context, path string, buildEpoch int64) {
	correlationID := FromContext(ctx)

	a.logger.InfoContext(ctx, "audit_event",
		slog.String("event_type", EventTypeRefresh),
		slog.String("action", ActionReload),
		slog.String("actor", "system"),
		slog.String("resource", path),
		slog.String("result", ResultSuccess),
		slog.Int64("build_epoch", buildEpoch),
		slog.String("correlation_id", string(correlationID)),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// LogRefreshFailure logs a refresh cycle that ended in an error.
func (a *AuditLogger) LogRefreshFailure(ctx context.Context, source, trigger string, err error) {
	correlationID := FromContext(ctx)

	a.logger.WarnContext(ctx, "audit_event",
		slog.String("event_type", EventTypeRefresh),
		slog.String("action", ActionInstall),
		slog.String("actor", "system"),
		slog.String("resource", source),
		slog.String("result", ResultFailure),
		slog.String("trigger", trigger),
		slog.String("error", err.Error()),
		slog.String("correlation_id", string(correlationID)),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// LogRateLimitViolation logs a rate limit violation event.
func (a *AuditLogger) LogRateLimitViolation(ctx context.Context, client, endpoint string, limit int) {
	correlationID := FromContext(ctx)

	a.logger.WarnContext(ctx, "audit_event",
		slog.String("event_type", EventTypeAccess),
		slog.String("action", ActionRead),
		slog.String("client", client),
		slog.String("resource", endpoint),
		slog.String("result", ResultDenied),
		slog.String("reason", "rate_limit_exceeded"),
		slog.Int("limit", limit),
		slog.String("correlation_id", string(correlationID)),
		slog.Time("timestamp", time.Now().UTC()),
	)
}
