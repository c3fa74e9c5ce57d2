package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sink persists audit events. The sqlite repository is the primary sink.
type Sink interface {
	Append(ctx context.Context, event *Event) error
}

// Notifier receives events that warrant operator attention. Implementations
// must not block the audit path for long; failures are logged and ignored.
type Notifier interface {
	NotifyAuditEvent(ctx context.Context, event *Event) error
}

// Logger writes audit events synchronously: Record returns only after the
// primary sink has acknowledged the event, so callers can order their own
// ack after the audit write. When the primary sink fails, the event is
// written to the structured fallback log instead so that high and critical
// events are never silently lost.
type Logger struct {
	sink     Sink
	notifier Notifier
	fallback *zap.Logger
	logger   *zap.Logger
}

// NewLogger creates an audit logger. notifier may be nil.
func NewLogger(sink Sink, notifier Notifier, fallback *zap.Logger, logger *zap.Logger) *Logger {
	return &Logger{
		sink:     sink,
		notifier: notifier,
		fallback: fallback,
		logger:   logger,
	}
}

// Record persists the event. For low and medium risk events a sink failure
// is downgraded to the fallback log and reported as success; for high and
// critical events the error propagates after the fallback write so the
// caller knows durable storage was not reached.
func (l *Logger) Record(ctx context.Context, event *Event) error {
	if !event.RiskLevel.IsValid() {
		return fmt.Errorf("invalid risk level %q on event %s", event.RiskLevel, event.Type)
	}

	sinkErr := l.sink.Append(ctx, event)
	if sinkErr != nil {
		l.writeFallback(event, sinkErr)
	}

	if l.notifier != nil && (event.RiskLevel == RiskHigh || event.RiskLevel == RiskCritical) {
		if err := l.notifier.NotifyAuditEvent(ctx, event); err != nil {
			l.logger.Warn("Audit notification failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type.String()),
				zap.Error(err))
		}
	}

	if sinkErr != nil && (event.RiskLevel == RiskHigh || event.RiskLevel == RiskCritical) {
		return fmt.Errorf("audit sink unavailable for %s event %s: %w", event.RiskLevel, event.Type, sinkErr)
	}
	return nil
}

// MustRecord is Record for call sites where the operation has already
// happened and cannot be rolled back. Failures are logged, never returned.
func (l *Logger) MustRecord(ctx context.Context, event *Event) {
	if err := l.Record(ctx, event); err != nil {
		l.logger.Error("Audit record failed after operation completed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type.String()),
			zap.Error(err))
	}
}

func (l *Logger) writeFallback(event *Event, cause error) {
	l.fallback.Info("audit_event",
		zap.String("id", event.ID),
		zap.String("type", event.Type.String()),
		zap.String("risk_level", string(event.RiskLevel)),
		zap.Strings("compliance_tags", event.ComplianceTags),
		zap.String("actor", event.Actor),
		zap.String("account_id", event.AccountID),
		zap.String("resource_type", event.ResourceType),
		zap.String("resource_id", event.ResourceID),
		zap.Any("payload", event.Payload),
		zap.String("correlation_id", event.CorrelationID),
		zap.Time("created_at", event.CreatedAt),
		zap.NamedError("sink_error", cause))
	l.logger.Warn("Audit event diverted to fallback log",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type.String()),
		zap.Error(cause))
}
