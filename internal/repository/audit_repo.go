package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
)

// AuditRepository is the primary append-only sink for audit events. There is
// deliberately no update or delete path.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append persists one audit event. Implements audit.Sink.
func (r *AuditRepository) Append(ctx context.Context, event *audit.Event) error {
	tags, err := json.Marshal(event.ComplianceTags)
	if err != nil {
		return fmt.Errorf("failed to marshal compliance tags: %w", err)
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, risk_level, compliance_tags, actor, account_id,
			resource_type, resource_id, payload, correlation_id,
			retention_days, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.RiskLevel,
		string(tags),
		event.Actor,
		event.AccountID,
		event.ResourceType,
		event.ResourceID,
		string(payload),
		event.CorrelationID,
		event.RetentionDays,
		event.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append audit event",
			zap.String("id", event.ID),
			zap.String("event_type", event.Type.String()),
			zap.Error(err))
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Query selects events matching the filter, newest first. Zero-valued filter
// fields are ignored.
type AuditQuery struct {
	EventType     string
	AccountID     string
	CorrelationID string
	RiskLevel     string
	Since         time.Time
	Until         time.Time
	Limit         int
}

// Query retrieves audit events matching the filter
func (r *AuditRepository) Query(ctx context.Context, q AuditQuery) ([]*audit.Event, error) {
	query := `
		SELECT id, event_type, risk_level, compliance_tags, actor, account_id,
			resource_type, resource_id, payload, correlation_id,
			retention_days, created_at
		FROM audit_events
		WHERE 1=1
	`
	var args []interface{}

	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, q.EventType)
	}
	if q.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, q.AccountID)
	}
	if q.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, q.CorrelationID)
	}
	if q.RiskLevel != "" {
		query += ` AND risk_level = ?`
		args = append(args, q.RiskLevel)
	}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, q.Until)
	}

	query += ` ORDER BY created_at DESC, id DESC`
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query audit events", zap.Error(err))
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		var event audit.Event
		var tags, payload string

		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.RiskLevel,
			&tags,
			&event.Actor,
			&event.AccountID,
			&event.ResourceType,
			&event.ResourceID,
			&payload,
			&event.CorrelationID,
			&event.RetentionDays,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if err := json.Unmarshal([]byte(tags), &event.ComplianceTags); err != nil {
			return nil, fmt.Errorf("corrupt compliance tags on event %s: %w", event.ID, err)
		}
		if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload on event %s: %w", event.ID, err)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

var _ audit.Sink = (*AuditRepository)(nil)
