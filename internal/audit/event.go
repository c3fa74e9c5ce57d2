package audit

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of audit event
type Type string

const (
	TypeStatementImported    Type = "statement.imported"
	TypeDuplicateSuspected   Type = "statement.duplicate_suspected"
	TypeSessionCreated       Type = "session.created"
	TypeSessionCompleted     Type = "session.completed"
	TypeSessionApproved      Type = "session.approved"
	TypeSessionDisputed      Type = "session.disputed"
	TypeSessionReopened      Type = "session.reopened"
	TypeMatchAssigned        Type = "match.assigned"
	TypeMatchReviewed        Type = "match.reviewed"
	TypeCategorySuggested    Type = "category.suggested"
	TypeCategoryCorrected    Type = "category.corrected"
	TypeOracleDegraded       Type = "oracle.degraded"
	TypeDiscrepancyWaived    Type = "session.discrepancy_waived"
	TypeExclusivityViolation Type = "match.exclusivity_violation"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// RiskLevel classifies the compliance weight of an event
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValid checks if the risk level is one of the defined constants
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// retentionByRisk maps a risk level to how many days the event row is kept.
// High and critical events follow the seven-year financial record rule.
var retentionByRisk = map[RiskLevel]int{
	RiskLow:      365,
	RiskMedium:   730,
	RiskHigh:     2555,
	RiskCritical: 2555,
}

// Event is one append-only audit record. Events are never updated or
// deleted; corrections are recorded as new events on the same correlation.
type Event struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"type"`
	RiskLevel      RiskLevel              `json:"risk_level"`
	ComplianceTags []string               `json:"compliance_tags"`
	Actor          string                 `json:"actor"`
	AccountID      string                 `json:"account_id"`
	ResourceType   string                 `json:"resource_type"`
	ResourceID     string                 `json:"resource_id"`
	Payload        map[string]interface{} `json:"payload"`
	CorrelationID  string                 `json:"correlation_id"`
	RetentionDays  int                    `json:"retention_days"`
	CreatedAt      time.Time              `json:"created_at"`
}

// NewEvent creates an audit event with a fresh correlation ID.
func NewEvent(eventType Type, risk RiskLevel, resourceType, resourceID string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, risk, resourceType, resourceID, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an audit event linked to an existing
// correlation chain, so every record of one reconciliation run shares an ID.
func NewEventWithCorrelation(eventType Type, risk RiskLevel, resourceType, resourceID string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		RiskLevel:     risk,
		Actor:         "system",
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Payload:       payload,
		CorrelationID: correlationID,
		RetentionDays: retentionByRisk[risk],
		CreatedAt:     time.Now(),
	}
}

// WithActor returns a copy attributed to a specific user instead of the
// system default.
func (e *Event) WithActor(actor string) *Event {
	copied := *e
	copied.Actor = actor
	return &copied
}

// WithAccount returns a copy scoped to an account.
func (e *Event) WithAccount(accountID string) *Event {
	copied := *e
	copied.AccountID = accountID
	return &copied
}

// WithTags returns a copy carrying compliance tags such as "sox" or
// "financial_record".
func (e *Event) WithTags(tags ...string) *Event {
	copied := *e
	copied.ComplianceTags = append(append([]string{}, e.ComplianceTags...), tags...)
	return &copied
}

// WithPayload returns a copy with an added payload key-value pair.
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	copied := *e
	copied.Payload = newPayload
	return &copied
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadFloat retrieves a float64 value from the payload
func (e *Event) GetPayloadFloat(key string) float64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		}
	}
	return 0.0
}
