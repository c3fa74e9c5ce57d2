package models

import "time"

// CategorizationAttempt records one categorization event for a transaction.
// Corrections never mutate the original suggestion; they flip accepted to
// false and fill the correction fields, preserving model performance history.
type CategorizationAttempt struct {
	ID                  string        `json:"id"`
	TransactionID       string        `json:"transaction_id"`
	UserID              string        `json:"user_id,omitempty"`
	OriginalCategory    string        `json:"original_category,omitempty"`
	SuggestedCategory   string        `json:"suggested_category"`
	Confidence          float64       `json:"confidence"`
	AIModel             string        `json:"ai_model"`
	AIProvider          string        `json:"ai_provider"`
	Reasoning           string        `json:"reasoning"`
	Accepted            bool          `json:"accepted"`
	CorrectedCategory   string        `json:"corrected_category,omitempty"`
	CorrectionReasoning string        `json:"correction_reasoning,omitempty"`
	ProcessingTime      time.Duration `json:"processing_time"`
	CreatedAt           time.Time     `json:"created_at"`
}

// CategorizationResult is the caller-facing outcome for one transaction.
type CategorizationResult struct {
	TransactionID string  `json:"transaction_id"`
	Category      string  `json:"category"`
	Confidence    float64 `json:"confidence"`
	Explanation   string  `json:"explanation"`
	FromCache     bool    `json:"from_cache"`
}
