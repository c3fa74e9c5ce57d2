package models

import "time"

// ReconciliationMatch pairs one bank transaction with at most one book
// transaction for a session. Exactly one match record exists per bank
// transaction per session; a book transaction consumed by a matched or
// partial_match record can never appear in a second record of the same
// session.
type ReconciliationMatch struct {
	ID                   string      `json:"id"`
	SessionID            string      `json:"session_id"`
	BankTransactionID    string      `json:"bank_transaction_id"`
	BookTransactionID    *string     `json:"book_transaction_id,omitempty"`
	Confidence           float64     `json:"confidence"` // [0,1]
	MatchType            MatchType   `json:"match_type,omitempty"`
	Reasoning            string      `json:"reasoning"`
	SuggestedCategory    string      `json:"suggested_category,omitempty"`
	SuggestedAdjustments string      `json:"suggested_adjustments,omitempty"`
	Status               MatchStatus `json:"status"`
	CreatedAt            time.Time   `json:"created_at"`
	ReviewedBy           string      `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time  `json:"reviewed_at,omitempty"`
}

// MatchType records which pipeline stage produced the match.
type MatchType string

const (
	MatchTypeExact  MatchType = "exact"
	MatchTypeFuzzy  MatchType = "fuzzy"
	MatchTypeRule   MatchType = "rule"
	MatchTypeAI     MatchType = "ai"
	MatchTypeManual MatchType = "manual"
)

// MatchStatus is the review state of a match record.
type MatchStatus string

const (
	MatchStatusUnmatched    MatchStatus = "unmatched"
	MatchStatusMatched      MatchStatus = "matched"
	MatchStatusPartialMatch MatchStatus = "partial_match"
	MatchStatusDisputed     MatchStatus = "disputed"
	MatchStatusExcluded     MatchStatus = "excluded"
)

// ConsumesBook reports whether this match record claims its book transaction
// for exclusivity purposes.
func (m *ReconciliationMatch) ConsumesBook() bool {
	return m.BookTransactionID != nil &&
		(m.Status == MatchStatusMatched || m.Status == MatchStatusPartialMatch)
}
