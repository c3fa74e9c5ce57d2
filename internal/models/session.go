package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationSession tracks one reconciliation run for an account and
// period. Mutated only by the session manager; approved is terminal.
type ReconciliationSession struct {
	ID                   string          `json:"id"`
	AccountID            string          `json:"account_id"`
	UserID               string          `json:"user_id"`
	Type                 string          `json:"type"` // e.g. "bank_statement"
	Period               Period          `json:"period"`
	BankStatementBalance decimal.Decimal `json:"bank_statement_balance"`
	BookBalance          decimal.Decimal `json:"book_balance"`
	Difference           decimal.Decimal `json:"difference"` // bookBalance - bankStatementBalance
	Status               SessionStatus   `json:"status"`
	DiscrepancyWaiver    string          `json:"discrepancy_waiver,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	ApprovedBy           string          `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
}

// SessionStatus is the lifecycle state of a reconciliation session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionApproved   SessionStatus = "approved"
	SessionDisputed   SessionStatus = "disputed"
)

// SessionReport is the caller-facing view of a completed session.
type SessionReport struct {
	Session         *ReconciliationSession `json:"session"`
	Matches         []*ReconciliationMatch `json:"matches"`
	Summary         MatchSummary           `json:"summary"`
	Recommendations []string               `json:"recommendations"`
}

// MatchSummary aggregates match outcomes for reporting and dispute routing.
type MatchSummary struct {
	Total        int `json:"total"`
	Matched      int `json:"matched"`
	PartialMatch int `json:"partial_match"`
	Unmatched    int `json:"unmatched"`
	RuleMatches  int `json:"rule_matches"`
	ExactMatches int `json:"exact_matches"`
	FuzzyMatches int `json:"fuzzy_matches"`
	AIMatches    int `json:"ai_matches"`
}

// UnresolvedRatio returns the share of transactions without a full match.
func (s MatchSummary) UnresolvedRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Unmatched+s.PartialMatch) / float64(s.Total)
}

// Summarize tallies a resolved match set.
func Summarize(matches []*ReconciliationMatch) MatchSummary {
	var s MatchSummary
	s.Total = len(matches)
	for _, m := range matches {
		switch m.Status {
		case MatchStatusMatched:
			s.Matched++
		case MatchStatusPartialMatch:
			s.PartialMatch++
		case MatchStatusUnmatched:
			s.Unmatched++
		}
		switch m.MatchType {
		case MatchTypeRule:
			s.RuleMatches++
		case MatchTypeExact:
			s.ExactMatches++
		case MatchTypeFuzzy:
			s.FuzzyMatches++
		case MatchTypeAI:
			s.AIMatches++
		}
	}
	return s
}
