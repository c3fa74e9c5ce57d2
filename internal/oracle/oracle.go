// Package oracle defines the boundary to the external AI classification
// service and its OpenAI-backed implementation. The oracle is best-effort,
// never authoritative: callers degrade gracefully when it is unavailable.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when the oracle cannot produce a usable answer.
// Callers treat it as a degradation signal, not a failure.
var ErrUnavailable = errors.New("classification oracle unavailable")

// TransactionView is the oracle-facing projection of a transaction.
type TransactionView struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Type        string          `json:"type"`
	Reference   string          `json:"reference,omitempty"`
}

// Classification is the oracle's category suggestion for one transaction.
type Classification struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// MatchSuggestion names the book transaction candidate the oracle considers
// the best pairing for a bank transaction.
type MatchSuggestion struct {
	CandidateID string  `json:"candidate_id"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Correction carries a human categorization correction back to the oracle
// for model improvement.
type Correction struct {
	TransactionID     string  `json:"transaction_id"`
	OriginalCategory  string  `json:"original_category"`
	CorrectedCategory string  `json:"corrected_category"`
	Reasoning         string  `json:"reasoning"`
	Confidence        float64 `json:"confidence"`
}

// Oracle is the external classification capability. A nil MatchSuggestion
// with nil error means the oracle found no plausible candidate.
type Oracle interface {
	Classify(ctx context.Context, tx TransactionView) (*Classification, error)
	FindMatchCandidates(ctx context.Context, bankTx TransactionView, candidates []TransactionView) (*MatchSuggestion, error)
	SubmitFeedback(ctx context.Context, correction Correction) error
}
