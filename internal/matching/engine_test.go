package matching

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/oracle"
)

type fakeOracle struct {
	suggestion *oracle.MatchSuggestion
	err        error
	calls      int
}

func (f *fakeOracle) Classify(ctx context.Context, tx oracle.TransactionView) (*oracle.Classification, error) {
	return nil, oracle.ErrUnavailable
}

func (f *fakeOracle) FindMatchCandidates(ctx context.Context, bankTx oracle.TransactionView, candidates []oracle.TransactionView) (*oracle.MatchSuggestion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestion, nil
}

func (f *fakeOracle) SubmitFeedback(ctx context.Context, correction oracle.Correction) error {
	return nil
}

func newTestEngine(t *testing.T, rules []models.ReconciliationRule, orc oracle.Oracle) *Engine {
	t.Helper()
	ruleEngine, err := NewRuleEngine(NewStaticRuleProvider(rules))
	require.NoError(t, err)
	return NewEngine(ruleEngine, orc, DefaultConfig(), zap.NewNop())
}

func bankTx(id, desc, amount string, date time.Time) *models.BankTransaction {
	return &models.BankTransaction{
		ID:          id,
		AccountID:   "acct-1",
		Date:        date,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Reference:   "ref-" + id,
		Type:        models.BankTransactionDebit,
	}
}

func bookTx(id, desc, amount string, date time.Time) *models.BookTransaction {
	return &models.BookTransaction{
		ID:          id,
		AccountID:   "acct-1",
		Type:        models.BookExpense,
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		Description: desc,
		Status:      models.BookStatusCleared,
	}
}

func TestExactMatch(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	bank := bankTx("b1", "ACME CORP", "-150.00", day)
	book := bookTx("k1", "Acme Corp office supplies", "150.00", day)

	matches, err := engine.Match(context.Background(), "s1", []*models.BankTransaction{bank}, []*models.BookTransaction{book})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, models.MatchStatusMatched, m.Status)
	assert.Equal(t, models.MatchTypeExact, m.MatchType)
	assert.Equal(t, 0.95, m.Confidence)
	require.NotNil(t, m.BookTransactionID)
	assert.Equal(t, "k1", *m.BookTransactionID)
}

func TestNoMatchProducesUnmatchedRecord(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	bank := bankTx("b1", "MYSTERY VENDOR", "-42.00", day)

	matches, err := engine.Match(context.Background(), "s1", []*models.BankTransaction{bank}, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, models.MatchStatusUnmatched, m.Status)
	assert.Zero(t, m.Confidence)
	assert.Empty(t, m.MatchType)
	assert.Nil(t, m.BookTransactionID)
	assert.Equal(t, "requires manual review", m.Reasoning)
}

func TestContestedFuzzyMatchHigherConfidenceWins(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Dates are far apart so neither pairing qualifies as exact; both clear
	// the fuzzy threshold against the single book transaction, with bankA
	// scoring higher on amount proximity.
	bankA := bankTx("bA", "acme corp", "-102.00", day)
	bankB := bankTx("bB", "acme corp", "-110.00", day)
	book := bookTx("k1", "acme corp", "100.00", day.AddDate(0, 0, 10))

	matches, err := engine.Match(context.Background(), "s1",
		[]*models.BankTransaction{bankB, bankA}, // input order must not matter
		[]*models.BookTransaction{book})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	byBank := make(map[string]*models.ReconciliationMatch)
	for _, m := range matches {
		byBank[m.BankTransactionID] = m
	}

	winner := byBank["bA"]
	require.NotNil(t, winner.BookTransactionID)
	assert.Equal(t, models.MatchStatusPartialMatch, winner.Status)
	assert.Equal(t, models.MatchTypeFuzzy, winner.MatchType)
	assert.Greater(t, winner.Confidence, byBank["bB"].Confidence)

	loser := byBank["bB"]
	assert.Equal(t, models.MatchStatusUnmatched, loser.Status)
	assert.Nil(t, loser.BookTransactionID)
}

func TestRulePrecedenceOverFuzzy(t *testing.T) {
	rules := []models.ReconciliationRule{
		{
			ID:             "paypal_fees",
			Pattern:        "PAYPAL *FEE",
			TargetCategory: "payment_processing_fees",
			Confidence:     0.95,
		},
	}
	engine := newTestEngine(t, rules, nil)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	bank := bankTx("b1", "PAYPAL *FEE 12345", "-12.50", day)
	// Would fuzzy-match comfortably, but the rule stage runs first.
	book := bookTx("k1", "paypal *fee 12345", "12.50", day.AddDate(0, 0, 5))

	matches, err := engine.Match(context.Background(), "s1",
		[]*models.BankTransaction{bank}, []*models.BookTransaction{book})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, models.MatchTypeRule, m.MatchType)
	assert.Equal(t, models.MatchStatusMatched, m.Status)
	assert.Equal(t, 0.95, m.Confidence)
	assert.Equal(t, "payment_processing_fees", m.SuggestedCategory)
	// Rule matches categorize without consuming the book transaction.
	assert.Nil(t, m.BookTransactionID)
}

func TestExclusivityAcrossBatch(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	banks := []*models.BankTransaction{
		bankTx("b1", "vendor alpha", "-100.00", day),
		bankTx("b2", "vendor alpha", "-100.00", day),
		bankTx("b3", "vendor beta", "-200.00", day),
	}
	books := []*models.BookTransaction{
		bookTx("k1", "vendor alpha", "100.00", day),
		bookTx("k2", "vendor beta", "200.00", day),
	}

	matches, err := engine.Match(context.Background(), "s1", banks, books)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	seen := make(map[string]int)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Confidence, 0.0)
		assert.LessOrEqual(t, m.Confidence, 1.0)
		if m.ConsumesBook() {
			seen[*m.BookTransactionID]++
		}
	}
	for bookID, count := range seen {
		assert.Equal(t, 1, count, "book transaction %s consumed more than once", bookID)
	}
}

func TestOracleFallbackProducesAIMatch(t *testing.T) {
	orc := &fakeOracle{
		suggestion: &oracle.MatchSuggestion{
			CandidateID: "k1",
			Confidence:  0.95, // above the cap; must be clamped
			Explanation: "same counterparty under a different descriptor",
		},
	}
	engine := newTestEngine(t, nil, orc)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// No token overlap and a wide amount gap keeps fuzzy below threshold.
	bank := bankTx("b1", "POS 99812 TRANSFER", "-340.00", day)
	book := bookTx("k1", "quarterly software license", "290.00", day)

	matches, err := engine.Match(context.Background(), "s1",
		[]*models.BankTransaction{bank}, []*models.BookTransaction{book})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, models.MatchTypeAI, m.MatchType)
	assert.Equal(t, models.MatchStatusPartialMatch, m.Status)
	assert.Equal(t, 0.80, m.Confidence)
	require.NotNil(t, m.BookTransactionID)
	assert.Equal(t, "k1", *m.BookTransactionID)
	assert.Equal(t, 1, orc.calls)
}

func TestOracleFailureDegradesToUnmatched(t *testing.T) {
	orc := &fakeOracle{err: oracle.ErrUnavailable}
	engine := newTestEngine(t, nil, orc)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	bank := bankTx("b1", "POS 99812 TRANSFER", "-340.00", day)
	book := bookTx("k1", "quarterly software license", "290.00", day)

	matches, err := engine.Match(context.Background(), "s1",
		[]*models.BankTransaction{bank}, []*models.BookTransaction{book})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchStatusUnmatched, matches[0].Status)
}

func TestReconciledBookTransactionsAreNotCandidates(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	bank := bankTx("b1", "vendor alpha", "-100.00", day)
	book := bookTx("k1", "vendor alpha", "100.00", day)
	book.Status = models.BookStatusReconciled

	matches, err := engine.Match(context.Background(), "s1",
		[]*models.BankTransaction{bank}, []*models.BookTransaction{book})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchStatusUnmatched, matches[0].Status)
}
