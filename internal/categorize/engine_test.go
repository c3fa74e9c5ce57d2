package categorize

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/oracle"
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/pkg/database"
)

type scriptedOracle struct {
	classification *oracle.Classification
	classifyErr    error
	classifyCalls  int
	corrections    []oracle.Correction
}

func (o *scriptedOracle) Classify(ctx context.Context, tx oracle.TransactionView) (*oracle.Classification, error) {
	o.classifyCalls++
	if o.classifyErr != nil {
		return nil, o.classifyErr
	}
	return o.classification, nil
}

func (o *scriptedOracle) FindMatchCandidates(ctx context.Context, bankTx oracle.TransactionView, candidates []oracle.TransactionView) (*oracle.MatchSuggestion, error) {
	return nil, nil
}

func (o *scriptedOracle) SubmitFeedback(ctx context.Context, correction oracle.Correction) error {
	o.corrections = append(o.corrections, correction)
	return nil
}

func (o *scriptedOracle) Provider() string { return "openai" }
func (o *scriptedOracle) Model() string    { return "gpt-4o-mini" }

type testEnv struct {
	engine   *Engine
	books    *repository.BookTransactionRepository
	attempts *repository.CategorizationRepository
	oracle   *scriptedOracle
}

func setup(t *testing.T, orc *scriptedOracle) *testEnv {
	t.Helper()

	db, err := database.NewInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../migrations/001_initial_schema.sql")
	require.NoError(t, err)
	require.NoError(t, database.NewMigrator(db, zap.NewNop()).ApplySQL(string(schema)))

	nop := zap.NewNop()
	books := repository.NewBookTransactionRepository(db.DB, nop)
	attempts := repository.NewCategorizationRepository(db.DB, nop)
	auditLog := audit.NewLogger(repository.NewAuditRepository(db.DB, nop), nil, nop, nop)

	cfg := Config{ShortCircuitConfidence: 0.9, Concurrency: 4}
	return &testEnv{
		engine:   NewEngine(books, attempts, orc, auditLog, cfg, nop),
		books:    books,
		attempts: attempts,
		oracle:   orc,
	}
}

func newBookTx(t *testing.T, env *testEnv, desc, category string, confidence float64) *models.BookTransaction {
	t.Helper()
	tx := &models.BookTransaction{
		ID:                 uuid.NewString(),
		AccountID:          "acct-1",
		Type:               models.BookExpense,
		Amount:             decimal.RequireFromString("99.00"),
		Date:               time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Description:        desc,
		Category:           category,
		CategoryConfidence: confidence,
		Status:             models.BookStatusCleared,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, env.books.Create(context.Background(), nil, tx))
	return tx
}

func TestCategorizeSuggestsAndPersists(t *testing.T) {
	env := setup(t, &scriptedOracle{
		classification: &oracle.Classification{
			Category:    "software_subscriptions",
			Confidence:  0.84,
			Explanation: "recurring SaaS vendor",
		},
	})
	ctx := context.Background()
	tx := newBookTx(t, env, "GITHUB INC MONTHLY", "", 0)

	results, err := env.engine.Categorize(ctx, []*models.BookTransaction{tx})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "software_subscriptions", results[0].Category)
	assert.Equal(t, 0.84, results[0].Confidence)
	assert.False(t, results[0].FromCache)

	stored, err := env.books.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "software_subscriptions", stored.Category)
	assert.Equal(t, 0.84, stored.CategoryConfidence)

	attempt, err := env.attempts.LatestByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, "openai", attempt.AIProvider)
	assert.Equal(t, "gpt-4o-mini", attempt.AIModel)
	assert.True(t, attempt.Accepted)
}

func TestCategorizeShortCircuitsHighConfidencePriors(t *testing.T) {
	env := setup(t, &scriptedOracle{
		classification: &oracle.Classification{Category: "other", Confidence: 0.5},
	})
	tx := newBookTx(t, env, "GITHUB INC MONTHLY", "software_subscriptions", 0.95)

	results, err := env.engine.Categorize(context.Background(), []*models.BookTransaction{tx})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].FromCache)
	assert.Equal(t, "software_subscriptions", results[0].Category)
	assert.Zero(t, env.oracle.classifyCalls)
}

func TestCategorizeDegradesOnOracleFailure(t *testing.T) {
	env := setup(t, &scriptedOracle{classifyErr: oracle.ErrUnavailable})
	tx := newBookTx(t, env, "GITHUB INC MONTHLY", "", 0)

	results, err := env.engine.Categorize(context.Background(), []*models.BookTransaction{tx})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Category)

	attempt, err := env.attempts.LatestByTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Nil(t, attempt)
}

func TestProcessFeedbackCorrectsAndForwards(t *testing.T) {
	env := setup(t, &scriptedOracle{
		classification: &oracle.Classification{
			Category:   "travel",
			Confidence: 0.82,
		},
	})
	ctx := context.Background()
	tx := newBookTx(t, env, "DELTA AIR 0062", "", 0)

	_, err := env.engine.Categorize(ctx, []*models.BookTransaction{tx})
	require.NoError(t, err)

	require.NoError(t, env.engine.ProcessFeedback(ctx, Feedback{
		TransactionID:     tx.ID,
		UserID:            "user-9",
		CorrectedCategory: "client_entertainment",
		Reasoning:         "flight was billed to the client",
	}))

	stored, err := env.books.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "client_entertainment", stored.Category)
	assert.Equal(t, 1.0, stored.CategoryConfidence)

	attempt, err := env.attempts.LatestByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, attempt.Accepted)
	assert.Equal(t, "travel", attempt.SuggestedCategory)
	assert.Equal(t, "client_entertainment", attempt.CorrectedCategory)

	require.Len(t, env.oracle.corrections, 1)
	assert.Equal(t, "travel", env.oracle.corrections[0].OriginalCategory)
	assert.Equal(t, "client_entertainment", env.oracle.corrections[0].CorrectedCategory)
}

func TestProcessFeedbackWithoutAttempt(t *testing.T) {
	env := setup(t, &scriptedOracle{})
	tx := newBookTx(t, env, "DELTA AIR 0062", "", 0)

	err := env.engine.ProcessFeedback(context.Background(), Feedback{
		TransactionID:     tx.ID,
		UserID:            "user-9",
		CorrectedCategory: "travel",
	})
	assert.ErrorIs(t, err, ErrNoAttempt)

	err = env.engine.ProcessFeedback(context.Background(), Feedback{
		TransactionID:     "missing",
		UserID:            "user-9",
		CorrectedCategory: "travel",
	})
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}
