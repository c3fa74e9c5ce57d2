package session

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
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/pkg/database"
)

type fixture struct {
	db      *database.DB
	manager *Manager
	banks   *repository.BankTransactionRepository
	books   *repository.BookTransactionRepository
	matches *repository.MatchRepository
	audits  *repository.AuditRepository
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../migrations/001_initial_schema.sql")
	require.NoError(t, err)
	require.NoError(t, database.NewMigrator(db, zap.NewNop()).ApplySQL(string(schema)))

	nop := zap.NewNop()
	banks := repository.NewBankTransactionRepository(db.DB, nop)
	books := repository.NewBookTransactionRepository(db.DB, nop)
	matches := repository.NewMatchRepository(db.DB, nop)
	sessions := repository.NewSessionRepository(db.DB, nop)
	audits := repository.NewAuditRepository(db.DB, nop)
	auditLog := audit.NewLogger(audits, nil, nop, nop)

	cfg := Config{
		ApprovalTolerance: decimal.RequireFromString("0.01"),
		DisputeRatio:      0.5,
	}
	return &fixture{
		db:      db,
		manager: NewManager(db, sessions, banks, books, matches, auditLog, cfg, nop),
		banks:   banks,
		books:   books,
		matches: matches,
		audits:  audits,
	}
}

var period = models.Period{
	Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
}

func (f *fixture) addBankTx(t *testing.T, amount string, txType models.BankTransactionType) *models.BankTransaction {
	t.Helper()
	tx := &models.BankTransaction{
		ID: uuid.NewString(), AccountID: "acct-1",
		Date: period.Start.AddDate(0, 0, 5),
		Amount: decimal.RequireFromString(amount), Balance: decimal.Zero,
		Reference: uuid.NewString(), Type: txType,
		Source: models.SourceBankImport, CreatedAt: time.Now(),
	}
	_, err := f.banks.Import(context.Background(), nil, tx)
	require.NoError(t, err)
	return tx
}

func (f *fixture) addBookTx(t *testing.T, amount string, txType models.BookTransactionType) *models.BookTransaction {
	return f.addBookTxWithStatus(t, amount, txType, models.BookStatusCleared)
}

func (f *fixture) addBookTxWithStatus(t *testing.T, amount string, txType models.BookTransactionType, status models.BookStatus) *models.BookTransaction {
	t.Helper()
	tx := &models.BookTransaction{
		ID: uuid.NewString(), AccountID: "acct-1", Type: txType,
		Amount: decimal.RequireFromString(amount),
		Date:   period.Start.AddDate(0, 0, 5),
		Status: status,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, f.books.Create(context.Background(), nil, tx))
	return tx
}

func (f *fixture) addMatch(t *testing.T, sessionID string, bankID string, bookID *string, status models.MatchStatus) {
	t.Helper()
	match := &models.ReconciliationMatch{
		ID: uuid.NewString(), SessionID: sessionID,
		BankTransactionID: bankID, BookTransactionID: bookID,
		Status: status, CreatedAt: time.Now(),
	}
	if status == models.MatchStatusMatched {
		match.Confidence = 0.95
		match.MatchType = models.MatchTypeExact
	}
	require.NoError(t, f.matches.Create(context.Background(), nil, match))
}

func TestCreateRejectsInvalidPeriod(t *testing.T) {
	f := setup(t)
	_, err := f.manager.Create(context.Background(), "acct-1", "user-1", models.Period{
		Start: period.End,
		End:   period.Start,
	})
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestCreateComputesBalances(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addBankTx(t, "150.00", models.BankTransactionDebit)
	f.addBankTx(t, "500.00", models.BankTransactionCredit)
	f.addBookTx(t, "150.00", models.BookExpense)
	f.addBookTx(t, "500.00", models.BookInvoice)

	session, err := f.manager.Create(ctx, "acct-1", "user-1", period)
	require.NoError(t, err)

	assert.Equal(t, models.SessionInProgress, session.Status)
	assert.True(t, session.BankStatementBalance.Equal(decimal.RequireFromString("350.00")))
	assert.True(t, session.BookBalance.Equal(decimal.RequireFromString("350.00")))
	assert.True(t, session.Difference.IsZero())

	// One live run per account and period.
	_, err = f.manager.Create(ctx, "acct-1", "user-2", period)
	assert.ErrorIs(t, err, repository.ErrSessionAlreadyInProgress)

	events, err := f.audits.Query(ctx, repository.AuditQuery{EventType: "session.created"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCreateExcludesPendingFromBookBalance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pending := f.addBookTxWithStatus(t, "500.00", models.BookInvoice, models.BookStatusPending)

	session, err := f.manager.Create(ctx, "acct-1", "user-1", period)
	require.NoError(t, err)

	// Only cleared entries settle into the book balance.
	assert.True(t, session.BookBalance.IsZero(), "book balance %s", session.BookBalance)
	assert.True(t, session.Difference.IsZero())

	// The pending entry still remains a match candidate.
	pool, err := f.books.ListUnreconciledByAccountPeriod(ctx, "acct-1", period)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, pending.ID, pool[0].ID)
}

func TestCompleteReconcilesConsumedBooks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	bank := f.addBankTx(t, "150.00", models.BankTransactionDebit)
	book := f.addBookTx(t, "150.00", models.BookExpense)

	session, err := f.manager.Create(ctx, "acct-1", "user-1", period)
	require.NoError(t, err)
	f.addMatch(t, session.ID, bank.ID, &book.ID, models.MatchStatusMatched)

	completed, err := f.manager.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	stored, err := f.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusReconciled, stored.Status)
}

func TestCompleteAutoDisputesOnHighUnresolvedRatio(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	matched := f.addBankTx(t, "150.00", models.BankTransactionDebit)
	book := f.addBookTx(t, "150.00", models.BookExpense)
	loose1 := f.addBankTx(t, "20.00", models.BankTransactionDebit)
	loose2 := f.addBankTx(t, "30.00", models.BankTransactionDebit)

	session, err := f.manager.Create(ctx, "acct-1", "user-1", period)
	require.NoError(t, err)
	f.addMatch(t, session.ID, matched.ID, &book.ID, models.MatchStatusMatched)
	f.addMatch(t, session.ID, loose1.ID, nil, models.MatchStatusUnmatched)
	f.addMatch(t, session.ID, loose2.ID, nil, models.MatchStatusUnmatched)

	// 2 of 3 unresolved exceeds the 0.5 dispute threshold.
	result, err := f.manager.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionDisputed, result.Status)

	events, err := f.audits.Query(ctx, repository.AuditQuery{EventType: "session.disputed"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.RiskHigh, events[0].RiskLevel)
}

func TestApprovalGate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Bank shows a debit the books never recorded: difference 42.17.
	f.addBankTx(t, "42.17", models.BankTransactionCredit)

	session, err := f.manager.Create(ctx, "acct-1", "user-1", period)
	require.NoError(t, err)
	assert.True(t, session.Difference.Equal(decimal.RequireFromString("-42.17")))

	_, err = f.manager.Complete(ctx, session.ID)
	require.NoError(t, err)

	_, err = f.manager.Approve(ctx, session.ID, "controller", "")
	assert.ErrorIs(t, err, ErrApprovalBlocked)

	approved, err := f.manager.Approve(ctx, session.ID, "controller", "bank fee posted after period close")
	require.NoError(t, err)
	assert.Equal(t, models.SessionApproved, approved.Status)
	assert.Equal(t, "controller", approved.ApprovedBy)
	assert.Equal(t, "bank fee posted after period close", approved.DiscrepancyWaiver)

	waived, err := f.audits.Query(ctx, repository.AuditQuery{EventType: "session.discrepancy_waived"})
	require.NoError(t, err)
	assert.Len(t, waived, 1)

	// Approved is terminal.
	_, err = f.manager.Dispute(ctx, session.ID, "user-1", "second thoughts")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveWithinTolerance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	session, err := f.manager.Create(ctx, "acct-1", "user-1", period)
	require.NoError(t, err)
	_, err = f.manager.Complete(ctx, session.ID)
	require.NoError(t, err)

	approved, err := f.manager.Approve(ctx, session.ID, "controller", "")
	require.NoError(t, err)
	assert.Equal(t, models.SessionApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
}

func TestDisputeAndReopen(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	session, err := f.manager.Create(ctx, "acct-1", "user-1", period)
	require.NoError(t, err)
	_, err = f.manager.Complete(ctx, session.ID)
	require.NoError(t, err)

	disputed, err := f.manager.Dispute(ctx, session.ID, "user-1", "missing wire transfer")
	require.NoError(t, err)
	assert.Equal(t, models.SessionDisputed, disputed.Status)

	reopened, err := f.manager.Reopen(ctx, session.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)

	// In-progress sessions cannot be approved directly.
	_, err = f.manager.Approve(ctx, session.ID, "controller", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
