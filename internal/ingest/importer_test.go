package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/pkg/database"
)

func setup(t *testing.T) (*Importer, *repository.BankTransactionRepository, *repository.AuditRepository) {
	t.Helper()

	db, err := database.NewInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../migrations/001_initial_schema.sql")
	require.NoError(t, err)
	require.NoError(t, database.NewMigrator(db, zap.NewNop()).ApplySQL(string(schema)))

	nop := zap.NewNop()
	banks := repository.NewBankTransactionRepository(db.DB, nop)
	audits := repository.NewAuditRepository(db.DB, nop)
	auditLog := audit.NewLogger(audits, nil, nop, nop)

	cfg := Config{DuplicateGapHours: 24, DuplicateSimilarity: 0.85}
	return NewImporter(banks, auditLog, cfg, nop), banks, audits
}

func statementLine(reference, desc, amount string, date time.Time) *models.BankTransaction {
	return &models.BankTransaction{
		Date:        date,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Reference:   reference,
		Type:        models.BankTransactionDebit,
	}
}

func TestImportIsIdempotent(t *testing.T) {
	importer, banks, _ := setup(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	batch := []*models.BankTransaction{
		statementLine("TXN-001", "ACME CORP", "-150.00", day),
		statementLine("TXN-002", "PAYPAL *FEE", "-12.50", day),
	}
	result, err := importer.Import(ctx, "acct-1", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Zero(t, result.Duplicates)

	// Re-importing the same statement changes nothing.
	again := []*models.BankTransaction{
		statementLine("TXN-001", "ACME CORP", "-150.00", day),
		statementLine("TXN-002", "PAYPAL *FEE", "-12.50", day),
	}
	result, err = importer.Import(ctx, "acct-1", again)
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Equal(t, 2, result.Duplicates)

	stored, err := banks.ListByAccountPeriod(ctx, "acct-1", models.Period{Start: day, End: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestImportRequiresReference(t *testing.T) {
	importer, _, _ := setup(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := importer.Import(context.Background(), "acct-1", []*models.BankTransaction{
		statementLine("", "ACME CORP", "-150.00", day),
	})
	assert.ErrorIs(t, err, ErrEmptyReference)
}

func TestNearDuplicateIsImportedButFlagged(t *testing.T) {
	importer, _, audits := setup(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := importer.Import(ctx, "acct-1", []*models.BankTransaction{
		statementLine("TXN-001", "ACME CORP PAYMENT", "-150.00", day),
	})
	require.NoError(t, err)
	assert.Empty(t, first.Suspected)

	// Same amount, near-identical description, six hours later, new reference.
	second, err := importer.Import(ctx, "acct-1", []*models.BankTransaction{
		statementLine("TXN-099", "ACME CORP PAYMENT.", "-150.00", day.Add(6*time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Imported)
	require.Len(t, second.Suspected, 1)
	assert.GreaterOrEqual(t, second.Suspected[0].Similarity, 0.85)

	events, err := audits.Query(ctx, repository.AuditQuery{EventType: "statement.duplicate_suspected"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.RiskMedium, events[0].RiskLevel)
}

func TestDistantTransactionsAreNotFlagged(t *testing.T) {
	importer, _, _ := setup(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := importer.Import(ctx, "acct-1", []*models.BankTransaction{
		statementLine("TXN-001", "ACME CORP PAYMENT", "-150.00", day),
	})
	require.NoError(t, err)

	// Same payment shape three days later is a legitimate recurrence.
	result, err := importer.Import(ctx, "acct-1", []*models.BankTransaction{
		statementLine("TXN-050", "ACME CORP PAYMENT", "-150.00", day.AddDate(0, 0, 3)),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Suspected)
}

func TestDescriptionSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, descriptionSimilarity("ACME CORP", "acme corp"))
	assert.Zero(t, descriptionSimilarity("", ""))
	assert.Less(t, descriptionSimilarity("ACME CORP", "ZENITH LLC"), 0.5)
}
