package statement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/oracle"
)

func testReader() *PDFReader {
	return NewPDFReader(nil, "gpt-4o", oracle.DefaultPrompts(), zap.NewNop())
}

func TestToTransaction(t *testing.T) {
	r := testReader()

	tx, err := r.toTransaction(extractedRow{
		Date:        "2024-03-01",
		Description: "  ACME CORP  ",
		Amount:      "-1,250.00",
		Type:        "DEBIT",
		Reference:   "TXN-001",
		Balance:     "8,750.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME CORP", tx.Description)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("-1250.00")))
	assert.True(t, tx.Balance.Equal(decimal.RequireFromString("8750.00")))
	assert.Equal(t, models.BankTransactionDebit, tx.Type)
	assert.Equal(t, models.SourceBankImport, tx.Source)
}

func TestToTransactionInfersTypeFromSign(t *testing.T) {
	r := testReader()

	debit, err := r.toTransaction(extractedRow{
		Date: "2024-03-01", Description: "CARD PAYMENT", Amount: "-42.00", Reference: "R1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BankTransactionDebit, debit.Type)

	credit, err := r.toTransaction(extractedRow{
		Date: "2024-03-01", Description: "SALARY", Amount: "3000.00", Reference: "R2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BankTransactionCredit, credit.Type)
}

func TestToTransactionRejectsBadRows(t *testing.T) {
	r := testReader()

	_, err := r.toTransaction(extractedRow{Date: "03/01/2024", Amount: "1.00", Reference: "R1"})
	assert.ErrorContains(t, err, "bad date")

	_, err = r.toTransaction(extractedRow{Date: "2024-03-01", Amount: "twelve", Reference: "R1"})
	assert.ErrorContains(t, err, "bad amount")

	_, err = r.toTransaction(extractedRow{Date: "2024-03-01", Amount: "1.00"})
	assert.ErrorContains(t, err, "missing reference")
}
