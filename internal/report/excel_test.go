package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
)

func sampleReport() *models.SessionReport {
	bookID := "book-1"
	now := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	session := &models.ReconciliationSession{
		ID:        "session-1",
		AccountID: "acct-1",
		Period: models.Period{
			Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		},
		BankStatementBalance: decimal.RequireFromString("1200.00"),
		BookBalance:          decimal.RequireFromString("1200.00"),
		Difference:           decimal.Zero,
		Status:               models.SessionCompleted,
		CompletedAt:          &now,
	}
	matches := []*models.ReconciliationMatch{
		{
			ID: "m1", SessionID: "session-1", BankTransactionID: "bank-1",
			BookTransactionID: &bookID, Confidence: 0.95,
			MatchType: models.MatchTypeExact, Status: models.MatchStatusMatched,
			Reasoning: "amounts equal, same day",
		},
		{
			ID: "m2", SessionID: "session-1", BankTransactionID: "bank-2",
			Status: models.MatchStatusUnmatched, Reasoning: "requires manual review",
		},
	}
	summary := models.Summarize(matches)
	return &models.SessionReport{
		Session:         session,
		Matches:         matches,
		Summary:         summary,
		Recommendations: Recommendations(summary, session),
	}
}

func TestExportProducesReadableWorkbook(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExcelExporter(zap.NewNop()).Export(sampleReport(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Summary", "Matches"}, f.GetSheetList())

	sessionID, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "session-1", sessionID)

	bankCell, err := f.GetCellValue("Matches", "A2")
	require.NoError(t, err)
	assert.Equal(t, "bank-1", bankCell)

	status, err := f.GetCellValue("Matches", "C3")
	require.NoError(t, err)
	assert.Equal(t, "unmatched", status)
}

func TestRecommendations(t *testing.T) {
	session := &models.ReconciliationSession{Difference: decimal.RequireFromString("42.17")}

	recs := Recommendations(models.MatchSummary{Total: 3, Matched: 1, PartialMatch: 1, Unmatched: 1}, session)
	assert.Len(t, recs, 3)

	clean := &models.ReconciliationSession{Difference: decimal.Zero}
	recs = Recommendations(models.MatchSummary{Total: 2, Matched: 2}, clean)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "ready for approval")
}
