// Package report renders reconciliation session reports, including the XLSX
// export handed to controllers during period close.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
)

// ExcelExporter writes a session report as an XLSX workbook with a summary
// sheet and a per-match detail sheet.
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates an Excel exporter
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// Export writes the workbook to w
func (e *ExcelExporter) Export(report *models.SessionReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	const matchesSheet = "Matches"

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(matchesSheet); err != nil {
		return fmt.Errorf("failed to create matches sheet: %w", err)
	}

	e.fillSummary(f, summarySheet, report)
	e.fillMatches(f, matchesSheet, report.Matches)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Session report exported",
		zap.String("session_id", report.Session.ID),
		zap.Int("matches", len(report.Matches)))
	return nil
}

func (e *ExcelExporter) fillSummary(f *excelize.File, sheet string, report *models.SessionReport) {
	s := report.Session

	rows := [][2]string{
		{"Session", s.ID},
		{"Account", s.AccountID},
		{"Period start", s.Period.Start.Format(time.DateOnly)},
		{"Period end", s.Period.End.Format(time.DateOnly)},
		{"Status", string(s.Status)},
		{"Bank statement balance", s.BankStatementBalance.String()},
		{"Book balance", s.BookBalance.String()},
		{"Difference", s.Difference.String()},
		{"", ""},
		{"Total transactions", fmt.Sprintf("%d", report.Summary.Total)},
		{"Matched", fmt.Sprintf("%d", report.Summary.Matched)},
		{"Partial matches", fmt.Sprintf("%d", report.Summary.PartialMatch)},
		{"Unmatched", fmt.Sprintf("%d", report.Summary.Unmatched)},
		{"Rule matches", fmt.Sprintf("%d", report.Summary.RuleMatches)},
		{"Exact matches", fmt.Sprintf("%d", report.Summary.ExactMatches)},
		{"Fuzzy matches", fmt.Sprintf("%d", report.Summary.FuzzyMatches)},
		{"AI matches", fmt.Sprintf("%d", report.Summary.AIMatches)},
	}
	if s.DiscrepancyWaiver != "" {
		rows = append(rows, [2]string{"Discrepancy waiver", s.DiscrepancyWaiver})
	}
	for i, row := range rows {
		e.setCell(f, sheet, fmt.Sprintf("A%d", i+1), row[0])
		e.setCell(f, sheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	row := len(rows) + 2
	for _, rec := range report.Recommendations {
		e.setCell(f, sheet, fmt.Sprintf("A%d", row), rec)
		row++
	}
}

func (e *ExcelExporter) fillMatches(f *excelize.File, sheet string, matches []*models.ReconciliationMatch) {
	headers := []string{"Bank transaction", "Book transaction", "Status", "Type", "Confidence", "Suggested category", "Reasoning", "Reviewed by"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		e.setCell(f, sheet, cell, h)
	}

	for i, m := range matches {
		bookID := ""
		if m.BookTransactionID != nil {
			bookID = *m.BookTransactionID
		}
		values := []interface{}{
			m.BankTransactionID,
			bookID,
			string(m.Status),
			string(m.MatchType),
			m.Confidence,
			m.SuggestedCategory,
			m.Reasoning,
			m.ReviewedBy,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				e.logger.Warn("Failed to set cell value",
					zap.String("sheet", sheet),
					zap.String("cell", cell),
					zap.Error(err))
			}
		}
	}
}

// setCell sets a string cell, logging rather than failing on error
func (e *ExcelExporter) setCell(f *excelize.File, sheet, cell, value string) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}

// Recommendations derives reviewer guidance from a summary
func Recommendations(summary models.MatchSummary, session *models.ReconciliationSession) []string {
	var recs []string
	if summary.Unmatched > 0 {
		recs = append(recs, fmt.Sprintf("%d bank transactions need manual review", summary.Unmatched))
	}
	if summary.PartialMatch > 0 {
		recs = append(recs, fmt.Sprintf("%d partial matches should be confirmed or rejected", summary.PartialMatch))
	}
	if !session.Difference.IsZero() {
		recs = append(recs, fmt.Sprintf("balance difference of %s remains unexplained", session.Difference))
	}
	if len(recs) == 0 {
		recs = append(recs, "all transactions reconciled; ready for approval")
	}
	return recs
}
