package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/categorize"
	"github.com/garyjia/ai-reconciliation/internal/ingest"
	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/internal/service"
	"github.com/garyjia/ai-reconciliation/internal/session"
)

// statementLine is the wire format of one imported transaction
type statementLine struct {
	Date        string `json:"date" binding:"required"`
	Description string `json:"description"`
	Amount      string `json:"amount" binding:"required"`
	Balance     string `json:"balance"`
	Reference   string `json:"reference" binding:"required"`
	Type        string `json:"type"`
}

type statementRequest struct {
	Transactions []statementLine `json:"transactions" binding:"required,min=1"`
}

// importStatement ingests a statement either as JSON transaction lines or as
// an uploaded PDF processed through Vision extraction.
func (s *Server) importStatement(c *gin.Context) {
	accountID := c.Param("accountID")

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		s.importStatementPDF(c, accountID)
		return
	}

	var req statementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txs := make([]*models.BankTransaction, 0, len(req.Transactions))
	for i, line := range req.Transactions {
		tx, err := line.toTransaction()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("transaction %d: %v", i, err)})
			return
		}
		txs = append(txs, tx)
	}

	result, err := s.reconciler.ImportStatement(c.Request.Context(), accountID, txs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) importStatementPDF(c *gin.Context, accountID string) {
	if s.pdfReader == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "PDF statement extraction is not configured"})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("statement_%d.pdf", time.Now().UnixNano()))
	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		s.respondError(c, err)
		return
	}
	defer os.Remove(tmpPath)

	txs, err := s.pdfReader.ReadAndExtract(c.Request.Context(), tmpPath)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := s.reconciler.ImportStatement(c.Request.Context(), accountID, txs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"extracted":            len(txs),
		"imported":             result.Imported,
		"duplicates":           result.Duplicates,
		"suspected_duplicates": result.Suspected,
	})
}

func (l statementLine) toTransaction() (*models.BankTransaction, error) {
	date, err := time.Parse("2006-01-02", l.Date)
	if err != nil {
		return nil, fmt.Errorf("bad date %q", l.Date)
	}
	amount, err := decimal.NewFromString(l.Amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q", l.Amount)
	}

	txType := models.BankTransactionType(l.Type)
	switch txType {
	case models.BankTransactionDebit, models.BankTransactionCredit:
	case "":
		if amount.IsNegative() {
			txType = models.BankTransactionDebit
		} else {
			txType = models.BankTransactionCredit
		}
	default:
		return nil, fmt.Errorf("bad type %q", l.Type)
	}

	balance := decimal.Zero
	if l.Balance != "" {
		if balance, err = decimal.NewFromString(l.Balance); err != nil {
			return nil, fmt.Errorf("bad balance %q", l.Balance)
		}
	}

	return &models.BankTransaction{
		Date:        date,
		Description: l.Description,
		Amount:      amount,
		Balance:     balance,
		Reference:   l.Reference,
		Type:        txType,
	}, nil
}

type reconcileRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	PeriodStart string `json:"period_start" binding:"required"`
	PeriodEnd   string `json:"period_end" binding:"required"`
}

func (s *Server) reconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := time.Parse("2006-01-02", req.PeriodStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad period_start %q", req.PeriodStart)})
		return
	}
	end, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad period_end %q", req.PeriodEnd)})
		return
	}

	rpt, err := s.reconciler.Reconcile(c.Request.Context(), c.Param("accountID"), req.UserID, models.Period{
		Start: start,
		End:   end,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rpt)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) getReport(c *gin.Context) {
	rpt, err := s.reconciler.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rpt)
}

func (s *Server) getReportExcel(c *gin.Context) {
	rpt, err := s.reconciler.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=reconciliation_%s.xlsx", rpt.Session.ID))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := s.exporter.Export(rpt, c.Writer); err != nil {
		s.logger.Error("Failed to stream report workbook",
			zap.String("session_id", rpt.Session.ID),
			zap.Error(err))
	}
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
	Waiver     string `json:"waiver"`
}

func (s *Server) approveSession(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.sessions.Approve(c.Request.Context(), c.Param("id"), req.ApprovedBy, req.Waiver)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type disputeRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) disputeSession(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.sessions.Dispute(c.Request.Context(), c.Param("id"), req.UserID, req.Reason)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type reopenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) reopenSession(c *gin.Context) {
	var req reopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.sessions.Reopen(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type reviewRequest struct {
	Status     string `json:"status" binding:"required"`
	ReviewedBy string `json:"reviewed_by" binding:"required"`
}

func (s *Server) reviewMatch(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := models.MatchStatus(req.Status)
	switch status {
	case models.MatchStatusMatched, models.MatchStatusDisputed, models.MatchStatusExcluded, models.MatchStatusUnmatched:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad status %q", req.Status)})
		return
	}

	match, err := s.reconciler.ReviewMatch(c.Request.Context(), c.Param("id"), status, req.ReviewedBy)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, match)
}

type categorizeRequest struct {
	TransactionIDs []string `json:"transaction_ids" binding:"required,min=1"`
}

func (s *Server) categorizeTransactions(c *gin.Context) {
	var req categorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txs := make([]*models.BookTransaction, 0, len(req.TransactionIDs))
	for _, id := range req.TransactionIDs {
		tx, err := s.books.GetByID(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if tx == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("book transaction %s not found", id)})
			return
		}
		txs = append(txs, tx)
	}

	results, err := s.categorizer.Categorize(c.Request.Context(), txs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) categorizeTransaction(c *gin.Context) {
	id := c.Param("id")
	tx, err := s.books.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if tx == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("book transaction %s not found", id)})
		return
	}

	results, err := s.categorizer.Categorize(c.Request.Context(), []*models.BookTransaction{tx})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "categorization produced no result"})
		return
	}
	c.JSON(http.StatusOK, results[0])
}

type correctionRequest struct {
	UserID            string `json:"user_id" binding:"required"`
	CorrectedCategory string `json:"corrected_category" binding:"required"`
	Reasoning         string `json:"reasoning"`
}

func (s *Server) correctCategory(c *gin.Context) {
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.categorizer.ProcessFeedback(c.Request.Context(), categorize.Feedback{
		TransactionID:     c.Param("id"),
		UserID:            req.UserID,
		CorrectedCategory: req.CorrectedCategory,
		Reasoning:         req.Reasoning,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "corrected"})
}

func (s *Server) queryAuditEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad limit %q", raw)})
			return
		}
		limit = parsed
	}

	var since, until time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad since %q", raw)})
			return
		}
		since = parsed
	}
	if raw := c.Query("until"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad until %q", raw)})
			return
		}
		until = parsed
	}

	events, err := s.audits.Query(c.Request.Context(), repository.AuditQuery{
		EventType:     c.Query("event_type"),
		AccountID:     c.Query("account_id"),
		CorrelationID: c.Query("correlation_id"),
		RiskLevel:     c.Query("risk_level"),
		Since:         since,
		Until:         until,
		Limit:         limit,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// respondError maps domain errors to HTTP status codes
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrInvalidPeriod),
		errors.Is(err, ingest.ErrEmptyReference):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, service.ErrMatchNotFound),
		errors.Is(err, categorize.ErrTransactionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrSessionAlreadyInProgress),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, categorize.ErrNoAttempt),
		errors.Is(err, repository.ErrBookTransactionConsumed):
		status = http.StatusConflict
	case errors.Is(err, session.ErrApprovalBlocked):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
