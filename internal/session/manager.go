package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/pkg/database"
)

// ErrInvalidPeriod indicates a malformed reconciliation period.
var ErrInvalidPeriod = errors.New("invalid reconciliation period")

// ErrSessionNotFound indicates the referenced session does not exist.
var ErrSessionNotFound = errors.New("reconciliation session not found")

// Config holds session lifecycle thresholds
type Config struct {
	ApprovalTolerance decimal.Decimal // max |difference| approvable without waiver
	DisputeRatio      float64         // unresolved ratio that auto-disputes on completion
}

// Manager drives reconciliation sessions through their lifecycle. Every
// transition is validated against the state machine and recorded in the
// audit trail before the call returns.
type Manager struct {
	db       *database.DB
	sessions *repository.SessionRepository
	banks    *repository.BankTransactionRepository
	books    *repository.BookTransactionRepository
	matches  *repository.MatchRepository
	auditLog *audit.Logger
	cfg      Config
	logger   *zap.Logger
}

// NewManager creates a session manager
func NewManager(
	db *database.DB,
	sessions *repository.SessionRepository,
	banks *repository.BankTransactionRepository,
	books *repository.BookTransactionRepository,
	matches *repository.MatchRepository,
	auditLog *audit.Logger,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		db:       db,
		sessions: sessions,
		banks:    banks,
		books:    books,
		matches:  matches,
		auditLog: auditLog,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create opens a new in-progress session for an account and period. Balances
// are computed from the stored transactions at creation time: the statement
// side from signed bank deltas, the book side from unreconciled book entries
// in the window.
func (m *Manager) Create(ctx context.Context, accountID, userID string, period models.Period) (*models.ReconciliationSession, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidPeriod,
			period.Start.Format(time.DateOnly), period.End.Format(time.DateOnly))
	}

	bankTxs, err := m.banks.ListByAccountPeriod(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	bookTxs, err := m.books.ListClearedByAccountPeriod(ctx, accountID, period)
	if err != nil {
		return nil, err
	}

	bankBalance := decimal.Zero
	for _, tx := range bankTxs {
		bankBalance = bankBalance.Add(tx.SignedAmount())
	}
	bookBalance := decimal.Zero
	for _, tx := range bookTxs {
		bookBalance = bookBalance.Add(tx.SignedAmount())
	}

	session := &models.ReconciliationSession{
		ID:                   uuid.NewString(),
		AccountID:            accountID,
		UserID:               userID,
		Type:                 "bank_statement",
		Period:               period,
		BankStatementBalance: bankBalance,
		BookBalance:          bookBalance,
		Difference:           bookBalance.Sub(bankBalance),
		Status:               models.SessionInProgress,
		CreatedAt:            time.Now(),
	}

	if err := m.sessions.Create(ctx, nil, session); err != nil {
		return nil, err
	}

	m.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeSessionCreated, audit.RiskLow, "session", session.ID,
		map[string]interface{}{
			"period_start":           period.Start.Format(time.DateOnly),
			"period_end":             period.End.Format(time.DateOnly),
			"bank_statement_balance": bankBalance.String(),
			"book_balance":           bookBalance.String(),
			"bank_transactions":      len(bankTxs),
			"book_transactions":      len(bookTxs),
		}).WithAccount(accountID).WithActor(userID))

	m.logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("account_id", accountID),
		zap.String("difference", session.Difference.String()))

	return session, nil
}

// Get retrieves a session or ErrSessionNotFound
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.ReconciliationSession, error) {
	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// Complete finalizes a matching run. Book transactions consumed by a match
// advance to reconciled in the same transaction that moves the session
// forward. Sessions whose unresolved ratio exceeds the dispute threshold go
// straight to disputed instead of completed.
func (m *Manager) Complete(ctx context.Context, sessionID string) (*models.ReconciliationSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	matches, err := m.matches.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary := models.Summarize(matches)

	target := models.SessionCompleted
	autoDisputed := summary.Total > 0 && summary.UnresolvedRatio() > m.cfg.DisputeRatio
	if err := checkTransition(session.Status, target); err != nil {
		return nil, err
	}

	now := time.Now()
	session.Status = target
	session.CompletedAt = &now

	err = m.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := m.sessions.Update(ctx, tx, session); err != nil {
			return err
		}
		for _, match := range matches {
			if !match.ConsumesBook() {
				continue
			}
			if err := m.books.UpdateStatus(ctx, tx, *match.BookTransactionID, models.BookStatusReconciled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeSessionCompleted, audit.RiskMedium, "session", session.ID,
		map[string]interface{}{
			"matched":          summary.Matched,
			"partial_match":    summary.PartialMatch,
			"unmatched":        summary.Unmatched,
			"unresolved_ratio": summary.UnresolvedRatio(),
		}).WithAccount(session.AccountID))

	if autoDisputed {
		reason := fmt.Sprintf("unresolved ratio %.2f exceeds dispute threshold %.2f",
			summary.UnresolvedRatio(), m.cfg.DisputeRatio)
		return m.Dispute(ctx, sessionID, "system", reason)
	}

	m.logger.Info("Session completed",
		zap.String("session_id", session.ID),
		zap.Int("matched", summary.Matched),
		zap.Int("unmatched", summary.Unmatched))

	return session, nil
}

// Approve moves a completed session to the terminal approved state. The
// approval gate requires the absolute difference to be within tolerance
// unless a waiver explains the discrepancy; the waiver text becomes part of
// the audit record.
func (m *Manager) Approve(ctx context.Context, sessionID, approvedBy, waiver string) (*models.ReconciliationSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(session.Status, models.SessionApproved); err != nil {
		return nil, err
	}
	if err := approvalGuard(session, m.cfg.ApprovalTolerance, waiver); err != nil {
		return nil, err
	}

	now := time.Now()
	session.Status = models.SessionApproved
	session.ApprovedBy = approvedBy
	session.ApprovedAt = &now
	if waiver != "" {
		session.DiscrepancyWaiver = waiver
	}

	if err := m.sessions.Update(ctx, nil, session); err != nil {
		return nil, err
	}

	event := audit.NewEvent(audit.TypeSessionApproved, audit.RiskHigh, "session", session.ID,
		map[string]interface{}{
			"difference": session.Difference.String(),
		}).WithAccount(session.AccountID).WithActor(approvedBy).WithTags("financial_record")
	if waiver != "" {
		event = event.WithPayload("waiver", waiver)
		m.auditLog.MustRecord(ctx, audit.NewEventWithCorrelation(audit.TypeDiscrepancyWaived, audit.RiskHigh,
			"session", session.ID, map[string]interface{}{
				"difference": session.Difference.String(),
				"waiver":     waiver,
			}, event.CorrelationID).WithAccount(session.AccountID).WithActor(approvedBy).WithTags("financial_record"))
	}
	if err := m.auditLog.Record(ctx, event); err != nil {
		// Approval is a compliance action; without a durable audit record it
		// must not stand.
		return nil, err
	}

	m.logger.Info("Session approved",
		zap.String("session_id", session.ID),
		zap.String("approved_by", approvedBy))

	return session, nil
}

// Dispute flags a completed session for investigation
func (m *Manager) Dispute(ctx context.Context, sessionID, userID, reason string) (*models.ReconciliationSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(session.Status, models.SessionDisputed); err != nil {
		return nil, err
	}

	session.Status = models.SessionDisputed
	if err := m.sessions.Update(ctx, nil, session); err != nil {
		return nil, err
	}

	m.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeSessionDisputed, audit.RiskHigh, "session", session.ID,
		map[string]interface{}{
			"reason":     reason,
			"difference": session.Difference.String(),
		}).WithAccount(session.AccountID).WithActor(userID))

	m.logger.Warn("Session disputed",
		zap.String("session_id", session.ID),
		zap.String("reason", reason))

	return session, nil
}

// Reopen returns a disputed session to in_progress for another matching run
func (m *Manager) Reopen(ctx context.Context, sessionID, userID string) (*models.ReconciliationSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(session.Status, models.SessionInProgress); err != nil {
		return nil, err
	}

	session.Status = models.SessionInProgress
	session.CompletedAt = nil
	if err := m.sessions.Update(ctx, nil, session); err != nil {
		return nil, err
	}

	m.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeSessionReopened, audit.RiskMedium, "session", session.ID,
		nil).WithAccount(session.AccountID).WithActor(userID))

	m.logger.Info("Session reopened", zap.String("session_id", sessionID))
	return session, nil
}
