package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
)

// ErrSessionAlreadyInProgress indicates an in-progress session already exists
// for the same account and period.
var ErrSessionAlreadyInProgress = errors.New("reconciliation session already in progress for this account and period")

// SessionRepository handles reconciliation session database operations
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a session. The partial unique index on in-progress
// (account, period) rows enforces one live run per window; a violation maps
// to ErrSessionAlreadyInProgress.
func (r *SessionRepository) Create(ctx context.Context, tx *sql.Tx, session *models.ReconciliationSession) error {
	query := `
		INSERT INTO reconciliation_sessions (
			id, account_id, user_id, type, period_start, period_end,
			bank_statement_balance, book_balance, difference, status,
			discrepancy_waiver, created_at, completed_at, approved_by, approved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args := []interface{}{
		session.ID,
		session.AccountID,
		session.UserID,
		session.Type,
		session.Period.Start,
		session.Period.End,
		session.BankStatementBalance.String(),
		session.BookBalance.String(),
		session.Difference.String(),
		session.Status,
		session.DiscrepancyWaiver,
		session.CreatedAt,
		session.CompletedAt,
		session.ApprovedBy,
		session.ApprovedAt,
	}

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrSessionAlreadyInProgress
		}
		r.logger.Error("Failed to create session", zap.String("id", session.ID), zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID, or nil when none exists
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.ReconciliationSession, error) {
	query := selectSession + ` WHERE id = ?`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get session", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListByAccount retrieves sessions for an account, newest first
func (r *SessionRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.ReconciliationSession, error) {
	query := selectSession + `
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		r.logger.Error("Failed to list sessions", zap.String("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ReconciliationSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Update persists session state after a lifecycle transition. Re-entering
// in_progress can collide with the one-live-run index, which maps to
// ErrSessionAlreadyInProgress.
func (r *SessionRepository) Update(ctx context.Context, tx *sql.Tx, session *models.ReconciliationSession) error {
	query := `
		UPDATE reconciliation_sessions
		SET bank_statement_balance = ?, book_balance = ?, difference = ?,
			status = ?, discrepancy_waiver = ?, completed_at = ?,
			approved_by = ?, approved_at = ?
		WHERE id = ?
	`

	args := []interface{}{
		session.BankStatementBalance.String(),
		session.BookBalance.String(),
		session.Difference.String(),
		session.Status,
		session.DiscrepancyWaiver,
		session.CompletedAt,
		session.ApprovedBy,
		session.ApprovedAt,
		session.ID,
	}

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrSessionAlreadyInProgress
		}
		r.logger.Error("Failed to update session", zap.String("id", session.ID), zap.Error(err))
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

const selectSession = `
	SELECT id, account_id, user_id, type, period_start, period_end,
		bank_statement_balance, book_balance, difference, status,
		discrepancy_waiver, created_at, completed_at, approved_by, approved_at
	FROM reconciliation_sessions`

func scanSession(row rowScanner) (*models.ReconciliationSession, error) {
	var session models.ReconciliationSession
	var bankBalance, bookBalance, difference string
	var completedAt, approvedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.AccountID,
		&session.UserID,
		&session.Type,
		&session.Period.Start,
		&session.Period.End,
		&bankBalance,
		&bookBalance,
		&difference,
		&session.Status,
		&session.DiscrepancyWaiver,
		&session.CreatedAt,
		&completedAt,
		&session.ApprovedBy,
		&approvedAt,
	)
	if err != nil {
		return nil, err
	}

	if session.BankStatementBalance, err = decimal.NewFromString(bankBalance); err != nil {
		return nil, fmt.Errorf("corrupt bank statement balance %q on session %s: %w", bankBalance, session.ID, err)
	}
	if session.BookBalance, err = decimal.NewFromString(bookBalance); err != nil {
		return nil, fmt.Errorf("corrupt book balance %q on session %s: %w", bookBalance, session.ID, err)
	}
	if session.Difference, err = decimal.NewFromString(difference); err != nil {
		return nil, fmt.Errorf("corrupt difference %q on session %s: %w", difference, session.ID, err)
	}
	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}
	if approvedAt.Valid {
		session.ApprovedAt = &approvedAt.Time
	}
	return &session, nil
}
