package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
)

// ErrBookTransactionConsumed indicates an insert or update tried to claim a
// book transaction already consumed by another match in the same session.
var ErrBookTransactionConsumed = errors.New("book transaction already consumed in this session")

// MatchRepository handles reconciliation match database operations
type MatchRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(db *sql.DB, logger *zap.Logger) *MatchRepository {
	return &MatchRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a match record. The partial unique index on
// (session_id, book_transaction_id) backs the exclusivity invariant at the
// storage layer; a violation maps to ErrBookTransactionConsumed.
func (r *MatchRepository) Create(ctx context.Context, tx *sql.Tx, match *models.ReconciliationMatch) error {
	query := `
		INSERT INTO reconciliation_matches (
			id, session_id, bank_transaction_id, book_transaction_id,
			confidence, match_type, reasoning, suggested_category,
			suggested_adjustments, status, created_at, reviewed_by, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args := []interface{}{
		match.ID,
		match.SessionID,
		match.BankTransactionID,
		match.BookTransactionID,
		match.Confidence,
		match.MatchType,
		match.Reasoning,
		match.SuggestedCategory,
		match.SuggestedAdjustments,
		match.Status,
		match.CreatedAt,
		match.ReviewedBy,
		match.ReviewedAt,
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
			return fmt.Errorf("%w: match %s", ErrBookTransactionConsumed, match.ID)
		}
		r.logger.Error("Failed to create match", zap.String("id", match.ID), zap.Error(err))
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

// GetByID retrieves a match by ID, or nil when none exists
func (r *MatchRepository) GetByID(ctx context.Context, id string) (*models.ReconciliationMatch, error) {
	query := selectMatch + ` WHERE id = ?`

	match, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get match", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return match, nil
}

// ListBySession retrieves all match records for a session ordered by
// creation, giving a stable report layout.
func (r *MatchRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.ReconciliationMatch, error) {
	query := selectMatch + ` WHERE session_id = ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		r.logger.Error("Failed to list matches", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*models.ReconciliationMatch
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

// Review records a human decision on a match: new status, reviewer, and
// optionally a manual book transaction assignment.
func (r *MatchRepository) Review(ctx context.Context, tx *sql.Tx, id string, status models.MatchStatus, reviewedBy string) error {
	query := `
		UPDATE reconciliation_matches
		SET status = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ?
	`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, status, reviewedBy, time.Now(), id)
	} else {
		_, err = r.db.ExecContext(ctx, query, status, reviewedBy, time.Now(), id)
	}
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: match %s", ErrBookTransactionConsumed, id)
		}
		r.logger.Error("Failed to review match",
			zap.String("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to review match: %w", err)
	}
	return nil
}

const selectMatch = `
	SELECT id, session_id, bank_transaction_id, book_transaction_id,
		confidence, match_type, reasoning, suggested_category,
		suggested_adjustments, status, created_at, reviewed_by, reviewed_at
	FROM reconciliation_matches`

func scanMatch(row rowScanner) (*models.ReconciliationMatch, error) {
	var match models.ReconciliationMatch
	var bookTxID sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&match.ID,
		&match.SessionID,
		&match.BankTransactionID,
		&bookTxID,
		&match.Confidence,
		&match.MatchType,
		&match.Reasoning,
		&match.SuggestedCategory,
		&match.SuggestedAdjustments,
		&match.Status,
		&match.CreatedAt,
		&match.ReviewedBy,
		&reviewedAt,
	)
	if err != nil {
		return nil, err
	}

	if bookTxID.Valid {
		match.BookTransactionID = &bookTxID.String
	}
	if reviewedAt.Valid {
		match.ReviewedAt = &reviewedAt.Time
	}
	return &match, nil
}
