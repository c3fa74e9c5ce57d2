package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
)

// BookTransactionRepository handles book transaction database operations
type BookTransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBookTransactionRepository creates a new book transaction repository
func NewBookTransactionRepository(db *sql.DB, logger *zap.Logger) *BookTransactionRepository {
	return &BookTransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a book transaction
func (r *BookTransactionRepository) Create(ctx context.Context, tx *sql.Tx, bookTx *models.BookTransaction) error {
	query := `
		INSERT INTO book_transactions (
			id, account_id, type, amount, date, description, category,
			category_confidence, reference, status, related_entity_id,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args := []interface{}{
		bookTx.ID,
		bookTx.AccountID,
		bookTx.Type,
		bookTx.Amount.String(),
		bookTx.Date,
		bookTx.Description,
		bookTx.Category,
		bookTx.CategoryConfidence,
		bookTx.Reference,
		bookTx.Status,
		bookTx.RelatedEntityID,
		bookTx.Metadata,
		bookTx.CreatedAt,
		bookTx.UpdatedAt,
	}

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		r.logger.Error("Failed to create book transaction", zap.String("id", bookTx.ID), zap.Error(err))
		return fmt.Errorf("failed to create book transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a book transaction by ID, or nil when none exists
func (r *BookTransactionRepository) GetByID(ctx context.Context, id string) (*models.BookTransaction, error) {
	query := selectBookTx + ` WHERE id = ?`

	bookTx, err := scanBookTx(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get book transaction", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get book transaction: %w", err)
	}
	return bookTx, nil
}

// ListByAccountPeriod retrieves book transactions for an account inside a
// period, ordered by date.
func (r *BookTransactionRepository) ListByAccountPeriod(ctx context.Context, accountID string, period models.Period) ([]*models.BookTransaction, error) {
	query := selectBookTx + `
		WHERE account_id = ? AND date >= ? AND date <= ?
		ORDER BY date, id
	`
	return r.list(ctx, query, accountID, period.Start, period.End)
}

// ListClearedByAccountPeriod retrieves cleared book transactions only, the
// population summed into a session's book balance.
func (r *BookTransactionRepository) ListClearedByAccountPeriod(ctx context.Context, accountID string, period models.Period) ([]*models.BookTransaction, error) {
	query := selectBookTx + `
		WHERE account_id = ? AND date >= ? AND date <= ? AND status = 'cleared'
		ORDER BY date, id
	`
	return r.list(ctx, query, accountID, period.Start, period.End)
}

// ListUnreconciledByAccountPeriod retrieves pending and cleared book
// transactions, the candidate pool offered to the matching engine.
func (r *BookTransactionRepository) ListUnreconciledByAccountPeriod(ctx context.Context, accountID string, period models.Period) ([]*models.BookTransaction, error) {
	query := selectBookTx + `
		WHERE account_id = ? AND date >= ? AND date <= ? AND status != 'reconciled'
		ORDER BY date, id
	`
	return r.list(ctx, query, accountID, period.Start, period.End)
}

// UpdateStatus advances a book transaction to a new settlement status
func (r *BookTransactionRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id string, status models.BookStatus) error {
	query := `UPDATE book_transactions SET status = ?, updated_at = ? WHERE id = ?`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, status, time.Now(), id)
	} else {
		_, err = r.db.ExecContext(ctx, query, status, time.Now(), id)
	}
	if err != nil {
		r.logger.Error("Failed to update book transaction status",
			zap.String("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to update book transaction status: %w", err)
	}
	return nil
}

// UpdateCategory stores a category with its confidence
func (r *BookTransactionRepository) UpdateCategory(ctx context.Context, tx *sql.Tx, id, category string, confidence float64) error {
	query := `UPDATE book_transactions SET category = ?, category_confidence = ?, updated_at = ? WHERE id = ?`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, category, confidence, time.Now(), id)
	} else {
		_, err = r.db.ExecContext(ctx, query, category, confidence, time.Now(), id)
	}
	if err != nil {
		r.logger.Error("Failed to update book transaction category",
			zap.String("id", id),
			zap.String("category", category),
			zap.Error(err))
		return fmt.Errorf("failed to update book transaction category: %w", err)
	}
	return nil
}

func (r *BookTransactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.BookTransaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list book transactions", zap.Error(err))
		return nil, fmt.Errorf("failed to list book transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.BookTransaction
	for rows.Next() {
		bookTx, err := scanBookTx(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book transaction: %w", err)
		}
		txs = append(txs, bookTx)
	}
	return txs, rows.Err()
}

const selectBookTx = `
	SELECT id, account_id, type, amount, date, description, category,
		category_confidence, reference, status, related_entity_id,
		metadata, created_at, updated_at
	FROM book_transactions`

func scanBookTx(row rowScanner) (*models.BookTransaction, error) {
	var bookTx models.BookTransaction
	var amount string

	err := row.Scan(
		&bookTx.ID,
		&bookTx.AccountID,
		&bookTx.Type,
		&amount,
		&bookTx.Date,
		&bookTx.Description,
		&bookTx.Category,
		&bookTx.CategoryConfidence,
		&bookTx.Reference,
		&bookTx.Status,
		&bookTx.RelatedEntityID,
		&bookTx.Metadata,
		&bookTx.CreatedAt,
		&bookTx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if bookTx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q on transaction %s: %w", amount, bookTx.ID, err)
	}
	return &bookTx, nil
}
