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

// BankTransactionRepository handles bank transaction database operations
type BankTransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBankTransactionRepository creates a new bank transaction repository
func NewBankTransactionRepository(db *sql.DB, logger *zap.Logger) *BankTransactionRepository {
	return &BankTransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Import inserts a bank transaction unless one with the same account and
// reference already exists. It returns true when the row was inserted and
// false when it was a duplicate; duplicates are not an error.
func (r *BankTransactionRepository) Import(ctx context.Context, tx *sql.Tx, bankTx *models.BankTransaction) (bool, error) {
	query := `
		INSERT INTO bank_transactions (
			id, account_id, date, description, amount, balance,
			reference, type, source, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, reference) DO NOTHING
	`

	args := []interface{}{
		bankTx.ID,
		bankTx.AccountID,
		bankTx.Date,
		bankTx.Description,
		bankTx.Amount.String(),
		bankTx.Balance.String(),
		bankTx.Reference,
		bankTx.Type,
		bankTx.Source,
		bankTx.Metadata,
		bankTx.CreatedAt,
	}

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, args...)
	} else {
		result, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		r.logger.Error("Failed to import bank transaction",
			zap.String("account_id", bankTx.AccountID),
			zap.String("reference", bankTx.Reference),
			zap.Error(err))
		return false, fmt.Errorf("failed to import bank transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// GetByReference retrieves the stored transaction for an (account, reference)
// pair, or nil when none exists.
func (r *BankTransactionRepository) GetByReference(ctx context.Context, accountID, reference string) (*models.BankTransaction, error) {
	query := selectBankTx + ` WHERE account_id = ? AND reference = ?`

	row := r.db.QueryRowContext(ctx, query, accountID, reference)
	bankTx, err := scanBankTx(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get bank transaction by reference",
			zap.String("account_id", accountID),
			zap.String("reference", reference),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get bank transaction: %w", err)
	}
	return bankTx, nil
}

// ListByAccountPeriod retrieves all transactions for an account inside a
// period, ordered by date.
func (r *BankTransactionRepository) ListByAccountPeriod(ctx context.Context, accountID string, period models.Period) ([]*models.BankTransaction, error) {
	query := selectBankTx + `
		WHERE account_id = ? AND date >= ? AND date <= ?
		ORDER BY date, id
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, period.Start, period.End)
	if err != nil {
		r.logger.Error("Failed to list bank transactions",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list bank transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.BankTransaction
	for rows.Next() {
		bankTx, err := scanBankTx(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank transaction: %w", err)
		}
		txs = append(txs, bankTx)
	}
	return txs, rows.Err()
}

// ListRecentByAccount retrieves transactions for an account dated within the
// window ending at cutoff, newest first. Used for near-duplicate screening.
func (r *BankTransactionRepository) ListRecentByAccount(ctx context.Context, accountID string, since time.Time) ([]*models.BankTransaction, error) {
	query := selectBankTx + `
		WHERE account_id = ? AND date >= ?
		ORDER BY date DESC, id
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, since)
	if err != nil {
		r.logger.Error("Failed to list recent bank transactions",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list recent bank transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.BankTransaction
	for rows.Next() {
		bankTx, err := scanBankTx(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank transaction: %w", err)
		}
		txs = append(txs, bankTx)
	}
	return txs, rows.Err()
}

const selectBankTx = `
	SELECT id, account_id, date, description, amount, balance,
		reference, type, source, metadata, created_at
	FROM bank_transactions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBankTx(row rowScanner) (*models.BankTransaction, error) {
	var bankTx models.BankTransaction
	var amount, balance string

	err := row.Scan(
		&bankTx.ID,
		&bankTx.AccountID,
		&bankTx.Date,
		&bankTx.Description,
		&amount,
		&balance,
		&bankTx.Reference,
		&bankTx.Type,
		&bankTx.Source,
		&bankTx.Metadata,
		&bankTx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if bankTx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q on transaction %s: %w", amount, bankTx.ID, err)
	}
	if bankTx.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance %q on transaction %s: %w", balance, bankTx.ID, err)
	}
	return &bankTx, nil
}
