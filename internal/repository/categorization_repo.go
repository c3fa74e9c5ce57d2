package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
)

// CategorizationRepository handles categorization attempt database operations
type CategorizationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCategorizationRepository creates a new categorization repository
func NewCategorizationRepository(db *sql.DB, logger *zap.Logger) *CategorizationRepository {
	return &CategorizationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a categorization attempt
func (r *CategorizationRepository) Create(ctx context.Context, tx *sql.Tx, attempt *models.CategorizationAttempt) error {
	query := `
		INSERT INTO categorization_attempts (
			id, transaction_id, user_id, original_category, suggested_category,
			confidence, ai_model, ai_provider, reasoning, accepted,
			corrected_category, correction_reasoning, processing_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args := []interface{}{
		attempt.ID,
		attempt.TransactionID,
		attempt.UserID,
		attempt.OriginalCategory,
		attempt.SuggestedCategory,
		attempt.Confidence,
		attempt.AIModel,
		attempt.AIProvider,
		attempt.Reasoning,
		attempt.Accepted,
		attempt.CorrectedCategory,
		attempt.CorrectionReasoning,
		attempt.ProcessingTime.Milliseconds(),
		attempt.CreatedAt,
	}

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		r.logger.Error("Failed to create categorization attempt",
			zap.String("transaction_id", attempt.TransactionID),
			zap.Error(err))
		return fmt.Errorf("failed to create categorization attempt: %w", err)
	}
	return nil
}

// LatestByTransaction retrieves the most recent attempt for a transaction,
// or nil when the transaction has never been categorized.
func (r *CategorizationRepository) LatestByTransaction(ctx context.Context, transactionID string) (*models.CategorizationAttempt, error) {
	query := selectAttempt + `
		WHERE transaction_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, query, transactionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest categorization attempt",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get latest categorization attempt: %w", err)
	}
	return attempt, nil
}

// MarkCorrected records a human correction against an existing attempt. The
// original suggestion fields are left untouched.
func (r *CategorizationRepository) MarkCorrected(ctx context.Context, tx *sql.Tx, attemptID, userID, correctedCategory, reasoning string) error {
	query := `
		UPDATE categorization_attempts
		SET accepted = 0, user_id = ?, corrected_category = ?, correction_reasoning = ?
		WHERE id = ?
	`

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, userID, correctedCategory, reasoning, attemptID)
	} else {
		result, err = r.db.ExecContext(ctx, query, userID, correctedCategory, reasoning, attemptID)
	}
	if err != nil {
		r.logger.Error("Failed to mark categorization corrected",
			zap.String("attempt_id", attemptID),
			zap.Error(err))
		return fmt.Errorf("failed to mark categorization corrected: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("categorization attempt %s not found", attemptID)
	}
	return nil
}

// AccuracyStats aggregates acceptance counts for model monitoring
type AccuracyStats struct {
	Total     int
	Accepted  int
	Corrected int
}

// Stats returns acceptance counts since a cutoff time
func (r *CategorizationRepository) Stats(ctx context.Context, since time.Time) (*AccuracyStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN accepted = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN accepted = 0 THEN 1 ELSE 0 END), 0)
		FROM categorization_attempts
		WHERE created_at >= ?
	`

	var stats AccuracyStats
	err := r.db.QueryRowContext(ctx, query, since).Scan(&stats.Total, &stats.Accepted, &stats.Corrected)
	if err != nil {
		r.logger.Error("Failed to compute categorization stats", zap.Error(err))
		return nil, fmt.Errorf("failed to compute categorization stats: %w", err)
	}
	return &stats, nil
}

const selectAttempt = `
	SELECT id, transaction_id, user_id, original_category, suggested_category,
		confidence, ai_model, ai_provider, reasoning, accepted,
		corrected_category, correction_reasoning, processing_time_ms, created_at
	FROM categorization_attempts`

func scanAttempt(row rowScanner) (*models.CategorizationAttempt, error) {
	var attempt models.CategorizationAttempt
	var processingMs int64

	err := row.Scan(
		&attempt.ID,
		&attempt.TransactionID,
		&attempt.UserID,
		&attempt.OriginalCategory,
		&attempt.SuggestedCategory,
		&attempt.Confidence,
		&attempt.AIModel,
		&attempt.AIProvider,
		&attempt.Reasoning,
		&attempt.Accepted,
		&attempt.CorrectedCategory,
		&attempt.CorrectionReasoning,
		&processingMs,
		&attempt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	attempt.ProcessingTime = time.Duration(processingMs) * time.Millisecond
	return &attempt, nil
}
