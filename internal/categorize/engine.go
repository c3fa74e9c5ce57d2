package categorize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/oracle"
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/internal/worker"
)

// ErrNoAttempt indicates a correction was submitted for a transaction that
// was never categorized.
var ErrNoAttempt = errors.New("no categorization attempt exists for transaction")

// ErrTransactionNotFound indicates the referenced book transaction does not
// exist.
var ErrTransactionNotFound = errors.New("book transaction not found")

// Config holds categorization thresholds
type Config struct {
	ShortCircuitConfidence float64 // skip the oracle above this prior confidence
	Concurrency            int
}

// modelInfo is implemented by oracles that can identify themselves, used to
// attribute attempts to a provider and model.
type modelInfo interface {
	Provider() string
	Model() string
}

// Engine assigns categories to book transactions through the oracle and
// records every attempt. Human corrections always win over model output and
// are fed back for model improvement.
type Engine struct {
	books    *repository.BookTransactionRepository
	attempts *repository.CategorizationRepository
	oracle   oracle.Oracle
	auditLog *audit.Logger
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates a categorization engine
func NewEngine(
	books *repository.BookTransactionRepository,
	attempts *repository.CategorizationRepository,
	orc oracle.Oracle,
	auditLog *audit.Logger,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		books:    books,
		attempts: attempts,
		oracle:   orc,
		auditLog: auditLog,
		cfg:      cfg,
		logger:   logger,
	}
}

// Categorize produces one result per transaction. Transactions whose stored
// category already carries a confidence above the short-circuit threshold
// are returned as-is without an oracle call; oracle failures degrade the
// individual transaction to an empty category rather than failing the batch.
func (e *Engine) Categorize(ctx context.Context, txs []*models.BookTransaction) ([]*models.CategorizationResult, error) {
	results := make([]*models.CategorizationResult, len(txs))
	var mu sync.Mutex

	pool := worker.NewPool(e.cfg.Concurrency, e.logger)
	for i, tx := range txs {
		i, tx := i, tx

		if tx.Category != "" && tx.CategoryConfidence > e.cfg.ShortCircuitConfidence {
			results[i] = &models.CategorizationResult{
				TransactionID: tx.ID,
				Category:      tx.Category,
				Confidence:    tx.CategoryConfidence,
				FromCache:     true,
			}
			continue
		}

		pool.Submit(ctx, func(ctx context.Context) error {
			result := e.categorizeOne(ctx, tx)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	for _, err := range pool.Wait() {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A cancelled submit can leave gaps; fill them as degraded.
	for i, tx := range txs {
		if results[i] == nil {
			results[i] = &models.CategorizationResult{TransactionID: tx.ID}
		}
	}
	return results, nil
}

func (e *Engine) categorizeOne(ctx context.Context, tx *models.BookTransaction) *models.CategorizationResult {
	start := time.Now()
	classification, err := e.oracle.Classify(ctx, oracle.TransactionView{
		ID:          tx.ID,
		Description: tx.Description,
		Amount:      tx.Amount,
		Date:        tx.Date,
		Type:        string(tx.Type),
		Reference:   tx.Reference,
	})
	if err != nil {
		e.logger.Warn("Categorization degraded, oracle unavailable",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
		e.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeOracleDegraded, audit.RiskLow,
			"book_transaction", tx.ID, map[string]interface{}{
				"operation": "categorize",
				"error":     err.Error(),
			}).WithAccount(tx.AccountID))
		return &models.CategorizationResult{TransactionID: tx.ID, Category: tx.Category, Confidence: tx.CategoryConfidence}
	}

	attempt := &models.CategorizationAttempt{
		ID:                uuid.NewString(),
		TransactionID:     tx.ID,
		OriginalCategory:  tx.Category,
		SuggestedCategory: classification.Category,
		Confidence:        classification.Confidence,
		Reasoning:         classification.Explanation,
		Accepted:          true,
		ProcessingTime:    time.Since(start),
		CreatedAt:         time.Now(),
	}
	if info, ok := e.oracle.(modelInfo); ok {
		attempt.AIProvider = info.Provider()
		attempt.AIModel = info.Model()
	}

	if err := e.attempts.Create(ctx, nil, attempt); err != nil {
		e.logger.Error("Failed to record categorization attempt",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
		return &models.CategorizationResult{TransactionID: tx.ID, Category: tx.Category, Confidence: tx.CategoryConfidence}
	}
	if err := e.books.UpdateCategory(ctx, nil, tx.ID, classification.Category, classification.Confidence); err != nil {
		e.logger.Error("Failed to store category",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}

	e.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeCategorySuggested, audit.RiskLow,
		"book_transaction", tx.ID, map[string]interface{}{
			"category":   classification.Category,
			"confidence": classification.Confidence,
			"model":      attempt.AIModel,
		}).WithAccount(tx.AccountID))

	return &models.CategorizationResult{
		TransactionID: tx.ID,
		Category:      classification.Category,
		Confidence:    classification.Confidence,
		Explanation:   classification.Explanation,
	}
}

// Feedback is a human correction of a model categorization
type Feedback struct {
	TransactionID     string `json:"transaction_id"`
	UserID            string `json:"user_id"`
	CorrectedCategory string `json:"corrected_category"`
	Reasoning         string `json:"reasoning"`
}

// ProcessFeedback applies a human correction: the original attempt is marked
// rejected with the correction preserved alongside it, the stored category
// becomes the corrected one at full confidence, and the correction is
// forwarded to the oracle as a training example. Oracle forwarding is
// best-effort; the correction stands regardless.
func (e *Engine) ProcessFeedback(ctx context.Context, fb Feedback) error {
	tx, err := e.books.GetByID(ctx, fb.TransactionID)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, fb.TransactionID)
	}

	attempt, err := e.attempts.LatestByTransaction(ctx, fb.TransactionID)
	if err != nil {
		return err
	}
	if attempt == nil {
		return fmt.Errorf("%w: %s", ErrNoAttempt, fb.TransactionID)
	}

	if err := e.attempts.MarkCorrected(ctx, nil, attempt.ID, fb.UserID, fb.CorrectedCategory, fb.Reasoning); err != nil {
		return err
	}
	// Human-confirmed categories carry full confidence.
	if err := e.books.UpdateCategory(ctx, nil, tx.ID, fb.CorrectedCategory, 1.0); err != nil {
		return err
	}

	if err := e.oracle.SubmitFeedback(ctx, oracle.Correction{
		TransactionID:     fb.TransactionID,
		OriginalCategory:  attempt.SuggestedCategory,
		CorrectedCategory: fb.CorrectedCategory,
		Reasoning:         fb.Reasoning,
		Confidence:        attempt.Confidence,
	}); err != nil {
		e.logger.Warn("Failed to forward correction to oracle",
			zap.String("transaction_id", fb.TransactionID),
			zap.Error(err))
	}

	e.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeCategoryCorrected, audit.RiskMedium,
		"book_transaction", tx.ID, map[string]interface{}{
			"from":       attempt.SuggestedCategory,
			"to":         fb.CorrectedCategory,
			"reasoning":  fb.Reasoning,
			"attempt_id": attempt.ID,
		}).WithAccount(tx.AccountID).WithActor(fb.UserID))

	e.logger.Info("Categorization corrected",
		zap.String("transaction_id", fb.TransactionID),
		zap.String("from", attempt.SuggestedCategory),
		zap.String("to", fb.CorrectedCategory))

	return nil
}
