package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/repository"
)

// ErrEmptyReference indicates a transaction without the bank reference that
// serves as its dedup identity.
var ErrEmptyReference = errors.New("bank transaction reference is required")

// Config holds near-duplicate screening thresholds
type Config struct {
	DuplicateGapHours   int     // window within which similar transactions are suspicious
	DuplicateSimilarity float64 // minimum description similarity to flag
}

// SuspectedDuplicate pairs a newly imported transaction with an earlier one
// that looks like the same real-world payment under a different reference.
type SuspectedDuplicate struct {
	ImportedID string  `json:"imported_id"`
	ExistingID string  `json:"existing_id"`
	Similarity float64 `json:"similarity"`
}

// Result summarizes one import batch
type Result struct {
	Imported   int                  `json:"imported"`
	Duplicates int                  `json:"duplicates"`
	Suspected  []SuspectedDuplicate `json:"suspected_duplicates,omitempty"`
}

// Importer ingests bank statement lines. Re-imports of the same reference
// are skipped silently; distinct references that look like the same payment
// are imported but flagged for review.
type Importer struct {
	banks    *repository.BankTransactionRepository
	auditLog *audit.Logger
	cfg      Config
	logger   *zap.Logger
}

// NewImporter creates an importer
func NewImporter(banks *repository.BankTransactionRepository, auditLog *audit.Logger, cfg Config, logger *zap.Logger) *Importer {
	return &Importer{
		banks:    banks,
		auditLog: auditLog,
		cfg:      cfg,
		logger:   logger,
	}
}

// Import ingests a batch for one account. The batch is not atomic: each line
// lands independently so a bad line never blocks the rest of a statement.
func (i *Importer) Import(ctx context.Context, accountID string, txs []*models.BankTransaction) (*Result, error) {
	if len(txs) == 0 {
		return &Result{}, nil
	}

	earliest := txs[0].Date
	for _, tx := range txs {
		if tx.Reference == "" {
			return nil, fmt.Errorf("%w: transaction dated %s", ErrEmptyReference, tx.Date.Format(time.DateOnly))
		}
		if tx.Date.Before(earliest) {
			earliest = tx.Date
		}
	}

	gap := time.Duration(i.cfg.DuplicateGapHours) * time.Hour
	existing, err := i.banks.ListRecentByAccount(ctx, accountID, earliest.Add(-gap))
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tx.AccountID = accountID
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		if tx.Source == "" {
			tx.Source = models.SourceBankImport
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = time.Now()
		}

		inserted, err := i.banks.Import(ctx, nil, tx)
		if err != nil {
			return nil, err
		}
		if !inserted {
			result.Duplicates++
			i.logger.Debug("Skipped duplicate bank transaction",
				zap.String("account_id", accountID),
				zap.String("reference", tx.Reference))
			continue
		}
		result.Imported++

		if suspect := i.findNearDuplicate(tx, existing); suspect != nil {
			result.Suspected = append(result.Suspected, *suspect)
			i.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeDuplicateSuspected, audit.RiskMedium,
				"bank_transaction", tx.ID, map[string]interface{}{
					"existing_id": suspect.ExistingID,
					"similarity":  suspect.Similarity,
					"amount":      tx.Amount.String(),
				}).WithAccount(accountID))
			i.logger.Warn("Suspected duplicate bank transaction",
				zap.String("imported_id", tx.ID),
				zap.String("existing_id", suspect.ExistingID),
				zap.Float64("similarity", suspect.Similarity))
		}
		existing = append(existing, tx)
	}

	i.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeStatementImported, audit.RiskLow,
		"account", accountID, map[string]interface{}{
			"imported":   result.Imported,
			"duplicates": result.Duplicates,
			"suspected":  len(result.Suspected),
		}).WithAccount(accountID))

	i.logger.Info("Statement imported",
		zap.String("account_id", accountID),
		zap.Int("imported", result.Imported),
		zap.Int("duplicates", result.Duplicates))

	return result, nil
}

// findNearDuplicate looks for an earlier transaction with the same amount, a
// posting date within the gap window, and a near-identical description.
func (i *Importer) findNearDuplicate(tx *models.BankTransaction, existing []*models.BankTransaction) *SuspectedDuplicate {
	gap := time.Duration(i.cfg.DuplicateGapHours) * time.Hour

	for _, candidate := range existing {
		if candidate.ID == tx.ID || candidate.Reference == tx.Reference {
			continue
		}
		if !candidate.Amount.Equal(tx.Amount) {
			continue
		}
		delta := tx.Date.Sub(candidate.Date)
		if delta < 0 {
			delta = -delta
		}
		if delta > gap {
			continue
		}

		similarity := descriptionSimilarity(tx.Description, candidate.Description)
		if similarity >= i.cfg.DuplicateSimilarity {
			return &SuspectedDuplicate{
				ImportedID: tx.ID,
				ExistingID: candidate.ID,
				Similarity: similarity,
			}
		}
	}
	return nil
}

// descriptionSimilarity is an edit-distance ratio in [0, 1].
func descriptionSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}
