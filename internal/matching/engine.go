package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/oracle"
	"github.com/garyjia/ai-reconciliation/internal/worker"
)

// ErrAssignmentConflict indicates the exclusivity bookkeeping double-assigned
// a book transaction. It must never surface from a correct run; its presence
// is a bug, not a recoverable condition.
var ErrAssignmentConflict = errors.New("assignment conflict: book transaction consumed twice")

// Config holds the matching thresholds.
type Config struct {
	FuzzyThreshold     float64 // minimum accepted fuzzy confidence
	ExactConfidence    float64 // confidence assigned to exact matches
	AICap              float64 // ceiling for unreviewed AI match confidence
	DateToleranceDays  int     // exact-match date window
	ScoringConcurrency int
	OracleConcurrency  int
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:     0.70,
		ExactConfidence:    0.95,
		AICap:              0.80,
		DateToleranceDays:  1,
		ScoringConcurrency: 8,
		OracleConcurrency:  4,
	}
}

// Engine orchestrates rule, exact, fuzzy and oracle matching with two-phase
// assignment: candidate scores are computed read-only and in parallel, then
// assignments resolve sequentially in descending confidence order across the
// whole batch so no book transaction is ever claimed twice.
type Engine struct {
	rules  *RuleEngine
	oracle oracle.Oracle
	cfg    Config
	logger *zap.Logger
}

// NewEngine creates a matching engine. The oracle may be nil, in which case
// the pipeline stops after the fuzzy stage.
func NewEngine(rules *RuleEngine, orc oracle.Oracle, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		rules:  rules,
		oracle: orc,
		cfg:    cfg,
		logger: logger,
	}
}

// scoredPair is one bank transaction / book candidate pairing produced by the
// read-only scoring phase.
type scoredPair struct {
	bank       *models.BankTransaction
	book       *models.BookTransaction
	confidence float64
	matchType  models.MatchType
	reasoning  string
}

// Match produces exactly one ReconciliationMatch per bank transaction.
func (e *Engine) Match(ctx context.Context, sessionID string, bankTxs []*models.BankTransaction, bookTxs []*models.BookTransaction) ([]*models.ReconciliationMatch, error) {
	matches := make(map[string]*models.ReconciliationMatch, len(bankTxs))

	// Stage 1: rules. A rule hit categorizes the bank transaction without
	// consuming a book transaction, so it cannot contend with assignment.
	var pending []*models.BankTransaction
	for _, tx := range bankTxs {
		if rule := e.rules.Evaluate(tx.Description, tx.Reference); rule != nil {
			matches[tx.ID] = &models.ReconciliationMatch{
				ID:                uuid.NewString(),
				SessionID:         sessionID,
				BankTransactionID: tx.ID,
				Confidence:        rule.Confidence,
				MatchType:         models.MatchTypeRule,
				Status:            models.MatchStatusMatched,
				SuggestedCategory: rule.TargetCategory,
				Reasoning:         fmt.Sprintf("rule %s matched pattern %q", rule.ID, rule.Pattern),
				CreatedAt:         time.Now(),
			}
			continue
		}
		pending = append(pending, tx)
	}

	// Stage 2+3: exact and fuzzy scoring, read-only and parallel.
	pairs, err := e.scoreCandidates(ctx, pending, bookTxs)
	if err != nil {
		return nil, err
	}

	// Assignment resolution is the engine's only serialization point.
	consumed := make(map[string]bool, len(bookTxs))
	assigned := make(map[string]bool, len(pending))

	sortPairs(pairs)
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if assigned[p.bank.ID] || consumed[p.book.ID] {
			continue
		}

		status := models.MatchStatusMatched
		if p.matchType == models.MatchTypeFuzzy {
			status = models.MatchStatusPartialMatch
		}

		bookID := p.book.ID
		matches[p.bank.ID] = &models.ReconciliationMatch{
			ID:                uuid.NewString(),
			SessionID:         sessionID,
			BankTransactionID: p.bank.ID,
			BookTransactionID: &bookID,
			Confidence:        p.confidence,
			MatchType:         p.matchType,
			Status:            status,
			Reasoning:         p.reasoning,
			CreatedAt:         time.Now(),
		}
		assigned[p.bank.ID] = true
		consumed[p.book.ID] = true
	}

	// Stage 4: oracle fallback for everything still unassigned, against the
	// shrunken pool only.
	var unresolved []*models.BankTransaction
	for _, tx := range pending {
		if !assigned[tx.ID] {
			unresolved = append(unresolved, tx)
		}
	}

	if len(unresolved) > 0 && e.oracle != nil {
		if err := e.oracleFallback(ctx, sessionID, unresolved, bookTxs, consumed, matches); err != nil {
			return nil, err
		}
	}

	// Stage 5: everything else requires manual review.
	for _, tx := range bankTxs {
		if _, ok := matches[tx.ID]; !ok {
			matches[tx.ID] = &models.ReconciliationMatch{
				ID:                uuid.NewString(),
				SessionID:         sessionID,
				BankTransactionID: tx.ID,
				Confidence:        0,
				Status:            models.MatchStatusUnmatched,
				Reasoning:         "requires manual review",
				CreatedAt:         time.Now(),
			}
		}
	}

	result := make([]*models.ReconciliationMatch, 0, len(bankTxs))
	for _, tx := range bankTxs {
		result = append(result, matches[tx.ID])
	}

	if err := verifyExclusivity(result); err != nil {
		return nil, err
	}

	e.logger.Info("Matching completed",
		zap.String("session_id", sessionID),
		zap.Int("bank_transactions", len(bankTxs)),
		zap.Int("book_candidates", len(bookTxs)))

	return result, nil
}

// scoreCandidates computes every plausible (bank, book) pairing above the
// fuzzy threshold. Scores are pairwise and independent of the pool, so this
// phase is safe to parallelize.
func (e *Engine) scoreCandidates(ctx context.Context, bankTxs []*models.BankTransaction, bookTxs []*models.BookTransaction) ([]scoredPair, error) {
	var mu sync.Mutex
	var pairs []scoredPair

	pool := worker.NewPool(e.cfg.ScoringConcurrency, e.logger)
	for _, tx := range bankTxs {
		tx := tx
		pool.Submit(ctx, func(ctx context.Context) error {
			local := e.scoreOne(tx, bookTxs)
			mu.Lock()
			pairs = append(pairs, local...)
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

	return pairs, nil
}

func (e *Engine) scoreOne(tx *models.BankTransaction, bookTxs []*models.BookTransaction) []scoredPair {
	var pairs []scoredPair
	dateTolerance := time.Duration(e.cfg.DateToleranceDays) * 24 * time.Hour

	for _, book := range bookTxs {
		if book.Status == models.BookStatusReconciled {
			continue
		}

		dateGap := tx.Date.Sub(book.Date)
		if dateGap < 0 {
			dateGap = -dateGap
		}

		if AmountsExactlyMatch(tx.Amount, book.Amount) && dateGap <= dateTolerance {
			pairs = append(pairs, scoredPair{
				bank:       tx,
				book:       book,
				confidence: e.cfg.ExactConfidence,
				matchType:  models.MatchTypeExact,
				reasoning:  fmt.Sprintf("amount %s matches %s within a cent, dates %s apart", tx.Amount, book.Amount, dateGap),
			})
			continue
		}

		score := FuzzyConfidence(tx.Description, book.Description, tx.Amount, book.Amount)
		if score >= e.cfg.FuzzyThreshold {
			pairs = append(pairs, scoredPair{
				bank:       tx,
				book:       book,
				confidence: score,
				matchType:  models.MatchTypeFuzzy,
				reasoning: fmt.Sprintf("fuzzy confidence %.2f (description %.2f, amount %.2f)",
					score,
					DescriptionSimilarity(tx.Description, book.Description),
					AmountProximity(tx.Amount, book.Amount)),
			})
		}
	}

	return pairs
}

// sortPairs orders pairs for greedy assignment: confidence descending, then
// earlier bank transaction date, then bank transaction ID for reproducibility.
func sortPairs(pairs []scoredPair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].confidence != pairs[j].confidence {
			return pairs[i].confidence > pairs[j].confidence
		}
		if !pairs[i].bank.Date.Equal(pairs[j].bank.Date) {
			return pairs[i].bank.Date.Before(pairs[j].bank.Date)
		}
		if pairs[i].bank.ID != pairs[j].bank.ID {
			return pairs[i].bank.ID < pairs[j].bank.ID
		}
		return pairs[i].book.ID < pairs[j].book.ID
	})
}

// oracleFallback consults the oracle for transactions that cleared neither
// the exact nor the fuzzy stage. Calls run concurrently against a snapshot of
// the unconsumed pool; suggestions then claim book transactions sequentially
// in descending confidence order. A failed or timed-out call degrades that
// single transaction to unmatched.
func (e *Engine) oracleFallback(ctx context.Context, sessionID string, bankTxs []*models.BankTransaction, bookTxs []*models.BookTransaction, consumed map[string]bool, matches map[string]*models.ReconciliationMatch) error {
	available := make([]*models.BookTransaction, 0, len(bookTxs))
	for _, book := range bookTxs {
		if !consumed[book.ID] && book.Status != models.BookStatusReconciled {
			available = append(available, book)
		}
	}
	if len(available) == 0 {
		return nil
	}

	candidateViews := make([]oracle.TransactionView, len(available))
	byID := make(map[string]*models.BookTransaction, len(available))
	for i, book := range available {
		candidateViews[i] = oracle.TransactionView{
			ID:          book.ID,
			Description: book.Description,
			Amount:      book.Amount,
			Date:        book.Date,
			Type:        string(book.Type),
			Reference:   book.Reference,
		}
		byID[book.ID] = book
	}

	type suggestion struct {
		bank *models.BankTransaction
		s    *oracle.MatchSuggestion
	}

	var mu sync.Mutex
	var suggestions []suggestion

	pool := worker.NewPool(e.cfg.OracleConcurrency, e.logger)
	for _, tx := range bankTxs {
		tx := tx
		pool.Submit(ctx, func(ctx context.Context) error {
			view := oracle.TransactionView{
				ID:          tx.ID,
				Description: tx.Description,
				Amount:      tx.Amount,
				Date:        tx.Date,
				Type:        string(tx.Type),
				Reference:   tx.Reference,
			}
			s, err := e.oracle.FindMatchCandidates(ctx, view, candidateViews)
			if err != nil {
				// Degrade this transaction only; the batch continues.
				e.logger.Warn("Oracle match lookup failed",
					zap.String("bank_transaction_id", tx.ID),
					zap.Error(err))
				return nil
			}
			if s == nil {
				return nil
			}
			mu.Lock()
			suggestions = append(suggestions, suggestion{bank: tx, s: s})
			mu.Unlock()
			return nil
		})
	}
	pool.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	// Unreviewed AI pairings never outrank exact or accepted fuzzy matches.
	for i := range suggestions {
		if suggestions[i].s.Confidence > e.cfg.AICap {
			suggestions[i].s.Confidence = e.cfg.AICap
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].s.Confidence != suggestions[j].s.Confidence {
			return suggestions[i].s.Confidence > suggestions[j].s.Confidence
		}
		if !suggestions[i].bank.Date.Equal(suggestions[j].bank.Date) {
			return suggestions[i].bank.Date.Before(suggestions[j].bank.Date)
		}
		return suggestions[i].bank.ID < suggestions[j].bank.ID
	})

	for _, sg := range suggestions {
		book, ok := byID[sg.s.CandidateID]
		if !ok || consumed[book.ID] {
			continue
		}

		bookID := book.ID
		matches[sg.bank.ID] = &models.ReconciliationMatch{
			ID:                uuid.NewString(),
			SessionID:         sessionID,
			BankTransactionID: sg.bank.ID,
			BookTransactionID: &bookID,
			Confidence:        sg.s.Confidence,
			MatchType:         models.MatchTypeAI,
			Status:            models.MatchStatusPartialMatch,
			Reasoning:         sg.s.Explanation,
			CreatedAt:         time.Now(),
		}
		consumed[book.ID] = true
	}

	return nil
}

// verifyExclusivity is the last line of defense for the exclusivity
// invariant.
func verifyExclusivity(matches []*models.ReconciliationMatch) error {
	seen := make(map[string]string, len(matches))
	for _, m := range matches {
		if !m.ConsumesBook() {
			continue
		}
		if prev, ok := seen[*m.BookTransactionID]; ok {
			return fmt.Errorf("%w: book %s claimed by bank %s and %s",
				ErrAssignmentConflict, *m.BookTransactionID, prev, m.BankTransactionID)
		}
		seen[*m.BookTransactionID] = m.BankTransactionID
	}
	return nil
}
