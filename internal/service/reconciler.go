// Package service wires ingestion, matching and session lifecycle into the
// operations the HTTP layer exposes.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
	"github.com/garyjia/ai-reconciliation/internal/ingest"
	"github.com/garyjia/ai-reconciliation/internal/matching"
	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/report"
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/internal/session"
	"github.com/garyjia/ai-reconciliation/pkg/database"
)

// ErrMatchNotFound indicates the referenced match record does not exist.
var ErrMatchNotFound = errors.New("match not found")

// Reconciler runs reconciliation end to end: import, session creation, the
// matching pipeline, persistence and completion.
type Reconciler struct {
	db       *database.DB
	importer *ingest.Importer
	matcher  *matching.Engine
	sessions *session.Manager
	banks    *repository.BankTransactionRepository
	books    *repository.BookTransactionRepository
	matches  *repository.MatchRepository
	auditLog *audit.Logger
	logger   *zap.Logger
}

// NewReconciler creates a reconciler service
func NewReconciler(
	db *database.DB,
	importer *ingest.Importer,
	matcher *matching.Engine,
	sessions *session.Manager,
	banks *repository.BankTransactionRepository,
	books *repository.BookTransactionRepository,
	matches *repository.MatchRepository,
	auditLog *audit.Logger,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		db:       db,
		importer: importer,
		matcher:  matcher,
		sessions: sessions,
		banks:    banks,
		books:    books,
		matches:  matches,
		auditLog: auditLog,
		logger:   logger,
	}
}

// ImportStatement ingests statement lines for an account
func (r *Reconciler) ImportStatement(ctx context.Context, accountID string, txs []*models.BankTransaction) (*ingest.Result, error) {
	return r.importer.Import(ctx, accountID, txs)
}

// Reconcile runs a full reconciliation for an account and period: opens a
// session, matches the period's transactions, persists the match set and
// completes the session. A cancelled or failed run leaves the session
// in_progress with no matches persisted, so it can simply be run again.
func (r *Reconciler) Reconcile(ctx context.Context, accountID, userID string, period models.Period) (*models.SessionReport, error) {
	sess, err := r.sessions.Create(ctx, accountID, userID, period)
	if err != nil {
		return nil, err
	}

	bankTxs, err := r.banks.ListByAccountPeriod(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	bookTxs, err := r.books.ListUnreconciledByAccountPeriod(ctx, accountID, period)
	if err != nil {
		return nil, err
	}

	matches, err := r.matcher.Match(ctx, sess.ID, bankTxs, bookTxs)
	if err != nil {
		r.logger.Warn("Matching run aborted, session left in progress",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return nil, err
	}

	// The match set lands atomically; a partial set would break the
	// one-record-per-bank-transaction shape of the session.
	err = r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, m := range matches {
			if err := r.matches.Create(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrBookTransactionConsumed) {
			// The storage index caught what the in-memory check should have.
			r.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeExclusivityViolation, audit.RiskCritical,
				"session", sess.ID, map[string]interface{}{
					"error": err.Error(),
				}).WithAccount(accountID))
		}
		return nil, err
	}

	summary := models.Summarize(matches)
	r.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeMatchAssigned, audit.RiskLow, "session", sess.ID,
		map[string]interface{}{
			"total":     summary.Total,
			"matched":   summary.Matched,
			"partial":   summary.PartialMatch,
			"unmatched": summary.Unmatched,
		}).WithAccount(accountID))

	if _, err := r.sessions.Complete(ctx, sess.ID); err != nil {
		return nil, err
	}
	return r.Report(ctx, sess.ID)
}

// Report assembles the caller-facing view of a session
func (r *Reconciler) Report(ctx context.Context, sessionID string) (*models.SessionReport, error) {
	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	matches, err := r.matches.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	summary := models.Summarize(matches)
	return &models.SessionReport{
		Session:         sess,
		Matches:         matches,
		Summary:         summary,
		Recommendations: report.Recommendations(summary, sess),
	}, nil
}

// ReviewMatch records a human decision on a single match
func (r *Reconciler) ReviewMatch(ctx context.Context, matchID string, status models.MatchStatus, reviewedBy string) (*models.ReconciliationMatch, error) {
	match, err := r.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}

	// Approved sessions are terminal financial records.
	sess, err := r.sessions.Get(ctx, match.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionApproved {
		return nil, fmt.Errorf("%w: session %s is approved", session.ErrInvalidTransition, sess.ID)
	}

	if err := r.matches.Review(ctx, nil, matchID, status, reviewedBy); err != nil {
		return nil, err
	}

	r.auditLog.MustRecord(ctx, audit.NewEvent(audit.TypeMatchReviewed, audit.RiskMedium, "match", matchID,
		map[string]interface{}{
			"session_id": match.SessionID,
			"from":       string(match.Status),
			"to":         string(status),
		}).WithActor(reviewedBy))

	return r.matches.GetByID(ctx, matchID)
}
