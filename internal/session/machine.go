package session

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garyjia/ai-reconciliation/internal/models"
)

// ErrInvalidTransition indicates a lifecycle transition the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid session status transition")

// ErrApprovalBlocked indicates an approval attempt on a session whose
// difference exceeds the tolerance without a recorded waiver.
var ErrApprovalBlocked = errors.New("approval blocked: unresolved discrepancy requires a waiver")

// validTransitions defines the session lifecycle. Approved is terminal;
// disputed sessions can only go back to in_progress for another run.
var validTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionInProgress: {
		models.SessionCompleted,
	},
	models.SessionCompleted: {
		models.SessionApproved,
		models.SessionDisputed,
	},
	models.SessionDisputed: {
		models.SessionInProgress,
	},
	models.SessionApproved: {
		// Terminal state - no transitions allowed
	},
}

// CanTransition checks if a status transition is valid. Same-status
// transitions are idempotent.
func CanTransition(from, to models.SessionStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// checkTransition returns a wrapped ErrInvalidTransition when the move is
// not allowed.
func checkTransition(from, to models.SessionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// approvalGuard enforces the approval gate: the absolute difference must be
// within tolerance, or an explicit waiver must be recorded on the session.
func approvalGuard(session *models.ReconciliationSession, tolerance decimal.Decimal, waiver string) error {
	if session.Difference.Abs().LessThanOrEqual(tolerance) {
		return nil
	}
	if waiver != "" || session.DiscrepancyWaiver != "" {
		return nil
	}
	return fmt.Errorf("%w: difference %s exceeds tolerance %s",
		ErrApprovalBlocked, session.Difference, tolerance)
}
