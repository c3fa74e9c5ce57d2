package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookTransaction represents an internally recorded economic event: an
// invoice, expense, payment, transfer or adjustment. Its status advances to
// reconciled only through a successful match.
type BookTransaction struct {
	ID                 string              `json:"id"`
	AccountID          string              `json:"account_id"`
	Type               BookTransactionType `json:"type"`
	Amount             decimal.Decimal     `json:"amount"`
	Date               time.Time           `json:"date"`
	Description        string              `json:"description"`
	Category           string              `json:"category,omitempty"`
	CategoryConfidence float64             `json:"category_confidence,omitempty"`
	Reference          string              `json:"reference,omitempty"`
	Status             BookStatus          `json:"status"`
	RelatedEntityID    string              `json:"related_entity_id,omitempty"`
	Metadata           string              `json:"metadata,omitempty"` // JSON blob
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// BookTransactionType identifies the upstream process that created the event.
type BookTransactionType string

const (
	BookInvoice    BookTransactionType = "invoice"
	BookExpense    BookTransactionType = "expense"
	BookPayment    BookTransactionType = "payment"
	BookTransfer   BookTransactionType = "transfer"
	BookAdjustment BookTransactionType = "adjustment"
)

// SignedAmount returns the amount signed by economic direction: expenses and
// payments reduce the balance, invoices increase it, transfers and
// adjustments keep their stored sign.
func (t *BookTransaction) SignedAmount() decimal.Decimal {
	switch t.Type {
	case BookExpense, BookPayment:
		return t.Amount.Abs().Neg()
	case BookInvoice:
		return t.Amount.Abs()
	default:
		return t.Amount
	}
}

// BookStatus is the settlement state of a book transaction.
type BookStatus string

const (
	BookStatusPending    BookStatus = "pending"
	BookStatusCleared    BookStatus = "cleared"
	BookStatusReconciled BookStatus = "reconciled"
)
