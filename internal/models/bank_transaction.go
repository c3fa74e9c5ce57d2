package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankTransaction represents a single line item from an imported bank or card
// statement. It is immutable once imported; matches reference it by ID.
type BankTransaction struct {
	ID          string              `json:"id"`
	AccountID   string              `json:"account_id"`
	Date        time.Time           `json:"date"`
	Description string              `json:"description"`
	Amount      decimal.Decimal     `json:"amount"` // signed magnitude
	Balance     decimal.Decimal     `json:"balance"`
	Reference   string              `json:"reference"`
	Type        BankTransactionType `json:"type"`
	Source      TransactionSource   `json:"source"`
	Metadata    string              `json:"metadata,omitempty"` // JSON blob
	CreatedAt   time.Time           `json:"created_at"`
}

// BankTransactionType distinguishes money leaving from money entering the account.
type BankTransactionType string

const (
	BankTransactionDebit  BankTransactionType = "debit"
	BankTransactionCredit BankTransactionType = "credit"
)

// TransactionSource records how the transaction entered the system.
type TransactionSource string

const (
	SourceBankImport TransactionSource = "bank_import"
	SourceAPISync    TransactionSource = "api_sync"
	SourceManual     TransactionSource = "manual"
)

// SignedAmount returns the amount with a negative sign for debits, which is
// the convention used for balance arithmetic.
func (t *BankTransaction) SignedAmount() decimal.Decimal {
	if t.Type == BankTransactionDebit {
		return t.Amount.Abs().Neg()
	}
	return t.Amount.Abs()
}

// Period is an inclusive reconciliation window [Start, End].
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether ts falls within the period (inclusive).
func (p Period) Contains(ts time.Time) bool {
	return !ts.Before(p.Start) && !ts.After(p.End)
}

// Valid reports whether the period is well-formed.
func (p Period) Valid() bool {
	return !p.Start.After(p.End)
}
