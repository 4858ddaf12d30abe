package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitType selects how an expense is divided among participants.
type SplitType string

const (
	SplitEqual      SplitType = "equal"
	SplitExact      SplitType = "exact"
	SplitPercentage SplitType = "percentage"
)

// Valid reports whether t is a recognized split type.
func (t SplitType) Valid() bool {
	return t == SplitEqual || t == SplitExact || t == SplitPercentage
}

// Split is one participant's share of an expense.
type Split struct {
	UserID string
	Amount decimal.Decimal
	// Percentage is set for percentage splits only.
	Percentage *decimal.Decimal
}

// Expense is a payment by one member shared among participants.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID      string
	GroupID string

	Description string

	// Amount is the total paid, at the currency's precision.
	Amount   decimal.Decimal
	Currency string

	// PayerID is the member who paid the full amount.
	PayerID   string
	CreatedBy string

	// Participants is the ordered list of users sharing the expense. The order
	// decides which participants receive rounding remainders.
	Participants []string

	SplitType SplitType
	Splits    []Split

	Date     time.Time
	Category string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	DeletedBy string
}

// Deleted reports whether the expense has been soft-deleted.
func (e *Expense) Deleted() bool { return e.DeletedAt != nil }

// InvolvedUsers returns the payer followed by every participant, without duplicates.
func (e *Expense) InvolvedUsers() []string {
	users := make([]string, 0, len(e.Participants)+1)
	users = append(users, e.PayerID)
	for _, p := range e.Participants {
		if p != e.PayerID {
			users = append(users, p)
		}
	}
	return users
}

// ExpensePatch holds the fields of an UpdateExpense call. Nil fields are left unchanged.
type ExpensePatch struct {
	Description  *string
	Amount       *decimal.Decimal
	Currency     *string
	PayerID      *string
	Participants []string
	SplitType    *SplitType
	// Splits replaces the user-supplied splits for exact and percentage expenses.
	Splits   []Split
	Date     *time.Time
	Category *string
}

// Empty reports whether the patch changes nothing.
func (p ExpensePatch) Empty() bool {
	return p.Description == nil && p.Amount == nil && p.Currency == nil && p.PayerID == nil &&
		p.Participants == nil && p.SplitType == nil && p.Splits == nil && p.Date == nil &&
		p.Category == nil
}
