package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settlement represents a payment between group members to clear debts.
type Settlement struct {
	// ID is the unique identifier for the settlement (UUID format).
	ID string

	// GroupID is the group this settlement belongs to.
	GroupID string

	// PayerID is the user who paid (debtor settling up).
	PayerID string

	// PayeeID is the user who received payment (creditor being paid).
	PayeeID string

	// Amount is the payment amount.
	Amount   decimal.Decimal
	Currency string

	Date time.Time

	// Note is an optional description for the settlement.
	Note string

	// Locked settlements are immutable: they cannot be edited or deleted.
	Locked bool

	// CreatedBy is the user ID who recorded this settlement.
	CreatedBy string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	DeletedBy string
}

// Deleted reports whether the settlement has been soft-deleted.
func (s *Settlement) Deleted() bool { return s.DeletedAt != nil }

// SettlementPatch holds the fields of an UpdateSettlement call.
type SettlementPatch struct {
	PayerID  *string
	PayeeID  *string
	Amount   *decimal.Decimal
	Currency *string
	Date     *time.Time
	Note     *string
}
