// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a guarded write finds a different version
	// than the one it was given.
	ErrVersionConflict = errors.New("version conflict")
)

// TxFunc is the body of a transaction. Returning an error rolls the transaction back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store defines the interface for ledger storage.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the ledger layer.
type Store interface {
	// InTx runs fn inside a serialized write transaction and commits when fn returns
	// nil. If the database reports lock contention the whole of fn is run again in a
	// fresh transaction, so fn must not keep state between calls.
	InTx(ctx context.Context, fn TxFunc) error

	// ReadTx runs fn inside a transaction that sees a consistent snapshot. It never
	// blocks writers.
	ReadTx(ctx context.Context, fn TxFunc) error

	Maintenance

	// Close releases any resources held by the store.
	Close() error
}

// Tx is the set of operations available inside a transaction.
//
// Guarded updates take the entity with Version set to the version the caller
// read. They fail with ErrVersionConflict if the stored row has moved on, and on
// success increment Version on the passed entity.
type Tx interface {
	GroupTx
	MemberTx
	ExpenseTx
	SettlementTx
	ShareLinkTx
	NotificationTx
}

// GroupTx persists groups.
type GroupTx interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	// GetGroup returns the group including soft-deleted ones.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	UpdateGroup(ctx context.Context, group *models.Group) error
}

// MemberTx persists memberships.
type MemberTx interface {
	AddMember(ctx context.Context, member *models.Membership) error
	GetMember(ctx context.Context, groupID, userID string) (*models.Membership, error)
	// ListMembers returns active and pending members ordered by join time.
	ListMembers(ctx context.Context, groupID string) ([]*models.Membership, error)
	UpdateMember(ctx context.Context, member *models.Membership) error
	DeleteMember(ctx context.Context, member *models.Membership) error
}

// ExpenseTx persists expenses with their splits.
type ExpenseTx interface {
	CreateExpense(ctx context.Context, expense *models.Expense) error
	// GetExpense returns the expense including soft-deleted ones.
	GetExpense(ctx context.Context, expenseID string) (*models.Expense, error)
	// ListExpenses returns the live expenses of a group, newest first.
	ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error)
	// UpdateExpense replaces every mutable field and the splits of an expense,
	// including the soft-delete fields.
	UpdateExpense(ctx context.Context, expense *models.Expense) error
}

// SettlementTx persists settlements.
type SettlementTx interface {
	CreateSettlement(ctx context.Context, settlement *models.Settlement) error
	GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error)
	// ListSettlements returns the live settlements of a group, newest first.
	ListSettlements(ctx context.Context, groupID string) ([]*models.Settlement, error)
	UpdateSettlement(ctx context.Context, settlement *models.Settlement) error
}

// ShareLinkTx persists share links.
type ShareLinkTx interface {
	CreateShareLink(ctx context.Context, link *models.ShareLink) error
	GetShareLink(ctx context.Context, tokenHash string) (*models.ShareLink, error)
	RevokeShareLink(ctx context.Context, tokenHash string, at time.Time) error
}

// NotificationTx persists notification records and appends outbox events.
type NotificationTx interface {
	// GetNotificationRecord returns the record with all group sub-states, or
	// ErrNotFound if the user never had a relevant event.
	GetNotificationRecord(ctx context.Context, userID string) (*models.NotificationRecord, error)
	// PutNotificationRecord upserts the overall version of a record.
	PutNotificationRecord(ctx context.Context, record *models.NotificationRecord) error
	PutGroupChangeState(ctx context.Context, userID string, state *models.GroupChangeState) error
	DeleteGroupChangeState(ctx context.Context, userID, groupID string) error
	// AppendEvent stores an outbox event and sets its Seq.
	AppendEvent(ctx context.Context, event *models.NotificationEvent) error
}

// Outbox is used by the dispatcher and maintenance jobs outside ledger transactions.
type Outbox interface {
	// LatestSeq returns the highest outbox sequence number, or 0 if empty.
	LatestSeq(ctx context.Context) (int64, error)
	// PendingEvents returns up to limit events with Seq > afterSeq in Seq order.
	PendingEvents(ctx context.Context, afterSeq int64, limit int) ([]models.NotificationEvent, error)
	// MarkDispatched stamps every event with Seq <= upToSeq that is not yet dispatched.
	MarkDispatched(ctx context.Context, upToSeq int64, at time.Time) error
	// PruneEvents deletes dispatched events created before cutoff and returns
	// how many were removed.
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// ShareLinkPurger removes share links that can no longer be redeemed.
type ShareLinkPurger interface {
	// PurgeShareLinks deletes links that expired or were revoked before cutoff.
	PurgeShareLinks(ctx context.Context, cutoff time.Time) (int64, error)
}

// Maintenance is what the scheduled jobs need from the store.
type Maintenance interface {
	Outbox
	ShareLinkPurger
}
