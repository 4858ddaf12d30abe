package models

import "time"

// ChangeCategory classifies what changed for a user in a group.
type ChangeCategory string

const (
	CategoryTransactions ChangeCategory = "transactions"
	CategoryBalances     ChangeCategory = "balances"
	CategoryGroupDetails ChangeCategory = "group_details"
)

// ChangeCategories lists categories in the order events are emitted.
var ChangeCategories = []ChangeCategory{CategoryTransactions, CategoryBalances, CategoryGroupDetails}

// CategoryState is one counter of a group sub-state.
type CategoryState struct {
	Version   int64
	ChangedAt time.Time
}

// GroupChangeState holds the three independent counters for one group.
type GroupChangeState struct {
	GroupID      string
	Transactions CategoryState
	Balances     CategoryState
	GroupDetails CategoryState
}

// Category returns a pointer to the counter for c.
func (s *GroupChangeState) Category(c ChangeCategory) *CategoryState {
	switch c {
	case CategoryTransactions:
		return &s.Transactions
	case CategoryBalances:
		return &s.Balances
	default:
		return &s.GroupDetails
	}
}

// NotificationRecord is the per-user change summary clients watch to know when to refetch.
type NotificationRecord struct {
	UserID string
	// Version increases by one for every committed mutation that affects the user.
	Version   int64
	UpdatedAt time.Time
	Groups    map[string]*GroupChangeState
}

// NotificationEvent is one outbox entry delivered to subscribers.
type NotificationEvent struct {
	Seq             int64
	UserID          string
	GroupID         string
	Category        ChangeCategory
	CategoryVersion int64
	RecordVersion   int64
	CreatedAt       time.Time
}
