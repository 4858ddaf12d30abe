package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
)

// Empty is the response of calls that return nothing.
type Empty struct{}

// Split is one participant's share. Percentage is only set for percentage splits.
type Split struct {
	UserID     string           `json:"userId"`
	Amount     decimal.Decimal  `json:"amount"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
}

// Expense is the wire form of an expense.
type Expense struct {
	ID           string          `json:"id"`
	GroupID      string          `json:"groupId"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	PayerID      string          `json:"payerId"`
	CreatedBy    string          `json:"createdBy"`
	Participants []string        `json:"participants"`
	SplitType    string          `json:"splitType"`
	Splits       []Split         `json:"splits"`
	Date         time.Time       `json:"date"`
	Category     string          `json:"category,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Settlement is the wire form of a settlement.
type Settlement struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"groupId"`
	PayerID   string          `json:"payerId"`
	PayeeID   string          `json:"payeeId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Date      time.Time       `json:"date"`
	Note      string          `json:"note,omitempty"`
	Locked    bool            `json:"locked"`
	CreatedBy string          `json:"createdBy"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Group is the wire form of a group.
type Group struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	CreatedBy       string            `json:"createdBy"`
	DefaultCurrency string            `json:"defaultCurrency"`
	RequireApproval bool              `json:"requireApproval"`
	Permissions     map[string]string `json:"permissions"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Member is the wire form of a membership.
type Member struct {
	GroupID     string    `json:"groupId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	Color       string    `json:"color"`
	Version     int64     `json:"version"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// MemberBalance is one member's position in one currency.
type MemberBalance struct {
	UserID     string          `json:"userId"`
	NetBalance decimal.Decimal `json:"netBalance"`
	TotalPaid  decimal.Decimal `json:"totalPaid"`
	TotalOwed  decimal.Decimal `json:"totalOwed"`
}

// Debt is a simplified transfer.
type Debt struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// CurrencyBalances holds the balances of one currency.
type CurrencyBalances struct {
	Currency string          `json:"currency"`
	Members  []MemberBalance `json:"members"`
	Debts    []Debt          `json:"debts"`
}

// NotificationEvent tells a client which group category changed.
type NotificationEvent struct {
	Seq             int64     `json:"seq"`
	UserID          string    `json:"userId"`
	GroupID         string    `json:"groupId"`
	Category        string    `json:"category"`
	CategoryVersion int64     `json:"categoryVersion"`
	RecordVersion   int64     `json:"recordVersion"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CategoryState is one change counter.
type CategoryState struct {
	Version   int64     `json:"version"`
	ChangedAt time.Time `json:"changedAt"`
}

// GroupChangeState holds the counters of one group.
type GroupChangeState struct {
	Transactions CategoryState `json:"transactions"`
	Balances     CategoryState `json:"balances"`
	GroupDetails CategoryState `json:"groupDetails"`
}

// NotificationRecord is the wire form of a user's change record.
type NotificationRecord struct {
	UserID    string                      `json:"userId"`
	Version   int64                       `json:"version"`
	UpdatedAt time.Time                   `json:"updatedAt"`
	Groups    map[string]GroupChangeState `json:"groups"`
}

// LedgerService requests and responses.

type CreateExpenseRequest struct {
	GroupID      string          `json:"groupId"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	PayerID      string          `json:"payerId"`
	Participants []string        `json:"participants"`
	SplitType    string          `json:"splitType,omitempty"`
	Splits       []Split         `json:"splits,omitempty"`
	Date         *time.Time      `json:"date,omitempty"`
	Category     string          `json:"category,omitempty"`
}

type UpdateExpenseRequest struct {
	ExpenseID       string           `json:"expenseId"`
	ExpectedVersion int64            `json:"expectedVersion"`
	Description     *string          `json:"description,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Currency        *string          `json:"currency,omitempty"`
	PayerID         *string          `json:"payerId,omitempty"`
	Participants    []string         `json:"participants,omitempty"`
	SplitType       *string          `json:"splitType,omitempty"`
	Splits          []Split          `json:"splits,omitempty"`
	Date            *time.Time       `json:"date,omitempty"`
	Category        *string          `json:"category,omitempty"`
}

type DeleteExpenseRequest struct {
	ExpenseID       string `json:"expenseId"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

type GetExpenseRequest struct {
	ExpenseID string `json:"expenseId"`
}

type ExpenseResponse struct {
	Expense Expense `json:"expense"`
}

type ListExpensesRequest struct {
	GroupID string `json:"groupId"`
}

type ListExpensesResponse struct {
	Expenses []Expense `json:"expenses"`
}

type CreateSettlementRequest struct {
	GroupID  string          `json:"groupId"`
	PayerID  string          `json:"payerId"`
	PayeeID  string          `json:"payeeId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Date     *time.Time      `json:"date,omitempty"`
	Note     string          `json:"note,omitempty"`
}

type UpdateSettlementRequest struct {
	SettlementID    string           `json:"settlementId"`
	ExpectedVersion int64            `json:"expectedVersion"`
	PayerID         *string          `json:"payerId,omitempty"`
	PayeeID         *string          `json:"payeeId,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Currency        *string          `json:"currency,omitempty"`
	Date            *time.Time       `json:"date,omitempty"`
	Note            *string          `json:"note,omitempty"`
}

// SettlementRequest names a settlement for delete, lock and get calls.
type SettlementRequest struct {
	SettlementID    string `json:"settlementId"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
}

type SettlementResponse struct {
	Settlement Settlement `json:"settlement"`
}

type ListSettlementsRequest struct {
	GroupID string `json:"groupId"`
}

type ListSettlementsResponse struct {
	Settlements []Settlement `json:"settlements"`
}

type GetBalancesRequest struct {
	GroupID string `json:"groupId"`
}

type GetBalancesResponse struct {
	GroupID    string             `json:"groupId"`
	Currencies []CurrencyBalances `json:"currencies"`
}

type CalculateSplitRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	SplitType    string          `json:"splitType,omitempty"`
	Participants []string        `json:"participants"`
	Splits       []Split         `json:"splits,omitempty"`
}

type CalculateSplitResponse struct {
	Splits []Split `json:"splits"`
}

// GroupService requests and responses.

type CreateGroupRequest struct {
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	DefaultCurrency string            `json:"defaultCurrency,omitempty"`
	RequireApproval bool              `json:"requireApproval,omitempty"`
	Permissions     map[string]string `json:"permissions,omitempty"`
	DisplayName     string            `json:"displayName,omitempty"`
}

type GetGroupRequest struct {
	GroupID string `json:"groupId"`
}

type UpdateGroupRequest struct {
	GroupID         string            `json:"groupId"`
	ExpectedVersion int64             `json:"expectedVersion"`
	Name            *string           `json:"name,omitempty"`
	Description     *string           `json:"description,omitempty"`
	DefaultCurrency *string           `json:"defaultCurrency,omitempty"`
	RequireApproval *bool             `json:"requireApproval,omitempty"`
	Permissions     map[string]string `json:"permissions,omitempty"`
}

type DeleteGroupRequest struct {
	GroupID         string `json:"groupId"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

type GroupResponse struct {
	Group Group `json:"group"`
}

type CreateShareLinkRequest struct {
	GroupID    string `json:"groupId"`
	TTLSeconds int64  `json:"ttlSeconds,omitempty"`
}

type CreateShareLinkResponse struct {
	Token     string    `json:"token"`
	GroupID   string    `json:"groupId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type RevokeShareLinkRequest struct {
	GroupID string `json:"groupId"`
	Token   string `json:"token"`
}

type JoinGroupRequest struct {
	Token       string `json:"token"`
	DisplayName string `json:"displayName,omitempty"`
}

type JoinGroupResponse struct {
	Outcome string `json:"outcome"`
	Member  Member `json:"member"`
}

type MemberRequest struct {
	GroupID         string `json:"groupId"`
	UserID          string `json:"userId"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

type UpdateMemberRoleRequest struct {
	GroupID         string `json:"groupId"`
	UserID          string `json:"userId"`
	Role            string `json:"role"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

type MemberResponse struct {
	Member Member `json:"member"`
}

type ListMembersRequest struct {
	GroupID string `json:"groupId"`
}

type ListMembersResponse struct {
	Members []Member `json:"members"`
}

// NotificationService requests and responses.

type SubscribeRequest struct{}

type GetRecordRequest struct{}

type GetRecordResponse struct {
	Record NotificationRecord `json:"record"`
}

// Conversions between models and wire messages.

func toSplits(in []models.Split) []Split {
	out := make([]Split, len(in))
	for i, s := range in {
		out[i] = Split{UserID: s.UserID, Amount: s.Amount, Percentage: s.Percentage}
	}
	return out
}

func fromSplits(in []Split) []models.Split {
	if in == nil {
		return nil
	}
	out := make([]models.Split, len(in))
	for i, s := range in {
		out[i] = models.Split{UserID: s.UserID, Amount: s.Amount, Percentage: s.Percentage}
	}
	return out
}

func toExpense(e *models.Expense) Expense {
	return Expense{
		ID:           e.ID,
		GroupID:      e.GroupID,
		Description:  e.Description,
		Amount:       e.Amount,
		Currency:     e.Currency,
		PayerID:      e.PayerID,
		CreatedBy:    e.CreatedBy,
		Participants: e.Participants,
		SplitType:    string(e.SplitType),
		Splits:       toSplits(e.Splits),
		Date:         e.Date,
		Category:     e.Category,
		Version:      e.Version,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func toSettlement(s *models.Settlement) Settlement {
	return Settlement{
		ID:        s.ID,
		GroupID:   s.GroupID,
		PayerID:   s.PayerID,
		PayeeID:   s.PayeeID,
		Amount:    s.Amount,
		Currency:  s.Currency,
		Date:      s.Date,
		Note:      s.Note,
		Locked:    s.Locked,
		CreatedBy: s.CreatedBy,
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toPermissions(p models.Permissions) map[string]string {
	out := make(map[string]string, len(p))
	for action, policy := range p {
		out[string(action)] = string(policy)
	}
	return out
}

func fromPermissions(in map[string]string) models.Permissions {
	if in == nil {
		return nil
	}
	out := make(models.Permissions, len(in))
	for action, policy := range in {
		out[models.PermissionAction(action)] = models.PermissionPolicy(policy)
	}
	return out
}

func toGroup(g *models.Group) Group {
	return Group{
		ID:              g.ID,
		Name:            g.Name,
		Description:     g.Description,
		CreatedBy:       g.CreatedBy,
		DefaultCurrency: g.DefaultCurrency,
		RequireApproval: g.RequireApproval,
		Permissions:     toPermissions(g.Permissions),
		Version:         g.Version,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

func toMember(m *models.Membership) Member {
	return Member{
		GroupID:     m.GroupID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Role:        string(m.Role),
		Status:      string(m.Status),
		Color:       m.Color,
		Version:     m.Version,
		JoinedAt:    m.JoinedAt,
	}
}

func toBalances(b *calculator.GroupBalances) *GetBalancesResponse {
	resp := &GetBalancesResponse{GroupID: b.GroupID, Currencies: make([]CurrencyBalances, len(b.Currencies))}
	for i, cb := range b.Currencies {
		out := CurrencyBalances{
			Currency: cb.Currency,
			Members:  make([]MemberBalance, len(cb.Members)),
			Debts:    make([]Debt, len(cb.Debts)),
		}
		for j, m := range cb.Members {
			out.Members[j] = MemberBalance{UserID: m.UserID, NetBalance: m.NetBalance, TotalPaid: m.TotalPaid, TotalOwed: m.TotalOwed}
		}
		for j, d := range cb.Debts {
			out.Debts[j] = Debt{From: d.From, To: d.To, Amount: d.Amount}
		}
		resp.Currencies[i] = out
	}
	return resp
}

func toEvent(ev models.NotificationEvent) *NotificationEvent {
	return &NotificationEvent{
		Seq:             ev.Seq,
		UserID:          ev.UserID,
		GroupID:         ev.GroupID,
		Category:        string(ev.Category),
		CategoryVersion: ev.CategoryVersion,
		RecordVersion:   ev.RecordVersion,
		CreatedAt:       ev.CreatedAt,
	}
}

func toRecord(r *models.NotificationRecord) NotificationRecord {
	out := NotificationRecord{
		UserID:    r.UserID,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
		Groups:    make(map[string]GroupChangeState, len(r.Groups)),
	}
	for id, g := range r.Groups {
		out.Groups[id] = GroupChangeState{
			Transactions: CategoryState{Version: g.Transactions.Version, ChangedAt: g.Transactions.ChangedAt},
			Balances:     CategoryState{Version: g.Balances.Version, ChangedAt: g.Balances.ChangedAt},
			GroupDetails: CategoryState{Version: g.GroupDetails.Version, ChangedAt: g.GroupDetails.ChangedAt},
		}
	}
	return out
}
