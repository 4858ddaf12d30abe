package calculator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

// ErrUnbalanced means the net balances of a currency do not add up to zero. It
// indicates corrupt input, since stored splits always sum to their expense amount.
var ErrUnbalanced = errors.New("net balances do not sum to zero")

// ExpenseForBalance represents an expense with the minimal information needed for balance calculations.
type ExpenseForBalance struct {
	PayerID  string
	Amount   decimal.Decimal
	Currency string
	Splits   []models.Split
}

// SettlementForBalance represents a settlement with the minimal information needed for balance calculations.
type SettlementForBalance struct {
	PayerID  string // Who paid (debtor settling up)
	PayeeID  string // Who received (creditor being paid)
	Amount   decimal.Decimal
	Currency string
}

// MemberBalance represents the balance information for one group member in one currency.
type MemberBalance struct {
	UserID     string
	NetBalance decimal.Decimal // Positive = owed money, Negative = owes money
	TotalPaid  decimal.Decimal // Expenses paid plus settlements sent
	TotalOwed  decimal.Decimal // Expense shares plus settlements received
}

// DebtEdge represents a debt from one person to another.
type DebtEdge struct {
	From   string // Person who owes
	To     string // Person who is owed
	Amount decimal.Decimal
}

// CurrencyBalances holds the balances of one currency.
type CurrencyBalances struct {
	Currency string
	// Members is sorted by user ID.
	Members []MemberBalance
	// Debts is the simplified transfer list that zeroes every member's balance.
	Debts []DebtEdge
}

// GroupBalances holds a group's balances per currency, sorted by currency code.
type GroupBalances struct {
	GroupID    string
	Currencies []CurrencyBalances
}

// NetBalances returns the non-zero net balances of userID keyed by currency.
func (b *GroupBalances) NetBalances(userID string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, cb := range b.Currencies {
		for _, m := range cb.Members {
			if m.UserID == userID && !m.NetBalance.IsZero() {
				out[cb.Currency] = m.NetBalance
			}
		}
	}
	return out
}

// Settled reports whether userID has a zero balance in every currency.
func (b *GroupBalances) Settled(userID string) bool {
	return len(b.NetBalances(userID)) == 0
}

// AllSettled reports whether every member has a zero balance in every currency.
func (b *GroupBalances) AllSettled() bool {
	for _, cb := range b.Currencies {
		for _, m := range cb.Members {
			if !m.NetBalance.IsZero() {
				return false
			}
		}
	}
	return true
}

// ComputeBalances computes balances across the live expenses and settlements of a group.
//
// Algorithm, per currency:
//   - For each expense: payer contributed +amount, each split user owes their share
//   - For each settlement: payer's balance improves, payee's balance decreases
//   - Aggregate: net_balance = total_paid - total_owed, which must sum to zero
//   - Debts: simplified using greedy largest-creditor / largest-debtor matching
func ComputeBalances(groupID string, expenses []ExpenseForBalance, settlements []SettlementForBalance) (*GroupBalances, error) {
	byCurrency := make(map[string]map[string]*MemberBalance)
	member := func(currency, userID string) *MemberBalance {
		currency = strings.ToUpper(currency)
		balances, ok := byCurrency[currency]
		if !ok {
			balances = make(map[string]*MemberBalance)
			byCurrency[currency] = balances
		}
		bal, ok := balances[userID]
		if !ok {
			bal = &MemberBalance{UserID: userID}
			balances[userID] = bal
		}
		return bal
	}

	for _, e := range expenses {
		payer := member(e.Currency, e.PayerID)
		payer.TotalPaid = payer.TotalPaid.Add(e.Amount)
		for _, s := range e.Splits {
			owed := member(e.Currency, s.UserID)
			owed.TotalOwed = owed.TotalOwed.Add(s.Amount)
		}
	}

	for _, s := range settlements {
		payer := member(s.Currency, s.PayerID)
		payer.TotalPaid = payer.TotalPaid.Add(s.Amount)
		payee := member(s.Currency, s.PayeeID)
		payee.TotalOwed = payee.TotalOwed.Add(s.Amount)
	}

	currencies := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	result := &GroupBalances{GroupID: groupID, Currencies: make([]CurrencyBalances, 0, len(currencies))}
	for _, c := range currencies {
		balances := byCurrency[c]
		net := make(map[string]decimal.Decimal, len(balances))
		sum := decimal.Zero
		members := make([]MemberBalance, 0, len(balances))
		for userID, bal := range balances {
			bal.NetBalance = bal.TotalPaid.Sub(bal.TotalOwed)
			net[userID] = bal.NetBalance
			sum = sum.Add(bal.NetBalance)
			members = append(members, *bal)
		}
		if !sum.IsZero() {
			return nil, fmt.Errorf("%w: %s off by %s", ErrUnbalanced, c, sum)
		}
		sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })

		result.Currencies = append(result.Currencies, CurrencyBalances{
			Currency: c,
			Members:  members,
			Debts:    SimplifyDebts(net),
		})
	}
	return result, nil
}

// SimplifyDebts returns transfers that zero every balance in net. Each step pairs
// the largest creditor with the largest debtor and settles the smaller side, so at
// most N-1 transfers are produced for N non-zero balances. Ties go to the lower user ID.
func SimplifyDebts(net map[string]decimal.Decimal) []DebtEdge {
	users := make([]string, 0, len(net))
	remaining := make(map[string]decimal.Decimal, len(net))
	for userID, amount := range net {
		if amount.IsZero() {
			continue
		}
		users = append(users, userID)
		remaining[userID] = amount
	}
	sort.Strings(users)

	var edges []DebtEdge
	for {
		creditor, debtor := "", ""
		for _, u := range users {
			bal := remaining[u]
			if bal.IsPositive() && (creditor == "" || bal.GreaterThan(remaining[creditor])) {
				creditor = u
			}
			if bal.IsNegative() && (debtor == "" || bal.LessThan(remaining[debtor])) {
				debtor = u
			}
		}
		if creditor == "" || debtor == "" {
			return edges
		}

		amount := decimal.Min(remaining[creditor], remaining[debtor].Neg())
		edges = append(edges, DebtEdge{From: debtor, To: creditor, Amount: amount})
		remaining[creditor] = remaining[creditor].Sub(amount)
		remaining[debtor] = remaining[debtor].Add(amount)
	}
}
