package calculator

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/models"
)

func equalExpense(t *testing.T, payer, amount, currency string, participants ...string) ExpenseForBalance {
	t.Helper()
	splits, err := ComputeSplits(d(amount), currency, models.SplitEqual, participants, nil)
	require.NoError(t, err)
	return ExpenseForBalance{PayerID: payer, Amount: d(amount), Currency: currency, Splits: splits}
}

func netOf(t *testing.T, b *GroupBalances, currency, user string) decimal.Decimal {
	t.Helper()
	for _, cb := range b.Currencies {
		if cb.Currency != currency {
			continue
		}
		for _, m := range cb.Members {
			if m.UserID == user {
				return m.NetBalance
			}
		}
	}
	return decimal.Zero
}

func debtsOf(b *GroupBalances, currency string) []DebtEdge {
	for _, cb := range b.Currencies {
		if cb.Currency == currency {
			return cb.Debts
		}
	}
	return nil
}

func TestComputeBalances_SettlementSequence(t *testing.T) {
	expenses := []ExpenseForBalance{equalExpense(t, "A", "120", "USD", "A", "B", "C")}

	b, err := ComputeBalances("g1", expenses, nil)
	require.NoError(t, err)
	assert.True(t, netOf(t, b, "USD", "A").Equal(d("80")))
	assert.True(t, netOf(t, b, "USD", "B").Equal(d("-40")))
	assert.True(t, netOf(t, b, "USD", "C").Equal(d("-40")))

	// B pays 30: B still owes 10, C still owes 40.
	settlements := []SettlementForBalance{{PayerID: "B", PayeeID: "A", Amount: d("30"), Currency: "USD"}}
	b, err = ComputeBalances("g1", expenses, settlements)
	require.NoError(t, err)
	assert.True(t, netOf(t, b, "USD", "B").Equal(d("-10")))
	debts := debtsOf(b, "USD")
	require.Len(t, debts, 2)
	assert.Equal(t, "C", debts[0].From)
	assert.Equal(t, "A", debts[0].To)
	assert.True(t, debts[0].Amount.Equal(d("40")))
	assert.Equal(t, "B", debts[1].From)
	assert.True(t, debts[1].Amount.Equal(d("10")))

	// B pays the remaining 10 and disappears from the debt list.
	settlements = append(settlements, SettlementForBalance{PayerID: "B", PayeeID: "A", Amount: d("10"), Currency: "USD"})
	b, err = ComputeBalances("g1", expenses, settlements)
	require.NoError(t, err)
	assert.True(t, b.Settled("B"))
	debts = debtsOf(b, "USD")
	require.Len(t, debts, 1)
	assert.Equal(t, "C", debts[0].From)
	assert.Equal(t, "A", debts[0].To)
	assert.True(t, debts[0].Amount.Equal(d("40")))
}

func TestComputeBalances_PerCurrency(t *testing.T) {
	expenses := []ExpenseForBalance{
		equalExpense(t, "A", "100", "USD", "A", "B"),
		equalExpense(t, "B", "3000", "JPY", "A", "B"),
	}
	b, err := ComputeBalances("g1", expenses, nil)
	require.NoError(t, err)
	require.Len(t, b.Currencies, 2)
	assert.Equal(t, "JPY", b.Currencies[0].Currency)
	assert.Equal(t, "USD", b.Currencies[1].Currency)

	net := b.NetBalances("A")
	assert.True(t, net["USD"].Equal(d("50")))
	assert.True(t, net["JPY"].Equal(d("-1500")))
	assert.False(t, b.AllSettled())
}

func TestComputeBalances_Unbalanced(t *testing.T) {
	expenses := []ExpenseForBalance{{
		PayerID:  "A",
		Amount:   d("10"),
		Currency: "USD",
		Splits:   []models.Split{{UserID: "B", Amount: d("9")}},
	}}
	_, err := ComputeBalances("g1", expenses, nil)
	assert.ErrorIs(t, err, ErrUnbalanced)
}

func TestComputeBalances_Empty(t *testing.T) {
	b, err := ComputeBalances("g1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, b.Currencies)
	assert.True(t, b.AllSettled())
	assert.True(t, b.Settled("anyone"))
}

func TestSimplifyDebts_TieBreakIsDeterministic(t *testing.T) {
	net := map[string]decimal.Decimal{
		"dave":  d("-10"),
		"carol": d("-10"),
		"bob":   d("10"),
		"alice": d("10"),
	}
	for i := 0; i < 20; i++ {
		edges := SimplifyDebts(net)
		require.Len(t, edges, 2)
		assert.Equal(t, DebtEdge{From: "carol", To: "alice", Amount: edges[0].Amount}, edges[0])
		assert.Equal(t, "dave", edges[1].From)
		assert.Equal(t, "bob", edges[1].To)
	}
}

// Random ledgers: applying the simplified transfers zeroes every balance, the
// transfer count stays below the number of non-zero members and the net sum is zero.
func TestSimplifyDebts_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	currencies := []string{"USD", "JPY", "KWD"}

	for round := 0; round < 200; round++ {
		t.Run(fmt.Sprintf("round_%d", round), func(t *testing.T) {
			users := make([]string, 2+rng.Intn(9))
			for i := range users {
				users[i] = fmt.Sprintf("u%02d", i)
			}

			var expenses []ExpenseForBalance
			var settlements []SettlementForBalance
			for i := 0; i < 1+rng.Intn(15); i++ {
				currency := currencies[rng.Intn(len(currencies))]
				cur, _ := LookupCurrency(currency)
				amount := cur.FromMinor(int64(1 + rng.Intn(500000)))
				perm := rng.Perm(len(users))[:1+rng.Intn(len(users))]
				participants := make([]string, len(perm))
				for j, p := range perm {
					participants[j] = users[p]
				}
				payer := users[rng.Intn(len(users))]
				if rng.Intn(4) == 0 {
					payee := users[rng.Intn(len(users))]
					if payee != payer {
						settlements = append(settlements, SettlementForBalance{PayerID: payer, PayeeID: payee, Amount: amount, Currency: currency})
						continue
					}
				}
				expenses = append(expenses, equalExpense(t, payer, amount.String(), currency, participants...))
			}

			b, err := ComputeBalances("g", expenses, settlements)
			require.NoError(t, err)

			for _, cb := range b.Currencies {
				sum := decimal.Zero
				remaining := make(map[string]decimal.Decimal)
				nonZero := 0
				for _, m := range cb.Members {
					sum = sum.Add(m.NetBalance)
					remaining[m.UserID] = m.NetBalance
					if !m.NetBalance.IsZero() {
						nonZero++
					}
				}
				require.True(t, sum.IsZero(), "sum of %s balances = %s", cb.Currency, sum)

				for _, e := range cb.Debts {
					require.True(t, e.Amount.IsPositive())
					remaining[e.From] = remaining[e.From].Add(e.Amount)
					remaining[e.To] = remaining[e.To].Sub(e.Amount)
				}
				for u, v := range remaining {
					require.True(t, v.IsZero(), "%s left with %s %s", u, v, cb.Currency)
				}
				if nonZero > 0 {
					require.LessOrEqual(t, len(cb.Debts), nonZero-1)
				}

				ids := make([]string, len(cb.Members))
				for i, m := range cb.Members {
					ids[i] = m.UserID
				}
				require.True(t, sort.StringsAreSorted(ids))
			}
		})
	}
}
