package calculator

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pct(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func amounts(splits []models.Split) []string {
	out := make([]string, len(splits))
	for i, s := range splits {
		out[i] = s.Amount.StringFixed(2)
	}
	return out
}

func TestComputeSplits(t *testing.T) {
	tests := []struct {
		name         string
		amount       string
		currency     string
		splitType    models.SplitType
		participants []string
		userSplits   []models.Split
		wantCode     apperr.Code
		validateFunc func(t *testing.T, splits []models.Split)
	}{
		{
			name:         "equal split of 10.00 among three",
			amount:       "10.00",
			currency:     "USD",
			splitType:    models.SplitEqual,
			participants: []string{"alice", "bob", "carol"},
			validateFunc: func(t *testing.T, splits []models.Split) {
				want := []string{"3.34", "3.33", "3.33"}
				got := amounts(splits)
				for i := range want {
					if got[i] != want[i] {
						t.Errorf("split[%d] = %s, want %s", i, got[i], want[i])
					}
				}
			},
		},
		{
			name:         "equal split of 120 among three",
			amount:       "120",
			currency:     "USD",
			splitType:    models.SplitEqual,
			participants: []string{"alice", "bob", "carol"},
			validateFunc: func(t *testing.T, splits []models.Split) {
				for _, s := range splits {
					if !s.Amount.Equal(d("40")) {
						t.Errorf("%s owes %s, want 40", s.UserID, s.Amount)
					}
				}
			},
		},
		{
			name:         "equal split ignores user splits",
			amount:       "9",
			currency:     "USD",
			splitType:    models.SplitEqual,
			participants: []string{"alice", "bob"},
			userSplits:   []models.Split{{UserID: "alice", Amount: d("9")}},
			validateFunc: func(t *testing.T, splits []models.Split) {
				if !splits[0].Amount.Equal(d("4.5")) || !splits[1].Amount.Equal(d("4.5")) {
					t.Errorf("splits = %v, want 4.50 each", amounts(splits))
				}
			},
		},
		{
			name:         "zero decimal currency",
			amount:       "1000",
			currency:     "JPY",
			splitType:    models.SplitEqual,
			participants: []string{"a", "b", "c"},
			validateFunc: func(t *testing.T, splits []models.Split) {
				want := []string{"334", "333", "333"}
				for i, s := range splits {
					if s.Amount.String() != want[i] {
						t.Errorf("split[%d] = %s, want %s", i, s.Amount, want[i])
					}
				}
			},
		},
		{
			name:         "exact splits within one cent are normalized",
			amount:       "10.00",
			currency:     "USD",
			splitType:    models.SplitExact,
			participants: []string{"alice", "bob"},
			userSplits: []models.Split{
				{UserID: "bob", Amount: d("4.00")},
				{UserID: "alice", Amount: d("6.01")},
			},
			validateFunc: func(t *testing.T, splits []models.Split) {
				if splits[0].UserID != "alice" || !splits[0].Amount.Equal(d("6.00")) {
					t.Errorf("alice split = %s %s, want alice 6.00", splits[0].UserID, splits[0].Amount)
				}
				if !splits[1].Amount.Equal(d("4.00")) {
					t.Errorf("bob split = %s, want 4.00", splits[1].Amount)
				}
			},
		},
		{
			name:         "exact splits two cents off",
			amount:       "10.00",
			currency:     "USD",
			splitType:    models.SplitExact,
			participants: []string{"alice", "bob"},
			userSplits: []models.Split{
				{UserID: "alice", Amount: d("6.02")},
				{UserID: "bob", Amount: d("4.00")},
			},
			wantCode: apperr.CodeInvalidSplitTotal,
		},
		{
			name:         "exact splits without user splits fall back to equal",
			amount:       "7",
			currency:     "EUR",
			splitType:    models.SplitExact,
			participants: []string{"alice", "bob"},
			validateFunc: func(t *testing.T, splits []models.Split) {
				want := []string{"3.50", "3.50"}
				for i, got := range amounts(splits) {
					if got != want[i] {
						t.Errorf("split[%d] = %s, want %s", i, got, want[i])
					}
				}
			},
		},
		{
			name:         "percentage split with largest remainder",
			amount:       "100.00",
			currency:     "USD",
			splitType:    models.SplitPercentage,
			participants: []string{"alice", "bob", "carol"},
			userSplits: []models.Split{
				{UserID: "alice", Percentage: pct("33.33")},
				{UserID: "bob", Percentage: pct("33.33")},
				{UserID: "carol", Percentage: pct("33.34")},
			},
			validateFunc: func(t *testing.T, splits []models.Split) {
				want := []string{"33.33", "33.33", "33.34"}
				for i, got := range amounts(splits) {
					if got != want[i] {
						t.Errorf("split[%d] = %s, want %s", i, got, want[i])
					}
				}
				if splits[2].Percentage == nil || !splits[2].Percentage.Equal(d("33.34")) {
					t.Errorf("percentage not preserved: %v", splits[2].Percentage)
				}
			},
		},
		{
			name:         "percentage total off",
			amount:       "100",
			currency:     "USD",
			splitType:    models.SplitPercentage,
			participants: []string{"alice", "bob"},
			userSplits: []models.Split{
				{UserID: "alice", Percentage: pct("50")},
				{UserID: "bob", Percentage: pct("49.98")},
			},
			wantCode: apperr.CodeInvalidPercentageTotal,
		},
		{
			name:         "percentage within tolerance",
			amount:       "10",
			currency:     "USD",
			splitType:    models.SplitPercentage,
			participants: []string{"alice", "bob"},
			userSplits: []models.Split{
				{UserID: "alice", Percentage: pct("50")},
				{UserID: "bob", Percentage: pct("49.99")},
			},
			validateFunc: func(t *testing.T, splits []models.Split) {
				if !SumSplits(splits).Equal(d("10")) {
					t.Errorf("sum = %s, want 10", SumSplits(splits))
				}
			},
		},
		{
			name:         "percentage above 100",
			amount:       "10",
			currency:     "USD",
			splitType:    models.SplitPercentage,
			participants: []string{"alice"},
			userSplits:   []models.Split{{UserID: "alice", Percentage: pct("100.01")}},
			wantCode:     apperr.CodeInvalidSplits,
		},
		{
			name:         "zero percentage",
			amount:       "10",
			currency:     "USD",
			splitType:    models.SplitPercentage,
			participants: []string{"alice", "bob"},
			userSplits: []models.Split{
				{UserID: "alice", Percentage: pct("100")},
				{UserID: "bob", Percentage: pct("0")},
			},
			wantCode: apperr.CodeInvalidSplits,
		},
		{
			name:         "duplicate split users",
			amount:       "10",
			currency:     "USD",
			splitType:    models.SplitExact,
			participants: []string{"alice", "bob"},
			userSplits: []models.Split{
				{UserID: "alice", Amount: d("5")},
				{UserID: "alice", Amount: d("5")},
			},
			wantCode: apperr.CodeDuplicateSplitUsers,
		},
		{
			name:         "split user outside participants",
			amount:       "10",
			currency:     "USD",
			splitType:    models.SplitExact,
			participants: []string{"alice", "bob"},
			userSplits: []models.Split{
				{UserID: "alice", Amount: d("5")},
				{UserID: "mallory", Amount: d("5")},
			},
			wantCode: apperr.CodeInvalidSplitUser,
		},
		{
			name:         "participant without split",
			amount:       "10",
			currency:     "USD",
			splitType:    models.SplitExact,
			participants: []string{"alice", "bob"},
			userSplits:   []models.Split{{UserID: "alice", Amount: d("10")}},
			wantCode:     apperr.CodeInvalidSplits,
		},
		{
			name:         "no participants",
			amount:       "10",
			currency:     "USD",
			splitType:    models.SplitEqual,
			participants: []string{},
			wantCode:     apperr.CodeInvalidSplits,
		},
		{
			name:         "duplicate participants",
			amount:       "10",
			currency:     "USD",
			splitType:    models.SplitEqual,
			participants: []string{"alice", "alice"},
			wantCode:     apperr.CodeInvalidSplits,
		},
		{
			name:         "zero amount",
			amount:       "0",
			currency:     "USD",
			splitType:    models.SplitEqual,
			participants: []string{"alice"},
			wantCode:     apperr.CodeInvalidAmount,
		},
		{
			name:         "amount above ceiling",
			amount:       "1000000.00",
			currency:     "USD",
			splitType:    models.SplitEqual,
			participants: []string{"alice"},
			wantCode:     apperr.CodeInvalidAmount,
		},
		{
			name:         "amount at ceiling",
			amount:       "999999.99",
			currency:     "USD",
			splitType:    models.SplitEqual,
			participants: []string{"alice", "bob"},
			validateFunc: func(t *testing.T, splits []models.Split) {
				if !SumSplits(splits).Equal(d("999999.99")) {
					t.Errorf("sum = %s", SumSplits(splits))
				}
			},
		},
		{
			name:         "too many decimals for currency",
			amount:       "10.5",
			currency:     "JPY",
			splitType:    models.SplitEqual,
			participants: []string{"alice"},
			wantCode:     apperr.CodeInvalidAmount,
		},
		{
			name:         "unknown currency",
			amount:       "10",
			currency:     "XYZ",
			splitType:    models.SplitEqual,
			participants: []string{"alice"},
			wantCode:     apperr.CodeInvalidCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splits, err := ComputeSplits(d(tt.amount), tt.currency, tt.splitType, tt.participants, tt.userSplits)
			if tt.wantCode != "" {
				if !apperr.Is(err, tt.wantCode) {
					t.Fatalf("ComputeSplits() error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("ComputeSplits() unexpected error: %v", err)
			}
			if !SumSplits(splits).Equal(d(tt.amount)) {
				t.Errorf("splits sum to %s, want %s", SumSplits(splits), tt.amount)
			}
			if tt.validateFunc != nil {
				tt.validateFunc(t, splits)
			}
		})
	}
}

func TestComputeSplits_ExactTolerancePerPrecision(t *testing.T) {
	tests := []struct {
		currency string
		total    string
		accepted []string
		rejected []string
	}{
		{currency: "USD", total: "10.00", accepted: []string{"9.99", "10.01"}, rejected: []string{"9.98", "10.02"}},
		{currency: "JPY", total: "1000", accepted: []string{"999", "1001"}, rejected: []string{"998", "1002"}},
		{currency: "KWD", total: "10.000", accepted: []string{"9.999", "10.001"}, rejected: []string{"9.998", "10.002"}},
	}

	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			// The first participant carries the adjustable amount; the second owes zero.
			try := func(first string) error {
				_, err := ComputeSplits(d(tt.total), tt.currency, models.SplitExact, []string{"a", "b"}, []models.Split{
					{UserID: "a", Amount: d(first)},
					{UserID: "b", Amount: decimal.Zero},
				})
				return err
			}
			for _, v := range tt.accepted {
				if err := try(v); err != nil {
					t.Errorf("split sum %s rejected: %v", v, err)
				}
			}
			for _, v := range tt.rejected {
				if err := try(v); !apperr.Is(err, apperr.CodeInvalidSplitTotal) {
					t.Errorf("split sum %s: error = %v, want INVALID_SPLIT_TOTAL", v, err)
				}
			}
		})
	}
}

func TestComputeSplits_EqualExactness(t *testing.T) {
	cases := []struct {
		currency string
		amount   string
	}{
		{"JPY", "999999"},
		{"JPY", "1"},
		{"USD", "10.00"},
		{"USD", "0.01"},
		{"USD", "999999.99"},
		{"EUR", "123.45"},
		{"KWD", "100.001"},
		{"BHD", "0.007"},
	}

	for _, c := range cases {
		for _, n := range []int{1, 2, 3, 7, 13, 50, 101, 997} {
			t.Run(fmt.Sprintf("%s_%s_%d", c.currency, c.amount, n), func(t *testing.T) {
				participants := make([]string, n)
				for i := range participants {
					participants[i] = fmt.Sprintf("user-%03d", i)
				}
				splits, err := ComputeSplits(d(c.amount), c.currency, models.SplitEqual, participants, nil)
				if err != nil {
					t.Fatalf("ComputeSplits() error: %v", err)
				}
				if len(splits) != n {
					t.Fatalf("got %d splits, want %d", len(splits), n)
				}
				if !SumSplits(splits).Equal(d(c.amount)) {
					t.Errorf("sum = %s, want %s", SumSplits(splits), c.amount)
				}
				// Shares differ by at most one minor unit and never increase along participant order.
				cur, _ := LookupCurrency(c.currency)
				for i := 1; i < n; i++ {
					diff := splits[i-1].Amount.Sub(splits[i].Amount)
					if diff.IsNegative() || diff.GreaterThan(cur.MinorUnit()) {
						t.Fatalf("split[%d]=%s split[%d]=%s", i-1, splits[i-1].Amount, i, splits[i].Amount)
					}
				}
			})
		}
	}
}

func TestComputeSplits_PercentageFallback(t *testing.T) {
	splits, err := ComputeSplits(d("10"), "USD", models.SplitPercentage, []string{"a", "b", "c"}, nil)
	if err != nil {
		t.Fatalf("ComputeSplits() error: %v", err)
	}
	sum := decimal.Zero
	for _, s := range splits {
		if s.Percentage == nil {
			t.Fatalf("split for %s has no percentage", s.UserID)
		}
		sum = sum.Add(*s.Percentage)
	}
	if !sum.Equal(d("100")) {
		t.Errorf("percentages sum to %s, want 100", sum)
	}
	if !splits[0].Percentage.Equal(d("33.34")) {
		t.Errorf("first percentage = %s, want 33.34", splits[0].Percentage)
	}
}

func TestLookupCurrency(t *testing.T) {
	tests := []struct {
		code string
		exp  int32
		ok   bool
	}{
		{"usd", 2, true},
		{" JPY ", 0, true},
		{"KWD", 3, true},
		{"", 0, false},
		{"DOGE", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			cur, err := LookupCurrency(tt.code)
			if (err == nil) != tt.ok {
				t.Fatalf("LookupCurrency(%q) error = %v, want ok=%v", tt.code, err, tt.ok)
			}
			if tt.ok && cur.Exponent != tt.exp {
				t.Errorf("exponent = %d, want %d", cur.Exponent, tt.exp)
			}
		})
	}
}
