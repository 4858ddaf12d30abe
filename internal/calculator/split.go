package calculator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)
	// percentageTolerance is the accepted deviation of a percentage total from 100.
	percentageTolerance = decimal.New(1, -2)
)

// ComputeSplits computes each participant's share of amount.
//
// Equal splits are always derived. Exact and percentage splits validate
// userSplits when supplied and fall back to an equal distribution when userSplits
// is nil. The returned splits follow participant order and always sum to amount
// exactly: an exact total that is off by at most one minor unit is accepted and the
// residual is moved onto the largest share.
func ComputeSplits(amount decimal.Decimal, currency string, splitType models.SplitType, participants []string, userSplits []models.Split) ([]models.Split, error) {
	cur, err := ValidateAmount(amount, currency)
	if err != nil {
		return nil, err
	}
	if !splitType.Valid() {
		return nil, apperr.New(apperr.CodeInvalidArgument, "unknown split type %q", splitType).WithField("splitType")
	}
	if err := validateParticipants(participants); err != nil {
		return nil, err
	}

	switch splitType {
	case models.SplitExact:
		if userSplits == nil {
			return equalSplits(amount, cur, participants), nil
		}
		return exactSplits(amount, cur, participants, userSplits)
	case models.SplitPercentage:
		if userSplits == nil {
			return equalPercentageSplits(amount, cur, participants), nil
		}
		return percentageSplits(amount, cur, participants, userSplits)
	default:
		return equalSplits(amount, cur, participants), nil
	}
}

// SumSplits returns the sum of the split amounts.
func SumSplits(splits []models.Split) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range splits {
		sum = sum.Add(s.Amount)
	}
	return sum
}

func validateParticipants(participants []string) error {
	if len(participants) == 0 {
		return apperr.New(apperr.CodeInvalidSplits, "at least one participant is required").WithField("participants")
	}
	seen := make(map[string]bool, len(participants))
	for i, p := range participants {
		if p == "" {
			return apperr.New(apperr.CodeInvalidSplits, "participant must not be empty").
				WithField(fmt.Sprintf("participants[%d]", i))
		}
		if seen[p] {
			return apperr.New(apperr.CodeInvalidSplits, "participant %q is listed more than once", p).
				WithField(fmt.Sprintf("participants[%d]", i))
		}
		seen[p] = true
	}
	return nil
}

// equalSplits divides amount in minor units and hands the remainder out one unit
// at a time starting with the first participant.
func equalSplits(amount decimal.Decimal, cur Currency, participants []string) []models.Split {
	units := cur.ToMinor(amount)
	n := int64(len(participants))
	base, rem := units/n, units%n

	splits := make([]models.Split, len(participants))
	for i, p := range participants {
		u := base
		if int64(i) < rem {
			u++
		}
		splits[i] = models.Split{UserID: p, Amount: cur.FromMinor(u)}
	}
	return splits
}

// equalPercentageSplits is the percentage fallback: equal amounts with equal
// percentages at two decimals summing to exactly 100.
func equalPercentageSplits(amount decimal.Decimal, cur Currency, participants []string) []models.Split {
	splits := equalSplits(amount, cur, participants)
	const basisPoints = 10000
	n := int64(len(participants))
	base, rem := basisPoints/n, basisPoints%n
	for i := range splits {
		bp := base
		if int64(i) < rem {
			bp++
		}
		pct := decimal.New(bp, -2)
		splits[i].Percentage = &pct
	}
	return splits
}

// matchSplits checks the structure of user-supplied splits and returns them in
// participant order.
func matchSplits(participants []string, userSplits []models.Split) ([]models.Split, error) {
	isParticipant := make(map[string]bool, len(participants))
	for _, p := range participants {
		isParticipant[p] = true
	}

	byUser := make(map[string]models.Split, len(userSplits))
	for i, s := range userSplits {
		if _, dup := byUser[s.UserID]; dup {
			return nil, apperr.New(apperr.CodeDuplicateSplitUsers, "user %q has more than one split", s.UserID).
				WithField(fmt.Sprintf("splits[%d].userId", i))
		}
		if !isParticipant[s.UserID] {
			return nil, apperr.New(apperr.CodeInvalidSplitUser, "split user %q is not a participant", s.UserID).
				WithField(fmt.Sprintf("splits[%d].userId", i))
		}
		byUser[s.UserID] = s
	}

	ordered := make([]models.Split, len(participants))
	for i, p := range participants {
		s, ok := byUser[p]
		if !ok {
			return nil, apperr.New(apperr.CodeInvalidSplits, "participant %q has no split", p).WithField("splits")
		}
		ordered[i] = s
	}
	return ordered, nil
}

func exactSplits(amount decimal.Decimal, cur Currency, participants []string, userSplits []models.Split) ([]models.Split, error) {
	ordered, err := matchSplits(participants, userSplits)
	if err != nil {
		return nil, err
	}

	sum := decimal.Zero
	for i, s := range ordered {
		field := fmt.Sprintf("splits[%d].amount", i)
		if s.Amount.IsNegative() {
			return nil, apperr.New(apperr.CodeInvalidAmount, "split amount must not be negative").WithField(field)
		}
		if !cur.HasPrecision(s.Amount) {
			return nil, apperr.New(apperr.CodeInvalidAmount,
				"split amount %s has more than %d decimal places", s.Amount, cur.Exponent).WithField(field)
		}
		sum = sum.Add(s.Amount)
	}

	diff := sum.Sub(amount)
	if diff.Abs().GreaterThan(cur.MinorUnit()) {
		return nil, apperr.New(apperr.CodeInvalidSplitTotal,
			"split amounts add up to %s, expected %s", sum, amount).WithField("splits")
	}

	out := make([]models.Split, len(ordered))
	for i, s := range ordered {
		out[i] = models.Split{UserID: s.UserID, Amount: s.Amount}
	}
	if !diff.IsZero() {
		largest := 0
		for i := range out {
			if out[i].Amount.GreaterThan(out[largest].Amount) {
				largest = i
			}
		}
		out[largest].Amount = out[largest].Amount.Sub(diff)
	}
	return out, nil
}

func percentageSplits(amount decimal.Decimal, cur Currency, participants []string, userSplits []models.Split) ([]models.Split, error) {
	ordered, err := matchSplits(participants, userSplits)
	if err != nil {
		return nil, err
	}

	sumPct := decimal.Zero
	for i, s := range ordered {
		field := fmt.Sprintf("splits[%d].percentage", i)
		if s.Percentage == nil {
			return nil, apperr.New(apperr.CodeInvalidSplits, "percentage is required").WithField(field)
		}
		if !s.Percentage.IsPositive() || s.Percentage.GreaterThan(hundred) {
			return nil, apperr.New(apperr.CodeInvalidSplits,
				"percentage %s must be greater than 0 and at most 100", s.Percentage).WithField(field)
		}
		sumPct = sumPct.Add(*s.Percentage)
	}
	if sumPct.Sub(hundred).Abs().GreaterThan(percentageTolerance) {
		return nil, apperr.New(apperr.CodeInvalidPercentageTotal,
			"percentages add up to %s, expected 100", sumPct).WithField("splits")
	}

	// Largest remainder allocation over minor units. Dividing by the actual
	// percentage total keeps the floored shares at or below the amount.
	total := decimal.NewFromInt(cur.ToMinor(amount))
	units := make([]int64, len(ordered))
	remainders := make([]decimal.Decimal, len(ordered))
	allocated := int64(0)
	for i, s := range ordered {
		q, r := total.Mul(*s.Percentage).QuoRem(sumPct, 0)
		units[i] = q.IntPart()
		remainders[i] = r
		allocated += units[i]
	}

	order := make([]int, len(ordered))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].GreaterThan(remainders[order[b]])
	})
	for k := int64(0); k < total.IntPart()-allocated; k++ {
		units[order[k]]++
	}

	out := make([]models.Split, len(ordered))
	for i, s := range ordered {
		pct := *s.Percentage
		out[i] = models.Split{UserID: s.UserID, Amount: cur.FromMinor(units[i]), Percentage: &pct}
	}
	return out, nil
}
