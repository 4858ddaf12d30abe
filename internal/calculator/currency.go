package calculator

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
)

// MaxAmount is the largest accepted expense or settlement amount in any currency.
var MaxAmount = decimal.RequireFromString("999999.99")

// minorUnits lists ISO 4217 currencies whose minor unit exponent is not 2.
var minorUnits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "UYI": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// twoDecimal lists the supported currencies with the default exponent of 2.
var twoDecimal = map[string]bool{
	"AED": true, "ARS": true, "AUD": true, "BGN": true, "BRL": true, "CAD": true, "CHF": true,
	"CNY": true, "COP": true, "CZK": true, "DKK": true, "EGP": true, "EUR": true, "GBP": true,
	"HKD": true, "HUF": true, "IDR": true, "ILS": true, "INR": true, "KES": true, "MAD": true,
	"MXN": true, "MYR": true, "NGN": true, "NOK": true, "NZD": true, "PEN": true, "PHP": true,
	"PKR": true, "PLN": true, "RON": true, "RUB": true, "SAR": true, "SEK": true, "SGD": true,
	"THB": true, "TRY": true, "TWD": true, "UAH": true, "USD": true, "ZAR": true,
}

// Currency describes the decimal precision of a currency code.
type Currency struct {
	Code string
	// Exponent is the number of decimal places of the minor unit.
	Exponent int32
}

// LookupCurrency normalizes code and returns its precision.
func LookupCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if exp, ok := minorUnits[code]; ok {
		return Currency{Code: code, Exponent: exp}, nil
	}
	if twoDecimal[code] {
		return Currency{Code: code, Exponent: 2}, nil
	}
	return Currency{}, apperr.New(apperr.CodeInvalidCurrency, "unsupported currency %q", code).WithField("currency")
}

// MinorUnit returns the smallest representable amount, which is also the
// tolerance used when reconciling split totals.
func (c Currency) MinorUnit() decimal.Decimal {
	return decimal.New(1, -c.Exponent)
}

// ToMinor converts an amount already at this precision to integer minor units.
func (c Currency) ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(c.Exponent).IntPart()
}

// FromMinor converts integer minor units back to a decimal amount.
func (c Currency) FromMinor(units int64) decimal.Decimal {
	return decimal.New(units, -c.Exponent)
}

// HasPrecision reports whether amount has no more decimal places than the currency allows.
func (c Currency) HasPrecision(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(c.Exponent))
}

// ValidateAmount checks that amount is positive, below MaxAmount and at the
// currency's precision.
func ValidateAmount(amount decimal.Decimal, currency string) (Currency, error) {
	cur, err := LookupCurrency(currency)
	if err != nil {
		return Currency{}, err
	}
	if !amount.IsPositive() {
		return Currency{}, apperr.New(apperr.CodeInvalidAmount, "amount must be greater than zero").WithField("amount")
	}
	if amount.GreaterThan(MaxAmount) {
		return Currency{}, apperr.New(apperr.CodeInvalidAmount, "amount must not exceed %s", MaxAmount).WithField("amount")
	}
	if !cur.HasPrecision(amount) {
		return Currency{}, apperr.New(apperr.CodeInvalidAmount,
			"amount %s has more than %d decimal places for %s", amount, cur.Exponent, cur.Code).WithField("amount")
	}
	return cur, nil
}
