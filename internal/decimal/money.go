package decimal

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Zero is decimal zero
var Zero = decimal.Zero

// DefaultScale is used for currencies unknown to the ISO 4217 table
const DefaultScale int32 = 2

// FromInt creates decimal from int
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// FromString parses decimal from string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses decimal from string, panics on error
func MustFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseCurrency returns the ISO 4217 unit for code
func ParseCurrency(code string) (currency.Unit, error) {
	return currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
}

// MinorUnits returns the number of decimal places of the currency's minor unit.
// EUR -> 2, JPY -> 0
func MinorUnits(code string) int32 {
	unit, err := ParseCurrency(code)
	if err != nil {
		return DefaultScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Round rounds to the currency's minor unit (half away from zero)
func Round(d decimal.Decimal, code string) decimal.Decimal {
	return d.Round(MinorUnits(code))
}

// LineTotal computes quantity * unitPrice rounded to the minor unit
func LineTotal(quantity, unitPrice decimal.Decimal, code string) decimal.Decimal {
	return Round(quantity.Mul(unitPrice), code)
}

// CalculateTax computes amount * (ratePercent/100) rounded to the minor unit
func CalculateTax(amount, ratePercent decimal.Decimal, code string) decimal.Decimal {
	if ratePercent.IsZero() {
		return Zero
	}
	hundred := decimal.NewFromInt(100)
	return Round(amount.Mul(ratePercent).Div(hundred), code)
}

// Sum sums a slice of decimals
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// Tolerance is one minor unit of the currency
func Tolerance(code string) decimal.Decimal {
	return decimal.New(1, -MinorUnits(code))
}

// WithinTolerance reports whether a and b differ by less than one minor unit
func WithinTolerance(a, b decimal.Decimal, code string) bool {
	return a.Sub(b).Abs().LessThan(Tolerance(code))
}

// Fixed renders d with exactly the currency's minor-unit places, no float conversion
func Fixed(d decimal.Decimal, code string) string {
	return d.StringFixed(MinorUnits(code))
}

// Format renders an amount for humans: "1.234,50 EUR" (German grouping)
func Format(d decimal.Decimal, code string) string {
	raw := Fixed(d, code)
	negative := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	intPart, fracPart, _ := strings.Cut(raw, ".")
	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}

	out := grouped.String()
	if fracPart != "" {
		out += "," + fracPart
	}
	if negative {
		out = "-" + out
	}
	return out + " " + strings.ToUpper(code)
}

// IsPositive returns true if decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}
