package compliance

import (
	"context"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/invoice-pipeline/internal/decimal"
	"github.com/rezonia/invoice-pipeline/internal/model"
)

// German VAT rates: standard, reduced, exempt
var defaultKnownRates = []decimal.Decimal{
	decimal.NewFromInt(19),
	decimal.NewFromInt(7),
	decimal.Zero,
}

// TaxValidator checks the invoice arithmetic
type TaxValidator struct {
	knownRates []decimal.Decimal
}

// NewTaxValidator creates a tax validator. Rates outside knownRates produce a
// warning; nil selects the German rates.
func NewTaxValidator(knownRates []decimal.Decimal) *TaxValidator {
	if len(knownRates) == 0 {
		knownRates = defaultKnownRates
	}
	return &TaxValidator{knownRates: knownRates}
}

func (v *TaxValidator) Type() model.ValidationType { return model.ValidationTax }

func (v *TaxValidator) Version() string { return "1.0.0" }

func (v *TaxValidator) Validate(ctx context.Context, s *Subject) (*model.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv := s.Invoice
	cur := inv.Currency
	result := model.NewValidationResult(inv.ID, v.Type(), v.Version())

	totals := make([]decimal.Decimal, 0, len(inv.LineItems))
	for _, item := range inv.LineItems {
		expected := money.LineTotal(item.Quantity, item.UnitPrice, cur)
		if !money.WithinTolerance(item.TotalPrice, expected, cur) {
			result.AddError("line %d: total %s does not equal %s x %s = %s",
				item.Position, item.TotalPrice, item.Quantity, item.UnitPrice, money.Fixed(expected, cur))
		}
		if item.UnitPrice.IsNegative() {
			result.AddError("line %d: unit price is negative", item.Position)
		}
		totals = append(totals, item.TotalPrice)
	}

	sum := money.Sum(totals)
	if !money.WithinTolerance(sum, inv.Amount, cur) {
		result.AddError("line totals sum to %s but invoice amount is %s", money.Fixed(sum, cur), money.Fixed(inv.Amount, cur))
	}

	if inv.TaxRate.IsNegative() || inv.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		result.AddError("tax rate %s%% is out of range", inv.TaxRate)
	} else if !v.known(inv.TaxRate) {
		result.AddWarning("tax rate %s%% is not a standard rate", inv.TaxRate)
	}

	expectedTax := money.CalculateTax(inv.Amount, inv.TaxRate, cur)
	if !money.WithinTolerance(inv.TaxAmount, expectedTax, cur) {
		result.AddError("tax amount %s does not equal %s%% of %s = %s",
			money.Fixed(inv.TaxAmount, cur), inv.TaxRate, money.Fixed(inv.Amount, cur), money.Fixed(expectedTax, cur))
	}
	if gross := inv.Amount.Add(inv.TaxAmount); !money.WithinTolerance(inv.GrossAmount, gross, cur) {
		result.AddError("gross amount %s does not equal net plus tax = %s", money.Fixed(inv.GrossAmount, cur), money.Fixed(gross, cur))
	}
	if !money.IsPositive(inv.Amount) {
		result.AddWarning("invoice amount is not positive")
	}

	return result, nil
}

func (v *TaxValidator) known(rate decimal.Decimal) bool {
	for _, r := range v.knownRates {
		if r.Equal(rate) {
			return true
		}
	}
	return false
}
