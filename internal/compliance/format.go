package compliance

import (
	"context"
	"net/mail"
	"strings"

	"golang.org/x/text/language"

	money "github.com/rezonia/invoice-pipeline/internal/decimal"
	"github.com/rezonia/invoice-pipeline/internal/model"
)

// FormatValidator checks generic structural sanity of the invoice row
type FormatValidator struct{}

// NewFormatValidator creates a format validator
func NewFormatValidator() *FormatValidator {
	return &FormatValidator{}
}

func (v *FormatValidator) Type() model.ValidationType { return model.ValidationFormat }

func (v *FormatValidator) Version() string { return "1.0.0" }

func (v *FormatValidator) Validate(ctx context.Context, s *Subject) (*model.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv := s.Invoice
	result := model.NewValidationResult(inv.ID, v.Type(), v.Version())

	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		result.AddError("invoice number is empty")
	}
	if len(inv.LineItems) == 0 {
		result.AddError("invoice has no line items")
	}
	for _, item := range inv.LineItems {
		if strings.TrimSpace(item.Description) == "" {
			result.AddError("line %d: description is empty", item.Position)
		}
		if !money.IsPositive(item.Quantity) {
			result.AddError("line %d: quantity must be positive, got %s", item.Position, item.Quantity)
		}
		if strings.TrimSpace(item.UnitOfMeasure) == "" {
			result.AddWarning("line %d: unit of measure is empty", item.Position)
		}
	}

	if _, err := money.ParseCurrency(inv.Currency); err != nil || len(inv.Currency) != 3 {
		result.AddError("currency %q is not a valid ISO 4217 code", inv.Currency)
	}

	checkAddress(result, inv.Address(model.EntitySender), "sender")
	checkAddress(result, inv.Address(model.EntityRecipient), "recipient")

	if inv.RecipientEmail == "" {
		result.AddWarning("recipient has no email address")
	} else if _, err := mail.ParseAddress(inv.RecipientEmail); err != nil {
		result.AddWarning("recipient email %q is not a valid address", inv.RecipientEmail)
	}

	return result, nil
}

func checkAddress(result *model.ValidationResult, addr *model.InvoiceAddress, role string) {
	if addr == nil {
		result.AddError("%s address is missing", role)
		return
	}
	if missing := addr.MissingFields(); len(missing) > 0 {
		result.AddError("%s address is incomplete: %s", role, strings.Join(missing, ", "))
	}
	if addr.Country != "" {
		region, err := language.ParseRegion(addr.Country)
		if err != nil || len(addr.Country) != 2 || !region.IsCountry() {
			result.AddError("%s country %q is not an ISO 3166 alpha-2 code", role, addr.Country)
		}
	}
}
