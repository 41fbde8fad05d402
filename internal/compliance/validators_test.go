package compliance_test

import (
	"context"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-pipeline/internal/assembler"
	"github.com/rezonia/invoice-pipeline/internal/compliance"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/render/xrechnung"
	"github.com/rezonia/invoice-pipeline/internal/repository/memory"
)

// subjectFor assembles orderID and renders its XML without storing anything
func subjectFor(t *testing.T, orderID string) (*model.Document, *compliance.Subject) {
	t.Helper()
	store, dir := memory.NewStore()
	memory.SeedDemo(dir)
	asm := assembler.New(store.Orders, store.Profiles, store.Invoices, assembler.WithClock(clockwork.NewFakeClockAt(now)))
	doc, err := asm.Assemble(context.Background(), orderID)
	require.NoError(t, err)
	xml, err := xrechnung.NewRenderer().Render(doc)
	require.NoError(t, err)
	return doc, &compliance.Subject{Invoice: doc.Invoice(), XML: xml, Now: now}
}

func TestRegistry(t *testing.T) {
	reg := compliance.DefaultRegistry()
	assert.Equal(t, model.AllValidationTypes(), reg.Types())

	reg.Register(compliance.NewTaxValidator([]decimal.Decimal{decimal.NewFromInt(20)}))
	assert.Len(t, reg.All(), 4, "same type replaces")
	assert.Nil(t, reg.Get(model.ValidationType("peppol")))
	assert.NotNil(t, reg.Get(model.ValidationTax))
}

func TestTaxValidator(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(inv *model.Invoice)
		passed   bool
		contains string
		warning  string
	}{
		{name: "consistent", mutate: func(*model.Invoice) {}, passed: true},
		{
			name:     "line total off",
			mutate:   func(inv *model.Invoice) { inv.LineItems[0].TotalPrice = decimal.RequireFromString("10.60") },
			contains: "line 1: total",
		},
		{
			name:     "amount differs from line sum",
			mutate:   func(inv *model.Invoice) { inv.Amount = decimal.RequireFromString("15.70") },
			contains: "line totals sum to 15.75",
		},
		{
			name:     "wrong tax",
			mutate:   func(inv *model.Invoice) { inv.TaxAmount = decimal.RequireFromString("3.00") },
			contains: "tax amount 3.00",
		},
		{
			name:     "wrong gross",
			mutate:   func(inv *model.Invoice) { inv.GrossAmount = decimal.RequireFromString("18.00") },
			contains: "gross amount 18.00",
		},
		{
			name: "unusual rate",
			mutate: func(inv *model.Invoice) {
				inv.TaxRate = decimal.NewFromInt(16)
				inv.CalculateTotals()
			},
			passed:  true,
			warning: "not a standard rate",
		},
		{
			name:     "negative rate",
			mutate:   func(inv *model.Invoice) { inv.TaxRate = decimal.NewFromInt(-1) },
			contains: "out of range",
		},
	}
	v := compliance.NewTaxValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, subject := subjectFor(t, memory.DemoOrder)
			tt.mutate(subject.Invoice)

			res, err := v.Validate(context.Background(), subject)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, res.Passed, res.ErrorMessages)
			if tt.contains != "" {
				assert.Contains(t, strings.Join(res.ErrorMessages, "\n"), tt.contains)
			}
			if tt.warning != "" {
				assert.Contains(t, strings.Join(res.WarningMessages, "\n"), tt.warning)
			}
		})
	}
}

func TestFormatValidator(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(inv *model.Invoice)
		passed   bool
		contains string
	}{
		{name: "complete", mutate: func(*model.Invoice) {}, passed: true},
		{name: "no items", mutate: func(inv *model.Invoice) { inv.LineItems = nil }, contains: "no line items"},
		{name: "bad currency", mutate: func(inv *model.Invoice) { inv.Currency = "EURO" }, contains: "ISO 4217"},
		{name: "unknown currency", mutate: func(inv *model.Invoice) { inv.Currency = "XYZ" }, contains: "ISO 4217"},
		{
			name:     "recipient city missing",
			mutate:   func(inv *model.Invoice) { inv.Address(model.EntityRecipient).City = "" },
			contains: "recipient address is incomplete: city",
		},
		{
			name:     "bad country",
			mutate:   func(inv *model.Invoice) { inv.Address(model.EntitySender).Country = "Germany" },
			contains: "sender country",
		},
		{
			name: "no recipient address",
			mutate: func(inv *model.Invoice) {
				inv.Addresses = inv.Addresses[:1]
			},
			contains: "recipient address is missing",
		},
		{
			name:     "zero quantity",
			mutate:   func(inv *model.Invoice) { inv.LineItems[1].Quantity = decimal.Zero },
			contains: "line 2: quantity must be positive",
		},
	}
	v := compliance.NewFormatValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, subject := subjectFor(t, memory.DemoOrder)
			tt.mutate(subject.Invoice)

			res, err := v.Validate(context.Background(), subject)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, res.Passed, res.ErrorMessages)
			if tt.contains != "" {
				assert.Contains(t, strings.Join(res.ErrorMessages, "\n"), tt.contains)
			}
		})
	}
}

func TestFormatValidator_EmailWarning(t *testing.T) {
	_, subject := subjectFor(t, memory.DemoOrder)
	subject.Invoice.RecipientEmail = "not-an-address"

	res, err := compliance.NewFormatValidator().Validate(context.Background(), subject)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.NotEmpty(t, res.WarningMessages)
}

func TestXRechnungValidator(t *testing.T) {
	v := compliance.NewXRechnungValidator()

	t.Run("rendered export passes", func(t *testing.T) {
		for _, order := range []string{memory.DemoOrder, memory.DemoOrderAgency, memory.DemoOrderFlatPrice} {
			_, subject := subjectFor(t, order)
			res, err := v.Validate(context.Background(), subject)
			require.NoError(t, err)
			assert.True(t, res.Passed, "%s: %v", order, res.ErrorMessages)
		}
	})

	t.Run("not xml", func(t *testing.T) {
		_, subject := subjectFor(t, memory.DemoOrder)
		subject.XML = []byte("%PDF-1.4")
		res, err := v.Validate(context.Background(), subject)
		require.NoError(t, err)
		assert.False(t, res.Passed)
	})

	t.Run("wrong root", func(t *testing.T) {
		_, subject := subjectFor(t, memory.DemoOrder)
		subject.XML = []byte(`<CreditNote xmlns="urn:x"/>`)
		res, err := v.Validate(context.Background(), subject)
		require.NoError(t, err)
		assert.Equal(t, []string{"root element is not a UBL Invoice"}, []string(res.ErrorMessages))
	})

	tests := []struct {
		name     string
		edit     func(root *etree.Element)
		contains string
	}{
		{
			name: "tax breakdown inconsistent",
			edit: func(root *etree.Element) {
				root.FindElement("./cac:TaxTotal/cac:TaxSubtotal/cbc:TaxAmount").SetText("4.00")
			},
			contains: "BR-CO-17",
		},
		{
			name: "tax total differs from breakdown",
			edit: func(root *etree.Element) {
				root.FindElement("./cac:TaxTotal/cbc:TaxAmount").SetText("1.00")
			},
			contains: "BR-CO-14",
		},
		{
			name: "line sum differs",
			edit: func(root *etree.Element) {
				root.FindElement("./cac:LegalMonetaryTotal/cbc:LineExtensionAmount").SetText("99.00")
			},
			contains: "BR-CO-10",
		},
		{
			name: "buyer reference removed",
			edit: func(root *etree.Element) {
				root.RemoveChild(root.FindElement("./cbc:BuyerReference"))
			},
			contains: "BR-DE-15",
		},
		{
			name: "foreign currency on an amount",
			edit: func(root *etree.Element) {
				root.FindElement("./cac:LegalMonetaryTotal/cbc:PayableAmount").CreateAttr("currencyID", "USD")
			},
			contains: `uses currency "USD"`,
		},
		{
			name: "non numeric amount",
			edit: func(root *etree.Element) {
				root.FindElement("./cac:LegalMonetaryTotal/cbc:TaxExclusiveAmount").SetText("fifteen")
			},
			contains: "is not a decimal",
		},
		{
			name: "no lines",
			edit: func(root *etree.Element) {
				for _, line := range root.FindElements("./cac:InvoiceLine") {
					root.RemoveChild(line)
				}
			},
			contains: "BR-16",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, subject := subjectFor(t, memory.DemoOrder)
			tree := etree.NewDocument()
			require.NoError(t, tree.ReadFromBytes(subject.XML))
			tt.edit(tree.Root())
			edited, err := tree.WriteToBytes()
			require.NoError(t, err)
			subject.XML = edited

			res, err := v.Validate(context.Background(), subject)
			require.NoError(t, err)
			assert.False(t, res.Passed)
			assert.Contains(t, strings.Join(res.ErrorMessages, "\n"), tt.contains)
		})
	}
}

func TestXRechnungValidator_ExemptNeedsReason(t *testing.T) {
	_, subject := subjectFor(t, memory.DemoOrderFlatPrice)
	tree := etree.NewDocument()
	require.NoError(t, tree.ReadFromBytes(subject.XML))
	category := tree.Root().FindElement("./cac:TaxTotal/cac:TaxSubtotal/cac:TaxCategory")
	category.RemoveChild(category.FindElement("./cbc:TaxExemptionReason"))
	edited, err := tree.WriteToBytes()
	require.NoError(t, err)
	subject.XML = edited

	res, err := compliance.NewXRechnungValidator().Validate(context.Background(), subject)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, strings.Join(res.ErrorMessages, "\n"), "BR-E-10")
}

func TestXRechnungValidator_ExportMustMatchInvoiceRow(t *testing.T) {
	doc, subject := subjectFor(t, memory.DemoOrder)

	// a self-consistent export rendered at another rate and currency
	changed := *doc
	changed.Currency = "USD"
	changed.TaxRate = decimal.NewFromInt(7)
	recalc := model.Invoice{Currency: changed.Currency, TaxRate: changed.TaxRate,
		LineItems: append([]model.InvoiceLineItem(nil), doc.LineItems...)}
	recalc.CalculateTotals()
	changed.LineItems = recalc.LineItems
	changed.Amount, changed.TaxAmount, changed.GrossAmount = recalc.Amount, recalc.TaxAmount, recalc.GrossAmount

	xml, err := xrechnung.NewRenderer().Render(&changed)
	require.NoError(t, err)
	subject.XML = xml

	res, err := compliance.NewXRechnungValidator().Validate(context.Background(), subject)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	joined := strings.Join(res.ErrorMessages, "\n")
	assert.Contains(t, joined, `export currency "USD" does not match invoice currency "EUR"`)
	assert.Contains(t, joined, "does not match invoice rate 19%")
	assert.Contains(t, joined, "export tax amount 1.10 does not match invoice 2.99")
}
