package xrechnung_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-pipeline/internal/assembler"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/render/xrechnung"
	"github.com/rezonia/invoice-pipeline/internal/repository/memory"
)

func demoDocument(t *testing.T, orderID string) *model.Document {
	t.Helper()
	store, dir := memory.NewStore()
	memory.SeedDemo(dir)
	a := assembler.New(store.Orders, store.Profiles, store.Invoices,
		assembler.WithClock(clockwork.NewFakeClockAt(time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC))))
	doc, err := a.Assemble(context.Background(), orderID)
	require.NoError(t, err)
	return doc
}

func parse(t *testing.T, raw []byte) *etree.Element {
	t.Helper()
	tree := etree.NewDocument()
	require.NoError(t, tree.ReadFromBytes(raw))
	root := tree.Root()
	require.NotNil(t, root)
	return root
}

func TestRender_Structure(t *testing.T) {
	doc := demoDocument(t, memory.DemoOrder)

	out, err := xrechnung.NewRenderer().Render(doc)
	require.NoError(t, err)
	root := parse(t, out)

	assert.Equal(t, "Invoice", root.Tag)
	assert.Equal(t, xrechnung.CustomizationID, root.FindElement("./cbc:CustomizationID").Text())
	assert.Equal(t, doc.InvoiceNumber, root.FindElement("./cbc:ID").Text())
	assert.Equal(t, "2026-10-02", root.FindElement("./cbc:IssueDate").Text())
	assert.Equal(t, "EUR", root.FindElement("./cbc:DocumentCurrencyCode").Text())
	assert.Equal(t, "2026-10-01", root.FindElement("./cac:Delivery/cbc:ActualDeliveryDate").Text())

	seller := root.FindElement("./cac:AccountingSupplierParty/cac:Party")
	require.NotNil(t, seller)
	assert.Equal(t, "DE123456789", seller.FindElement("./cac:PartyTaxScheme/cbc:CompanyID").Text())
	assert.Equal(t, "Hauptstraße 5", seller.FindElement("./cac:PostalAddress/cbc:StreetName").Text())

	buyer := root.FindElement("./cac:AccountingCustomerParty/cac:Party")
	require.NotNil(t, buyer)
	assert.Equal(t, "DE987654321", buyer.FindElement("./cac:PartyTaxScheme/cbc:CompanyID").Text())

	lines := root.FindElements("./cac:InvoiceLine")
	require.Len(t, lines, 2)
	assert.Equal(t, "10.50", lines[0].FindElement("./cbc:LineExtensionAmount").Text())
	assert.Equal(t, "C62", lines[0].FindElement("./cbc:InvoicedQuantity").SelectAttrValue("unitCode", ""))

	sub := root.FindElement("./cac:TaxTotal/cac:TaxSubtotal")
	require.NotNil(t, sub)
	assert.Equal(t, "15.75", sub.FindElement("./cbc:TaxableAmount").Text())
	assert.Equal(t, "2.99", sub.FindElement("./cbc:TaxAmount").Text())
	assert.Equal(t, "S", sub.FindElement("./cac:TaxCategory/cbc:ID").Text())
	assert.Equal(t, "19", sub.FindElement("./cac:TaxCategory/cbc:Percent").Text())

	payable := root.FindElement("./cac:LegalMonetaryTotal/cbc:PayableAmount")
	assert.Equal(t, "18.74", payable.Text())
	assert.Equal(t, "EUR", payable.SelectAttrValue("currencyID", ""))
}

func TestRender_DecimalAmountsHaveNoFloatArtifacts(t *testing.T) {
	doc := demoDocument(t, memory.DemoOrder)
	doc.LineItems = []model.InvoiceLineItem{{
		Position: 1, Description: "Teilstrecke", UnitOfMeasure: "KMT",
		Quantity: decimal.RequireFromString("3"), UnitPrice: decimal.RequireFromString("0.1"),
		TotalPrice: decimal.RequireFromString("0.30"),
	}}
	doc.Amount = decimal.RequireFromString("0.30")
	doc.TaxAmount = decimal.RequireFromString("0.06")
	doc.GrossAmount = decimal.RequireFromString("0.36")

	out, err := xrechnung.NewRenderer().Render(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), `<cbc:LineExtensionAmount currencyID="EUR">0.30</cbc:LineExtensionAmount>`)
	assert.NotContains(t, string(out), "0.30000000000000004")
}

func TestRender_ExemptInvoiceCarriesReason(t *testing.T) {
	doc := demoDocument(t, memory.DemoOrderFlatPrice)

	out, err := xrechnung.NewRenderer().Render(doc)
	require.NoError(t, err)
	root := parse(t, out)

	category := root.FindElement("./cac:TaxTotal/cac:TaxSubtotal/cac:TaxCategory")
	require.NotNil(t, category)
	assert.Equal(t, "E", category.FindElement("./cbc:ID").Text())
	assert.Equal(t, assembler.ExemptionNote, category.FindElement("./cbc:TaxExemptionReason").Text())
}

func TestRender_MissingRecipientTaxIDStillRenders(t *testing.T) {
	doc := demoDocument(t, memory.DemoOrderNoTaxID)

	out, err := xrechnung.NewRenderer().Render(doc)
	require.NoError(t, err)
	root := parse(t, out)
	assert.Nil(t, root.FindElement("./cac:AccountingCustomerParty/cac:Party/cac:PartyTaxScheme"))
}

func TestRender_IsDeterministic(t *testing.T) {
	doc := demoDocument(t, memory.DemoOrder)
	r := xrechnung.NewRenderer()

	first, err := r.Render(doc)
	require.NoError(t, err)
	second, err := r.Render(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Document)
		field  string
	}{
		{"no recipient address", func(d *model.Document) { d.Recipient.Address = nil }, "recipient.address"},
		{"no sender address", func(d *model.Document) { d.Sender.Address = nil }, "sender.address"},
		{"recipient without postal code", func(d *model.Document) { d.Recipient.Address.PostalCode = "" }, "recipient.address"},
		{"no items", func(d *model.Document) { d.LineItems = nil }, "line_items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := demoDocument(t, memory.DemoOrder)
			tt.mutate(doc)

			_, err := xrechnung.NewRenderer().Render(doc)
			var renderErr *model.RenderError
			require.True(t, errors.As(err, &renderErr))
			assert.Equal(t, "xml", renderErr.Format)
			assert.Equal(t, tt.field, renderErr.Field)
		})
	}
}
