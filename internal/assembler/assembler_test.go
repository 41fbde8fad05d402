package assembler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-pipeline/internal/assembler"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
	"github.com/rezonia/invoice-pipeline/internal/repository/memory"
)

var issued = time.Date(2026, 10, 2, 9, 15, 30, 0, time.UTC)

func newAssembler(t *testing.T) (*assembler.Assembler, *repository.Store) {
	t.Helper()
	store, dir := memory.NewStore()
	memory.SeedDemo(dir)
	a := assembler.New(store.Orders, store.Profiles, store.Invoices,
		assembler.WithClock(clockwork.NewFakeClockAt(issued)))
	return a, store
}

func TestAssemble_TwoLineItems(t *testing.T) {
	a, _ := newAssembler(t)

	doc, err := a.Assemble(context.Background(), memory.DemoOrder)
	require.NoError(t, err)

	require.Len(t, doc.LineItems, 2)
	assert.Equal(t, 1, doc.LineItems[0].Position)
	assert.Equal(t, "Wartezeit", doc.LineItems[1].Description)
	assert.True(t, doc.Amount.Equal(decimal.RequireFromString("15.75")), "amount %s", doc.Amount)
	assert.True(t, doc.TaxRate.Equal(decimal.NewFromInt(19)))
	assert.True(t, doc.TaxAmount.Equal(decimal.RequireFromString("2.99")), "tax %s", doc.TaxAmount)
	assert.True(t, doc.GrossAmount.Equal(decimal.RequireFromString("18.74")), "gross %s", doc.GrossAmount)

	assert.Equal(t, "EUR", doc.Currency)
	assert.Equal(t, issued, doc.IssueDate)
	assert.Equal(t, time.Date(2026, 10, 1, 14, 30, 0, 0, time.UTC), doc.DeliveryDate)
	assert.Equal(t, assembler.FormatInvoiceNumber(doc.InvoiceID, issued), doc.InvoiceNumber)
	assert.Regexp(t, `^RE-20261002-[0-9A-F]{8}$`, doc.InvoiceNumber)
	assert.Equal(t, "S", doc.TaxCategory())
	assert.Empty(t, doc.Note)

	require.NotNil(t, doc.Sender.Address)
	assert.Equal(t, "Weber Kurierdienst", doc.Sender.Address.CompanyName)
	assert.Equal(t, "DE123456789", doc.Sender.Address.TaxID)
	require.NotNil(t, doc.Recipient.Address)
	assert.Equal(t, "Muster Handel GmbH", doc.Recipient.Name)
	assert.Equal(t, "20095 Hamburg", doc.Recipient.Address.CityLine())
	assert.Equal(t, model.EntityRecipient, doc.Recipient.Address.EntityType)
}

func TestAssemble_FlatPriceSmallBusiness(t *testing.T) {
	a, _ := newAssembler(t)

	doc, err := a.Assemble(context.Background(), memory.DemoOrderFlatPrice)
	require.NoError(t, err)

	require.Len(t, doc.LineItems, 1)
	assert.Equal(t, "Transportleistung Berlin - Potsdam", doc.LineItems[0].Description)
	assert.Equal(t, assembler.DefaultUnitOfMeasure, doc.LineItems[0].UnitOfMeasure)
	assert.True(t, doc.Amount.Equal(decimal.RequireFromString("42.00")))
	assert.True(t, doc.TaxAmount.IsZero())
	assert.Equal(t, "E", doc.TaxCategory())
	assert.Equal(t, assembler.ExemptionNote, doc.Note)
}

func TestAssemble_Errors(t *testing.T) {
	a, _ := newAssembler(t)

	tests := []struct {
		name    string
		orderID string
		field   string
	}{
		{"missing order", "order-404", "order"},
		{"missing sender", memory.DemoOrderNoSender, "sender"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := a.Assemble(context.Background(), tt.orderID)
			require.Error(t, err)
			assert.Nil(t, doc)

			var asmErr *model.AssemblyError
			require.True(t, errors.As(err, &asmErr))
			assert.Equal(t, tt.field, asmErr.Field)
			assert.Equal(t, tt.orderID, asmErr.OrderID)
		})
	}
}

func TestAssemble_UnknownSenderProfile(t *testing.T) {
	store, dir := memory.NewStore()
	memory.SeedDemo(dir)
	dir.PutOrder(model.Order{ID: "order-x", SenderID: "ghost", Currency: "EUR", Price: decimal.NewFromInt(5)})
	a := assembler.New(store.Orders, store.Profiles, store.Invoices)

	_, err := a.Assemble(context.Background(), "order-x")
	var asmErr *model.AssemblyError
	require.ErrorAs(t, err, &asmErr)
	assert.Equal(t, "sender", asmErr.Field)
}

func TestAssemble_MissingRecipientIsTolerated(t *testing.T) {
	store, dir := memory.NewStore()
	memory.SeedDemo(dir)
	dir.PutOrder(model.Order{ID: "order-y", SenderID: "driver-1", RecipientID: "ghost", Price: decimal.NewFromInt(5)})
	a := assembler.New(store.Orders, store.Profiles, store.Invoices)

	doc, err := a.Assemble(context.Background(), "order-y")
	require.NoError(t, err)
	assert.Equal(t, "ghost", doc.Recipient.ID)
	assert.Nil(t, doc.Recipient.Address)
	assert.Equal(t, assembler.DefaultCurrency, doc.Currency)
}

func TestAssemble_ReusesExistingInvoice(t *testing.T) {
	a, store := newAssembler(t)
	ctx := context.Background()

	first, err := a.Assemble(ctx, memory.DemoOrder)
	require.NoError(t, err)
	_, created, err := store.Invoices.CreateIfAbsent(ctx, first.Invoice())
	require.NoError(t, err)
	require.True(t, created)

	later := assembler.New(store.Orders, store.Profiles, store.Invoices,
		assembler.WithClock(clockwork.NewFakeClockAt(issued.Add(72*time.Hour))))
	second, err := later.Assemble(ctx, memory.DemoOrder)
	require.NoError(t, err)

	assert.Equal(t, first.InvoiceID, second.InvoiceID)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
	assert.Equal(t, first.IssueDate, second.IssueDate)
	assert.True(t, first.GrossAmount.Equal(second.GrossAmount))
	require.Len(t, second.LineItems, 2)
	assert.Equal(t, first.InvoiceID, second.LineItems[0].InvoiceID)
}

func TestAssemble_ExistingInvoiceIsFrozen(t *testing.T) {
	store, dir := memory.NewStore()
	memory.SeedDemo(dir)
	ctx := context.Background()
	a := assembler.New(store.Orders, store.Profiles, store.Invoices,
		assembler.WithClock(clockwork.NewFakeClockAt(issued)))

	first, err := a.Assemble(ctx, memory.DemoOrder)
	require.NoError(t, err)
	_, _, err = store.Invoices.CreateIfAbsent(ctx, first.Invoice())
	require.NoError(t, err)

	order, err := store.Orders.GetOrder(ctx, memory.DemoOrder)
	require.NoError(t, err)
	reduced := decimal.NewFromInt(7)
	order.TaxRate = &reduced
	order.Currency = "usd"
	order.BuyerReference = "PO-4711"
	completed := issued.Add(48 * time.Hour)
	order.CompletedAt = &completed
	dir.PutOrder(*order)
	dir.PutProfile(model.Profile{
		ID: "driver-1", Name: "Jonas Weber", CompanyName: "Weber Logistik",
		Email: "info@weber-logistik.de", Phone: "+4930999999", TaxID: "DE123456789",
		Street: "Neue Straße", StreetNumber: "9", PostalCode: "10117", City: "Berlin", Country: "DE",
	})

	second, err := a.Assemble(ctx, memory.DemoOrder)
	require.NoError(t, err)

	assert.Equal(t, "EUR", second.Currency)
	assert.True(t, second.TaxRate.Equal(decimal.NewFromInt(19)))
	assert.True(t, second.Amount.Equal(first.Amount))
	assert.True(t, second.TaxAmount.Equal(first.TaxAmount))
	assert.True(t, second.GrossAmount.Equal(first.GrossAmount))
	assert.Equal(t, first.BuyerRef, second.BuyerRef)
	assert.Equal(t, first.DeliveryDate, second.DeliveryDate)

	assert.Equal(t, "Weber Kurierdienst", second.Sender.Name)
	assert.Equal(t, "jonas@weber-kurier.de", second.Sender.Email)
	assert.Equal(t, "+4915112345678", second.Sender.Phone)
	require.NotNil(t, second.Sender.Address)
	assert.Equal(t, "Hauptstraße", second.Sender.Address.Street)
	assert.Equal(t, "Muster Handel GmbH", second.Recipient.Name)
	assert.Equal(t, "einkauf@muster-handel.de", second.Recipient.Email)
}

func TestAssemble_ExistingInvoiceSurvivesDeletedProfile(t *testing.T) {
	store, dir := memory.NewStore()
	memory.SeedDemo(dir)
	ctx := context.Background()
	a := assembler.New(store.Orders, store.Profiles, store.Invoices)

	first, err := a.Assemble(ctx, memory.DemoOrder)
	require.NoError(t, err)
	_, _, err = store.Invoices.CreateIfAbsent(ctx, first.Invoice())
	require.NoError(t, err)

	order, err := store.Orders.GetOrder(ctx, memory.DemoOrder)
	require.NoError(t, err)
	order.SenderID = "ghost"
	dir.PutOrder(*order)

	second, err := a.Assemble(ctx, memory.DemoOrder)
	require.NoError(t, err)
	assert.Equal(t, first.Sender.ID, second.Sender.ID)
	assert.Equal(t, first.Sender.Name, second.Sender.Name)
}

func TestFormatInvoiceNumber(t *testing.T) {
	id := uuid.MustParse("3f2a9c10-55aa-4bcd-8e21-0123456789ab")
	got := assembler.FormatInvoiceNumber(id, time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, "RE-20260105-3F2A9C10", got)
}
