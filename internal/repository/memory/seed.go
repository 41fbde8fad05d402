package memory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

// Demo order ids seeded by SeedDemo
const (
	DemoOrder          = "order-1001"
	DemoOrderNoTaxID   = "order-1002"
	DemoOrderAgency    = "order-1003"
	DemoOrderNoSender  = "order-1004"
	DemoOrderFlatPrice = "order-1005"
)

// SeedDemo fills the directory with a small marketplace: one courier, three
// customers (one without tax id, one public authority) and five orders.
func SeedDemo(d *Directory) {
	completed := time.Date(2026, 10, 1, 14, 30, 0, 0, time.UTC)
	zero := decimal.Zero

	d.PutProfile(model.Profile{
		ID: "driver-1", Name: "Jonas Weber", CompanyName: "Weber Kurierdienst",
		Email: "jonas@weber-kurier.de", Phone: "+4915112345678", TaxID: "DE123456789",
		Street: "Hauptstraße", StreetNumber: "5", PostalCode: "10115", City: "Berlin", Country: "DE",
	})
	d.PutProfile(model.Profile{
		ID: "customer-1", Name: "Erika Muster", CompanyName: "Muster Handel GmbH",
		Email: "einkauf@muster-handel.de", Phone: "+49401234567", TaxID: "DE987654321",
		Street: "Marktplatz", StreetNumber: "1", PostalCode: "20095", City: "Hamburg", Country: "DE",
	})
	d.PutProfile(model.Profile{
		ID: "customer-2", Name: "Paul Privat",
		Email: "paul@gmail.com", Phone: "+4917612345678",
		Street: "Lindenweg", StreetNumber: "12a", PostalCode: "80331", City: "München", Country: "DE",
	})
	d.PutProfile(model.Profile{
		ID: "agency-1", Name: "Poststelle", CompanyName: "Bezirksamt Hamburg-Mitte",
		Email: "amt@hamburg.de", TaxID: "DE811111111",
		Street: "Caffamacherreihe", StreetNumber: "1-3", PostalCode: "20355", City: "Hamburg", Country: "DE",
	})

	d.PutOrder(model.Order{
		ID: DemoOrder, SenderID: "driver-1", RecipientID: "customer-1", Status: "completed",
		Currency: "EUR", PickupCity: "Berlin", DropoffCity: "Hamburg", CompletedAt: &completed,
		Items: []model.OrderItem{
			{ID: "item-1", OrderID: DemoOrder, Description: "Transport Berlin - Hamburg", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("10.50"), UnitOfMeasure: "C62"},
			{ID: "item-2", OrderID: DemoOrder, Description: "Wartezeit", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("5.25"), UnitOfMeasure: "C62"},
		},
	})
	d.PutOrder(model.Order{
		ID: DemoOrderNoTaxID, SenderID: "driver-1", RecipientID: "customer-2", Status: "completed",
		Currency: "EUR", Price: decimal.RequireFromString("25.00"), PickupCity: "Berlin", DropoffCity: "München",
		CompletedAt: &completed,
	})
	d.PutOrder(model.Order{
		ID: DemoOrderAgency, SenderID: "driver-1", RecipientID: "agency-1", Status: "completed",
		Currency: "EUR", Price: decimal.RequireFromString("89.90"), PickupCity: "Hamburg", DropoffCity: "Hamburg",
		BuyerReference: "02000000-HH001-42", CompletedAt: &completed,
	})
	d.PutOrder(model.Order{
		ID: DemoOrderNoSender, RecipientID: "customer-1", Status: "completed",
		Currency: "EUR", Price: decimal.RequireFromString("12.00"),
	})
	d.PutOrder(model.Order{
		ID: DemoOrderFlatPrice, SenderID: "driver-1", RecipientID: "customer-1", Status: "completed",
		Currency: "EUR", Price: decimal.RequireFromString("42.00"), TaxRate: &zero,
		PickupCity: "Berlin", DropoffCity: "Potsdam", CompletedAt: &completed,
	})
}
