// Package assembler normalizes order, profile, address and line-item records
// into the canonical model.Document consumed by both renderers.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/invoice-pipeline/internal/decimal"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
)

// Defaults applied when the order does not carry a value
const (
	DefaultCurrency      = "EUR"
	DefaultUnitOfMeasure = "C62" // UN/ECE Rec 20: "one"
	DefaultPaymentTerms  = "Zahlbar innerhalb von 14 Tagen ohne Abzug."
	DefaultDisclaimer    = "Diese Rechnung wurde maschinell erstellt und ist ohne Unterschrift gültig. " +
		"Leistungsdatum entspricht dem Abschlussdatum des Transportauftrags. " +
		"Bitte bewahren Sie diese Rechnung gemäß den gesetzlichen Aufbewahrungsfristen auf."
	ExemptionNote = "Gemäß § 19 UStG wird keine Umsatzsteuer berechnet."
)

// Config holds assembler tunables
type Config struct {
	DefaultCurrency string
	DefaultTaxRate  decimal.Decimal
	PaymentTerms    string
	Disclaimer      string
}

// DefaultConfig returns German marketplace defaults
func DefaultConfig() Config {
	return Config{
		DefaultCurrency: DefaultCurrency,
		DefaultTaxRate:  decimal.NewFromInt(19),
		PaymentTerms:    DefaultPaymentTerms,
		Disclaimer:      DefaultDisclaimer,
	}
}

// Assembler builds the canonical invoice model. It performs no writes.
type Assembler struct {
	orders   repository.OrderSource
	profiles repository.ProfileSource
	invoices repository.InvoiceRepository
	clock    clockwork.Clock
	config   Config
}

// Option configures an Assembler
type Option func(*Assembler)

// WithClock sets the clock used for issue dates of new invoices
func WithClock(c clockwork.Clock) Option {
	return func(a *Assembler) {
		a.clock = c
	}
}

// WithConfig overrides the defaults
func WithConfig(cfg Config) Option {
	return func(a *Assembler) {
		a.config = cfg
	}
}

// New creates an assembler over the upstream stores and the invoice repository
func New(orders repository.OrderSource, profiles repository.ProfileSource, invoices repository.InvoiceRepository, opts ...Option) *Assembler {
	a := &Assembler{
		orders:   orders,
		profiles: profiles,
		invoices: invoices,
		clock:    clockwork.NewRealClock(),
		config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FormatInvoiceNumber derives the invoice number from the invoice id and its
// creation date, so re-rendering the same invoice always yields the same number.
func FormatInvoiceNumber(id uuid.UUID, createdAt time.Time) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("RE-%s-%s", createdAt.UTC().Format("20060102"), strings.ToUpper(hex[:8]))
}

// Assemble builds the canonical model for orderID. When the order already has
// an invoice row, the document is rebuilt from that row alone.
func (a *Assembler) Assemble(ctx context.Context, orderID string) (*model.Document, error) {
	order, err := a.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewAssemblyError(orderID, "order", "order does not exist", nil)
		}
		return nil, model.NewAssemblyError(orderID, "order", "order lookup failed", err)
	}

	existing, err := a.invoices.GetByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, model.NewAssemblyError(orderID, "invoice", "invoice lookup failed", err)
	}
	if existing != nil {
		return a.fromInvoice(order, existing), nil
	}

	if strings.TrimSpace(order.SenderID) == "" {
		return nil, model.NewAssemblyError(orderID, "sender", "order has no sender", nil)
	}

	sender, err := a.profiles.GetProfile(ctx, order.SenderID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewAssemblyError(orderID, "sender", fmt.Sprintf("sender %s does not exist", order.SenderID), nil)
		}
		return nil, model.NewAssemblyError(orderID, "sender", "sender lookup failed", err)
	}

	var recipient *model.Profile
	if order.RecipientID != "" {
		recipient, err = a.profiles.GetProfile(ctx, order.RecipientID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, model.NewAssemblyError(orderID, "recipient", "recipient lookup failed", err)
		}
	}

	doc := &model.Document{
		OrderID:      order.ID,
		Currency:     strings.ToUpper(order.Currency),
		TaxRate:      a.config.DefaultTaxRate,
		BuyerRef:     order.BuyerReference,
		PaymentTerms: a.config.PaymentTerms,
		Disclaimer:   a.config.Disclaimer,
	}
	if doc.Currency == "" {
		doc.Currency = a.config.DefaultCurrency
	}
	if order.TaxRate != nil {
		doc.TaxRate = *order.TaxRate
	}
	if doc.BuyerRef == "" {
		doc.BuyerRef = order.ID
	}

	doc.InvoiceID = uuid.New()
	doc.IssueDate = a.clock.Now().UTC().Truncate(time.Second)
	doc.InvoiceNumber = FormatInvoiceNumber(doc.InvoiceID, doc.IssueDate)
	doc.DeliveryDate = doc.IssueDate
	if order.CompletedAt != nil {
		doc.DeliveryDate = order.CompletedAt.UTC()
	}

	doc.Sender = partyFromProfile(sender, model.EntitySender)
	if recipient != nil {
		doc.Recipient = partyFromProfile(recipient, model.EntityRecipient)
	} else {
		doc.Recipient = model.Party{ID: order.RecipientID}
	}

	doc.LineItems = lineItemsFromOrder(order, doc.Currency)
	if doc.TaxRate.IsZero() {
		doc.Note = ExemptionNote
	}

	inv := model.Invoice{Currency: doc.Currency, TaxRate: doc.TaxRate, LineItems: doc.LineItems}
	inv.CalculateTotals()
	doc.LineItems = inv.LineItems
	doc.Amount = inv.Amount
	doc.TaxAmount = inv.TaxAmount
	doc.GrossAmount = inv.GrossAmount

	return doc, nil
}

// fromInvoice rebuilds the document from an issued invoice row. Currency, tax
// rate, totals, parties and items are taken from the row and never from the
// current order or profiles, so an issued invoice renders the same every time.
// The order only fills fields that rows written before they were recorded lack.
func (a *Assembler) fromInvoice(order *model.Order, inv *model.Invoice) *model.Document {
	doc := &model.Document{
		InvoiceID:     inv.ID,
		OrderID:       inv.OrderID,
		InvoiceNumber: inv.InvoiceNumber,
		IssueDate:     inv.CreatedAt.UTC(),
		Currency:      inv.Currency,
		TaxRate:       inv.TaxRate,
		Amount:        inv.Amount,
		TaxAmount:     inv.TaxAmount,
		GrossAmount:   inv.GrossAmount,
		BuyerRef:      inv.BuyerReference,
		PaymentTerms:  a.config.PaymentTerms,
		Disclaimer:    a.config.Disclaimer,
		Sender:        partyFromAddress(inv.SenderID, inv.Address(model.EntitySender)),
		Recipient:     partyFromAddress(inv.RecipientID, inv.Address(model.EntityRecipient)),
		LineItems:     append([]model.InvoiceLineItem(nil), inv.LineItems...),
	}
	if doc.InvoiceNumber == "" {
		doc.InvoiceNumber = FormatInvoiceNumber(doc.InvoiceID, doc.IssueDate)
	}
	if inv.RecipientEmail != "" {
		doc.Recipient.Email = inv.RecipientEmail
	}
	if doc.BuyerRef == "" {
		doc.BuyerRef = order.BuyerReference
	}
	if doc.BuyerRef == "" {
		doc.BuyerRef = order.ID
	}
	switch {
	case inv.DeliveryDate != nil:
		doc.DeliveryDate = inv.DeliveryDate.UTC()
	case order.CompletedAt != nil:
		doc.DeliveryDate = order.CompletedAt.UTC()
	default:
		doc.DeliveryDate = doc.IssueDate
	}
	if doc.TaxRate.IsZero() {
		doc.Note = ExemptionNote
	}
	return doc
}

// partyFromAddress restores a party from the contact data snapshotted on the
// invoice address at creation
func partyFromAddress(id string, addr *model.InvoiceAddress) model.Party {
	party := model.Party{ID: id}
	if addr == nil {
		return party
	}
	copied := *addr
	party.Name = copied.CompanyName
	party.Email = copied.Email
	party.Phone = copied.Phone
	party.Address = &copied
	return party
}

func partyFromProfile(p *model.Profile, entity model.EntityType) model.Party {
	party := model.Party{
		ID:    p.ID,
		Name:  p.DisplayName(),
		Email: p.Email,
		Phone: p.Phone,
	}
	if p.HasPostalAddress() {
		party.Address = &model.InvoiceAddress{
			EntityType:   entity,
			CompanyName:  p.DisplayName(),
			ContactName:  p.Name,
			Street:       p.Street,
			StreetNumber: p.StreetNumber,
			PostalCode:   p.PostalCode,
			City:         p.City,
			Country:      strings.ToUpper(p.Country),
			TaxID:        p.TaxID,
			Email:        p.Email,
			Phone:        p.Phone,
		}
	}
	return party
}

func lineItemsFromOrder(order *model.Order, currency string) []model.InvoiceLineItem {
	if len(order.Items) == 0 {
		description := "Transportleistung"
		if order.PickupCity != "" && order.DropoffCity != "" {
			description = fmt.Sprintf("Transportleistung %s - %s", order.PickupCity, order.DropoffCity)
		}
		return []model.InvoiceLineItem{{
			Position:      1,
			Description:   description,
			Quantity:      decimal.NewFromInt(1),
			UnitPrice:     order.Price,
			UnitOfMeasure: DefaultUnitOfMeasure,
			TotalPrice:    money.LineTotal(decimal.NewFromInt(1), order.Price, currency),
		}}
	}

	items := make([]model.InvoiceLineItem, 0, len(order.Items))
	for i, it := range order.Items {
		unit := it.UnitOfMeasure
		if unit == "" {
			unit = DefaultUnitOfMeasure
		}
		items = append(items, model.InvoiceLineItem{
			Position:      i + 1,
			Description:   it.Description,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			UnitOfMeasure: unit,
			TotalPrice:    money.LineTotal(it.Quantity, it.UnitPrice, currency),
		})
	}
	return items
}
