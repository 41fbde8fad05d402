package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Document is the canonical in-memory invoice shared by both renderers.
// It is built by the assembler and never persisted as such.
type Document struct {
	InvoiceID     uuid.UUID
	OrderID       string
	InvoiceNumber string
	IssueDate     time.Time
	DeliveryDate  time.Time
	Currency      string
	TaxRate       decimal.Decimal
	Amount        decimal.Decimal
	TaxAmount     decimal.Decimal
	GrossAmount   decimal.Decimal
	BuyerRef      string
	PaymentTerms  string
	Disclaimer    string
	Note          string

	Sender    Party
	Recipient Party
	LineItems []InvoiceLineItem
}

// Party is a sender or recipient with its postal address
type Party struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Address *InvoiceAddress
}

// TaxCategory returns the UNCL5305 category code: S standard, E exempt
func (d *Document) TaxCategory() string {
	if d.TaxRate.IsZero() {
		return "E"
	}
	return "S"
}

// Invoice projects the document onto a persistable invoice row
func (d *Document) Invoice() *Invoice {
	inv := &Invoice{
		ID:             d.InvoiceID,
		OrderID:        d.OrderID,
		SenderID:       d.Sender.ID,
		RecipientID:    d.Recipient.ID,
		InvoiceNumber:  d.InvoiceNumber,
		Amount:         d.Amount,
		TaxRate:        d.TaxRate,
		TaxAmount:      d.TaxAmount,
		GrossAmount:    d.GrossAmount,
		Currency:       d.Currency,
		Status:         StatusDraft,
		RecipientEmail: d.Recipient.Email,
		BuyerReference: d.BuyerRef,
		CreatedAt:      d.IssueDate,
	}
	if !d.DeliveryDate.IsZero() {
		delivered := d.DeliveryDate
		inv.DeliveryDate = &delivered
	}
	for _, party := range []struct {
		entity EntityType
		addr   *InvoiceAddress
	}{{EntitySender, d.Sender.Address}, {EntityRecipient, d.Recipient.Address}} {
		if party.addr == nil {
			continue
		}
		addr := *party.addr
		addr.EntityType = party.entity
		if addr.ID == uuid.Nil {
			addr.ID = uuid.New()
		}
		inv.SetAddress(addr)
	}
	for _, li := range d.LineItems {
		li.InvoiceID = d.InvoiceID
		if li.ID == uuid.Nil {
			li.ID = uuid.New()
		}
		inv.LineItems = append(inv.LineItems, li)
	}
	return inv
}
