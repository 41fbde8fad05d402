// Package invoicelib exposes the invoice pipeline to other Go programs.
//
// It re-exports the persisted entity types and wraps a fully wired pipeline
// behind a small API for issuing, validating and delivering invoices.
//
// Example usage:
//
//	p, err := invoicelib.Open(ctx, invoicelib.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	res, err := p.StoreInvoice(ctx, "order-1001")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Invoice.InvoiceNumber, res.Invoice.PDFURL)
package invoicelib

import "github.com/rezonia/invoice-pipeline/internal/model"

// Re-export core types for public API
type (
	Invoice          = model.Invoice
	InvoiceAddress   = model.InvoiceAddress
	InvoiceLineItem  = model.InvoiceLineItem
	ValidationResult = model.ValidationResult
	AuditLogEntry    = model.AuditLogEntry
	Status           = model.Status
	ValidationType   = model.ValidationType
	EntityType       = model.EntityType
)

// Re-export lifecycle statuses
const (
	StatusDraft     = model.StatusDraft
	StatusStored    = model.StatusStored
	StatusValidated = model.StatusValidated
	StatusSent      = model.StatusSent
)

// Re-export validation types
const (
	ValidationXRechnung = model.ValidationXRechnung
	ValidationGoBD      = model.ValidationGoBD
	ValidationFormat    = model.ValidationFormat
	ValidationTax       = model.ValidationTax
)

// Re-export error types
type (
	AssemblyError = model.AssemblyError
	RenderError   = model.RenderError
	StorageError  = model.StorageError
	DeliveryError = model.DeliveryError
)

// Re-export sentinel errors
var (
	ErrNotFound   = model.ErrNotFound
	ErrNotStored  = model.ErrNotStored
	ErrInvalidPIN = model.ErrInvalidPIN
)
