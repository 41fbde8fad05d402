// Package repository defines the persistence ports of the invoice pipeline.
//
// Invoice rows are created once per order and only ever move forward through
// draft -> stored -> validated -> sent. Validation results and audit entries
// are write-once: no port exposes an update or delete for them.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

// OrderSource is the read-only upstream order/line-item store
type OrderSource interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
}

// ProfileSource is the read-only upstream user/profile store
type ProfileSource interface {
	GetProfile(ctx context.Context, profileID string) (*model.Profile, error)
}

// ArtifactSet is written to the invoice row only after both uploads succeeded
type ArtifactSet struct {
	PDFURL    string
	XMLURL    string
	PDFHash   string
	XMLHash   string
	Signature *string
	StoredAt  time.Time
}

// InvoiceRepository persists invoice rows with their addresses and line items
type InvoiceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	GetByOrderID(ctx context.Context, orderID string) (*model.Invoice, error)

	// CreateIfAbsent inserts inv unless the order already has an invoice.
	// On conflict the existing row is returned with created=false.
	CreateIfAbsent(ctx context.Context, inv *model.Invoice) (*model.Invoice, bool, error)

	// SaveArtifacts records URLs, hashes and signature and advances draft to stored.
	SaveArtifacts(ctx context.Context, id uuid.UUID, set ArtifactSet) (*model.Invoice, error)

	// AdvanceStatus moves the invoice forward to status. It never moves backwards:
	// when the invoice is already at or past status it returns changed=false.
	AdvanceStatus(ctx context.Context, id uuid.UUID, status model.Status, at time.Time) (inv *model.Invoice, changed bool, err error)
}

// ValidationFilter narrows the dashboard query over validation results
type ValidationFilter struct {
	ValidationType *model.ValidationType
	Passed         *bool
	StartDate      *time.Time
	EndDate        *time.Time
	InvoiceID      *uuid.UUID
}

// Matches applies the filter to a single result
func (f ValidationFilter) Matches(r *model.ValidationResult) bool {
	if f.ValidationType != nil && r.ValidationType != *f.ValidationType {
		return false
	}
	if f.Passed != nil && r.Passed != *f.Passed {
		return false
	}
	if f.StartDate != nil && r.ValidationDate.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && r.ValidationDate.After(*f.EndDate) {
		return false
	}
	if f.InvoiceID != nil && r.InvoiceID != *f.InvoiceID {
		return false
	}
	return true
}

// ValidationRepository stores write-once validation results
type ValidationRepository interface {
	Create(ctx context.Context, result *model.ValidationResult) error
	// List returns matching results, newest first
	List(ctx context.Context, filter ValidationFilter) ([]model.ValidationResult, error)
}

// AuditRepository is append-only
type AuditRepository interface {
	Append(ctx context.Context, entry *model.AuditLogEntry) error
	// ListByInvoice returns entries newest first
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]model.AuditLogEntry, error)
}

// Store bundles every port the pipeline needs
type Store struct {
	Orders      OrderSource
	Profiles    ProfileSource
	Invoices    InvoiceRepository
	Validations ValidationRepository
	Audit       AuditRepository
	closer      func() error
}

// NewStore creates a store; closer may be nil
func NewStore(orders OrderSource, profiles ProfileSource, invoices InvoiceRepository,
	validations ValidationRepository, audit AuditRepository, closer func() error) *Store {
	return &Store{
		Orders:      orders,
		Profiles:    profiles,
		Invoices:    invoices,
		Validations: validations,
		Audit:       audit,
		closer:      closer,
	}
}

// Close releases the underlying connection, if any
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
