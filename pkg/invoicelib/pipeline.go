package invoicelib

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rezonia/invoice-pipeline/internal/app"
	"github.com/rezonia/invoice-pipeline/internal/audit"
	"github.com/rezonia/invoice-pipeline/internal/compliance"
	"github.com/rezonia/invoice-pipeline/internal/config"
	"github.com/rezonia/invoice-pipeline/internal/delivery"
	"github.com/rezonia/invoice-pipeline/internal/storage"
)

// Config selects backends and invoice defaults
type Config = config.Config

// Actor identifies who triggered an operation in the audit trail
type Actor = audit.Actor

// Re-export result types
type (
	StoreResult      = storage.StoreResult
	ValidationReport = compliance.Report
	EmailResult      = delivery.EmailResult
	SMSResult        = delivery.SMSResult
)

// DefaultConfig returns an in-memory configuration seeded with demo data
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML file, .env and INVOICE_* environment variables
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// Option configures Open
type Option = app.Option

// WithClock and WithLogger replace the wall clock and the default logger
var (
	WithClock  = app.WithClock
	WithLogger = app.WithLogger
)

// Pipeline is a wired invoice pipeline
type Pipeline struct {
	app   *app.App
	actor Actor
}

// Open wires every component described by cfg
func Open(ctx context.Context, cfg Config, opts ...Option) (*Pipeline, error) {
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Pipeline{app: a, actor: audit.System()}, nil
}

// As returns a pipeline that records actor in audit entries
func (p *Pipeline) As(actor Actor) *Pipeline {
	return &Pipeline{app: p.app, actor: actor}
}

// StoreInvoice issues and archives the invoice for an order
func (p *Pipeline) StoreInvoice(ctx context.Context, orderID string) (*StoreResult, error) {
	return p.app.Storage.StoreInvoice(ctx, orderID, p.actor)
}

// Invoice loads an invoice by id
func (p *Pipeline) Invoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return p.app.Store.Invoices.GetByID(ctx, id)
}

// Validate runs every compliance check against a stored invoice
func (p *Pipeline) Validate(ctx context.Context, id uuid.UUID) (*ValidationReport, error) {
	return p.app.Compliance.ValidateInvoiceAll(ctx, id, p.actor)
}

// ValidateOne runs a single check; it never changes the invoice status
func (p *Pipeline) ValidateOne(ctx context.Context, id uuid.UUID, typ ValidationType) (*ValidationResult, error) {
	return p.app.Compliance.ValidateInvoice(ctx, id, typ, p.actor)
}

// SendEmail mails both artifacts of an order's invoice
func (p *Pipeline) SendEmail(ctx context.Context, orderID, address string) (*EmailResult, error) {
	return p.app.Delivery.SendInvoiceEmail(ctx, orderID, address, p.actor)
}

// SendSMS texts the recipient; includePIN issues a one-time retrieval PIN
func (p *Pipeline) SendSMS(ctx context.Context, id uuid.UUID, phone string, includePIN bool) (*SMSResult, error) {
	return p.app.Delivery.SendInvoiceSMS(ctx, id, phone, includePIN, p.actor)
}

// Retrieve redeems a PIN for fresh download links
func (p *Pipeline) Retrieve(ctx context.Context, id uuid.UUID, pin string) (pdfURL, xmlURL string, err error) {
	return p.app.Delivery.VerifyPIN(ctx, id, pin, p.actor)
}

// AuditTrail lists the audit entries of an invoice, newest first
func (p *Pipeline) AuditTrail(ctx context.Context, id uuid.UUID) ([]AuditLogEntry, error) {
	return p.app.Audit.ListByInvoice(ctx, id)
}

// IsGovernmentAgency reports whether address is routed as a public-sector recipient
func (p *Pipeline) IsGovernmentAgency(address string) bool {
	return p.app.Delivery.IsGovernmentAgency(address)
}

// Close stops pending follow-ups and releases connections
func (p *Pipeline) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return p.app.Close(ctx)
}

// IsGovernmentAddress classifies address against the built-in public-sector
// domain suffixes without wiring a pipeline
func IsGovernmentAddress(address string) bool {
	return delivery.IsGovernmentDomain(address, delivery.DefaultGovernmentSuffixes)
}
