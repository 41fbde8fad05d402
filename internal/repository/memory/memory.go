// Package memory provides mutex-guarded in-memory implementations of the
// repository ports. It backs unit tests and the "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
)

// NewStore returns a repository.Store backed entirely by memory
func NewStore() (*repository.Store, *Directory) {
	dir := NewDirectory()
	return repository.NewStore(dir, dir, NewInvoiceRepository(), NewValidationRepository(), NewAuditRepository(), nil), dir
}

// Directory holds upstream orders and profiles
type Directory struct {
	mu       sync.RWMutex
	orders   map[string]model.Order
	profiles map[string]model.Profile
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		orders:   make(map[string]model.Order),
		profiles: make(map[string]model.Profile),
	}
}

// fixtures is the YAML layout accepted by LoadFixtures
type fixtures struct {
	Orders   []model.Order   `yaml:"orders"`
	Profiles []model.Profile `yaml:"profiles"`
}

// LoadFixtures reads orders and profiles from a YAML file
func (d *Directory) LoadFixtures(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}
	var f fixtures
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse fixtures: %w", err)
	}
	for _, o := range f.Orders {
		d.PutOrder(o)
	}
	for _, p := range f.Profiles {
		d.PutProfile(p)
	}
	return nil
}

// PutOrder adds or replaces an order
func (d *Directory) PutOrder(o model.Order) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders[o.ID] = o
}

// PutProfile adds or replaces a profile
func (d *Directory) PutProfile(p model.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

func (d *Directory) GetOrder(_ context.Context, orderID string) (*model.Order, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.orders[orderID]
	if !ok {
		return nil, model.ErrNotFound
	}
	o.Items = append([]model.OrderItem(nil), o.Items...)
	return &o, nil
}

func (d *Directory) GetProfile(_ context.Context, profileID string) (*model.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[profileID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

// InvoiceRepository stores invoices keyed by id with an order_id unique index
type InvoiceRepository struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]model.Invoice
	byOrder  map[string]uuid.UUID
}

// NewInvoiceRepository creates an empty repository
func NewInvoiceRepository() *InvoiceRepository {
	return &InvoiceRepository{
		invoices: make(map[uuid.UUID]model.Invoice),
		byOrder:  make(map[string]uuid.UUID),
	}
}

func (r *InvoiceRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (r *InvoiceRepository) GetByOrderID(_ context.Context, orderID string) (*model.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneInvoice(r.invoices[id]), nil
}

func (r *InvoiceRepository) CreateIfAbsent(_ context.Context, inv *model.Invoice) (*model.Invoice, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byOrder[inv.OrderID]; ok {
		return cloneInvoice(r.invoices[id]), false, nil
	}
	if _, ok := r.invoices[inv.ID]; ok {
		return nil, false, fmt.Errorf("invoice %s: %w", inv.ID, model.ErrConflict)
	}
	stored := *cloneInvoice(*inv)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	r.invoices[inv.ID] = stored
	r.byOrder[inv.OrderID] = inv.ID
	return cloneInvoice(stored), true, nil
}

func (r *InvoiceRepository) SaveArtifacts(_ context.Context, id uuid.UUID, set repository.ArtifactSet) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	inv.PDFURL = set.PDFURL
	inv.XMLURL = set.XMLURL
	inv.PDFHash = set.PDFHash
	inv.XMLHash = set.XMLHash
	inv.DigitalSignature = set.Signature
	inv.UpdatedAt = set.StoredAt
	if inv.Status.CanAdvanceTo(model.StatusStored) {
		inv.Status = model.StatusStored
		at := set.StoredAt
		inv.StoredAt = &at
	}
	r.invoices[id] = inv
	return cloneInvoice(inv), nil
}

func (r *InvoiceRepository) AdvanceStatus(_ context.Context, id uuid.UUID, status model.Status, at time.Time) (*model.Invoice, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, false, model.ErrNotFound
	}
	if !inv.Status.CanAdvanceTo(status) {
		return cloneInvoice(inv), false, nil
	}
	inv.Status = status
	inv.UpdatedAt = at
	switch status {
	case model.StatusStored:
		inv.StoredAt = &at
	case model.StatusSent:
		inv.SentAt = &at
	}
	r.invoices[id] = inv
	return cloneInvoice(inv), true, nil
}

func cloneInvoice(inv model.Invoice) *model.Invoice {
	out := inv
	out.Addresses = append([]model.InvoiceAddress(nil), inv.Addresses...)
	out.LineItems = append([]model.InvoiceLineItem(nil), inv.LineItems...)
	if inv.DigitalSignature != nil {
		sig := *inv.DigitalSignature
		out.DigitalSignature = &sig
	}
	return &out
}

// ValidationRepository keeps results in insertion order
type ValidationRepository struct {
	mu      sync.RWMutex
	results []model.ValidationResult
	seq     int64
}

// NewValidationRepository creates an empty repository
func NewValidationRepository() *ValidationRepository {
	return &ValidationRepository{}
}

func (r *ValidationRepository) Create(_ context.Context, result *model.ValidationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	for _, existing := range r.results {
		if existing.ID == result.ID {
			return fmt.Errorf("validation result %s: %w", result.ID, model.ErrConflict)
		}
	}
	r.seq++
	result.Seq = r.seq
	stored := *result
	stored.ErrorMessages = append(stored.ErrorMessages[:0:0], result.ErrorMessages...)
	stored.WarningMessages = append(stored.WarningMessages[:0:0], result.WarningMessages...)
	r.results = append(r.results, stored)
	return nil
}

func (r *ValidationRepository) List(_ context.Context, filter repository.ValidationFilter) ([]model.ValidationResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ValidationResult, 0, len(r.results))
	for i := range r.results {
		if filter.Matches(&r.results[i]) {
			out = append(out, r.results[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidationDate.Equal(out[j].ValidationDate) {
			return out[i].ValidationDate.After(out[j].ValidationDate)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// AuditRepository is an append-only slice
type AuditRepository struct {
	mu      sync.RWMutex
	entries []model.AuditLogEntry
}

// NewAuditRepository creates an empty audit log
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(_ context.Context, entry *model.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *AuditRepository) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]model.AuditLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.AuditLogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].InvoiceID == invoiceID {
			out = append(out, r.entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
