package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
)

// Directory reads upstream orders and profiles
type Directory struct {
	db *gorm.DB
}

// NewDirectory creates a read-only directory over the upstream tables
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := d.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", orderID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (d *Directory) GetProfile(ctx context.Context, profileID string) (*model.Profile, error) {
	var profile model.Profile
	if err := d.db.WithContext(ctx).First(&profile, "id = ?", profileID).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

// InvoiceRepository persists invoices with addresses and line items
type InvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Addresses").
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		})
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var inv model.Invoice
	if err := r.preloaded(ctx).First(&inv, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (r *InvoiceRepository) GetByOrderID(ctx context.Context, orderID string) (*model.Invoice, error) {
	var inv model.Invoice
	if err := r.preloaded(ctx).First(&inv, "order_id = ?", orderID).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

// CreateIfAbsent relies on the unique index on order_id: a concurrent insert
// for the same order affects zero rows and the existing invoice is returned.
func (r *InvoiceRepository) CreateIfAbsent(ctx context.Context, inv *model.Invoice) (*model.Invoice, bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).Omit(clause.Associations).Create(inv)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		if len(inv.Addresses) > 0 {
			if err := tx.Create(&inv.Addresses).Error; err != nil {
				return err
			}
		}
		if len(inv.LineItems) > 0 {
			if err := tx.Create(&inv.LineItems).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("create invoice: %w", translate(err))
	}
	if !created {
		existing, err := r.GetByOrderID(ctx, inv.OrderID)
		return existing, false, err
	}
	got, err := r.GetByID(ctx, inv.ID)
	return got, true, err
}

func (r *InvoiceRepository) SaveArtifacts(ctx context.Context, id uuid.UUID, set repository.ArtifactSet) (*model.Invoice, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Invoice{}).Where("id = ?", id).Updates(map[string]any{
			"pdf_url":           set.PDFURL,
			"xml_url":           set.XMLURL,
			"pdf_hash":          set.PDFHash,
			"xml_hash":          set.XMLHash,
			"digital_signature": set.Signature,
			"updated_at":        set.StoredAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrNotFound
		}
		return tx.Model(&model.Invoice{}).
			Where("id = ? AND status = ?", id, string(model.StatusDraft)).
			Updates(map[string]any{
				"status":    string(model.StatusStored),
				"stored_at": set.StoredAt,
			}).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return r.GetByID(ctx, id)
}

func (r *InvoiceRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, status model.Status, at time.Time) (*model.Invoice, bool, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !current.Status.CanAdvanceTo(status) {
		return current, false, nil
	}

	earlier := make([]string, 0, 3)
	for _, s := range model.StatusesUpTo(status) {
		if s != status {
			earlier = append(earlier, string(s))
		}
	}
	updates := map[string]any{
		"status":     string(status),
		"updated_at": at,
	}
	switch status {
	case model.StatusStored:
		updates["stored_at"] = at
	case model.StatusSent:
		updates["sent_at"] = at
	}

	// the status guard makes the update a compare-and-set against concurrent writers
	res := r.db.WithContext(ctx).Model(&model.Invoice{}).
		Where("id = ? AND status IN ?", id, earlier).
		Updates(updates)
	if res.Error != nil {
		return nil, false, translate(res.Error)
	}
	updated, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return updated, res.RowsAffected > 0, nil
}

// ValidationRepository stores write-once validation results
type ValidationRepository struct {
	db *gorm.DB
}

// NewValidationRepository creates a new validation repository
func NewValidationRepository(db *gorm.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

func (r *ValidationRepository) Create(ctx context.Context, result *model.ValidationResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	return translate(r.db.WithContext(ctx).Create(result).Error)
}

func (r *ValidationRepository) List(ctx context.Context, filter repository.ValidationFilter) ([]model.ValidationResult, error) {
	q := r.db.WithContext(ctx).Model(&model.ValidationResult{})
	if filter.ValidationType != nil {
		q = q.Where("validation_type = ?", string(*filter.ValidationType))
	}
	if filter.Passed != nil {
		q = q.Where("passed = ?", *filter.Passed)
	}
	if filter.StartDate != nil {
		q = q.Where("validation_date >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("validation_date <= ?", *filter.EndDate)
	}
	if filter.InvoiceID != nil {
		q = q.Where("invoice_id = ?", *filter.InvoiceID)
	}

	var results []model.ValidationResult
	if err := q.Order("validation_date DESC, seq DESC").Find(&results).Error; err != nil {
		return nil, translate(err)
	}
	return results, nil
}

// AuditRepository is append-only; it exposes no update or delete
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return translate(r.db.WithContext(ctx).Create(entry).Error)
}

func (r *AuditRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]model.AuditLogEntry, error) {
	var entries []model.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("timestamp DESC").
		Find(&entries).Error
	if err != nil {
		return nil, translate(err)
	}
	return entries, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", model.ErrConflict, err)
	default:
		return err
	}
}
