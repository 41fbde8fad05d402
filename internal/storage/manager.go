package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rezonia/invoice-pipeline/internal/audit"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
)

// Assembler builds the canonical model for an order
type Assembler interface {
	Assemble(ctx context.Context, orderID string) (*model.Document, error)
}

// Renderer turns the canonical model into one artifact
type Renderer interface {
	Render(doc *model.Document) ([]byte, error)
}

// XMLSigner envelopes the structured export in a signature
type XMLSigner interface {
	Sign(data []byte, referenceID string) ([]byte, string, error)
}

// Auditor appends lifecycle entries
type Auditor interface {
	Append(ctx context.Context, invoiceID uuid.UUID, action string, actor audit.Actor, previous, next any) (*model.AuditLogEntry, error)
}

// Config holds the storage manager's tunables
type Config struct {
	Bucket      string
	MaxFileSize int64
	URLTTL      time.Duration
}

// DefaultConfig returns the production limits
func DefaultConfig() Config {
	return Config{
		Bucket:      "invoices",
		MaxFileSize: MaxFileSize,
		URLTTL:      URLTTL,
	}
}

// Dependencies are the collaborators of a Manager. Signer may be nil.
type Dependencies struct {
	Assembler Assembler
	Invoices  repository.InvoiceRepository
	PDF       Renderer
	XML       Renderer
	Signer    XMLSigner
	Objects   ObjectStore
	Audit     Auditor
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Config    Config
}

// Manager is the single owner of artifact rendering and upload
type Manager struct {
	assembler Assembler
	invoices  repository.InvoiceRepository
	pdf       Renderer
	xml       Renderer
	signer    XMLSigner
	objects   ObjectStore
	audit     Auditor
	clock     clockwork.Clock
	logger    *slog.Logger
	cfg       Config
}

// NewManager creates a storage manager; zero config fields take defaults
func NewManager(deps Dependencies) *Manager {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = def.URLTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		assembler: deps.Assembler,
		invoices:  deps.Invoices,
		pdf:       deps.PDF,
		xml:       deps.XML,
		signer:    deps.Signer,
		objects:   deps.Objects,
		audit:     deps.Audit,
		clock:     clock,
		logger:    logger.With("module", "storage"),
		cfg:       cfg,
	}
}

// Bucket returns the bucket artifacts are stored in
func (m *Manager) Bucket() string {
	return m.cfg.Bucket
}

// UploadFile stores content and returns a signed retrieval URL. Any rejection
// or transport failure returns "" with a *model.StorageError; callers must
// stop, not retry.
func (m *Manager) UploadFile(ctx context.Context, bucket, path string, content []byte, contentType string) (string, error) {
	logger := m.logger.With("operation", "upload_file", "bucket", bucket, "path", path)
	full := bucket + "/" + path

	if int64(len(content)) > m.cfg.MaxFileSize {
		logger.WarnContext(ctx, "upload rejected", "outcome", "rejected", "reason", "size", "bytes", len(content))
		return "", model.NewStorageError(model.ErrCodeFileTooLarge, full,
			fmt.Sprintf("file is %d bytes, limit is %d", len(content), m.cfg.MaxFileSize), nil)
	}
	if !ContentTypeAllowed(contentType) {
		logger.WarnContext(ctx, "upload rejected", "outcome", "rejected", "reason", "content_type", "content_type", contentType)
		return "", model.NewStorageError(model.ErrCodeContentType, full,
			fmt.Sprintf("content type %q is not allowed", contentType), nil)
	}

	if err := m.objects.Put(ctx, bucket, path, content, contentType); err != nil {
		logger.ErrorContext(ctx, "upload failed", "outcome", "failure", "error", err)
		return "", asStorageError(full, "upload failed", err)
	}
	url, err := m.objects.SignedURL(ctx, bucket, path, m.cfg.URLTTL)
	if err != nil {
		logger.ErrorContext(ctx, "sign url failed", "outcome", "failure", "error", err)
		return "", asStorageError(full, "signing url failed", err)
	}

	logger.InfoContext(ctx, "upload completed", "outcome", "success", "bytes", len(content))
	return url, nil
}

// StoreResult is the outcome of StoreInvoice
type StoreResult struct {
	Invoice *model.Invoice
	PDF     []byte
	XML     []byte
	Created bool
}

// StoreInvoice renders and uploads both artifacts for orderID. The invoice row
// is created in draft on first call; URLs, hashes and the stored status are
// written only after both uploads succeeded. Repeated calls reuse the invoice
// and overwrite its objects. Once the invoice is past stored, a re-render must
// reproduce the recorded hashes or it is refused with model.ErrArtifactsChanged.
func (m *Manager) StoreInvoice(ctx context.Context, orderID string, actor audit.Actor) (*StoreResult, error) {
	logger := m.logger.With("operation", "store_invoice", "order_id", orderID)
	logger.InfoContext(ctx, "store invoice started", "outcome", "start")

	doc, err := m.assembler.Assemble(ctx, orderID)
	if err != nil {
		logger.WarnContext(ctx, "assembly failed", "outcome", "failure", "error", err)
		return nil, err
	}

	inv, created, err := m.invoices.CreateIfAbsent(ctx, doc.Invoice())
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	if !created && inv.ID != doc.InvoiceID {
		// lost the creation race: rebuild from the winner's row
		doc, err = m.assembler.Assemble(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if doc.InvoiceID != inv.ID {
			return nil, fmt.Errorf("order %s: %w", orderID, model.ErrConflict)
		}
	}
	if created {
		if _, err := m.audit.Append(ctx, inv.ID, model.ActionInvoiceCreated, actor, nil, inv.Snapshot()); err != nil {
			return nil, err
		}
	}
	logger = logger.With("invoice_id", inv.ID.String(), "invoice_number", inv.InvoiceNumber)

	pdfBytes, xmlBytes, sig, err := m.render(doc)
	if err != nil {
		logger.WarnContext(ctx, "render failed", "outcome", "failure", "error", err)
		return nil, err
	}

	pdfHash, xmlHash := Hash(pdfBytes), Hash(xmlBytes)
	if model.StatusStored.Before(inv.Status) && (pdfHash != inv.PDFHash || xmlHash != inv.XMLHash) {
		logger.WarnContext(ctx, "re-render diverges from issued artifacts", "outcome", "refused",
			"status", string(inv.Status), "pdf_hash", pdfHash, "xml_hash", xmlHash)
		return nil, fmt.Errorf("invoice %s is %s: %w", inv.InvoiceNumber, inv.Status, model.ErrArtifactsChanged)
	}

	pdfURL, err := m.UploadFile(ctx, m.cfg.Bucket, ArtifactPath(inv.ID, inv.InvoiceNumber, "pdf"), pdfBytes, "application/pdf")
	if err != nil {
		return nil, err
	}
	xmlURL, err := m.UploadFile(ctx, m.cfg.Bucket, ArtifactPath(inv.ID, inv.InvoiceNumber, "xml"), xmlBytes, "application/xml")
	if err != nil {
		return nil, err
	}

	previous := inv.Snapshot()
	updated, err := m.invoices.SaveArtifacts(ctx, inv.ID, repository.ArtifactSet{
		PDFURL:    pdfURL,
		XMLURL:    xmlURL,
		PDFHash:   pdfHash,
		XMLHash:   xmlHash,
		Signature: sig,
		StoredAt:  m.clock.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("save artifacts: %w", err)
	}
	if _, err := m.audit.Append(ctx, updated.ID, model.ActionInvoiceStored, actor, previous, updated.Snapshot()); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "store invoice completed", "outcome", "success", "status", string(updated.Status), "created", created)
	return &StoreResult{Invoice: updated, PDF: pdfBytes, XML: xmlBytes, Created: created}, nil
}

func (m *Manager) render(doc *model.Document) ([]byte, []byte, *string, error) {
	pdfBytes, err := m.pdf.Render(doc)
	if err != nil {
		return nil, nil, nil, err
	}
	xmlBytes, err := m.xml.Render(doc)
	if err != nil {
		return nil, nil, nil, err
	}
	if m.signer == nil {
		return pdfBytes, xmlBytes, nil, nil
	}
	signed, value, err := m.signer.Sign(xmlBytes, "invoice-"+doc.InvoiceID.String())
	if err != nil {
		return nil, nil, nil, model.NewRenderError("xml", "signature", "signing failed", err)
	}
	return pdfBytes, signed, &value, nil
}

// Artifacts fetches both stored objects of inv
func (m *Manager) Artifacts(ctx context.Context, inv *model.Invoice) (pdfBytes, xmlBytes []byte, err error) {
	if !inv.HasArtifacts() {
		return nil, nil, model.ErrNotStored
	}
	pdfBytes, err = m.objects.Get(ctx, m.cfg.Bucket, ArtifactPath(inv.ID, inv.InvoiceNumber, "pdf"))
	if err != nil {
		return nil, nil, err
	}
	xmlBytes, err = m.objects.Get(ctx, m.cfg.Bucket, ArtifactPath(inv.ID, inv.InvoiceNumber, "xml"))
	if err != nil {
		return nil, nil, err
	}
	return pdfBytes, xmlBytes, nil
}

// SignedURLs issues fresh retrieval links for both artifacts of inv
func (m *Manager) SignedURLs(ctx context.Context, inv *model.Invoice, ttl time.Duration) (pdfURL, xmlURL string, err error) {
	if !inv.HasArtifacts() {
		return "", "", model.ErrNotStored
	}
	if ttl <= 0 {
		ttl = m.cfg.URLTTL
	}
	pdfURL, err = m.objects.SignedURL(ctx, m.cfg.Bucket, ArtifactPath(inv.ID, inv.InvoiceNumber, "pdf"), ttl)
	if err != nil {
		return "", "", err
	}
	xmlURL, err = m.objects.SignedURL(ctx, m.cfg.Bucket, ArtifactPath(inv.ID, inv.InvoiceNumber, "xml"), ttl)
	if err != nil {
		return "", "", err
	}
	return pdfURL, xmlURL, nil
}

// Hash returns the hex SHA-256 of content
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func asStorageError(path, message string, err error) error {
	var storageErr *model.StorageError
	if errors.As(err, &storageErr) {
		return storageErr
	}
	return model.NewStorageError(model.ErrCodeTransport, path, message, err)
}
