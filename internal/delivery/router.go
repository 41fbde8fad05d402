// Package delivery sends stored invoices by email and SMS and issues one-time
// retrieval PINs. Recipients at government domains additionally receive the
// structured export on its own after a fixed delay.
package delivery

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/rezonia/invoice-pipeline/internal/audit"
	money "github.com/rezonia/invoice-pipeline/internal/decimal"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
	"github.com/rezonia/invoice-pipeline/internal/storage"
)

// DefaultGovernmentSuffixes are the domain suffixes treated as public authorities
var DefaultGovernmentSuffixes = []string{
	"bund.de",
	"bundeswehr.org",
	"berlin.de",
	"hamburg.de",
	"bremen.de",
	"bayern.de",
	"nrw.de",
	"niedersachsen.de",
	"sachsen.de",
	"hessen.de",
	"brandenburg.de",
	"thueringen.de",
	"landsh.de",
	"saarland.de",
	"sachsen-anhalt.de",
	"rlp.de",
	"bwl.de",
	"mv-regierung.de",
	"gv.at",
	"admin.ch",
	"gouv.fr",
	"europa.eu",
	"gov",
}

// Channels used in delivery errors and audit entries
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Config holds the router's tunables
type Config struct {
	GovernmentSuffixes []string
	FollowUpDelay      time.Duration
	PINTTL             time.Duration
	PINLength          int
	MaxPINAttempts     int
	BcryptCost         int
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		GovernmentSuffixes: DefaultGovernmentSuffixes,
		FollowUpDelay:      5 * time.Minute,
		PINTTL:             storage.URLTTL,
		PINLength:          6,
		MaxPINAttempts:     5,
		BcryptCost:         bcrypt.DefaultCost,
	}
}

// InvoiceStorer renders, stores and fetches invoice artifacts
type InvoiceStorer interface {
	StoreInvoice(ctx context.Context, orderID string, actor audit.Actor) (*storage.StoreResult, error)
	Artifacts(ctx context.Context, inv *model.Invoice) (pdf, xml []byte, err error)
	SignedURLs(ctx context.Context, inv *model.Invoice, ttl time.Duration) (pdfURL, xmlURL string, err error)
}

// Auditor appends lifecycle entries
type Auditor interface {
	Append(ctx context.Context, invoiceID uuid.UUID, action string, actor audit.Actor, previous, next any) (*model.AuditLogEntry, error)
}

// Dependencies are the collaborators of a Router
type Dependencies struct {
	Storage   InvoiceStorer
	Invoices  repository.InvoiceRepository
	Mailer    Mailer
	SMS       SMSSender
	PINs      PINStore
	Audit     Auditor
	Scheduler *Scheduler
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Config    Config
}

// Router dispatches invoices to their recipients
type Router struct {
	storage   InvoiceStorer
	invoices  repository.InvoiceRepository
	mailer    Mailer
	sms       SMSSender
	pins      PINStore
	audit     Auditor
	scheduler *Scheduler
	clock     clockwork.Clock
	logger    *slog.Logger
	cfg       Config
	suffixes  []string
}

// NewRouter creates a router; zero config fields take defaults
func NewRouter(deps Dependencies) *Router {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.GovernmentSuffixes == nil {
		cfg.GovernmentSuffixes = def.GovernmentSuffixes
	}
	if cfg.FollowUpDelay <= 0 {
		cfg.FollowUpDelay = def.FollowUpDelay
	}
	if cfg.PINTTL <= 0 {
		cfg.PINTTL = def.PINTTL
	}
	if cfg.PINLength <= 0 {
		cfg.PINLength = def.PINLength
	}
	if cfg.MaxPINAttempts <= 0 {
		cfg.MaxPINAttempts = def.MaxPINAttempts
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = NewScheduler(clock)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		storage:   deps.Storage,
		invoices:  deps.Invoices,
		mailer:    deps.Mailer,
		sms:       deps.SMS,
		pins:      deps.PINs,
		audit:     deps.Audit,
		scheduler: scheduler,
		clock:     clock,
		logger:    logger.With("module", "delivery"),
		cfg:       cfg,
		suffixes:  normalizeSuffixes(cfg.GovernmentSuffixes),
	}
}

func normalizeSuffixes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsGovernmentAgency reports whether the domain of address matches one of the
// configured suffixes on a label boundary.
func (r *Router) IsGovernmentAgency(address string) bool {
	return IsGovernmentDomain(address, r.suffixes)
}

// IsGovernmentDomain is the classification behind Router.IsGovernmentAgency
func IsGovernmentDomain(address string, suffixes []string) bool {
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return false
	}
	domain := strings.Trim(strings.ToLower(strings.TrimSpace(address[at+1:])), ".")
	for _, suffix := range suffixes {
		suffix = strings.Trim(strings.ToLower(suffix), ".")
		if suffix == "" {
			continue
		}
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}

// Scheduler returns the scheduler running follow-up sends
func (r *Router) Scheduler() *Scheduler {
	return r.scheduler
}

// EmailResult is the outcome of SendInvoiceEmail
type EmailResult struct {
	Invoice    *model.Invoice
	Recipient  string
	Government bool
	// FollowUp is set when a structured-export-only send was scheduled
	FollowUp *Handle
}

// SendInvoiceEmail mails both artifacts for orderID, storing them first when
// needed. Only a successful send moves the invoice to sent.
func (r *Router) SendInvoiceEmail(ctx context.Context, orderID, address string, actor audit.Actor) (*EmailResult, error) {
	logger := r.logger.With("operation", "send_invoice_email", "order_id", orderID)

	inv, pdfBytes, xmlBytes, err := r.loadArtifacts(ctx, orderID, actor)
	if err != nil {
		logger.WarnContext(ctx, "artifacts unavailable", "outcome", "failure", "error", err)
		return nil, err
	}
	logger = logger.With("invoice_id", inv.ID.String())

	if address == "" {
		address = inv.RecipientEmail
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, model.NewDeliveryError(ChannelEmail, "", "no recipient address", nil)
	}

	msg := Message{
		To:      []string{address},
		Subject: fmt.Sprintf("Rechnung %s", inv.InvoiceNumber),
		Text:    emailBody(inv),
		Attachments: []Attachment{
			{Filename: inv.InvoiceNumber + ".pdf", ContentType: "application/pdf", Content: pdfBytes},
			{Filename: inv.InvoiceNumber + ".xml", ContentType: "application/xml", Content: xmlBytes},
		},
	}
	if err := r.mailer.Send(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "email failed", "outcome", "failure", "error", err)
		return nil, model.NewDeliveryError(ChannelEmail, address, "transport failed", err)
	}

	previous := inv.Snapshot()
	updated, _, err := r.invoices.AdvanceStatus(ctx, inv.ID, model.StatusSent, r.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("advance status: %w", err)
	}
	next := updated.Snapshot()
	next["channel"] = ChannelEmail
	next["recipient"] = address
	if _, err := r.audit.Append(ctx, inv.ID, model.ActionInvoiceSent, actor, previous, next); err != nil {
		return nil, err
	}

	result := &EmailResult{Invoice: updated, Recipient: address}
	if r.IsGovernmentAgency(address) {
		result.Government = true
		result.FollowUp = r.scheduleFollowUp(ctx, updated, address)
	}

	logger.InfoContext(ctx, "email sent", "outcome", "success", "government", result.Government)
	return result, nil
}

func (r *Router) loadArtifacts(ctx context.Context, orderID string, actor audit.Actor) (*model.Invoice, []byte, []byte, error) {
	inv, err := r.invoices.GetByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, nil, nil, err
	}
	if inv != nil && inv.HasArtifacts() {
		pdfBytes, xmlBytes, err := r.storage.Artifacts(ctx, inv)
		if err == nil {
			return inv, pdfBytes, xmlBytes, nil
		}
		var storageErr *model.StorageError
		if !errors.As(err, &storageErr) || storageErr.Code != model.ErrCodeObjectNotFound {
			return nil, nil, nil, err
		}
		// objects vanished from the bucket: fall through and regenerate
	}
	res, err := r.storage.StoreInvoice(ctx, orderID, actor)
	if err != nil {
		return nil, nil, nil, err
	}
	return res.Invoice, res.PDF, res.XML, nil
}

func (r *Router) scheduleFollowUp(ctx context.Context, inv *model.Invoice, address string) *Handle {
	logger := r.logger.With("operation", "government_followup", "invoice_id", inv.ID.String())
	invoiceID := inv.ID
	number := inv.InvoiceNumber

	handle := r.scheduler.After(r.cfg.FollowUpDelay, func(ctx context.Context) {
		r.sendFollowUp(ctx, invoiceID, address, logger)
	})
	if handle == nil {
		logger.WarnContext(ctx, "scheduler is shut down, follow-up skipped", "outcome", "skipped")
		return nil
	}
	if _, err := r.audit.Append(ctx, invoiceID, model.ActionFollowUpScheduled, audit.System(), nil, map[string]any{
		"invoice_number": number,
		"recipient":      address,
		"due_at":         handle.Due().UTC().Format(time.RFC3339),
	}); err != nil {
		logger.ErrorContext(ctx, "audit follow-up schedule failed", "error", err)
	}
	logger.InfoContext(ctx, "follow-up scheduled", "outcome", "scheduled", "due_at", handle.Due())
	return handle
}

// sendFollowUp is best effort: failures are logged and audited, never returned
func (r *Router) sendFollowUp(ctx context.Context, invoiceID uuid.UUID, address string, logger *slog.Logger) {
	fail := func(reason string, err error) {
		logger.ErrorContext(ctx, "follow-up failed", "outcome", "failure", "reason", reason, "error", err)
		if _, auditErr := r.audit.Append(ctx, invoiceID, model.ActionFollowUpFailed, audit.System(), nil, map[string]any{
			"recipient": address,
			"reason":    reason,
			"error":     err.Error(),
		}); auditErr != nil {
			logger.ErrorContext(ctx, "audit follow-up failure failed", "error", auditErr)
		}
	}

	inv, err := r.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		fail("load invoice", err)
		return
	}
	_, xmlBytes, err := r.storage.Artifacts(ctx, inv)
	if err != nil {
		fail("load artifacts", err)
		return
	}
	msg := Message{
		To:      []string{address},
		Subject: fmt.Sprintf("XRechnung %s", inv.InvoiceNumber),
		Text:    fmt.Sprintf("Anbei die strukturierte Rechnung %s im Format XRechnung.\n", inv.InvoiceNumber),
		Attachments: []Attachment{
			{Filename: inv.InvoiceNumber + ".xml", ContentType: "application/xml", Content: xmlBytes},
		},
	}
	if err := r.mailer.Send(ctx, msg); err != nil {
		fail("transport", err)
		return
	}
	if _, err := r.audit.Append(ctx, invoiceID, model.ActionFollowUpSent, audit.System(), nil, map[string]any{
		"invoice_number": inv.InvoiceNumber,
		"recipient":      address,
	}); err != nil {
		logger.ErrorContext(ctx, "audit follow-up failed", "error", err)
	}
	logger.InfoContext(ctx, "follow-up sent", "outcome", "success")
}

func emailBody(inv *model.Invoice) string {
	name := recipientName(inv)
	var b strings.Builder
	fmt.Fprintf(&b, "Guten Tag %s,\n\n", name)
	fmt.Fprintf(&b, "anbei erhalten Sie die Rechnung %s über %s.\n", inv.InvoiceNumber, money.Format(inv.GrossAmount, inv.Currency))
	b.WriteString("Die PDF-Datei ist die lesbare Fassung, die XML-Datei die strukturierte Rechnung (XRechnung).\n\n")
	b.WriteString("Mit freundlichen Grüßen\n")
	if sender := inv.Address(model.EntitySender); sender != nil {
		b.WriteString(sender.CompanyName + "\n")
	}
	return b.String()
}

func recipientName(inv *model.Invoice) string {
	addr := inv.Address(model.EntityRecipient)
	if addr == nil {
		return "Damen und Herren"
	}
	if addr.ContactName != "" {
		return addr.ContactName
	}
	if addr.CompanyName != "" {
		return addr.CompanyName
	}
	return "Damen und Herren"
}

// SMSResult is the outcome of SendInvoiceSMS
type SMSResult struct {
	Invoice      *model.Invoice
	Phone        string
	PINIssued    bool
	PINExpiresAt *time.Time
}

// SendInvoiceSMS sends a notification-only text. With includePIN a one-time
// retrieval PIN is issued, stored hashed, and embedded in the text.
func (r *Router) SendInvoiceSMS(ctx context.Context, invoiceID uuid.UUID, phone string, includePIN bool, actor audit.Actor) (*SMSResult, error) {
	logger := r.logger.With("operation", "send_invoice_sms", "invoice_id", invoiceID.String())

	inv, err := r.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if phone == "" {
		if addr := inv.Address(model.EntityRecipient); addr != nil {
			phone = addr.Phone
		}
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, model.NewDeliveryError(ChannelSMS, "", "no recipient phone number", nil)
	}

	body := fmt.Sprintf("Ihre Rechnung %s über %s liegt bereit.", inv.InvoiceNumber, money.Format(inv.GrossAmount, inv.Currency))
	result := &SMSResult{Invoice: inv, Phone: phone}

	if includePIN {
		if !inv.HasArtifacts() {
			return nil, fmt.Errorf("invoice %s: %w", invoiceID, model.ErrNotStored)
		}
		pin, err := r.newPIN()
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), r.cfg.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash pin: %w", err)
		}
		if err := r.pins.Put(ctx, inv.ID, hash, r.cfg.PINTTL); err != nil {
			return nil, fmt.Errorf("store pin: %w", err)
		}
		expires := r.clock.Now().Add(r.cfg.PINTTL).UTC()
		result.PINIssued = true
		result.PINExpiresAt = &expires
		body += fmt.Sprintf(" Abruf-PIN: %s (gültig bis %s).", pin, expires.Format("02.01.2006"))
	}

	if err := r.sms.SendSMS(ctx, phone, body); err != nil {
		if includePIN {
			if _, delErr := r.pins.Delete(ctx, inv.ID); delErr != nil {
				logger.ErrorContext(ctx, "revoke pin failed", "error", delErr)
			}
		}
		logger.ErrorContext(ctx, "sms failed", "outcome", "failure", "error", err)
		return nil, model.NewDeliveryError(ChannelSMS, MaskPhone(phone), "transport failed", err)
	}

	if _, err := r.audit.Append(ctx, inv.ID, model.ActionSMSSent, actor, nil, map[string]any{
		"phone":      MaskPhone(phone),
		"pin_issued": result.PINIssued,
	}); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "sms sent", "outcome", "success", "pin_issued", result.PINIssued)
	return result, nil
}

// VerifyPIN redeems a retrieval PIN and returns fresh signed URLs. A PIN works
// once; too many wrong guesses revoke it.
func (r *Router) VerifyPIN(ctx context.Context, invoiceID uuid.UUID, pin string, actor audit.Actor) (pdfURL, xmlURL string, err error) {
	logger := r.logger.With("operation", "verify_pin", "invoice_id", invoiceID.String())

	hash, err := r.pins.Get(ctx, invoiceID)
	if err != nil {
		return "", "", fmt.Errorf("load pin: %w", err)
	}
	if hash == nil {
		return "", "", model.ErrInvalidPIN
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(strings.TrimSpace(pin))); err != nil {
		failures, ferr := r.pins.RecordFailure(ctx, invoiceID)
		if ferr != nil {
			logger.ErrorContext(ctx, "record pin failure failed", "error", ferr)
		}
		if failures >= r.cfg.MaxPINAttempts {
			if _, err := r.pins.Delete(ctx, invoiceID); err != nil {
				logger.ErrorContext(ctx, "revoke pin failed", "outcome", "failure", "failures", failures, "error", err)
			} else {
				logger.WarnContext(ctx, "pin revoked after repeated failures", "outcome", "revoked", "failures", failures)
			}
		}
		return "", "", model.ErrInvalidPIN
	}
	deleted, err := r.pins.Delete(ctx, invoiceID)
	if err != nil {
		return "", "", fmt.Errorf("redeem pin: %w", err)
	}
	if !deleted {
		// redeemed concurrently
		return "", "", model.ErrInvalidPIN
	}

	inv, err := r.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return "", "", err
	}
	pdfURL, xmlURL, err = r.storage.SignedURLs(ctx, inv, r.cfg.PINTTL)
	if err != nil {
		return "", "", err
	}
	if _, err := r.audit.Append(ctx, invoiceID, model.ActionPINRedeemed, actor, nil, map[string]any{
		"invoice_number": inv.InvoiceNumber,
	}); err != nil {
		return "", "", err
	}
	logger.InfoContext(ctx, "pin redeemed", "outcome", "success")
	return pdfURL, xmlURL, nil
}

func (r *Router) newPIN() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.cfg.PINLength)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%0*d", r.cfg.PINLength, n), nil
}

// MaskPhone hides all but the last four digits of a phone number
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
