package compliance

import (
	"context"
	"time"

	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/render/pdf"
	"github.com/rezonia/invoice-pipeline/internal/signature"
	"github.com/rezonia/invoice-pipeline/internal/storage"
)

// RetentionPeriod is the statutory retention of invoices (§147 AO)
const RetentionPeriod = 10 * 365 * 24 * time.Hour

// SignatureVerifier checks the enveloped signature of the structured export
type SignatureVerifier interface {
	Verify(ctx context.Context, data []byte) (*signature.VerificationResult, error)
}

// GoBDOption configures a GoBDValidator
type GoBDOption func(*GoBDValidator)

// WithSignatureVerifier enables cryptographic verification of stored signatures
func WithSignatureVerifier(v SignatureVerifier) GoBDOption {
	return func(g *GoBDValidator) {
		g.verifier = v
	}
}

// WithSignatureRequiredFor marks recipients whose invoices must be signed
func WithSignatureRequiredFor(required func(email string) bool) GoBDOption {
	return func(g *GoBDValidator) {
		g.requiredFor = required
	}
}

// WithSignatureAlwaysRequired requires a signature on every invoice
func WithSignatureAlwaysRequired() GoBDOption {
	return func(g *GoBDValidator) {
		g.requiredFor = func(string) bool { return true }
	}
}

// GoBDValidator checks retention properties: the stored artifacts are unchanged
// since storage, readable, signed where required and consistently timestamped.
type GoBDValidator struct {
	verifier    SignatureVerifier
	requiredFor func(email string) bool
}

// NewGoBDValidator creates a GoBD validator. Without options no signature is
// required and present signatures are only matched against the invoice row.
func NewGoBDValidator(opts ...GoBDOption) *GoBDValidator {
	g := &GoBDValidator{
		requiredFor: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (v *GoBDValidator) Type() model.ValidationType { return model.ValidationGoBD }

func (v *GoBDValidator) Version() string { return "1.1.0" }

func (v *GoBDValidator) Validate(ctx context.Context, s *Subject) (*model.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv := s.Invoice
	result := model.NewValidationResult(inv.ID, v.Type(), v.Version())

	v.checkImmutability(result, inv, s)
	v.checkReadable(result, s.PDF)
	if err := v.checkSignature(ctx, result, inv, s.XML); err != nil {
		return nil, err
	}
	v.checkTimestamps(result, inv, s.Now)

	return result, nil
}

func (v *GoBDValidator) checkImmutability(result *model.ValidationResult, inv *model.Invoice, s *Subject) {
	if inv.PDFHash == "" || inv.XMLHash == "" {
		result.AddError("no content hash was recorded at storage time")
		return
	}
	if storage.Hash(s.PDF) != inv.PDFHash {
		result.AddError("stored PDF differs from the version recorded at storage time")
	}
	if storage.Hash(s.XML) != inv.XMLHash {
		result.AddError("stored XML differs from the version recorded at storage time")
	}
}

func (v *GoBDValidator) checkReadable(result *model.ValidationResult, content []byte) {
	info, err := pdf.Inspect(content)
	if err != nil {
		result.AddError("stored PDF is not a readable archive copy: %v", err)
		return
	}
	if info.PageCount == 0 {
		result.AddError("stored PDF has no pages")
	}
}

func (v *GoBDValidator) checkSignature(ctx context.Context, result *model.ValidationResult, inv *model.Invoice, xml []byte) error {
	if inv.DigitalSignature == nil {
		if v.requiredFor(inv.RecipientEmail) {
			result.AddError("digital signature is required for recipient %s but none was stored", inv.RecipientEmail)
		}
		return nil
	}
	if v.verifier == nil {
		result.AddWarning("signature present but no trust anchors are configured; not verified")
		return nil
	}

	verification, err := v.verifier.Verify(ctx, xml)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil || !verification.Valid() {
		result.AddError("signature on the structured export does not verify")
		if verification != nil {
			for _, msg := range verification.Errors {
				result.AddError("signature: %s", msg)
			}
		}
		return nil
	}
	for _, msg := range verification.Warnings {
		result.AddWarning("signature: %s", msg)
	}
	if verification.SignatureValue != *inv.DigitalSignature {
		result.AddError("signature in the stored XML does not match the recorded signature value")
	}
	return nil
}

func (v *GoBDValidator) checkTimestamps(result *model.ValidationResult, inv *model.Invoice, now time.Time) {
	if inv.CreatedAt.IsZero() {
		result.AddError("creation timestamp is missing")
		return
	}
	if inv.StoredAt == nil {
		result.AddError("storage timestamp is missing")
		return
	}
	if inv.StoredAt.Before(inv.CreatedAt) {
		result.AddError("storage timestamp %s precedes creation %s",
			inv.StoredAt.UTC().Format(time.RFC3339), inv.CreatedAt.UTC().Format(time.RFC3339))
	}
	if !now.IsZero() && inv.StoredAt.After(now) {
		result.AddError("storage timestamp %s lies in the future", inv.StoredAt.UTC().Format(time.RFC3339))
	}
	if inv.SentAt != nil && inv.SentAt.Before(*inv.StoredAt) {
		result.AddError("sent timestamp precedes storage")
	}
	if !now.IsZero() && now.Sub(inv.CreatedAt) > RetentionPeriod-30*24*time.Hour {
		result.AddWarning("retention period ends %s", inv.CreatedAt.Add(RetentionPeriod).Format("2006-01-02"))
	}
}
