// Package signature signs and verifies the XMLDSig envelope on the
// structured invoice export.
package signature

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"
)

// Verifier checks enveloped signatures against a fixed set of trusted certificates
type Verifier struct {
	roots []*x509.Certificate
	clock clockwork.Clock
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithClock sets the clock used for certificate validity checks
func WithClock(c clockwork.Clock) VerifierOption {
	return func(v *Verifier) {
		v.clock = c
	}
}

// NewVerifier creates a verifier trusting roots
func NewVerifier(roots []*x509.Certificate, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		roots: roots,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the enveloped signature in data. Content that is not XML or
// carries no signature returns an *Error alongside a populated result.
func (v *Verifier) Verify(ctx context.Context, data []byte) (*VerificationResult, error) {
	result := &VerificationResult{}

	if !CanVerify(data) {
		result.fail(CodeNotXML, "content is not XML")
		return result, newError(OpVerify, CodeNotXML, "", nil)
	}

	extraction, err := Extract(data)
	if err != nil {
		result.fail(CodeNoSignature, "%v", err)
		return result, newError(OpVerify, CodeNoSignature, "", err)
	}
	result.SignatureFound = true
	result.SignatureValue = SignatureValue(extraction.SignatureElement)

	validationCtx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: v.roots,
	})
	validationCtx.IdAttribute = IDAttribute
	validationCtx.Clock = dsig.NewFakeClock(v.clock)

	if _, err := validationCtx.Validate(extraction.Document.Root()); err != nil {
		result.fail(CodeBadSignature, "%v", err)
		// keep going so the signer is still reported
	} else {
		result.SignatureValid = true
	}

	cert, err := parseEmbeddedCertificate(extraction)
	if err != nil {
		result.warn("certificate extraction: %v", err)
	} else {
		result.Signer = signerInfo(cert)
		result.CertValid = v.checkCertificate(cert, result)
	}
	return result, nil
}

func (v *Verifier) checkCertificate(cert *x509.Certificate, result *VerificationResult) bool {
	now := v.clock.Now()
	if now.Before(cert.NotBefore) {
		result.fail(CodeCertNotYetValid, "%s is valid from %s", cert.Subject.CommonName, cert.NotBefore.Format(time.DateOnly))
		return false
	}
	if now.After(cert.NotAfter) {
		result.fail(CodeCertExpired, "%s expired on %s", cert.Subject.CommonName, cert.NotAfter.Format(time.DateOnly))
		return false
	}
	for _, root := range v.roots {
		if root.Equal(cert) {
			return true
		}
	}
	result.fail(CodeUntrustedCert, "%s is not a configured trust anchor", cert.Subject.CommonName)
	return false
}

func parseEmbeddedCertificate(extraction *ExtractionResult) (*x509.Certificate, error) {
	certData, err := ExtractCertificateData(extraction.SignatureElement)
	if err != nil {
		return nil, err
	}
	der, err := base64.StdEncoding.DecodeString(string(bytes.Join(bytes.Fields(certData), nil)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// CanVerify returns true if the data appears to be XML
func CanVerify(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<"))
}
