package signature

import (
	"crypto/x509"
	"fmt"
	"time"
)

// VerificationResult reports whether a stored export carries an intact
// signature from a trusted, currently valid certificate
type VerificationResult struct {
	SignatureFound bool   `json:"signature_found"`
	SignatureValid bool   `json:"signature_valid"`
	CertValid      bool   `json:"cert_valid"`
	SignatureValue string `json:"signature_value,omitempty"`

	Signer *SignerInfo `json:"signer,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// SignerInfo identifies the certificate that produced a signature
type SignerInfo struct {
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	SerialNumber string    `json:"serial_number"`
	NotAfter     time.Time `json:"not_after"`
}

// Valid reports whether every check passed
func (r *VerificationResult) Valid() bool {
	return r.SignatureFound && r.SignatureValid && r.CertValid && len(r.Errors) == 0
}

func (r *VerificationResult) fail(code, format string, args ...any) {
	r.Errors = append(r.Errors, code+": "+fmt.Sprintf(format, args...))
}

func (r *VerificationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func signerInfo(cert *x509.Certificate) *SignerInfo {
	info := &SignerInfo{
		Name:         cert.Subject.CommonName,
		SerialNumber: cert.SerialNumber.String(),
		NotAfter:     cert.NotAfter,
	}
	if len(cert.Subject.Organization) > 0 {
		info.Organization = cert.Subject.Organization[0]
	}
	return info
}
