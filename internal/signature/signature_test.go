package signature

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

const sampleInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2" xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>RE-20261002-3F2A9C10</cbc:ID>
  <cbc:DocumentCurrencyCode>EUR</cbc:DocumentCurrencyCode>
</Invoice>
`

var signedAt = time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)

func newKeys(t *testing.T) *KeyStore {
	t.Helper()
	ks, err := GenerateKeyStore("Weber Kurierdienst", "Weber Kurierdienst", signedAt, 365*24*time.Hour)
	if err != nil {
		t.Fatalf("generate key store: %v", err)
	}
	return ks
}

func TestSignAndVerify(t *testing.T) {
	keys := newKeys(t)
	signer := NewSigner(keys)

	signed, value, err := signer.Sign([]byte(sampleInvoice), "invoice-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if value == "" {
		t.Fatal("expected signature value")
	}
	if !CanExtract(signed) {
		t.Fatal("signed output has no signature element")
	}

	verifier := NewVerifier([]*x509.Certificate{signer.Certificate()},
		WithClock(clockwork.NewFakeClockAt(signedAt.Add(time.Hour))))
	result, err := verifier.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid() {
		t.Fatalf("expected valid signature, errors: %v", result.Errors)
	}
	if result.SignatureValue != value {
		t.Errorf("SignatureValue: got %q, want %q", result.SignatureValue, value)
	}
	if result.Signer == nil || result.Signer.Name != "Weber Kurierdienst" {
		t.Errorf("unexpected signer: %+v", result.Signer)
	}
}

func TestSign_IsDeterministic(t *testing.T) {
	signer := NewSigner(newKeys(t))

	first, v1, err := signer.Sign([]byte(sampleInvoice), "invoice-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, v2, err := signer.Sign([]byte(sampleInvoice), "invoice-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !bytes.Equal(first, second) || v1 != v2 {
		t.Error("signing identical input twice should yield identical output")
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	signer := NewSigner(newKeys(t))
	signed, _, err := signer.Sign([]byte(sampleInvoice), "invoice-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := bytes.Replace(signed, []byte("<cbc:DocumentCurrencyCode>EUR"), []byte("<cbc:DocumentCurrencyCode>USD"), 1)
	verifier := NewVerifier([]*x509.Certificate{signer.Certificate()},
		WithClock(clockwork.NewFakeClockAt(signedAt)))

	result, err := verifier.Verify(context.Background(), tampered)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid() || result.SignatureValid {
		t.Error("tampered document must not verify")
	}
	if len(result.Errors) == 0 {
		t.Error("expected error messages")
	}
}

func TestVerify_UntrustedCertificate(t *testing.T) {
	signer := NewSigner(newKeys(t))
	signed, _, err := signer.Sign([]byte(sampleInvoice), "invoice-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	other := newKeys(t)
	verifier := NewVerifier([]*x509.Certificate{other.Certificate()},
		WithClock(clockwork.NewFakeClockAt(signedAt)))
	result, err := verifier.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid() {
		t.Error("signature from untrusted key must not verify")
	}
	if result.CertValid {
		t.Error("certificate should not be trusted")
	}
}

func TestVerify_ExpiredCertificate(t *testing.T) {
	signer := NewSigner(newKeys(t))
	signed, _, err := signer.Sign([]byte(sampleInvoice), "invoice-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	verifier := NewVerifier([]*x509.Certificate{signer.Certificate()},
		WithClock(clockwork.NewFakeClockAt(signedAt.AddDate(2, 0, 0))))
	result, _ := verifier.Verify(context.Background(), signed)
	if result.Valid() {
		t.Fatal("expired certificate must not verify")
	}
	found := false
	for _, msg := range result.Errors {
		if strings.Contains(msg, CodeCertExpired) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in errors, got %v", CodeCertExpired, result.Errors)
	}
}

func TestVerify_NoSignature(t *testing.T) {
	verifier := NewVerifier(nil)

	result, err := verifier.Verify(context.Background(), []byte(sampleInvoice))
	var sigErr *Error
	if !errors.As(err, &sigErr) || sigErr.Code != CodeNoSignature {
		t.Fatalf("expected NO_SIGNATURE, got %v", err)
	}
	if result.SignatureFound {
		t.Error("SignatureFound should be false")
	}

	_, err = verifier.Verify(context.Background(), []byte("%PDF-1.4"))
	if !errors.As(err, &sigErr) || sigErr.Code != CodeNotXML {
		t.Fatalf("expected NOT_XML, got %v", err)
	}
}

func TestParseKeyStore(t *testing.T) {
	keys := newKeys(t)
	key, certDER, err := keys.GetKeyPair()
	if err != nil {
		t.Fatalf("get key pair: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	parsed, err := ParseKeyStore(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("parse key store: %v", err)
	}
	if !parsed.Certificate().Equal(keys.Certificate()) {
		t.Error("parsed certificate differs")
	}

	_, err = ParseKeyStore(certPEM, []byte("garbage"))
	var sigErr *Error
	if !errors.As(err, &sigErr) || sigErr.Code != CodeKeyUnavailable || sigErr.Op != OpLoad {
		t.Errorf("expected KEY_UNAVAILABLE, got %v", err)
	}
}

func TestParseCertificates(t *testing.T) {
	first, second := newKeys(t), newKeys(t)
	bundle := append(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: first.Certificate().Raw}),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: second.Certificate().Raw})...,
	)

	certs, err := ParseCertificates(bundle)
	if err != nil {
		t.Fatalf("parse certificates: %v", err)
	}
	if len(certs) != 2 || !certs[1].Equal(second.Certificate()) {
		t.Errorf("expected both certificates in order, got %d", len(certs))
	}

	if _, err := ParseCertificates([]byte("not pem")); err == nil {
		t.Error("expected error for input without certificates")
	}
}

func TestExtractCertificateData(t *testing.T) {
	signer := NewSigner(newKeys(t))
	signed, _, err := signer.Sign([]byte(sampleInvoice), "invoice-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	extraction, err := Extract(signed)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if extraction.SignedElement.Tag != "Invoice" {
		t.Errorf("SignedElement: got %s, want Invoice", extraction.SignedElement.Tag)
	}
	data, err := ExtractCertificateData(extraction.SignatureElement)
	if err != nil || len(data) == 0 {
		t.Errorf("expected certificate data, got err %v", err)
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		err      *Error
		expected string
	}{
		{newError(OpVerify, CodeNoSignature, "", nil), "verify: NO_SIGNATURE"},
		{newError(OpSign, CodeNotXML, "empty document", nil), "sign: NOT_XML: empty document"},
		{keyError(errors.New("no PEM data")), "load key: KEY_UNAVAILABLE: no PEM data"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.expected {
			t.Errorf("got %q, want %q", got, tt.expected)
		}
	}
}
