package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

// KeyStore holds the RSA key and certificate used for XMLDSig.
// It satisfies goxmldsig's X509KeyStore.
type KeyStore struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

// LoadKeyStore reads a PEM certificate and PEM RSA private key
func LoadKeyStore(certFile, keyFile string) (*KeyStore, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, keyError(err)
	}
	return fromTLS(pair)
}

// ParseKeyStore builds a key store from PEM blocks held in memory
func ParseKeyStore(certPEM, keyPEM []byte) (*KeyStore, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, keyError(err)
	}
	return fromTLS(pair)
}

func fromTLS(pair tls.Certificate) (*KeyStore, error) {
	key, ok := pair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, keyError(fmt.Errorf("private key is %T, want RSA", pair.PrivateKey))
	}
	if len(pair.Certificate) == 0 {
		return nil, keyError(fmt.Errorf("no certificate in pair"))
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, keyError(err)
	}
	return &KeyStore{key: key, cert: cert}, nil
}

// GenerateKeyStore creates a throwaway self-signed identity for development
func GenerateKeyStore(commonName, organization string, now time.Time, validity time.Duration) (*KeyStore, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, keyError(err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, keyError(err)
	}
	subject := pkix.Name{CommonName: commonName}
	if organization != "" {
		subject.Organization = []string{organization}
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, keyError(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, keyError(err)
	}
	return &KeyStore{key: key, cert: cert}, nil
}

// GetKeyPair implements dsig.X509KeyStore
func (k *KeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return k.key, k.cert.Raw, nil
}

// Certificate returns the signing certificate
func (k *KeyStore) Certificate() *x509.Certificate {
	return k.cert
}

// LoadCertificates reads every CERTIFICATE block from the given PEM files.
// Each file must contain at least one certificate.
func LoadCertificates(paths ...string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read trusted certificate: %w", err)
		}
		parsed, err := ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		certs = append(certs, parsed...)
	}
	return certs, nil
}

// ParseCertificates decodes the certificates in pemData
func ParseCertificates(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		pemData = rest
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in PEM data")
	}
	return certs, nil
}
