package signature

import (
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// IDAttribute names the root attribute the enveloped reference points at
const IDAttribute = "ID"

// Signer produces enveloped XMLDSig signatures (RSA-SHA256)
type Signer struct {
	keys *KeyStore
}

// NewSigner creates a signer over keys
func NewSigner(keys *KeyStore) *Signer {
	return &Signer{keys: keys}
}

// Certificate returns the signing certificate
func (s *Signer) Certificate() *x509.Certificate {
	return s.keys.Certificate()
}

// Sign appends a ds:Signature to the document root and returns the signed
// bytes together with the base64 SignatureValue. The root receives an ID
// attribute set to referenceID when it has none.
func (s *Signer) Sign(data []byte, referenceID string) ([]byte, string, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, "", newError(OpSign, CodeNotXML, "", err)
	}
	root := tree.Root()
	if root == nil {
		return nil, "", newError(OpSign, CodeNotXML, "empty document", nil)
	}
	if root.SelectAttr(IDAttribute) == nil {
		root.CreateAttr(IDAttribute, referenceID)
	}

	ctx := dsig.NewDefaultSigningContext(s.keys)
	ctx.IdAttribute = IDAttribute
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, "", newError(OpSign, CodeKeyUnavailable, "unsupported signature method", err)
	}

	signed, err := ctx.SignEnveloped(root)
	if err != nil {
		return nil, "", newError(OpSign, CodeBadSignature, "enveloped signing failed", err)
	}
	tree.SetRoot(signed)

	// no re-indent after signing: whitespace is part of the digest
	out, err := tree.WriteToBytes()
	if err != nil {
		return nil, "", fmt.Errorf("serialize signed xml: %w", err)
	}

	value := SignatureValue(findSignatureElement(signed))
	if value == "" {
		return nil, "", newError(OpSign, CodeNoSignature, "signature value missing after signing", nil)
	}
	return out, value, nil
}
