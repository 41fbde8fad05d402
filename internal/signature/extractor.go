package signature

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// XMLDSigNamespace is the W3C XML Signature namespace
const XMLDSigNamespace = "http://www.w3.org/2000/09/xmldsig#"

// ExtractionResult contains the extracted signature and related elements
type ExtractionResult struct {
	// SignatureElement is the <ds:Signature> element
	SignatureElement *etree.Element
	// SignedElement is the enveloping element, normally the document root
	SignedElement *etree.Element
	Document      *etree.Document
}

// Extract finds the XMLDSig signature in XML data
func Extract(data []byte) (*ExtractionResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty XML document")
	}

	sig := findSignatureElement(root)
	if sig == nil {
		return nil, newError(OpVerify, CodeNoSignature, "", nil)
	}

	signed := sig.Parent()
	if signed == nil {
		signed = root
	}

	return &ExtractionResult{
		SignatureElement: sig,
		SignedElement:    signed,
		Document:         doc,
	}, nil
}

// findSignatureElement searches the usual enveloped positions first
func findSignatureElement(root *etree.Element) *etree.Element {
	if root == nil {
		return nil
	}
	for _, path := range []string{"./ds:Signature", "./Signature"} {
		if elem := root.FindElement(path); elem != nil {
			return elem
		}
	}
	return findElementRecursive(root, "Signature")
}

// findElementRecursive searches for an element by local name recursively
func findElementRecursive(elem *etree.Element, localName string) *etree.Element {
	if elem.Tag == localName || hasLocalName(elem, localName) {
		return elem
	}
	for _, child := range elem.ChildElements() {
		if found := findElementRecursive(child, localName); found != nil {
			return found
		}
	}
	return nil
}

// hasLocalName checks the tag ignoring any namespace prefix
func hasLocalName(elem *etree.Element, localName string) bool {
	tag := elem.Tag
	if idx := strings.IndexByte(tag, ':'); idx >= 0 {
		tag = tag[idx+1:]
	}
	return tag == localName
}

// SignatureValue returns the base64 text of SignatureValue, "" if absent
func SignatureValue(sig *etree.Element) string {
	if sig == nil {
		return ""
	}
	for _, path := range []string{"./ds:SignatureValue", "./SignatureValue"} {
		if el := sig.FindElement(path); el != nil {
			return strings.Join(strings.Fields(el.Text()), "")
		}
	}
	return ""
}

// ExtractCertificateData extracts the base64-encoded certificate from a Signature element
func ExtractCertificateData(sig *etree.Element) ([]byte, error) {
	paths := []string{
		"KeyInfo/X509Data/X509Certificate",
		"ds:KeyInfo/ds:X509Data/ds:X509Certificate",
	}

	for _, path := range paths {
		if certElem := sig.FindElement(path); certElem != nil {
			if certText := certElem.Text(); certText != "" {
				return []byte(certText), nil
			}
		}
	}

	return nil, fmt.Errorf("no X509Certificate found in Signature")
}

// CanExtract returns true if the data appears to be XML with a signature
func CanExtract(data []byte) bool {
	if len(data) < 5 {
		return false
	}

	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) && !bytes.HasPrefix(trimmed, []byte("<")) {
		return false
	}

	return bytes.Contains(data, []byte("<Signature")) ||
		bytes.Contains(data, []byte("<ds:Signature")) ||
		bytes.Contains(data, []byte(":Signature"))
}
