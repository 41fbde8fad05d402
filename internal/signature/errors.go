package signature

import "strings"

// Codes carried by Error and by verification messages
const (
	CodeNoSignature     = "NO_SIGNATURE"
	CodeBadSignature    = "BAD_SIGNATURE"
	CodeCertExpired     = "CERT_EXPIRED"
	CodeCertNotYetValid = "CERT_NOT_YET_VALID"
	CodeUntrustedCert   = "UNTRUSTED_CERT"
	CodeKeyUnavailable  = "KEY_UNAVAILABLE"
	CodeNotXML          = "NOT_XML"
)

// Operations that can fail
const (
	OpLoad   = "load key"
	OpSign   = "sign"
	OpVerify = "verify"
)

// Error is returned when a key cannot be loaded, an export cannot be signed,
// or a signature cannot be located
type Error struct {
	Op     string
	Code   string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Code)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(op, code, detail string, cause error) *Error {
	return &Error{Op: op, Code: code, Detail: detail, Cause: cause}
}

func keyError(cause error) *Error {
	return newError(OpLoad, CodeKeyUnavailable, "", cause)
}
