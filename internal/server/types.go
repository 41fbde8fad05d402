package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

// StoreResponse is the response for the store endpoint
type StoreResponse struct {
	Invoice *model.Invoice `json:"invoice"`
	PDFURL  string         `json:"pdf_url"`
	XMLURL  string         `json:"xml_url"`
	Created bool           `json:"created"`
}

// InvoiceResponse is the response for the invoice lookup endpoint
type InvoiceResponse struct {
	Invoice     *model.Invoice                                   `json:"invoice"`
	Validations map[model.ValidationType]model.ValidationResult `json:"validations"`
}

// ValidationResponse is the response for validate endpoints
type ValidationResponse struct {
	InvoiceID uuid.UUID                 `json:"invoice_id"`
	Status    model.Status              `json:"status"`
	Passed    bool                      `json:"passed"`
	Results   []*model.ValidationResult `json:"results"`
}

// EmailRequest is the body of the email endpoint
type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// EmailResponse is the response for the email endpoint
type EmailResponse struct {
	Invoice    *model.Invoice `json:"invoice"`
	Recipient  string         `json:"recipient"`
	Government bool           `json:"government"`
	FollowUpAt *time.Time     `json:"follow_up_at,omitempty"`
}

// SMSRequest is the body of the SMS endpoint. An empty phone selects the
// recipient's number on file.
type SMSRequest struct {
	Phone      string `json:"phone"`
	IncludePIN bool   `json:"include_pin"`
}

// SMSResponse is the response for the SMS endpoint. The PIN itself is only
// ever sent to the phone.
type SMSResponse struct {
	InvoiceID    uuid.UUID  `json:"invoice_id"`
	Phone        string     `json:"phone"`
	PINIssued    bool       `json:"pin_issued"`
	PINExpiresAt *time.Time `json:"pin_expires_at,omitempty"`
}

// RetrieveRequest is the body of the PIN retrieval endpoint
type RetrieveRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// RetrieveResponse carries fresh signed links to both artifacts
type RetrieveResponse struct {
	PDFURL string `json:"pdf_url"`
	XMLURL string `json:"xml_url"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
