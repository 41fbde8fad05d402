package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	money "github.com/rezonia/invoice-pipeline/internal/decimal"
)

// Status is the lifecycle state of an invoice
type Status string

const (
	StatusDraft     Status = "draft"
	StatusStored    Status = "stored"
	StatusValidated Status = "validated"
	StatusSent      Status = "sent"
)

// statusOrder defines the only permitted direction of travel
var statusOrder = map[Status]int{
	StatusDraft:     0,
	StatusStored:    1,
	StatusValidated: 2,
	StatusSent:      3,
}

// Rank returns the position of s in the lifecycle, -1 if unknown
func (s Status) Rank() int {
	if r, ok := statusOrder[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next is a forward transition
func (s Status) CanAdvanceTo(next Status) bool {
	return next.Valid() && next.Rank() > s.Rank()
}

// Before reports whether s comes strictly before other
func (s Status) Before(other Status) bool {
	return s.Rank() < other.Rank()
}

// StatusesUpTo returns every status ranked at or below s
func StatusesUpTo(s Status) []Status {
	out := make([]Status, 0, len(statusOrder))
	for _, candidate := range []Status{StatusDraft, StatusStored, StatusValidated, StatusSent} {
		if candidate.Rank() <= s.Rank() {
			out = append(out, candidate)
		}
	}
	return out
}

// EntityType tags an address as belonging to sender or recipient
type EntityType string

const (
	EntitySender    EntityType = "sender"
	EntityRecipient EntityType = "recipient"
)

// Invoice is the persisted invoice row. One invoice per order.
type Invoice struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"invoice_id"`
	OrderID          string          `gorm:"uniqueIndex;not null" json:"order_id"`
	SenderID         string          `gorm:"index;not null" json:"sender_id"`
	RecipientID      string          `gorm:"index" json:"recipient_id"`
	InvoiceNumber    string          `gorm:"uniqueIndex;not null" json:"invoice_number"`
	Amount           decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"amount"`
	TaxRate          decimal.Decimal `gorm:"type:numeric(6,3);not null" json:"tax_rate"`
	TaxAmount        decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"tax_amount"`
	GrossAmount      decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"gross_amount"`
	Currency         string          `gorm:"size:3;not null" json:"currency"`
	Status           Status          `gorm:"size:16;index;not null" json:"status"`
	RecipientEmail   string          `json:"recipient_email,omitempty"`
	BuyerReference   string          `json:"buyer_reference,omitempty"`
	DeliveryDate     *time.Time      `json:"delivery_date,omitempty"`
	PDFURL           string          `json:"pdf_url,omitempty"`
	XMLURL           string          `json:"xml_url,omitempty"`
	PDFHash          string          `gorm:"size:64" json:"pdf_hash,omitempty"`
	XMLHash          string          `gorm:"size:64" json:"xml_hash,omitempty"`
	DigitalSignature *string         `json:"digital_signature,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	StoredAt         *time.Time      `json:"stored_at,omitempty"`
	SentAt           *time.Time      `json:"sent_at,omitempty"`

	Addresses []InvoiceAddress  `gorm:"foreignKey:InvoiceID" json:"addresses,omitempty"`
	LineItems []InvoiceLineItem `gorm:"foreignKey:InvoiceID" json:"line_items,omitempty"`
}

// Address returns the address for the given entity type, nil if missing
func (inv *Invoice) Address(entity EntityType) *InvoiceAddress {
	for i := range inv.Addresses {
		if inv.Addresses[i].EntityType == entity {
			return &inv.Addresses[i]
		}
	}
	return nil
}

// SetAddress replaces or adds the address for its entity type
func (inv *Invoice) SetAddress(addr InvoiceAddress) {
	addr.InvoiceID = inv.ID
	for i := range inv.Addresses {
		if inv.Addresses[i].EntityType == addr.EntityType {
			addr.ID = inv.Addresses[i].ID
			inv.Addresses[i] = addr
			return
		}
	}
	inv.Addresses = append(inv.Addresses, addr)
}

// CalculateTotals recomputes every line total, the net amount, tax and gross
func (inv *Invoice) CalculateTotals() {
	totals := make([]decimal.Decimal, 0, len(inv.LineItems))
	for i := range inv.LineItems {
		inv.LineItems[i].Calculate(inv.Currency)
		totals = append(totals, inv.LineItems[i].TotalPrice)
	}
	inv.Amount = money.Round(money.Sum(totals), inv.Currency)
	inv.TaxAmount = money.CalculateTax(inv.Amount, inv.TaxRate, inv.Currency)
	inv.GrossAmount = inv.Amount.Add(inv.TaxAmount)
}

// HasArtifacts reports whether both artifact URLs are recorded
func (inv *Invoice) HasArtifacts() bool {
	return inv.PDFURL != "" && inv.XMLURL != ""
}

// Snapshot is the audit view of the invoice
func (inv *Invoice) Snapshot() map[string]any {
	snap := map[string]any{
		"invoice_id":     inv.ID.String(),
		"order_id":       inv.OrderID,
		"invoice_number": inv.InvoiceNumber,
		"status":         string(inv.Status),
		"amount":         inv.Amount.String(),
		"currency":       inv.Currency,
	}
	if inv.PDFHash != "" {
		snap["pdf_hash"] = inv.PDFHash
	}
	if inv.XMLHash != "" {
		snap["xml_hash"] = inv.XMLHash
	}
	if inv.SentAt != nil {
		snap["sent_at"] = inv.SentAt.UTC().Format(time.RFC3339)
	}
	return snap
}

// InvoiceAddress holds structured postal fields for sender or recipient
type InvoiceAddress struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID    uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_invoice_entity;not null" json:"invoice_id"`
	EntityType   EntityType `gorm:"size:16;uniqueIndex:idx_invoice_entity;not null" json:"entity_type"`
	CompanyName  string     `json:"company_name"`
	ContactName  string     `json:"contact_name,omitempty"`
	Street       string     `json:"street"`
	StreetNumber string     `json:"street_number"`
	PostalCode   string     `json:"postal_code"`
	City         string     `json:"city"`
	Country      string     `gorm:"size:2" json:"country"`
	TaxID        string     `json:"tax_id,omitempty"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
}

// MissingFields lists the postal fields that are empty
func (a *InvoiceAddress) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("company_name", a.CompanyName)
	check("street", a.Street)
	check("street_number", a.StreetNumber)
	check("postal_code", a.PostalCode)
	check("city", a.City)
	check("country", a.Country)
	return missing
}

// StreetLine joins street and number
func (a *InvoiceAddress) StreetLine() string {
	return strings.TrimSpace(a.Street + " " + a.StreetNumber)
}

// CityLine joins postal code and city
func (a *InvoiceAddress) CityLine() string {
	return strings.TrimSpace(a.PostalCode + " " + a.City)
}

// InvoiceLineItem is one billed position
type InvoiceLineItem struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID     uuid.UUID       `gorm:"type:uuid;index;not null" json:"invoice_id"`
	Position      int             `gorm:"not null" json:"position"`
	Description   string          `gorm:"not null" json:"description"`
	Quantity      decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"unit_price"`
	UnitOfMeasure string          `gorm:"size:8;not null" json:"unit_of_measure"`
	TotalPrice    decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"total_price"`
}

// Calculate sets TotalPrice = Quantity * UnitPrice rounded to the currency's minor unit
func (li *InvoiceLineItem) Calculate(currency string) {
	li.TotalPrice = money.LineTotal(li.Quantity, li.UnitPrice, currency)
}

// ValidationType names one of the independent rule sets
type ValidationType string

const (
	ValidationXRechnung ValidationType = "xrechnung"
	ValidationGoBD      ValidationType = "gobd"
	ValidationFormat    ValidationType = "format"
	ValidationTax       ValidationType = "tax"
)

// AllValidationTypes lists every validator type in a stable order
func AllValidationTypes() []ValidationType {
	return []ValidationType{ValidationXRechnung, ValidationGoBD, ValidationFormat, ValidationTax}
}

// ParseValidationType parses a validator type name
func ParseValidationType(s string) (ValidationType, error) {
	for _, t := range AllValidationTypes() {
		if string(t) == strings.ToLower(strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown validation type: %q", s)
}

// ValidationResult is the write-once outcome of one validator run
type ValidationResult struct {
	ID               uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID        uuid.UUID                   `gorm:"type:uuid;index;not null" json:"invoice_id"`
	ValidationType   ValidationType              `gorm:"size:16;index;not null" json:"validation_type"`
	Passed           bool                        `gorm:"index" json:"passed"`
	ValidatorVersion string                      `gorm:"size:32" json:"validator_version"`
	ErrorMessages    datatypes.JSONSlice[string] `json:"error_messages"`
	WarningMessages  datatypes.JSONSlice[string] `json:"warning_messages"`
	ValidationDate   time.Time                   `gorm:"index" json:"validation_date"`
	// Seq orders results recorded within the same instant
	Seq int64 `gorm:"autoIncrement;not null;index" json:"-"`
}

// NewValidationResult creates an empty passing result for the given type
func NewValidationResult(invoiceID uuid.UUID, typ ValidationType, version string) *ValidationResult {
	return &ValidationResult{
		InvoiceID:        invoiceID,
		ValidationType:   typ,
		ValidatorVersion: version,
		Passed:           true,
		ErrorMessages:    datatypes.JSONSlice[string]{},
		WarningMessages:  datatypes.JSONSlice[string]{},
	}
}

// AddError records a blocking finding and fails the result
func (r *ValidationResult) AddError(format string, args ...any) {
	r.ErrorMessages = append(r.ErrorMessages, fmt.Sprintf(format, args...))
	r.Passed = false
}

// AddWarning records a non-blocking finding
func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.WarningMessages = append(r.WarningMessages, fmt.Sprintf(format, args...))
}

// AuditLogEntry is an append-only record of a lifecycle transition
type AuditLogEntry struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"invoice_id"`
	Action        string         `gorm:"size:64;index;not null" json:"action"`
	UserID        *string        `json:"user_id,omitempty"`
	PreviousState datatypes.JSON `json:"previous_state,omitempty"`
	NewState      datatypes.JSON `json:"new_state,omitempty"`
	Timestamp     time.Time      `gorm:"index;not null" json:"timestamp"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
}

// Audit actions
const (
	ActionInvoiceCreated    = "invoice_created"
	ActionInvoiceStored     = "invoice_stored"
	ActionValidationRun     = "validation_run"
	ActionInvoiceValidated  = "invoice_validated"
	ActionInvoiceSent       = "invoice_sent"
	ActionSMSSent           = "invoice_sms_sent"
	ActionFollowUpScheduled = "government_followup_scheduled"
	ActionFollowUpSent      = "government_followup_sent"
	ActionFollowUpFailed    = "government_followup_failed"
	ActionPINRedeemed       = "retrieval_pin_redeemed"
)
