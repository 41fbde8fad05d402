package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the read-only view of a completed transport order supplied by the order store
type Order struct {
	ID             string           `gorm:"primaryKey" yaml:"id" json:"id"`
	SenderID       string           `yaml:"sender_id" json:"sender_id"`
	RecipientID    string           `yaml:"recipient_id" json:"recipient_id"`
	Status         string           `yaml:"status" json:"status"`
	Currency       string           `yaml:"currency" json:"currency"`
	Price          decimal.Decimal  `gorm:"type:numeric(14,4)" yaml:"price" json:"price"`
	TaxRate        *decimal.Decimal `gorm:"type:numeric(6,3)" yaml:"tax_rate" json:"tax_rate,omitempty"`
	PickupCity     string           `yaml:"pickup_city" json:"pickup_city"`
	DropoffCity    string           `yaml:"dropoff_city" json:"dropoff_city"`
	BuyerReference string           `yaml:"buyer_reference" json:"buyer_reference,omitempty"`
	CompletedAt    *time.Time       `yaml:"completed_at" json:"completed_at,omitempty"`
	Items          []OrderItem      `gorm:"foreignKey:OrderID" yaml:"items" json:"items,omitempty"`
}

// OrderItem is a priced position recorded on the order
type OrderItem struct {
	ID            string          `gorm:"primaryKey" yaml:"id" json:"id"`
	OrderID       string          `gorm:"index" yaml:"order_id" json:"order_id"`
	Description   string          `yaml:"description" json:"description"`
	Quantity      decimal.Decimal `gorm:"type:numeric(14,4)" yaml:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(14,4)" yaml:"unit_price" json:"unit_price"`
	UnitOfMeasure string          `yaml:"unit_of_measure" json:"unit_of_measure"`
}

// Profile is the read-only view of a user/company profile
type Profile struct {
	ID           string `gorm:"primaryKey" yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	CompanyName  string `yaml:"company_name" json:"company_name"`
	Email        string `yaml:"email" json:"email"`
	Phone        string `yaml:"phone" json:"phone"`
	TaxID        string `yaml:"tax_id" json:"tax_id"`
	Street       string `yaml:"street" json:"street"`
	StreetNumber string `yaml:"street_number" json:"street_number"`
	PostalCode   string `yaml:"postal_code" json:"postal_code"`
	City         string `yaml:"city" json:"city"`
	Country      string `yaml:"country" json:"country"`
}

// DisplayName prefers the company name
func (p *Profile) DisplayName() string {
	if p.CompanyName != "" {
		return p.CompanyName
	}
	return p.Name
}

// HasPostalAddress reports whether the profile has any postal data
func (p *Profile) HasPostalAddress() bool {
	return p.Street != "" || p.PostalCode != "" || p.City != ""
}
