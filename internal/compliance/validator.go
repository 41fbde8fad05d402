// Package compliance runs the independent rule sets (xrechnung, gobd, format,
// tax) against a stored invoice and records one write-once result per run.
package compliance

import (
	"context"
	"time"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

// Subject is everything a validator may look at. Validators must not modify it.
type Subject struct {
	Invoice *model.Invoice
	PDF     []byte
	XML     []byte
	Now     time.Time
}

// Validator checks one rule set. Findings go into the result; the error return
// is reserved for the run itself failing (e.g. a cancelled context).
type Validator interface {
	Type() model.ValidationType
	Version() string
	Validate(ctx context.Context, s *Subject) (*model.ValidationResult, error)
}

// Registry holds one validator per type
type Registry struct {
	validators []Validator
}

// NewRegistry creates a registry with the given validators
func NewRegistry(validators ...Validator) *Registry {
	r := &Registry{}
	for _, v := range validators {
		r.Register(v)
	}
	return r
}

// Register adds v, replacing any validator of the same type
func (r *Registry) Register(v Validator) {
	for i, existing := range r.validators {
		if existing.Type() == v.Type() {
			r.validators[i] = v
			return
		}
	}
	r.validators = append(r.validators, v)
}

// Get returns the validator for typ, nil if none is registered
func (r *Registry) Get(typ model.ValidationType) Validator {
	for _, v := range r.validators {
		if v.Type() == typ {
			return v
		}
	}
	return nil
}

// All returns the registered validators in registration order
func (r *Registry) All() []Validator {
	out := make([]Validator, len(r.validators))
	copy(out, r.validators)
	return out
}

// Types lists the registered validator types
func (r *Registry) Types() []model.ValidationType {
	types := make([]model.ValidationType, 0, len(r.validators))
	for _, v := range r.validators {
		types = append(types, v.Type())
	}
	return types
}

// DefaultRegistry registers the four standard rule sets
func DefaultRegistry(gobd ...GoBDOption) *Registry {
	return NewRegistry(
		NewXRechnungValidator(),
		NewGoBDValidator(gobd...),
		NewFormatValidator(),
		NewTaxValidator(nil),
	)
}
