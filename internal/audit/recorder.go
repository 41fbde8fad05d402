// Package audit records append-only lifecycle entries for invoices.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"

	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
)

// Actor identifies who triggered a transition. An empty UserID means the system.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// System is the actor for scheduled or internal transitions
func System() Actor {
	return Actor{}
}

// Recorder appends audit entries and fans them out to a publisher
type Recorder struct {
	repo      repository.AuditRepository
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Option configures a Recorder
type Option func(*Recorder)

// WithPublisher sets the downstream publisher
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) {
		r.publisher = p
	}
}

// WithClock sets the clock used for entry timestamps
func WithClock(c clockwork.Clock) Option {
	return func(r *Recorder) {
		r.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// NewRecorder creates a recorder over the append-only repository
func NewRecorder(repo repository.AuditRepository, opts ...Option) *Recorder {
	r := &Recorder{
		repo:   repo,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append stores one entry. previous and next are snapshotted as JSON; nil is
// stored as SQL NULL. Publishing is best effort and never fails the append.
func (r *Recorder) Append(ctx context.Context, invoiceID uuid.UUID, action string, actor Actor, previous, next any) (*model.AuditLogEntry, error) {
	prevJSON, err := snapshot(previous)
	if err != nil {
		return nil, fmt.Errorf("audit previous state: %w", err)
	}
	nextJSON, err := snapshot(next)
	if err != nil {
		return nil, fmt.Errorf("audit new state: %w", err)
	}

	entry := &model.AuditLogEntry{
		ID:            uuid.New(),
		InvoiceID:     invoiceID,
		Action:        action,
		PreviousState: prevJSON,
		NewState:      nextJSON,
		Timestamp:     r.clock.Now().UTC(),
		IPAddress:     actor.IPAddress,
		UserAgent:     actor.UserAgent,
	}
	if actor.UserID != "" {
		user := actor.UserID
		entry.UserID = &user
	}

	if err := r.repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	r.publish(ctx, entry)
	return entry, nil
}

// ListByInvoice returns the invoice's history, newest first
func (r *Recorder) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]model.AuditLogEntry, error) {
	return r.repo.ListByInvoice(ctx, invoiceID)
}

func (r *Recorder) publish(ctx context.Context, entry *model.AuditLogEntry) {
	if r.publisher == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		r.logger.WarnContext(ctx, "audit event encode failed",
			"module", "audit", "operation", "publish", "outcome", "failure", "error", err)
		return
	}
	if err := r.publisher.Publish(ctx, "invoice."+entry.Action, payload, entry.InvoiceID.String()); err != nil {
		r.logger.WarnContext(ctx, "audit event publish failed",
			"module", "audit",
			"operation", "publish",
			"outcome", "failure",
			"invoice_id", entry.InvoiceID.String(),
			"action", entry.Action,
			"error", err,
		)
	}
}

func snapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	switch typed := v.(type) {
	case datatypes.JSON:
		return typed, nil
	case json.RawMessage:
		return datatypes.JSON(typed), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
