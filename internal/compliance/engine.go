package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/invoice-pipeline/internal/audit"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
)

// ArtifactSource loads the stored artifacts of an invoice
type ArtifactSource interface {
	Artifacts(ctx context.Context, inv *model.Invoice) (pdf, xml []byte, err error)
}

// Auditor appends lifecycle entries
type Auditor interface {
	Append(ctx context.Context, invoiceID uuid.UUID, action string, actor audit.Actor, previous, next any) (*model.AuditLogEntry, error)
}

// Dependencies are the collaborators of an Engine
type Dependencies struct {
	Invoices  repository.InvoiceRepository
	Results   repository.ValidationRepository
	Artifacts ArtifactSource
	Registry  *Registry
	Audit     Auditor
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Engine runs validators against stored invoices and records their results
type Engine struct {
	invoices  repository.InvoiceRepository
	results   repository.ValidationRepository
	artifacts ArtifactSource
	registry  *Registry
	audit     Auditor
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Report is the outcome of one validation run
type Report struct {
	Invoice *model.Invoice
	Results []*model.ValidationResult
	Passed  bool
}

// Failed returns the results that did not pass
func (r *Report) Failed() []*model.ValidationResult {
	var failed []*model.ValidationResult
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// NewEngine creates an engine
func NewEngine(deps Dependencies) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		invoices:  deps.Invoices,
		results:   deps.Results,
		artifacts: deps.Artifacts,
		registry:  deps.Registry,
		audit:     deps.Audit,
		clock:     clock,
		logger:    logger.With("module", "compliance"),
	}
}

// ValidateInvoiceAll runs every registered validator concurrently and records
// each result. Only when all pass is the invoice advanced to validated; a
// failing run leaves the status untouched.
func (e *Engine) ValidateInvoiceAll(ctx context.Context, invoiceID uuid.UUID, actor audit.Actor) (*Report, error) {
	return e.run(ctx, invoiceID, actor, e.registry.All(), true)
}

// ValidateInvoice runs a single validator type. It records the result but
// never changes the invoice status.
func (e *Engine) ValidateInvoice(ctx context.Context, invoiceID uuid.UUID, typ model.ValidationType, actor audit.Actor) (*model.ValidationResult, error) {
	v := e.registry.Get(typ)
	if v == nil {
		return nil, fmt.Errorf("no validator registered for %q", typ)
	}
	report, err := e.run(ctx, invoiceID, actor, []Validator{v}, false)
	if err != nil {
		return nil, err
	}
	return report.Results[0], nil
}

func (e *Engine) run(ctx context.Context, invoiceID uuid.UUID, actor audit.Actor, validators []Validator, advance bool) (*Report, error) {
	logger := e.logger.With("operation", "validate_invoice", "invoice_id", invoiceID.String())

	inv, err := e.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.HasArtifacts() {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, model.ErrNotStored)
	}
	pdfBytes, xmlBytes, err := e.artifacts.Artifacts(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}

	now := e.clock.Now().UTC()
	subject := &Subject{Invoice: inv, PDF: pdfBytes, XML: xmlBytes, Now: now}

	// fan out, then join: results are only looked at once every validator finished
	results := make([]*model.ValidationResult, len(validators))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range validators {
		g.Go(func() error {
			res, err := v.Validate(gctx, subject)
			if err != nil {
				return fmt.Errorf("%s validator: %w", v.Type(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.ErrorContext(ctx, "validation run aborted", "outcome", "failure", "error", err)
		return nil, err
	}

	report := &Report{Invoice: inv, Results: results, Passed: true}
	summary := make(map[string]any, len(results))
	for _, res := range results {
		res.ID = uuid.New()
		res.InvoiceID = inv.ID
		res.ValidationDate = now
		if err := e.results.Create(ctx, res); err != nil {
			return nil, fmt.Errorf("record %s result: %w", res.ValidationType, err)
		}
		summary[string(res.ValidationType)] = res.Passed
		if !res.Passed {
			report.Passed = false
		}
		logger.InfoContext(ctx, "validator finished", "validation_type", string(res.ValidationType),
			"passed", res.Passed, "errors", len(res.ErrorMessages), "warnings", len(res.WarningMessages))
	}

	if _, err := e.audit.Append(ctx, inv.ID, model.ActionValidationRun, actor, nil, summary); err != nil {
		return nil, err
	}

	if advance && report.Passed {
		previous := inv.Snapshot()
		updated, changed, err := e.invoices.AdvanceStatus(ctx, inv.ID, model.StatusValidated, now)
		if err != nil {
			return nil, fmt.Errorf("advance status: %w", err)
		}
		report.Invoice = updated
		if changed {
			if _, err := e.audit.Append(ctx, inv.ID, model.ActionInvoiceValidated, actor, previous, updated.Snapshot()); err != nil {
				return nil, err
			}
		}
	}

	logger.InfoContext(ctx, "validation run completed", "outcome", outcome(report.Passed), "status", string(report.Invoice.Status))
	return report, nil
}

// LatestResults returns the most recent result per validator type
func (e *Engine) LatestResults(ctx context.Context, invoiceID uuid.UUID) (map[model.ValidationType]model.ValidationResult, error) {
	all, err := e.results.List(ctx, repository.ValidationFilter{InvoiceID: &invoiceID})
	if err != nil {
		return nil, err
	}
	latest := make(map[model.ValidationType]model.ValidationResult)
	for _, res := range all {
		// List is newest first
		if _, seen := latest[res.ValidationType]; !seen {
			latest[res.ValidationType] = res
		}
	}
	return latest, nil
}

// ErrInvalidDateRange is returned when a filter's end date precedes its start date
var ErrInvalidDateRange = errors.New("end date precedes start date")

// GetAllValidationResults is the read-only dashboard query
func (e *Engine) GetAllValidationResults(ctx context.Context, filter repository.ValidationFilter) ([]model.ValidationResult, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, ErrInvalidDateRange
	}
	return e.results.List(ctx, filter)
}

func outcome(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}
