package compliance_test

import (
	"context"
	"crypto/x509"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-pipeline/internal/assembler"
	"github.com/rezonia/invoice-pipeline/internal/audit"
	"github.com/rezonia/invoice-pipeline/internal/compliance"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/render/pdf"
	"github.com/rezonia/invoice-pipeline/internal/render/xrechnung"
	"github.com/rezonia/invoice-pipeline/internal/repository"
	"github.com/rezonia/invoice-pipeline/internal/repository/memory"
	"github.com/rezonia/invoice-pipeline/internal/signature"
	"github.com/rezonia/invoice-pipeline/internal/storage"
)

var now = time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)

type pipeline struct {
	store   *repository.Store
	clock   *clockwork.FakeClock
	objects *storage.MemoryStore
	manager *storage.Manager
	engine  *compliance.Engine
}

type pipelineConfig struct {
	signer *signature.Signer
	gobd   []compliance.GoBDOption
}

func newPipeline(t *testing.T, cfg pipelineConfig) *pipeline {
	t.Helper()
	store, dir := memory.NewStore()
	memory.SeedDemo(dir)
	clock := clockwork.NewFakeClockAt(now)
	objects := storage.NewMemoryStore(clock)
	recorder := audit.NewRecorder(store.Audit, audit.WithClock(clock))

	deps := storage.Dependencies{
		Assembler: assembler.New(store.Orders, store.Profiles, store.Invoices, assembler.WithClock(clock)),
		Invoices:  store.Invoices,
		PDF:       pdf.NewRenderer(),
		XML:       xrechnung.NewRenderer(),
		Objects:   objects,
		Audit:     recorder,
		Clock:     clock,
	}
	if cfg.signer != nil {
		deps.Signer = cfg.signer
	}
	manager := storage.NewManager(deps)

	engine := compliance.NewEngine(compliance.Dependencies{
		Invoices:  store.Invoices,
		Results:   store.Validations,
		Artifacts: manager,
		Registry:  compliance.DefaultRegistry(cfg.gobd...),
		Audit:     recorder,
		Clock:     clock,
	})
	return &pipeline{store: store, clock: clock, objects: objects, manager: manager, engine: engine}
}

func (p *pipeline) storeOrder(t *testing.T, orderID string) *model.Invoice {
	t.Helper()
	res, err := p.manager.StoreInvoice(context.Background(), orderID, audit.System())
	require.NoError(t, err)
	return res.Invoice
}

func resultByType(report *compliance.Report, typ model.ValidationType) *model.ValidationResult {
	for _, r := range report.Results {
		if r.ValidationType == typ {
			return r
		}
	}
	return nil
}

func TestValidateInvoiceAll_Passes(t *testing.T) {
	p := newPipeline(t, pipelineConfig{})
	ctx := context.Background()
	inv := p.storeOrder(t, memory.DemoOrder)
	p.clock.Advance(time.Minute)

	report, err := p.engine.ValidateInvoiceAll(ctx, inv.ID, audit.Actor{UserID: "auditor"})
	require.NoError(t, err)

	require.Len(t, report.Results, 4)
	for _, res := range report.Results {
		assert.True(t, res.Passed, "%s: %v", res.ValidationType, res.ErrorMessages)
		assert.NotEqual(t, uuid.Nil, res.ID)
		assert.Equal(t, now.Add(time.Minute), res.ValidationDate)
	}
	assert.True(t, report.Passed)
	assert.Empty(t, report.Failed())
	assert.Equal(t, model.StatusValidated, report.Invoice.Status)

	stored, err := p.store.Invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, stored.Status)

	entries, err := p.store.Audit.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, model.ActionInvoiceValidated, entries[0].Action)
	assert.Equal(t, model.ActionValidationRun, entries[1].Action)
}

func TestValidateInvoiceAll_MissingBuyerTaxID(t *testing.T) {
	p := newPipeline(t, pipelineConfig{})
	ctx := context.Background()
	inv := p.storeOrder(t, memory.DemoOrderNoTaxID)

	report, err := p.engine.ValidateInvoiceAll(ctx, inv.ID, audit.System())
	require.NoError(t, err)
	assert.False(t, report.Passed)

	xr := resultByType(report, model.ValidationXRechnung)
	require.NotNil(t, xr)
	assert.False(t, xr.Passed)
	require.NotEmpty(t, xr.ErrorMessages)
	assert.Contains(t, strings.Join(xr.ErrorMessages, "\n"), "buyer VAT identifier is missing")

	assert.True(t, resultByType(report, model.ValidationFormat).Passed)
	assert.True(t, resultByType(report, model.ValidationTax).Passed)

	stored, err := p.store.Invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStored, stored.Status, "a failing run never advances the status")

	failed := false
	results, err := p.engine.GetAllValidationResults(ctx, repository.ValidationFilter{InvoiceID: &inv.ID, Passed: &failed})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.ValidationXRechnung, results[0].ValidationType)
}

func TestValidateInvoiceAll_DraftIsRejected(t *testing.T) {
	p := newPipeline(t, pipelineConfig{})
	ctx := context.Background()

	asm := assembler.New(p.store.Orders, p.store.Profiles, p.store.Invoices, assembler.WithClock(p.clock))
	doc, err := asm.Assemble(ctx, memory.DemoOrder)
	require.NoError(t, err)
	inv, _, err := p.store.Invoices.CreateIfAbsent(ctx, doc.Invoice())
	require.NoError(t, err)

	_, err = p.engine.ValidateInvoiceAll(ctx, inv.ID, audit.System())
	assert.ErrorIs(t, err, model.ErrNotStored)

	_, err = p.engine.ValidateInvoiceAll(ctx, uuid.New(), audit.System())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestValidateInvoiceAll_DetectsModifiedArtifact(t *testing.T) {
	p := newPipeline(t, pipelineConfig{})
	ctx := context.Background()
	inv := p.storeOrder(t, memory.DemoOrder)

	key := storage.ArtifactPath(inv.ID, inv.InvoiceNumber, "pdf")
	require.NoError(t, p.objects.Put(ctx, p.manager.Bucket(), key, []byte("%PDF-1.4 forged"), "application/pdf"))

	report, err := p.engine.ValidateInvoiceAll(ctx, inv.ID, audit.System())
	require.NoError(t, err)

	gobd := resultByType(report, model.ValidationGoBD)
	require.NotNil(t, gobd)
	assert.False(t, gobd.Passed)
	messages := strings.Join(gobd.ErrorMessages, "\n")
	assert.Contains(t, messages, "stored PDF differs")
	assert.Contains(t, messages, "not a readable archive copy")
	assert.Equal(t, model.StatusStored, report.Invoice.Status)
}

func TestRestoreKeepsValidationHistory(t *testing.T) {
	p := newPipeline(t, pipelineConfig{})
	ctx := context.Background()
	inv := p.storeOrder(t, memory.DemoOrder)

	_, err := p.engine.ValidateInvoiceAll(ctx, inv.ID, audit.System())
	require.NoError(t, err)

	p.clock.Advance(time.Hour)
	again := p.storeOrder(t, memory.DemoOrder)
	assert.Equal(t, inv.ID, again.ID)
	assert.Equal(t, model.StatusValidated, again.Status)

	filter := repository.ValidationFilter{InvoiceID: &inv.ID}
	results, err := p.engine.GetAllValidationResults(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, results, 4, "re-storing does not clear results")

	p.clock.Advance(time.Hour)
	_, err = p.engine.ValidateInvoiceAll(ctx, inv.ID, audit.System())
	require.NoError(t, err)

	results, err = p.engine.GetAllValidationResults(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, results, 8, "a fresh run adds rows")

	latest, err := p.engine.LatestResults(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, latest, 4)
	for _, res := range latest {
		assert.Equal(t, now.Add(2*time.Hour), res.ValidationDate)
	}
}

func TestValidateInvoice_SingleType(t *testing.T) {
	p := newPipeline(t, pipelineConfig{})
	ctx := context.Background()
	inv := p.storeOrder(t, memory.DemoOrder)

	res, err := p.engine.ValidateInvoice(ctx, inv.ID, model.ValidationTax, audit.System())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, model.ValidationTax, res.ValidationType)

	stored, err := p.store.Invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStored, stored.Status)

	_, err = p.engine.ValidateInvoice(ctx, inv.ID, model.ValidationType("peppol"), audit.System())
	assert.Error(t, err)
}

func TestValidateInvoiceAll_CancelledContext(t *testing.T) {
	p := newPipeline(t, pipelineConfig{})
	inv := p.storeOrder(t, memory.DemoOrder)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.engine.ValidateInvoiceAll(ctx, inv.ID, audit.System())
	require.ErrorIs(t, err, context.Canceled)

	results, err := p.engine.GetAllValidationResults(context.Background(), repository.ValidationFilter{InvoiceID: &inv.ID})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGoBD_SignatureRequiredForGovernment(t *testing.T) {
	isAgency := func(email string) bool { return strings.HasSuffix(email, "@hamburg.de") }

	t.Run("unsigned", func(t *testing.T) {
		p := newPipeline(t, pipelineConfig{gobd: []compliance.GoBDOption{compliance.WithSignatureRequiredFor(isAgency)}})
		inv := p.storeOrder(t, memory.DemoOrderAgency)

		res, err := p.engine.ValidateInvoice(context.Background(), inv.ID, model.ValidationGoBD, audit.System())
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Contains(t, strings.Join(res.ErrorMessages, "\n"), "digital signature is required")
	})

	t.Run("signed and verified", func(t *testing.T) {
		keys, err := signature.GenerateKeyStore("Weber Kurierdienst", "", now, 365*24*time.Hour)
		require.NoError(t, err)
		signer := signature.NewSigner(keys)
		verifier := signature.NewVerifier([]*x509.Certificate{signer.Certificate()},
			signature.WithClock(clockwork.NewFakeClockAt(now)))

		p := newPipeline(t, pipelineConfig{
			signer: signer,
			gobd: []compliance.GoBDOption{
				compliance.WithSignatureRequiredFor(isAgency),
				compliance.WithSignatureVerifier(verifier),
			},
		})
		inv := p.storeOrder(t, memory.DemoOrderAgency)

		report, err := p.engine.ValidateInvoiceAll(context.Background(), inv.ID, audit.System())
		require.NoError(t, err)
		for _, res := range report.Results {
			assert.True(t, res.Passed, "%s: %v", res.ValidationType, res.ErrorMessages)
		}
		assert.Equal(t, model.StatusValidated, report.Invoice.Status)
	})

	t.Run("untrusted signer", func(t *testing.T) {
		keys, err := signature.GenerateKeyStore("Weber Kurierdienst", "", now, 365*24*time.Hour)
		require.NoError(t, err)
		other, err := signature.GenerateKeyStore("Someone Else", "", now, 365*24*time.Hour)
		require.NoError(t, err)
		verifier := signature.NewVerifier([]*x509.Certificate{other.Certificate()},
			signature.WithClock(clockwork.NewFakeClockAt(now)))

		p := newPipeline(t, pipelineConfig{
			signer: signature.NewSigner(keys),
			gobd:   []compliance.GoBDOption{compliance.WithSignatureVerifier(verifier)},
		})
		inv := p.storeOrder(t, memory.DemoOrderAgency)

		res, err := p.engine.ValidateInvoice(context.Background(), inv.ID, model.ValidationGoBD, audit.System())
		require.NoError(t, err)
		assert.False(t, res.Passed)
	})
}

func TestGetAllValidationResults_Filters(t *testing.T) {
	p := newPipeline(t, pipelineConfig{})
	ctx := context.Background()
	good := p.storeOrder(t, memory.DemoOrder)
	bad := p.storeOrder(t, memory.DemoOrderNoTaxID)

	_, err := p.engine.ValidateInvoiceAll(ctx, good.ID, audit.System())
	require.NoError(t, err)
	p.clock.Advance(time.Hour)
	_, err = p.engine.ValidateInvoiceAll(ctx, bad.ID, audit.System())
	require.NoError(t, err)

	typ := model.ValidationXRechnung
	results, err := p.engine.GetAllValidationResults(ctx, repository.ValidationFilter{ValidationType: &typ})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, bad.ID, results[0].InvoiceID, "newest first")

	start := now.Add(30 * time.Minute)
	results, err = p.engine.GetAllValidationResults(ctx, repository.ValidationFilter{StartDate: &start})
	require.NoError(t, err)
	assert.Len(t, results, 4)

	end := now.Add(-time.Hour)
	_, err = p.engine.GetAllValidationResults(ctx, repository.ValidationFilter{StartDate: &start, EndDate: &end})
	assert.Error(t, err)
}
