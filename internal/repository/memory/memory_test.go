package memory_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
	"github.com/rezonia/invoice-pipeline/internal/repository/memory"
)

func draftInvoice(orderID string) *model.Invoice {
	id := uuid.New()
	return &model.Invoice{
		ID:            id,
		OrderID:       orderID,
		SenderID:      "driver-1",
		InvoiceNumber: "RE-20261002-" + id.String()[:8],
		Currency:      "EUR",
		Status:        model.StatusDraft,
		CreatedAt:     time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC),
		LineItems: []model.InvoiceLineItem{
			{ID: uuid.New(), InvoiceID: id, Position: 1, Description: "Transport", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10)},
		},
	}
}

func TestDirectory_LoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	content := `
orders:
  - id: order-9
    sender_id: p-1
    recipient_id: p-2
    currency: EUR
    price: "19.99"
    items:
      - id: i-1
        description: Express
        quantity: "2"
        unit_price: "4.50"
profiles:
  - id: p-1
    name: Anna
    company_name: Anna Transporte
    city: Köln
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	dir := memory.NewDirectory()
	require.NoError(t, dir.LoadFixtures(path))

	order, err := dir.GetOrder(context.Background(), "order-9")
	require.NoError(t, err)
	assert.True(t, order.Price.Equal(decimal.RequireFromString("19.99")))
	require.Len(t, order.Items, 1)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("4.50")))

	profile, err := dir.GetProfile(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Anna Transporte", profile.DisplayName())

	_, err = dir.GetProfile(context.Background(), "p-2")
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Error(t, dir.LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestInvoiceRepository_CreateIfAbsent(t *testing.T) {
	repo := memory.NewInvoiceRepository()
	ctx := context.Background()

	first := draftInvoice("order-1")
	got, created, err := repo.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, got.ID)

	second := draftInvoice("order-1")
	got, created, err = repo.CreateIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID, "existing invoice is returned on conflict")

	byOrder, err := repo.GetByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceNumber, byOrder.InvoiceNumber)
}

func TestInvoiceRepository_CreateIfAbsentConcurrent(t *testing.T) {
	repo := memory.NewInvoiceRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[uuid.UUID]int)
	createdCount := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, created, err := repo.CreateIfAbsent(ctx, draftInvoice("order-race"))
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			ids[inv.ID]++
			if created {
				createdCount++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Len(t, ids, 1)
}

func TestInvoiceRepository_ReturnsCopies(t *testing.T) {
	repo := memory.NewInvoiceRepository()
	ctx := context.Background()
	inv := draftInvoice("order-2")
	_, _, err := repo.CreateIfAbsent(ctx, inv)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	got.LineItems[0].Description = "mutated"
	got.Status = model.StatusSent

	again, err := repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Transport", again.LineItems[0].Description)
	assert.Equal(t, model.StatusDraft, again.Status)
}

func TestInvoiceRepository_SaveArtifactsAndAdvance(t *testing.T) {
	repo := memory.NewInvoiceRepository()
	ctx := context.Background()
	inv := draftInvoice("order-3")
	_, _, err := repo.CreateIfAbsent(ctx, inv)
	require.NoError(t, err)

	storedAt := time.Date(2026, 10, 2, 9, 1, 0, 0, time.UTC)
	sig := "c2lnbmF0dXJl"
	got, err := repo.SaveArtifacts(ctx, inv.ID, repository.ArtifactSet{
		PDFURL: "https://files/pdf", XMLURL: "https://files/xml",
		PDFHash: "aa", XMLHash: "bb", Signature: &sig, StoredAt: storedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusStored, got.Status)
	require.NotNil(t, got.StoredAt)
	assert.Equal(t, storedAt, *got.StoredAt)
	assert.True(t, got.HasArtifacts())
	require.NotNil(t, got.DigitalSignature)
	assert.Equal(t, sig, *got.DigitalSignature)

	sentAt := storedAt.Add(time.Hour)
	got, changed, err := repo.AdvanceStatus(ctx, inv.ID, model.StatusSent, sentAt)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)

	// validating after sending must not regress
	got, changed, err = repo.AdvanceStatus(ctx, inv.ID, model.StatusValidated, sentAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.StatusSent, got.Status)

	// re-storing keeps the status
	got, err = repo.SaveArtifacts(ctx, inv.ID, repository.ArtifactSet{PDFURL: "p2", XMLURL: "x2", StoredAt: sentAt})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, storedAt, *got.StoredAt)

	_, _, err = repo.AdvanceStatus(ctx, uuid.New(), model.StatusSent, sentAt)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = repo.SaveArtifacts(ctx, uuid.New(), repository.ArtifactSet{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestValidationRepository_ListFilters(t *testing.T) {
	repo := memory.NewValidationRepository()
	ctx := context.Background()
	invoiceA, invoiceB := uuid.New(), uuid.New()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	add := func(inv uuid.UUID, typ model.ValidationType, passed bool, day int) {
		r := model.NewValidationResult(inv, typ, "1.0.0")
		if !passed {
			r.AddError("broken")
		}
		r.ValidationDate = base.AddDate(0, 0, day)
		require.NoError(t, repo.Create(ctx, r))
	}
	add(invoiceA, model.ValidationTax, true, 0)
	add(invoiceA, model.ValidationXRechnung, false, 1)
	add(invoiceB, model.ValidationTax, false, 2)
	add(invoiceB, model.ValidationGoBD, true, 3)

	all, err := repo.List(ctx, repository.ValidationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, model.ValidationGoBD, all[0].ValidationType, "newest first")

	failed := false
	taxType := model.ValidationTax
	got, err := repo.List(ctx, repository.ValidationFilter{Passed: &failed, ValidationType: &taxType})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, invoiceB, got[0].InvoiceID)

	start, end := base.AddDate(0, 0, 1), base.AddDate(0, 0, 2)
	got, err = repo.List(ctx, repository.ValidationFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = repo.List(ctx, repository.ValidationFilter{InvoiceID: &invoiceA})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestValidationRepository_SameInstantNewestFirst(t *testing.T) {
	repo := memory.NewValidationRepository()
	ctx := context.Background()
	invoice := uuid.New()
	at := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)

	var created []*model.ValidationResult
	for _, typ := range []model.ValidationType{model.ValidationXRechnung, model.ValidationGoBD, model.ValidationFormat, model.ValidationTax} {
		r := model.NewValidationResult(invoice, typ, "1.0.0")
		r.ValidationDate = at
		require.NoError(t, repo.Create(ctx, r))
		created = append(created, r)
	}
	for i := 1; i < len(created); i++ {
		assert.Greater(t, created[i].Seq, created[i-1].Seq)
	}

	for range 3 {
		got, err := repo.List(ctx, repository.ValidationFilter{InvoiceID: &invoice})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, []model.ValidationType{
			model.ValidationTax, model.ValidationFormat, model.ValidationGoBD, model.ValidationXRechnung,
		}, []model.ValidationType{got[0].ValidationType, got[1].ValidationType, got[2].ValidationType, got[3].ValidationType})
	}
}

func TestValidationRepository_WriteOnce(t *testing.T) {
	repo := memory.NewValidationRepository()
	r := model.NewValidationResult(uuid.New(), model.ValidationFormat, "1.0.0")
	require.NoError(t, repo.Create(context.Background(), r))
	assert.ErrorIs(t, repo.Create(context.Background(), r), model.ErrConflict)
}

func TestAuditRepository_NewestFirst(t *testing.T) {
	repo := memory.NewAuditRepository()
	ctx := context.Background()
	inv := uuid.New()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	for i, action := range []string{model.ActionInvoiceCreated, model.ActionInvoiceStored, model.ActionInvoiceSent} {
		require.NoError(t, repo.Append(ctx, &model.AuditLogEntry{
			InvoiceID: inv, Action: action, Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Append(ctx, &model.AuditLogEntry{InvoiceID: uuid.New(), Action: "other", Timestamp: base}))

	entries, err := repo.ListByInvoice(ctx, inv)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.ActionInvoiceSent, entries[0].Action)
	assert.Equal(t, model.ActionInvoiceCreated, entries[2].Action)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
}
