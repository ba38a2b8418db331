package invoice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/quota"
	"github.com/billforge/billforge/pkg/store"
	"github.com/billforge/billforge/pkg/store/memory"
	"github.com/billforge/billforge/pkg/tenancy"
)

// flakyStore loses the compare-and-swap on the first failures advances.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.RunInTx(ctx, func(tx store.Tx) error {
		return fn(&flakyTx{Tx: tx, parent: s})
	})
}

type flakyTx struct {
	store.Tx
	parent *flakyStore
}

func (tx *flakyTx) AdvanceSequence(ctx context.Context, seq *model.InvoiceSequence, previous int64) error {
	tx.parent.mu.Lock()
	defer tx.parent.mu.Unlock()
	if tx.parent.failures > 0 {
		tx.parent.failures--
		return apperr.ErrConflict
	}
	return tx.Tx.AdvanceSequence(ctx, seq, previous)
}

type fixture struct {
	invoices *Service
	tenancy  *tenancy.Service
}

func newFixture(t *testing.T, backing store.Store, opts Options) *fixture {
	t.Helper()
	runner := store.NewRunner(backing, 2*time.Second, nil)
	engine := integrity.NewEngine(integrity.DefaultPolicy(true))
	allocator := NewAllocator(runner, Formatter{PadWidth: 6, Separator: "-"}, opts, zap.NewNop())
	allocator.sleep = func(context.Context, time.Duration) error { return nil }
	return &fixture{
		invoices: NewService(allocator, runner, engine, zap.NewNop()),
		tenancy:  tenancy.NewService(runner, engine, quota.NewManager(), zap.NewNop()),
	}
}

func (f *fixture) scope(t *testing.T) model.Scope {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	tenant, err := f.tenancy.CreateTenant(ctx, &model.Tenant{Name: "Shop", Email: suffix + "@example.com", Mobile: suffix})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	org, err := f.tenancy.CreateOrganisation(ctx, tenant.ID, &model.Organisation{Name: "Main"})
	if err != nil {
		t.Fatalf("create organisation: %v", err)
	}
	return model.Scope{TenantID: tenant.ID, OrganisationID: org.ID}
}

func TestConcurrentAllocationsAreUniqueAndGapFree(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	scope := f.scope(t)

	const callers = 50
	values := make(chan int64, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := f.invoices.NextInvoiceNumber(context.Background(), scope, "INV")
			if err != nil {
				errs <- err
				return
			}
			values <- number.Value
		}()
	}
	wg.Wait()
	close(values)
	close(errs)

	for err := range errs {
		t.Fatalf("allocation failed: %v", err)
	}
	seen := make(map[int64]bool, callers)
	for value := range values {
		if seen[value] {
			t.Fatalf("value %d handed out twice", value)
		}
		seen[value] = true
	}
	for want := int64(1); want <= callers; want++ {
		if !seen[want] {
			t.Fatalf("value %d was never handed out", want)
		}
	}
}

func TestPrefixesAndTenantsAreIndependent(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	first := f.scope(t)
	second := f.scope(t)

	for _, tc := range []struct {
		scope  model.Scope
		prefix string
		want   string
	}{
		{first, "INV", "INV-000001"},
		{first, "INV", "INV-000002"},
		{first, "RET", "RET-000001"},
		{second, "INV", "INV-000001"},
		{first, "INV", "INV-000003"},
	} {
		number, err := f.invoices.NextInvoiceNumber(ctx, tc.scope, tc.prefix)
		if err != nil {
			t.Fatalf("allocate %s: %v", tc.prefix, err)
		}
		if number.Formatted != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, number.Formatted)
		}
	}
}

func TestAllocationRetriesLostRaces(t *testing.T) {
	backing := &flakyStore{Store: memory.NewStore()}
	f := newFixture(t, backing, Options{MaxAttempts: 5})
	scope := f.scope(t)

	backing.failures = 3
	number, err := f.invoices.NextInvoiceNumber(context.Background(), scope, "INV")
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if number.Value != 1 {
		t.Fatalf("expected first value after retries, got %d", number.Value)
	}
}

func TestAllocationFailsAfterMaxAttempts(t *testing.T) {
	backing := &flakyStore{Store: memory.NewStore()}
	f := newFixture(t, backing, Options{MaxAttempts: 3})
	scope := f.scope(t)

	backing.failures = 10
	_, err := f.invoices.NextInvoiceNumber(context.Background(), scope, "INV")
	var failed *apperr.AllocationFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	if failed.Attempts != 3 || failed.Prefix != "INV" {
		t.Fatalf("unexpected failure %+v", failed)
	}
	if !apperr.Retryable(err) {
		t.Fatalf("expected allocation failure to be retryable")
	}

	backing.failures = 0
	number, err := f.invoices.NextInvoiceNumber(context.Background(), scope, "INV")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if number.Value != 1 {
		t.Fatalf("expected failed attempts to leave no gap, got %d", number.Value)
	}
}

func TestAllocationWithCancelledContext(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	scope := f.scope(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.invoices.NextInvoiceNumber(ctx, scope, "INV")
	if !errors.Is(err, apperr.ErrAllocationFailed) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
}

func TestAllocationRejectsUnknownOrganisation(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	scope := f.scope(t)
	scope.OrganisationID = uuid.New()

	_, err := f.invoices.NextInvoiceNumber(context.Background(), scope, "INV")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIssueComputesTotalsAndStoresLines(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	scope := f.scope(t)

	invoice, err := f.invoices.Issue(ctx, scope, &model.Invoice{
		Prefix:       "INV",
		CustomerName: "Walk-in",
		Lines: []model.InvoiceLine{
			{Description: "Tea", Quantity: 2, UnitPrice: decimal.RequireFromString("10.50"), TaxRate: decimal.NewFromInt(10)},
			{Description: "Cake", Quantity: 1, UnitPrice: decimal.RequireFromString("4.00")},
		},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if invoice.Number != "INV-000001" || invoice.Status != model.InvoiceIssued {
		t.Fatalf("unexpected invoice %s %s", invoice.Number, invoice.Status)
	}
	if !invoice.Subtotal.Equal(decimal.RequireFromString("25.00")) || !invoice.TaxTotal.Equal(decimal.RequireFromString("2.10")) {
		t.Fatalf("unexpected totals %s / %s", invoice.Subtotal, invoice.TaxTotal)
	}
	if !invoice.Total.Equal(decimal.RequireFromString("27.10")) {
		t.Fatalf("unexpected total %s", invoice.Total)
	}

	loaded, err := f.invoices.Get(ctx, scope, invoice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(loaded.Lines))
	}
}

func TestFailedIssueLeavesNoGap(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	scope := f.scope(t)

	missing := uuid.New()
	_, err := f.invoices.Issue(ctx, scope, &model.Invoice{
		Prefix: "INV",
		Lines:  []model.InvoiceLine{{ProductID: &missing, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown product, got %v", err)
	}

	number, err := f.invoices.NextInvoiceNumber(ctx, scope, "INV")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if number.Value != 1 {
		t.Fatalf("expected the failed issue to be rolled back, got %d", number.Value)
	}
}

func TestIssueValidatesDraft(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	scope := f.scope(t)

	_, err := f.invoices.Issue(context.Background(), scope, &model.Invoice{Prefix: "INV"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty invoice, got %v", err)
	}
}

func TestVoidKeepsNumberReserved(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	scope := f.scope(t)

	invoice, err := f.invoices.Issue(ctx, scope, &model.Invoice{
		Prefix: "INV",
		Lines:  []model.InvoiceLine{{Description: "Item", Quantity: 1, UnitPrice: decimal.NewFromInt(5)}},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	voided, err := f.invoices.Void(ctx, scope, invoice.ID)
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != model.InvoiceVoid || voided.VoidedAt == nil {
		t.Fatalf("expected void invoice, got %+v", voided.Status)
	}
	if _, err := f.invoices.Void(ctx, scope, invoice.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected second void to fail, got %v", err)
	}

	number, err := f.invoices.NextInvoiceNumber(ctx, scope, "INV")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if number.Value != 2 {
		t.Fatalf("expected voided number to stay used, got %d", number.Value)
	}
}

func TestSeedSequenceNeverLowers(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	scope := f.scope(t)

	seq, err := f.invoices.SeedSequence(ctx, scope, "LEG", 500)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if seq.LastNumber != 500 {
		t.Fatalf("expected 500, got %d", seq.LastNumber)
	}
	if _, err := f.invoices.SeedSequence(ctx, scope, "LEG", 10); err != nil {
		t.Fatalf("seed lower: %v", err)
	}

	number, err := f.invoices.NextInvoiceNumber(ctx, scope, "LEG")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if number.Formatted != "LEG-000501" {
		t.Fatalf("expected LEG-000501, got %s", number.Formatted)
	}

	sequences, err := f.invoices.Sequences(ctx, scope.TenantID)
	if err != nil {
		t.Fatalf("sequences: %v", err)
	}
	if len(sequences) != 1 || sequences[0].LastNumber != 501 {
		t.Fatalf("unexpected sequences %+v", sequences)
	}
}

func TestDeleteInvoiceCascadesToLines(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	scope := f.scope(t)

	invoice, err := f.invoices.Issue(ctx, scope, &model.Invoice{
		Prefix: "INV",
		Lines: []model.InvoiceLine{
			{Description: "A", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
			{Description: "B", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
		},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	report, err := f.invoices.Delete(ctx, scope, invoice.ID, integrity.Soft)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if report.Cascaded[model.KindInvoiceLine] != 2 {
		t.Fatalf("expected 2 cascaded lines, got %v", report.Cascaded)
	}
	if _, err := f.invoices.Get(ctx, scope, invoice.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected deleted invoice to be hidden, got %v", err)
	}
}

// twoOrganisations creates a standard plan tenant owning two organisations.
func (f *fixture) twoOrganisations(t *testing.T) (model.Scope, model.Scope) {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	tenant, err := f.tenancy.CreateTenant(ctx, &model.Tenant{Name: "Chain", Email: suffix + "@example.com", Mobile: suffix, PlanType: model.PlanStandard})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	var scopes []model.Scope
	for _, name := range []string{"North", "South"} {
		org, err := f.tenancy.CreateOrganisation(ctx, tenant.ID, &model.Organisation{Name: name})
		if err != nil {
			t.Fatalf("create organisation %s: %v", name, err)
		}
		scopes = append(scopes, model.Scope{TenantID: tenant.ID, OrganisationID: org.ID})
	}
	return scopes[0], scopes[1]
}

func issueOne(t *testing.T, f *fixture, scope model.Scope) *model.Invoice {
	t.Helper()
	invoice, err := f.invoices.Issue(context.Background(), scope, &model.Invoice{
		Prefix: "INV",
		Lines:  []model.InvoiceLine{{Description: "Item", Quantity: 1, UnitPrice: decimal.NewFromInt(3)}},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return invoice
}

func TestInvoiceOfAnotherOrganisationIsHidden(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	north, south := f.twoOrganisations(t)
	invoice := issueOne(t, f, south)

	if _, err := f.invoices.Delete(ctx, north, invoice.ID, integrity.Hard); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected hard delete from another organisation to be not found, got %v", err)
	}
	if _, err := f.invoices.Delete(ctx, north, invoice.ID, integrity.Soft); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected soft delete from another organisation to be not found, got %v", err)
	}
	if _, err := f.invoices.Void(ctx, north, invoice.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected void from another organisation to be not found, got %v", err)
	}

	loaded, err := f.invoices.Get(ctx, south, invoice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != model.InvoiceIssued || len(loaded.Lines) != 1 {
		t.Fatalf("expected untouched invoice, got %s with %d lines", loaded.Status, len(loaded.Lines))
	}
}

func TestInvoiceOfAnotherBranchIsHidden(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	north, _ := f.twoOrganisations(t)

	var branches []model.Scope
	for _, name := range []string{"Front", "Back"} {
		branch, err := f.tenancy.CreateBranch(ctx, north.OrganisationID, &model.Branch{Name: name, BranchCode: name + uuid.NewString()[:6]})
		if err != nil {
			t.Fatalf("create branch %s: %v", name, err)
		}
		scope := north
		id := branch.ID
		scope.BranchID = &id
		branches = append(branches, scope)
	}
	invoice := issueOne(t, f, branches[1])

	if _, err := f.invoices.Delete(ctx, branches[0], invoice.ID, integrity.Soft); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected delete from another branch to be not found, got %v", err)
	}
	if _, err := f.invoices.Void(ctx, branches[0], invoice.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected void from another branch to be not found, got %v", err)
	}

	if _, err := f.invoices.Delete(ctx, branches[1], invoice.ID, integrity.Soft); err != nil {
		t.Fatalf("delete from owning branch: %v", err)
	}
	report, err := f.invoices.Delete(ctx, branches[1], invoice.ID, integrity.Soft)
	if err != nil || !report.AlreadyDeleted {
		t.Fatalf("expected repeated soft delete to be a no-op, got %+v %v", report, err)
	}
}

func TestSequenceIsSharedAcrossOrganisations(t *testing.T) {
	f := newFixture(t, memory.NewStore(), Options{})
	ctx := context.Background()
	north, south := f.twoOrganisations(t)

	for i, scope := range []model.Scope{north, south} {
		number, err := f.invoices.NextInvoiceNumber(ctx, scope, "INV")
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if number.Value != int64(i+1) {
			t.Fatalf("expected %d, got %d", i+1, number.Value)
		}
	}

	// The organisation that created the counter can still go away.
	if _, err := f.tenancy.DeleteOrganisation(ctx, north.TenantID, north.OrganisationID, integrity.Soft); err != nil {
		t.Fatalf("delete first organisation: %v", err)
	}
	number, err := f.invoices.NextInvoiceNumber(ctx, south, "INV")
	if err != nil {
		t.Fatalf("allocate after delete: %v", err)
	}
	if number.Value != 3 {
		t.Fatalf("expected 3, got %d", number.Value)
	}

	if _, err := f.tenancy.DeleteOrganisation(ctx, south.TenantID, south.OrganisationID, integrity.Soft); err != nil {
		t.Fatalf("delete second organisation: %v", err)
	}
	report, err := f.tenancy.DeleteTenant(ctx, north.TenantID, integrity.Soft)
	if err != nil {
		t.Fatalf("delete tenant: %v", err)
	}
	if report.Cascaded[model.KindInvoiceSequence] != 1 {
		t.Fatalf("expected the sequence to cascade with the tenant, got %v", report.Cascaded)
	}
}
