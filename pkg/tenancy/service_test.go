package tenancy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/quota"
	"github.com/billforge/billforge/pkg/store"
	"github.com/billforge/billforge/pkg/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	mem := memory.NewStore()
	runner := store.NewRunner(mem, time.Second, nil)
	engine := integrity.NewEngine(integrity.DefaultPolicy(true))
	return NewService(runner, engine, quota.NewManager(), zap.NewNop()), mem
}

func createTenant(t *testing.T, svc *Service, plan model.PlanType) *model.Tenant {
	t.Helper()
	suffix := uuid.NewString()[:8]
	tenant, err := svc.CreateTenant(context.Background(), &model.Tenant{
		Name:     "Shop " + suffix,
		Email:    fmt.Sprintf("owner-%s@example.com", suffix),
		Mobile:   "+91" + suffix,
		PlanType: plan,
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

func createOrg(t *testing.T, svc *Service, tenantID uuid.UUID, name string) *model.Organisation {
	t.Helper()
	org, err := svc.CreateOrganisation(context.Background(), tenantID, &model.Organisation{Name: name})
	if err != nil {
		t.Fatalf("create organisation %s: %v", name, err)
	}
	return org
}

func createBranch(t *testing.T, svc *Service, orgID uuid.UUID, code string) *model.Branch {
	t.Helper()
	branch, err := svc.CreateBranch(context.Background(), orgID, &model.Branch{Name: "Branch " + code, BranchCode: code})
	if err != nil {
		t.Fatalf("create branch %s: %v", code, err)
	}
	return branch
}

func TestCreateTenantAppliesPlanDefaults(t *testing.T) {
	svc, mem := newTestService(t)
	tenant := createTenant(t, svc, model.PlanStandard)

	if tenant.MaxOrganisations != 3 || tenant.MaxBranches != 10 || tenant.MaxUsers != 25 {
		t.Fatalf("unexpected limits: %+v", tenant.Limits())
	}
	events := mem.Events()
	if len(events) != 1 || events[0].EventType != model.EventTenantCreated {
		t.Fatalf("expected tenant.created event, got %+v", events)
	}
}

func TestCreateTenantRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := createTenant(t, svc, model.PlanStarter)

	_, err := svc.CreateTenant(context.Background(), &model.Tenant{
		Name:   "Other",
		Email:  tenant.Email,
		Mobile: "+15550000",
	})
	var conflict *apperr.UniquenessConflictError
	if !errors.As(err, &conflict) || conflict.Field != "email" {
		t.Fatalf("expected email uniqueness conflict, got %v", err)
	}
}

func TestCreateTenantValidation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateTenant(context.Background(), &model.Tenant{Name: "x", Email: "x@example.com", Mobile: "1", PlanType: "gold"})
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) || verr.Field != "plan_type" {
		t.Fatalf("expected plan_type validation error, got %v", err)
	}
}

func TestCreateOrganisationAtLimitFails(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := createTenant(t, svc, model.PlanStarter)
	createOrg(t, svc, tenant.ID, "Main")

	_, err := svc.CreateOrganisation(context.Background(), tenant.ID, &model.Organisation{Name: "Second"})
	var qerr *apperr.QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if qerr.Resource != "organisations" || qerr.Current != 1 || qerr.Limit != 1 {
		t.Fatalf("unexpected quota error: %+v", qerr)
	}

	_, total, err := svc.ListOrganisations(context.Background(), store.Filter{TenantID: tenant.ID})
	if err != nil {
		t.Fatalf("list organisations: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected no row to be created, got %d organisations", total)
	}
}

func TestStarterTenantSecondBranchFails(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := createTenant(t, svc, model.PlanStarter)
	org := createOrg(t, svc, tenant.ID, "Main")
	createBranch(t, svc, org.ID, "B1")

	_, err := svc.CreateBranch(context.Background(), org.ID, &model.Branch{Name: "Second", BranchCode: "B2"})
	if !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
}

func TestBranchQuotaIsCountedPerTenant(t *testing.T) {
	svc, _ := newTestService(t)
	tenant, err := svc.CreateTenant(context.Background(), &model.Tenant{
		Name: "Chain", Email: "chain@example.com", Mobile: "+100", PlanType: model.PlanStandard, MaxBranches: 2,
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	north := createOrg(t, svc, tenant.ID, "North")
	south := createOrg(t, svc, tenant.ID, "South")
	createBranch(t, svc, north.ID, "N1")
	createBranch(t, svc, south.ID, "S1")

	_, err = svc.CreateBranch(context.Background(), south.ID, &model.Branch{Name: "S2", BranchCode: "S2"})
	if !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded across organisations, got %v", err)
	}
}

func TestDeleteTenantRestrictedByOrganisation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc, model.PlanStarter)
	org := createOrg(t, svc, tenant.ID, "Main")

	_, err := svc.DeleteTenant(ctx, tenant.ID, integrity.Soft)
	var rerr *apperr.ReferentialConflictError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected referential conflict, got %v", err)
	}
	if rerr.Parent != "tenant" || rerr.Child != "organisation" || rerr.Count != 1 {
		t.Fatalf("unexpected conflict: %+v", rerr)
	}

	if _, err := svc.DeleteOrganisation(ctx, tenant.ID, org.ID, integrity.Soft); err != nil {
		t.Fatalf("delete organisation: %v", err)
	}
	report, err := svc.DeleteTenant(ctx, tenant.ID, integrity.Soft)
	if err != nil {
		t.Fatalf("expected tenant delete to succeed, got %v", err)
	}
	if report.AlreadyDeleted {
		t.Fatalf("expected a fresh delete")
	}
}

func TestDeleteOrganisationCascadesToBranches(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc, model.PlanStandard)
	org := createOrg(t, svc, tenant.ID, "Main")
	b1 := createBranch(t, svc, org.ID, "M1")
	b2 := createBranch(t, svc, org.ID, "M2")

	report, err := svc.DeleteOrganisation(ctx, tenant.ID, org.ID, integrity.Soft)
	if err != nil {
		t.Fatalf("delete organisation: %v", err)
	}
	if report.Cascaded[model.KindBranch] != 2 {
		t.Fatalf("expected 2 cascaded branches, got %v", report.Cascaded)
	}
	for _, id := range []uuid.UUID{b1.ID, b2.ID} {
		branch, err := svc.GetBranch(ctx, tenant.ID, id)
		if err != nil {
			t.Fatalf("get branch: %v", err)
		}
		if !model.IsTombstoned(branch.State()) {
			t.Fatalf("expected branch %s to be tombstoned", id)
		}
	}

	eventsBefore := len(mem.Events())
	again, err := svc.DeleteOrganisation(ctx, tenant.ID, org.ID, integrity.Soft)
	if err != nil {
		t.Fatalf("expected repeated delete to succeed, got %v", err)
	}
	if !again.AlreadyDeleted || len(again.Cascaded) != 0 {
		t.Fatalf("expected a no-op, got %+v", again)
	}
	if len(mem.Events()) != eventsBefore {
		t.Fatalf("expected no event for a repeated delete")
	}
}

func TestHardDeleteOfMissingOrganisationIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := createTenant(t, svc, model.PlanStarter)

	_, err := svc.DeleteOrganisation(context.Background(), tenant.ID, uuid.New(), integrity.Hard)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateBranchUnderDeletedOrganisationFails(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := createTenant(t, svc, model.PlanStandard)
	org := createOrg(t, svc, tenant.ID, "Main")
	if _, err := svc.DeleteOrganisation(context.Background(), tenant.ID, org.ID, integrity.Soft); err != nil {
		t.Fatalf("delete organisation: %v", err)
	}

	_, err := svc.CreateBranch(context.Background(), org.ID, &model.Branch{Name: "Late", BranchCode: "L1"})
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) || verr.Field != "organisation_id" {
		t.Fatalf("expected organisation_id validation error, got %v", err)
	}
}

func TestRestoreOrganisationRechecksQuota(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc, model.PlanStarter)
	first := createOrg(t, svc, tenant.ID, "First")
	if _, err := svc.DeleteOrganisation(ctx, tenant.ID, first.ID, integrity.Soft); err != nil {
		t.Fatalf("delete organisation: %v", err)
	}
	second := createOrg(t, svc, tenant.ID, "Second")

	if _, err := svc.RestoreOrganisation(ctx, tenant.ID, first.ID); !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded on restore, got %v", err)
	}

	if _, err := svc.DeleteOrganisation(ctx, tenant.ID, second.ID, integrity.Soft); err != nil {
		t.Fatalf("delete organisation: %v", err)
	}
	restored, err := svc.RestoreOrganisation(ctx, tenant.ID, first.ID)
	if err != nil {
		t.Fatalf("restore organisation: %v", err)
	}
	if model.IsTombstoned(restored.State()) {
		t.Fatalf("expected restored organisation to be active")
	}
}

func TestUsageReportsEveryResource(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := createTenant(t, svc, model.PlanPro)
	org := createOrg(t, svc, tenant.ID, "Main")
	createBranch(t, svc, org.ID, "P1")

	usage, err := svc.Usage(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	got := map[quota.Resource]quota.Usage{}
	for _, u := range usage {
		got[u.Resource] = u
	}
	if got[quota.Organisations].Current != 1 || got[quota.Organisations].Limit != 10 {
		t.Fatalf("unexpected organisation usage %+v", got[quota.Organisations])
	}
	if got[quota.Branches].Current != 1 || got[quota.Branches].Limit != 50 {
		t.Fatalf("unexpected branch usage %+v", got[quota.Branches])
	}
	if got[quota.Users].Current != 0 {
		t.Fatalf("unexpected user usage %+v", got[quota.Users])
	}
}

func TestOtherTenantsRowsAreHidden(t *testing.T) {
	svc, _ := newTestService(t)
	owner := createTenant(t, svc, model.PlanStarter)
	other := createTenant(t, svc, model.PlanStarter)
	org := createOrg(t, svc, owner.ID, "Main")

	if _, err := svc.GetOrganisation(context.Background(), other.ID, org.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for another tenant, got %v", err)
	}
}

func TestRestoreActiveOrganisationAtLimitIsValidationError(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := createTenant(t, svc, model.PlanStarter)
	org := createOrg(t, svc, tenant.ID, "Only")

	_, err := svc.RestoreOrganisation(context.Background(), tenant.ID, org.ID)
	if errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected the state check before the quota check, got %v", err)
	}
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) || verr.Field != "id" {
		t.Fatalf("expected validation error on id, got %v", err)
	}
}
