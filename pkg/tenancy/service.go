// Package tenancy manages the Tenant -> Organisation -> Branch ownership
// tree and the plan quotas bounding it.
package tenancy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/metrics"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/quota"
	"github.com/billforge/billforge/pkg/store"
)

type Service struct {
	runner    *store.Runner
	engine    *integrity.Engine
	quotas    *quota.Manager
	hierarchy *quota.Hierarchy
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(runner *store.Runner, engine *integrity.Engine, quotas *quota.Manager, logger *zap.Logger) *Service {
	return &Service{
		runner:    runner,
		engine:    engine,
		quotas:    quotas,
		hierarchy: quota.NewHierarchy(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateTenant(ctx context.Context, tenant *model.Tenant) (*model.Tenant, error) {
	tenant.Name = strings.TrimSpace(tenant.Name)
	tenant.Email = strings.ToLower(strings.TrimSpace(tenant.Email))
	tenant.Mobile = strings.TrimSpace(tenant.Mobile)
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	tenant.ID = uuid.New()
	tenant.Active = true
	tenant.ApplyPlan()

	err := s.runner.Do(ctx, "create tenant", func(ctx context.Context, tx store.Tx) error {
		if err := tx.Insert(ctx, tenant); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, model.NewDomainEvent(tenant.ID, model.EventTenantCreated, model.JSONB{
			"tenant_id": tenant.ID.String(),
			"plan_type": string(tenant.PlanType),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("plan_type", string(tenant.PlanType)),
	)
	return tenant, nil
}

func validateTenant(t *model.Tenant) error {
	if t.Name == "" {
		return apperr.Validation("name", "is required")
	}
	if t.Email == "" || !strings.Contains(t.Email, "@") {
		return apperr.Validation("email", "must be a valid address")
	}
	if t.Mobile == "" {
		return apperr.Validation("mobile", "is required")
	}
	if t.PlanType != "" && !t.PlanType.Valid() {
		return apperr.Validation("plan_type", "must be starter, standard or pro")
	}
	if t.MaxOrganisations < 0 || t.MaxBranches < 0 || t.MaxUsers < 0 {
		return apperr.Validation("max_organisations", "limits must not be negative")
	}
	return nil
}

func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	var tenant *model.Tenant
	err := s.runner.Do(ctx, "get tenant", func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.Get(ctx, model.KindTenant, id)
		if err != nil {
			return err
		}
		tenant = rec.(*model.Tenant)
		return nil
	})
	return tenant, err
}

// Usage reports the tenant's consumption of each plan resource.
func (s *Service) Usage(ctx context.Context, tenantID uuid.UUID) ([]quota.Usage, error) {
	var usage []quota.Usage
	err := s.runner.Do(ctx, "tenant usage", func(ctx context.Context, tx store.Tx) error {
		var err error
		usage, err = s.quotas.Usage(ctx, tx, tenantID)
		return err
	})
	return usage, err
}

// CreateOrganisation fails with a QuotaExceededError when the tenant already
// has max_organisations active organisations. Nothing is written on failure.
func (s *Service) CreateOrganisation(ctx context.Context, tenantID uuid.UUID, org *model.Organisation) (*model.Organisation, error) {
	org.Name = strings.TrimSpace(org.Name)
	if org.Name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	org.ID = uuid.New()
	org.TenantID = tenantID
	org.Active = true

	err := s.runner.Do(ctx, "create organisation", func(ctx context.Context, tx store.Tx) error {
		if _, err := s.quotas.Reserve(ctx, tx, tenantID, quota.Organisations); err != nil {
			return err
		}
		if err := s.engine.CheckParents(ctx, tx, org); err != nil {
			return err
		}
		if err := tx.Insert(ctx, org); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, model.NewDomainEvent(tenantID, model.EventOrganisationCreated, model.JSONB{
			"organisation_id": org.ID.String(),
		}))
	})
	if err != nil {
		s.logFailure("create organisation", tenantID, err)
		return nil, err
	}

	s.logger.Info("organisation created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("organisation_id", org.ID.String()),
	)
	return org, nil
}

// CreateBranch takes the tenant from the organisation and fails with a
// QuotaExceededError when the tenant already has max_branches active
// branches across all of its organisations.
func (s *Service) CreateBranch(ctx context.Context, organisationID uuid.UUID, branch *model.Branch) (*model.Branch, error) {
	branch.Name = strings.TrimSpace(branch.Name)
	branch.BranchCode = strings.ToUpper(strings.TrimSpace(branch.BranchCode))
	if branch.Name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	if branch.BranchCode == "" {
		return nil, apperr.Validation("branch_code", "is required")
	}
	branch.ID = uuid.New()
	branch.OrganisationID = organisationID
	branch.Active = true

	var tenantID uuid.UUID
	err := s.runner.Do(ctx, "create branch", func(ctx context.Context, tx store.Tx) error {
		org, err := s.activeOrganisation(ctx, tx, organisationID)
		if err != nil {
			return err
		}
		tenantID = org.TenantID
		branch.TenantID = org.TenantID

		if _, err := s.quotas.Reserve(ctx, tx, org.TenantID, quota.Branches); err != nil {
			return err
		}
		if err := s.engine.CheckParents(ctx, tx, branch); err != nil {
			return err
		}
		if err := tx.Insert(ctx, branch); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, model.NewDomainEvent(org.TenantID, model.EventBranchCreated, model.JSONB{
			"organisation_id": organisationID.String(),
			"branch_id":       branch.ID.String(),
			"branch_code":     branch.BranchCode,
		}))
	})
	if err != nil {
		s.logFailure("create branch", tenantID, err)
		return nil, err
	}

	s.logger.Info("branch created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("organisation_id", organisationID.String()),
		zap.String("branch_id", branch.ID.String()),
	)
	return branch, nil
}

func (s *Service) activeOrganisation(ctx context.Context, tx store.Tx, id uuid.UUID) (*model.Organisation, error) {
	rec, err := tx.Get(ctx, model.KindOrganisation, id)
	if err != nil {
		return nil, err
	}
	if model.IsTombstoned(rec.State()) {
		return nil, apperr.Validation("organisation_id", "references deleted organisation")
	}
	return rec.(*model.Organisation), nil
}

func (s *Service) GetOrganisation(ctx context.Context, tenantID, id uuid.UUID) (*model.Organisation, error) {
	var org *model.Organisation
	err := s.runner.Do(ctx, "get organisation", func(ctx context.Context, tx store.Tx) error {
		rec, err := getOwned(ctx, tx, model.KindOrganisation, tenantID, id)
		if err != nil {
			return err
		}
		org = rec.(*model.Organisation)
		return nil
	})
	return org, err
}

func (s *Service) GetBranch(ctx context.Context, tenantID, id uuid.UUID) (*model.Branch, error) {
	var branch *model.Branch
	err := s.runner.Do(ctx, "get branch", func(ctx context.Context, tx store.Tx) error {
		rec, err := getOwned(ctx, tx, model.KindBranch, tenantID, id)
		if err != nil {
			return err
		}
		branch = rec.(*model.Branch)
		return nil
	})
	return branch, err
}

// ListOrganisations pages through a tenant's organisations.
func (s *Service) ListOrganisations(ctx context.Context, filter store.Filter) ([]*model.Organisation, int64, error) {
	var (
		out   []*model.Organisation
		total int64
	)
	err := s.runner.Do(ctx, "list organisations", func(ctx context.Context, tx store.Tx) error {
		recs, count, err := tx.List(ctx, model.KindOrganisation, filter)
		if err != nil {
			return err
		}
		total = count
		for _, rec := range recs {
			out = append(out, rec.(*model.Organisation))
		}
		return nil
	})
	return out, total, err
}

func (s *Service) ListBranches(ctx context.Context, filter store.Filter) ([]*model.Branch, int64, error) {
	var (
		out   []*model.Branch
		total int64
	)
	err := s.runner.Do(ctx, "list branches", func(ctx context.Context, tx store.Tx) error {
		recs, count, err := tx.List(ctx, model.KindBranch, filter)
		if err != nil {
			return err
		}
		total = count
		for _, rec := range recs {
			out = append(out, rec.(*model.Branch))
		}
		return nil
	})
	return out, total, err
}

// DeleteTenant is RESTRICTed by the tenant's organisations.
func (s *Service) DeleteTenant(ctx context.Context, id uuid.UUID, mode integrity.Mode) (*integrity.Report, error) {
	return s.delete(ctx, model.KindTenant, id, id, mode)
}

// DeleteOrganisation cascades to the organisation's branches.
func (s *Service) DeleteOrganisation(ctx context.Context, tenantID, id uuid.UUID, mode integrity.Mode) (*integrity.Report, error) {
	return s.delete(ctx, model.KindOrganisation, tenantID, id, mode)
}

func (s *Service) DeleteBranch(ctx context.Context, tenantID, id uuid.UUID, mode integrity.Mode) (*integrity.Report, error) {
	return s.delete(ctx, model.KindBranch, tenantID, id, mode)
}

func (s *Service) delete(ctx context.Context, kind model.Kind, tenantID, id uuid.UUID, mode integrity.Mode) (*integrity.Report, error) {
	var report *integrity.Report
	err := s.runner.Do(ctx, "delete "+string(kind), func(ctx context.Context, tx store.Tx) error {
		if _, err := getOwned(ctx, tx, kind, tenantID, id); err != nil {
			return err
		}
		var err error
		report, err = s.engine.Delete(ctx, tx, kind, id, mode, s.now())
		if err != nil {
			return err
		}
		if report.AlreadyDeleted {
			return nil
		}
		return tx.AppendEvent(ctx, model.NewDomainEvent(tenantID, model.EventRecordDeleted, deletedPayload(report)))
	})
	if err != nil {
		s.logFailure("delete "+string(kind), tenantID, err)
		return nil, err
	}

	if !report.AlreadyDeleted {
		recordDeletes(report)
	}
	s.logger.Info("record deleted",
		zap.String("kind", string(kind)),
		zap.String("id", id.String()),
		zap.String("mode", string(mode)),
		zap.Bool("already_deleted", report.AlreadyDeleted),
	)
	return report, nil
}

// RestoreOrganisation re-checks the organisation quota; branches tombstoned
// with it stay tombstoned.
func (s *Service) RestoreOrganisation(ctx context.Context, tenantID, id uuid.UUID) (*model.Organisation, error) {
	rec, err := s.restore(ctx, model.KindOrganisation, tenantID, id, quota.Organisations)
	if err != nil {
		return nil, err
	}
	return rec.(*model.Organisation), nil
}

func (s *Service) RestoreBranch(ctx context.Context, tenantID, id uuid.UUID) (*model.Branch, error) {
	rec, err := s.restore(ctx, model.KindBranch, tenantID, id, quota.Branches)
	if err != nil {
		return nil, err
	}
	return rec.(*model.Branch), nil
}

func (s *Service) restore(ctx context.Context, kind model.Kind, tenantID, id uuid.UUID, resource quota.Resource) (model.Record, error) {
	var restored model.Record
	err := s.runner.Do(ctx, "restore "+string(kind), func(ctx context.Context, tx store.Tx) error {
		current, err := getOwned(ctx, tx, kind, tenantID, id)
		if err != nil {
			return err
		}
		if err := integrity.Restorable(current); err != nil {
			return err
		}
		if _, err := s.quotas.Reserve(ctx, tx, tenantID, resource); err != nil {
			return err
		}
		rec, err := s.engine.Restore(ctx, tx, kind, id, s.now())
		if err != nil {
			return err
		}
		restored = rec
		return tx.AppendEvent(ctx, model.NewDomainEvent(tenantID, model.EventRecordRestored, model.JSONB{
			"kind": string(kind),
			"id":   id.String(),
		}))
	})
	if err != nil {
		s.logFailure("restore "+string(kind), tenantID, err)
		return nil, err
	}
	return restored, nil
}

// getOwned loads kind/id and hides rows of other tenants behind ErrNotFound.
func getOwned(ctx context.Context, tx store.Tx, kind model.Kind, tenantID, id uuid.UUID) (model.Record, error) {
	rec, err := tx.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if rec.Owner().TenantID != tenantID {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

func (s *Service) logFailure(op string, tenantID uuid.UUID, err error) {
	fields := []zap.Field{zap.String("op", op), zap.String("tenant_id", tenantID.String()), zap.Error(err)}
	if apperr.Retryable(err) || !apperr.Classified(err) {
		s.logger.Error("tenancy operation failed", fields...)
		return
	}
	s.logger.Debug("tenancy operation rejected", fields...)
}

func deletedPayload(report *integrity.Report) model.JSONB {
	cascaded := make(map[string]interface{}, len(report.Cascaded))
	for kind, count := range report.Cascaded {
		cascaded[string(kind)] = count
	}
	return model.JSONB{
		"kind":     string(report.Kind),
		"id":       report.ID.String(),
		"mode":     string(report.Mode),
		"cascaded": cascaded,
	}
}

func recordDeletes(report *integrity.Report) {
	metrics.RecordsDeleted.WithLabelValues(string(report.Kind), string(report.Mode)).Inc()
	for kind, count := range report.Cascaded {
		metrics.RecordsDeleted.WithLabelValues(string(kind), string(report.Mode)).Add(float64(count))
	}
}
