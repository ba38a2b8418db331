// Package catalog serves the tenant scoped business entities (categories,
// units, products, variants, stock audits, expenses, roles and users)
// through one generic set of operations.
package catalog

import (
	"context"
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
	admission *quota.AdmissionController
	hierarchy *quota.Hierarchy
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(runner *store.Runner, engine *integrity.Engine, admission *quota.AdmissionController, logger *zap.Logger) *Service {
	return &Service{
		runner:    runner,
		engine:    engine,
		admission: admission,
		hierarchy: quota.NewHierarchy(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Definition returns the table definition of a catalog kind.
func Definition(kind model.Kind) (model.Definition, error) {
	def, ok := model.Lookup(kind)
	if !ok || !def.Catalog {
		return model.Definition{}, apperr.Validation("kind", "unknown entity kind "+string(kind))
	}
	return def, nil
}

// Create stores rec under scope. Missing scope columns, a broken tenant
// chain and references to deleted or foreign parents are ValidationErrors.
func (s *Service) Create(ctx context.Context, scope model.Scope, rec model.Scoped) (model.Scoped, error) {
	if _, err := Definition(rec.Kind()); err != nil {
		return nil, err
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := normalize(rec); err != nil {
		return nil, err
	}
	rec.SetID(uuid.New())
	rec.SetScope(scope)
	*rec.Audit() = model.Lifecycle{}

	err := s.runner.Do(ctx, "create "+string(rec.Kind()), func(ctx context.Context, tx store.Tx) error {
		if _, err := s.hierarchy.Resolve(ctx, tx, scope); err != nil {
			return err
		}
		if err := s.admission.Admit(ctx, tx, rec); err != nil {
			return err
		}
		if err := s.engine.CheckParents(ctx, tx, rec); err != nil {
			return err
		}
		if err := tx.Insert(ctx, rec); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, recordEvent(model.EventRecordCreated, rec))
	})
	if err != nil {
		s.logFailure("create", rec.Kind(), scope, err)
		return nil, err
	}

	s.logger.Debug("record created",
		zap.String("kind", string(rec.Kind())),
		zap.String("id", rec.GetID().String()),
		zap.String("tenant_id", scope.TenantID.String()),
	)
	return rec, nil
}

// Get returns kind/id when it is visible from scope. Tombstoned rows are
// only returned with includeDeleted.
func (s *Service) Get(ctx context.Context, kind model.Kind, scope model.Scope, id uuid.UUID, includeDeleted bool) (model.Scoped, error) {
	if _, err := Definition(kind); err != nil {
		return nil, err
	}
	var out model.Scoped
	err := s.runner.Do(ctx, "get "+string(kind), func(ctx context.Context, tx store.Tx) error {
		rec, err := visible(ctx, tx, kind, scope, id, includeDeleted)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// Update replaces the mutable columns of kind/id. Scope and audit columns
// are carried over from the stored row.
func (s *Service) Update(ctx context.Context, scope model.Scope, id uuid.UUID, rec model.Scoped) (model.Scoped, error) {
	kind := rec.Kind()
	if _, err := Definition(kind); err != nil {
		return nil, err
	}
	if err := normalize(rec); err != nil {
		return nil, err
	}

	err := s.runner.Do(ctx, "update "+string(kind), func(ctx context.Context, tx store.Tx) error {
		current, err := visible(ctx, tx, kind, scope, id, false)
		if err != nil {
			return err
		}
		if _, err := tx.Lock(ctx, kind, id); err != nil {
			return err
		}
		rec.SetID(id)
		rec.SetScope(current.GetScope())
		*rec.Audit() = *current.Audit()

		if err := s.engine.CheckParents(ctx, tx, rec); err != nil {
			return err
		}
		if err := tx.Update(ctx, rec); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, recordEvent(model.EventRecordUpdated, rec))
	})
	if err != nil {
		s.logFailure("update", kind, scope, err)
		return nil, err
	}
	return rec, nil
}

// List pages through kind. The filter tenant is mandatory.
func (s *Service) List(ctx context.Context, kind model.Kind, filter store.Filter) ([]model.Scoped, int64, error) {
	if _, err := Definition(kind); err != nil {
		return nil, 0, err
	}
	if filter.TenantID == uuid.Nil {
		return nil, 0, apperr.Validation("tenant_id", "is required")
	}
	var (
		out   []model.Scoped
		total int64
	)
	err := s.runner.Do(ctx, "list "+string(kind), func(ctx context.Context, tx store.Tx) error {
		recs, count, err := tx.List(ctx, kind, filter)
		if err != nil {
			return err
		}
		total = count
		out = make([]model.Scoped, 0, len(recs))
		for _, rec := range recs {
			out = append(out, rec.(model.Scoped))
		}
		return nil
	})
	return out, total, err
}

func (s *Service) Delete(ctx context.Context, kind model.Kind, scope model.Scope, id uuid.UUID, mode integrity.Mode) (*integrity.Report, error) {
	if _, err := Definition(kind); err != nil {
		return nil, err
	}
	var report *integrity.Report
	err := s.runner.Do(ctx, "delete "+string(kind), func(ctx context.Context, tx store.Tx) error {
		if _, err := visible(ctx, tx, kind, scope, id, true); err != nil {
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
		return tx.AppendEvent(ctx, model.NewDomainEvent(scope.TenantID, model.EventRecordDeleted, model.JSONB{
			"kind":     string(kind),
			"id":       id.String(),
			"mode":     string(mode),
			"cascaded": len(report.Cascaded),
		}))
	})
	if err != nil {
		s.logFailure("delete", kind, scope, err)
		return nil, err
	}

	if !report.AlreadyDeleted {
		metrics.RecordsDeleted.WithLabelValues(string(kind), string(mode)).Inc()
		for child, count := range report.Cascaded {
			metrics.RecordsDeleted.WithLabelValues(string(child), string(mode)).Add(float64(count))
		}
	}
	return report, nil
}

// Restore moves a tombstoned row back to Active, re-checking plan limits.
func (s *Service) Restore(ctx context.Context, kind model.Kind, scope model.Scope, id uuid.UUID) (model.Scoped, error) {
	if _, err := Definition(kind); err != nil {
		return nil, err
	}
	var out model.Scoped
	err := s.runner.Do(ctx, "restore "+string(kind), func(ctx context.Context, tx store.Tx) error {
		current, err := visible(ctx, tx, kind, scope, id, true)
		if err != nil {
			return err
		}
		if err := integrity.Restorable(current); err != nil {
			return err
		}
		if err := s.admission.Admit(ctx, tx, current); err != nil {
			return err
		}
		rec, err := s.engine.Restore(ctx, tx, kind, id, s.now())
		if err != nil {
			return err
		}
		out = rec.(model.Scoped)
		return tx.AppendEvent(ctx, recordEvent(model.EventRecordRestored, out))
	})
	if err != nil {
		s.logFailure("restore", kind, scope, err)
		return nil, err
	}
	return out, nil
}

// visible hides rows outside scope behind ErrNotFound.
func visible(ctx context.Context, tx store.Tx, kind model.Kind, scope model.Scope, id uuid.UUID, includeDeleted bool) (model.Scoped, error) {
	rec, err := tx.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	filter := store.Filter{TenantID: scope.TenantID, BranchID: scope.BranchID}
	if scope.OrganisationID != uuid.Nil {
		org := scope.OrganisationID
		filter.OrganisationID = &org
	}
	if !filter.Matches(rec.Owner()) {
		return nil, apperr.ErrNotFound
	}
	if !includeDeleted && model.IsTombstoned(rec.State()) {
		return nil, apperr.ErrNotFound
	}
	return rec.(model.Scoped), nil
}

func recordEvent(eventType string, rec model.Scoped) *model.DomainEvent {
	scope := rec.GetScope()
	payload := model.JSONB{
		"kind":            string(rec.Kind()),
		"id":              rec.GetID().String(),
		"organisation_id": scope.OrganisationID.String(),
	}
	if scope.BranchID != nil {
		payload["branch_id"] = scope.BranchID.String()
	}
	return model.NewDomainEvent(scope.TenantID, eventType, payload)
}

func (s *Service) logFailure(op string, kind model.Kind, scope model.Scope, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("kind", string(kind)),
		zap.String("tenant_id", scope.TenantID.String()),
		zap.Error(err),
	}
	if apperr.Retryable(err) || !apperr.Classified(err) {
		s.logger.Error("catalog operation failed", fields...)
		return
	}
	s.logger.Debug("catalog operation rejected", fields...)
}
