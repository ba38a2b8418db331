package quota

import (
	"context"

	"github.com/google/uuid"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/metrics"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
)

type Resource string

const (
	Organisations Resource = "organisations"
	Branches      Resource = "branches"
	Users         Resource = "users"
)

// kind is the model counted against the resource.
func (r Resource) kind() model.Kind {
	switch r {
	case Organisations:
		return model.KindOrganisation
	case Branches:
		return model.KindBranch
	case Users:
		return model.KindUser
	}
	return ""
}

func (r Resource) limit(t *model.Tenant) int64 {
	switch r {
	case Organisations:
		return int64(t.MaxOrganisations)
	case Branches:
		return int64(t.MaxBranches)
	case Users:
		return int64(t.MaxUsers)
	}
	return 0
}

// Usage is the active row count for one resource of a tenant.
type Usage struct {
	Resource Resource `json:"resource"`
	Current  int64    `json:"current"`
	Limit    int64    `json:"limit"`
}

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Reserve locks the tenant row and fails with a QuotaExceededError when the
// tenant already owns as many active rows of resource as its plan allows.
// The lock is held until tx ends so concurrent creators are serialized.
func (m *Manager) Reserve(ctx context.Context, tx store.Tx, tenantID uuid.UUID, resource Resource) (*model.Tenant, error) {
	tenant, err := lockTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	usage, err := m.usage(ctx, tx, tenant, resource)
	if err != nil {
		return nil, err
	}
	if usage.Current >= usage.Limit {
		metrics.QuotaRejections.WithLabelValues(string(resource)).Inc()
		return nil, &apperr.QuotaExceededError{Resource: string(resource), Current: usage.Current, Limit: usage.Limit}
	}
	return tenant, nil
}

// Usage reports the current consumption of every plan resource.
func (m *Manager) Usage(ctx context.Context, tx store.Tx, tenantID uuid.UUID) ([]Usage, error) {
	rec, err := tx.Get(ctx, model.KindTenant, tenantID)
	if err != nil {
		return nil, err
	}
	tenant := rec.(*model.Tenant)

	out := make([]Usage, 0, 3)
	for _, resource := range []Resource{Organisations, Branches, Users} {
		usage, err := m.usage(ctx, tx, tenant, resource)
		if err != nil {
			return nil, err
		}
		out = append(out, usage)
	}
	return out, nil
}

func (m *Manager) usage(ctx context.Context, tx store.Tx, tenant *model.Tenant, resource Resource) (Usage, error) {
	ref := store.Reference{Child: resource.kind(), Column: "tenant_id"}
	current, err := tx.CountRefs(ctx, ref, tenant.ID, false)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Resource: resource, Current: current, Limit: resource.limit(tenant)}, nil
}

func lockTenant(ctx context.Context, tx store.Tx, tenantID uuid.UUID) (*model.Tenant, error) {
	if tenantID == uuid.Nil {
		return nil, apperr.Validation("tenant_id", "is required")
	}
	rec, err := tx.Lock(ctx, model.KindTenant, tenantID)
	if err != nil {
		return nil, err
	}
	if model.IsTombstoned(rec.State()) {
		return nil, apperr.Validation("tenant_id", "references deleted tenant")
	}
	return rec.(*model.Tenant), nil
}
