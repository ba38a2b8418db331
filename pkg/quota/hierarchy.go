package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
)

// Chain is a resolved ownership path. Branch is nil for organisation-wide
// scopes.
type Chain struct {
	Tenant       *model.Tenant
	Organisation *model.Organisation
	Branch       *model.Branch
}

type Hierarchy struct{}

func NewHierarchy() *Hierarchy {
	return &Hierarchy{}
}

// Resolve walks Branch -> Organisation -> Tenant for scope and verifies that
// every link exists, is active and belongs to its parent.
func (h *Hierarchy) Resolve(ctx context.Context, tx store.Tx, scope model.Scope) (*Chain, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	tenant, err := resolve[*model.Tenant](ctx, tx, model.KindTenant, scope.TenantID, "tenant_id")
	if err != nil {
		return nil, err
	}
	org, err := resolve[*model.Organisation](ctx, tx, model.KindOrganisation, scope.OrganisationID, "organisation_id")
	if err != nil {
		return nil, err
	}
	if org.TenantID != tenant.ID {
		return nil, apperr.Validation("organisation_id", "belongs to a different tenant")
	}
	chain := &Chain{Tenant: tenant, Organisation: org}

	if scope.BranchID == nil {
		return chain, nil
	}
	branch, err := resolve[*model.Branch](ctx, tx, model.KindBranch, *scope.BranchID, "branch_id")
	if err != nil {
		return nil, err
	}
	if branch.TenantID != tenant.ID {
		return nil, apperr.Validation("branch_id", "belongs to a different tenant")
	}
	if branch.OrganisationID != org.ID {
		return nil, apperr.Validation("branch_id", "belongs to a different organisation")
	}
	chain.Branch = branch
	return chain, nil
}

func resolve[T model.Record](ctx context.Context, tx store.Tx, kind model.Kind, id uuid.UUID, field string) (T, error) {
	var zero T
	rec, err := tx.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return zero, apperr.Validation(field, "references unknown "+string(kind))
		}
		return zero, err
	}
	if model.IsTombstoned(rec.State()) {
		return zero, apperr.Validation(field, "references deleted "+string(kind))
	}
	return rec.(T), nil
}
