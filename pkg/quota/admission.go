package quota

import (
	"context"

	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
)

// AdmissionController decides whether a new row of a given kind fits in
// its tenant's plan. Kinds without a plan limit are always admitted.
type AdmissionController struct {
	manager *Manager
}

func NewAdmissionController(manager *Manager) *AdmissionController {
	return &AdmissionController{manager: manager}
}

func ResourceFor(kind model.Kind) (Resource, bool) {
	switch kind {
	case model.KindOrganisation:
		return Organisations, true
	case model.KindBranch:
		return Branches, true
	case model.KindUser:
		return Users, true
	}
	return "", false
}

func (a *AdmissionController) Admit(ctx context.Context, tx store.Tx, rec model.Record) error {
	resource, limited := ResourceFor(rec.Kind())
	if !limited {
		return nil
	}
	_, err := a.manager.Reserve(ctx, tx, rec.Owner().TenantID, resource)
	return err
}
