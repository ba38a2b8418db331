package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/billforge/billforge/pkg/apperr"
)

type Kind string

const (
	KindTenant          Kind = "tenant"
	KindOrganisation    Kind = "organisation"
	KindBranch          Kind = "branch"
	KindCategory        Kind = "category"
	KindUnit            Kind = "unit"
	KindProduct         Kind = "product"
	KindVariant         Kind = "variant"
	KindStockAudit      Kind = "stock_audit"
	KindExpense         Kind = "expense"
	KindRole            Kind = "role"
	KindUser            Kind = "user"
	KindInvoiceSequence Kind = "invoice_sequence"
	KindInvoice         Kind = "invoice"
	KindInvoiceLine     Kind = "invoice_line"
)

// Record is implemented by every persisted model. Stores and the integrity
// engine work against it so cascade and restrict logic stays generic.
type Record interface {
	Kind() Kind
	GetID() uuid.UUID
	SetID(id uuid.UUID)
	// Owner reports where the row sits in the tenant hierarchy.
	Owner() Scope
	// Ref returns the value of a foreign key column, if set.
	Ref(column string) (uuid.UUID, bool)
	// UniqueValues maps each declared unique column to the row's value.
	UniqueValues() map[string]string
	State() State
	Tombstone(at time.Time) error
	Restore(at time.Time) error
	Touch(at time.Time)
	Created() time.Time
	Audit() *Lifecycle
	Clone() Record
}

// Scoped is a business row tagged with tenant, organisation and optional branch.
type Scoped interface {
	Record
	GetScope() Scope
	SetScope(scope Scope)
}

// Scope is embedded into every scoped table. A nil BranchID means the row
// applies to all branches of the organisation.
type Scope struct {
	TenantID       uuid.UUID  `json:"tenant_id" gorm:"type:uuid;not null;index"`
	OrganisationID uuid.UUID  `json:"organisation_id" gorm:"type:uuid;not null;index"`
	BranchID       *uuid.UUID `json:"branch_id,omitempty" gorm:"type:uuid;index"`
}

func (s *Scope) GetScope() Scope {
	out := *s
	if s.BranchID != nil {
		b := *s.BranchID
		out.BranchID = &b
	}
	return out
}

func (s *Scope) SetScope(scope Scope) {
	*s = scope.copy()
}

func (s *Scope) Owner() Scope {
	return s.GetScope()
}

func (s Scope) copy() Scope {
	if s.BranchID != nil {
		b := *s.BranchID
		s.BranchID = &b
	}
	return s
}

// Validate checks the required scoping columns.
func (s Scope) Validate() error {
	if s.TenantID == uuid.Nil {
		return apperr.Validation("tenant_id", "is required")
	}
	if s.OrganisationID == uuid.Nil {
		return apperr.Validation("organisation_id", "is required")
	}
	if s.BranchID != nil && *s.BranchID == uuid.Nil {
		return apperr.Validation("branch_id", "must be a valid id or omitted")
	}
	return nil
}

func (s Scope) ref(column string) (uuid.UUID, bool) {
	switch column {
	case "tenant_id":
		return s.TenantID, s.TenantID != uuid.Nil
	case "organisation_id":
		return s.OrganisationID, s.OrganisationID != uuid.Nil
	case "branch_id":
		if s.BranchID == nil {
			return uuid.Nil, false
		}
		return *s.BranchID, true
	}
	return uuid.Nil, false
}

// Encloses reports whether a child owned by child may reference a parent
// owned by s: same tenant, same organisation when s has one, and same branch
// when s is branch scoped.
func (s Scope) Encloses(child Scope) bool {
	if s.TenantID != child.TenantID {
		return false
	}
	if s.OrganisationID != uuid.Nil && s.OrganisationID != child.OrganisationID {
		return false
	}
	if s.BranchID != nil {
		if child.BranchID == nil || *child.BranchID != *s.BranchID {
			return false
		}
	}
	return true
}

func optionalRef(id *uuid.UUID) (uuid.UUID, bool) {
	if id == nil {
		return uuid.Nil, false
	}
	return *id, true
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
