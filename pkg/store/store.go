package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/billforge/billforge/pkg/model"
)

// Store defines the persistence engine behind the domain services (PostgreSQL, in-memory).
type Store interface {
	// RunInTx runs fn in a single all-or-nothing unit of work. Any error
	// returned by fn rolls the whole unit back.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying connections
	Close() error
}

// Tx is the set of primitives a unit of work exposes. Reads include
// tombstoned rows unless a filter says otherwise; callers inspect State().
type Tx interface {
	Get(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Record, error)

	// Lock reads the row and holds a write lock on it until the unit of work ends.
	Lock(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Record, error)

	Insert(ctx context.Context, rec model.Record) error
	Update(ctx context.Context, rec model.Record) error

	// SaveState persists the lifecycle columns (deleted_at, updated_at) of rec.
	SaveState(ctx context.Context, rec model.Record) error

	// Purge physically removes the row.
	Purge(ctx context.Context, kind model.Kind, id uuid.UUID) error

	// CountRefs counts rows of ref.Child whose ref.Column equals parentID.
	CountRefs(ctx context.Context, ref Reference, parentID uuid.UUID, includeTombstoned bool) (int64, error)

	// ListRefs returns the ids of rows of ref.Child whose ref.Column equals parentID.
	ListRefs(ctx context.Context, ref Reference, parentID uuid.UUID, includeTombstoned bool) ([]uuid.UUID, error)

	// List returns one page of rows matching filter and the total match count.
	List(ctx context.Context, kind model.Kind, filter Filter) ([]model.Record, int64, error)

	// LockSequence returns the (tenant, prefix) sequence row, creating it at
	// zero if missing, and holds a write lock on it.
	LockSequence(ctx context.Context, tenantID uuid.UUID, prefix string) (*model.InvoiceSequence, error)

	// AdvanceSequence writes seq.LastNumber if the stored value still equals
	// previous, and fails with apperr.ErrConflict otherwise.
	AdvanceSequence(ctx context.Context, seq *model.InvoiceSequence, previous int64) error

	AppendEvent(ctx context.Context, event *model.DomainEvent) error
}

// Reference names a foreign key column on a child table.
type Reference struct {
	Child  model.Kind
	Column string
}

// Filter restricts List by tenant hierarchy. A branch filter also matches
// organisation-wide rows (branch_id IS NULL).
type Filter struct {
	TenantID       uuid.UUID
	OrganisationID *uuid.UUID
	BranchID       *uuid.UUID
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Matches reports whether a row owned by owner passes the scope part of f.
func (f Filter) Matches(owner model.Scope) bool {
	if owner.TenantID != f.TenantID {
		return false
	}
	if f.OrganisationID != nil && owner.OrganisationID != *f.OrganisationID {
		return false
	}
	if f.BranchID != nil && owner.BranchID != nil && *owner.BranchID != *f.BranchID {
		return false
	}
	return true
}
