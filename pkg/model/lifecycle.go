package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/billforge/billforge/pkg/apperr"
)

// State is the lifecycle of a persisted row: Active or Tombstoned.
// It is derived from the deleted_at column and is the only way domain code
// inspects deletion.
type State interface {
	isState()
	String() string
}

type Active struct{}

func (Active) isState() {}
func (Active) String() string { return "active" }

type Tombstoned struct {
	At time.Time
}

func (Tombstoned) isState() {}
func (t Tombstoned) String() string { return "tombstoned" }

func IsTombstoned(s State) bool {
	_, ok := s.(Tombstoned)
	return ok
}

// Lifecycle carries the audit timestamps every table shares.
type Lifecycle struct {
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`
}

func (l *Lifecycle) State() State {
	if l.DeletedAt.Valid {
		return Tombstoned{At: l.DeletedAt.Time}
	}
	return Active{}
}

func (l *Lifecycle) Tombstone(at time.Time) error {
	if l.DeletedAt.Valid {
		return fmt.Errorf("%w: already tombstoned", apperr.ErrInvalidTransition)
	}
	l.DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
	l.UpdatedAt = at
	return nil
}

func (l *Lifecycle) Restore(at time.Time) error {
	if !l.DeletedAt.Valid {
		return fmt.Errorf("%w: not tombstoned", apperr.ErrInvalidTransition)
	}
	l.DeletedAt = gorm.DeletedAt{}
	l.UpdatedAt = at
	return nil
}

// Audit exposes the timestamps so services can carry them across updates.
func (l *Lifecycle) Audit() *Lifecycle {
	return l
}

func (l *Lifecycle) Created() time.Time {
	return l.CreatedAt
}

// Touch stamps CreatedAt on first write and UpdatedAt on every write.
func (l *Lifecycle) Touch(at time.Time) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = at
	}
	l.UpdatedAt = at
}
