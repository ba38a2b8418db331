package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/metrics"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
)

type Mode string

const (
	// Soft tombstones the row and its cascaded children.
	Soft Mode = "soft"
	// Hard purges the row and its cascaded children.
	Hard Mode = "hard"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case "", Soft:
		return Soft, nil
	case Hard:
		return Hard, nil
	}
	return "", apperr.Validation("mode", "must be soft or hard")
}

// Report describes the outcome of a delete.
type Report struct {
	Kind           model.Kind         `json:"kind"`
	ID             uuid.UUID          `json:"id"`
	Mode           Mode               `json:"mode"`
	AlreadyDeleted bool               `json:"already_deleted"`
	Cascaded       map[model.Kind]int `json:"cascaded,omitempty"`
}

type Engine struct {
	policy *Policy
}

func NewEngine(policy *Policy) *Engine {
	return &Engine{policy: policy}
}

// Delete removes kind/id inside tx following the policy table. RESTRICT rules
// fail with a ReferentialConflictError; CASCADE rules recurse first. A soft
// delete of an already tombstoned row is a no-op.
func (e *Engine) Delete(ctx context.Context, tx store.Tx, kind model.Kind, id uuid.UUID, mode Mode, at time.Time) (*Report, error) {
	rec, err := tx.Lock(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	report := &Report{Kind: kind, ID: id, Mode: mode, Cascaded: map[model.Kind]int{}}
	if mode == Soft && model.IsTombstoned(rec.State()) {
		report.AlreadyDeleted = true
		return report, nil
	}

	if err := e.remove(ctx, tx, rec, mode, at, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Engine) remove(ctx context.Context, tx store.Tx, rec model.Record, mode Mode, at time.Time, report *Report) error {
	includeTombstoned := mode == Hard || !e.policy.SoftDeleteIsDelete

	for _, rule := range e.policy.ChildrenOf(rec.Kind()) {
		switch rule.Action {
		case Restrict:
			count, err := tx.CountRefs(ctx, rule.Reference(), rec.GetID(), includeTombstoned)
			if err != nil {
				return err
			}
			if count > 0 {
				metrics.ReferentialConflicts.WithLabelValues(string(rule.Parent), string(rule.Child)).Inc()
				return &apperr.ReferentialConflictError{Parent: string(rule.Parent), Child: string(rule.Child), Count: count}
			}
		case Cascade:
			// Soft cascades skip rows that are already tombstoned.
			ids, err := tx.ListRefs(ctx, rule.Reference(), rec.GetID(), mode == Hard)
			if err != nil {
				return err
			}
			for _, childID := range ids {
				child, err := tx.Lock(ctx, rule.Child, childID)
				if err != nil {
					return err
				}
				if mode == Soft && model.IsTombstoned(child.State()) {
					continue
				}
				if err := e.remove(ctx, tx, child, mode, at, report); err != nil {
					return err
				}
				report.Cascaded[rule.Child]++
			}
		}
	}

	if mode == Hard {
		return tx.Purge(ctx, rec.Kind(), rec.GetID())
	}
	if err := rec.Tombstone(at); err != nil {
		return err
	}
	return tx.SaveState(ctx, rec)
}

// CheckParents verifies every reference rec holds: the parent must exist,
// must not be tombstoned and must enclose rec in the tenant hierarchy.
func (e *Engine) CheckParents(ctx context.Context, tx store.Tx, rec model.Record) error {
	owner := rec.Owner()
	for _, rule := range e.policy.ParentsOf(rec.Kind()) {
		parentID, ok := rec.Ref(rule.Column)
		if !ok {
			continue
		}
		parent, err := tx.Get(ctx, rule.Parent, parentID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.Validation(rule.Column, fmt.Sprintf("references unknown %s", rule.Parent))
			}
			return err
		}
		if model.IsTombstoned(parent.State()) {
			return apperr.Validation(rule.Column, fmt.Sprintf("references deleted %s", rule.Parent))
		}
		if !parent.Owner().Encloses(owner) {
			return apperr.Validation(rule.Column, fmt.Sprintf("%s belongs to a different tenant, organisation or branch", rule.Parent))
		}
	}
	return nil
}

// Restore moves a tombstoned row back to Active. Parents must be active;
// children tombstoned by a cascade stay tombstoned until restored themselves.
func (e *Engine) Restore(ctx context.Context, tx store.Tx, kind model.Kind, id uuid.UUID, at time.Time) (model.Record, error) {
	rec, err := tx.Lock(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := Restorable(rec); err != nil {
		return nil, err
	}
	if err := e.CheckParents(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := rec.Restore(at); err != nil {
		return nil, err
	}
	if err := tx.SaveState(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Restorable rejects rows that are not tombstoned. Callers run it before
// reserving quota for the restore.
func Restorable(rec model.Record) error {
	if !model.IsTombstoned(rec.State()) {
		return apperr.Validation("id", fmt.Sprintf("%s is not deleted", rec.Kind()))
	}
	return nil
}
