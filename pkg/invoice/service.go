// Package invoice issues invoices numbered by the per tenant sequence
// allocator.
package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/quota"
	"github.com/billforge/billforge/pkg/store"
)

type Service struct {
	allocator *Allocator
	runner    *store.Runner
	engine    *integrity.Engine
	hierarchy *quota.Hierarchy
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(allocator *Allocator, runner *store.Runner, engine *integrity.Engine, logger *zap.Logger) *Service {
	return &Service{
		allocator: allocator,
		runner:    runner,
		engine:    engine,
		hierarchy: quota.NewHierarchy(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) NextInvoiceNumber(ctx context.Context, scope model.Scope, prefix string) (Number, error) {
	number, err := s.allocator.NextInvoiceNumber(ctx, scope, prefix)
	if err != nil {
		return Number{}, err
	}
	s.logger.Info("invoice number allocated",
		zap.String("tenant_id", scope.TenantID.String()),
		zap.String("number", number.Formatted),
	)
	return number, nil
}

// Issue numbers draft and stores it with its lines in one transaction.
func (s *Service) Issue(ctx context.Context, scope model.Scope, draft *model.Invoice) (*model.Invoice, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	var issued *model.Invoice
	_, err := s.allocator.Allocate(ctx, scope, draft.Prefix, func(ctx context.Context, tx store.Tx, number Number) error {
		invoice := draft.Clone().(*model.Invoice)
		invoice.ID = uuid.New()
		invoice.SetScope(scope)
		*invoice.Audit() = model.Lifecycle{}
		invoice.Number = number.Formatted
		invoice.Sequence = number.Value
		invoice.Status = model.InvoiceIssued
		invoice.IssuedAt = s.now()
		invoice.VoidedAt = nil
		invoice.Recalculate()

		stored := invoice.Clone().(*model.Invoice)
		stored.Lines = nil
		if err := s.engine.CheckParents(ctx, tx, stored); err != nil {
			return err
		}
		if err := tx.Insert(ctx, stored); err != nil {
			return err
		}

		for i := range invoice.Lines {
			line := &invoice.Lines[i]
			line.ID = uuid.New()
			line.InvoiceID = invoice.ID
			line.SetScope(scope)
			*line.Audit() = model.Lifecycle{}
			if err := s.engine.CheckParents(ctx, tx, line); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			if err := tx.Insert(ctx, line); err != nil {
				return err
			}
		}

		*invoice.Audit() = *stored.Audit()
		issued = invoice

		return tx.AppendEvent(ctx, model.NewDomainEvent(scope.TenantID, model.EventInvoiceIssued, model.JSONB{
			"invoice_id": invoice.ID.String(),
			"number":     invoice.Number,
			"total":      invoice.Total.String(),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice issued",
		zap.String("tenant_id", scope.TenantID.String()),
		zap.String("invoice_id", issued.ID.String()),
		zap.String("number", issued.Number),
	)
	return issued, nil
}

func validateDraft(draft *model.Invoice) error {
	draft.Prefix = strings.TrimSpace(draft.Prefix)
	if err := ValidatePrefix(draft.Prefix); err != nil {
		return err
	}
	if len(draft.Lines) == 0 {
		return apperr.Validation("lines", "at least one line is required")
	}
	for i := range draft.Lines {
		line := &draft.Lines[i]
		line.Description = strings.TrimSpace(line.Description)
		if line.Description == "" && line.ProductID == nil {
			return apperr.Validation(fmt.Sprintf("lines[%d].description", i), "is required without a product")
		}
		if line.Quantity <= 0 {
			return apperr.Validation(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return apperr.Validation(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
		}
		if line.TaxRate.IsNegative() {
			return apperr.Validation(fmt.Sprintf("lines[%d].tax_rate", i), "must not be negative")
		}
	}
	return nil
}

// Get loads an invoice with its lines.
func (s *Service) Get(ctx context.Context, scope model.Scope, id uuid.UUID) (*model.Invoice, error) {
	var invoice *model.Invoice
	err := s.runner.Do(ctx, "get invoice", func(ctx context.Context, tx store.Tx) error {
		var err error
		invoice, err = s.load(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		ids, err := tx.ListRefs(ctx, store.Reference{Child: model.KindInvoiceLine, Column: "invoice_id"}, id, false)
		if err != nil {
			return err
		}
		invoice.Lines = make([]model.InvoiceLine, 0, len(ids))
		for _, lineID := range ids {
			rec, err := tx.Get(ctx, model.KindInvoiceLine, lineID)
			if err != nil {
				return err
			}
			invoice.Lines = append(invoice.Lines, *rec.(*model.InvoiceLine))
		}
		return nil
	})
	return invoice, err
}

func (s *Service) List(ctx context.Context, filter store.Filter) ([]*model.Invoice, int64, error) {
	if filter.TenantID == uuid.Nil {
		return nil, 0, apperr.Validation("tenant_id", "is required")
	}
	var (
		out   []*model.Invoice
		total int64
	)
	err := s.runner.Do(ctx, "list invoices", func(ctx context.Context, tx store.Tx) error {
		recs, count, err := tx.List(ctx, model.KindInvoice, filter)
		if err != nil {
			return err
		}
		total = count
		for _, rec := range recs {
			out = append(out, rec.(*model.Invoice))
		}
		return nil
	})
	return out, total, err
}

// Void marks an issued invoice void. Its number is never handed out again.
func (s *Service) Void(ctx context.Context, scope model.Scope, id uuid.UUID) (*model.Invoice, error) {
	var invoice *model.Invoice
	err := s.runner.Do(ctx, "void invoice", func(ctx context.Context, tx store.Tx) error {
		if _, err := s.load(ctx, tx, scope, id); err != nil {
			return err
		}
		rec, err := tx.Lock(ctx, model.KindInvoice, id)
		if err != nil {
			return err
		}
		invoice = rec.(*model.Invoice)
		if invoice.Status == model.InvoiceVoid {
			return apperr.Validation("status", "invoice is already void")
		}
		at := s.now()
		invoice.Status = model.InvoiceVoid
		invoice.VoidedAt = &at
		if err := tx.Update(ctx, invoice); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, model.NewDomainEvent(scope.TenantID, model.EventInvoiceVoided, model.JSONB{
			"invoice_id": id.String(),
			"number":     invoice.Number,
		}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice voided", zap.String("invoice_id", id.String()), zap.String("number", invoice.Number))
	return invoice, nil
}

func (s *Service) load(ctx context.Context, tx store.Tx, scope model.Scope, id uuid.UUID) (*model.Invoice, error) {
	rec, err := tx.Get(ctx, model.KindInvoice, id)
	if err != nil {
		return nil, err
	}
	if !scopeFilter(scope).Matches(rec.Owner()) || model.IsTombstoned(rec.State()) {
		return nil, apperr.ErrNotFound
	}
	return rec.(*model.Invoice), nil
}

// scopeFilter limits access to the caller's organisation and, for branch
// bound callers, to their branch and organisation wide invoices.
func scopeFilter(scope model.Scope) store.Filter {
	filter := store.Filter{TenantID: scope.TenantID, BranchID: scope.BranchID}
	if scope.OrganisationID != uuid.Nil {
		org := scope.OrganisationID
		filter.OrganisationID = &org
	}
	return filter
}

// SeedSequence raises the tenant wide (tenant, prefix) counter to floor so numbering
// continues after imported legacy invoices. It never lowers the counter.
func (s *Service) SeedSequence(ctx context.Context, scope model.Scope, prefix string, floor int64) (*model.InvoiceSequence, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if floor < 0 {
		return nil, apperr.Validation("last_number", "must not be negative")
	}

	var seq *model.InvoiceSequence
	err := s.runner.Do(ctx, "seed invoice sequence", func(ctx context.Context, tx store.Tx) error {
		if _, err := s.hierarchy.Resolve(ctx, tx, scope); err != nil {
			return err
		}
		var err error
		seq, err = tx.LockSequence(ctx, scope.TenantID, prefix)
		if err != nil {
			return err
		}
		if floor <= seq.LastNumber {
			return nil
		}
		previous := seq.LastNumber
		seq.LastNumber = floor
		return tx.AdvanceSequence(ctx, seq, previous)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice sequence seeded",
		zap.String("tenant_id", scope.TenantID.String()),
		zap.String("prefix", prefix),
		zap.Int64("last_number", seq.LastNumber),
	)
	return seq, nil
}

// Sequences lists the tenant's counters.
func (s *Service) Sequences(ctx context.Context, tenantID uuid.UUID) ([]*model.InvoiceSequence, error) {
	var out []*model.InvoiceSequence
	err := s.runner.Do(ctx, "list invoice sequences", func(ctx context.Context, tx store.Tx) error {
		recs, _, err := tx.List(ctx, model.KindInvoiceSequence, store.Filter{TenantID: tenantID})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			out = append(out, rec.(*model.InvoiceSequence))
		}
		return nil
	})
	return out, err
}

// Delete soft or hard deletes an invoice and, by cascade, its lines.
func (s *Service) Delete(ctx context.Context, scope model.Scope, id uuid.UUID, mode integrity.Mode) (*integrity.Report, error) {
	var report *integrity.Report
	err := s.runner.Do(ctx, "delete invoice", func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.Get(ctx, model.KindInvoice, id)
		if err != nil {
			return err
		}
		// Tombstoned invoices stay visible so a repeated soft delete is a no-op.
		if !scopeFilter(scope).Matches(rec.Owner()) {
			return apperr.ErrNotFound
		}
		report, err = s.engine.Delete(ctx, tx, model.KindInvoice, id, mode, s.now())
		if err != nil || report.AlreadyDeleted {
			return err
		}
		return tx.AppendEvent(ctx, model.NewDomainEvent(scope.TenantID, model.EventRecordDeleted, model.JSONB{
			"kind": string(model.KindInvoice),
			"id":   id.String(),
			"mode": string(mode),
		}))
	})
	return report, err
}
