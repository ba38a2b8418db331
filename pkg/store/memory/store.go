// Package memory provides an in-memory implementation of the persistence
// store used for tests and single-process demos. Units of work run one at a
// time against a private copy of the state which replaces the committed state
// only when the unit succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
)

var _ store.Store = (*Store)(nil)

type state struct {
	rows   map[model.Kind]map[uuid.UUID]model.Record
	unique map[string]uuid.UUID
	events []model.DomainEvent
}

func newState() *state {
	return &state{
		rows:   make(map[model.Kind]map[uuid.UUID]model.Record),
		unique: make(map[string]uuid.UUID),
	}
}

func (s *state) clone() *state {
	out := &state{
		rows:   make(map[model.Kind]map[uuid.UUID]model.Record, len(s.rows)),
		unique: make(map[string]uuid.UUID, len(s.unique)),
		events: make([]model.DomainEvent, len(s.events)),
	}
	for kind, rows := range s.rows {
		copied := make(map[uuid.UUID]model.Record, len(rows))
		for id, rec := range rows {
			copied[id] = rec.Clone()
		}
		out.rows[kind] = copied
	}
	for key, id := range s.unique {
		out.unique[key] = id
	}
	copy(out.events, s.events)
	return out
}

type Store struct {
	sem   chan struct{}
	state *state
	nowFn func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		sem:   make(chan struct{}, 1),
		state: newState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) acquire(ctx context.Context, op string) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperr.Unavailable(op, ctx.Err())
	}
}

func (s *Store) release() {
	<-s.sem
}

// RunInTx executes fn against a transactional copy of the store state.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := s.acquire(ctx, "begin"); err != nil {
		return err
	}
	defer s.release()

	tx := &transaction{state: s.state.clone(), now: s.nowFn}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable("commit", err)
	}
	s.state = tx.state
	return nil
}

func (s *Store) Close() error {
	return nil
}

// ListPending returns pending outbox events oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]model.DomainEvent, error) {
	if err := s.acquire(ctx, "list pending events"); err != nil {
		return nil, err
	}
	defer s.release()

	if limit <= 0 {
		limit = 100
	}
	var out []model.DomainEvent
	for _, event := range s.state.events {
		if event.Status != model.OutboxStatusPending {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, eventID uuid.UUID, publishedAt time.Time) error {
	return s.markEvent(ctx, eventID, model.OutboxStatusPublished, &publishedAt)
}

func (s *Store) MarkFailed(ctx context.Context, eventID uuid.UUID) error {
	return s.markEvent(ctx, eventID, model.OutboxStatusFailed, nil)
}

func (s *Store) markEvent(ctx context.Context, eventID uuid.UUID, status string, publishedAt *time.Time) error {
	if err := s.acquire(ctx, "mark event"); err != nil {
		return err
	}
	defer s.release()

	for i := range s.state.events {
		event := &s.state.events[i]
		if event.EventID != eventID {
			continue
		}
		if event.Status != model.OutboxStatusPending {
			return fmt.Errorf("outbox event %s is no longer pending: %w", eventID, apperr.ErrConflict)
		}
		event.Status = status
		event.PublishedAt = publishedAt
		return nil
	}
	return fmt.Errorf("outbox event %s: %w", eventID, apperr.ErrNotFound)
}

// Events returns a copy of every committed outbox event.
func (s *Store) Events() []model.DomainEvent {
	s.sem <- struct{}{}
	defer s.release()
	out := make([]model.DomainEvent, len(s.state.events))
	copy(out, s.state.events)
	return out
}

type transaction struct {
	state *state
	now   func() time.Time
}

func (tx *transaction) table(kind model.Kind) map[uuid.UUID]model.Record {
	rows, ok := tx.state.rows[kind]
	if !ok {
		rows = make(map[uuid.UUID]model.Record)
		tx.state.rows[kind] = rows
	}
	return rows
}

func (tx *transaction) Get(_ context.Context, kind model.Kind, id uuid.UUID) (model.Record, error) {
	if _, ok := model.Lookup(kind); !ok {
		return nil, fmt.Errorf("memory: unknown kind %q", kind)
	}
	rec, ok := tx.table(kind)[id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (tx *transaction) Lock(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Record, error) {
	// Units of work are already serialized.
	return tx.Get(ctx, kind, id)
}

func (tx *transaction) Insert(_ context.Context, rec model.Record) error {
	def, ok := model.Lookup(rec.Kind())
	if !ok {
		return fmt.Errorf("memory: unknown kind %q", rec.Kind())
	}
	if rec.GetID() == uuid.Nil {
		rec.SetID(uuid.New())
	}
	rows := tx.table(rec.Kind())
	if _, exists := rows[rec.GetID()]; exists {
		return &apperr.UniquenessConflictError{Field: "id"}
	}
	if err := tx.claimUnique(def, rec); err != nil {
		return err
	}
	rec.Touch(tx.now())
	rows[rec.GetID()] = rec.Clone()
	return nil
}

func (tx *transaction) Update(_ context.Context, rec model.Record) error {
	def, ok := model.Lookup(rec.Kind())
	if !ok {
		return fmt.Errorf("memory: unknown kind %q", rec.Kind())
	}
	rows := tx.table(rec.Kind())
	current, exists := rows[rec.GetID()]
	if !exists {
		return fmt.Errorf("%s %s: %w", rec.Kind(), rec.GetID(), apperr.ErrNotFound)
	}
	tx.releaseUnique(def, current)
	if err := tx.claimUnique(def, rec); err != nil {
		// restore the previous claims before failing
		_ = tx.claimUnique(def, current)
		return err
	}
	rec.Touch(tx.now())
	rows[rec.GetID()] = rec.Clone()
	return nil
}

func (tx *transaction) SaveState(_ context.Context, rec model.Record) error {
	rows := tx.table(rec.Kind())
	current, exists := rows[rec.GetID()]
	if !exists {
		return fmt.Errorf("%s %s: %w", rec.Kind(), rec.GetID(), apperr.ErrNotFound)
	}
	stored := current.Clone()
	switch st := rec.State().(type) {
	case model.Tombstoned:
		if !model.IsTombstoned(stored.State()) {
			if err := stored.Tombstone(st.At); err != nil {
				return err
			}
		}
	case model.Active:
		if model.IsTombstoned(stored.State()) {
			if err := stored.Restore(tx.now()); err != nil {
				return err
			}
		}
	}
	rows[rec.GetID()] = stored
	return nil
}

func (tx *transaction) Purge(_ context.Context, kind model.Kind, id uuid.UUID) error {
	def, ok := model.Lookup(kind)
	if !ok {
		return fmt.Errorf("memory: unknown kind %q", kind)
	}
	rows := tx.table(kind)
	current, exists := rows[id]
	if !exists {
		return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
	}
	tx.releaseUnique(def, current)
	delete(rows, id)
	return nil
}

func (tx *transaction) matchingRefs(ref store.Reference, parentID uuid.UUID, includeTombstoned bool) []model.Record {
	var out []model.Record
	for _, rec := range tx.table(ref.Child) {
		value, ok := rec.Ref(ref.Column)
		if !ok || value != parentID {
			continue
		}
		if !includeTombstoned && model.IsTombstoned(rec.State()) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

func (tx *transaction) CountRefs(_ context.Context, ref store.Reference, parentID uuid.UUID, includeTombstoned bool) (int64, error) {
	return int64(len(tx.matchingRefs(ref, parentID, includeTombstoned))), nil
}

func (tx *transaction) ListRefs(_ context.Context, ref store.Reference, parentID uuid.UUID, includeTombstoned bool) ([]uuid.UUID, error) {
	matches := tx.matchingRefs(ref, parentID, includeTombstoned)
	ids := make([]uuid.UUID, 0, len(matches))
	for _, rec := range matches {
		ids = append(ids, rec.GetID())
	}
	return ids, nil
}

func (tx *transaction) List(_ context.Context, kind model.Kind, filter store.Filter) ([]model.Record, int64, error) {
	if _, ok := model.Lookup(kind); !ok {
		return nil, 0, fmt.Errorf("memory: unknown kind %q", kind)
	}
	var matches []model.Record
	for _, rec := range tx.table(kind) {
		if !filter.IncludeDeleted && model.IsTombstoned(rec.State()) {
			continue
		}
		if !filter.Matches(rec.Owner()) {
			continue
		}
		matches = append(matches, rec)
	}
	sortRecords(matches)

	total := int64(len(matches))
	if filter.Offset > 0 {
		if filter.Offset >= len(matches) {
			matches = nil
		} else {
			matches = matches[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}

	out := make([]model.Record, 0, len(matches))
	for _, rec := range matches {
		out = append(out, rec.Clone())
	}
	return out, total, nil
}

func (tx *transaction) LockSequence(ctx context.Context, tenantID uuid.UUID, prefix string) (*model.InvoiceSequence, error) {
	for _, rec := range tx.table(model.KindInvoiceSequence) {
		seq := rec.(*model.InvoiceSequence)
		if seq.TenantID == tenantID && seq.Prefix == prefix {
			return seq.Clone().(*model.InvoiceSequence), nil
		}
	}
	seq := &model.InvoiceSequence{ID: uuid.New(), TenantID: tenantID, Prefix: prefix}
	if err := tx.Insert(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

func (tx *transaction) AdvanceSequence(_ context.Context, seq *model.InvoiceSequence, previous int64) error {
	rec, ok := tx.table(model.KindInvoiceSequence)[seq.ID]
	if !ok {
		return fmt.Errorf("invoice sequence %s: %w", seq.ID, apperr.ErrNotFound)
	}
	stored := rec.(*model.InvoiceSequence)
	if stored.LastNumber != previous {
		return fmt.Errorf("invoice sequence %s moved from %d: %w", seq.Prefix, previous, apperr.ErrConflict)
	}
	stored.LastNumber = seq.LastNumber
	stored.UpdatedAt = tx.now()
	return nil
}

func (tx *transaction) AppendEvent(_ context.Context, event *model.DomainEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = tx.now()
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	tx.state.events = append(tx.state.events, *event)
	return nil
}

func uniqueKey(def model.Definition, spec model.UniqueSpec, rec model.Record, value string) string {
	tenant := ""
	if spec.PerTenant {
		tenant = rec.Owner().TenantID.String()
	}
	return strings.Join([]string{string(def.Kind), spec.Field, tenant, value}, "|")
}

func (tx *transaction) claimUnique(def model.Definition, rec model.Record) error {
	values := rec.UniqueValues()
	keys := make([]string, 0, len(def.Unique))
	for _, spec := range def.Unique {
		value := values[spec.Field]
		if value == "" {
			continue
		}
		key := uniqueKey(def, spec, rec, value)
		if owner, taken := tx.state.unique[key]; taken && owner != rec.GetID() {
			return &apperr.UniquenessConflictError{Field: spec.Field}
		}
		keys = append(keys, key)
	}
	for _, key := range keys {
		tx.state.unique[key] = rec.GetID()
	}
	return nil
}

func (tx *transaction) releaseUnique(def model.Definition, rec model.Record) {
	values := rec.UniqueValues()
	for _, spec := range def.Unique {
		value := values[spec.Field]
		if value == "" {
			continue
		}
		key := uniqueKey(def, spec, rec, value)
		if tx.state.unique[key] == rec.GetID() {
			delete(tx.state.unique, key)
		}
	}
}

func sortRecords(recs []model.Record) {
	sort.Slice(recs, func(i, j int) bool {
		ci, cj := recs[i].Created(), recs[j].Created()
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return recs[i].GetID().String() < recs[j].GetID().String()
	})
}
