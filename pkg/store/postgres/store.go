package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/config"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db          *gorm.DB
	lockTimeout time.Duration
	txTimeout   time.Duration
	logger      *zap.Logger
}

func NewStore(cfg *config.DatabaseConfig, storeCfg config.StoreConfig, log *zap.Logger) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return &Store{
		db:          db,
		lockTimeout: storeCfg.LockTimeout,
		txTimeout:   storeCfg.TxTimeout,
		logger:      log,
	}, nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunInTx runs fn inside a database transaction with lock and statement
// timeouts scoped to it.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := s.setLocalTimeouts(db); err != nil {
			return classify("begin", err)
		}
		return fn(&transaction{db: db})
	})
	return classify("commit", err)
}

func (s *Store) setLocalTimeouts(db *gorm.DB) error {
	if s.lockTimeout > 0 {
		if err := db.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())).Error; err != nil {
			return err
		}
	}
	if s.txTimeout > 0 {
		if err := db.Exec(fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.txTimeout.Milliseconds())).Error; err != nil {
			return err
		}
	}
	return nil
}

// Ping reports whether the database accepts connections.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return classify("ping", sqlDB.PingContext(ctx))
}

// transaction implements store.Tx on a gorm transaction. Every query runs
// Unscoped so tombstoned rows stay visible; filters on deleted_at are explicit.
type transaction struct {
	db *gorm.DB
}

func (tx *transaction) now() time.Time {
	return time.Now().UTC()
}

func lookup(kind model.Kind) (model.Definition, error) {
	def, ok := model.Lookup(kind)
	if !ok {
		return model.Definition{}, fmt.Errorf("postgres: unknown kind %q", kind)
	}
	return def, nil
}

func (tx *transaction) find(ctx context.Context, kind model.Kind, id uuid.UUID, lock bool) (model.Record, error) {
	def, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	rec := def.New()
	q := tx.db.WithContext(ctx).Unscoped()
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("id = ?", id).Take(rec).Error; err != nil {
		return nil, classify(fmt.Sprintf("get %s %s", kind, id), err)
	}
	return rec, nil
}

func (tx *transaction) Get(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Record, error) {
	return tx.find(ctx, kind, id, false)
}

func (tx *transaction) Lock(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Record, error) {
	return tx.find(ctx, kind, id, true)
}

func (tx *transaction) Insert(ctx context.Context, rec model.Record) error {
	if rec.GetID() == uuid.Nil {
		rec.SetID(uuid.New())
	}
	rec.Touch(tx.now())
	return classify(fmt.Sprintf("insert %s", rec.Kind()), tx.db.WithContext(ctx).Create(rec).Error)
}

func (tx *transaction) Update(ctx context.Context, rec model.Record) error {
	rec.Touch(tx.now())
	res := tx.db.WithContext(ctx).Unscoped().
		Model(rec).
		Select("*").
		Omit("id", "created_at", "deleted_at").
		Updates(rec)
	if res.Error != nil {
		return classify(fmt.Sprintf("update %s", rec.Kind()), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", rec.Kind(), rec.GetID(), apperr.ErrNotFound)
	}
	return nil
}

func (tx *transaction) SaveState(ctx context.Context, rec model.Record) error {
	def, err := lookup(rec.Kind())
	if err != nil {
		return err
	}
	audit := rec.Audit()
	res := tx.db.WithContext(ctx).Unscoped().
		Model(def.New()).
		Where("id = ?", rec.GetID()).
		UpdateColumns(map[string]interface{}{
			"deleted_at": audit.DeletedAt,
			"updated_at": audit.UpdatedAt,
		})
	if res.Error != nil {
		return classify(fmt.Sprintf("save state %s", rec.Kind()), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", rec.Kind(), rec.GetID(), apperr.ErrNotFound)
	}
	return nil
}

func (tx *transaction) Purge(ctx context.Context, kind model.Kind, id uuid.UUID) error {
	def, err := lookup(kind)
	if err != nil {
		return err
	}
	res := tx.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(def.New())
	if res.Error != nil {
		return classify(fmt.Sprintf("purge %s", kind), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
	}
	return nil
}

func (tx *transaction) refQuery(ctx context.Context, ref store.Reference, parentID uuid.UUID, includeTombstoned bool) (*gorm.DB, error) {
	def, err := lookup(ref.Child)
	if err != nil {
		return nil, err
	}
	q := tx.db.WithContext(ctx).Unscoped().
		Model(def.New()).
		Where(clause.Eq{Column: clause.Column{Name: ref.Column}, Value: parentID})
	if !includeTombstoned {
		q = q.Where("deleted_at IS NULL")
	}
	return q, nil
}

func (tx *transaction) CountRefs(ctx context.Context, ref store.Reference, parentID uuid.UUID, includeTombstoned bool) (int64, error) {
	q, err := tx.refQuery(ctx, ref, parentID, includeTombstoned)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, classify(fmt.Sprintf("count %s.%s", ref.Child, ref.Column), err)
	}
	return count, nil
}

func (tx *transaction) ListRefs(ctx context.Context, ref store.Reference, parentID uuid.UUID, includeTombstoned bool) ([]uuid.UUID, error) {
	q, err := tx.refQuery(ctx, ref, parentID, includeTombstoned)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if err := q.Order("created_at ASC, id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, classify(fmt.Sprintf("list %s.%s", ref.Child, ref.Column), err)
	}
	return ids, nil
}

// scopeColumns names the columns holding each level of the hierarchy for a
// kind. branchOptional is set when a NULL branch means organisation wide.
func scopeColumns(def model.Definition) (tenant, org, branch string, branchOptional bool) {
	switch def.Kind {
	case model.KindTenant:
		return "id", "", "", false
	case model.KindOrganisation:
		return "tenant_id", "id", "", false
	case model.KindBranch:
		return "tenant_id", "organisation_id", "id", false
	case model.KindInvoiceSequence:
		return "tenant_id", "", "", false
	}
	return "tenant_id", "organisation_id", "branch_id", true
}

func (tx *transaction) List(ctx context.Context, kind model.Kind, filter store.Filter) ([]model.Record, int64, error) {
	def, err := lookup(kind)
	if err != nil {
		return nil, 0, err
	}

	tenantCol, orgCol, branchCol, branchOptional := scopeColumns(def)
	q := tx.db.WithContext(ctx).Unscoped().Model(def.New()).
		Where(clause.Eq{Column: clause.Column{Name: tenantCol}, Value: filter.TenantID})
	if filter.OrganisationID != nil {
		if orgCol == "" {
			q = q.Where("1 = 0")
		} else {
			q = q.Where(clause.Eq{Column: clause.Column{Name: orgCol}, Value: *filter.OrganisationID})
		}
	}
	if filter.BranchID != nil && branchCol != "" {
		if branchOptional {
			q = q.Where(fmt.Sprintf("(%s = ? OR %s IS NULL)", branchCol, branchCol), *filter.BranchID)
		} else {
			q = q.Where(clause.Eq{Column: clause.Column{Name: branchCol}, Value: *filter.BranchID})
		}
	}
	if !filter.IncludeDeleted {
		q = q.Where("deleted_at IS NULL")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(fmt.Sprintf("count %s", kind), err)
	}

	q = q.Order("created_at ASC, id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	slice := def.NewSlice()
	if err := q.Find(slice).Error; err != nil {
		return nil, 0, classify(fmt.Sprintf("list %s", kind), err)
	}
	return def.Collect(slice), total, nil
}

// LockSequence inserts the sequence row at zero when it is missing and then
// locks it. Concurrent creators race on the unique index; the loser's insert
// is a no-op and it blocks on the winner's row lock.
func (tx *transaction) LockSequence(ctx context.Context, tenantID uuid.UUID, prefix string) (*model.InvoiceSequence, error) {
	seq := &model.InvoiceSequence{ID: uuid.New(), TenantID: tenantID, Prefix: prefix}
	seq.Touch(tx.now())

	db := tx.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seq).Error; err != nil {
		return nil, classify("create invoice sequence", err)
	}

	var locked model.InvoiceSequence
	err := db.Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND prefix = ?", tenantID, prefix).
		Take(&locked).Error
	if err != nil {
		return nil, classify("lock invoice sequence", err)
	}
	return &locked, nil
}

func (tx *transaction) AdvanceSequence(ctx context.Context, seq *model.InvoiceSequence, previous int64) error {
	res := tx.db.WithContext(ctx).Unscoped().
		Model(&model.InvoiceSequence{}).
		Where("id = ? AND last_number = ?", seq.ID, previous).
		UpdateColumns(map[string]interface{}{
			"last_number": seq.LastNumber,
			"updated_at":  tx.now(),
		})
	if res.Error != nil {
		return classify("advance invoice sequence", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("invoice sequence %s moved from %d: %w", seq.Prefix, previous, apperr.ErrConflict)
	}
	return nil
}

func (tx *transaction) AppendEvent(ctx context.Context, event *model.DomainEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	return classify("append event", tx.db.WithContext(ctx).Create(event).Error)
}
