package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/model"
)

// OutboxRepository feeds the relay from the domain_events table. Rows leave
// the pending state exactly once.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ListPending returns up to limit pending events in commit order.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]model.DomainEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.DomainEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC, event_id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, classify("list pending events", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID uuid.UUID, publishedAt time.Time) error {
	return r.transition(ctx, eventID, map[string]interface{}{
		"status":       model.OutboxStatusPublished,
		"published_at": publishedAt,
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, eventID uuid.UUID) error {
	return r.transition(ctx, eventID, map[string]interface{}{"status": model.OutboxStatusFailed})
}

// transition moves a pending event on. An event another relay already
// handled reports ErrConflict; an unknown one ErrNotFound.
func (r *OutboxRepository) transition(ctx context.Context, eventID uuid.UUID, updates map[string]interface{}) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&model.DomainEvent{}).
		Where("event_id = ? AND status = ?", eventID, model.OutboxStatusPending).
		Updates(updates)
	if res.Error != nil {
		return classify("mark event", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&model.DomainEvent{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return classify("inspect event", err)
	}
	if count == 0 {
		return fmt.Errorf("outbox event %s: %w", eventID, apperr.ErrNotFound)
	}
	return fmt.Errorf("outbox event %s is no longer pending: %w", eventID, apperr.ErrConflict)
}
