package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/eventbus"
	"github.com/billforge/billforge/pkg/metrics"
	"github.com/billforge/billforge/pkg/model"
)

type Repository interface {
	ListPending(ctx context.Context, limit int) ([]model.DomainEvent, error)
	MarkPublished(ctx context.Context, eventID uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, eventID uuid.UUID) error
}

// Publisher is satisfied by eventbus.KafkaProducer.
type Publisher interface {
	PublishEvent(ctx context.Context, key, value []byte, headers ...kafka.Header) error
	PublishDLQ(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

type Relay struct {
	repo         Repository
	publisher    Publisher
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

type Message struct {
	EventID   string      `json:"event_id"`
	TenantID  string      `json:"tenant_id"`
	EventType string      `json:"event_type"`
	Payload   model.JSONB `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

type DLQMessage struct {
	Event    Message   `json:"event"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func NewRelay(repo Repository, publisher Publisher, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		repo:         repo,
		publisher:    publisher,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.ProcessPending(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.ProcessPending(ctx)
		}
	}
}

// ProcessPending publishes one batch and returns how many events left the
// pending state.
func (r *Relay) ProcessPending(ctx context.Context) int {
	events, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("failed to list pending outbox events", zap.Error(err))
		return 0
	}

	processed := 0
	for _, event := range events {
		if err := r.publishEvent(ctx, event); err != nil {
			r.logger.Warn("failed to publish outbox event", zap.Error(err), zap.String("event_id", event.EventID.String()))
			continue
		}
		processed++
	}
	return processed
}

func (r *Relay) publishEvent(ctx context.Context, event model.DomainEvent) error {
	message := Message{
		EventID:   event.EventID.String(),
		TenantID:  event.TenantID.String(),
		EventType: event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	headers := []kafka.Header{
		{Key: eventbus.HeaderEventID, Value: []byte(message.EventID)},
		{Key: eventbus.HeaderEventType, Value: []byte(message.EventType)},
		{Key: eventbus.HeaderTenantID, Value: []byte(message.TenantID)},
	}

	if err := r.publisher.PublishEvent(ctx, []byte(message.TenantID), payload, headers...); err != nil {
		r.logger.Warn("failed to publish to kafka, sending to DLQ", zap.Error(err), zap.String("event_id", message.EventID))
		return r.publishDLQ(ctx, message, err, event.EventID, headers)
	}

	if err := r.repo.MarkPublished(ctx, event.EventID, r.now()); err != nil {
		r.logger.Warn("failed to mark event published", zap.Error(err), zap.String("event_id", message.EventID))
		return err
	}
	metrics.OutboxPublished.WithLabelValues(event.EventType, "published").Inc()

	return nil
}

func (r *Relay) publishDLQ(ctx context.Context, message Message, publishErr error, eventID uuid.UUID, headers []kafka.Header) error {
	dlq := DLQMessage{
		Event:    message,
		Error:    publishErr.Error(),
		FailedAt: r.now(),
	}

	payload, err := json.Marshal(dlq)
	if err != nil {
		return err
	}

	headers = append(headers, kafka.Header{Key: eventbus.HeaderDLQError, Value: []byte(publishErr.Error())})
	if err := r.publisher.PublishDLQ(ctx, []byte(message.TenantID), payload, headers...); err != nil {
		return err
	}

	if err := r.repo.MarkFailed(ctx, eventID); err != nil {
		r.logger.Warn("failed to mark event failed", zap.Error(err), zap.String("event_id", eventID.String()))
		return err
	}
	metrics.OutboxPublished.WithLabelValues(message.EventType, "dead_lettered").Inc()

	return nil
}
