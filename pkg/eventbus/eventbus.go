package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/billforge/billforge/pkg/model"
)

// Event is the pub/sub envelope. Notifications are best effort and sent
// after commit; the outbox is the durable record.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	TenantID  string          `json:"tenant_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

const (
	ChannelTenancy = "bf:events:tenancy"
	ChannelCatalog = "bf:events:catalog"
	ChannelInvoice = "bf:events:invoice"
)

// Notifier is what the domain services publish committed events through.
type Notifier interface {
	Notify(ctx context.Context, events ...model.DomainEvent)
}

type Bus struct {
	client redis.UniversalClient
	prefix string
	onErr  func(error)
}

func NewBus(client redis.UniversalClient, prefix string, onErr func(error)) *Bus {
	if onErr == nil {
		onErr = func(error) {}
	}
	return &Bus{client: client, prefix: prefix, onErr: onErr}
}

func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

// FromDomainEvent converts an outbox row into a pub/sub envelope.
func FromDomainEvent(event model.DomainEvent) (Event, error) {
	out, err := NewEvent(event.EventType, event.Payload)
	if err != nil {
		return Event{}, err
	}
	out.ID = event.EventID.String()
	out.TenantID = event.TenantID.String()
	out.Timestamp = event.CreatedAt.Unix()
	return out, nil
}

// ChannelFor routes an event type to its channel by type prefix.
func ChannelFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "invoice."):
		return ChannelInvoice
	case strings.HasPrefix(eventType, "tenant."),
		strings.HasPrefix(eventType, "organisation."),
		strings.HasPrefix(eventType, "branch."):
		return ChannelTenancy
	default:
		return ChannelCatalog
	}
}

func (b *Bus) channel(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + ":" + name
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(channel), payload).Err()
}

// Notify publishes each event on its channel. Failures are reported to the
// error hook and never returned: the change is already committed.
func (b *Bus) Notify(ctx context.Context, events ...model.DomainEvent) {
	for _, domainEvent := range events {
		event, err := FromDomainEvent(domainEvent)
		if err != nil {
			b.onErr(err)
			continue
		}
		if err := b.Publish(ctx, ChannelFor(event.Type), event); err != nil {
			b.onErr(err)
		}
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, ...model.DomainEvent) {}
