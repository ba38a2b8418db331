package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/billforge/billforge/pkg/model"
)

func TestChannelFor(t *testing.T) {
	cases := map[string]string{
		model.EventInvoiceNumbered:     ChannelInvoice,
		model.EventTenantCreated:       ChannelTenancy,
		model.EventOrganisationCreated: ChannelTenancy,
		model.EventBranchCreated:       ChannelTenancy,
		model.EventRecordDeleted:       ChannelCatalog,
	}
	for eventType, want := range cases {
		if got := ChannelFor(eventType); got != want {
			t.Fatalf("%s: expected %s, got %s", eventType, want, got)
		}
	}
}

func TestFromDomainEvent(t *testing.T) {
	tenantID := uuid.New()
	domainEvent := model.NewDomainEvent(tenantID, model.EventInvoiceNumbered, model.JSONB{"formatted": "INV-000001"})
	domainEvent.CreatedAt = time.Unix(1700000000, 0)

	event, err := FromDomainEvent(*domainEvent)
	if err != nil {
		t.Fatalf("expected conversion, got %v", err)
	}
	if event.ID != domainEvent.EventID.String() || event.TenantID != tenantID.String() {
		t.Fatalf("unexpected identifiers: %+v", event)
	}
	if event.Timestamp != 1700000000 {
		t.Fatalf("expected creation timestamp, got %d", event.Timestamp)
	}

	var data map[string]string
	if err := json.Unmarshal(event.Data, &data); err != nil {
		t.Fatalf("expected json data, got %v", err)
	}
	if data["formatted"] != "INV-000001" {
		t.Fatalf("unexpected payload %v", data)
	}
}

func TestNotifyReportsPublishFailures(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	var failures int
	bus := NewBus(client, "test", func(error) { failures++ })
	bus.Notify(context.Background(),
		*model.NewDomainEvent(uuid.New(), model.EventTenantCreated, nil),
		*model.NewDomainEvent(uuid.New(), model.EventInvoiceNumbered, nil),
	)
	if failures != 2 {
		t.Fatalf("expected both failures reported, got %d", failures)
	}
}
