package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

const (
	EventTenantCreated       = "tenant.created"
	EventOrganisationCreated = "organisation.created"
	EventBranchCreated       = "branch.created"
	EventRecordCreated       = "record.created"
	EventRecordUpdated       = "record.updated"
	EventRecordDeleted       = "record.deleted"
	EventRecordRestored      = "record.restored"
	EventInvoiceNumbered     = "invoice.numbered"
	EventInvoiceIssued       = "invoice.issued"
	EventInvoiceVoided       = "invoice.voided"
)

// DomainEvent is a transactional outbox row written in the same transaction
// as the change it describes.
type DomainEvent struct {
	EventID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType   string    `gorm:"not null"`
	Payload     JSONB     `gorm:"type:jsonb;not null"`
	Status      string    `gorm:"not null;default:'pending';index"`
	CreatedAt   time.Time `gorm:"autoCreateTime;not null"`
	PublishedAt *time.Time
}

func (DomainEvent) TableName() string {
	return "domain_events"
}

func NewDomainEvent(tenantID uuid.UUID, eventType string, payload JSONB) *DomainEvent {
	return &DomainEvent{
		EventID:   uuid.New(),
		TenantID:  tenantID,
		EventType: eventType,
		Payload:   payload,
		Status:    OutboxStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}
