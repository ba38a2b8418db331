package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID   = "bf-event-id"
	HeaderEventType = "bf-event-type"
	HeaderTenantID  = "bf-tenant-id"
	HeaderDLQError  = "bf-dlq-error"
)

type KafkaProducerConfig struct {
	Brokers    []string
	ClientID   string
	EventTopic string
	DLQTopic   string
}

type KafkaProducer struct {
	writer     *kafka.Writer
	eventTopic string
	dlqTopic   string
}

func NewKafkaProducer(cfg KafkaProducerConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Balancer: &kafka.Hash{},
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
		},
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaProducer{
		writer:     writer,
		eventTopic: cfg.EventTopic,
		dlqTopic:   cfg.DLQTopic,
	}
}

// PublishEvent writes to the event topic. Keys are tenant ids so every
// tenant's events stay ordered within one partition.
func (p *KafkaProducer) PublishEvent(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	return p.publish(ctx, p.eventTopic, key, value, headers)
}

func (p *KafkaProducer) PublishDLQ(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	if p.dlqTopic == "" {
		return errors.New("dlq topic is not configured")
	}
	return p.publish(ctx, p.dlqTopic, key, value, headers)
}

func (p *KafkaProducer) publish(ctx context.Context, topic string, key, value []byte, headers []kafka.Header) error {
	if topic == "" {
		return errors.New("topic is not configured")
	}

	message := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}

	return p.writer.WriteMessages(ctx, message)
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
