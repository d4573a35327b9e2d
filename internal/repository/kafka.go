package repository

import (
	"context"

	domainrepo "TickLab/internal/domain/repository"
	"TickLab/pkg/kafka"
)

// EventPublisher routes domain events to a fixed Kafka topic, keyed by
// user so per-user ordering is preserved with a hash balancer.
type EventPublisher struct {
	producer *kafka.Producer
	topic    string
}

// NewEventPublisher wraps a producer for one topic.
func NewEventPublisher(producer *kafka.Producer, topic string) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic}
}

var _ domainrepo.Publisher = (*EventPublisher)(nil)

func (p *EventPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	return p.producer.Publish(ctx, p.topic, []byte(key), value)
}

func (p *EventPublisher) Close() error {
	return p.producer.Close()
}
