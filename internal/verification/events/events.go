// Package events publishes verification lifecycle changes for webhook
// fan-out. Delivery is best effort: the audit outbox is the durable record.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"verigate/internal/verification/models"
)

// EventTypeTransitioned is the header value carried by every lifecycle record.
const EventTypeTransitioned = "verification.transitioned"

// Producer is the transport the publisher writes to.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Lifecycle describes one applied transition.
type Lifecycle struct {
	VerificationID string       `json:"verification_id"`
	DeveloperID    string       `json:"developer_id"`
	UserID         string       `json:"user_id"`
	FromState      models.State `json:"from_state"`
	ToState        models.State `json:"to_state"`
	Event          models.Event `json:"event"`
	Sandbox        bool         `json:"sandbox"`
	Terminal       bool         `json:"terminal"`
	Version        int          `json:"version"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// Publisher serializes lifecycle records onto one topic keyed by
// verification id, so a request's events stay ordered within a partition.
type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

func (p *Publisher) PublishTransition(ctx context.Context, event Lifecycle) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	headers := map[string]string{
		"event_type":   EventTypeTransitioned,
		"developer_id": event.DeveloperID,
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(event.VerificationID), payload, headers); err != nil {
		return fmt.Errorf("publish lifecycle event: %w", err)
	}
	return nil
}
