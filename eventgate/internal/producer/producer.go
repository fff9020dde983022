// Package producer publishes business events onto the event stream.
package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/telhawk-systems/eventgate/common/messaging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/digest"
)

// Publisher publishes events to JetStream subjects.
type Publisher struct {
	pub  messaging.Publisher
	name string
}

// NewPublisher creates a publisher that stamps name into the publisher header.
func NewPublisher(pub messaging.Publisher, name string) *Publisher {
	return &Publisher{pub: pub, name: name}
}

// Publish sends payload to topic as eventType and returns the message ID.
// An empty messageID is replaced with a new UUID. Publishing again with the
// same ID inside the stream's duplicate window is a no-op.
func (p *Publisher) Publish(ctx context.Context, topic, eventType, messageID string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	if eventType == "" {
		return "", fmt.Errorf("event type is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	if messageID == "" {
		messageID = uuid.New().String()
	}

	opts := []messaging.PublishOption{
		messaging.WithMsgID(messageID),
		messaging.WithHeader(messaging.HeaderEventType, eventType),
	}
	if p.name != "" {
		opts = append(opts, messaging.WithHeader(messaging.HeaderPublisher, p.name))
	}

	if err := p.pub.Publish(ctx, topic, data, opts...); err != nil {
		return "", fmt.Errorf("failed to publish %s to %s: %w", eventType, topic, err)
	}
	return messageID, nil
}

// PublishDailyDigest publishes a DailyDigest event on the digest subject.
func (p *Publisher) PublishDailyDigest(ctx context.Context, payload *digest.Payload) (string, error) {
	return p.Publish(ctx, messaging.SubjectEventsDigestDaily, digest.EventType, "", payload)
}
