package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/telhawk-systems/eventgate/common/messaging"
)

// Message is the canonical envelope built from a broker delivery.
// Only MessageID, Topic and EventType are persisted.
type Message struct {
	MessageID   string
	Topic       string
	EventType   string
	Payload     json.RawMessage
	Attributes  map[string]string
	PublishTime time.Time
	Delivered   uint64

	// Raw is the broker delivery used to settle the message.
	Raw *messaging.Message
}

// Validate checks the fields required to identify and route the message.
func (m *Message) Validate() error {
	switch {
	case m.MessageID == "":
		return fmt.Errorf("%w: missing message id", ErrMalformedEnvelope)
	case m.Topic == "":
		return fmt.Errorf("%w: missing topic", ErrMalformedEnvelope)
	case m.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrMalformedEnvelope)
	}
	return nil
}

// Decode unmarshals the payload into v, rejecting unknown fields.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := strictUnmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
