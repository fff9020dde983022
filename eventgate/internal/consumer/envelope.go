package consumer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/telhawk-systems/eventgate/common/messaging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

// ParseEnvelope converts a broker delivery into a Message. The message ID is
// the publisher's Nats-Msg-Id, falling back to the stream sequence; the topic
// is the subject; the event type comes from the event_type header.
func ParseEnvelope(raw *messaging.Message) (*models.Message, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil delivery", models.ErrMalformedEnvelope)
	}

	id := raw.ID
	if id == "" && raw.Sequence > 0 {
		id = strconv.FormatUint(raw.Sequence, 10)
	}

	if len(raw.Data) == 0 || !json.Valid(raw.Data) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", models.ErrMalformedEnvelope)
	}

	msg := &models.Message{
		MessageID:   id,
		Topic:       raw.Subject,
		EventType:   raw.Header(messaging.HeaderEventType),
		Payload:     json.RawMessage(raw.Data),
		Attributes:  raw.Metadata,
		PublishTime: raw.Timestamp,
		Delivered:   raw.NumDelivered,
		Raw:         raw,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
