// Package messaging provides abstractions for message broker communication.
// Consumers receive broker deliveries as Message values and settle them
// explicitly through the Acknowledger attached to each delivery.
package messaging

import (
	"context"
	"errors"
	"time"
)

// HeaderMsgID carries the publisher-assigned message identifier.
const HeaderMsgID = "Nats-Msg-Id"

// ErrNoAcknowledger is returned when settling a message that was not
// received from a broker.
var ErrNoAcknowledger = errors.New("message has no acknowledger")

// Acknowledger settles a single delivery with the broker.
type Acknowledger interface {
	// Ack confirms the delivery; the broker will not redeliver it.
	Ack() error

	// Nak rejects the delivery; the broker redelivers it after delay.
	Nak(delay time.Duration) error

	// Term rejects the delivery permanently; it is never redelivered.
	Term() error
}

// Message represents a message received from or sent to a message broker.
type Message struct {
	// ID is the publisher-assigned identifier, empty when the publisher set none.
	ID string

	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the broker stored the message.
	Timestamp time.Time

	// Sequence is the broker stream sequence, zero for core messages.
	Sequence uint64

	// NumDelivered counts delivery attempts, starting at 1.
	NumDelivered uint64

	ack Acknowledger
}

// WithAcknowledger attaches the broker handle used to settle the message.
func (m *Message) WithAcknowledger(a Acknowledger) *Message {
	m.ack = a
	return m
}

// Ack confirms the delivery.
func (m *Message) Ack() error {
	if m.ack == nil {
		return ErrNoAcknowledger
	}
	return m.ack.Ack()
}

// Nak asks the broker to redeliver after delay.
func (m *Message) Nak(delay time.Duration) error {
	if m.ack == nil {
		return ErrNoAcknowledger
	}
	return m.ack.Nak(delay)
}

// Term stops all further redelivery of the message.
func (m *Message) Term() error {
	if m.ack == nil {
		return ErrNoAcknowledger
	}
	return m.ack.Term()
}

// Header returns the metadata value for key, or "".
func (m *Message) Header(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// MessageHandler processes a received message. The handler owns settlement:
// it must call Ack, Nak or Term on the message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject and waits for the broker to persist it.
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error

	// PublishMsg sends a Message with full control over headers and ID.
	PublishMsg(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Client is a connected broker client.
type Client interface {
	Publisher

	// Drain gracefully closes the connection, allowing in-flight messages to complete.
	Drain() error

	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool
}

// PublishOption configures message publishing behavior.
type PublishOption func(*PublishOptions)

// PublishOptions is the resolved set of publish options.
type PublishOptions struct {
	MsgID   string
	Headers map[string]string
}

// ApplyPublishOptions resolves opts into a PublishOptions value.
func ApplyPublishOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// WithMsgID sets the message identifier used for broker-side deduplication.
func WithMsgID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.MsgID = id
	}
}
