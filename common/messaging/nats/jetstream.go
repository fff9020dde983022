// Package nats provides JetStream support for durable, persistent messaging.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/telhawk-systems/eventgate/common/messaging"
)

// ErrIteratorClosed is returned by MessageIterator.Next after Stop.
var ErrIteratorClosed = errors.New("message iterator closed")

// JetStreamClient extends Client with JetStream persistence capabilities.
// Its Publish methods wait for the stream to acknowledge the write.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// Duplicates is the window in which repeated Nats-Msg-Id values are dropped.
	Duplicates time.Duration

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// ConsumerConfig defines a JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the durable consumer name.
	Name string

	// FilterSubject filters which messages this consumer receives.
	FilterSubject string

	// AckWait is time to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// MaxDeliver is maximum delivery attempts before giving up. -1 is unlimited.
	MaxDeliver int

	// MaxAckPending is maximum unacknowledged messages.
	MaxAckPending int
}

// DefaultStreamConfig returns sensible defaults for a stream.
func DefaultStreamConfig(name string, subjects []string) StreamConfig {
	return StreamConfig{
		Name:       name,
		Subjects:   subjects,
		MaxAge:     24 * time.Hour,     // Keep messages for 24 hours
		MaxBytes:   1024 * 1024 * 1024, // 1GB
		MaxMsgs:    1000000,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy, // Removed once acknowledged
		Storage:    jetstream.FileStorage,
	}
}

// DefaultConsumerConfig returns sensible defaults for a consumer.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
		MaxAckPending: 100,
	}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		MaxMsgs:    cfg.MaxMsgs,
		Duplicates: cfg.Duplicates,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}

// Stream returns an existing stream by name.
func (c *JetStreamClient) Stream(ctx context.Context, name string) (jetstream.Stream, error) {
	stream, err := c.js.Stream(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer with explicit acks.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	stream, err := c.Stream(ctx, streamName)
	if err != nil {
		return nil, err
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}

	return consumer, nil
}

// Publish persists data to the stream capturing subject.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte, opts ...messaging.PublishOption) error {
	o := messaging.ApplyPublishOptions(opts...)
	return c.PublishMsg(ctx, &messaging.Message{
		ID:       o.MsgID,
		Subject:  subject,
		Data:     data,
		Metadata: o.Headers,
	})
}

// PublishMsg persists msg and waits for acknowledgment. A message ID set on
// msg enables the stream's duplicate window.
func (c *JetStreamClient) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	_, err := c.PublishSync(ctx, msg)
	return err
}

// PublishSync publishes a message and returns the stream acknowledgment.
func (c *JetStreamClient) PublishSync(ctx context.Context, msg *messaging.Message) (*jetstream.PubAck, error) {
	var opts []jetstream.PublishOpt
	if msg.ID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.ID))
	}

	ack, err := c.js.PublishMsg(ctx, messageToNats(msg), opts...)
	if err != nil {
		return nil, fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}
	return ack, nil
}

// MessageIterator yields deliveries from a durable consumer. Each message
// carries an acknowledger and must be settled by the caller.
type MessageIterator struct {
	it jetstream.MessagesContext
}

// Messages opens a pull iterator on an existing durable consumer. maxPending
// bounds how many messages are buffered client-side.
func (c *JetStreamClient) Messages(ctx context.Context, streamName, consumerName string, maxPending int) (*MessageIterator, error) {
	stream, err := c.Stream(ctx, streamName)
	if err != nil {
		return nil, err
	}

	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}

	var opts []jetstream.PullMessagesOpt
	if maxPending > 0 {
		opts = append(opts, jetstream.PullMaxMessages(maxPending))
	}

	it, err := consumer.Messages(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return &MessageIterator{it: it}, nil
}

// Next blocks until a message is available. It returns ErrIteratorClosed once
// Stop has been called.
func (m *MessageIterator) Next() (*messaging.Message, error) {
	msg, err := m.it.Next()
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return nil, ErrIteratorClosed
		}
		return nil, err
	}
	return jetStreamToMessage(msg), nil
}

// Stop ends iteration; buffered but undelivered messages are redelivered by the server.
func (m *MessageIterator) Stop() {
	m.it.Stop()
}

// jsAcknowledger settles a JetStream delivery.
type jsAcknowledger struct {
	msg jetstream.Msg
}

func (a jsAcknowledger) Ack() error {
	return a.msg.Ack()
}

func (a jsAcknowledger) Nak(delay time.Duration) error {
	if delay <= 0 {
		return a.msg.Nak()
	}
	return a.msg.NakWithDelay(delay)
}

func (a jsAcknowledger) Term() error {
	return a.msg.Term()
}

// jetStreamToMessage converts a JetStream delivery into our Message type.
func jetStreamToMessage(msg jetstream.Msg) *messaging.Message {
	m := &messaging.Message{
		Subject:  msg.Subject(),
		Data:     msg.Data(),
		Metadata: headersToMetadata(msg.Headers()),
	}
	m.ID = m.Header(messaging.HeaderMsgID)

	if md, err := msg.Metadata(); err == nil {
		m.Timestamp = md.Timestamp
		m.Sequence = md.Sequence.Stream
		m.NumDelivered = md.NumDelivered
	} else {
		m.Timestamp = time.Now()
	}

	return m.WithAcknowledger(jsAcknowledger{msg: msg})
}

// Predefined stream configurations for eventgate.
var (
	// EventsStream captures business events awaiting processing.
	EventsStream = StreamConfig{
		Name:       "EVENTS",
		Subjects:   []string{"events.>"},
		MaxAge:     7 * 24 * time.Hour,
		MaxBytes:   1024 * 1024 * 1024, // 1GB
		MaxMsgs:    1000000,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy, // Removed once acknowledged
		Storage:    jetstream.FileStorage,
	}

	// DLQStream captures events that can never be processed.
	DLQStream = StreamConfig{
		Name:      "EVENTGATE_DLQ",
		Subjects:  []string{messaging.SubjectDLQPrefix + ".>"},
		MaxAge:    7 * 24 * time.Hour, // 7 days for investigation
		MaxBytes:  100 * 1024 * 1024,  // 100MB
		MaxMsgs:   100000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)
