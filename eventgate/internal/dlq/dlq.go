// Package dlq records deliveries that can never be processed on a JetStream
// dead-letter stream.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/telhawk-systems/eventgate/common/logging"
	"github.com/telhawk-systems/eventgate/common/messaging"
	"github.com/telhawk-systems/eventgate/common/messaging/nats"
	"github.com/telhawk-systems/eventgate/eventgate/internal/metrics"
)

// Reasons a delivery is dead-lettered. Each becomes the last subject token.
const (
	ReasonMalformedEnvelope = "malformed_envelope"
	ReasonUnknownEventType  = "unknown_event_type"
	ReasonInvalidPayload    = "invalid_payload"
	ReasonInvalidTransition = "invalid_transition"
)

// Writer records a permanently failed delivery.
type Writer interface {
	Write(ctx context.Context, msg *messaging.Message, cause error, reason string) error
}

// Entry is the JSON document stored on the dead-letter stream.
type Entry struct {
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Subject   string            `json:"subject" yaml:"subject"`
	MessageID string            `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	Sequence  uint64            `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Delivered uint64            `json:"delivered,omitempty" yaml:"delivered,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Data      []byte            `json:"data" yaml:"data"`
	Error     string            `json:"error" yaml:"error"`
	Reason    string            `json:"reason" yaml:"reason"`
}

// Stats summarises the dead-letter stream.
type Stats struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	WrittenLocal  uint64 `json:"written_local" yaml:"written_local"`
	TotalMessages uint64 `json:"total_messages" yaml:"total_messages"`
	TotalBytes    uint64 `json:"total_bytes" yaml:"total_bytes"`
	FirstSeq      uint64 `json:"first_seq" yaml:"first_seq"`
	LastSeq       uint64 `json:"last_seq" yaml:"last_seq"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Queue writes entries through a publisher and reads them back from the
// stream. A nil *Queue discards writes.
type Queue struct {
	pub     messaging.Publisher
	stream  jetstream.Stream
	written atomic.Uint64
	logger  *slog.Logger
}

// NewQueue builds a queue from its parts. stream may be nil when only
// writing is needed.
func NewQueue(pub messaging.Publisher, stream jetstream.Stream, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		pub:    pub,
		stream: stream,
		logger: logger.With(logging.Component("dlq")),
	}
}

// NewJetStreamQueue ensures the dead-letter stream exists and returns a queue on it.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*Queue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	q := NewQueue(js, stream, logger)
	q.logger.Info("dead-letter stream ready", slog.String("stream", nats.DLQStream.Name))
	return q, nil
}

// Write publishes msg with its failure cause to eventgate.dlq.<reason>.
// Repeated writes of the same delivery and reason are deduplicated by the
// stream.
func (q *Queue) Write(ctx context.Context, msg *messaging.Message, cause error, reason string) error {
	if q == nil {
		return nil
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Subject:   msg.Subject,
		MessageID: msg.ID,
		Sequence:  msg.Sequence,
		Delivered: msg.NumDelivered,
		Headers:   msg.Metadata,
		Data:      msg.Data,
		Reason:    reason,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	var opts []messaging.PublishOption
	if id := dedupID(msg, reason); id != "" {
		opts = append(opts, messaging.WithMsgID(id))
	}

	if err := q.pub.Publish(ctx, messaging.DLQSubject(reason), data, opts...); err != nil {
		q.logger.ErrorContext(ctx, "failed to publish dlq entry",
			logging.MessageID(msg.ID), logging.Topic(msg.Subject), logging.Error(err))
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	metrics.DeadLettered.WithLabelValues(reason).Inc()
	q.logger.WarnContext(ctx, "delivery dead-lettered",
		logging.MessageID(msg.ID), logging.Topic(msg.Subject),
		slog.String("reason", reason), logging.Error(cause))
	return nil
}

func dedupID(msg *messaging.Message, reason string) string {
	switch {
	case msg.ID != "":
		return "dlq:" + msg.Subject + ":" + msg.ID + ":" + reason
	case msg.Sequence != 0:
		return fmt.Sprintf("dlq:%s:seq-%d:%s", msg.Subject, msg.Sequence, reason)
	}
	return ""
}

// Written returns how many entries this process has written.
func (q *Queue) Written() uint64 {
	if q == nil {
		return 0
	}
	return q.written.Load()
}

// Stats returns dead-letter stream metrics.
func (q *Queue) Stats(ctx context.Context) Stats {
	if q == nil {
		return Stats{}
	}

	s := Stats{Enabled: true, WrittenLocal: q.written.Load()}
	if q.stream == nil {
		return s
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}

	s.TotalMessages = info.State.Msgs
	s.TotalBytes = info.State.Bytes
	s.FirstSeq = info.State.FirstSeq
	s.LastSeq = info.State.LastSeq
	return s
}

// List returns up to limit entries, oldest first.
func (q *Queue) List(ctx context.Context, limit int) ([]Entry, error) {
	if q == nil || q.stream == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}

	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectDLQPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var entries []Entry
	for msg := range msgs.Messages() {
		var e Entry
		if err := json.Unmarshal(msg.Data(), &e); err != nil {
			q.logger.WarnContext(ctx, "skipping unparseable dlq entry", logging.Error(err))
			continue
		}
		entries = append(entries, e)
	}

	if err := msgs.Error(); err != nil {
		q.logger.DebugContext(ctx, "dlq fetch completed with error", logging.Error(err))
	}

	return entries, nil
}

// Purge removes every entry from the dead-letter stream.
func (q *Queue) Purge(ctx context.Context) error {
	if q == nil || q.stream == nil {
		return fmt.Errorf("dlq not enabled")
	}

	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}

	q.logger.InfoContext(ctx, "dead-letter stream purged")
	return nil
}

var _ Writer = (*Queue)(nil)
