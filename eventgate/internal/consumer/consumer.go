// Package consumer pulls deliveries from a durable JetStream consumer, runs
// each through the dispatcher on a bounded worker pool, and settles it with
// the broker according to the processing outcome.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/eventgate/common/database"
	"github.com/telhawk-systems/eventgate/common/logging"
	"github.com/telhawk-systems/eventgate/common/messaging"
	"github.com/telhawk-systems/eventgate/common/messaging/nats"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dispatcher"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/eventgate/internal/metrics"
	"github.com/telhawk-systems/eventgate/eventgate/internal/tracing"
)

// Source yields deliveries. Next returns nats.ErrIteratorClosed after Stop.
type Source interface {
	Next() (*messaging.Message, error)
	Stop()
}

// Dispatcher processes one delivery scope.
type Dispatcher interface {
	Dispatch(ctx context.Context, scope *dispatcher.Scope) error
}

// Config tunes the consumer.
type Config struct {
	// Workers bounds how many deliveries are processed concurrently.
	Workers int

	// NakDelay is the redelivery delay for messages another worker is processing.
	NakDelay time.Duration

	// ErrorBackoff is the pause after a failed pull before trying again.
	ErrorBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:      10,
		NakDelay:     5 * time.Second,
		ErrorBackoff: time.Second,
	}
}

type Consumer struct {
	source     Source
	dispatcher Dispatcher
	dlq        dlq.Writer
	cfg        Config
	logger     *slog.Logger
}

// New creates a consumer. deadLetters may be nil to drop dead letters.
func New(source Source, d Dispatcher, deadLetters dlq.Writer, cfg Config, logger *slog.Logger) *Consumer {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.NakDelay <= 0 {
		cfg.NakDelay = defaults.NakDelay
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaults.ErrorBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		source:     source,
		dispatcher: d,
		dlq:        deadLetters,
		cfg:        cfg,
		logger:     logger.With(logging.Component("consumer")),
	}
}

// Run consumes until ctx is cancelled or the source is stopped. In-flight
// deliveries see the cancellation; Run returns once all of them are settled.
func (c *Consumer) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)
	metrics.WorkerPoolSize.Set(float64(c.cfg.Workers))

	stop := context.AfterFunc(ctx, c.source.Stop)
	defer stop()

	c.logger.Info("consumer started", slog.Int("workers", c.cfg.Workers))

	for {
		raw, err := c.source.Next()
		if err != nil {
			if errors.Is(err, nats.ErrIteratorClosed) || ctx.Err() != nil {
				break
			}
			c.logger.Warn("failed to pull message", logging.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ErrorBackoff):
			}
			continue
		}

		// Go blocks while the pool is full, which stops pulling.
		g.Go(func() error {
			c.handle(ctx, raw)
			return nil
		})
	}

	_ = g.Wait()
	c.logger.Info("consumer stopped")
	return nil
}

// handle processes and settles a single delivery. It never panics.
func (c *Consumer) handle(ctx context.Context, raw *messaging.Message) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()
	metrics.MessagesReceived.WithLabelValues(raw.Subject).Inc()

	start := time.Now()
	err := c.process(ctx, raw)
	d := Decide(err, c.cfg.NakDelay)

	c.settle(ctx, raw, d, err, time.Since(start))
}

func (c *Consumer) process(ctx context.Context, raw *messaging.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	msg, err := ParseEnvelope(raw)
	if err != nil {
		return err
	}

	scope := dispatcher.NewScope(msg, c.logger)
	ctx, span := tracing.StartDeliverySpan(ctx, msg.Topic, msg.MessageID, scope.DeliveryID)
	defer func() { tracing.EndSpanWithError(span, err) }()

	return c.dispatcher.Dispatch(ctx, scope)
}

func (c *Consumer) settle(ctx context.Context, raw *messaging.Message, d Decision, cause error, took time.Duration) {
	attrs := []any{
		logging.MessageID(raw.ID),
		logging.Topic(raw.Subject),
		logging.EventType(raw.Header(messaging.HeaderEventType)),
		logging.Attempt(raw.NumDelivered),
		logging.Duration(took),
		slog.String("outcome", d.Outcome),
	}

	if d.DeadLetter && c.dlq != nil {
		// The entry must be written even during shutdown.
		dctx, cancel := database.DetachedContext(ctx, database.DefaultWriteTimeout)
		err := c.dlq.Write(dctx, raw, cause, d.Reason)
		cancel()
		if err != nil {
			c.logger.Error("dead-letter write failed, redelivering", append(attrs, logging.Error(err))...)
			d = Decision{Action: ActionNak, Outcome: "dlq_failed"}
		}
	}

	var err error
	switch d.Action {
	case ActionAck:
		err = raw.Ack()
	case ActionTerm:
		err = raw.Term()
	default:
		err = raw.Nak(d.Delay)
	}
	metrics.MessagesSettled.WithLabelValues(string(d.Action), d.Outcome).Inc()

	attrs = append(attrs, logging.Action(string(d.Action)))
	if err != nil {
		c.logger.Error("failed to settle message", append(attrs, logging.Error(err))...)
	}

	switch d.Outcome {
	case "processed":
		c.logger.Debug("message processed", attrs...)
	case "duplicate", "in_progress":
		c.logger.Info("message skipped", append(attrs, logging.Error(cause))...)
	case "error", "finalization_failed", "dlq_failed":
		c.logger.Warn("message will be redelivered", append(attrs, logging.Error(cause))...)
	default:
		c.logger.Error("message failed permanently", append(attrs, logging.Error(cause))...)
	}
}
