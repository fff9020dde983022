// Package service runs business handlers under the idempotent processing
// protocol: admit the message in one transaction, run the handler outside any
// transaction, then record the outcome in a second transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/eventgate/common/database"
	"github.com/telhawk-systems/eventgate/common/logging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/lock"
	"github.com/telhawk-systems/eventgate/eventgate/internal/metrics"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/repository"
	"github.com/telhawk-systems/eventgate/eventgate/internal/tracing"
)

// ErrFinalization marks an error recording a handler's outcome. The event may
// still be PROCESSING, so the delivery must be redelivered rather than acked.
var ErrFinalization = errors.New("failed to record final status")

// Handler performs the business action for one message.
type Handler interface {
	Handle(ctx context.Context, msg *models.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *models.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *models.Message) error {
	return f(ctx, msg)
}

// ProcessedCache is an optional fast path for already processed messages.
type ProcessedCache interface {
	IsProcessed(ctx context.Context, messageID, topic string) (bool, error)
	MarkProcessed(ctx context.Context, messageID, topic string) error
}

// Config bounds each phase of processing.
type Config struct {
	AdmissionTimeout time.Duration
	HandlerTimeout   time.Duration
	FinalizeTimeout  time.Duration
}

// DefaultConfig returns the timeouts used when none are configured.
func DefaultConfig() Config {
	return Config{
		AdmissionTimeout: database.DefaultWriteTimeout,
		HandlerTimeout:   5 * time.Minute,
		FinalizeTimeout:  database.DefaultWriteTimeout,
	}
}

// Processor runs handlers so each (message_id, topic) completes at most once.
type Processor struct {
	store  repository.Store
	cache  ProcessedCache
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithCache enables the processed-message fast path.
func WithCache(c ProcessedCache) Option {
	return func(p *Processor) {
		p.cache = c
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

func NewProcessor(store repository.Store, cfg Config, opts ...Option) *Processor {
	defaults := DefaultConfig()
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = defaults.AdmissionTimeout
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaults.HandlerTimeout
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaults.FinalizeTimeout
	}

	p := &Processor{
		store:  store,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With(logging.Component("processor")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs h for msg under the idempotency protocol.
//
// It returns *models.EventProcessingError when another delivery holds or is
// running the message, *models.EventProcessedError when it already completed,
// and otherwise the handler's error, joined with any error from recording the
// outcome. A panicking handler is recorded as FAILED and the panic re-raised.
func (p *Processor) Process(ctx context.Context, msg *models.Message, h Handler) (err error) {
	ctx, span := tracing.StartProcessSpan(ctx, msg.Topic, msg.MessageID, msg.EventType)
	defer func() { tracing.EndSpanWithError(span, err) }()

	if err := msg.Validate(); err != nil {
		return err
	}

	if p.cachedAsProcessed(ctx, msg) {
		metrics.Admissions.WithLabelValues("cached").Inc()
		return &models.EventProcessedError{MessageID: msg.MessageID, Topic: msg.Topic}
	}

	attempt, err := p.admit(ctx, msg)
	if err != nil {
		return err
	}

	return p.execute(ctx, msg, attempt, h)
}

func (p *Processor) cachedAsProcessed(ctx context.Context, msg *models.Message) bool {
	if p.cache == nil {
		return false
	}

	processed, err := p.cache.IsProcessed(ctx, msg.MessageID, msg.Topic)
	if err != nil {
		metrics.CacheErrors.Inc()
		p.logger.WarnContext(ctx, "processed cache lookup failed",
			logging.MessageID(msg.MessageID), logging.Topic(msg.Topic), logging.Error(err))
		return false
	}
	return processed
}

// admit locks the message and moves its event into PROCESSING, all in one
// transaction that commits before the handler starts. It returns the attempt
// number the event was admitted with.
func (p *Processor) admit(ctx context.Context, msg *models.Message) (attempt int, err error) {
	ctx, span := tracing.StartStageSpan(ctx, "admit")
	defer func() { tracing.EndSpanWithError(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AdmissionTimeout)
	defer cancel()

	result := "error"
	defer func() { metrics.Admissions.WithLabelValues(result).Inc() }()

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin admission: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lock.Acquire(ctx, tx, msg.Topic, msg.MessageID); err != nil {
		if models.IsProcessing(err) {
			result = "locked"
		}
		return 0, err
	}

	now := p.now()
	event, err := tx.FindByIdentity(ctx, msg.MessageID, msg.Topic, true)
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		event = models.NewEvent(msg.MessageID, msg.Topic, msg.EventType, now)
		inserted, err := tx.InsertIfAbsent(ctx, event)
		if err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
		if !inserted {
			result = "in_progress"
			return 0, &models.EventProcessingError{MessageID: msg.MessageID, Topic: msg.Topic, Reason: "admitted concurrently"}
		}
		result = "new"

	case err != nil:
		return 0, fmt.Errorf("find event: %w", err)

	case event.Status == models.StatusProcessed:
		result = "processed"
		return 0, &models.EventProcessedError{MessageID: msg.MessageID, Topic: msg.Topic}

	case event.Status == models.StatusProcessing:
		result = "in_progress"
		return 0, &models.EventProcessingError{MessageID: msg.MessageID, Topic: msg.Topic}

	default:
		if err := event.TransitionTo(models.StatusProcessing, now); err != nil {
			return 0, err
		}
		if err := tx.UpdateStatus(ctx, event); err != nil {
			return 0, fmt.Errorf("update event: %w", err)
		}
		result = "retry"
	}

	if err := tx.Commit(ctx); err != nil {
		result = "error"
		return 0, fmt.Errorf("commit admission: %w", err)
	}

	tracing.AddSpanEvent(ctx, "admitted", tracing.AttrStatus.String(result))
	p.logger.DebugContext(ctx, "message admitted",
		logging.MessageID(msg.MessageID), logging.Topic(msg.Topic),
		logging.EventType(msg.EventType), slog.String("result", result),
		slog.Int("attempt", event.Attempts))
	return event.Attempts, nil
}

// execute runs the handler and always records its outcome, including when
// the handler panics or ctx is cancelled.
func (p *Processor) execute(ctx context.Context, msg *models.Message, attempt int, h Handler) (err error) {
	status := models.StatusFailed
	var handlerErr error
	start := time.Now()

	defer func() {
		recovered := recover()
		if recovered != nil {
			status = models.StatusFailed
			handlerErr = fmt.Errorf("handler panic: %v", recovered)
		}

		metrics.HandlerDuration.WithLabelValues(msg.EventType, string(status)).Observe(time.Since(start).Seconds())

		finErr := p.finalize(ctx, msg, attempt, status, handlerErr)
		if finErr != nil {
			finErr = fmt.Errorf("%w: %w", ErrFinalization, finErr)
			metrics.FinalizationErrors.Inc()
			p.logger.ErrorContext(ctx, "failed to record final status",
				logging.MessageID(msg.MessageID), logging.Topic(msg.Topic),
				logging.Status(string(status)), logging.Error(finErr))
		}

		if recovered != nil {
			panic(recovered)
		}

		err = handlerErr
		if finErr != nil {
			err = errors.Join(handlerErr, finErr)
		}
	}()

	handlerErr = p.runHandler(ctx, msg, h)
	if handlerErr == nil {
		status = models.StatusProcessed
	}
	return nil
}

func (p *Processor) runHandler(ctx context.Context, msg *models.Message, h Handler) (err error) {
	ctx, span := tracing.StartStageSpan(ctx, "handle", tracing.AttrEventType.String(msg.EventType))
	defer func() {
		if r := recover(); r != nil {
			tracing.EndSpanWithError(span, fmt.Errorf("handler panic: %v", r))
			panic(r)
		}
		tracing.EndSpanWithError(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	defer cancel()

	return h.Handle(ctx, msg)
}

// finalize records status for the message in its own transaction. It runs on
// a context detached from cancellation so shutdown cannot strand the event in
// PROCESSING. A missing row is not an error, and neither is a row that a later
// attempt has re-admitted since; that attempt owns the outcome.
func (p *Processor) finalize(ctx context.Context, msg *models.Message, attempt int, status models.EventStatus, cause error) (err error) {
	ctx, cancel := database.DetachedContext(ctx, p.cfg.FinalizeTimeout)
	defer cancel()

	ctx, span := tracing.StartStageSpan(ctx, "finalize", tracing.AttrStatus.String(string(status)))
	defer func() { tracing.EndSpanWithError(span, err) }()

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalization: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	event, err := tx.FindByIdentity(ctx, msg.MessageID, msg.Topic, true)
	if errors.Is(err, repository.ErrEventNotFound) {
		tracing.AddSpanEvent(ctx, "event_missing")
		p.logger.WarnContext(ctx, "event row missing at finalization",
			logging.MessageID(msg.MessageID), logging.Topic(msg.Topic))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find event: %w", err)
	}

	if event.Attempts != attempt {
		metrics.StaleFinalizations.Inc()
		tracing.AddSpanEvent(ctx, "superseded")
		p.logger.WarnContext(ctx, "event re-admitted by a later attempt, outcome not recorded",
			logging.MessageID(msg.MessageID), logging.Topic(msg.Topic),
			logging.Status(string(status)), slog.Int("attempt", attempt),
			slog.Int("current_attempt", event.Attempts))
		return nil
	}

	now := p.now()
	if status == models.StatusProcessed {
		err = event.TransitionTo(models.StatusProcessed, now)
	} else {
		err = event.Fail(cause, now)
	}
	if err != nil {
		return err
	}

	if err := tx.UpdateStatus(ctx, event); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalization: %w", err)
	}

	p.logger.InfoContext(ctx, "message finalized",
		logging.MessageID(msg.MessageID), logging.Topic(msg.Topic),
		logging.EventType(msg.EventType), logging.Status(string(status)),
		slog.Int("attempt", event.Attempts))

	if status == models.StatusProcessed && p.cache != nil {
		if err := p.cache.MarkProcessed(ctx, msg.MessageID, msg.Topic); err != nil {
			metrics.CacheErrors.Inc()
			p.logger.WarnContext(ctx, "failed to mark processed in cache",
				logging.MessageID(msg.MessageID), logging.Topic(msg.Topic), logging.Error(err))
		}
	}

	return nil
}
