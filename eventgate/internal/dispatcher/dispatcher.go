// Package dispatcher routes a message to the handler registered for its
// event type and runs it through the idempotent processor.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/telhawk-systems/eventgate/common/logging"
	"github.com/telhawk-systems/eventgate/common/middleware"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/service"
)

// ErrUnknownEventType is returned for messages whose event type has no handler.
var ErrUnknownEventType = errors.New("unknown event type")

// HandlerFactory builds the handler for one delivery. It is called once per
// scope so handlers never share per-message state.
type HandlerFactory func(scope *Scope) service.Handler

// Processor runs a handler under the idempotency protocol.
type Processor interface {
	Process(ctx context.Context, msg *models.Message, h service.Handler) error
}

// Scope holds everything tied to a single delivery.
type Scope struct {
	DeliveryID string
	Message    *models.Message
	Logger     *slog.Logger
}

// NewScope creates a scope with a fresh delivery ID. The logger is annotated
// with the message identity.
func NewScope(msg *models.Message, logger *slog.Logger) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Scope{
		DeliveryID: id,
		Message:    msg,
		Logger: logger.With(
			logging.DeliveryID(id),
			logging.MessageID(msg.MessageID),
			logging.Topic(msg.Topic),
			logging.EventType(msg.EventType),
		),
	}
}

// Context tags ctx with the delivery ID so it appears as request_id in logs.
func (s *Scope) Context(ctx context.Context) context.Context {
	return middleware.WithRequestID(ctx, s.DeliveryID)
}

type Dispatcher struct {
	processor Processor

	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

func New(processor Processor) *Dispatcher {
	return &Dispatcher{
		processor: processor,
		factories: make(map[string]HandlerFactory),
	}
}

// Register binds eventType to factory. Empty types, nil factories and
// duplicate registrations are rejected.
func (d *Dispatcher) Register(eventType string, factory HandlerFactory) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	if factory == nil {
		return fmt.Errorf("nil handler factory for event type %s", eventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.factories[eventType]; exists {
		return fmt.Errorf("handler already registered for event type %s", eventType)
	}
	d.factories[eventType] = factory
	return nil
}

// EventTypes returns the registered event types in sorted order.
func (d *Dispatcher) EventTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.factories))
	for t := range d.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch resolves the handler for the scope's message and processes it.
func (d *Dispatcher) Dispatch(ctx context.Context, scope *Scope) error {
	msg := scope.Message

	d.mu.RLock()
	factory, ok := d.factories[msg.EventType]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, msg.EventType)
	}

	handler := factory(scope)
	if handler == nil {
		return fmt.Errorf("handler factory for %s returned nil", msg.EventType)
	}

	return d.processor.Process(scope.Context(ctx), msg, handler)
}
