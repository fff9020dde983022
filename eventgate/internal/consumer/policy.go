package consumer

import (
	"errors"
	"time"

	"github.com/telhawk-systems/eventgate/eventgate/internal/dispatcher"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/eventgate/internal/email"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/service"
)

// Action is how a delivery is settled with the broker.
type Action string

const (
	ActionAck  Action = "ack"
	ActionNak  Action = "nak"
	ActionTerm Action = "term"
)

// Decision is the settlement for one processing outcome.
type Decision struct {
	Action Action
	// Delay applies to Nak; zero redelivers per the consumer's backoff.
	Delay time.Duration
	// DeadLetter requests a copy on the dead-letter stream under Reason.
	DeadLetter bool
	Reason     string
	// Outcome labels the result for logs and metrics.
	Outcome string
}

// Decide maps the result of dispatching a delivery to its settlement.
// Permanent failures are acked (and dead-lettered where useful) so they are
// not redelivered; transient ones are nakked.
func Decide(err error, nakDelay time.Duration) Decision {
	var deliveryErr *email.DeliveryError

	switch {
	case err == nil:
		return Decision{Action: ActionAck, Outcome: "processed"}

	case models.IsProcessed(err):
		return Decision{Action: ActionAck, Outcome: "duplicate"}

	case models.IsInvalidTransition(err):
		return Decision{Action: ActionTerm, DeadLetter: true, Reason: dlq.ReasonInvalidTransition, Outcome: "invalid_transition"}

	case errors.Is(err, service.ErrFinalization):
		return Decision{Action: ActionNak, Outcome: "finalization_failed"}

	case models.IsProcessing(err):
		return Decision{Action: ActionNak, Delay: nakDelay, Outcome: "in_progress"}

	case errors.Is(err, models.ErrMalformedEnvelope):
		return Decision{Action: ActionAck, DeadLetter: true, Reason: dlq.ReasonMalformedEnvelope, Outcome: "malformed"}

	case errors.Is(err, dispatcher.ErrUnknownEventType):
		return Decision{Action: ActionAck, DeadLetter: true, Reason: dlq.ReasonUnknownEventType, Outcome: "unknown_event_type"}

	case errors.Is(err, models.ErrInvalidPayload):
		return Decision{Action: ActionAck, DeadLetter: true, Reason: dlq.ReasonInvalidPayload, Outcome: "invalid_payload"}

	case errors.As(err, &deliveryErr):
		return Decision{Action: ActionAck, Outcome: "delivery_failed"}

	default:
		return Decision{Action: ActionNak, Outcome: "error"}
	}
}
