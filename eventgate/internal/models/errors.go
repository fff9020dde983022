package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope marks a delivery that cannot be turned into a Message.
	ErrMalformedEnvelope = errors.New("malformed message envelope")

	// ErrInvalidPayload marks a payload that does not match its event type's schema.
	ErrInvalidPayload = errors.New("invalid event payload")
)

// EventProcessingError means another worker is processing the message right now.
// The delivery should be retried later.
type EventProcessingError struct {
	MessageID string
	Topic     string
	Reason    string
}

func (e *EventProcessingError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("Message %s is already being processed: %s", e.MessageID, e.Reason)
	}
	return fmt.Sprintf("Message %s is already being processed", e.MessageID)
}

// EventProcessedError means the message already completed successfully.
type EventProcessedError struct {
	MessageID string
	Topic     string
}

func (e *EventProcessedError) Error() string {
	return fmt.Sprintf("Message %s has already been processed", e.MessageID)
}

// InvalidTransitionError is returned for a state change the lifecycle forbids.
type InvalidTransitionError struct {
	MessageID string
	Topic     string
	From      EventStatus
	To        EventStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s for message %s on %s", e.From, e.To, e.MessageID, e.Topic)
}

// IsProcessing reports whether err is or wraps an EventProcessingError.
func IsProcessing(err error) bool {
	var target *EventProcessingError
	return errors.As(err, &target)
}

// IsProcessed reports whether err is or wraps an EventProcessedError.
func IsProcessed(err error) bool {
	var target *EventProcessedError
	return errors.As(err, &target)
}

// IsInvalidTransition reports whether err is or wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}
