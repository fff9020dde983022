package models

import (
	"fmt"
	"time"
)

// EventStatus is the lifecycle state of a processed message.
type EventStatus string

const (
	StatusProcessing EventStatus = "PROCESSING"
	StatusFailed     EventStatus = "FAILED"
	StatusProcessed  EventStatus = "PROCESSED"
)

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusFailed, StatusProcessed:
		return true
	}
	return false
}

func (s EventStatus) String() string {
	return string(s)
}

// ParseEventStatus converts a stored status string.
func ParseEventStatus(s string) (EventStatus, error) {
	status := EventStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown event status %q", s)
	}
	return status, nil
}

// transitions lists the allowed target states per current state.
var transitions = map[EventStatus][]EventStatus{
	StatusProcessing: {StatusFailed, StatusProcessed},
	StatusFailed:     {StatusProcessing},
	StatusProcessed:  nil,
}

// CanTransition reports whether an event in current may move to target.
func CanTransition(current, target EventStatus) bool {
	for _, allowed := range transitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Event is the persisted record of one (message_id, topic) pair.
type Event struct {
	ID                  int64       `json:"id" yaml:"id"`
	MessageID           string      `json:"message_id" yaml:"message_id"`
	Topic               string      `json:"topic" yaml:"topic"`
	EventType           string      `json:"event_type" yaml:"event_type"`
	Status              EventStatus `json:"status" yaml:"status"`
	ProcessingStartedAt *time.Time  `json:"processing_started_at,omitempty" yaml:"processing_started_at,omitempty"`
	Attempts            int         `json:"attempts" yaml:"attempts"`
	LastError           *string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAt           time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" yaml:"updated_at"`
}

// NewEvent returns an event admitted for its first processing attempt.
func NewEvent(messageID, topic, eventType string, now time.Time) *Event {
	started := now
	return &Event{
		MessageID:           messageID,
		Topic:               topic,
		EventType:           eventType,
		Status:              StatusProcessing,
		ProcessingStartedAt: &started,
		Attempts:            1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// TransitionTo moves the event to target. Entering PROCESSING resets the
// processing start time and counts a new attempt; leaving it for PROCESSED
// clears any recorded error.
func (e *Event) TransitionTo(target EventStatus, now time.Time) error {
	if !CanTransition(e.Status, target) {
		return &InvalidTransitionError{
			MessageID: e.MessageID,
			Topic:     e.Topic,
			From:      e.Status,
			To:        target,
		}
	}

	e.Status = target
	e.UpdatedAt = now

	switch target {
	case StatusProcessing:
		started := now
		e.ProcessingStartedAt = &started
		e.Attempts++
	case StatusProcessed:
		e.LastError = nil
	}

	return nil
}

// Fail moves the event to FAILED and records cause.
func (e *Event) Fail(cause error, now time.Time) error {
	if err := e.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	if cause != nil {
		msg := cause.Error()
		e.LastError = &msg
	}
	return nil
}
