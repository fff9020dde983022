package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across components.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldMessageID  = "message_id"
	FieldTopic      = "topic"
	FieldEventType  = "event_type"
	FieldDeliveryID = "delivery_id"
	FieldStatus     = "status"
	FieldAction     = "action"
	FieldAttempt    = "attempt"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldMethod     = "method"
	FieldPath       = "path"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute for the component name.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// MessageID returns a slog attribute for a broker message ID.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// Topic returns a slog attribute for the topic a message arrived on.
func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// EventType returns a slog attribute for the event type.
func EventType(eventType string) slog.Attr {
	return slog.String(FieldEventType, eventType)
}

// DeliveryID returns a slog attribute for the per-delivery scope ID.
func DeliveryID(id string) slog.Attr {
	return slog.String(FieldDeliveryID, id)
}

// Status returns a slog attribute for an event status.
func Status(status string) slog.Attr {
	return slog.String(FieldStatus, status)
}

// Action returns a slog attribute for a broker settlement action.
func Action(action string) slog.Attr {
	return slog.String(FieldAction, action)
}

// Attempt returns a slog attribute for a delivery attempt number.
func Attempt(n uint64) slog.Attr {
	return slog.Uint64(FieldAttempt, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}
