// Package messaging defines standard subject names for the eventgate message bus.
package messaging

import "strings"

// Subject constants for the eventgate message bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	// Event subjects - business events consumed by the processing pipeline
	SubjectEventsDigestDaily = "events.digest.daily" // Daily vocabulary digest after a game

	// Dead-letter subjects - permanent processing failures (append .{reason})
	SubjectDLQPrefix = "eventgate.dlq"
)

// Header names carried on event messages.
const (
	HeaderEventType = "event_type"
	HeaderPublisher = "publisher"
)

// Durable consumer names.
const (
	ConsumerEventProcessors = "eventgate-processors" // Pool of event processors
)

// DLQSubject returns the dead-letter subject for a failure reason.
// Example: eventgate.dlq.unknown_event_type
func DLQSubject(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQPrefix + "." + strings.ReplaceAll(reason, ".", "_")
}
