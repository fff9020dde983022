package logging

import (
	"errors"
	"testing"
	"time"
)

func TestStringFields(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		attrKey string
		attrVal string
	}{
		{"service", FieldService, "eventgate", Service("eventgate").Key, Service("eventgate").Value.String()},
		{"component", FieldComponent, "consumer", Component("consumer").Key, Component("consumer").Value.String()},
		{"message id", FieldMessageID, "1", MessageID("1").Key, MessageID("1").Value.String()},
		{"topic", FieldTopic, "test-topic", Topic("test-topic").Key, Topic("test-topic").Value.String()},
		{"event type", FieldEventType, "DailyDigest", EventType("DailyDigest").Key, EventType("DailyDigest").Value.String()},
		{"delivery id", FieldDeliveryID, "d-1", DeliveryID("d-1").Key, DeliveryID("d-1").Value.String()},
		{"status", FieldStatus, "PROCESSED", Status("PROCESSED").Key, Status("PROCESSED").Value.String()},
		{"action", FieldAction, "ack", Action("ack").Key, Action("ack").Value.String()},
		{"method", FieldMethod, "GET", Method("GET").Key, Method("GET").Value.String()},
		{"path", FieldPath, "/healthz", Path("/healthz").Key, Path("/healthz").Value.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attrKey != tt.key {
				t.Errorf("expected key %q, got %q", tt.key, tt.attrKey)
			}
			if tt.attrVal != tt.value {
				t.Errorf("expected value %q, got %q", tt.value, tt.attrVal)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	attr := Duration(1500 * time.Millisecond)
	if attr.Key != FieldDuration {
		t.Errorf("expected key %q, got %q", FieldDuration, attr.Key)
	}
	if attr.Value.Int64() != 1500 {
		t.Errorf("expected value %d, got %d", 1500, attr.Value.Int64())
	}
}

func TestAttempt(t *testing.T) {
	attr := Attempt(3)
	if attr.Key != FieldAttempt {
		t.Errorf("expected key %q, got %q", FieldAttempt, attr.Key)
	}
	if attr.Value.Uint64() != 3 {
		t.Errorf("expected value 3, got %d", attr.Value.Uint64())
	}
}

func TestError(t *testing.T) {
	attr := Error(errors.New("boom"))
	if attr.Key != FieldError {
		t.Errorf("expected key %q, got %q", FieldError, attr.Key)
	}
	if attr.Value.String() != "boom" {
		t.Errorf("expected value %q, got %q", "boom", attr.Value.String())
	}

	if Error(nil).Value.String() != "" {
		t.Error("expected empty value for nil error")
	}
}
