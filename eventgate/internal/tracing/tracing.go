// Package tracing wraps OpenTelemetry span handling for message processing.
// Spans go to the global tracer provider; with none configured they are no-ops.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/telhawk-systems/eventgate"

var tracer = otel.Tracer(instrumentationName)

// Attribute keys attached to processing spans.
const (
	AttrMessageID  = attribute.Key("messaging.message.id")
	AttrTopic      = attribute.Key("messaging.destination.name")
	AttrEventType  = attribute.Key("eventgate.event_type")
	AttrDeliveryID = attribute.Key("eventgate.delivery_id")
	AttrStatus     = attribute.Key("eventgate.status")
	AttrAction     = attribute.Key("eventgate.action")
)

// StartDeliverySpan starts the root span for one broker delivery.
func StartDeliverySpan(ctx context.Context, topic, messageID, deliveryID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventgate.delivery",
		trace.WithAttributes(
			AttrTopic.String(topic),
			AttrMessageID.String(messageID),
			AttrDeliveryID.String(deliveryID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// StartProcessSpan starts the span covering the idempotent processing protocol.
func StartProcessSpan(ctx context.Context, topic, messageID, eventType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventgate.process",
		trace.WithAttributes(
			AttrTopic.String(topic),
			AttrMessageID.String(messageID),
			AttrEventType.String(eventType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStageSpan starts a child span for one stage (admit, handle, finalize).
func StartStageSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventgate."+stage,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetTracerProvider installs tp globally and refreshes the package tracer.
func SetTracerProvider(tp trace.TracerProvider) {
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(instrumentationName)
}
