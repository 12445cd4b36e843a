/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runtrace

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// AttributeEnricher enriches metric attributes with additional context.
// This lets callers add their own contextual attributes without
// coupling the stream metrics to specific use cases. The enricher
// receives base attributes and returns an enriched set.
type AttributeEnricher func(ctx context.Context, baseAttrs []attribute.KeyValue) []attribute.KeyValue

// Stream provides OpenTelemetry metrics for the agent event stream.
// It includes counters for stream events and token usage, with support
// for graceful degradation if metric creation fails.
type Stream struct {
	meter            metric.Meter
	events           metric.Int64Counter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	attrEnricher     AttributeEnricher
}

// NewStream creates a Stream metrics instance with the specified meter
// name. Uses graceful degradation: if any counter fails to initialize,
// logs a warning and uses a no-op counter instead of failing entirely.
//
// The meterName should be unified across the harness (e.g.,
// "chainguard.ai.harness") with the event type serving as a dimension
// on the recorded metrics.
func NewStream(meterName string) *Stream {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	events, err := meter.Int64Counter("agent.stream.events",
		metric.WithDescription("The number of agent stream events observed"),
		metric.WithUnit("{events}"))
	if err != nil {
		slog.Warn("Failed to create stream events counter, metrics will be disabled", "error", err, "meter", meterName)
		events = noop.Int64Counter{}
	}

	promptTokens, err := meter.Int64Counter("agent.token.prompt",
		metric.WithDescription("The number of prompt tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create prompt tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		promptTokens = noop.Int64Counter{}
	}

	completionTokens, err := meter.Int64Counter("agent.token.completion",
		metric.WithDescription("The number of completion tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create completion tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		completionTokens = noop.Int64Counter{}
	}

	return &Stream{
		meter:            meter,
		events:           events,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
	}
}

// SetAttributeEnricher sets the attribute enricher for this metrics
// instance. The enricher is called before recording each metric.
func (m *Stream) SetAttributeEnricher(enricher AttributeEnricher) {
	m.attrEnricher = enricher
}

// RecordEvent records one observed stream event with optional enrichment.
// The eventType parameter is added as a base attribute.
func (m *Stream) RecordEvent(ctx context.Context, eventType string, attrs ...attribute.KeyValue) {
	baseAttrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}

	if m.attrEnricher != nil {
		baseAttrs = m.attrEnricher(ctx, baseAttrs)
	}

	baseAttrs = append(baseAttrs, attrs...)

	m.events.Add(ctx, 1, metric.WithAttributes(baseAttrs...))
}

// RecordTokens records prompt and completion token usage with optional
// enrichment. The model parameter is added as a base attribute.
func (m *Stream) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64, attrs ...attribute.KeyValue) {
	baseAttrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	if m.attrEnricher != nil {
		baseAttrs = m.attrEnricher(ctx, baseAttrs)
	}

	baseAttrs = append(baseAttrs, attrs...)

	m.promptTokens.Add(ctx, promptTokens, metric.WithAttributes(baseAttrs...))
	m.completionTokens.Add(ctx, completionTokens, metric.WithAttributes(baseAttrs...))
}
