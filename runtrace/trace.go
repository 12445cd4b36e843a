/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runtrace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "chainguard.ai.harness.runtrace"

// Phase represents one stage of a run: the agent invocation or one of
// the git synchronization steps that follow it.
type Phase struct {
	Name      string         `json:"name"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     error          `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	trace     *Trace         // Parent trace for auto-adding on completion
	mu        sync.Mutex     // Protects mutable fields
	span      oteltrace.Span
}

// Trace represents a complete run from prompt to terminal state
type Trace struct {
	ID        string         `json:"id"`
	Prompt    string         `json:"prompt"`
	RunCtx    RunContext     `json:"run_context,omitempty"`
	Phases    []*Phase       `json:"phases"`
	Error     error          `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	recorder  Recorder       // Recorder for auto-recording
	mu        sync.Mutex     // Protects mutable fields
	ctx       context.Context
	span      oteltrace.Span
}

// newTraceWithRecorder creates a new trace with the given recorder and prompt
func newTraceWithRecorder(ctx context.Context, recorder Recorder, prompt string) *Trace {
	runCtx := GetRunContext(ctx)

	tr := otel.Tracer(instrumentationName,
		oteltrace.WithInstrumentationVersion("1.0.0"))

	spanAttrs := []oteltrace.SpanStartOption{
		oteltrace.WithAttributes(attribute.Int("run.prompt_length", len(prompt))),
	}
	if runCtx.Repository != "" {
		spanAttrs = append(spanAttrs, oteltrace.WithAttributes(attribute.String("repository", runCtx.Repository)))
	}
	if runCtx.Branch != "" {
		spanAttrs = append(spanAttrs, oteltrace.WithAttributes(attribute.String("branch", runCtx.Branch)))
	}
	if runCtx.RunID != "" {
		spanAttrs = append(spanAttrs, oteltrace.WithAttributes(attribute.String("run_id", runCtx.RunID)))
	}

	ctx, span := tr.Start(ctx, "harness.run", spanAttrs...)

	return &Trace{
		ID:        generateRunID(),
		Prompt:    prompt,
		RunCtx:    runCtx,
		Phases:    []*Phase{},
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
		recorder:  recorder,
		ctx:       ctx,
		span:      span,
	}
}

// StartPhase starts a new phase and returns it
func (t *Trace) StartPhase(name string, detail map[string]any) *Phase {
	tr := otel.Tracer(instrumentationName,
		oteltrace.WithInstrumentationVersion("1.0.0"))
	_, span := tr.Start(t.ctx, "harness.phase", oteltrace.WithAttributes(
		attribute.String("phase.name", name),
	))

	return &Phase{
		Name:      name,
		Detail:    detail,
		StartTime: time.Now(),
		trace:     t,
		span:      span,
	}
}

// RecordTokenUsage records model and token usage as span attributes for
// observability, so consumption is visible on the trace without
// cross-referencing metrics.
func (t *Trace) RecordTokenUsage(model string, inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.span != nil {
		t.span.SetAttributes(
			attribute.String("model", model),
			attribute.Int64("tokens.input", inputTokens),
			attribute.Int64("tokens.output", outputTokens),
			attribute.Int64("tokens.total", inputTokens+outputTokens),
		)
	}
}

// Complete marks the phase as complete and adds it to the parent trace
func (p *Phase) Complete(err error) {
	p.mu.Lock()
	p.Error = err
	p.EndTime = time.Now()
	trace := p.trace
	span := p.span
	p.mu.Unlock()

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	// Auto-add to parent trace
	trace.mu.Lock()
	defer trace.mu.Unlock()
	trace.Phases = append(trace.Phases, p)
}

// Duration returns the duration of the phase
func (p *Phase) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.EndTime.IsZero() {
		return time.Since(p.StartTime)
	}
	return p.EndTime.Sub(p.StartTime)
}

// Complete marks the trace as complete and automatically records it
func (t *Trace) Complete(err error) {
	t.mu.Lock()
	t.Error = err
	t.EndTime = time.Now()
	recorder := t.recorder
	span := t.span
	t.mu.Unlock()

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	// Auto-record with recorder
	recorder.RecordRun(t)
}

// Duration returns the total duration of the run
func (t *Trace) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// String returns a structured representation of the trace
func (t *Trace) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder

	// Calculate duration while we have the lock
	var duration time.Duration
	if t.EndTime.IsZero() {
		duration = time.Since(t.StartTime)
	} else {
		duration = t.EndTime.Sub(t.StartTime)
	}

	sb.WriteString(fmt.Sprintf("=== Run %s ===\n", t.ID))
	if t.RunCtx.Repository != "" {
		sb.WriteString(fmt.Sprintf("Repository: %s\n", t.RunCtx.Repository))
	}
	sb.WriteString(fmt.Sprintf("Duration: %v\n", duration))

	if len(t.Phases) > 0 {
		sb.WriteString(fmt.Sprintf("\nPhases (%d):\n", len(t.Phases)))
		for i, p := range t.Phases {
			sb.WriteString(fmt.Sprintf("  [%d] %s\n", i+1, p.Name))

			// Calculate phase duration inline to avoid nested mutex lock
			var pDuration time.Duration
			if p.EndTime.IsZero() {
				pDuration = time.Since(p.StartTime)
			} else {
				pDuration = p.EndTime.Sub(p.StartTime)
			}
			sb.WriteString(fmt.Sprintf("      Duration: %v\n", pDuration))

			if len(p.Detail) > 0 {
				sb.WriteString("      Detail:\n")
				for k, v := range p.Detail {
					sb.WriteString(fmt.Sprintf("        %s: %v\n", k, v))
				}
			}

			if p.Error != nil {
				sb.WriteString(fmt.Sprintf("      Error: %v\n", p.Error))
			}
		}
	} else {
		sb.WriteString("\nNo phases\n")
	}

	sb.WriteString("\nCompletion:\n")
	if t.Error != nil {
		sb.WriteString(fmt.Sprintf("  Error: %v\n", t.Error))
	} else {
		sb.WriteString("  OK\n")
	}

	if len(t.Metadata) > 0 {
		sb.WriteString("\nMetadata:\n")
		for k, v := range t.Metadata {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	return sb.String()
}

// generateRunID generates a unique run ID
func generateRunID() string {
	// Generate a random component
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp only if random generation fails
		return time.Now().Format("20060102-150405.000000")
	}
	// Format: YYYYMMDD-HHMMSS-RRRR where RRRR is random hex
	return fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), hex.EncodeToString(b))
}
