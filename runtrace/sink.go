/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runtrace

import (
	"context"
	"sync"

	"chainguard.dev/agentharness/supervisor"
)

// stderrTailLimit bounds how many stderr lines the sink retains for
// diagnostics. Agent CLIs can be chatty on stderr; only the tail is
// useful when a run fails.
const stderrTailLimit = 50

// StreamSink consumes a supervised agent's output streams. It tallies
// events by type, records them on the Stream metrics, extracts token
// usage from the result event, and keeps a bounded tail of stderr.
//
// A nil metrics or trace disables the corresponding recording, so the
// sink can also be used purely as a tally.
type StreamSink struct {
	ctx     context.Context
	metrics *Stream
	trace   *Trace

	mu           sync.Mutex
	counts       map[string]int
	model        string
	inputTokens  int64
	outputTokens int64
	stderrTail   []string
}

// NewStreamSink creates a sink bound to the given metrics and trace,
// either of which may be nil.
func NewStreamSink(ctx context.Context, metrics *Stream, trace *Trace) *StreamSink {
	return &StreamSink{
		ctx:     ctx,
		metrics: metrics,
		trace:   trace,
		counts:  make(map[string]int),
	}
}

// Line implements supervisor.Sink.
func (s *StreamSink) Line(ev supervisor.Event) {
	label := ev.Type
	switch {
	case ev.Malformed:
		label = "malformed"
	case label == "":
		label = "unknown"
	}

	s.mu.Lock()
	s.counts[label]++
	// The system init event names the model; remember it so token usage
	// from the result event gets the right dimension.
	if m, ok := ev.Fields["model"].(string); ok && m != "" {
		s.model = m
	}
	if ev.IsResult() {
		if in, out, ok := usageTokens(ev.Fields); ok {
			s.inputTokens += in
			s.outputTokens += out
			if s.trace != nil {
				s.trace.RecordTokenUsage(s.model, in, out)
			}
			if s.metrics != nil {
				s.metrics.RecordTokens(s.ctx, s.model, in, out)
			}
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordEvent(s.ctx, label)
	}
}

// Stderr implements supervisor.Sink.
func (s *StreamSink) Stderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stderrTail = append(s.stderrTail, line)
	if len(s.stderrTail) > stderrTailLimit {
		s.stderrTail = s.stderrTail[len(s.stderrTail)-stderrTailLimit:]
	}
}

// Counts returns a copy of the per-type event tallies.
func (s *StreamSink) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// TokenUsage returns the accumulated prompt and completion token counts
// harvested from result events.
func (s *StreamSink) TokenUsage() (input, output int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputTokens, s.outputTokens
}

// Model returns the model name reported by the agent, if any.
func (s *StreamSink) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// StderrTail returns a copy of the retained stderr lines.
func (s *StreamSink) StderrTail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stderrTail...)
}

// usageTokens extracts input/output token counts from a result event's
// usage object. JSON numbers decode as float64.
func usageTokens(fields map[string]any) (in, out int64, ok bool) {
	usage, uok := fields["usage"].(map[string]any)
	if !uok {
		return 0, 0, false
	}
	if f, fok := usage["input_tokens"].(float64); fok {
		in = int64(f)
	}
	if f, fok := usage["output_tokens"].(float64); fok {
		out = int64(f)
	}
	return in, out, true
}
