/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// resultEventType marks the agent's terminal signal. The process may
// outlive it; see the package documentation for the grace period.
const resultEventType = "result"

// Event is one stdout line from the agent. Lines that parse as JSON
// populate the typed fields plus Fields with the full decoded object;
// lines that do not parse are passed through with Malformed set and
// only Raw populated.
type Event struct {
	// Type is the event discriminator ("system", "assistant", "result", ...).
	Type string
	// Subtype refines Type, e.g. "success" or "error_max_turns" on a
	// result event.
	Subtype string
	// Result is the result payload text, present on result events.
	Result string
	// IsError reports whether the agent flagged the event as an error.
	IsError bool
	// Raw is the original line, always populated.
	Raw string
	// Malformed is set when the line was not valid JSON.
	Malformed bool
	// Fields is the decoded JSON object for well-formed lines.
	Fields map[string]any
}

// parseEvent decodes a single stdout line. It never fails: undecodable
// input becomes a Malformed event carrying the raw line.
func parseEvent(line string) Event {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return Event{Raw: line, Malformed: true}
	}

	ev := Event{Raw: line, Fields: fields}
	if s, ok := fields["type"].(string); ok {
		ev.Type = s
	}
	if s, ok := fields["subtype"].(string); ok {
		ev.Subtype = s
	}
	if s, ok := fields["result"].(string); ok {
		ev.Result = s
	}
	if b, ok := fields["is_error"].(bool); ok {
		ev.IsError = b
	}
	return ev
}

// IsResult reports whether the event is the agent's terminal signal.
func (e Event) IsResult() bool {
	return e.Type == resultEventType
}

// DecodeResult unmarshals the result payload of a result event into T.
// Agents frequently wrap structured output in a markdown code fence, so
// the payload is unfenced before decoding.
func DecodeResult[T any](e Event) (T, error) {
	var out T
	if !e.IsResult() {
		return out, fmt.Errorf("cannot decode result from %q event", e.Type)
	}
	if err := json.Unmarshal([]byte(unfence(e.Result)), &out); err != nil {
		return out, fmt.Errorf("decoding result payload: %w", err)
	}
	return out, nil
}

// unfence strips a ```json markdown fence from around the payload. It
// prefers a fence opening on its own line and collects up to the
// closing marker (or end of input); without an opening fence it trims
// inline fence markers, which is a no-op on unfenced text.
func unfence(text string) string {
	lines := strings.Split(text, "\n")
	var body []string
	inFence := false
	for _, line := range lines {
		switch {
		case !inFence && strings.TrimSpace(line) == "```json":
			inFence = true
		case inFence && strings.TrimSpace(line) == "```":
			return strings.TrimSpace(strings.Join(body, "\n"))
		case inFence:
			body = append(body, line)
		}
	}
	if inFence {
		return strings.TrimSpace(strings.Join(body, "\n"))
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
