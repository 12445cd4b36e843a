/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runtrace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// RunContext provides run-level context for agent invocations. It is
// used to enrich traces and metrics with labels for tracking activity
// per repository and attempt.
type RunContext struct {
	Repository string `json:"repository,omitempty"` // "owner/repo"
	Branch     string `json:"branch,omitempty"`     // working branch for this run
	RunID      string `json:"run_id,omitempty"`     // caller-assigned identifier
	Attempt    int    `json:"attempt,omitempty"`    // retry ordinal, 1-based
}

// EnrichAttributes adds run context attributes to the provided base
// attributes using only BOUNDED labels.
//
// Note: run_id and branch are NOT included in metrics to prevent
// unbounded cardinality (every run mints a fresh branch and id). They
// remain in the RunContext for traces where cardinality is not a
// concern.
func (r RunContext) EnrichAttributes(baseAttrs []attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, len(baseAttrs), len(baseAttrs)+2)
	copy(attrs, baseAttrs)

	if r.Repository != "" {
		attrs = append(attrs, attribute.String("repository", r.Repository))
	}
	if r.Attempt > 0 {
		attrs = append(attrs, attribute.Int("attempt", r.Attempt))
	}

	return attrs
}

// contextKey is used for storing run context in context.Context
type contextKey string

const runContextKey contextKey = "run_context"

// WithRunContext adds run context to the Go context
func WithRunContext(ctx context.Context, runCtx RunContext) context.Context {
	return context.WithValue(ctx, runContextKey, runCtx)
}

// GetRunContext retrieves run context from the Go context
func GetRunContext(ctx context.Context) RunContext {
	if val := ctx.Value(runContextKey); val != nil {
		if runCtx, ok := val.(RunContext); ok {
			return runCtx
		}
	}
	return RunContext{}
}
