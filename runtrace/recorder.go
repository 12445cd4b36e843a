/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runtrace

import (
	"context"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// recorderKey is the context key for storing the recorder
type recorderKey struct{}

// Recorder is the interface for creating and recording run traces
type Recorder interface {
	// NewRun creates a new trace with the given prompt
	NewRun(ctx context.Context, prompt string) *Trace
	// RecordRun records a completed trace
	RecordRun(trace *Trace)
}

// WithRecorder returns a new context with the given recorder
func WithRecorder(ctx context.Context, recorder Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, recorder)
}

// RecorderFromContext returns the recorder from the context, or creates a default recorder
func RecorderFromContext(ctx context.Context) Recorder {
	if recorder, ok := ctx.Value(recorderKey{}).(Recorder); ok {
		return recorder
	}
	return NewDefaultRecorder(ctx)
}

// StartRun starts a new trace using the recorder from the context
func StartRun(ctx context.Context, prompt string) *Trace {
	recorder := RecorderFromContext(ctx)
	return recorder.NewRun(ctx, prompt)
}

// RunCallback is a function that receives completed traces
type RunCallback func(*Trace)

// callbackRecorder implements Recorder by invoking callback functions
type callbackRecorder struct {
	callbacks []RunCallback
}

// ByCallback creates a Recorder that invokes the given callbacks when runs are recorded
func ByCallback(callbacks ...RunCallback) Recorder {
	return &callbackRecorder{
		callbacks: callbacks,
	}
}

// NewRun creates a new trace with the given prompt
func (r *callbackRecorder) NewRun(ctx context.Context, prompt string) *Trace {
	return newTraceWithRecorder(ctx, r, prompt)
}

// RecordRun invokes all callbacks with the completed trace in parallel
func (r *callbackRecorder) RecordRun(trace *Trace) {
	g := new(errgroup.Group)

	for _, callback := range r.callbacks {
		if callback != nil {
			g.Go(func() error {
				callback(trace)
				return nil
			})
		}
	}

	// Wait for all callbacks to complete
	// We ignore the error since our callbacks always return nil
	_ = g.Wait()
}

// NewDefaultRecorder creates a recorder that logs completed runs to clog
func NewDefaultRecorder(ctx context.Context) Recorder {
	logger := clog.FromContext(ctx)

	callback := func(trace *Trace) {
		logger.With(
			"run_id", trace.ID,
			"duration_ms", trace.Duration().Milliseconds(),
			"phases", len(trace.Phases),
		).Info("Run trace completed", "trace", trace.String())
	}

	return ByCallback(callback)
}
