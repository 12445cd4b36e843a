/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package runtrace provides observability for supervised agent runs.

# Overview

The package contains the foundational types for tracking one run from
prompt to terminal state:

  - RunContext: repository-level metadata (repository, branch, run id,
    attempt) for trace enrichment
  - Trace: one complete run, made of Phases
  - Phase: one stage of a run (agent, commit, push, submodule, pull
    request), each backed by a child span
  - Recorder: interface for creating and recording traces
  - Stream: OpenTelemetry counters for agent stream events and token
    usage
  - StreamSink: a supervisor sink that tallies events, extracts token
    usage from the result event, and keeps a bounded stderr tail

# Usage

Set run context for enrichment:

	ctx = runtrace.WithRunContext(ctx, runtrace.RunContext{
		Repository: "acme/widgets",
		Branch:     "agent/run-7",
		RunID:      "run-7",
	})

Create and complete traces:

	trace := runtrace.StartRun(ctx, prompt)
	phase := trace.StartPhase("push", map[string]any{"branch": branch})
	err := svc.Push(ctx, dir, branch, opts)
	phase.Complete(err)
	trace.Complete(err)
*/
package runtrace
