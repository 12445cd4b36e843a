/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package supervisor runs a coding-agent CLI as a subprocess and
// supervises its lifecycle from spawn to exit.
//
// The agent communicates over stdout with newline-delimited JSON: each
// line is an independent event object carrying at least a "type" field.
// A line whose type is "result" signals that the agent considers the
// task complete, even though the OS process may keep running while it
// finishes background work.
//
// # Lifecycle
//
// A run moves through three states:
//
//   - Running: the process has been spawned and both output streams are
//     scanned line by line into the caller's Sink.
//   - ResultReceived: the first "result" event arrived. A grace-period
//     timer starts; if the process exits before it fires the run
//     resolves with the process's own exit code. If the timer fires
//     first the process group is killed, and the forced exit is still
//     treated as a successful run with a slow-exiting subprocess.
//   - Exited: the process is gone, both timers are stopped, and the
//     Outcome is final.
//
// Independently of the grace period, a main timeout runs from spawn. If
// it fires before a result event or exit, the process group is killed
// and the run resolves with exit code 124 and ErrProcessTimeout.
//
// Malformed JSON lines are not fatal: they reach the Sink as raw text
// with Malformed set, and supervision continues.
//
// The subprocess is placed in its own process group so that kills also
// reach any children the agent spawned. There is no cooperative
// cancellation signal to the agent; cancelling the context kills the
// group.
package supervisor
