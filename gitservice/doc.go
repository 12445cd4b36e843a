/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitservice wraps git subprocess invocations for agent workspaces:
// clone, fetch, commit, push, and submodule synchronization, with wall-clock
// timeouts on network-bound operations, credential-prompt suppression, keyed
// SSH transport, and a small normalized error taxonomy.
//
// A Service serializes its invocations, so concurrent calls against the same
// working tree cannot race on the index lock. Use one Service per workspace
// and do not share a workspace across Services.
//
// # Push recovery
//
// Push implements a convergence protocol for rejected pushes. Under the
// "auto" conflict strategy a rejection triggers fetch, unshallow when
// needed, and a rebase that prefers the local side of conflicting hunks; if
// the rebase cannot complete it is aborted and the local history is
// force-pushed with lease semantics. The PushResult records which path was
// taken so callers can tell a plain push from a history rewrite.
//
// # Submodules
//
// InitSubmodule is idempotent: registration state is re-derived from the
// .gitmodules manifest on every call, never cached, so a crashed or
// repeated run takes the add path at most once. Submodule transfers
// authenticate with short-lived token URLs which are redacted from errors
// and logs.
//
// # Errors
//
// Failures of the underlying tool are pattern-matched into sentinel errors
// (ErrAuthFailed, ErrRepoNotFound, ErrTimeout, ErrPermissionDenied,
// ErrHostKeyVerification, ...) that callers test with errors.Is; the raw
// output stays attached as detail.
package gitservice
