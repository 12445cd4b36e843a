/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package harness orchestrates one end-to-end agent run: clone the target
// repository into the workspace, supervise the agent subprocess while its
// event stream is tallied and traced, then apply the requested git actions
// (commit, push with conflict recovery) and synchronize an external test
// repository as a submodule, finishing with a pull request against its
// tracking branch.
//
// The Harness owns sequencing and reporting; the mechanics live in the
// collaborator packages (gitservice, supervisor, githubclient), which are
// injected through options so tests can substitute them. Execute returns a
// Report describing everything that happened, renderable as a markdown
// table, and an error for the first step that failed. A failed step stops
// the run: later steps would operate on a workspace in an unknown state.
package harness
