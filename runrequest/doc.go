/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package runrequest defines the document that callers hand to the harness
// to describe a single agent run: the prompt, invocation options, an
// optional repository to clone, git actions to apply after the agent
// exits, and an optional external test repository to synchronize.
//
// Requests are authored as YAML and loaded with Load or Parse, both of
// which validate the document before returning it. Schema reflects the
// same types into a JSON schema so API frontends can validate requests
// without importing this package's validation logic.
package runrequest
