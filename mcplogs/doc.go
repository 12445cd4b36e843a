/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package mcplogs locates and reads the MCP server log files the agent CLI
// writes under its cache directory. When a run fails, the newest log for a
// given workspace and server often holds the tool-side error that the agent
// only saw as an opaque failure.
//
// Log directories are keyed by a flattened form of the workspace path, so
// lookups need the same workspace path the agent ran with.
package mcplogs
