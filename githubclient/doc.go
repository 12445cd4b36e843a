/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubclient wraps the GitHub REST and GraphQL APIs for the
// pull-request operations the harness needs: creating a PR for a run's
// branch, finding an already-open PR for a head/base pair, and minting
// the tokens embedded in authenticated clone URLs.
//
// Authentication is an oauth2.TokenSource: StaticTokenSource for a
// personal access token, or InstallationTokenSource for GitHub App
// installation tokens (which rotate, so callers should mint per run).
package githubclient
