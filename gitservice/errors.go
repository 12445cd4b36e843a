/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure classes callers branch on with errors.Is.
// The raw git output is preserved as wrapped detail, never swallowed.
var (
	ErrInvalidURL          = errors.New("invalid repository URL")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrRepoNotFound        = errors.New("repository not found")
	ErrTimeout             = errors.New("git operation timed out")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrHostKeyVerification = errors.New("host key verification failed")
	ErrNothingToCommit     = errors.New("nothing to commit")
	ErrRemoteDiverged      = errors.New("remote branch has diverged")
	ErrDirectoryConflict   = errors.New("directory conflict")
)

// classifyErr rewrites a raw git failure into one of the sentinel classes
// above. Classification is by substring match against the tool's output, so
// a new upstream wording is a one-place fix here. Unmatched failures pass
// through unchanged.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	text := err.Error()
	switch {
	case containsAny(text, "Host key verification failed"):
		return fmt.Errorf("%w: %v", ErrHostKeyVerification, err)
	case containsAny(text, "Authentication failed", "could not read Username", "could not read Password", "Invalid username or", "invalid credentials"):
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	case containsAny(text, "Permission denied", "access denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case containsAny(text, "Repository not found", "does not appear to be a git repository"):
		return fmt.Errorf("%w: %v", ErrRepoNotFound, err)
	case containsAny(text, "timed out", "Connection timed out", "Operation timed out"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// isPushRejected reports whether a push failure is a remote rejection the
// recovery protocol can act on, as opposed to a transport or auth failure.
func isPushRejected(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), "non-fast-forward", "Updates were rejected", "rejected")
}

// isRebaseConflict reports whether a rebase failure is due to unresolved
// conflicts (recoverable by abort + force-with-lease) rather than an
// unexpected error.
func isRebaseConflict(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), "CONFLICT", "could not apply", "Resolve all conflicts")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
