/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitservice

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
)

// ConflictStrategy selects how Push responds when the remote rejects the
// initial push.
type ConflictStrategy string

const (
	// ConflictStrategyFail surfaces the rejection to the caller unresolved.
	ConflictStrategyFail ConflictStrategy = "fail"
	// ConflictStrategyAuto fetches, rebases preferring the local side of any
	// conflicting hunk, and falls back to a force-with-lease push when the
	// rebase cannot complete.
	ConflictStrategyAuto ConflictStrategy = "auto"
)

// RecoveryMethod identifies how a rejected push was converged.
type RecoveryMethod string

const (
	RecoveryRebase         RecoveryMethod = "rebase"
	RecoveryForceWithLease RecoveryMethod = "force-with-lease"
)

// RecoveryInfo describes the convergence path taken after a rejected push.
type RecoveryInfo struct {
	Method RecoveryMethod `json:"method"`
	// RemoteSHA is the remote head observed when recovery began, recorded
	// for diagnostics.
	RemoteSHA string `json:"remoteSha"`
	// ConflictFiles lists the paths that conflicted during the recovery
	// rebase. Populated on the force-with-lease path.
	ConflictFiles []string `json:"conflictFiles,omitempty"`
}

// PushResult reports a completed push. Recovery is non-nil exactly when the
// initial push was rejected and the protocol had to converge.
type PushResult struct {
	SHA      string        `json:"sha"`
	Recovery *RecoveryInfo `json:"recovery,omitempty"`
}

// PushOptions configures Push.
type PushOptions struct {
	SSHKeyPath       string
	ConflictStrategy ConflictStrategy
	// StrategyOption is the merge strategy option handed to the recovery
	// rebase. The default "ours" keeps the local side of every conflicting
	// hunk: in-flight agent work wins over concurrent remote edits.
	StrategyOption string
}

// Push pushes branch to origin, recovering from remote rejection according
// to the configured conflict strategy:
//
//  1. A plain push that succeeds is terminal.
//  2. A failure that is not a rejection propagates unchanged.
//  3. Rejection under ConflictStrategyFail returns ErrRemoteDiverged; the
//     caller must retry with an explicit strategy.
//  4. Rejection under ConflictStrategyAuto fetches the remote branch,
//     records its head, unshallows the clone if needed, and rebases onto it.
//     A clean rebase is pushed normally; a conflicted rebase is aborted and
//     the local history force-pushed with lease semantics so that newer
//     intervening remote commits are never silently clobbered.
//
// The fallback push is never retried.
func (s *Service) Push(ctx context.Context, dir, branch string, opts PushOptions) (*PushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := clog.FromContext(ctx)

	pushErr := s.push(ctx, dir, branch, opts.SSHKeyPath, false)
	if pushErr == nil {
		sha, err := s.head(ctx, dir)
		if err != nil {
			return nil, err
		}
		return &PushResult{SHA: sha}, nil
	}
	if !isPushRejected(pushErr) {
		return nil, fmt.Errorf("pushing %s: %w", branch, classifyErr(pushErr))
	}

	switch opts.ConflictStrategy {
	case ConflictStrategyAuto:
	case ConflictStrategyFail, "":
		return nil, fmt.Errorf("%w: remote %s has commits not present locally, retry with an explicit conflict strategy", ErrRemoteDiverged, branch)
	default:
		return nil, fmt.Errorf("unknown conflict strategy %q", opts.ConflictStrategy)
	}

	log.With("branch", branch).Info("Push rejected, starting recovery")

	if err := s.fetch(ctx, dir, "origin", branch, opts.SSHKeyPath); err != nil {
		return nil, fmt.Errorf("fetching %s for recovery: %w", branch, classifyErr(err))
	}
	remoteSHA, err := s.revParse(ctx, dir, "origin/"+branch)
	if err != nil {
		return nil, err
	}
	shallow, err := s.isShallow(ctx, dir)
	if err != nil {
		return nil, err
	}
	if shallow {
		if err := s.unshallow(ctx, dir, opts.SSHKeyPath); err != nil {
			return nil, fmt.Errorf("unshallowing before rebase: %w", classifyErr(err))
		}
	}

	strategyOpt := opts.StrategyOption
	if strategyOpt == "" {
		strategyOpt = "ours"
	}
	_, rebaseErr := s.run(ctx, dir, s.env(""), "rebase", "--strategy-option="+strategyOpt, "origin/"+branch)
	if rebaseErr == nil {
		if err := s.push(ctx, dir, branch, opts.SSHKeyPath, false); err != nil {
			return nil, fmt.Errorf("pushing rebased history: %w", classifyErr(err))
		}
		sha, err := s.head(ctx, dir)
		if err != nil {
			return nil, err
		}
		log.With("branch", branch).With("remote_sha", remoteSHA).Info("Recovered via rebase")
		return &PushResult{
			SHA:      sha,
			Recovery: &RecoveryInfo{Method: RecoveryRebase, RemoteSHA: remoteSHA},
		}, nil
	}
	if !isRebaseConflict(rebaseErr) {
		return nil, fmt.Errorf("rebasing onto origin/%s: %w", branch, rebaseErr)
	}

	conflictFiles := s.conflictFiles(ctx, dir)
	if _, err := s.run(ctx, dir, s.env(""), "rebase", "--abort"); err != nil {
		// Not fatal: the force push below supersedes the rebase state.
		log.With("error", err).Warn("Aborting conflicted rebase failed")
	}
	if err := s.push(ctx, dir, branch, opts.SSHKeyPath, true); err != nil {
		return nil, fmt.Errorf("force-pushing with lease: %w", classifyErr(err))
	}
	sha, err := s.head(ctx, dir)
	if err != nil {
		return nil, err
	}
	log.With("branch", branch).With("conflict_files", len(conflictFiles)).Info("Recovered via force-with-lease")
	return &PushResult{
		SHA: sha,
		Recovery: &RecoveryInfo{
			Method:        RecoveryForceWithLease,
			RemoteSHA:     remoteSHA,
			ConflictFiles: conflictFiles,
		},
	}, nil
}

func (s *Service) push(ctx context.Context, dir, branch, sshKeyPath string, forceWithLease bool) error {
	args := []string{"push"}
	if forceWithLease {
		args = append(args, "--force-with-lease")
	}
	args = append(args, "origin", branch)
	ctx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	defer cancel()
	_, err := s.run(ctx, dir, s.env(sshKeyPath), args...)
	return err
}

// conflictFiles lists the unmerged paths of an in-progress rebase. Best
// effort: a listing failure only degrades diagnostics.
func (s *Service) conflictFiles(ctx context.Context, dir string) []string {
	res, err := s.run(ctx, dir, s.env(""), "diff", "--name-only", "--diff-filter=U")
	if err != nil || res.stdout == "" {
		return nil
	}
	var files []string
	for _, line := range splitLines(res.stdout) {
		if line != "" {
			files = append(files, line)
		}
	}
	return files
}
