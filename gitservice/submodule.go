/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitservice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/chainguard-dev/clog"
	gitconfig "github.com/go-git/go-git/v5/config"
)

// SubmoduleOptions configures InitSubmodule.
type SubmoduleOptions struct {
	// ExistingPRBranch, when set, is fetched and checked out after
	// registration so a run can continue iterating on an open pull request.
	// When empty the submodule is hard-reset to the tip of the base branch,
	// guarding against stale pointers leaking old commits into a new
	// contribution.
	ExistingPRBranch string
}

// InitSubmodule brings the submodule at path to a known state, registering
// it on first use and updating it afterwards. Registration state is derived
// from the manifest on every call, so the operation is idempotent and safe
// after a crash. Network transfers use tokenURL; displayURL is what appears
// in logs.
func (s *Service) InitSubmodule(ctx context.Context, workspace, path, displayURL, tokenURL, branch string, depth int, opts SubmoduleOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := clog.FromContext(ctx).With("path", path).With("url", displayURL)

	registered, err := submoduleRegistered(workspace, path)
	if err != nil {
		return err
	}
	env := s.env("")

	if !registered {
		log.Info("Registering submodule")
		args := []string{"submodule", "add", "--force"}
		if depth > 0 {
			args = append(args, "--depth", strconv.Itoa(depth))
		}
		if branch != "" {
			args = append(args, "-b", branch)
		}
		args = append(args, "--", tokenURL, path)
		tctx, cancel := context.WithTimeout(ctx, s.networkTimeout)
		_, err := s.run(tctx, workspace, env, args...)
		cancel()
		if err != nil {
			if containsAny(err.Error(), "already exists in the index", "already exists and is not a valid git repo") {
				return fmt.Errorf("%w: %q is occupied by a directory that is not a registered submodule; remove or rename it", ErrDirectoryConflict, path)
			}
			return fmt.Errorf("adding submodule %s: %w", path, classifyErr(err))
		}
	} else {
		log.Info("Updating registered submodule")
		if _, err := s.run(ctx, workspace, env, "submodule", "set-url", "--", path, tokenURL); err != nil {
			return fmt.Errorf("updating submodule URL for %s: %w", path, classifyErr(err))
		}
		args := []string{"submodule", "update", "--init"}
		if depth > 0 {
			args = append(args, "--depth", strconv.Itoa(depth))
		}
		args = append(args, "--", path)
		tctx, cancel := context.WithTimeout(ctx, s.networkTimeout)
		_, err := s.run(tctx, workspace, env, args...)
		cancel()
		if err != nil {
			return fmt.Errorf("updating submodule %s: %w", path, classifyErr(err))
		}
	}

	// Tokens rotate per run, so the submodule's own remote is repointed on
	// every call before any branch work.
	subdir := filepath.Join(workspace, path)
	if _, err := s.run(ctx, subdir, env, "remote", "set-url", "origin", tokenURL); err != nil {
		return fmt.Errorf("repointing submodule remote: %w", classifyErr(err))
	}

	if opts.ExistingPRBranch != "" {
		if err := s.fetch(ctx, subdir, "origin", opts.ExistingPRBranch, ""); err != nil {
			return fmt.Errorf("fetching PR branch %s: %w", opts.ExistingPRBranch, classifyErr(err))
		}
		if _, err := s.run(ctx, subdir, env, "checkout", opts.ExistingPRBranch); err != nil {
			return fmt.Errorf("checking out PR branch %s: %w", opts.ExistingPRBranch, err)
		}
		log.With("branch", opts.ExistingPRBranch).Info("Checked out existing PR branch")
		return nil
	}

	if err := s.fetch(ctx, subdir, "origin", branch, ""); err != nil {
		return fmt.Errorf("fetching %s: %w", branch, classifyErr(err))
	}
	if _, err := s.run(ctx, subdir, env, "reset", "--hard", "origin/"+branch); err != nil {
		return fmt.Errorf("resetting submodule to origin/%s: %w", branch, err)
	}
	return nil
}

// submoduleRegistered derives the registration state from the on-disk
// manifest. The manifest is the source of truth; nothing is cached across
// calls.
func submoduleRegistered(workspace, path string) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(workspace, ".gitmodules"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading submodule manifest: %w", err)
	}
	modules := gitconfig.NewModules()
	if err := modules.Unmarshal(raw); err != nil {
		return false, fmt.Errorf("parsing submodule manifest: %w", err)
	}
	for name, sub := range modules.Submodules {
		if name == path || sub.Path == path {
			return true, nil
		}
	}
	return false, nil
}

// CommitAndPushSubmodule commits the submodule working tree onto branchName
// and pushes it with upstream tracking, returning the new commit sha. A
// fresh branch is created unless isExistingBranch indicates the run is
// continuing an open pull request.
func (s *Service) CommitAndPushSubmodule(ctx context.Context, workspace, path, branchName string, isExistingBranch bool, tokenURL, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subdir := filepath.Join(workspace, path)
	env := s.env("")
	if isExistingBranch {
		if _, err := s.run(ctx, subdir, env, "checkout", branchName); err != nil {
			return "", fmt.Errorf("checking out %s: %w", branchName, err)
		}
	} else {
		if _, err := s.run(ctx, subdir, env, "checkout", "-b", branchName); err != nil {
			return "", fmt.Errorf("creating branch %s: %w", branchName, err)
		}
	}

	sha, err := s.commitWithIdentity(ctx, subdir, identityFor(workspace), message, nil)
	if err != nil {
		return "", err
	}

	if _, err := s.run(ctx, subdir, env, "remote", "set-url", "origin", tokenURL); err != nil {
		return "", fmt.Errorf("repointing submodule remote: %w", err)
	}
	tctx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	defer cancel()
	if _, err := s.run(tctx, subdir, env, "push", "-u", "origin", branchName); err != nil {
		return "", fmt.Errorf("pushing %s: %w", branchName, classifyErr(err))
	}
	return sha, nil
}
