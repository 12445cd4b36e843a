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
	"strings"

	gitconfig "github.com/go-git/go-git/v5/config"
)

// Fallback author identity applied when the workspace does not carry its
// own .gitconfig.
const (
	defaultUserName  = "Claude Code"
	defaultUserEmail = "noreply@anthropic.com"
)

// Identity is the author identity applied to commits created by the
// service.
type Identity struct {
	Name  string
	Email string
}

// identityFor resolves the commit identity for a workspace. A .gitconfig at
// the workspace root wins; missing file or missing keys fall back to the
// fixed defaults.
func identityFor(workspace string) Identity {
	id := Identity{Name: defaultUserName, Email: defaultUserEmail}
	f, err := os.Open(filepath.Join(workspace, ".gitconfig"))
	if err != nil {
		return id
	}
	defer f.Close()
	cfg, err := gitconfig.ReadConfig(f)
	if err != nil {
		return id
	}
	if cfg.User.Name != "" {
		id.Name = cfg.User.Name
	}
	if cfg.User.Email != "" {
		id.Email = cfg.User.Email
	}
	return id
}

// applyIdentity writes the identity into the repository-local configuration.
// Global configuration is never touched.
func (s *Service) applyIdentity(ctx context.Context, dir string, id Identity) error {
	if _, err := s.run(ctx, dir, s.env(""), "config", "user.name", id.Name); err != nil {
		return fmt.Errorf("configuring user.name: %w", err)
	}
	if _, err := s.run(ctx, dir, s.env(""), "config", "user.email", id.Email); err != nil {
		return fmt.Errorf("configuring user.email: %w", err)
	}
	return nil
}

// Commit stages the named files (or all changes when none are given) and
// commits them with the workspace identity, returning the new commit sha.
// When staging produces neither staged nor renamed entries the commit is
// never invoked and ErrNothingToCommit is returned.
func (s *Service) Commit(ctx context.Context, dir, message string, files []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitWithIdentity(ctx, dir, identityFor(dir), message, files)
}

func (s *Service) commitWithIdentity(ctx context.Context, dir string, id Identity, message string, files []string) (string, error) {
	env := s.env("")
	if len(files) == 0 {
		if _, err := s.run(ctx, dir, env, "add", "-A"); err != nil {
			return "", fmt.Errorf("staging all changes: %w", err)
		}
	} else {
		args := append([]string{"add", "--"}, files...)
		if _, err := s.run(ctx, dir, env, args...); err != nil {
			return "", fmt.Errorf("staging %d files: %w", len(files), err)
		}
	}

	staged, renamed, err := s.stagedCounts(ctx, dir)
	if err != nil {
		return "", err
	}
	if staged == 0 && renamed == 0 {
		return "", fmt.Errorf("%w in %s", ErrNothingToCommit, dir)
	}

	if err := s.applyIdentity(ctx, dir, id); err != nil {
		return "", err
	}
	if _, err := s.run(ctx, dir, env, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("committing: %w", classifyErr(err))
	}
	return s.head(ctx, dir)
}

// stagedCounts parses porcelain status into staged and renamed entry
// counts. Unstaged and untracked entries are ignored.
func (s *Service) stagedCounts(ctx context.Context, dir string) (staged, renamed int, err error) {
	res, err := s.run(ctx, dir, s.env(""), "status", "--porcelain")
	if err != nil {
		return 0, 0, fmt.Errorf("reading status: %w", err)
	}
	for _, line := range strings.Split(res.stdout, "\n") {
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case 'R':
			renamed++
		case ' ', '?':
		default:
			staged++
		}
	}
	return staged, renamed, nil
}
