/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitservice

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// defaultNetworkTimeout bounds every network-bound git invocation (clone,
// fetch, push, unshallow, submodule transfers).
const defaultNetworkTimeout = 30 * time.Second

// commandResult carries the raw outcome of one git invocation.
type commandResult struct {
	stdout string
	stderr string
}

// runnerFunc executes one git subprocess. Swapped out in tests.
type runnerFunc func(ctx context.Context, dir string, env []string, args ...string) (commandResult, error)

// Service wraps git subprocess invocations with timeouts, credential
// handling, and normalized errors. Invocations are serialized per Service so
// that concurrent calls against the same working tree cannot race on the
// index lock; use one Service per workspace.
type Service struct {
	gitPath        string
	networkTimeout time.Duration
	run            runnerFunc

	mu sync.Mutex
}

// New constructs a Service with the given options applied.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		gitPath:        "git",
		networkTimeout: defaultNetworkTimeout,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	s.run = execGit(s.gitPath)
	return s, nil
}

// execGit returns the production runner for the given git binary. Stdout and
// stderr are captured; on failure the stderr text is folded into the error
// with credentials redacted.
func execGit(gitPath string) runnerFunc {
	return func(ctx context.Context, dir string, env []string, args ...string) (commandResult, error) {
		cmd := exec.CommandContext(ctx, gitPath, args...)
		cmd.Dir = dir
		cmd.Env = env
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		res := commandResult{
			stdout: strings.TrimSpace(stdout.String()),
			stderr: strings.TrimSpace(stderr.String()),
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("git %s: %w", redactArgs(args), ctxErr)
			}
			return res, fmt.Errorf("git %s: %w: %s", redactArgs(args), err, res.stderr)
		}
		return res, nil
	}
}

// env builds the subprocess environment. Interactive credential prompts are
// always disabled; when an SSH key is supplied the transport is pinned to it
// with host key verification off, since workspaces are ephemeral and carry
// no seeded known_hosts.
func (s *Service) env(sshKeyPath string) []string {
	env := append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if sshKeyPath != "" {
		env = append(env, "GIT_SSH_COMMAND="+sshCommand(sshKeyPath))
	}
	return env
}

func sshCommand(keyPath string) string {
	return fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null", keyPath)
}

// CloneOptions configures Clone.
type CloneOptions struct {
	// Branch checks out the named branch instead of the remote default.
	Branch string
	// Depth, when positive, produces a shallow clone of that many commits.
	Depth int
	// SSHKeyPath selects keyed SSH transport.
	SSHKeyPath string
}

// Clone clones url into dir. The URL shape is validated before any network
// I/O; malformed URLs fail immediately with ErrInvalidURL.
func (s *Service) Clone(ctx context.Context, url, dir string, opts CloneOptions) error {
	if err := ValidateRemoteURL(url); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	args := []string{"clone"}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	args = append(args, "--", url, dir)

	ctx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	defer cancel()
	if _, err := s.run(ctx, ".", s.env(opts.SSHKeyPath), args...); err != nil {
		return fmt.Errorf("cloning %s: %w", redactURL(url), classifyErr(err))
	}
	return nil
}

// Fetch fetches ref from the named remote into the repository at dir.
func (s *Service) Fetch(ctx context.Context, dir, remote, ref, sshKeyPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fetch(ctx, dir, remote, ref, sshKeyPath); err != nil {
		return fmt.Errorf("fetching %s from %s: %w", ref, remote, classifyErr(err))
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, dir, remote, ref, sshKeyPath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	defer cancel()
	_, err := s.run(ctx, dir, s.env(sshKeyPath), "fetch", remote, ref)
	return err
}

// Raw runs an arbitrary git command in dir and returns its trimmed stdout.
// It exists for callers with needs outside the high-level operations; errors
// are classified like every other invocation.
func (s *Service) Raw(ctx context.Context, dir string, args ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.run(ctx, dir, s.env(""), args...)
	if err != nil {
		return "", classifyErr(err)
	}
	return res.stdout, nil
}

func (s *Service) revParse(ctx context.Context, dir, ref string) (string, error) {
	res, err := s.run(ctx, dir, s.env(""), "rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	return res.stdout, nil
}

func (s *Service) head(ctx context.Context, dir string) (string, error) {
	return s.revParse(ctx, dir, "HEAD")
}

// isShallow reports whether the clone at dir has truncated history.
func (s *Service) isShallow(ctx context.Context, dir string) (bool, error) {
	res, err := s.run(ctx, dir, s.env(""), "rev-parse", "--is-shallow-repository")
	if err != nil {
		return false, fmt.Errorf("checking shallow state: %w", err)
	}
	return res.stdout == "true", nil
}

// unshallow converts a shallow clone into a full one. Rebase cannot operate
// correctly on truncated history.
func (s *Service) unshallow(ctx context.Context, dir, sshKeyPath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	defer cancel()
	_, err := s.run(ctx, dir, s.env(sshKeyPath), "fetch", "--unshallow")
	return err
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
