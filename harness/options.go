/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package harness

import (
	"errors"

	"chainguard.dev/agentharness/githubclient"
	"chainguard.dev/agentharness/mcplogs"
	"chainguard.dev/agentharness/runtrace"
	"chainguard.dev/agentharness/supervisor"
)

// Option is a functional option for configuring the harness
type Option func(*Harness) error

// WithGitService overrides the git collaborator. The default is a
// gitservice.Service with stock options.
func WithGitService(git GitService) Option {
	return func(h *Harness) error {
		if git == nil {
			return errors.New("git service cannot be nil")
		}
		h.git = git
		return nil
	}
}

// WithSupervisorFactory overrides how the per-run supervisor is built.
func WithSupervisorFactory(factory SupervisorFactory) Option {
	return func(h *Harness) error {
		if factory == nil {
			return errors.New("supervisor factory cannot be nil")
		}
		h.newSupervisor = factory
		return nil
	}
}

// WithGitHubFactory overrides how the pull request client is built.
func WithGitHubFactory(factory GitHubFactory) Option {
	return func(h *Harness) error {
		if factory == nil {
			return errors.New("github factory cannot be nil")
		}
		h.newGitHub = factory
		return nil
	}
}

// WithTokenSource installs a per-repository token source, used to mint
// installation tokens for external test repositories whose requests do
// not carry one.
func WithTokenSource(tokens githubclient.TokenSourceForRepo) Option {
	return func(h *Harness) error {
		if tokens == nil {
			return errors.New("token source cannot be nil")
		}
		h.tokens = tokens
		return nil
	}
}

// WithStreamMetrics records agent stream events and token usage on the
// given metrics instance.
func WithStreamMetrics(stream *runtrace.Stream) Option {
	return func(h *Harness) error {
		if stream == nil {
			return errors.New("stream metrics cannot be nil")
		}
		h.stream = stream
		return nil
	}
}

// WithSink adds a sink that receives the agent's output streams in
// addition to the harness's own accounting.
func WithSink(sink supervisor.Sink) Option {
	return func(h *Harness) error {
		if sink == nil {
			return errors.New("sink cannot be nil")
		}
		h.extraSink = sink
		return nil
	}
}

// WithMCPLogs collects the named MCP servers' logs for the workspace
// after each run and attaches them to the report.
func WithMCPLogs(finder *mcplogs.Finder, servers ...string) Option {
	return func(h *Harness) error {
		if finder == nil {
			return errors.New("finder cannot be nil")
		}
		if len(servers) == 0 {
			return errors.New("at least one server name is required")
		}
		h.mcp = finder
		h.mcpServers = append([]string(nil), servers...)
		return nil
	}
}
