/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// Option is a functional option for configuring the supervisor
type Option func(*supervisor) error

// WithCommand overrides the agent executable and its base arguments.
// The prompt is appended to args at run time (or streamed on stdin
// when WithPromptOnStdin is set).
func WithCommand(path string, args ...string) Option {
	return func(s *supervisor) error {
		if path == "" {
			return errors.New("command path cannot be empty")
		}
		s.command = path
		s.args = append([]string(nil), args...)
		return nil
	}
}

// WithExtraArgs appends arguments to the agent invocation after the base
// arguments and before the prompt. Use it to forward per-run flags such
// as a model override without restating the base invocation.
func WithExtraArgs(args ...string) Option {
	return func(s *supervisor) error {
		s.args = append(s.args, args...)
		return nil
	}
}

// WithGracePeriod sets how long the process may keep running after it
// emits a result event before the process group is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(s *supervisor) error {
		if d <= 0 {
			return fmt.Errorf("grace period must be positive, got %v", d)
		}
		s.gracePeriod = d
		return nil
	}
}

// WithTimeout sets the main timeout for the whole invocation, measured
// from spawn. When it fires the run resolves with exit code 124 and
// ErrProcessTimeout regardless of grace-period state.
func WithTimeout(d time.Duration) Option {
	return func(s *supervisor) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		s.timeout = d
		return nil
	}
}

// WithSink installs the consumer for the agent's output streams.
func WithSink(sink Sink) Option {
	return func(s *supervisor) error {
		if sink == nil {
			return errors.New("sink cannot be nil")
		}
		s.sink = sink
		return nil
	}
}

// WithDir sets the working directory the agent runs in.
func WithDir(dir string) Option {
	return func(s *supervisor) error {
		if dir == "" {
			return errors.New("dir cannot be empty")
		}
		s.dir = dir
		return nil
	}
}

// WithEnv replaces the agent's environment. The default inherits the
// parent environment.
func WithEnv(env []string) Option {
	return func(s *supervisor) error {
		s.env = append([]string(nil), env...)
		return nil
	}
}

// WithPromptOnStdin delivers the prompt on the agent's stdin instead of
// as a trailing argument, appending "-" to the argument list the way
// the agent CLIs expect. Useful for prompts that exceed argv limits.
func WithPromptOnStdin() Option {
	return func(s *supervisor) error {
		s.promptOnStdin = true
		return nil
	}
}
