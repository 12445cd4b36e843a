/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitservice

import (
	"errors"
	"fmt"
	"time"
)

// Option is a functional option for configuring the Service.
type Option func(*Service) error

// WithGitPath overrides the git binary used for subprocess invocations.
func WithGitPath(path string) Option {
	return func(s *Service) error {
		if path == "" {
			return errors.New("git path cannot be empty")
		}
		s.gitPath = path
		return nil
	}
}

// WithNetworkTimeout overrides the wall-clock budget applied to
// network-bound operations (clone, fetch, push, unshallow, submodule
// transfers). The default is 30 seconds.
func WithNetworkTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return fmt.Errorf("network timeout must be positive, got %v", d)
		}
		s.networkTimeout = d
		return nil
	}
}
