/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runrequest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"chainguard.dev/agentharness/gitservice"
)

// Load reads and validates a run request file.
func Load(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates run request content.
func Parse(data []byte) (*Request, error) {
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing request YAML: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks the request for errors. Parse and Load call it on the
// caller's behalf; it is exported for requests built in code.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("request: prompt is required")
	}
	if r.Options.TimeoutMinutes < 0 {
		return fmt.Errorf("request: options.timeout_minutes must not be negative: %d", r.Options.TimeoutMinutes)
	}
	if r.Options.GracePeriodSeconds < 0 {
		return fmt.Errorf("request: options.grace_period_seconds must not be negative: %d", r.Options.GracePeriodSeconds)
	}
	if r.Repo != nil {
		if err := gitservice.ValidateRemoteURL(r.Repo.URL); err != nil {
			return fmt.Errorf("request: repo.url: %w", err)
		}
		if r.Repo.Depth < 0 {
			return fmt.Errorf("request: repo.depth must not be negative: %d", r.Repo.Depth)
		}
	}
	if r.Actions != nil {
		if err := validateActions(r.Actions); err != nil {
			return err
		}
	}
	if r.ExternalTests != nil {
		if err := validateExternalTests(r.ExternalTests); err != nil {
			return err
		}
	}
	return nil
}

func validateActions(a *PostActions) error {
	if a.Commit != nil && strings.TrimSpace(a.Commit.Message) == "" {
		return errors.New("request: actions.commit.message is required")
	}
	if a.Push != nil {
		if a.Push.Branch == "" {
			return errors.New("request: actions.push.branch is required")
		}
		switch a.Push.ConflictStrategy {
		case "", gitservice.ConflictStrategyFail, gitservice.ConflictStrategyAuto:
		default:
			return fmt.Errorf("request: actions.push.conflict_strategy must be %q or %q: %q",
				gitservice.ConflictStrategyFail, gitservice.ConflictStrategyAuto, a.Push.ConflictStrategy)
		}
	}
	return nil
}

func validateExternalTests(e *ExternalTestRepo) error {
	// The test repository must live on GitHub: the harness raises pull
	// requests against it through the GitHub API.
	if _, _, err := gitservice.ParseGitHubURL(e.URL); err != nil {
		return fmt.Errorf("request: external_tests.url: %w", err)
	}
	if e.Path == "" {
		return errors.New("request: external_tests.path is required")
	}
	if filepath.IsAbs(e.Path) {
		return fmt.Errorf("request: external_tests.path must be relative to the workspace: %s", e.Path)
	}
	cleaned := filepath.Clean(e.Path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("request: external_tests.path must not escape the workspace: %s", e.Path)
	}
	return nil
}
