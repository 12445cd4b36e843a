/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runrequest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/agentharness/gitservice"
)

const fullRequest = `prompt: Write a regression test for the reported crash.
options:
  model: claude-sonnet-4-5
  allowed_tools:
    - Bash
    - Edit
  timeout_minutes: 30
  grace_period_seconds: 10
repo:
  url: https://github.com/acme/service.git
  branch: main
  depth: 1
actions:
  commit:
    message: Add regression test
    files:
      - tests/crash_test.py
  push:
    branch: agent/run-7
    conflict_strategy: auto
  upload_globs:
    - "artifacts/**"
external_tests:
  url: https://github.com/acme/tests
  path: vendor/tests
  existing_pr_branch: agent/run-6
  update_to_latest: true
`

func TestParse(t *testing.T) {
	got, err := Parse([]byte(fullRequest))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}

	want := &Request{
		Prompt: "Write a regression test for the reported crash.",
		Options: Options{
			Model:              "claude-sonnet-4-5",
			AllowedTools:       []string{"Bash", "Edit"},
			TimeoutMinutes:     30,
			GracePeriodSeconds: 10,
		},
		Repo: &Repo{
			URL:    "https://github.com/acme/service.git",
			Branch: "main",
			Depth:  1,
		},
		Actions: &PostActions{
			Commit: &CommitAction{
				Message: "Add regression test",
				Files:   []string{"tests/crash_test.py"},
			},
			Push: &PushAction{
				Branch:           "agent/run-7",
				ConflictStrategy: gitservice.ConflictStrategyAuto,
			},
			UploadGlobs: []string{"artifacts/**"},
		},
		ExternalTests: &ExternalTestRepo{
			URL:              "https://github.com/acme/tests",
			Path:             "vendor/tests",
			ExistingPRBranch: "agent/run-6",
			UpdateToLatest:   true,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("prompt: [unclosed")); err == nil {
		t.Error("Parse() = nil error for malformed YAML")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.yaml")
	if err := os.WriteFile(path, []byte(fullRequest), 0o644); err != nil {
		t.Fatal(err)
	}

	req, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if req.Prompt == "" {
		t.Error("Load() returned a request without a prompt")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() = nil error for a missing file")
	}
}

func validRequest() *Request {
	return &Request{
		Prompt: "do the task",
		Repo:   &Repo{URL: "https://github.com/acme/service.git"},
		Actions: &PostActions{
			Commit: &CommitAction{Message: "update tests"},
			Push:   &PushAction{Branch: "agent/run-1", ConflictStrategy: gitservice.ConflictStrategyAuto},
		},
		ExternalTests: &ExternalTestRepo{URL: "https://github.com/acme/tests", Path: "vendor/tests"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr string
	}{{
		name:   "valid",
		mutate: func(*Request) {},
	}, {
		name:    "missing prompt",
		mutate:  func(r *Request) { r.Prompt = "  " },
		wantErr: "prompt is required",
	}, {
		name:    "negative timeout",
		mutate:  func(r *Request) { r.Options.TimeoutMinutes = -1 },
		wantErr: "timeout_minutes",
	}, {
		name:    "negative grace period",
		mutate:  func(r *Request) { r.Options.GracePeriodSeconds = -5 },
		wantErr: "grace_period_seconds",
	}, {
		name:    "malformed repo url",
		mutate:  func(r *Request) { r.Repo.URL = "ftp://acme/service" },
		wantErr: "repo.url",
	}, {
		name:    "negative clone depth",
		mutate:  func(r *Request) { r.Repo.Depth = -1 },
		wantErr: "repo.depth",
	}, {
		name:    "commit without message",
		mutate:  func(r *Request) { r.Actions.Commit.Message = "" },
		wantErr: "commit.message is required",
	}, {
		name:    "push without branch",
		mutate:  func(r *Request) { r.Actions.Push.Branch = "" },
		wantErr: "push.branch is required",
	}, {
		name:    "unknown conflict strategy",
		mutate:  func(r *Request) { r.Actions.Push.ConflictStrategy = "merge" },
		wantErr: "conflict_strategy",
	}, {
		name:    "external tests off github",
		mutate:  func(r *Request) { r.ExternalTests.URL = "https://gitlab.com/acme/tests" },
		wantErr: "external_tests.url",
	}, {
		name:    "external tests without path",
		mutate:  func(r *Request) { r.ExternalTests.Path = "" },
		wantErr: "external_tests.path is required",
	}, {
		name:    "absolute external tests path",
		mutate:  func(r *Request) { r.ExternalTests.Path = "/srv/tests" },
		wantErr: "must be relative",
	}, {
		name:    "external tests path escapes workspace",
		mutate:  func(r *Request) { r.ExternalTests.Path = "../outside" },
		wantErr: "must not escape",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestOptionsDurations(t *testing.T) {
	opts := Options{TimeoutMinutes: 3, GracePeriodSeconds: 45}
	if got := opts.Timeout(); got != 3*time.Minute {
		t.Errorf("Timeout() = %v, want 3m", got)
	}
	if got := opts.GracePeriod(); got != 45*time.Second {
		t.Errorf("GracePeriod() = %v, want 45s", got)
	}

	var zero Options
	if got := zero.Timeout(); got != 0 {
		t.Errorf("Timeout() = %v for an unset option, want 0", got)
	}
}

func TestRepoCloneOptions(t *testing.T) {
	r := &Repo{URL: "https://github.com/acme/service.git", Branch: "dev", Depth: 2, SSHKeyPath: "/key"}
	want := gitservice.CloneOptions{Branch: "dev", Depth: 2, SSHKeyPath: "/key"}
	if diff := cmp.Diff(want, r.CloneOptions()); diff != "" {
		t.Errorf("CloneOptions() mismatch (-want +got):\n%s", diff)
	}
}

func TestEffectiveBranch(t *testing.T) {
	e := &ExternalTestRepo{URL: "https://github.com/acme/tests", Path: "vendor/tests"}
	if got := e.EffectiveBranch(); got != "main" {
		t.Errorf("EffectiveBranch() = %q, want main", got)
	}
	e.Branch = "trunk"
	if got := e.EffectiveBranch(); got != "trunk" {
		t.Errorf("EffectiveBranch() = %q, want trunk", got)
	}
}
