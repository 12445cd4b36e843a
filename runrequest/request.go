/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runrequest

import (
	"time"

	"chainguard.dev/agentharness/gitservice"
)

// Request describes a single agent run.
type Request struct {
	// Prompt is passed to the agent verbatim.
	Prompt string `yaml:"prompt" json:"prompt" jsonschema:"description=Task prompt passed to the agent,required"`

	// Options tunes the agent invocation.
	Options Options `yaml:"options,omitempty" json:"options,omitempty" jsonschema:"description=Agent invocation options"`

	// Repo, when set, is cloned into the workspace before the run.
	Repo *Repo `yaml:"repo,omitempty" json:"repo,omitempty" jsonschema:"description=Repository cloned into the workspace before the run"`

	// Actions, when set, are applied to the workspace after the agent exits.
	Actions *PostActions `yaml:"actions,omitempty" json:"actions,omitempty" jsonschema:"description=Git actions applied after the agent exits"`

	// ExternalTests, when set, names a test repository to synchronize as a
	// submodule of the workspace and raise a pull request against.
	ExternalTests *ExternalTestRepo `yaml:"external_tests,omitempty" json:"external_tests,omitempty" jsonschema:"description=External test repository synchronized as a submodule"`
}

// Options tunes how the agent process is launched and bounded.
type Options struct {
	Model           string   `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"description=Model identifier forwarded to the agent CLI"`
	AllowedTools    []string `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty" jsonschema:"description=Tools the agent may use"`
	DisallowedTools []string `yaml:"disallowed_tools,omitempty" json:"disallowed_tools,omitempty" jsonschema:"description=Tools withheld from the agent"`

	// TimeoutMinutes bounds the whole run. Zero keeps the supervisor default.
	TimeoutMinutes int `yaml:"timeout_minutes,omitempty" json:"timeout_minutes,omitempty" jsonschema:"description=Hard run timeout in minutes"`

	// GracePeriodSeconds is how long the supervisor waits for the process to
	// exit after its result event before killing it. Zero keeps the default.
	GracePeriodSeconds int `yaml:"grace_period_seconds,omitempty" json:"grace_period_seconds,omitempty" jsonschema:"description=Seconds to wait after the result event before killing the process"`
}

// Timeout returns the run timeout, or zero when the request does not set one.
func (o Options) Timeout() time.Duration {
	return time.Duration(o.TimeoutMinutes) * time.Minute
}

// GracePeriod returns the post-result grace period, or zero when unset.
func (o Options) GracePeriod() time.Duration {
	return time.Duration(o.GracePeriodSeconds) * time.Second
}

// Repo identifies a repository to clone before the run.
type Repo struct {
	URL    string `yaml:"url" json:"url" jsonschema:"description=Repository URL to clone,required"`
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty" jsonschema:"description=Branch to check out; the remote default when empty"`
	// Depth, when positive, produces a shallow clone of that many commits.
	Depth      int    `yaml:"depth,omitempty" json:"depth,omitempty" jsonschema:"description=Shallow clone depth; full history when zero"`
	SSHKeyPath string `yaml:"ssh_key_path,omitempty" json:"ssh_key_path,omitempty" jsonschema:"description=SSH private key used for the clone"`
}

// CloneOptions converts the repo stanza into gitservice clone options.
func (r *Repo) CloneOptions() gitservice.CloneOptions {
	return gitservice.CloneOptions{
		Branch:     r.Branch,
		Depth:      r.Depth,
		SSHKeyPath: r.SSHKeyPath,
	}
}

// PostActions are git instructions applied to the workspace after the agent
// returns control.
type PostActions struct {
	Commit      *CommitAction `yaml:"commit,omitempty" json:"commit,omitempty" jsonschema:"description=Commit staged after the run"`
	Push        *PushAction   `yaml:"push,omitempty" json:"push,omitempty" jsonschema:"description=Push applied after the commit"`
	UploadGlobs []string      `yaml:"upload_globs,omitempty" json:"upload_globs,omitempty" jsonschema:"description=Workspace globs collected as run artifacts"`
}

// CommitAction describes the commit created from the agent's changes.
type CommitAction struct {
	Message string `yaml:"message" json:"message" jsonschema:"description=Commit message,required"`
	// Files lists the paths to stage. Everything is staged when empty.
	Files []string `yaml:"files,omitempty" json:"files,omitempty" jsonschema:"description=Paths to stage; stages everything when empty"`
}

// PushAction describes the push that follows the commit.
type PushAction struct {
	Branch string `yaml:"branch" json:"branch" jsonschema:"description=Branch to push,required"`
	// ConflictStrategy selects how a rejected push is recovered.
	ConflictStrategy gitservice.ConflictStrategy `yaml:"conflict_strategy,omitempty" json:"conflict_strategy,omitempty" jsonschema:"description=Recovery strategy when the remote rejects the push,enum=fail,enum=auto"`
}

// ExternalTestRepo names a GitHub repository of tests that the harness
// registers as a submodule of the workspace, pushes agent-authored tests
// to, and raises a pull request against.
type ExternalTestRepo struct {
	URL    string `yaml:"url" json:"url" jsonschema:"description=GitHub URL of the test repository,required"`
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty" jsonschema:"description=Tracking branch; defaults to main"`
	Path   string `yaml:"path" json:"path" jsonschema:"description=Submodule path relative to the workspace,required"`

	// InstallationToken authenticates pushes to the test repository. When
	// empty the harness mints one from its GitHub App credentials.
	InstallationToken string `yaml:"installation_token,omitempty" json:"installation_token,omitempty" jsonschema:"description=Token used for authenticated pushes"`

	// ExistingPRBranch, when set, is checked out in place of the tracking
	// branch so the run continues an open pull request.
	ExistingPRBranch string `yaml:"existing_pr_branch,omitempty" json:"existing_pr_branch,omitempty" jsonschema:"description=Open pull request branch to resume"`

	// UpdateToLatest re-points an already-registered submodule at the
	// latest remote head before the run.
	UpdateToLatest bool `yaml:"update_to_latest,omitempty" json:"update_to_latest,omitempty" jsonschema:"description=Re-point the submodule at the latest remote head"`
}

// EffectiveBranch returns the tracking branch, defaulting to main.
func (e *ExternalTestRepo) EffectiveBranch() string {
	if e.Branch != "" {
		return e.Branch
	}
	return "main"
}
