/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chainguard-dev/clog"
	"golang.org/x/oauth2"

	"chainguard.dev/agentharness/githubclient"
	"chainguard.dev/agentharness/gitservice"
	"chainguard.dev/agentharness/mcplogs"
	"chainguard.dev/agentharness/runrequest"
	"chainguard.dev/agentharness/runtrace"
	"chainguard.dev/agentharness/supervisor"
)

// submoduleDepth is the shallow depth for external test repository
// transfers. New commits land on top of the current head, so history
// is dead weight.
const submoduleDepth = 1

// GitService is the slice of gitservice.Service the harness drives.
type GitService interface {
	Clone(ctx context.Context, url, dir string, opts gitservice.CloneOptions) error
	Commit(ctx context.Context, dir, message string, files []string) (string, error)
	Push(ctx context.Context, dir, branch string, opts gitservice.PushOptions) (*gitservice.PushResult, error)
	InitSubmodule(ctx context.Context, workspace, path, displayURL, tokenURL, branch string, depth int, opts gitservice.SubmoduleOptions) error
	CommitAndPushSubmodule(ctx context.Context, workspace, path, branchName string, isExistingBranch bool, tokenURL, message string) (string, error)
}

// PullRequester is the slice of githubclient.Client the harness drives.
type PullRequester interface {
	CreatePullRequest(ctx context.Context, owner, repo string, req githubclient.PullRequestRequest) (*githubclient.PullRequest, error)
	FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (*githubclient.PullRequest, error)
}

// SupervisorFactory builds the supervisor for a single agent run.
type SupervisorFactory func(opts ...supervisor.Option) (supervisor.Interface, error)

// GitHubFactory builds the pull request client for an external test
// repository, authenticated by the given token source.
type GitHubFactory func(ctx context.Context, ts oauth2.TokenSource) (PullRequester, error)

// Config carries the required harness configuration.
type Config struct {
	// Workspace is the directory the agent runs in. The target repository
	// is cloned here and post-run git actions apply here.
	Workspace string

	// AgentCommand overrides the agent invocation: element zero is the
	// binary, the rest are its base arguments. Empty keeps the
	// supervisor's default agent CLI.
	AgentCommand []string
}

// Harness runs agent tasks end to end. Construct with New; the zero
// value is not usable.
type Harness struct {
	workspace    string
	agentCommand []string

	git           GitService
	newSupervisor SupervisorFactory
	newGitHub     GitHubFactory
	tokens        githubclient.TokenSourceForRepo

	stream     *runtrace.Stream
	extraSink  supervisor.Sink
	mcp        *mcplogs.Finder
	mcpServers []string
}

// New creates a harness for the given workspace.
func New(cfg Config, opts ...Option) (*Harness, error) {
	if cfg.Workspace == "" {
		return nil, errors.New("workspace is required")
	}

	h := &Harness{
		workspace:     cfg.Workspace,
		agentCommand:  append([]string(nil), cfg.AgentCommand...),
		newSupervisor: supervisor.New,
		newGitHub: func(ctx context.Context, ts oauth2.TokenSource) (PullRequester, error) {
			return githubclient.New(ctx, ts)
		},
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if h.git == nil {
		svc, err := gitservice.New()
		if err != nil {
			return nil, err
		}
		h.git = svc
	}

	return h, nil
}

// Execute runs one request to completion: clone, agent run, git actions,
// external test synchronization. The returned Report describes whatever
// completed; on error it covers the steps up to the failure.
func (h *Harness) Execute(ctx context.Context, req *runrequest.Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := clog.FromContext(ctx)

	trace := runtrace.StartRun(ctx, req.Prompt)
	report := &Report{RunID: trace.ID}
	runCounter.Inc()

	err := h.execute(ctx, req, trace, report)
	trace.Complete(err)
	if err != nil {
		runFailureCounter.Inc()
		log.With("run_id", trace.ID).
			With("error", err).
			Error("Run failed")
		return report, err
	}

	log.With("run_id", trace.ID).
		With("duration", trace.Duration()).
		Info("Run complete")
	return report, nil
}

func (h *Harness) execute(ctx context.Context, req *runrequest.Request, trace *runtrace.Trace, report *Report) error {
	if req.Repo != nil {
		phase := trace.StartPhase("clone", map[string]any{"url": req.Repo.URL})
		err := h.git.Clone(ctx, req.Repo.URL, h.workspace, req.Repo.CloneOptions())
		phase.Complete(err)
		if err != nil {
			return fmt.Errorf("cloning %s: %w", req.Repo.URL, err)
		}
	}

	if err := h.runAgent(ctx, req, trace, report); err != nil {
		return err
	}

	if req.Actions != nil {
		if err := h.applyActions(ctx, req, trace, report); err != nil {
			return err
		}
	}

	if req.ExternalTests != nil {
		if err := h.syncExternalTests(ctx, req, trace, report); err != nil {
			return err
		}
	}

	h.gatherMCPLogs(ctx, report)
	return nil
}

// runAgent supervises the agent subprocess and records its stream and
// terminal state on the report. A populated Outcome is surfaced even
// when the run errors, so callers see the transcript of a timeout.
func (h *Harness) runAgent(ctx context.Context, req *runrequest.Request, trace *runtrace.Trace, report *Report) error {
	opts := []supervisor.Option{supervisor.WithDir(h.workspace)}
	if len(h.agentCommand) > 0 {
		opts = append(opts, supervisor.WithCommand(h.agentCommand[0], h.agentCommand[1:]...))
	}
	if flags := optionFlags(req.Options); len(flags) > 0 {
		opts = append(opts, supervisor.WithExtraArgs(flags...))
	}
	if d := req.Options.Timeout(); d > 0 {
		opts = append(opts, supervisor.WithTimeout(d))
	}
	if d := req.Options.GracePeriod(); d > 0 {
		opts = append(opts, supervisor.WithGracePeriod(d))
	}

	sink := runtrace.NewStreamSink(ctx, h.stream, trace)
	sinks := fanoutSink{sink, logSink{log: clog.FromContext(ctx)}}
	if h.extraSink != nil {
		sinks = append(sinks, h.extraSink)
	}
	opts = append(opts, supervisor.WithSink(sinks))

	sup, err := h.newSupervisor(opts...)
	if err != nil {
		return fmt.Errorf("building supervisor: %w", err)
	}

	phase := trace.StartPhase("agent", map[string]any{"timeout": req.Options.Timeout().String()})
	outcome, err := sup.Run(ctx, req.Prompt)
	phase.Complete(err)

	report.Outcome = outcome
	report.Model = sink.Model()
	report.EventCounts = sink.Counts()
	report.InputTokens, report.OutputTokens = sink.TokenUsage()
	report.StderrTail = sink.StderrTail()

	if err != nil {
		if errors.Is(err, supervisor.ErrProcessTimeout) {
			runTimeoutCounter.Inc()
		}
		return err
	}
	if outcome.ExitCode != 0 {
		return fmt.Errorf("agent exited with code %d", outcome.ExitCode)
	}
	return nil
}

// applyActions commits and pushes the workspace per the request. A clean
// working tree is not an error: the commit is skipped, and with it the
// push, since there is nothing of ours to publish.
func (h *Harness) applyActions(ctx context.Context, req *runrequest.Request, trace *runtrace.Trace, report *Report) error {
	actions := req.Actions
	log := clog.FromContext(ctx)

	committed := actions.Commit == nil
	if actions.Commit != nil {
		phase := trace.StartPhase("commit", nil)
		sha, err := h.git.Commit(ctx, h.workspace, actions.Commit.Message, actions.Commit.Files)
		switch {
		case errors.Is(err, gitservice.ErrNothingToCommit):
			phase.Complete(nil)
			log.Info("Workspace is clean, nothing to commit")
		case err != nil:
			phase.Complete(err)
			return fmt.Errorf("committing workspace: %w", err)
		default:
			phase.Complete(nil)
			report.CommitSHA = sha
			committed = true
		}
	}

	switch {
	case actions.Push == nil:
	case !committed:
		log.With("branch", actions.Push.Branch).Info("Skipping push, no commit was produced")
	default:
		phase := trace.StartPhase("push", map[string]any{"branch": actions.Push.Branch})
		result, err := h.git.Push(ctx, h.workspace, actions.Push.Branch, gitservice.PushOptions{
			SSHKeyPath:       workspaceSSHKey(req),
			ConflictStrategy: actions.Push.ConflictStrategy,
		})
		phase.Complete(err)
		if err != nil {
			return fmt.Errorf("pushing %s: %w", actions.Push.Branch, err)
		}
		report.Push = result
		if result.Recovery != nil {
			pushRecoveryCounter.WithLabelValues(string(result.Recovery.Method)).Inc()
			log.With("method", result.Recovery.Method).
				With("remote_sha", result.Recovery.RemoteSHA).
				Info("Push recovered from remote rejection")
		}
	}

	report.Artifacts = collectArtifacts(ctx, h.workspace, actions.UploadGlobs)
	return nil
}

// syncExternalTests mirrors the run's test changes into the external test
// repository: submodule registration, a commit on a contribution branch,
// and a pull request against the tracking branch.
func (h *Harness) syncExternalTests(ctx context.Context, req *runrequest.Request, trace *runtrace.Trace, report *Report) error {
	ext := req.ExternalTests
	log := clog.FromContext(ctx)

	owner, repo, err := gitservice.ParseGitHubURL(ext.URL)
	if err != nil {
		return err
	}
	token, err := h.resolveToken(ctx, owner, repo, ext.InstallationToken)
	if err != nil {
		return err
	}
	tokenURL, err := gitservice.BuildTokenURL(ext.URL, token)
	if err != nil {
		return err
	}
	gh, err := h.newGitHub(ctx, githubclient.StaticTokenSource(token))
	if err != nil {
		return fmt.Errorf("building github client for %s/%s: %w", owner, repo, err)
	}

	base := ext.EffectiveBranch()
	head := ext.ExistingPRBranch
	resume := head != ""
	var open *githubclient.PullRequest

	if !resume && ext.UpdateToLatest {
		// A prior run may have left its pull request open. Resume the
		// contribution branch behind it rather than stacking a second
		// pull request with the same changes.
		branch := contributionBranch(ext.Path)
		open, err = gh.FindOpenPullRequest(ctx, owner, repo, branch, base)
		if err != nil {
			return fmt.Errorf("looking up open pull request for %s: %w", branch, err)
		}
		if open != nil {
			head = branch
			resume = true
			log.With("pull_request", open.URL).Info("Resuming open pull request")
		}
	}
	if head == "" {
		head = contributionBranch(ext.Path)
	}

	phase := trace.StartPhase("submodule", map[string]any{"path": ext.Path, "branch": head})
	var subOpts gitservice.SubmoduleOptions
	if resume {
		subOpts.ExistingPRBranch = head
	}
	if err := h.git.InitSubmodule(ctx, h.workspace, ext.Path, ext.URL, tokenURL, base, submoduleDepth, subOpts); err != nil {
		phase.Complete(err)
		return err
	}

	sha, err := h.git.CommitAndPushSubmodule(ctx, h.workspace, ext.Path, head, resume, tokenURL, titleFor(req))
	phase.Complete(err)
	if err != nil {
		if errors.Is(err, gitservice.ErrNothingToCommit) {
			log.With("path", ext.Path).Info("External test repository already up to date")
			report.PullRequest = open
			return nil
		}
		return err
	}
	report.SubmoduleSHA = sha

	prPhase := trace.StartPhase("pull-request", map[string]any{"head": head, "base": base})
	pr, err := h.ensurePullRequest(ctx, gh, owner, repo, head, base, resume, open, req, trace.ID)
	prPhase.Complete(err)
	if err != nil {
		return err
	}
	report.PullRequest = pr
	return nil
}

// ensurePullRequest returns the open pull request for head, creating it
// when none exists. A resumed branch is probed first so reruns converge
// on the pull request they started.
func (h *Harness) ensurePullRequest(ctx context.Context, gh PullRequester, owner, repo, head, base string, resume bool, open *githubclient.PullRequest, req *runrequest.Request, runID string) (*githubclient.PullRequest, error) {
	if open != nil {
		return open, nil
	}
	if resume {
		pr, err := gh.FindOpenPullRequest(ctx, owner, repo, head, base)
		if err != nil {
			return nil, fmt.Errorf("looking up open pull request for %s: %w", head, err)
		}
		if pr != nil {
			return pr, nil
		}
	}

	pr, err := gh.CreatePullRequest(ctx, owner, repo, githubclient.PullRequestRequest{
		Title: titleFor(req),
		Body:  bodyFor(req, runID),
		Head:  head,
		Base:  base,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}
	pullRequestCounter.Inc()
	return pr, nil
}

// resolveToken prefers the token carried on the request; otherwise one is
// minted through the configured per-repository source.
func (h *Harness) resolveToken(ctx context.Context, owner, repo, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if h.tokens == nil {
		return "", fmt.Errorf("no token for %s/%s: the request carries none and no token source is configured", owner, repo)
	}
	ts, err := h.tokens(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("minting token for %s/%s: %w", owner, repo, err)
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("minting token for %s/%s: %w", owner, repo, err)
	}
	return tok.AccessToken, nil
}

// gatherMCPLogs attaches MCP server logs for the workspace to the report.
// Collection is best-effort; a run without MCP traffic has no logs.
func (h *Harness) gatherMCPLogs(ctx context.Context, report *Report) {
	if h.mcp == nil || len(h.mcpServers) == 0 {
		return
	}
	log := clog.FromContext(ctx)
	for _, server := range h.mcpServers {
		logs, err := h.mcp.Lookup(ctx, h.workspace, server)
		if err != nil {
			if !errors.Is(err, mcplogs.ErrNoLogs) {
				log.With("server", server).
					With("error", err).
					Warn("Reading MCP logs failed")
			}
			continue
		}
		if report.MCPLogs == nil {
			report.MCPLogs = make(map[string]*mcplogs.Logs, len(h.mcpServers))
		}
		report.MCPLogs[server] = logs
	}
}

// optionFlags translates request options into agent CLI flags.
func optionFlags(opts runrequest.Options) []string {
	var flags []string
	if opts.Model != "" {
		flags = append(flags, "--model", opts.Model)
	}
	if len(opts.AllowedTools) > 0 {
		flags = append(flags, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		flags = append(flags, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}
	return flags
}

// workspaceSSHKey returns the key the workspace was cloned with, so the
// push authenticates the same way the clone did.
func workspaceSSHKey(req *runrequest.Request) string {
	if req.Repo == nil {
		return ""
	}
	return req.Repo.SSHKeyPath
}

// contributionBranch names the branch agent changes are pushed to. The
// name is a pure function of the submodule path so reruns of the same
// task land on the same branch and find their earlier pull request.
func contributionBranch(path string) string {
	name := strings.Trim(filepath.ToSlash(path), "/")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, name)
	return "agent/" + name + "-updates"
}

// titleFor derives a one-line summary from the prompt, used as both the
// contribution commit message and the pull request title.
func titleFor(req *runrequest.Request) string {
	title := req.Prompt
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(title)
	const max = 72
	if len(title) > max {
		cut := max - 3
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut] + "..."
	}
	if title == "" {
		return "Agent test updates"
	}
	return title
}

// bodyFor builds the pull request body.
func bodyFor(req *runrequest.Request, runID string) string {
	var sb strings.Builder
	sb.WriteString("Automated test updates produced by an agent run.\n\n")
	fmt.Fprintf(&sb, "Run: `%s`\n\n", runID)
	fmt.Fprintf(&sb, "Prompt:\n\n```\n%s\n```\n", req.Prompt)
	return sb.String()
}

// collectArtifacts resolves the upload globs against the workspace and
// returns matches relative to it, sorted. Collection is best-effort; a
// malformed pattern is logged and skipped.
func collectArtifacts(ctx context.Context, workspace string, globs []string) []string {
	var out []string
	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(workspace, g))
		if err != nil {
			clog.FromContext(ctx).
				With("glob", g).
				With("error", err).
				Warn("Skipping malformed artifact glob")
			continue
		}
		for _, m := range matches {
			if rel, err := filepath.Rel(workspace, m); err == nil {
				out = append(out, rel)
			}
		}
	}
	sort.Strings(out)
	return out
}

// logSink mirrors the agent's streams into the run log at debug level.
type logSink struct {
	log *clog.Logger
}

func (s logSink) Line(ev supervisor.Event) {
	s.log.With("type", ev.Type).Debug(ev.Raw)
}

func (s logSink) Stderr(line string) {
	s.log.Debug("agent stderr: " + line)
}

// fanoutSink delivers every line to each sink in order.
type fanoutSink []supervisor.Sink

func (f fanoutSink) Line(ev supervisor.Event) {
	for _, s := range f {
		s.Line(ev)
	}
}

func (f fanoutSink) Stderr(line string) {
	for _, s := range f {
		s.Stderr(line)
	}
}
