/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package harness

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"chainguard.dev/agentharness/githubclient"
	"chainguard.dev/agentharness/gitservice"
	"chainguard.dev/agentharness/mcplogs"
	"chainguard.dev/agentharness/supervisor"
)

// Report describes one run: the agent's terminal state and stream
// accounting, the git actions applied to the workspace, and the external
// test synchronization. Fields stay zero for steps that did not happen.
type Report struct {
	// RunID ties the report to the run's log lines and trace.
	RunID string `json:"runId"`

	// Outcome is the supervised process's terminal state, nil when the
	// run failed before the agent was spawned.
	Outcome *supervisor.Outcome `json:"outcome,omitempty"`

	// Model is the model the agent reported in its init event.
	Model string `json:"model,omitempty"`

	// InputTokens and OutputTokens are harvested from the result event.
	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`

	// EventCounts tallies stream events by type.
	EventCounts map[string]int `json:"eventCounts,omitempty"`

	// StderrTail is the tail of the agent's stderr, for diagnostics.
	StderrTail []string `json:"stderrTail,omitempty"`

	// CommitSHA is the workspace commit produced by the commit action.
	CommitSHA string `json:"commitSha,omitempty"`

	// Push is the push action's result, including conflict recovery.
	Push *gitservice.PushResult `json:"push,omitempty"`

	// SubmoduleSHA is the commit pushed to the external test repository.
	SubmoduleSHA string `json:"submoduleSha,omitempty"`

	// PullRequest carries the test changes, freshly created or resumed.
	PullRequest *githubclient.PullRequest `json:"pullRequest,omitempty"`

	// MCPLogs maps MCP server names to the logs collected for them.
	MCPLogs map[string]*mcplogs.Logs `json:"mcpLogs,omitempty"`

	// Artifacts are workspace files matched by the upload globs.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Render writes the report as a markdown table. Rows for steps that did
// not happen are omitted.
func (r *Report) Render(w io.Writer) error {
	table := newReportTable([]string{"Field", "Value"}, w)

	rows := [][]string{
		{"Run", r.RunID},
		{"Outcome", r.outcome()},
	}
	if r.Outcome != nil {
		rows = append(rows, []string{"Duration", r.Outcome.Duration.Round(time.Millisecond).String()})
	}
	if r.Model != "" {
		rows = append(rows, []string{"Model", r.Model})
	}
	if r.InputTokens > 0 || r.OutputTokens > 0 {
		rows = append(rows, []string{"Tokens", fmt.Sprintf("%d in / %d out", r.InputTokens, r.OutputTokens)})
	}
	if len(r.EventCounts) > 0 {
		rows = append(rows, []string{"Events", formatCounts(r.EventCounts)})
	}
	if r.CommitSHA != "" {
		rows = append(rows, []string{"Commit", shortSHA(r.CommitSHA)})
	}
	if r.Push != nil {
		rows = append(rows, []string{"Push", formatPush(r.Push)})
	}
	if r.SubmoduleSHA != "" {
		rows = append(rows, []string{"Test repo", shortSHA(r.SubmoduleSHA)})
	}
	if r.PullRequest != nil {
		rows = append(rows, []string{"Pull request", r.PullRequest.URL})
	}
	for _, server := range sortedKeys(r.MCPLogs) {
		rows = append(rows, []string{"MCP " + server, formatMCP(r.MCPLogs[server])})
	}
	if len(r.Artifacts) > 0 {
		rows = append(rows, []string{"Artifacts", formatArtifacts(r.Artifacts)})
	}

	for _, row := range rows {
		_ = table.Append(row)
	}
	return table.Render()
}

// outcome summarizes the terminal state as a short phrase.
func (r *Report) outcome() string {
	switch {
	case r.Outcome == nil:
		return "not started"
	case r.Outcome.TimedOut:
		return fmt.Sprintf("timeout (exit %d)", r.Outcome.ExitCode)
	case r.Outcome.ResultEvent == nil:
		return fmt.Sprintf("no result (exit %d)", r.Outcome.ExitCode)
	case r.Outcome.ExitCode != 0:
		return fmt.Sprintf("exit %d", r.Outcome.ExitCode)
	default:
		return "success"
	}
}

// newReportTable creates a table writer with the formatting shared by
// harness reports.
func newReportTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		MaxWidth: 80,
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, k := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func formatPush(p *gitservice.PushResult) string {
	if p.Recovery == nil {
		return shortSHA(p.SHA)
	}
	s := fmt.Sprintf("%s (recovered via %s)", shortSHA(p.SHA), p.Recovery.Method)
	if n := len(p.Recovery.ConflictFiles); n > 0 {
		s += fmt.Sprintf(", %d conflicting file(s)", n)
	}
	return s
}

func formatMCP(logs *mcplogs.Logs) string {
	if logs.Raw != "" {
		return "unparsed log, see " + logs.Path
	}
	if errs := len(logs.Errors()); errs > 0 {
		return fmt.Sprintf("%d entries, %d errors", len(logs.Entries), errs)
	}
	return fmt.Sprintf("%d entries", len(logs.Entries))
}

func formatArtifacts(artifacts []string) string {
	const max = 5
	if len(artifacts) <= max {
		return strings.Join(artifacts, ", ")
	}
	return fmt.Sprintf("%s, and %d more", strings.Join(artifacts[:max], ", "), len(artifacts)-max)
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
