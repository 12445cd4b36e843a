/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// PullRequestRequest describes the PR to create.
type PullRequestRequest struct {
	Title string
	Body  string
	Head  string // branch carrying the changes
	Base  string // branch to merge into
	Draft bool
}

// PullRequest identifies a created or discovered pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// APIError reports a non-2xx API response, preserving the status code
// and the response body text.
type APIError struct {
	StatusCode int
	Body       string
	err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// Client wraps the GitHub REST and GraphQL endpoints behind one
// authenticated HTTP client.
type Client struct {
	http *http.Client
	rest *github.Client
	gql  *githubv4.Client
}

// Option is a functional option for configuring the client
type Option func(*Client) error

// WithBaseURL points the client at a different API endpoint, for GitHub
// Enterprise or tests. The REST base gets a trailing slash; the GraphQL
// endpoint is derived as <base>/graphql.
func WithBaseURL(base string) Option {
	return func(c *Client) error {
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parsing base URL: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		c.rest.BaseURL = u
		c.gql = githubv4.NewEnterpriseClient(strings.TrimSuffix(base, "/")+"/graphql", c.http)
		return nil
	}
}

// New creates a client authenticated by the given token source.
func New(ctx context.Context, ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	if ts == nil {
		return nil, errors.New("token source cannot be nil")
	}

	httpClient := oauth2.NewClient(ctx, ts)
	c := &Client{
		http: httpClient,
		rest: github.NewClient(httpClient),
		gql:  githubv4.NewClient(httpClient),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return c, nil
}

// CreatePullRequest opens a pull request for the given head/base pair.
// A non-2xx response surfaces as an *APIError carrying the status code
// and body.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, req PullRequestRequest) (*PullRequest, error) {
	log := clog.FromContext(ctx)
	log.Infof("Creating PR with head %s and base %s", req.Head, req.Base)

	pr, resp, err := c.rest.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(req.Title),
		Body:  github.Ptr(req.Body),
		Head:  github.Ptr(req.Head),
		Base:  github.Ptr(req.Base),
		Draft: github.Ptr(req.Draft),
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", apiError(resp, err))
	}

	log.Infof("Created PR #%d: %s", pr.GetNumber(), pr.GetHTMLURL())
	return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// FindOpenPullRequest returns the open PR for the head/base pair, or
// (nil, nil) when none exists. A run that restarts on an existing agent
// branch uses this to reuse the PR instead of opening a duplicate.
func (c *Client) FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (*PullRequest, error) {
	var query struct {
		Repository struct {
			PullRequests struct {
				Nodes []struct {
					Number int
					Url    string
				}
			} `graphql:"pullRequests(headRefName: $headRef, baseRefName: $baseRef, states: [OPEN], first: 1)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}

	variables := map[string]any{
		"owner":   githubv4.String(owner),
		"repo":    githubv4.String(repo),
		"headRef": githubv4.String(head),
		"baseRef": githubv4.String(base),
	}

	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("querying pull requests: %w", err)
	}

	if len(query.Repository.PullRequests.Nodes) == 0 {
		return nil, nil
	}

	node := query.Repository.PullRequests.Nodes[0]
	return &PullRequest{Number: node.Number, URL: node.Url}, nil
}

// apiError converts go-github's error for a non-2xx response into an
// *APIError. Transport-level failures pass through unchanged.
func apiError(resp *github.Response, err error) error {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return err
	}

	body := ghErr.Message
	for _, e := range ghErr.Errors {
		detail := e.Message
		if detail == "" {
			detail = e.Code
		}
		if detail != "" {
			body += "; " + detail
		}
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	} else if ghErr.Response != nil {
		status = ghErr.Response.StatusCode
	}

	return &APIError{StatusCode: status, Body: body, err: err}
}
