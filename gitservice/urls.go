/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitservice

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateRemoteURL checks the shape of a remote URL. It runs before any
// network I/O so that malformed URLs fail fast with ErrInvalidURL instead of
// surfacing as an opaque transport error.
func ValidateRemoteURL(raw string) error {
	switch {
	case strings.HasPrefix(raw, "git@"),
		strings.HasPrefix(raw, "ssh://"),
		strings.HasPrefix(raw, "http://"),
		strings.HasPrefix(raw, "https://"):
		return nil
	}
	return fmt.Errorf("%w: %q must start with git@, ssh://, http:// or https://", ErrInvalidURL, raw)
}

// ParseGitHubURL extracts the owner and repository from a github.com remote
// URL in either HTTPS or scp-like SSH form. Remotes on other hosts are
// rejected with ErrInvalidURL.
func ParseGitHubURL(raw string) (owner, repo string, err error) {
	var host, path string
	switch {
	case strings.HasPrefix(raw, "git@"):
		host, path, _ = strings.Cut(strings.TrimPrefix(raw, "git@"), ":")
	case strings.HasPrefix(raw, "ssh://"),
		strings.HasPrefix(raw, "http://"),
		strings.HasPrefix(raw, "https://"):
		u, perr := url.Parse(raw)
		if perr != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, perr)
		}
		host = u.Hostname()
		path = strings.TrimPrefix(u.Path, "/")
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if host != "github.com" {
		return "", "", fmt.Errorf("%w: host %q is not github.com", ErrInvalidURL, host)
	}
	parts := strings.Split(strings.TrimSuffix(path, ".git"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: expected owner/repo path in %q", ErrInvalidURL, raw)
	}
	return parts[0], parts[1], nil
}

// BuildTokenURL rewrites a github.com display URL into its
// token-authenticated HTTPS form. The result embeds the credential and must
// never be logged; log the display URL instead.
func BuildTokenURL(displayURL, token string) (string, error) {
	owner, repo, err := ParseGitHubURL(displayURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, owner, repo), nil
}

// redactURL strips embedded credentials from URL-shaped strings so that
// token URLs appearing in command arguments never leak into errors or logs.
func redactURL(raw string) string {
	if !strings.Contains(raw, "://") || !strings.Contains(raw, "@") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

func redactArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = redactURL(a)
	}
	return strings.Join(parts, " ")
}
