/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"
)

// TokenSourceForRepo resolves an OAuth2 token source for a given owner/repo pair.
type TokenSourceForRepo func(ctx context.Context, owner, repo string) (oauth2.TokenSource, error)

// StaticTokenSource returns a token source for a fixed personal access
// token or CI-provided token.
func StaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// InstallationTokenSource mints short-lived installation tokens for a
// GitHub App. Each Token call returns an installation token suitable
// for API calls and for embedding in x-access-token clone URLs; the
// underlying transport caches and refreshes it before expiry.
func InstallationTokenSource(ctx context.Context, appID, installationID int64, privateKeyPath string) (oauth2.TokenSource, error) {
	itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, appID, installationID, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	return &installationTokenSource{ctx: ctx, tr: itr}, nil
}

type installationTokenSource struct {
	ctx context.Context
	tr  *ghinstallation.Transport
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.tr.Token(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("minting installation token: %w", err)
	}
	return &oauth2.Token{AccessToken: tok}, nil
}
