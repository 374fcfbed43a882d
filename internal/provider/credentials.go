package provider

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// TokenProvider hands out per-user OAuth token sources. Adapters depend
// on this interface rather than on where credentials live.
type TokenProvider interface {
	// TokenSource returns an auto-refreshing token source for the user's
	// account at the given source.
	TokenSource(ctx context.Context, userID, source string) (oauth2.TokenSource, error)
}

// credentialsFile is the on-disk layout of the credentials YAML:
//
//	sources:
//	  ticktick:
//	    client_id: ...
//	    client_secret: ...
//	    auth_url: https://ticktick.com/oauth/authorize
//	    token_url: https://ticktick.com/oauth/token
//	users:
//	  user-1:
//	    ticktick:
//	      access_token: ...
//	      refresh_token: ...
//	      expiry: 2026-01-02T15:04:05Z
type credentialsFile struct {
	Sources map[string]struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		AuthURL      string `yaml:"auth_url"`
		TokenURL     string `yaml:"token_url"`
	} `yaml:"sources"`
	Users map[string]map[string]struct {
		AccessToken  string    `yaml:"access_token"`
		RefreshToken string    `yaml:"refresh_token"`
		Expiry       time.Time `yaml:"expiry"`
	} `yaml:"users"`
}

// FileTokenProvider reads user tokens from a YAML credentials file and
// wraps them in auto-refreshing oauth2 token sources.
type FileTokenProvider struct {
	mu    sync.Mutex
	path  string
	creds *credentialsFile
}

// NewFileTokenProvider creates a provider backed by the given file. The
// file is read lazily on first use.
func NewFileTokenProvider(path string) *FileTokenProvider {
	return &FileTokenProvider{path: path}
}

// TokenSource implements TokenProvider.
func (p *FileTokenProvider) TokenSource(ctx context.Context, userID, source string) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.creds == nil {
		data, err := os.ReadFile(p.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		var creds credentialsFile
		if err := yaml.Unmarshal(data, &creds); err != nil {
			return nil, fmt.Errorf("invalid credentials file: %w", err)
		}
		p.creds = &creds
	}

	sourceCfg, ok := p.creds.Sources[source]
	if !ok {
		return nil, fmt.Errorf("no oauth config for source %q", source)
	}

	userTokens, ok := p.creds.Users[userID]
	if !ok {
		return nil, fmt.Errorf("no credentials for user %q", userID)
	}
	token, ok := userTokens[source]
	if !ok {
		return nil, fmt.Errorf("user %q has no credentials for source %q", userID, source)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     sourceCfg.ClientID,
		ClientSecret: sourceCfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  sourceCfg.AuthURL,
			TokenURL: sourceCfg.TokenURL,
		},
	}

	return oauthConfig.TokenSource(ctx, &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}), nil
}

// StaticTokenProvider returns the same token for every user. Used in
// tests and single-user deployments where tokens are supplied directly.
type StaticTokenProvider struct {
	Token string
}

// TokenSource implements TokenProvider.
func (p *StaticTokenProvider) TokenSource(_ context.Context, _, _ string) (oauth2.TokenSource, error) {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: p.Token}), nil
}
