// Package auth turns the auth section of the configuration into an
// [oauth2.TokenSource] that supplies the bearer credential for each session.
package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/MrWong99/voxgate/internal/config"
)

// ErrNoCredentials is returned by [NewTokenSource] when cfg configures
// neither a static token nor an OAuth client.
var ErrNoCredentials = errors.New("auth: no credentials configured")

// NewTokenSource returns a token source for cfg. An OAuth client configuration
// uses the client-credentials flow; tokens are cached and refreshed shortly
// before they expire. Otherwise the static token is returned as-is.
//
// ctx is used for token endpoint requests and must outlive the source. An
// *http.Client stored under [oauth2.HTTPClient] is honoured.
func NewTokenSource(ctx context.Context, cfg config.AuthConfig) (oauth2.TokenSource, error) {
	if o := cfg.OAuth; o != nil {
		cc := &clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
		}
		return cc.TokenSource(ctx), nil
	}
	if cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}), nil
	}
	return nil, ErrNoCredentials
}
