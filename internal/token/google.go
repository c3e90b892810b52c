package token

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// GoogleScopes are requested on interactive auth and silent refresh.
var GoogleScopes = []string{"https://www.googleapis.com/auth/gmail.readonly"}

// GoogleProvider is the consumer-mail-API token variant.
type GoogleProvider struct {
	lifecycle
	cfg *oauth2.Config
}

// NewGoogleProvider wires the shared lifecycle to Google's OAuth
// endpoint.
func NewGoogleProvider(clientID, clientSecret string, store Store, auth Authenticator) *GoogleProvider {
	p := &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       GoogleScopes,
		},
	}
	p.lifecycle = newLifecycle(domain.ProviderGoogle, store, auth, p.refreshToken)
	return p
}

func (p *GoogleProvider) refreshToken(ctx context.Context, rec *Record) (*Record, error) {
	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored")
	}

	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("google token refresh: %w", err)
	}

	return &Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       GoogleScopes,
	}, nil
}
