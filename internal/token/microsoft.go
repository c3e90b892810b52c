package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// MicrosoftScopes are requested on interactive auth and silent refresh.
var MicrosoftScopes = []string{
	"https://graph.microsoft.com/Mail.Read",
	"offline_access",
}

// MicrosoftProvider is the directory/graph-API token variant. Besides
// the shared lifecycle it maintains an opaque session cache through the
// token store's generic payload pair, keyed per address.
type MicrosoftProvider struct {
	lifecycle
	cfg   *oauth2.Config
	store Store
}

// NewMicrosoftProvider wires the shared lifecycle to the AzureAD
// common-tenant endpoint.
func NewMicrosoftProvider(clientID, clientSecret string, store Store, auth Authenticator) *MicrosoftProvider {
	p := &MicrosoftProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes:       MicrosoftScopes,
		},
		store: store,
	}
	p.lifecycle = newLifecycle(domain.ProviderMicrosoft, store, auth, p.refreshToken)
	return p
}

// sessionCache is what the provider keeps in the opaque cache slot:
// enough to resume a Graph session without a fresh discovery roundtrip.
type sessionCache struct {
	Address     string    `json:"address"`
	Scopes      []string  `json:"scopes"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

func (p *MicrosoftProvider) refreshToken(ctx context.Context, rec *Record) (*Record, error) {
	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored")
	}

	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("microsoft token refresh: %w", err)
	}

	p.saveSessionCache(ctx, rec.Address)

	return &Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       MicrosoftScopes,
	}, nil
}

func (p *MicrosoftProvider) saveSessionCache(ctx context.Context, address string) {
	payload, err := json.Marshal(sessionCache{
		Address:     address,
		Scopes:      MicrosoftScopes,
		RefreshedAt: time.Now(),
	})
	if err != nil {
		return
	}
	if err := p.store.PutCache(ctx, cacheName(address), payload); err != nil {
		logrus.WithError(err).WithField("address", address).
			Debug("Failed to persist Graph session cache")
	}
}

func cacheName(address string) string {
	return fmt.Sprintf("msgraph-session:%s", address)
}
