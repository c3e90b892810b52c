// Package token owns the OAuth token lifecycle: stored-token lookup,
// silent refresh inside the expiry lead window, purge of permanently
// invalid refresh tokens, and fallback to interactive authentication.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// refreshLeadWindow is how close to expiry a token may get before the
// next GetAccessToken call refreshes it.
const refreshLeadWindow = 5 * time.Minute

// Record is one persisted OAuth token. Replaced wholesale on every
// refresh, removed when the provider reports the refresh token dead.
type Record struct {
	Provider     domain.ProviderKind `db:"provider" json:"provider"`
	Address      string              `db:"address" json:"address"`
	AccessToken  string              `db:"access_token" json:"access_token"`
	RefreshToken string              `db:"refresh_token" json:"refresh_token,omitempty"`
	Expiry       time.Time           `db:"expiry" json:"expiry"`
	Scopes       []string            `json:"scopes,omitempty"`
	StoredAt     time.Time           `db:"stored_at" json:"stored_at"`
}

// Store is the external token persistence contract. GetToken returns
// (nil, nil) when no record exists. The cache pair stores opaque
// payloads keyed by name; the Microsoft provider uses it for its own
// session cache.
type Store interface {
	GetToken(ctx context.Context, provider domain.ProviderKind, address string) (*Record, error)
	GetAllTokens(ctx context.Context, provider domain.ProviderKind) ([]Record, error)
	StoreToken(ctx context.Context, rec Record) error
	RemoveToken(ctx context.Context, provider domain.ProviderKind, address string) error

	GetCache(ctx context.Context, name string) ([]byte, error)
	PutCache(ctx context.Context, name string, payload []byte) error
}

// Authenticator runs a user-facing login flow. Wired by the caller;
// when absent, providers fail with a typed AuthError instead.
type Authenticator interface {
	Authenticate(ctx context.Context, provider domain.ProviderKind, address string) (*Record, error)
}

// Provider resolves access tokens for one provider kind.
type Provider interface {
	Kind() domain.ProviderKind
	GetAccessToken(ctx context.Context, address string) (string, error)
}

// Registry routes token calls by provider kind, so each variant only
// ever sees accounts it can serve.
type Registry struct {
	providers map[domain.ProviderKind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[domain.ProviderKind]Provider, len(providers))
	for _, p := range providers {
		m[p.Kind()] = p
	}
	return &Registry{providers: m}
}

// ForKind returns the provider variant for kind.
func (r *Registry) ForKind(kind domain.ProviderKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no token provider registered for %s", kind)
	}
	return p, nil
}

// isInvalidGrant detects the provider reporting a refresh token as
// permanently dead, as opposed to a transient refresh failure.
func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(re.Body), "invalid_grant")
	}
	return false
}
