// Package httpauth verifies bearer tokens on the HTTP surface against
// a remote JWKS endpoint, with the key set cached and refreshed in the
// background so verification never blocks on the network.
package httpauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Verifier validates JWTs against a cached JWKS.
type Verifier struct {
	jwksURL    string
	cache      *jwk.Cache
	refreshTTL time.Duration

	mu     sync.RWMutex
	keySet jwk.Set
}

// NewVerifier registers the JWKS URL, warms the cache, and starts a
// background refresh loop.
func NewVerifier(ctx context.Context, jwksURL string) (*Verifier, error) {
	v := &Verifier{
		jwksURL:    jwksURL,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("registering JWKS URL: %w", err)
	}
	v.cache = cache

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	keySet, err := v.fetch(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("initial JWKS fetch: %w", err)
	}
	v.keySet = keySet

	go v.refreshLoop(ctx)
	return v, nil
}

func (v *Verifier) fetch(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *Verifier) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		keySet, err := v.fetch(fetchCtx)
		cancel()
		if err != nil {
			continue
		}

		v.mu.Lock()
		v.keySet = keySet
		v.mu.Unlock()
	}
}

func (v *Verifier) currentKeySet() jwk.Set {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keySet
}

// IdentityFromRequest parses and validates the bearer token on the
// request, using only the cached key set.
func (v *Verifier) IdentityFromRequest(r *http.Request) (*Identity, error) {
	token, err := jwt.ParseRequest(
		r,
		jwt.WithKeySet(v.currentKeySet()),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing bearer token: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	var email string
	if claim, ok := token.Get("email"); ok {
		email, _ = claim.(string)
	}

	return &Identity{UserID: userID, Email: email}, nil
}
