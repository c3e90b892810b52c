package token

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// refreshFunc exchanges a stored refresh token for a new record. It is
// the only part of the lifecycle that differs between providers.
type refreshFunc func(ctx context.Context, rec *Record) (*Record, error)

// lifecycle implements the shared acquire/refresh/reauthenticate state
// machine. Both provider variants embed it with their own refresh call.
type lifecycle struct {
	kind    domain.ProviderKind
	store   Store
	auth    Authenticator
	refresh refreshFunc
	now     func() time.Time
}

func newLifecycle(kind domain.ProviderKind, store Store, auth Authenticator, refresh refreshFunc) lifecycle {
	return lifecycle{kind: kind, store: store, auth: auth, refresh: refresh, now: time.Now}
}

func (l *lifecycle) Kind() domain.ProviderKind { return l.kind }

// GetAccessToken returns a usable access token for the address.
//
// No stored token: interactive authentication. Stored token expiring
// outside the lead window: returned as-is. Inside the window: silent
// refresh; invalid_grant purges the record before falling back to
// interactive, and every other refresh failure also falls back rather
// than handing out a token about to go stale.
func (l *lifecycle) GetAccessToken(ctx context.Context, address string) (string, error) {
	rec, err := l.store.GetToken(ctx, l.kind, address)
	if err != nil {
		return "", fmt.Errorf("loading stored token: %w", err)
	}

	if rec == nil {
		return l.interactive(ctx, address)
	}

	if rec.Expiry.After(l.now().Add(refreshLeadWindow)) {
		return rec.AccessToken, nil
	}

	refreshed, err := l.refresh(ctx, rec)
	if err == nil {
		refreshed.Provider = l.kind
		refreshed.Address = address
		refreshed.StoredAt = l.now()
		if refreshed.RefreshToken == "" {
			refreshed.RefreshToken = rec.RefreshToken
		}
		if err := l.store.StoreToken(ctx, *refreshed); err != nil {
			return "", fmt.Errorf("persisting refreshed token: %w", err)
		}
		return refreshed.AccessToken, nil
	}

	log := logrus.WithFields(logrus.Fields{"provider": l.kind, "address": address})
	if isInvalidGrant(err) {
		log.WithError(err).Info("Refresh token permanently invalid, purging stored record")
		if rmErr := l.store.RemoveToken(ctx, l.kind, address); rmErr != nil {
			log.WithError(rmErr).Warn("Failed to remove invalid token record")
		}
	} else {
		log.WithError(err).Warn("Silent refresh failed, falling back to interactive authentication")
	}

	return l.interactive(ctx, address)
}

func (l *lifecycle) interactive(ctx context.Context, address string) (string, error) {
	if l.auth == nil {
		return "", &domain.AuthError{
			Provider: l.kind,
			Address:  address,
			Reason:   "interactive sign-in required but no authenticator is configured",
		}
	}

	rec, err := l.auth.Authenticate(ctx, l.kind, address)
	if err != nil {
		return "", &domain.AuthError{Provider: l.kind, Address: address, Reason: err.Error()}
	}

	rec.Provider = l.kind
	rec.Address = address
	rec.StoredAt = l.now()
	if err := l.store.StoreToken(ctx, *rec); err != nil {
		return "", fmt.Errorf("persisting token after interactive auth: %w", err)
	}
	return rec.AccessToken, nil
}
