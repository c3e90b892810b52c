package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

type memStore struct {
	tokens map[string]Record
	cache  map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]Record), cache: make(map[string][]byte)}
}

func key(provider domain.ProviderKind, address string) string {
	return string(provider) + "|" + address
}

func (m *memStore) GetToken(_ context.Context, provider domain.ProviderKind, address string) (*Record, error) {
	rec, ok := m.tokens[key(provider, address)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) GetAllTokens(_ context.Context, provider domain.ProviderKind) ([]Record, error) {
	var out []Record
	for _, rec := range m.tokens {
		if rec.Provider == provider {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) StoreToken(_ context.Context, rec Record) error {
	m.tokens[key(rec.Provider, rec.Address)] = rec
	return nil
}

func (m *memStore) RemoveToken(_ context.Context, provider domain.ProviderKind, address string) error {
	delete(m.tokens, key(provider, address))
	return nil
}

func (m *memStore) GetCache(_ context.Context, name string) ([]byte, error) {
	return m.cache[name], nil
}

func (m *memStore) PutCache(_ context.Context, name string, payload []byte) error {
	m.cache[name] = payload
	return nil
}

type fakeAuth struct {
	rec   *Record
	err   error
	calls int
}

func (f *fakeAuth) Authenticate(context.Context, domain.ProviderKind, string) (*Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rec := *f.rec
	return &rec, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLifecycle(store Store, auth Authenticator, refresh refreshFunc) *lifecycle {
	lc := newLifecycle(domain.ProviderGoogle, store, auth, refresh)
	lc.now = func() time.Time { return testNow }
	return &lc
}

func TestGetAccessTokenFreshTokenReturnedAsIs(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.StoreToken(context.Background(), Record{
		Provider:    domain.ProviderGoogle,
		Address:     "a@example.com",
		AccessToken: "fresh",
		Expiry:      testNow.Add(10 * time.Minute),
	}))

	refreshCalled := false
	lc := testLifecycle(store, nil, func(context.Context, *Record) (*Record, error) {
		refreshCalled = true
		return nil, errors.New("should not be called")
	})

	access, err := lc.GetAccessToken(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "fresh", access)
	require.False(t, refreshCalled)
}

func TestGetAccessTokenRefreshesInsideLeadWindow(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.StoreToken(context.Background(), Record{
		Provider:     domain.ProviderGoogle,
		Address:      "a@example.com",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       testNow.Add(4 * time.Minute),
	}))

	lc := testLifecycle(store, nil, func(_ context.Context, rec *Record) (*Record, error) {
		require.Equal(t, "refresh-1", rec.RefreshToken)
		return &Record{
			AccessToken: "renewed",
			Expiry:      testNow.Add(time.Hour),
		}, nil
	})

	access, err := lc.GetAccessToken(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "renewed", access)

	stored, err := store.GetToken(context.Background(), domain.ProviderGoogle, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "renewed", stored.AccessToken)
	// The provider returned no rotated refresh token; the old one
	// carries over.
	require.Equal(t, "refresh-1", stored.RefreshToken)
	require.True(t, stored.StoredAt.Equal(testNow))
}

func TestGetAccessTokenInvalidGrantPurgesRecord(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.StoreToken(context.Background(), Record{
		Provider:     domain.ProviderGoogle,
		Address:      "a@example.com",
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       testNow.Add(-time.Minute),
	}))

	lc := testLifecycle(store, nil, func(context.Context, *Record) (*Record, error) {
		return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
	})

	_, err := lc.GetAccessToken(context.Background(), "a@example.com")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "a@example.com", authErr.Address)

	stored, getErr := store.GetToken(context.Background(), domain.ProviderGoogle, "a@example.com")
	require.NoError(t, getErr)
	require.Nil(t, stored)
}

func TestGetAccessTokenRefreshFailureFallsBackToInteractive(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.StoreToken(context.Background(), Record{
		Provider:     domain.ProviderGoogle,
		Address:      "a@example.com",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       testNow.Add(-time.Minute),
	}))

	auth := &fakeAuth{rec: &Record{AccessToken: "via-login", Expiry: testNow.Add(time.Hour)}}
	lc := testLifecycle(store, auth, func(context.Context, *Record) (*Record, error) {
		return nil, errors.New("token endpoint unreachable")
	})

	access, err := lc.GetAccessToken(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "via-login", access)
	require.Equal(t, 1, auth.calls)

	// Transient refresh failure must not destroy the stored refresh
	// token; only the interactive result replaces it.
	stored, err := store.GetToken(context.Background(), domain.ProviderGoogle, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "via-login", stored.AccessToken)
}

func TestGetAccessTokenNoRecordNoAuthenticator(t *testing.T) {
	lc := testLifecycle(newMemStore(), nil, func(context.Context, *Record) (*Record, error) {
		return nil, errors.New("unused")
	})

	_, err := lc.GetAccessToken(context.Background(), "b@example.com")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Contains(t, authErr.Reason, "no authenticator")
}

func TestRegistryRoutesByKind(t *testing.T) {
	google := NewGoogleProvider("id", "secret", newMemStore(), nil)
	registry := NewRegistry(google)

	p, err := registry.ForKind(domain.ProviderGoogle)
	require.NoError(t, err)
	require.Equal(t, domain.ProviderGoogle, p.Kind())

	_, err = registry.ForKind(domain.ProviderMicrosoft)
	require.Error(t, err)
}

func TestIsInvalidGrant(t *testing.T) {
	require.True(t, isInvalidGrant(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}))
	require.True(t, isInvalidGrant(&oauth2.RetrieveError{Body: []byte(`{"error":"invalid_grant"}`)}))
	require.False(t, isInvalidGrant(&oauth2.RetrieveError{ErrorCode: "server_error"}))
	require.False(t, isInvalidGrant(errors.New("network down")))
}
