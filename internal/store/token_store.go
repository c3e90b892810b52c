package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/token"
)

type tokenRow struct {
	Provider     string    `db:"provider"`
	Address      string    `db:"address"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	Expiry       time.Time `db:"expiry"`
	Scopes       string    `db:"scopes"`
	StoredAt     time.Time `db:"stored_at"`
}

func (r tokenRow) toRecord() token.Record {
	var scopes []string
	_ = json.Unmarshal([]byte(r.Scopes), &scopes)
	return token.Record{
		Provider:     domain.ProviderKind(r.Provider),
		Address:      r.Address,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Expiry:       r.Expiry,
		Scopes:       scopes,
		StoredAt:     r.StoredAt,
	}
}

// GetToken returns the stored record for (provider, address), or
// (nil, nil) when none exists.
func (s *Store) GetToken(ctx context.Context, provider domain.ProviderKind, address string) (*token.Record, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row,
		`SELECT provider, address, access_token, refresh_token, expiry, scopes, stored_at
		 FROM oauth_tokens WHERE provider = ? AND address = ?`,
		provider, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	rec := row.toRecord()
	return &rec, nil
}

// GetAllTokens lists every stored record for a provider.
func (s *Store) GetAllTokens(ctx context.Context, provider domain.ProviderKind) ([]token.Record, error) {
	var rows []tokenRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT provider, address, access_token, refresh_token, expiry, scopes, stored_at
		 FROM oauth_tokens WHERE provider = ? ORDER BY address`,
		provider)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	records := make([]token.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toRecord())
	}
	return records, nil
}

// StoreToken upserts a record, replacing any previous one for the same
// (provider, address).
func (s *Store) StoreToken(ctx context.Context, rec token.Record) error {
	scopes, _ := json.Marshal(rec.Scopes)
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (provider, address, access_token, refresh_token, expiry, scopes, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, address) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			scopes = excluded.scopes,
			stored_at = excluded.stored_at`,
		rec.Provider, rec.Address, rec.AccessToken, rec.RefreshToken,
		rec.Expiry, string(scopes), rec.StoredAt,
	)
	if err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	return nil
}

// RemoveToken deletes a stored record; absent rows are a no-op.
func (s *Store) RemoveToken(ctx context.Context, provider domain.ProviderKind, address string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE provider = ? AND address = ?`,
		provider, address)
	if err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}

// GetCache returns an opaque payload by name, or (nil, nil) when
// absent.
func (s *Store) GetCache(ctx context.Context, name string) ([]byte, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM token_cache WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cache %s: %w", name, err)
	}
	return payload, nil
}

// PutCache upserts an opaque payload by name.
func (s *Store) PutCache(ctx context.Context, name string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_cache (name, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		name, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("putting cache %s: %w", name, err)
	}
	return nil
}
