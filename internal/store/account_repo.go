package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

type accountRow struct {
	ID                     string     `db:"id"`
	UserID                 string     `db:"user_id"`
	EmailAddress           string     `db:"email_address"`
	Provider               string     `db:"provider"`
	Host                   string     `db:"host"`
	Port                   int        `db:"port"`
	UseSSL                 bool       `db:"use_ssl"`
	Password               string     `db:"password"`
	Active                 bool       `db:"active"`
	IncludeSent            bool       `db:"include_sent"`
	IncludeDrafts          bool       `db:"include_drafts"`
	IncludeArchive         bool       `db:"include_archive"`
	SyncAttachments        bool       `db:"sync_attachments"`
	MaxAttachmentSizeMB    int64      `db:"max_attachment_size_mb"`
	SyncStatus             string     `db:"sync_status"`
	LastSyncedAt           *time.Time `db:"last_synced_at"`
	LastSyncAttemptAt      *time.Time `db:"last_sync_attempt_at"`
	LastSyncError          string     `db:"last_sync_error"`
	ConsecutiveFailures    int        `db:"consecutive_failures"`
	TotalEmailsSynced      int        `db:"total_emails_synced"`
	TotalAttachmentsSynced int        `db:"total_attachments_synced"`
	CreatedAt              time.Time  `db:"created_at"`
}

func (r accountRow) toDomain() domain.Account {
	return domain.Account{
		ID:           r.ID,
		UserID:       r.UserID,
		EmailAddress: r.EmailAddress,
		Provider:     domain.ProviderKind(r.Provider),
		Connection: domain.ConnectionSettings{
			Host:   r.Host,
			Port:   r.Port,
			UseSSL: r.UseSSL,
		},
		Password:            r.Password,
		Active:              r.Active,
		IncludeSent:         r.IncludeSent,
		IncludeDrafts:       r.IncludeDrafts,
		IncludeArchive:      r.IncludeArchive,
		SyncAttachments:     r.SyncAttachments,
		MaxAttachmentSizeMB: r.MaxAttachmentSizeMB,
		Sync: domain.SyncState{
			Status:                 domain.SyncStatus(r.SyncStatus),
			LastSyncedAt:           r.LastSyncedAt,
			LastSyncAttemptAt:      r.LastSyncAttemptAt,
			LastSyncError:          r.LastSyncError,
			ConsecutiveFailures:    r.ConsecutiveFailures,
			TotalEmailsSynced:      r.TotalEmailsSynced,
			TotalAttachmentsSynced: r.TotalAttachmentsSynced,
		},
		CreatedAt: r.CreatedAt,
	}
}

const accountColumns = `id, user_id, email_address, provider, host, port, use_ssl, password,
	active, include_sent, include_drafts, include_archive, sync_attachments,
	max_attachment_size_mb, sync_status, last_synced_at, last_sync_attempt_at,
	last_sync_error, consecutive_failures, total_emails_synced,
	total_attachments_synced, created_at`

// Create inserts a newly linked account. Generates an id if empty.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	if acc.Sync.Status == "" {
		acc.Sync.Status = domain.SyncNotStarted
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.UserID, acc.EmailAddress, acc.Provider,
		acc.Connection.Host, acc.Connection.Port, acc.Connection.UseSSL, acc.Password,
		acc.Active, acc.IncludeSent, acc.IncludeDrafts, acc.IncludeArchive,
		acc.SyncAttachments, acc.MaxAttachmentSizeMB,
		acc.Sync.Status, acc.Sync.LastSyncedAt, acc.Sync.LastSyncAttemptAt,
		acc.Sync.LastSyncError, acc.Sync.ConsecutiveFailures,
		acc.Sync.TotalEmailsSynced, acc.Sync.TotalAttachmentsSynced, acc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetAccountsByUser returns all accounts owned by a user.
func (s *Store) GetAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts for user %s: %w", userID, err)
	}

	accounts := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toDomain())
	}
	return accounts, nil
}

// GetAccountByID returns one account, or (nil, nil) when absent.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	acc := row.toDomain()
	return &acc, nil
}

// UpdateAccount persists mutable account fields, sync state included.
func (s *Store) UpdateAccount(ctx context.Context, acc *domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			email_address = ?, host = ?, port = ?, use_ssl = ?, password = ?,
			active = ?, include_sent = ?, include_drafts = ?, include_archive = ?,
			sync_attachments = ?, max_attachment_size_mb = ?,
			sync_status = ?, last_synced_at = ?, last_sync_attempt_at = ?,
			last_sync_error = ?, consecutive_failures = ?,
			total_emails_synced = ?, total_attachments_synced = ?
		WHERE id = ?`,
		acc.EmailAddress, acc.Connection.Host, acc.Connection.Port,
		acc.Connection.UseSSL, acc.Password,
		acc.Active, acc.IncludeSent, acc.IncludeDrafts, acc.IncludeArchive,
		acc.SyncAttachments, acc.MaxAttachmentSizeMB,
		acc.Sync.Status, acc.Sync.LastSyncedAt, acc.Sync.LastSyncAttemptAt,
		acc.Sync.LastSyncError, acc.Sync.ConsecutiveFailures,
		acc.Sync.TotalEmailsSynced, acc.Sync.TotalAttachmentsSynced,
		acc.ID,
	)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", acc.ID, err)
	}
	return nil
}
