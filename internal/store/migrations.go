package store

import "fmt"

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				email_address TEXT NOT NULL,
				provider TEXT NOT NULL,
				host TEXT NOT NULL DEFAULT '',
				port INTEGER NOT NULL DEFAULT 0,
				use_ssl INTEGER NOT NULL DEFAULT 1,
				password TEXT NOT NULL DEFAULT '',
				active INTEGER NOT NULL DEFAULT 1,
				include_sent INTEGER NOT NULL DEFAULT 0,
				include_drafts INTEGER NOT NULL DEFAULT 0,
				include_archive INTEGER NOT NULL DEFAULT 0,
				sync_attachments INTEGER NOT NULL DEFAULT 1,
				max_attachment_size_mb INTEGER NOT NULL DEFAULT 25,
				sync_status TEXT NOT NULL DEFAULT 'NOT_STARTED',
				last_synced_at TIMESTAMP,
				last_sync_attempt_at TIMESTAMP,
				last_sync_error TEXT NOT NULL DEFAULT '',
				consecutive_failures INTEGER NOT NULL DEFAULT 0,
				total_emails_synced INTEGER NOT NULL DEFAULT 0,
				total_attachments_synced INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				UNIQUE(user_id, email_address)
			)`,
			`CREATE TABLE IF NOT EXISTS emails (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id),
				provider TEXT NOT NULL,
				message_id TEXT NOT NULL,
				thread_id TEXT NOT NULL DEFAULT '',
				folder TEXT NOT NULL,
				subject TEXT NOT NULL DEFAULT '',
				sender TEXT NOT NULL DEFAULT '',
				to_addrs TEXT NOT NULL DEFAULT '[]',
				cc_addrs TEXT NOT NULL DEFAULT '[]',
				body_text TEXT NOT NULL DEFAULT '',
				snippet TEXT NOT NULL DEFAULT '',
				is_read INTEGER NOT NULL DEFAULT 0,
				is_flagged INTEGER NOT NULL DEFAULT 0,
				received_at TIMESTAMP NOT NULL,
				sent_at TIMESTAMP,
				priority TEXT NOT NULL DEFAULT 'NORMAL',
				urgent INTEGER NOT NULL DEFAULT 0,
				category TEXT NOT NULL DEFAULT 'uncategorized',
				sentiment TEXT NOT NULL DEFAULT 'neutral',
				requires_response INTEGER NOT NULL DEFAULT 0,
				synced_at TIMESTAMP NOT NULL,
				UNIQUE(account_id, message_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_emails_account_received
				ON emails(account_id, received_at)`,
			`CREATE TABLE IF NOT EXISTS email_attachments (
				id TEXT PRIMARY KEY,
				email_id TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
				filename TEXT NOT NULL DEFAULT '',
				content_type TEXT NOT NULL DEFAULT '',
				size_bytes INTEGER NOT NULL DEFAULT 0,
				storage_path TEXT NOT NULL,
				digest TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS oauth_tokens (
				provider TEXT NOT NULL,
				address TEXT NOT NULL,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				expiry TIMESTAMP NOT NULL,
				scopes TEXT NOT NULL DEFAULT '[]',
				stored_at TIMESTAMP NOT NULL,
				PRIMARY KEY (provider, address)
			)`,
			`CREATE TABLE IF NOT EXISTS token_cache (
				name TEXT PRIMARY KEY,
				payload BLOB NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS outbox (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts INTEGER NOT NULL,
				subject TEXT NOT NULL,
				event_type TEXT NOT NULL,
				payload BLOB NOT NULL,
				msg_id TEXT NOT NULL,
				retries INTEGER NOT NULL DEFAULT 0,
				next_attempt_at INTEGER NOT NULL,
				published_at INTEGER
			)`,
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			)`,
		},
	},
}

// migrate applies outstanding migrations in order.
func (s *Store) migrate() error {
	var current int
	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("applying migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}
