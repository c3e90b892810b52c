package domain

import (
	"time"
)

// ProviderKind identifies which backend an account speaks to.
type ProviderKind string

const (
	ProviderIMAP      ProviderKind = "IMAP"
	ProviderGoogle    ProviderKind = "GOOGLE"
	ProviderMicrosoft ProviderKind = "MICROSOFT"
)

// IsOAuth reports whether the provider resolves credentials through the
// token lifecycle rather than a stored password.
func (p ProviderKind) IsOAuth() bool {
	return p == ProviderGoogle || p == ProviderMicrosoft
}

// SyncStatus tracks where an account is in its sync lifecycle.
type SyncStatus string

const (
	SyncNotStarted           SyncStatus = "NOT_STARTED"
	SyncInProgress           SyncStatus = "IN_PROGRESS"
	SyncCompleted            SyncStatus = "COMPLETED"
	SyncFailed               SyncStatus = "FAILED"
	SyncNoAccountsConfigured SyncStatus = "NO_ACCOUNTS_CONFIGURED"
)

// ConnectionSettings hold what the generic IMAP provider needs to dial.
// OAuth providers resolve their endpoints from the provider kind and
// leave these empty.
type ConnectionSettings struct {
	Host   string `db:"host" json:"host"`
	Port   int    `db:"port" json:"port"`
	UseSSL bool   `db:"use_ssl" json:"use_ssl"`
}

// SyncState is the mutable per-account sync bookkeeping. It is mutated
// only through ApplySyncResult after each sync attempt.
type SyncState struct {
	Status                 SyncStatus `db:"sync_status" json:"status"`
	LastSyncedAt           *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastSyncAttemptAt      *time.Time `db:"last_sync_attempt_at" json:"last_sync_attempt_at,omitempty"`
	LastSyncError          string     `db:"last_sync_error" json:"last_sync_error,omitempty"`
	ConsecutiveFailures    int        `db:"consecutive_failures" json:"consecutive_failures"`
	TotalEmailsSynced      int        `db:"total_emails_synced" json:"total_emails_synced"`
	TotalAttachmentsSynced int        `db:"total_attachments_synced" json:"total_attachments_synced"`
}

// Account is one linked mailbox. Created on account linking, never
// deleted by the sync engine; deactivation is a flag flip.
type Account struct {
	ID           string       `db:"id" json:"id"`
	UserID       string       `db:"user_id" json:"user_id"`
	EmailAddress string       `db:"email_address" json:"email_address"`
	Provider     ProviderKind `db:"provider" json:"provider"`

	Connection ConnectionSettings `json:"connection"`
	// Password is the stored IMAP credential; empty for OAuth kinds.
	Password string `db:"password" json:"-"`

	Active bool `db:"active" json:"active"`

	IncludeSent    bool `db:"include_sent" json:"include_sent"`
	IncludeDrafts  bool `db:"include_drafts" json:"include_drafts"`
	IncludeArchive bool `db:"include_archive" json:"include_archive"`

	SyncAttachments     bool  `db:"sync_attachments" json:"sync_attachments"`
	MaxAttachmentSizeMB int64 `db:"max_attachment_size_mb" json:"max_attachment_size_mb"`

	Sync      SyncState `json:"sync"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MaxAttachmentBytes returns the attachment size ceiling in bytes, or 0
// when no ceiling is configured.
func (a *Account) MaxAttachmentBytes() int64 {
	if a.MaxAttachmentSizeMB <= 0 {
		return 0
	}
	return a.MaxAttachmentSizeMB * 1024 * 1024
}

// SyncAttempt carries what ApplySyncResult needs to advance the
// account's sync state after one orchestrator run.
type SyncAttempt struct {
	Success        bool
	AttemptedAt    time.Time
	HighWatermark  time.Time
	EmailsSynced   int
	AttachmentsNew int
	Err            string
}

// ApplySyncResult returns the account with its sync state advanced for
// one attempt. Pure value-in/value-out so the transition is testable
// without a persistence layer.
func ApplySyncResult(acc Account, at SyncAttempt) Account {
	attempted := at.AttemptedAt
	acc.Sync.LastSyncAttemptAt = &attempted

	if !at.Success {
		acc.Sync.Status = SyncFailed
		acc.Sync.LastSyncError = at.Err
		acc.Sync.ConsecutiveFailures++
		return acc
	}

	acc.Sync.Status = SyncCompleted
	acc.Sync.LastSyncError = ""
	acc.Sync.ConsecutiveFailures = 0
	acc.Sync.TotalEmailsSynced += at.EmailsSynced
	acc.Sync.TotalAttachmentsSynced += at.AttachmentsNew

	// The watermark never moves backwards.
	if !at.HighWatermark.IsZero() {
		if acc.Sync.LastSyncedAt == nil || at.HighWatermark.After(*acc.Sync.LastSyncedAt) {
			hw := at.HighWatermark
			acc.Sync.LastSyncedAt = &hw
		}
	}
	return acc
}
