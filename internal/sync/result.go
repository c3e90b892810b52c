package sync

import (
	"time"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// FolderOutcome is the immutable result of synchronizing one folder.
type FolderOutcome struct {
	Folder domain.FolderKind `json:"folder"`
	// Found counts candidates matching the watermark search, including
	// ones skipped as already persisted.
	Found int `json:"found"`
	// New counts messages persisted in this run.
	New int `json:"new"`
	// Skipped counts candidates deduplicated by message-id.
	Skipped int `json:"skipped"`
	// Failed counts candidates that exhausted fetch retries or failed
	// conversion; they never fail the folder.
	Failed            int `json:"failed"`
	AttachmentsStored int `json:"attachments_stored"`
	// NewBlobs counts attachment payloads written for the first time,
	// as opposed to deduplicated blob hits.
	NewBlobs int `json:"new_blobs"`
	// HighWatermark is the max received timestamp across persisted
	// messages, never below the input watermark.
	HighWatermark time.Time `json:"high_watermark"`
	Errors        []string  `json:"errors,omitempty"`
}

// AccountSyncResult is the per-account aggregate returned from every
// SyncAccount invocation. Failures are carried in Success/ErrorMessage
// rather than escaping as errors (callers must be able to tell "zero
// new mail" from "sync failed").
type AccountSyncResult struct {
	AccountID          string            `json:"account_id"`
	AccountEmail       string            `json:"account_email"`
	Success            bool              `json:"success"`
	Status             domain.SyncStatus `json:"status"`
	TotalEmailsChecked int               `json:"total_emails_checked"`
	NewEmailsCount     int               `json:"new_emails_count"`
	AttachmentsStored  int               `json:"attachments_stored"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	SyncedAt           time.Time         `json:"synced_at"`
	Folders            []FolderOutcome   `json:"folders,omitempty"`
}

// HistoricalSyncResult aggregates a full multi-account run.
type HistoricalSyncResult struct {
	Status           domain.SyncStatus `json:"status"`
	TotalEmailsFound int               `json:"total_emails_found"`
	EmailsSynced     int               `json:"emails_synced"`
	Errors           []string          `json:"errors,omitempty"`
}

// Settings tune a historical sync run.
type Settings struct {
	// HistoryMonths bounds the look-back window; zero or negative
	// means "everything", implemented as ten years.
	HistoryMonths int `json:"history_months"`
}

// Progress is one per-account snapshot reported to an optional sink.
type Progress struct {
	AccountEmail string `json:"account_email"`
	TotalFound   int    `json:"total_found"`
	Processed    int    `json:"processed"`
	Message      string `json:"message"`
}

// ProgressSink receives progress snapshots; may be nil.
type ProgressSink func(Progress)
