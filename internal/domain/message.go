package domain

import "time"

// FolderKind is a logical mailbox section, independent of how a
// provider names it.
type FolderKind string

const (
	FolderInbox   FolderKind = "INBOX"
	FolderSent    FolderKind = "SENT"
	FolderDrafts  FolderKind = "DRAFTS"
	FolderArchive FolderKind = "ARCHIVE"
)

// Priority levels assigned by analysis.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// AnalysisTags are the AI-derived labels attached to a persisted
// message. NeutralTags applies when analysis is unavailable.
type AnalysisTags struct {
	Priority         Priority `db:"priority" json:"priority"`
	Urgent           bool     `db:"urgent" json:"urgent"`
	Category         string   `db:"category" json:"category"`
	Sentiment        string   `db:"sentiment" json:"sentiment"`
	RequiresResponse bool     `db:"requires_response" json:"requires_response"`
}

// NeutralTags returns the default tags used when analysis fails or is
// disabled.
func NeutralTags() AnalysisTags {
	return AnalysisTags{Priority: PriorityNormal, Category: "uncategorized", Sentiment: "neutral"}
}

// EmailMessage is the durable form of one synced message.
type EmailMessage struct {
	ID           string       `db:"id" json:"id"`
	AccountID    string       `db:"account_id" json:"account_id"`
	Provider     ProviderKind `db:"provider" json:"provider"`
	MessageID    string       `db:"message_id" json:"message_id"`
	ThreadID     string       `db:"thread_id" json:"thread_id,omitempty"`
	Folder       FolderKind   `db:"folder" json:"folder"`
	Subject      string       `db:"subject" json:"subject"`
	Sender       string       `db:"sender" json:"sender"`
	ToAddrs      []string     `json:"to_addrs,omitempty"`
	CcAddrs      []string     `json:"cc_addrs,omitempty"`
	BodyText     string       `db:"body_text" json:"body_text,omitempty"`
	Snippet      string       `db:"snippet" json:"snippet,omitempty"`
	IsRead       bool         `db:"is_read" json:"is_read"`
	IsFlagged    bool         `db:"is_flagged" json:"is_flagged"`
	ReceivedAt   time.Time    `db:"received_at" json:"received_at"`
	SentAt       *time.Time   `db:"sent_at" json:"sent_at,omitempty"`
	Tags         AnalysisTags `json:"tags"`
	Attachments  []EmailAttachment `json:"attachments,omitempty"`
	SyncedAt     time.Time    `db:"synced_at" json:"synced_at"`
}

// EmailAttachment links a message to a stored blob; raw bytes are never
// persisted on the row.
type EmailAttachment struct {
	ID          string `db:"id" json:"id"`
	MessageID   string `db:"message_id" json:"message_id"`
	Filename    string `db:"filename" json:"filename"`
	ContentType string `db:"content_type" json:"content_type"`
	SizeBytes   int64  `db:"size_bytes" json:"size_bytes"`
	StoragePath string `db:"storage_path" json:"storage_path"`
	Digest      string `db:"digest" json:"digest"`
}
