package mailsource

import (
	"context"
	"time"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// ExternalAttachment is one attachment pulled off a fetched message,
// raw bytes included. It lives only for the fetch-convert-persist cycle.
type ExternalAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
	// ProviderID is the provider-native attachment id, when one exists.
	ProviderID string
}

// ExternalMessage is the provider-agnostic form of one fetched message.
type ExternalMessage struct {
	MessageID   string // stable provider message id
	ThreadID    string
	Subject     string
	Sender      string
	To          []string
	Cc          []string
	BodyText    string
	Snippet     string
	Seen        bool
	Flagged     bool
	ReceivedAt  time.Time
	SentAt      time.Time
	Headers     map[string]string
	Attachments []ExternalAttachment
}

// Credential is whatever the source needs to authenticate: an OAuth
// access token for API providers, a password for IMAP.
type Credential struct {
	AccessToken string
	Password    string
}

// Source opens authenticated sessions against one provider backend.
type Source interface {
	Kind() domain.ProviderKind

	// Open connects and authenticates. Rejected credentials surface as
	// *domain.AuthError; anything else is treated as connectivity.
	Open(ctx context.Context, account *domain.Account, cred Credential) (Session, error)
}

// Session is one authenticated connection scoped to a single account.
// Folder selection is stateful, matching how the IMAP protocol works;
// API-backed sessions just record the folder for subsequent calls.
type Session interface {
	// SelectFolder targets a logical folder. It returns false, without
	// error, when the provider does not expose that folder.
	SelectFolder(ctx context.Context, kind domain.FolderKind) (bool, error)

	// SearchSince lists candidate message refs received after since,
	// within the selected folder.
	SearchSince(ctx context.Context, since time.Time) ([]string, error)

	// Fetch retrieves one full message, attachment bytes included.
	Fetch(ctx context.Context, ref string) (*ExternalMessage, error)

	Close(ctx context.Context) error
}
