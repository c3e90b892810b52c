package sync

import (
	"context"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/blob"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// MessageRepo is the persistence contract the synchronizer consumes.
// Add is expected to be atomic per call.
type MessageRepo interface {
	MessageExists(ctx context.Context, accountID, messageID string) (bool, error)
	AddMessage(ctx context.Context, msg *domain.EmailMessage) error
}

// AccountRepo is the account persistence contract.
type AccountRepo interface {
	GetAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error)
	GetAccountByID(ctx context.Context, id string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, acc *domain.Account) error
}

// BlobStore is the attachment storage contract.
type BlobStore interface {
	Store(name, contentType string, data []byte) (blob.StoredBlob, error)
}

// PasswordLookup resolves the stored password for a non-OAuth account
// when the account row itself carries none (e.g. a system keyring).
type PasswordLookup func(acc *domain.Account) (string, error)
