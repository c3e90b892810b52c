package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/blob"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource"
)

// fakeSession serves canned messages keyed by ref.
type fakeSession struct {
	folders   map[domain.FolderKind][]string
	messages  map[string]*mailsource.ExternalMessage
	fetchErrs map[string]error
	selected  domain.FolderKind
	closed    bool
}

func (s *fakeSession) SelectFolder(_ context.Context, kind domain.FolderKind) (bool, error) {
	if _, ok := s.folders[kind]; !ok {
		return false, nil
	}
	s.selected = kind
	return true, nil
}

func (s *fakeSession) SearchSince(_ context.Context, _ time.Time) ([]string, error) {
	return s.folders[s.selected], nil
}

func (s *fakeSession) Fetch(_ context.Context, ref string) (*mailsource.ExternalMessage, error) {
	if err := s.fetchErrs[ref]; err != nil {
		return nil, err
	}
	msg, ok := s.messages[ref]
	if !ok {
		return nil, fmt.Errorf("unknown ref %s", ref)
	}
	return msg, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.closed = true
	return nil
}

// fakeSource hands out a fixed session, or fails.
type fakeSource struct {
	kind    domain.ProviderKind
	session *fakeSession
	openErr error
	lastCred mailsource.Credential
}

func (f *fakeSource) Kind() domain.ProviderKind { return f.kind }

func (f *fakeSource) Open(_ context.Context, _ *domain.Account, cred mailsource.Credential) (mailsource.Session, error) {
	f.lastCred = cred
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.session, nil
}

// memRepo implements MessageRepo and AccountRepo in memory.
type memRepo struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	messages map[string]*domain.EmailMessage
	addErrs  map[string]error
}

func newMemRepo(accounts ...domain.Account) *memRepo {
	r := &memRepo{
		accounts: make(map[string]domain.Account),
		messages: make(map[string]*domain.EmailMessage),
		addErrs:  make(map[string]error),
	}
	for _, acc := range accounts {
		r.accounts[acc.ID] = acc
	}
	return r
}

func msgKey(accountID, messageID string) string { return accountID + "|" + messageID }

func (r *memRepo) MessageExists(_ context.Context, accountID, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.messages[msgKey(accountID, messageID)]
	return ok, nil
}

func (r *memRepo) AddMessage(_ context.Context, msg *domain.EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.addErrs[msg.MessageID]; err != nil {
		return err
	}
	r.messages[msgKey(msg.AccountID, msg.MessageID)] = msg
	return nil
}

func (r *memRepo) GetAccountsByUser(_ context.Context, userID string) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, acc := range r.accounts {
		if acc.UserID == userID {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (r *memRepo) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (r *memRepo) UpdateAccount(_ context.Context, acc *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acc.ID] = *acc
	return nil
}

// memBlobs records stored attachments without hitting the filesystem.
type memBlobs struct {
	mu     sync.Mutex
	stored map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{stored: make(map[string][]byte)}
}

func (b *memBlobs) Store(name, _ string, data []byte) (blob.StoredBlob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := "/blobs/" + name
	_, exists := b.stored[path]
	b.stored[path] = data
	return blob.StoredBlob{
		Path:   path,
		Digest: fmt.Sprintf("%064x", len(data)),
		Size:   int64(len(data)),
		IsNew:  !exists,
	}, nil
}

func extMessage(id string, receivedAt time.Time) *mailsource.ExternalMessage {
	return &mailsource.ExternalMessage{
		MessageID:  id,
		Subject:    "subject " + id,
		Sender:     "sender@example.com",
		To:         []string{"me@example.com"},
		BodyText:   "body " + id,
		ReceivedAt: receivedAt,
	}
}

func testAccount(id string) domain.Account {
	return domain.Account{
		ID:           id,
		UserID:       "user-1",
		EmailAddress: id + "@example.com",
		Provider:     domain.ProviderIMAP,
		Password:     "secret",
		Active:       true,
	}
}
