package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/token"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleAccount() *domain.Account {
	return &domain.Account{
		UserID:       "user-1",
		EmailAddress: "a@example.com",
		Provider:     domain.ProviderIMAP,
		Connection: domain.ConnectionSettings{
			Host:   "imap.example.com",
			Port:   993,
			UseSSL: true,
		},
		Password:            "secret",
		Active:              true,
		IncludeSent:         true,
		SyncAttachments:     true,
		MaxAttachmentSizeMB: 25,
	}
}

func TestAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := sampleAccount()
	require.NoError(t, s.CreateAccount(ctx, acc))
	require.NotEmpty(t, acc.ID)

	got, err := s.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "a@example.com", got.EmailAddress)
	require.Equal(t, domain.ProviderIMAP, got.Provider)
	require.Equal(t, "imap.example.com", got.Connection.Host)
	require.True(t, got.Connection.UseSSL)
	require.Equal(t, domain.SyncNotStarted, got.Sync.Status)

	missing, err := s.GetAccountByID(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestAccountUpdatePersistsSyncState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := sampleAccount()
	require.NoError(t, s.CreateAccount(ctx, acc))

	synced := time.Date(2026, 2, 15, 9, 30, 0, 0, time.UTC)
	acc.Sync = domain.SyncState{
		Status:            domain.SyncCompleted,
		LastSyncedAt:      &synced,
		TotalEmailsSynced: 42,
	}
	require.NoError(t, s.UpdateAccount(ctx, acc))

	got, err := s.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SyncCompleted, got.Sync.Status)
	require.Equal(t, 42, got.Sync.TotalEmailsSynced)
	require.NotNil(t, got.Sync.LastSyncedAt)
	require.True(t, got.Sync.LastSyncedAt.Equal(synced))
}

func TestAccountUniquePerUserAndAddress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, sampleAccount()))
	require.Error(t, s.CreateAccount(ctx, sampleAccount()))

	other := sampleAccount()
	other.UserID = "user-2"
	require.NoError(t, s.CreateAccount(ctx, other))

	mine, err := s.GetAccountsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func sampleMessage(accountID string) *domain.EmailMessage {
	return &domain.EmailMessage{
		AccountID:  accountID,
		Provider:   domain.ProviderIMAP,
		MessageID:  "<m1@example.com>",
		Folder:     domain.FolderInbox,
		Subject:    "hello",
		Sender:     "b@example.com",
		ToAddrs:    []string{"a@example.com"},
		ReceivedAt: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
		Tags:       domain.NeutralTags(),
	}
}

func TestAddMessageAndDeduplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := sampleAccount()
	require.NoError(t, s.CreateAccount(ctx, acc))

	msg := sampleMessage(acc.ID)
	exists, err := s.MessageExists(ctx, acc.ID, msg.MessageID)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.AddMessage(ctx, msg))
	require.NotEmpty(t, msg.ID)

	exists, err = s.MessageExists(ctx, acc.ID, msg.MessageID)
	require.NoError(t, err)
	require.True(t, exists)

	// Same provider message-id twice violates the uniqueness
	// constraint that backs exactly-once persistence.
	dup := sampleMessage(acc.ID)
	require.Error(t, s.AddMessage(ctx, dup))

	count, err := s.CountMessages(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUpdateMessageRewritesTags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := sampleAccount()
	require.NoError(t, s.CreateAccount(ctx, acc))

	msg := sampleMessage(acc.ID)
	require.NoError(t, s.AddMessage(ctx, msg))

	msg.IsRead = true
	msg.Tags.Priority = "high"
	msg.Tags.Urgent = true
	msg.Tags.Category = "finance"
	require.NoError(t, s.UpdateMessage(ctx, msg))

	var got struct {
		IsRead   bool   `db:"is_read"`
		Priority string `db:"priority"`
		Urgent   bool   `db:"urgent"`
		Category string `db:"category"`
	}
	require.NoError(t, s.db.Get(&got,
		`SELECT is_read, priority, urgent, category FROM emails WHERE id = ?`, msg.ID))
	require.True(t, got.IsRead)
	require.Equal(t, "high", got.Priority)
	require.True(t, got.Urgent)
	require.Equal(t, "finance", got.Category)
}

func TestAddMessageWithAttachments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := sampleAccount()
	require.NoError(t, s.CreateAccount(ctx, acc))

	msg := sampleMessage(acc.ID)
	msg.Attachments = []domain.EmailAttachment{
		{Filename: "a.pdf", ContentType: "application/pdf", SizeBytes: 100, StoragePath: "/blobs/a", Digest: "d1"},
		{Filename: "b.png", ContentType: "image/png", SizeBytes: 200, StoragePath: "/blobs/b", Digest: "d2"},
	}
	require.NoError(t, s.AddMessage(ctx, msg))
	require.NotEmpty(t, msg.Attachments[0].ID)
	require.Equal(t, msg.ID, msg.Attachments[0].MessageID)

	var n int
	require.NoError(t, s.db.Get(&n,
		`SELECT COUNT(*) FROM email_attachments WHERE email_id = ?`, msg.ID))
	require.Equal(t, 2, n)
}

func TestAddMessageEnqueuesOutboxEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := sampleAccount()
	require.NoError(t, s.CreateAccount(ctx, acc))
	require.NoError(t, s.AddMessage(ctx, sampleMessage(acc.ID)))

	pending, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "mail."+acc.ID+".email.received", pending[0].Subject)
	require.Contains(t, pending[0].MsgID, "<m1@example.com>")
	require.Contains(t, string(pending[0].Payload), `"provider_message_id"`)
}

func TestOutboxPublishAndRetryFlow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := sampleAccount()
	require.NoError(t, s.CreateAccount(ctx, acc))
	require.NoError(t, s.AddMessage(ctx, sampleMessage(acc.ID)))

	msg2 := sampleMessage(acc.ID)
	msg2.MessageID = "<m2@example.com>"
	require.NoError(t, s.AddMessage(ctx, msg2))

	pending, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.MarkPublished(ctx, pending[0].ID))
	require.NoError(t, s.MarkOutboxRetry(ctx, pending[1].ID, time.Hour))

	// Published entries are gone; the retried one is deferred.
	pending, err = s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, s.MarkOutboxRetry(ctx, pending2ID(t, s), -time.Second))
	pending, err = s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func pending2ID(t *testing.T, s *Store) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.db.Get(&id,
		`SELECT id FROM outbox WHERE published_at IS NULL ORDER BY id LIMIT 1`))
	return id
}

func TestTokenStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.GetToken(ctx, domain.ProviderGoogle, "a@example.com")
	require.NoError(t, err)
	require.Nil(t, rec)

	expiry := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.StoreToken(ctx, token.Record{
		Provider:     domain.ProviderGoogle,
		Address:      "a@example.com",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       expiry,
		Scopes:       []string{"mail.read"},
	}))

	rec, err = s.GetToken(ctx, domain.ProviderGoogle, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "access-1", rec.AccessToken)
	require.Equal(t, []string{"mail.read"}, rec.Scopes)
	require.True(t, rec.Expiry.Equal(expiry))

	// Upsert replaces in place.
	require.NoError(t, s.StoreToken(ctx, token.Record{
		Provider:    domain.ProviderGoogle,
		Address:     "a@example.com",
		AccessToken: "access-2",
		Expiry:      expiry.Add(time.Hour),
	}))
	rec, err = s.GetToken(ctx, domain.ProviderGoogle, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "access-2", rec.AccessToken)

	all, err := s.GetAllTokens(ctx, domain.ProviderGoogle)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, s.RemoveToken(ctx, domain.ProviderGoogle, "a@example.com"))
	rec, err = s.GetToken(ctx, domain.ProviderGoogle, "a@example.com")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestTokenCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetCache(ctx, "msgraph-session:a@example.com")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.PutCache(ctx, "msgraph-session:a@example.com", []byte(`{"v":1}`)))
	require.NoError(t, s.PutCache(ctx, "msgraph-session:a@example.com", []byte(`{"v":2}`)))

	got, err = s.GetCache(ctx, "msgraph-session:a@example.com")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":2}`), got)
}
