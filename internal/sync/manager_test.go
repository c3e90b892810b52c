package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/token"
)

func TestManagerRunsSyncToCompletion(t *testing.T) {
	acc := testAccount("acc-1")
	repo := newMemRepo(acc)
	sess := &fakeSession{
		folders: map[domain.FolderKind][]string{domain.FolderInbox: {"1"}},
		messages: map[string]*mailsource.ExternalMessage{
			"1": extMessage("m1", time.Now().Add(-time.Hour)),
		},
	}
	source := &fakeSource{kind: domain.ProviderIMAP, session: sess}

	m := NewManager(newTestOrchestrator(repo, []mailsource.Source{source}, token.NewRegistry()))

	done := make(chan AccountSyncResult, 1)
	err := m.StartSync(context.Background(), "acc-1", Options{}, func(res AccountSyncResult) {
		done <- res
	})
	require.NoError(t, err)

	select {
	case res := <-done:
		require.True(t, res.Success)
		require.Equal(t, 1, res.NewEmailsCount)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not finish")
	}

	require.False(t, m.IsRunning("acc-1"))
	require.Empty(t, m.RunningSyncs())
}

func TestManagerRejectsConcurrentSyncForSameAccount(t *testing.T) {
	acc := testAccount("acc-1")
	repo := newMemRepo(acc)

	release := make(chan struct{})
	sess := newBlockingSession(release)
	m := NewManager(newTestOrchestrator(repo, []mailsource.Source{&blockingSource{session: sess}}, token.NewRegistry()))

	done := make(chan AccountSyncResult, 1)
	require.NoError(t, m.StartSync(context.Background(), "acc-1", Options{}, func(res AccountSyncResult) {
		done <- res
	}))

	// Second start while the first is blocked inside the session.
	<-sess.entered
	require.True(t, m.IsRunning("acc-1"))
	require.Error(t, m.StartSync(context.Background(), "acc-1", Options{}, nil))

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not finish")
	}
}

func TestManagerStopSync(t *testing.T) {
	acc := testAccount("acc-1")
	repo := newMemRepo(acc)

	release := make(chan struct{})
	sess := newBlockingSession(release)
	m := NewManager(newTestOrchestrator(repo, []mailsource.Source{&blockingSource{session: sess}}, token.NewRegistry()))

	done := make(chan AccountSyncResult, 1)
	require.NoError(t, m.StartSync(context.Background(), "acc-1", Options{}, func(res AccountSyncResult) {
		done <- res
	}))
	<-sess.entered

	require.NoError(t, m.StopSync("acc-1"))
	require.False(t, m.IsRunning("acc-1"))
	require.Error(t, m.StopSync("acc-1"))

	close(release)
	select {
	case res := <-done:
		require.False(t, res.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled sync did not finish")
	}
}

// blockingSession parks the sync inside SearchSince until released, so
// tests can observe the in-flight state.
type blockingSession struct {
	entered chan struct{}
	release chan struct{}
	once    bool
}

func newBlockingSession(release chan struct{}) *blockingSession {
	return &blockingSession{entered: make(chan struct{}), release: release}
}

func (s *blockingSession) SelectFolder(context.Context, domain.FolderKind) (bool, error) {
	return true, nil
}

func (s *blockingSession) SearchSince(ctx context.Context, _ time.Time) ([]string, error) {
	if !s.once {
		s.once = true
		close(s.entered)
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func (s *blockingSession) Fetch(context.Context, string) (*mailsource.ExternalMessage, error) {
	return nil, nil
}

func (s *blockingSession) Close(context.Context) error { return nil }

type blockingSource struct {
	session *blockingSession
}

func (s *blockingSource) Kind() domain.ProviderKind { return domain.ProviderIMAP }

func (s *blockingSource) Open(context.Context, *domain.Account, mailsource.Credential) (mailsource.Session, error) {
	return s.session, nil
}
