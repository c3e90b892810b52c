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

func TestSyncHistoryNoAccounts(t *testing.T) {
	repo := newMemRepo()
	c := NewCoordinator(repo, newTestOrchestrator(repo, nil, token.NewRegistry()))

	res, err := c.SyncHistory(context.Background(), "user-1", Settings{}, nil)

	require.NoError(t, err)
	require.Equal(t, domain.SyncNoAccountsConfigured, res.Status)
	require.Zero(t, res.TotalEmailsFound)
}

func TestSyncHistorySyncsAllActiveAccounts(t *testing.T) {
	acc1 := testAccount("acc-1")
	acc2 := testAccount("acc-2")
	inactive := testAccount("acc-3")
	inactive.Active = false
	repo := newMemRepo(acc1, acc2, inactive)

	old := time.Now().AddDate(0, -6, 0)
	sess := &fakeSession{
		folders: map[domain.FolderKind][]string{domain.FolderInbox: {"1"}},
		messages: map[string]*mailsource.ExternalMessage{
			"1": extMessage("m1", old),
		},
	}
	source := &fakeSource{kind: domain.ProviderIMAP, session: sess}

	o := newTestOrchestrator(repo, []mailsource.Source{source}, token.NewRegistry())
	c := NewCoordinator(repo, o)

	var snapshots []Progress
	res, err := c.SyncHistory(context.Background(), "user-1", Settings{HistoryMonths: 12}, func(p Progress) {
		snapshots = append(snapshots, p)
	})

	require.NoError(t, err)
	require.Equal(t, domain.SyncCompleted, res.Status)
	// Both active accounts see the same message id, persisted per
	// account; the inactive one never syncs.
	require.Equal(t, 2, res.EmailsSynced)
	require.Empty(t, res.Errors)
	require.Len(t, snapshots, 4)

	skipped, err := repo.GetAccountByID(context.Background(), "acc-3")
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatus(""), skipped.Sync.Status)
}

func TestSyncHistoryReachesPastInitialWindow(t *testing.T) {
	acc := testAccount("acc-1")
	repo := newMemRepo(acc)

	// Ten months old: far outside the 30 day incremental window.
	old := time.Now().AddDate(0, -10, 0)
	sess := &fakeSession{
		folders: map[domain.FolderKind][]string{domain.FolderInbox: {"1"}},
		messages: map[string]*mailsource.ExternalMessage{
			"1": extMessage("m1", old),
		},
	}
	source := &fakeSource{kind: domain.ProviderIMAP, session: sess}

	o := newTestOrchestrator(repo, []mailsource.Source{source}, token.NewRegistry())
	c := NewCoordinator(repo, o)

	res, err := c.SyncHistory(context.Background(), "user-1", Settings{HistoryMonths: 12}, nil)

	require.NoError(t, err)
	require.Equal(t, 1, res.EmailsSynced)
}

func TestSyncHistoryContinuesPastAccountFailure(t *testing.T) {
	broken := testAccount("acc-1")
	broken.Password = ""
	healthy := testAccount("acc-2")
	repo := newMemRepo(broken, healthy)

	sess := &fakeSession{
		folders: map[domain.FolderKind][]string{domain.FolderInbox: {"1"}},
		messages: map[string]*mailsource.ExternalMessage{
			"1": extMessage("m1", time.Now().AddDate(0, -1, 0)),
		},
	}
	source := &fakeSource{kind: domain.ProviderIMAP, session: sess}

	o := newTestOrchestrator(repo, []mailsource.Source{source}, token.NewRegistry())
	c := NewCoordinator(repo, o)

	res, err := c.SyncHistory(context.Background(), "user-1", Settings{HistoryMonths: 12}, nil)

	require.NoError(t, err)
	require.Equal(t, domain.SyncCompleted, res.Status)
	require.Equal(t, 1, res.EmailsSynced)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "acc-1@example.com")
}

func TestSyncHistoryCancellation(t *testing.T) {
	acc1 := testAccount("acc-1")
	acc2 := testAccount("acc-2")
	repo := newMemRepo(acc1, acc2)

	sess := &fakeSession{
		folders: map[domain.FolderKind][]string{domain.FolderInbox: {"1"}},
		messages: map[string]*mailsource.ExternalMessage{
			"1": extMessage("m1", time.Now().AddDate(0, -1, 0)),
		},
	}
	source := &fakeSource{kind: domain.ProviderIMAP, session: sess}

	o := newTestOrchestrator(repo, []mailsource.Source{source}, token.NewRegistry())
	c := NewCoordinator(repo, o)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	res, err := c.SyncHistory(ctx, "user-1", Settings{HistoryMonths: 12}, func(Progress) {
		calls++
		if calls == 2 {
			// Cancel after the first account completes.
			cancel()
		}
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, domain.SyncFailed, res.Status)
	require.Equal(t, 1, res.EmailsSynced)
}

func TestSyncHistoryDefaultsUnboundedLookback(t *testing.T) {
	acc := testAccount("acc-1")
	repo := newMemRepo(acc)

	// Five years back, only reachable with an unbounded window.
	ancient := time.Now().AddDate(-5, 0, 0)
	sess := &fakeSession{
		folders: map[domain.FolderKind][]string{domain.FolderInbox: {"1"}},
		messages: map[string]*mailsource.ExternalMessage{
			"1": extMessage("m1", ancient),
		},
	}
	source := &fakeSource{kind: domain.ProviderIMAP, session: sess}

	o := newTestOrchestrator(repo, []mailsource.Source{source}, token.NewRegistry())
	c := NewCoordinator(repo, o)

	res, err := c.SyncHistory(context.Background(), "user-1", Settings{HistoryMonths: 0}, nil)

	require.NoError(t, err)
	require.Equal(t, 1, res.EmailsSynced)
}
