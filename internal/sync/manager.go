package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager tracks in-flight account syncs so the HTTP surface can start,
// stop, and enumerate them. One sync per account at a time.
type Manager struct {
	orchestrator *Orchestrator
	runners      map[string]context.CancelFunc
	runnersMutex sync.RWMutex
}

func NewManager(orchestrator *Orchestrator) *Manager {
	return &Manager{
		orchestrator: orchestrator,
		runners:      make(map[string]context.CancelFunc),
	}
}

// StartSync launches a background sync for the account. done, when
// non-nil, receives the result after the runner unregisters itself.
func (m *Manager) StartSync(ctx context.Context, accountID string, opts Options, done func(AccountSyncResult)) error {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if _, exists := m.runners[accountID]; exists {
		return fmt.Errorf("sync already running for account %s", accountID)
	}

	runnerCtx, cancel := context.WithCancel(ctx)
	m.runners[accountID] = cancel

	go func() {
		defer cancel()
		logrus.WithField("account_id", accountID).Info("Sync runner started")

		res := m.orchestrator.SyncAccount(runnerCtx, accountID, opts)

		m.runnersMutex.Lock()
		delete(m.runners, accountID)
		m.runnersMutex.Unlock()

		logrus.WithFields(logrus.Fields{
			"account_id": accountID,
			"success":    res.Success,
		}).Info("Sync runner finished")
		if done != nil {
			done(res)
		}
	}()

	return nil
}

// StopSync cancels the running sync for the account.
func (m *Manager) StopSync(accountID string) error {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	cancel, exists := m.runners[accountID]
	if !exists {
		return fmt.Errorf("no sync running for account %s", accountID)
	}
	cancel()
	delete(m.runners, accountID)
	return nil
}

// IsRunning reports whether the account has a sync in flight.
func (m *Manager) IsRunning(accountID string) bool {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	_, exists := m.runners[accountID]
	return exists
}

// StopAll cancels every running sync.
func (m *Manager) StopAll() {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	for id, cancel := range m.runners {
		logrus.WithField("account_id", id).Info("Stopping sync")
		cancel()
	}
	m.runners = make(map[string]context.CancelFunc)
}

// RunningSyncs lists account ids with a sync in flight.
func (m *Manager) RunningSyncs() []string {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	ids := make([]string, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	return ids
}
