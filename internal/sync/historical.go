package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// unboundedLookbackMonths stands in for "all history" when a run asks
// for no bound at all.
const unboundedLookbackMonths = 120

// Coordinator runs historical backfills over every account a user has
// linked, one account at a time.
type Coordinator struct {
	accounts     AccountRepo
	orchestrator *Orchestrator
	now          func() time.Time
}

func NewCoordinator(accounts AccountRepo, orchestrator *Orchestrator) *Coordinator {
	return &Coordinator{
		accounts:     accounts,
		orchestrator: orchestrator,
		now:          time.Now,
	}
}

// SyncHistory backfills all of the user's active accounts from the
// configured look-back window. One account failing does not stop the
// rest; cancellation does, with a partial result.
func (c *Coordinator) SyncHistory(ctx context.Context, userID string, settings Settings, sink ProgressSink) (HistoricalSyncResult, error) {
	res := HistoricalSyncResult{Status: domain.SyncInProgress}

	accounts, err := c.accounts.GetAccountsByUser(ctx, userID)
	if err != nil {
		res.Status = domain.SyncFailed
		return res, fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		res.Status = domain.SyncNoAccountsConfigured
		return res, nil
	}

	months := settings.HistoryMonths
	if months <= 0 {
		months = unboundedLookbackMonths
	}
	resumeFrom := c.now().UTC().AddDate(0, -months, 0)

	log := logrus.WithFields(logrus.Fields{
		"user":     userID,
		"accounts": len(accounts),
		"months":   months,
	})
	log.Info("Starting historical sync")

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			res.Status = domain.SyncFailed
			res.Errors = append(res.Errors, "historical sync cancelled")
			return res, err
		}
		if !acc.Active {
			continue
		}

		report(sink, Progress{
			AccountEmail: acc.EmailAddress,
			TotalFound:   res.TotalEmailsFound,
			Processed:    res.EmailsSynced,
			Message:      "syncing " + acc.EmailAddress,
		})

		rf := resumeFrom
		ar := c.orchestrator.SyncAccount(ctx, acc.ID, Options{ResumeFrom: &rf})

		res.TotalEmailsFound += ar.TotalEmailsChecked
		res.EmailsSynced += ar.NewEmailsCount
		if !ar.Success {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", acc.EmailAddress, ar.ErrorMessage))
		}

		report(sink, Progress{
			AccountEmail: acc.EmailAddress,
			TotalFound:   res.TotalEmailsFound,
			Processed:    res.EmailsSynced,
			Message:      "finished " + acc.EmailAddress,
		})
	}

	res.Status = domain.SyncCompleted
	log.WithFields(logrus.Fields{
		"found":  res.TotalEmailsFound,
		"synced": res.EmailsSynced,
		"errors": len(res.Errors),
	}).Info("Historical sync complete")
	return res, nil
}

func report(sink ProgressSink, p Progress) {
	if sink != nil {
		sink(p)
	}
}
