package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/retry"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/token"
)

// defaultInitialSyncWindow bounds a first sync when nothing has been
// synced yet and the caller supplies no explicit resume point.
const defaultInitialSyncWindow = 30 * 24 * time.Hour

// Options adjust one SyncAccount run without persisting anything on the
// account itself.
type Options struct {
	// ResumeFrom replaces the derived watermark; used by historical
	// sync to reach further back than the account has ever synced.
	ResumeFrom *time.Time
	// AttachmentsOverride forces attachment syncing on or off for this
	// run only.
	AttachmentsOverride *bool
}

// Orchestrator runs the full per-account sync cycle: credential
// resolution, session open under the connectivity policy, folder
// fan-out, aggregation, state persistence.
type Orchestrator struct {
	accounts   AccountRepo
	folders    *FolderSynchronizer
	sources    map[domain.ProviderKind]mailsource.Source
	tokens     *token.Registry
	passwords  PasswordLookup
	connPolicy retry.Policy

	initialSyncWindow time.Duration
	now               func() time.Time
}

// NewOrchestrator wires the orchestrator. passwords may be nil when
// IMAP accounts always carry their password on the row. initialSyncDays
// of zero keeps the default 30 day first-sync window.
func NewOrchestrator(
	accounts AccountRepo,
	folders *FolderSynchronizer,
	sources []mailsource.Source,
	tokens *token.Registry,
	passwords PasswordLookup,
	initialSyncDays int,
) *Orchestrator {
	byKind := make(map[domain.ProviderKind]mailsource.Source, len(sources))
	for _, s := range sources {
		byKind[s.Kind()] = s
	}
	window := defaultInitialSyncWindow
	if initialSyncDays > 0 {
		window = time.Duration(initialSyncDays) * 24 * time.Hour
	}
	return &Orchestrator{
		accounts:          accounts,
		folders:           folders,
		sources:           byKind,
		tokens:            tokens,
		passwords:         passwords,
		connPolicy:        retry.Connectivity(),
		initialSyncWindow: window,
		now:               time.Now,
	}
}

// SyncAccount runs one sync cycle for the account. The result always
// comes back, failure or not; the only contract is that account state
// reflects the attempt afterwards.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string, opts Options) AccountSyncResult {
	res := AccountSyncResult{AccountID: accountID, Status: domain.SyncFailed, SyncedAt: o.now().UTC()}

	acc, err := o.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		res.ErrorMessage = fmt.Sprintf("loading account: %v", err)
		return res
	}
	if acc == nil {
		res.ErrorMessage = "account not found"
		return res
	}
	res.AccountEmail = acc.EmailAddress

	log := logrus.WithFields(logrus.Fields{
		"account":  acc.EmailAddress,
		"provider": acc.Provider,
	})
	log.Info("Starting account sync")

	acc.Sync.Status = domain.SyncInProgress
	if err := o.accounts.UpdateAccount(ctx, acc); err != nil {
		res.ErrorMessage = fmt.Sprintf("marking sync in progress: %v", err)
		return res
	}

	attempted := o.now().UTC()
	outcome, syncErr := o.runSync(ctx, acc, opts, log)

	res.Folders = outcome.folders
	res.TotalEmailsChecked = outcome.found
	res.NewEmailsCount = outcome.newCount
	res.AttachmentsStored = outcome.attachments

	attempt := domain.SyncAttempt{
		AttemptedAt:    attempted,
		HighWatermark:  outcome.highWatermark,
		EmailsSynced:   outcome.newCount,
		AttachmentsNew: outcome.newBlobs,
	}
	if syncErr != nil {
		attempt.Err = syncErr.Error()
		res.ErrorMessage = syncErr.Error()
		log.WithError(syncErr).Error("Account sync failed")
	} else {
		attempt.Success = true
		res.Success = true
		res.Status = domain.SyncCompleted
		log.WithFields(logrus.Fields{
			"checked": res.TotalEmailsChecked,
			"new":     res.NewEmailsCount,
		}).Info("Account sync complete")
	}

	updated := domain.ApplySyncResult(*acc, attempt)
	if err := o.accounts.UpdateAccount(ctx, &updated); err != nil {
		log.WithError(err).Error("Persisting sync state failed")
		if res.Success {
			res.Success = false
			res.Status = domain.SyncFailed
			res.ErrorMessage = fmt.Sprintf("persisting sync state: %v", err)
		}
	}
	return res
}

type runOutcome struct {
	folders       []FolderOutcome
	found         int
	newCount      int
	attachments   int
	newBlobs      int
	highWatermark time.Time
}

func (o *Orchestrator) runSync(ctx context.Context, acc *domain.Account, opts Options, log *logrus.Entry) (runOutcome, error) {
	var out runOutcome

	source, ok := o.sources[acc.Provider]
	if !ok {
		return out, fmt.Errorf("no mail source registered for provider %s", acc.Provider)
	}

	cred, err := o.resolveCredential(ctx, acc)
	if err != nil {
		return out, err
	}

	sess, err := o.openSession(ctx, source, acc, cred)
	if err != nil {
		return out, err
	}
	defer sess.Close(context.WithoutCancel(ctx))

	watermark := o.effectiveWatermark(acc, opts)
	out.highWatermark = watermark

	syncAttachments := acc.SyncAttachments
	if opts.AttachmentsOverride != nil {
		syncAttachments = *opts.AttachmentsOverride
	}

	var firstErr error
	for _, folder := range o.scopedFolders(acc) {
		present, err := sess.SelectFolder(ctx, folder)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("selecting %s: %w", folder, err)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !present {
			log.WithField("folder", folder).Debug("Folder absent on provider, skipping")
			continue
		}

		fo, err := o.folders.SyncFolder(ctx, sess, acc, folder, watermark, syncAttachments)
		out.folders = append(out.folders, fo)
		out.found += fo.Found
		out.newCount += fo.New
		out.attachments += fo.AttachmentsStored
		out.newBlobs += fo.NewBlobs
		if fo.HighWatermark.After(out.highWatermark) {
			out.highWatermark = fo.HighWatermark
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
	return out, firstErr
}

// resolveCredential picks the right secret for the account: OAuth kinds
// go through the token registry, IMAP uses the stored password or the
// external lookup. A missing password is terminal, not retryable.
func (o *Orchestrator) resolveCredential(ctx context.Context, acc *domain.Account) (mailsource.Credential, error) {
	if acc.Provider.IsOAuth() {
		provider, err := o.tokens.ForKind(acc.Provider)
		if err != nil {
			return mailsource.Credential{}, err
		}
		access, err := provider.GetAccessToken(ctx, acc.EmailAddress)
		if err != nil {
			return mailsource.Credential{}, fmt.Errorf("resolving access token: %w", err)
		}
		return mailsource.Credential{AccessToken: access}, nil
	}

	password := acc.Password
	if password == "" && o.passwords != nil {
		var err error
		password, err = o.passwords(acc)
		if err != nil {
			return mailsource.Credential{}, fmt.Errorf("looking up password: %w", err)
		}
	}
	if password == "" {
		return mailsource.Credential{}, &domain.AuthError{
			Provider: acc.Provider,
			Address:  acc.EmailAddress,
			Reason:   "no password stored for account",
		}
	}
	return mailsource.Credential{Password: password}, nil
}

// openSession dials under the connectivity policy. Authentication
// rejections are wrapped Permanent so they surface immediately instead
// of burning retry attempts.
func (o *Orchestrator) openSession(ctx context.Context, source mailsource.Source, acc *domain.Account, cred mailsource.Credential) (mailsource.Session, error) {
	var sess mailsource.Session
	err := o.connPolicy.Do(ctx, "open session", func(ctx context.Context) error {
		var err error
		sess, err = source.Open(ctx, acc, cred)
		if err != nil {
			var authErr *domain.AuthError
			if errors.As(err, &authErr) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// effectiveWatermark derives where this run starts. An explicit resume
// point wins as-is (capped at now); otherwise the last synced timestamp
// minus a small overlap, floored at the initial sync window for
// accounts that have never completed a sync.
func (o *Orchestrator) effectiveWatermark(acc *domain.Account, opts Options) time.Time {
	now := o.now().UTC()

	if opts.ResumeFrom != nil {
		wm := opts.ResumeFrom.UTC()
		if wm.After(now) {
			return now
		}
		return wm
	}

	floor := now.Add(-o.initialSyncWindow)
	if acc.Sync.LastSyncedAt == nil {
		return floor
	}

	// Overlap the previous watermark slightly; dedup absorbs the
	// replayed candidates.
	wm := acc.Sync.LastSyncedAt.UTC().Add(-5 * time.Minute)
	if wm.Before(floor) {
		wm = floor
	}
	if wm.After(now) {
		wm = now
	}
	return wm
}

// scopedFolders lists the folders this account wants, inbox always
// first.
func (o *Orchestrator) scopedFolders(acc *domain.Account) []domain.FolderKind {
	folders := []domain.FolderKind{domain.FolderInbox}
	if acc.IncludeSent {
		folders = append(folders, domain.FolderSent)
	}
	if acc.IncludeDrafts {
		folders = append(folders, domain.FolderDrafts)
	}
	if acc.IncludeArchive {
		folders = append(folders, domain.FolderArchive)
	}
	return folders
}
