package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/analyze"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/retry"
)

// FolderSynchronizer drives one (account, folder) pair: search since
// the watermark, fetch each candidate through the fetch retry policy,
// de-duplicate by message-id, convert, store attachments, analyze,
// persist. Per-message failures never fail the folder.
type FolderSynchronizer struct {
	messages    MessageRepo
	blobs       BlobStore
	analyzer    analyze.Analyzer
	fetchPolicy retry.Policy
	now         func() time.Time
}

// NewFolderSynchronizer wires the synchronizer. analyzer may be nil,
// in which case every message keeps neutral tags.
func NewFolderSynchronizer(messages MessageRepo, blobs BlobStore, analyzer analyze.Analyzer) *FolderSynchronizer {
	return &FolderSynchronizer{
		messages:    messages,
		blobs:       blobs,
		analyzer:    analyzer,
		fetchPolicy: retry.Fetch(),
		now:         time.Now,
	}
}

// SyncFolder synchronizes one folder of an already-open session. The
// returned error is non-nil only for folder-level faults (search
// failure, cancellation); per-message faults are absorbed into the
// outcome.
func (f *FolderSynchronizer) SyncFolder(
	ctx context.Context,
	sess mailsource.Session,
	account *domain.Account,
	folder domain.FolderKind,
	watermark time.Time,
	syncAttachments bool,
) (FolderOutcome, error) {
	outcome := FolderOutcome{Folder: folder, HighWatermark: watermark}

	log := logrus.WithFields(logrus.Fields{
		"account": account.EmailAddress,
		"folder":  folder,
	})

	refs, err := sess.SearchSince(ctx, watermark)
	if err != nil {
		return outcome, fmt.Errorf("searching %s: %w", folder, err)
	}
	outcome.Found = len(refs)
	log.WithField("candidates", len(refs)).Debug("Folder search complete")

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		ext, err := f.fetchOne(ctx, sess, ref)
		if err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("fetch %s: %v", ref, err))
			log.WithError(err).WithField("ref", ref).Warn("Message fetch failed, skipping")
			continue
		}

		// Providers with coarse search granularity (IMAP SINCE is
		// day-level) return candidates at or before the watermark.
		if !ext.ReceivedAt.IsZero() && !ext.ReceivedAt.After(watermark) {
			outcome.Skipped++
			continue
		}

		messageID := ext.MessageID
		if messageID == "" {
			// No stable provider id; fall back to the session ref so
			// re-syncs of the same folder still deduplicate.
			messageID = fmt.Sprintf("ref:%s:%s", folder, ref)
		}

		exists, err := f.messages.MessageExists(ctx, account.ID, messageID)
		if err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("existence check %s: %v", ref, err))
			continue
		}
		if exists {
			outcome.Skipped++
			continue
		}

		msg := f.convert(account, folder, messageID, ext)

		if syncAttachments {
			f.storeAttachments(account, ext, msg, &outcome, log)
		}

		f.applyAnalysis(ctx, msg, log)

		if err := f.messages.AddMessage(ctx, msg); err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("persist %s: %v", ref, err))
			log.WithError(err).WithField("message_id", messageID).Warn("Message persist failed, skipping")
			continue
		}

		outcome.New++
		if msg.ReceivedAt.After(outcome.HighWatermark) {
			outcome.HighWatermark = msg.ReceivedAt
		}
	}

	log.WithFields(logrus.Fields{
		"found":   outcome.Found,
		"new":     outcome.New,
		"skipped": outcome.Skipped,
		"failed":  outcome.Failed,
	}).Info("Folder sync complete")
	return outcome, nil
}

func (f *FolderSynchronizer) fetchOne(ctx context.Context, sess mailsource.Session, ref string) (*mailsource.ExternalMessage, error) {
	var ext *mailsource.ExternalMessage
	err := f.fetchPolicy.Do(ctx, "fetch message", func(ctx context.Context) error {
		var err error
		ext, err = sess.Fetch(ctx, ref)
		return err
	})
	return ext, err
}

// convert maps the external representation onto the durable form,
// deriving thread linkage from available threading headers and
// defaulting missing timestamps to now.
func (f *FolderSynchronizer) convert(
	account *domain.Account,
	folder domain.FolderKind,
	messageID string,
	ext *mailsource.ExternalMessage,
) *domain.EmailMessage {
	now := f.now().UTC()

	received := ext.ReceivedAt
	if received.IsZero() {
		received = now
	}
	var sentAt *time.Time
	if !ext.SentAt.IsZero() {
		sent := ext.SentAt
		sentAt = &sent
	}

	threadID := ext.ThreadID
	if threadID == "" {
		threadID = threadFromHeaders(ext.Headers)
	}

	snippet := ext.Snippet
	if snippet == "" {
		snippet = makeSnippet(ext.BodyText)
	}

	return &domain.EmailMessage{
		AccountID:  account.ID,
		Provider:   account.Provider,
		MessageID:  messageID,
		ThreadID:   threadID,
		Folder:     folder,
		Subject:    ext.Subject,
		Sender:     ext.Sender,
		ToAddrs:    ext.To,
		CcAddrs:    ext.Cc,
		BodyText:   ext.BodyText,
		Snippet:    snippet,
		IsRead:     ext.Seen,
		IsFlagged:  ext.Flagged,
		ReceivedAt: received,
		SentAt:     sentAt,
		Tags:       domain.NeutralTags(),
		SyncedAt:   now,
	}
}

// storeAttachments extracts attachment bytes into the blob store,
// skipping oversized ones with a log instead of failing the message.
func (f *FolderSynchronizer) storeAttachments(
	account *domain.Account,
	ext *mailsource.ExternalMessage,
	msg *domain.EmailMessage,
	outcome *FolderOutcome,
	log *logrus.Entry,
) {
	ceiling := account.MaxAttachmentBytes()

	for _, att := range ext.Attachments {
		if ceiling > 0 && att.Size > ceiling {
			log.WithFields(logrus.Fields{
				"filename": att.Filename,
				"size":     att.Size,
				"ceiling":  ceiling,
			}).Info("Skipping attachment over size ceiling")
			continue
		}

		stored, err := f.blobs.Store(att.Filename, att.ContentType, att.Data)
		if err != nil {
			log.WithError(err).WithField("filename", att.Filename).
				Warn("Attachment store failed, skipping")
			continue
		}

		msg.Attachments = append(msg.Attachments, domain.EmailAttachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeBytes:   att.Size,
			StoragePath: stored.Path,
			Digest:      stored.Digest,
		})
		outcome.AttachmentsStored++
		if stored.IsNew {
			outcome.NewBlobs++
		}
	}
}

// applyAnalysis tags the message through the AI collaborator; failures
// leave the neutral defaults in place.
func (f *FolderSynchronizer) applyAnalysis(ctx context.Context, msg *domain.EmailMessage, log *logrus.Entry) {
	if f.analyzer == nil {
		return
	}
	tags, err := f.analyzer.Analyze(ctx, msg)
	if err != nil {
		log.WithError(err).WithField("message_id", msg.MessageID).
			Debug("Analysis failed, keeping neutral tags")
		return
	}
	msg.Tags = tags
}

// threadFromHeaders derives a conversation key from RFC threading
// headers: the root of References, else In-Reply-To.
func threadFromHeaders(headers map[string]string) string {
	if refs := headers["References"]; refs != "" {
		if fields := strings.Fields(refs); len(fields) > 0 {
			return fields[0]
		}
	}
	return headers["In-Reply-To"]
}

func makeSnippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
