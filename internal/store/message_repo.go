package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// MessageExists reports whether a message with the provider message-id
// is already persisted for the account. This check is the engine's
// sole de-duplication mechanism.
func (s *Store) MessageExists(ctx context.Context, accountID, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM emails WHERE account_id = ? AND message_id = ?`,
		accountID, messageID)
	if err != nil {
		return false, fmt.Errorf("checking message existence: %w", err)
	}
	return count > 0, nil
}

// AddMessage persists a message, its attachment links, and an
// email.received outbox entry in one transaction, so the event is
// published iff the message landed.
func (s *Store) AddMessage(ctx context.Context, msg *domain.EmailMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SyncedAt.IsZero() {
		msg.SyncedAt = time.Now().UTC()
	}

	toJSON, _ := json.Marshal(msg.ToAddrs)
	ccJSON, _ := json.Marshal(msg.CcAddrs)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO emails (
			id, account_id, provider, message_id, thread_id, folder,
			subject, sender, to_addrs, cc_addrs, body_text, snippet,
			is_read, is_flagged, received_at, sent_at,
			priority, urgent, category, sentiment, requires_response, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.AccountID, msg.Provider, msg.MessageID, msg.ThreadID, msg.Folder,
		msg.Subject, msg.Sender, string(toJSON), string(ccJSON), msg.BodyText, msg.Snippet,
		msg.IsRead, msg.IsFlagged, msg.ReceivedAt, msg.SentAt,
		msg.Tags.Priority, msg.Tags.Urgent, msg.Tags.Category,
		msg.Tags.Sentiment, msg.Tags.RequiresResponse, msg.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		att.MessageID = msg.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO email_attachments (
				id, email_id, filename, content_type, size_bytes, storage_path, digest
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			att.ID, msg.ID, att.Filename, att.ContentType,
			att.SizeBytes, att.StoragePath, att.Digest,
		)
		if err != nil {
			return fmt.Errorf("inserting attachment %s: %w", att.Filename, err)
		}
	}

	if err := enqueueReceivedEvent(ctx, tx, msg); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// UpdateMessage rewrites mutable message fields and tags.
func (s *Store) UpdateMessage(ctx context.Context, msg *domain.EmailMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE emails SET
			subject = ?, body_text = ?, snippet = ?, is_read = ?, is_flagged = ?,
			priority = ?, urgent = ?, category = ?, sentiment = ?, requires_response = ?
		WHERE id = ?`,
		msg.Subject, msg.BodyText, msg.Snippet, msg.IsRead, msg.IsFlagged,
		msg.Tags.Priority, msg.Tags.Urgent, msg.Tags.Category,
		msg.Tags.Sentiment, msg.Tags.RequiresResponse,
		msg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", msg.ID, err)
	}
	return nil
}

// CountMessages returns how many messages are persisted for an account.
func (s *Store) CountMessages(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM emails WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}
