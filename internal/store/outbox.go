package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// OutboxMessage is one event row awaiting publication.
type OutboxMessage struct {
	ID      int64  `db:"id"`
	Subject string `db:"subject"`
	Payload []byte `db:"payload"`
	MsgID   string `db:"msg_id"`
}

// receivedEvent is the payload published for every persisted message.
type receivedEvent struct {
	EventID     string    `json:"event_id"`
	Timestamp   int64     `json:"ts"`
	AccountID   string    `json:"account_id"`
	Provider    string    `json:"provider"`
	MessageID   string    `json:"provider_message_id"`
	ThreadID    string    `json:"provider_thread_id,omitempty"`
	Folder      string    `json:"folder"`
	Subject     string    `json:"subject"`
	Sender      string    `json:"sender"`
	ReceivedAt  time.Time `json:"received_at"`
	Attachments int       `json:"attachments"`
}

// enqueueReceivedEvent appends an email.received entry inside the
// caller's transaction. The msg_id doubles as the broker-side
// de-duplication key.
func enqueueReceivedEvent(ctx context.Context, tx *sqlx.Tx, msg *domain.EmailMessage) error {
	event := receivedEvent{
		EventID:     uuid.NewString(),
		Timestamp:   time.Now().Unix(),
		AccountID:   msg.AccountID,
		Provider:    string(msg.Provider),
		MessageID:   msg.MessageID,
		ThreadID:    msg.ThreadID,
		Folder:      string(msg.Folder),
		Subject:     msg.Subject,
		Sender:      msg.Sender,
		ReceivedAt:  msg.ReceivedAt,
		Attachments: len(msg.Attachments),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event payload: %w", err)
	}

	subject := fmt.Sprintf("mail.%s.email.received", msg.AccountID)
	msgID := fmt.Sprintf("email.received|%s|%s", msg.Provider, msg.MessageID)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), subject, "email.received", payload, msgID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting outbox entry: %w", err)
	}
	return nil
}

// DequeueOutbox fetches unpublished entries whose next attempt is due.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := s.db.SelectContext(ctx, &messages, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?`,
		time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	return messages, nil
}

// MarkPublished stamps an entry as delivered.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("marking outbox entry published: %w", err)
	}
	return nil
}

// MarkOutboxRetry bumps the retry count and defers the next attempt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1, next_attempt_at = ?
		WHERE id = ?`,
		time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("marking outbox entry for retry: %w", err)
	}
	return nil
}
