package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/store"
)

// Outbox is the slice of the store the dispatcher drains.
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]store.OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// Dispatcher continuously moves outbox entries into NATS. Publish
// failures are retried with a fixed backoff; nothing is dropped.
type Dispatcher struct {
	outbox    Outbox
	publisher *Publisher
}

func NewDispatcher(outbox Outbox, publisher *Publisher) *Dispatcher {
	return &Dispatcher{outbox: outbox, publisher: publisher}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := d.outbox.DequeueOutbox(ctx, 100)
		if err != nil {
			logrus.WithError(err).Error("Failed to dequeue outbox")
			sleep(ctx, time.Second)
			continue
		}

		if len(messages) == 0 {
			sleep(ctx, 500*time.Millisecond)
			continue
		}

		for _, msg := range messages {
			if err := d.publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				logrus.WithError(err).WithField("outbox_id", msg.ID).
					Warn("Failed to publish event, scheduling retry")
				_ = d.outbox.MarkOutboxRetry(ctx, msg.ID, 10*time.Second)
				continue
			}
			if err := d.outbox.MarkPublished(ctx, msg.ID); err != nil {
				logrus.WithError(err).WithField("outbox_id", msg.ID).
					Error("Failed to mark event published")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
