/**
 * @description
 * The Outbox Relay: a background worker that drains pending outbox entries to
 * the event bus. Entries are claimed in small batches ordered by creation
 * time, published one by one, and only marked published after the broker
 * acknowledges. A crash between publish and mark-published yields a duplicate
 * publish on the next poll; consumers dedup by event id, so that is safe.
 * Entries failing more often than the attempt threshold are parked in a
 * dead-letter state and excluded from polling.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/finverse/banking-platform/internal/store"
)

const (
	defaultRelayBatchSize       = 50
	defaultRelayPollInterval    = 1200 * time.Millisecond
	defaultRelayStaleProcessing = 2 * time.Minute
	defaultRelayMaxAttempts     = 10
	defaultRelayPublishTimeout  = 10 * time.Second
)

// Publisher is the bus surface the relay needs. Publish must not return nil
// before the broker has acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, eventID string, body []byte) error
}

type OutboxRelay struct {
	repo            store.OutboxRepository
	publisher       Publisher
	batchSize       int
	pollInterval    time.Duration
	staleProcessing time.Duration
	maxAttempts     int
	publishTimeout  time.Duration
}

func NewOutboxRelay(repo store.OutboxRepository, publisher Publisher) *OutboxRelay {
	return &OutboxRelay{
		repo:            repo,
		publisher:       publisher,
		batchSize:       defaultRelayBatchSize,
		pollInterval:    defaultRelayPollInterval,
		staleProcessing: defaultRelayStaleProcessing,
		maxAttempts:     defaultRelayMaxAttempts,
		publishTimeout:  defaultRelayPublishTimeout,
	}
}

// Configure overrides polling knobs. Zero values keep the defaults.
func (r *OutboxRelay) Configure(batchSize int, pollInterval time.Duration, staleProcessing time.Duration, maxAttempts int) {
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if staleProcessing > 0 {
		r.staleProcessing = staleProcessing
	}
	if maxAttempts > 0 {
		r.maxAttempts = maxAttempts
	}
}

// Run polls until the context is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.FlushOnce(ctx); err != nil {
				log.Printf("level=error component=outbox_relay msg=\"flush failed\" err=%v", err)
			}
		}
	}
}

// FlushOnce claims one batch and pushes it to the bus. A publish failure
// reschedules that entry and holds back the rest of the batch for the same
// account, so events for one account never reach the bus out of order; other
// accounts in the batch keep flowing.
func (r *OutboxRelay) FlushOnce(ctx context.Context) error {
	staleAfterSeconds := int(r.staleProcessing.Seconds())
	entries, err := r.repo.ClaimPending(ctx, r.batchSize, staleAfterSeconds)
	if err != nil {
		return fmt.Errorf("claim pending: %w", err)
	}

	// Accounts with a failed publish earlier in this batch, and the delay
	// their held-back entries inherit.
	heldBack := make(map[uuid.UUID]int)

	for _, entry := range entries {
		if retryAfter, held := heldBack[entry.AggregateID]; held {
			if err := r.repo.MarkFailed(ctx, entry.ID, retryAfter, "held back behind an earlier unpublished entry"); err != nil {
				log.Printf("level=error component=outbox_relay msg=\"held-back mark failed\" entry_id=%s err=%v", entry.ID, err)
			}
			continue
		}
		if entry.Attempts > r.maxAttempts {
			log.Printf("level=error component=outbox_relay msg=\"attempt threshold exceeded; dead-lettering\" entry_id=%s event_type=%s attempts=%d", entry.ID, entry.EventType, entry.Attempts)
			if err := r.repo.MarkDeadLetter(ctx, entry.ID, fmt.Sprintf("exceeded %d attempts", r.maxAttempts)); err != nil {
				log.Printf("level=error component=outbox_relay msg=\"dead-letter mark failed\" entry_id=%s err=%v", entry.ID, err)
			}
			continue
		}

		publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		err := r.publisher.Publish(publishCtx, entry.EventType, entry.ID.String(), entry.Payload)
		cancel()
		if err != nil {
			// A timed-out publish may still have reached the broker; the
			// entry stays pending and consumers dedup the duplicate.
			retryAfter := retryDelaySeconds(entry.Attempts)
			heldBack[entry.AggregateID] = retryAfter
			log.Printf("level=warn component=outbox_relay msg=\"publish failed; rescheduling\" entry_id=%s attempts=%d retry_after_s=%d err=%v", entry.ID, entry.Attempts, retryAfter, err)
			if markErr := r.repo.MarkFailed(ctx, entry.ID, retryAfter, err.Error()); markErr != nil {
				log.Printf("level=error component=outbox_relay msg=\"failure mark failed\" entry_id=%s err=%v", entry.ID, markErr)
			}
			continue
		}

		if err := r.repo.MarkPublished(ctx, entry.ID); err != nil {
			// Next poll re-publishes this entry; harmless duplicate.
			log.Printf("level=error component=outbox_relay msg=\"published mark failed\" entry_id=%s err=%v", entry.ID, err)
		}
	}
	return nil
}

// retryDelaySeconds backs off exponentially, capped at five minutes.
func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	if attempt > 8 {
		attempt = 8
	}
	delay := 1 << attempt
	if delay > 300 {
		return 300
	}
	return delay
}
