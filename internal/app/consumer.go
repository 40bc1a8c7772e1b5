/**
 * @description
 * Shared idempotent event-consumer runtime. Every downstream service wraps
 * its local effect in an EventConsumer: the envelope is decoded, the dedup
 * store inserts the (event id, consumer name) marker and runs the effect in
 * the same transaction, and the bus message is acked or nacked from the
 * outcome. Redelivery of an already-processed event is acked without
 * reapplying the effect, which is what turns at-least-once delivery into
 * effectively-once processing.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/store"
)

const defaultConsumeTimeout = 15 * time.Second

// Effect is a service's local reaction to one event, executed inside the
// dedup transaction.
type Effect func(ctx context.Context, tx pgx.Tx, event domain.EventEnvelope) error

// EventConsumer adapts an Effect to the bus handler contract.
type EventConsumer struct {
	name    string
	dedup   store.DedupRepository
	effect  Effect
	timeout time.Duration
}

func NewEventConsumer(name string, dedup store.DedupRepository, effect Effect) *EventConsumer {
	return &EventConsumer{
		name:    name,
		dedup:   dedup,
		effect:  effect,
		timeout: defaultConsumeTimeout,
	}
}

// HandleMessage implements the bus handler contract: true acks, false
// requeues. Malformed payloads are acked; requeueing garbage loops forever.
func (c *EventConsumer) HandleMessage(body []byte) bool {
	var event domain.EventEnvelope
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=event_consumer consumer=%s msg=\"unmarshal failed; dropping\" err=%v", c.name, err)
		return true
	}
	if event.EventID == uuid.Nil {
		log.Printf("level=error component=event_consumer consumer=%s msg=\"event missing id; dropping\" event_type=%s", c.name, event.EventType)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	applied, err := c.dedup.ProcessOnce(ctx, event.EventID, c.name, func(ctx context.Context, tx pgx.Tx) error {
		return c.effect(ctx, tx, event)
	})
	if err != nil {
		log.Printf("level=error component=event_consumer consumer=%s msg=\"effect failed; requeuing\" event_id=%s event_type=%s err=%v", c.name, event.EventID, event.EventType, err)
		return false
	}
	if !applied {
		log.Printf("level=info component=event_consumer consumer=%s msg=\"duplicate event; skipped\" event_id=%s", c.name, event.EventID)
	}
	return true
}
