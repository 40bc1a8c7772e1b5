/**
 * @description
 * This file defines the event envelope published on the bus and the outbox
 * entry that carries it. The envelope's event_id equals the outbox row id and
 * is the sole idempotency key for every consumer.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys not derived from a transaction type.
const (
	EventTypeAccountStatusChanged = "account.status_changed"
)

// EventEnvelope is the payload published on the bus for every committed
// balance change. SequenceNo and BalanceAfter are supplements for read models
// so they can order and project without calling back into the ledger.
type EventEnvelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AccountID     uuid.UUID       `json:"account_id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	SequenceNo    int64           `json:"sequence_no"`
	Description   string          `json:"description"`
	// CounterpartyAccount carries the destination account number on
	// transfer_out events; the account consumer routes the credit leg by it.
	CounterpartyAccount string    `json:"counterparty_account,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxPublished  OutboxStatus = "published"
	OutboxDeadLetter OutboxStatus = "dead_letter"
)

// OutboxEntry is written in the exact same local transaction as the ledger
// rows it describes. The relay owns every state transition after that.
type OutboxEntry struct {
	ID          uuid.UUID // equals EventEnvelope.EventID
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	Status      OutboxStatus
	Attempts    int
	CreatedAt   time.Time
	PublishedAt *time.Time
}
