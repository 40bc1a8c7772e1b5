/**
 * @description
 * This file defines the repository interfaces for the platform's stores: the
 * ledger (accounts + transactions + outbox written atomically), the outbox
 * poll/mark surface used by the relay, the consumed-event dedup store used by
 * every consumer, and the movement/notification read models. Interfaces keep
 * the application logic testable against hand-written stubs.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Tx appears in the dedup effect signature so an
 *   effect and its dedup marker commit or roll back together.
 * - internal/domain: domain models and the shared error taxonomy.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finverse/banking-platform/internal/domain"
)

// LedgerRepository is the authoritative store for accounts and their ledger
// entries. Save methods persist the account row (version-checked), the new
// transactions, and the matching outbox entries as one atomic unit.
type LedgerRepository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error)

	// CreateAccountAndOutbox inserts a brand-new account together with its
	// initial-deposit entries, when any.
	CreateAccountAndOutbox(ctx context.Context, account *domain.Account, txs []domain.Transaction, events []domain.EventEnvelope) error

	// SaveAccountAndOutbox fails with domain.ErrConcurrencyConflict when the
	// stored version no longer equals expectedVersion. On success the
	// account's version is bumped and sequence numbers are assigned to the
	// entries and events in place.
	SaveAccountAndOutbox(ctx context.Context, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error

	// Tx-scoped variants let an event consumer persist the ledger effect in
	// the same transaction as its dedup marker.
	GetAccountByNumberTx(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error)
	SaveAccountAndOutboxTx(ctx context.Context, tx pgx.Tx, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error

	// ParkUnroutableTx durably records an event whose effect is terminally
	// unapplicable, in the same transaction as the dedup marker, so the drop
	// is visible to operators instead of vanishing into a log line.
	ParkUnroutableTx(ctx context.Context, tx pgx.Tx, consumerName string, event domain.EventEnvelope, reason string) error

	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
}

// OutboxRepository is the relay's view of the outbox table.
type OutboxRepository interface {
	// ClaimPending atomically flips up to limit due rows to processing and
	// increments their attempt counter. Rows stuck in processing longer than
	// staleAfterSeconds (a crashed relay) are reclaimed.
	ClaimPending(ctx context.Context, limit int, staleAfterSeconds int) ([]domain.OutboxEntry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	// MarkFailed returns the row to pending with a delayed next attempt.
	MarkFailed(ctx context.Context, id uuid.UUID, retryAfterSeconds int, reason string) error
	// MarkDeadLetter parks the row out of the poll for operator intervention.
	MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error
}

// EffectFunc is a consumer's local side effect, executed inside the same
// transaction as the dedup marker insert.
type EffectFunc func(ctx context.Context, tx pgx.Tx) error

// DedupRepository enforces idempotent event consumption.
type DedupRepository interface {
	// ProcessOnce inserts the (eventID, consumerName) marker and runs effect
	// in the same transaction. It returns (false, nil) when the marker
	// already exists: the event was processed before and the effect is
	// skipped. Any effect error rolls the marker back.
	ProcessOnce(ctx context.Context, eventID uuid.UUID, consumerName string, effect EffectFunc) (bool, error)
}

// MovementRepository is the movement-service read model.
type MovementRepository interface {
	InsertMovementTx(ctx context.Context, tx pgx.Tx, m domain.Movement) error
	ListMovements(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Movement, error)
	GetStatement(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*domain.Statement, error)
}

// NotificationRepository is the notification-service read model.
type NotificationRepository interface {
	InsertNotificationTx(ctx context.Context, tx pgx.Tx, n domain.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error)
}
