/**
 * @description
 * PostgreSQL implementation of the OutboxRepository. Claiming uses
 * FOR UPDATE SKIP LOCKED so multiple relay workers never fight over the same
 * rows, and rows left in processing by a crashed relay become claimable again
 * after a staleness window: at-least-once delivery, duplicates resolved by
 * consumer-side dedup.
 */

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finverse/banking-platform/internal/domain"
)

type PostgresOutboxRepository struct {
	db *pgxpool.Pool
}

func NewPostgresOutboxRepository(db *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

func (r *PostgresOutboxRepository) ClaimPending(ctx context.Context, limit int, staleAfterSeconds int) ([]domain.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	// Ordering by created_at, id keeps entries for one account in the order
	// their producing commands committed.
	rows, err := r.db.Query(ctx, `
		WITH candidates AS (
			SELECT id
			FROM outbox_entries
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_entries AS o
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id, o.aggregate_id, o.event_type, o.payload::text, o.attempts, o.created_at
	`, limit, staleAfterSeconds)
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.OutboxEntry, 0, limit)
	for rows.Next() {
		var (
			entry       domain.OutboxEntry
			payloadText string
		)
		if err := rows.Scan(&entry.ID, &entry.AggregateID, &entry.EventType, &payloadText, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.Payload = []byte(payloadText)
		entry.Status = domain.OutboxProcessing
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *PostgresOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_entries
		SET status = 'published',
			published_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

func (r *PostgresOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_entries
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return err
}

func (r *PostgresOutboxRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_entries
		SET status = 'dead_letter',
			processing_started_at = NULL,
			last_error = $2
		WHERE id = $1
	`, id, reason)
	return err
}
