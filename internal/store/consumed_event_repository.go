/**
 * @description
 * PostgreSQL implementation of the DedupRepository. The uniqueness of
 * (event_id, consumer_name) is what turns the bus's at-least-once delivery
 * into effectively-once processing: the marker insert and the consumer's
 * effect share one transaction, so neither ever commits without the other.
 */

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDedupRepository struct {
	db *pgxpool.Pool
}

func NewPostgresDedupRepository(db *pgxpool.Pool) *PostgresDedupRepository {
	return &PostgresDedupRepository{db: db}
}

func (r *PostgresDedupRepository) ProcessOnce(ctx context.Context, eventID uuid.UUID, consumerName string, effect EffectFunc) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin dedup tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO consumed_events (event_id, consumer_name, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id, consumer_name) DO NOTHING
	`, eventID, consumerName)
	if err != nil {
		return false, fmt.Errorf("insert consumed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already processed. Nothing to commit, but commit anyway so the
		// caller path is uniform.
		return false, tx.Commit(ctx)
	}

	if err := effect(ctx, tx); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
