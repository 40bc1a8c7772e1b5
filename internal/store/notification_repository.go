package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finverse/banking-platform/internal/domain"
)

// PostgresNotificationRepository backs the notification-service read model.
type PostgresNotificationRepository struct {
	db *pgxpool.Pool
}

func NewPostgresNotificationRepository(db *pgxpool.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

func (r *PostgresNotificationRepository) InsertNotificationTx(ctx context.Context, tx pgx.Tx, n domain.Notification) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notifications (id, user_id, account_id, event_id, category, title, body, read, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, NOW())
	`,
		n.ID,
		n.UserID,
		n.AccountID,
		n.EventID,
		n.Category,
		n.Title,
		n.Body,
		n.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PostgresNotificationRepository) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, account_id, event_id, category, title, body, read, occurred_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Notification, 0, limit)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.AccountID,
			&n.EventID,
			&n.Category,
			&n.Title,
			&n.Body,
			&n.Read,
			&n.OccurredAt,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}
