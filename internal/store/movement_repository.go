package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/finverse/banking-platform/internal/domain"
)

// PostgresMovementRepository backs the movement-service read model.
type PostgresMovementRepository struct {
	db *pgxpool.Pool
}

func NewPostgresMovementRepository(db *pgxpool.Pool) *PostgresMovementRepository {
	return &PostgresMovementRepository{db: db}
}

func (r *PostgresMovementRepository) InsertMovementTx(ctx context.Context, tx pgx.Tx, m domain.Movement) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO movements (id, account_id, transaction_id, sequence_no, type, amount, balance_after, description, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`,
		m.ID,
		m.AccountID,
		m.TransactionID,
		m.SequenceNo,
		m.Type,
		m.Amount,
		m.BalanceAfter,
		m.Description,
		m.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (r *PostgresMovementRepository) ListMovements(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Movement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, transaction_id, sequence_no, type, amount, balance_after, description, occurred_at, recorded_at
		FROM movements
		WHERE account_id = $1
		ORDER BY sequence_no DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.Movement, 0, limit)
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(
			&m.ID,
			&m.AccountID,
			&m.TransactionID,
			&m.SequenceNo,
			&m.Type,
			&m.Amount,
			&m.BalanceAfter,
			&m.Description,
			&m.OccurredAt,
			&m.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *PostgresMovementRepository) GetStatement(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*domain.Statement, error) {
	statement := &domain.Statement{
		AccountID:      accountID,
		From:           from,
		To:             to,
		TotalCredits:   decimal.Zero,
		TotalDebits:    decimal.Zero,
		ClosingBalance: decimal.Zero,
	}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0),
		       COALESCE(SUM(amount) FILTER (WHERE amount < 0), 0),
		       COALESCE((
		           SELECT balance_after FROM movements
		           WHERE account_id = $1 AND occurred_at < $3
		           ORDER BY sequence_no DESC LIMIT 1
		       ), 0)
		FROM movements
		WHERE account_id = $1 AND occurred_at >= $2 AND occurred_at < $3
	`, accountID, from, to).Scan(
		&statement.MovementCount,
		&statement.TotalCredits,
		&statement.TotalDebits,
		&statement.ClosingBalance,
	)
	if err != nil {
		return nil, fmt.Errorf("statement query: %w", err)
	}
	return statement, nil
}
