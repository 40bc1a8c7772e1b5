/**
 * @description
 * PostgreSQL implementation of the LedgerRepository. All writes that change a
 * balance go through one code path: update the account row conditioned on its
 * version, insert the new ledger entries with their per-account sequence
 * numbers, and insert the outbox rows, all in a single transaction. A version
 * mismatch aborts with domain.ErrConcurrencyConflict before anything else is
 * written.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5 (+pgxpool): database access, raw SQL.
 * - github.com/shopspring/decimal: exact money scanning via NUMERIC.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finverse/banking-platform/internal/domain"
)

// PostgresLedgerRepository implements LedgerRepository against pgxpool.
type PostgresLedgerRepository struct {
	db *pgxpool.Pool
}

func NewPostgresLedgerRepository(db *pgxpool.Pool) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

const accountColumns = `id, account_number, owner_id, account_type, balance, status, version, created_at, updated_at`

func (r *PostgresLedgerRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *PostgresLedgerRepository) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
	return scanAccount(row)
}

func (r *PostgresLedgerRepository) GetAccountByNumberTx(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.AccountNumber,
		&account.OwnerID,
		&account.Type,
		&account.Balance,
		&account.Status,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &account, nil
}

func (r *PostgresLedgerRepository) CreateAccountAndOutbox(
	ctx context.Context,
	account *domain.Account,
	txs []domain.Transaction,
	events []domain.EventEnvelope,
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create account: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, account_number, owner_id, account_type, balance, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
	`,
		account.ID,
		account.AccountNumber,
		account.OwnerID,
		account.Type,
		account.Balance,
		account.Status,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("account number collision on %s: %w", pgErr.ConstraintName, err)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	account.Version = 1

	if err := insertEntriesAndOutboxTx(ctx, tx, account.ID, txs, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresLedgerRepository) SaveAccountAndOutbox(
	ctx context.Context,
	account *domain.Account,
	expectedVersion int64,
	txs []domain.Transaction,
	events []domain.EventEnvelope,
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ledger save: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.SaveAccountAndOutboxTx(ctx, tx, account, expectedVersion, txs, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresLedgerRepository) SaveAccountAndOutboxTx(
	ctx context.Context,
	tx pgx.Tx,
	account *domain.Account,
	expectedVersion int64,
	txs []domain.Transaction,
	events []domain.EventEnvelope,
) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $1, status = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5
	`,
		account.Balance,
		account.Status,
		account.UpdatedAt,
		account.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrencyConflict
	}
	account.Version = expectedVersion + 1

	return insertEntriesAndOutboxTx(ctx, tx, account.ID, txs, events)
}

// insertEntriesAndOutboxTx assigns per-account sequence numbers, inserts the
// ledger entries, and writes the outbox rows with the fully resolved payload.
// The MAX+1 assignment is safe because the version check above serializes
// committed writers for one account.
func insertEntriesAndOutboxTx(
	ctx context.Context,
	tx pgx.Tx,
	accountID uuid.UUID,
	txs []domain.Transaction,
	events []domain.EventEnvelope,
) error {
	sequenceByTransaction := make(map[uuid.UUID]int64, len(txs))

	for i := range txs {
		entry := &txs[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO transactions (id, account_id, sequence_no, type, amount, balance_after, description, source_event_id, created_at)
			VALUES ($1, $2, (SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM transactions WHERE account_id = $2), $3, $4, $5, $6, $7, $8)
			RETURNING sequence_no
		`,
			entry.ID,
			entry.AccountID,
			entry.Type,
			entry.Amount,
			entry.BalanceAfter,
			entry.Description,
			entry.SourceEventID,
			entry.CreatedAt,
		).Scan(&entry.SequenceNo)
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", entry.ID, err)
		}
		sequenceByTransaction[entry.ID] = entry.SequenceNo
	}

	for i := range events {
		event := &events[i]
		if seq, ok := sequenceByTransaction[event.TransactionID]; ok {
			event.SequenceNo = seq
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", event.EventID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO outbox_entries (id, aggregate_id, event_type, payload, status, attempts, created_at)
			VALUES ($1, $2, $3, $4::jsonb, 'pending', 0, $5)
		`,
			event.EventID,
			accountID,
			event.EventType,
			string(payload),
			event.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry %s: %w", event.EventID, err)
		}
	}
	return nil
}

func (r *PostgresLedgerRepository) ParkUnroutableTx(
	ctx context.Context,
	tx pgx.Tx,
	consumerName string,
	event domain.EventEnvelope,
	reason string,
) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal unroutable event %s: %w", event.EventID, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO unroutable_events (id, consumer_name, event_id, event_type, reason, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, NOW())
		ON CONFLICT (consumer_name, event_id) DO NOTHING
	`,
		uuid.New(),
		consumerName,
		event.EventID,
		event.EventType,
		reason,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("park unroutable event %s: %w", event.EventID, err)
	}
	return nil
}

func (r *PostgresLedgerRepository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, sequence_no, type, amount, balance_after, description, source_event_id, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY sequence_no DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		var entry domain.Transaction
		if err := rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&entry.SequenceNo,
			&entry.Type,
			&entry.Amount,
			&entry.BalanceAfter,
			&entry.Description,
			&entry.SourceEventID,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
