/**
 * @description
 * Movement-service core: projects transaction events into the movement read
 * model and answers history/statement queries. The projector runs inside the
 * shared idempotent-consumer runtime, so every event lands exactly once no
 * matter how often the bus redelivers it.
 */

package movement

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finverse/banking-platform/internal/app"
	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/store"
)

// ConsumerName keys the movement-service's dedup markers.
const ConsumerName = "movement-service"

type Service struct {
	repo store.MovementRepository
}

func NewService(repo store.MovementRepository) *Service {
	return &Service{repo: repo}
}

// NewProjector wires the projection effect into the consumer runtime.
func (s *Service) NewProjector(dedup store.DedupRepository) *app.EventConsumer {
	return app.NewEventConsumer(ConsumerName, dedup, s.project)
}

func (s *Service) project(ctx context.Context, tx pgx.Tx, event domain.EventEnvelope) error {
	// Status-change events carry no ledger entry and have no movement row.
	if !strings.HasPrefix(event.EventType, "transaction.") {
		return nil
	}
	return s.repo.InsertMovementTx(ctx, tx, domain.Movement{
		ID:            uuid.New(),
		AccountID:     event.AccountID,
		TransactionID: event.TransactionID,
		SequenceNo:    event.SequenceNo,
		Type:          strings.TrimPrefix(event.EventType, "transaction."),
		Amount:        event.Amount,
		BalanceAfter:  event.BalanceAfter,
		Description:   event.Description,
		OccurredAt:    event.OccurredAt,
	})
}

func (s *Service) ListMovements(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Movement, error) {
	return s.repo.ListMovements(ctx, accountID, limit, offset)
}

// GetStatement summarizes a window; a zero `to` means now, a zero `from`
// means the last 30 days.
func (s *Service) GetStatement(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*domain.Statement, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		return nil, &domain.Error{Kind: domain.KindValidation, Code: "invalid_window", Message: "statement window start must precede its end"}
	}
	return s.repo.GetStatement(ctx, accountID, from, to)
}
