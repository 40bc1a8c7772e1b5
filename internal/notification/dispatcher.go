/**
 * @description
 * Notification-service core: turns balance-changing events into in-app
 * notification rows. Dispatch is an idempotent local effect: the row insert
 * shares the dedup transaction, so a redelivered event never double-notifies.
 */

package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finverse/banking-platform/internal/app"
	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/store"
)

// ConsumerName keys the notification-service's dedup markers.
const ConsumerName = "notification-service"

type Service struct {
	repo store.NotificationRepository
}

func NewService(repo store.NotificationRepository) *Service {
	return &Service{repo: repo}
}

// NewDispatcher wires the dispatch effect into the consumer runtime.
func (s *Service) NewDispatcher(dedup store.DedupRepository) *app.EventConsumer {
	return app.NewEventConsumer(ConsumerName, dedup, s.dispatch)
}

func (s *Service) dispatch(ctx context.Context, tx pgx.Tx, event domain.EventEnvelope) error {
	title, body := render(event)
	if title == "" {
		return nil
	}
	return s.repo.InsertNotificationTx(ctx, tx, domain.Notification{
		ID:         uuid.New(),
		UserID:     event.OwnerID,
		AccountID:  event.AccountID,
		EventID:    event.EventID,
		Category:   event.EventType,
		Title:      title,
		Body:       body,
		OccurredAt: event.OccurredAt,
	})
}

func render(event domain.EventEnvelope) (title, body string) {
	switch event.EventType {
	case domain.TransactionDeposit.EventType():
		return "Deposit received", fmt.Sprintf("Your account was credited %s. New balance: %s.", event.Amount.StringFixed(2), event.BalanceAfter.StringFixed(2))
	case domain.TransactionWithdrawal.EventType():
		return "Withdrawal completed", fmt.Sprintf("Your account was debited %s. New balance: %s.", event.Amount.Abs().StringFixed(2), event.BalanceAfter.StringFixed(2))
	case domain.TransactionTransferOut.EventType():
		return "Transfer sent", fmt.Sprintf("You sent %s. New balance: %s.", event.Amount.Abs().StringFixed(2), event.BalanceAfter.StringFixed(2))
	case domain.TransactionTransferIn.EventType():
		return "Transfer received", fmt.Sprintf("You received %s. New balance: %s.", event.Amount.StringFixed(2), event.BalanceAfter.StringFixed(2))
	case domain.TransactionFee.EventType():
		return "Fee charged", fmt.Sprintf("A fee of %s was charged. New balance: %s.", event.Amount.Abs().StringFixed(2), event.BalanceAfter.StringFixed(2))
	case domain.EventTypeAccountStatusChanged:
		return "Account status changed", fmt.Sprintf("Your account is now %s.", strings.ToLower(event.Description))
	default:
		return "", ""
	}
}

func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	return s.repo.ListNotifications(ctx, userID, limit, offset)
}
