package app

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/store"
)

// AccountConsumerName keys the account-service's dedup markers.
const AccountConsumerName = "account-service"

// NewTransferCreditConsumer builds the account-service consumer that applies
// the credit leg of cross-account transfers. The ledger write (destination
// account, transfer_in entry, its outbox event) shares the dedup transaction,
// so a crash anywhere leaves either nothing or everything.
func NewTransferCreditConsumer(handler *CommandHandler, dedup store.DedupRepository) *EventConsumer {
	return NewEventConsumer(AccountConsumerName, dedup, func(ctx context.Context, tx pgx.Tx, event domain.EventEnvelope) error {
		return handler.HandleTransferOut(ctx, tx, event)
	})
}
