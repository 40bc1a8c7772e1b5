/**
 * @description
 * This file contains the Transaction Command Handler: the only write path
 * into the ledger. Each command validates its input, loads a fresh copy of
 * the account, applies the aggregate mutation, and persists the account row,
 * the new ledger entries, and the outbox rows as one atomic unit. A version
 * conflict retries the whole command with a reload, a bounded number of
 * times. Nothing here talks to the bus: publication is the relay's job, so
 * the caller's latency never depends on bus availability.
 *
 * @dependencies
 * - internal/domain: the Account aggregate and error taxonomy.
 * - internal/store: the LedgerRepository contract.
 */

package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/store"
)

const (
	defaultMaxRetries     = 3
	defaultStorageTimeout = 5 * time.Second
)

// CommandHandler executes balance-changing commands against the ledger.
type CommandHandler struct {
	ledger         store.LedgerRepository
	policies       domain.PolicySet
	maxRetries     int
	storageTimeout time.Duration
}

func NewCommandHandler(ledger store.LedgerRepository, policies domain.PolicySet) *CommandHandler {
	if policies == nil {
		policies = domain.DefaultPolicies()
	}
	return &CommandHandler{
		ledger:         ledger,
		policies:       policies,
		maxRetries:     defaultMaxRetries,
		storageTimeout: defaultStorageTimeout,
	}
}

// Configure overrides the retry bound and per-attempt storage timeout.
func (h *CommandHandler) Configure(maxRetries int, storageTimeout time.Duration) {
	if maxRetries >= 0 {
		h.maxRetries = maxRetries
	}
	if storageTimeout > 0 {
		h.storageTimeout = storageTimeout
	}
}

// OpenAccount creates an Active account. A positive initial deposit lands in
// the ledger as the account's first entry, with its own outbox event.
func (h *CommandHandler) OpenAccount(ctx context.Context, ownerID uuid.UUID, accountType domain.AccountType, initialDeposit decimal.Decimal) (*domain.Account, error) {
	if initialDeposit.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}

	account := domain.NewAccount(ownerID, accountType)
	if initialDeposit.IsPositive() {
		if _, err := account.Deposit(initialDeposit, "initial deposit"); err != nil {
			return nil, err
		}
	}
	txs, events := account.CollectPending()

	opCtx, cancel := context.WithTimeout(ctx, h.storageTimeout)
	defer cancel()
	if err := h.ledger.CreateAccountAndOutbox(opCtx, account, txs, events); err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccount returns the current account state.
func (h *CommandHandler) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.storageTimeout)
	defer cancel()
	return h.ledger.GetAccount(opCtx, accountID)
}

// ListTransactions returns recent ledger entries for an account.
func (h *CommandHandler) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.storageTimeout)
	defer cancel()
	return h.ledger.ListTransactions(opCtx, accountID, limit, offset)
}

// CreateDeposit credits an account.
func (h *CommandHandler) CreateDeposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.TransactionResult, error) {
	if err := validateCommandInput(amount, description); err != nil {
		return nil, err
	}
	return h.mutate(ctx, accountID, func(account *domain.Account) (*domain.Transaction, error) {
		return account.Deposit(amount, description)
	})
}

// CreateWithdrawal debits an account under its type's policy.
func (h *CommandHandler) CreateWithdrawal(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.TransactionResult, error) {
	if err := validateCommandInput(amount, description); err != nil {
		return nil, err
	}
	return h.mutate(ctx, accountID, func(account *domain.Account) (*domain.Transaction, error) {
		return account.Withdraw(amount, description, h.policies.For(account.Type))
	})
}

// CreateTransfer executes the debit leg of a cross-account transfer. The
// credit leg is applied by the account consumer when the transfer_out event
// arrives; the two legs are eventually consistent by design.
func (h *CommandHandler) CreateTransfer(ctx context.Context, sourceAccountID uuid.UUID, destinationNumber string, amount decimal.Decimal, description string) (*domain.TransactionResult, error) {
	if err := validateCommandInput(amount, description); err != nil {
		return nil, err
	}
	destinationNumber = strings.TrimSpace(destinationNumber)
	if destinationNumber == "" {
		return nil, &domain.Error{Kind: domain.KindValidation, Code: "missing_destination", Message: "destination account number is required"}
	}

	// Fast rejection for unknown destinations; the authoritative check is
	// still the consumer's, since the destination can close in between.
	lookupCtx, cancel := context.WithTimeout(ctx, h.storageTimeout)
	destination, err := h.ledger.GetAccountByNumber(lookupCtx, destinationNumber)
	cancel()
	if err != nil {
		return nil, err
	}
	if destination.ID == sourceAccountID {
		return nil, &domain.Error{Kind: domain.KindValidation, Code: "self_transfer", Message: "source and destination accounts are the same"}
	}

	return h.mutate(ctx, sourceAccountID, func(account *domain.Account) (*domain.Transaction, error) {
		return account.TransferOut(amount, description, h.policies.For(account.Type), destinationNumber)
	})
}

// SuspendAccount, ReactivateAccount, and CloseAccount run lifecycle commands
// through the same version-checked save path as balance changes.
func (h *CommandHandler) SuspendAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return h.mutateStatus(ctx, accountID, (*domain.Account).Suspend)
}

func (h *CommandHandler) ReactivateAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return h.mutateStatus(ctx, accountID, (*domain.Account).Reactivate)
}

func (h *CommandHandler) CloseAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return h.mutateStatus(ctx, accountID, (*domain.Account).Close)
}

// HandleTransferOut applies the credit leg of a transfer inside the caller's
// dedup transaction. A suspended destination is transient: the error is
// returned so the message is redelivered and the credit lands after
// reactivation. Unknown and closed destinations are terminal: the event is
// parked durably for operator intervention before the delivery is acked.
func (h *CommandHandler) HandleTransferOut(ctx context.Context, tx pgx.Tx, event domain.EventEnvelope) error {
	if event.CounterpartyAccount == "" {
		return h.parkCreditLeg(ctx, tx, event, "transfer_out event missing counterparty")
	}

	destination, err := h.ledger.GetAccountByNumberTx(ctx, tx, event.CounterpartyAccount)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return h.parkCreditLeg(ctx, tx, event, "destination account not found")
		}
		return err
	}
	if destination.Status == domain.AccountSuspended {
		log.Printf("level=warn component=command_handler msg=\"destination suspended; deferring credit\" event_id=%s destination=%s", event.EventID, destination.ID)
		return domain.ErrAccountNotActive
	}

	creditAmount := event.Amount.Abs()
	expectedVersion := destination.Version
	if _, err := destination.ApplyExternalCredit(creditAmount, event.Description, event.EventID); err != nil {
		if domain.KindOf(err) == domain.KindDomain {
			return h.parkCreditLeg(ctx, tx, event, err.Error())
		}
		return err
	}
	txs, events := destination.CollectPending()
	return h.ledger.SaveAccountAndOutboxTx(ctx, tx, destination, expectedVersion, txs, events)
}

// parkCreditLeg records a terminally unroutable transfer event in the same
// transaction as the dedup marker. The committed source debit stays visible
// in the parked row; releasing the funds is an operator decision.
func (h *CommandHandler) parkCreditLeg(ctx context.Context, tx pgx.Tx, event domain.EventEnvelope, reason string) error {
	log.Printf("level=error component=command_handler msg=\"credit leg unroutable; parking\" event_id=%s destination=%q reason=%q", event.EventID, event.CounterpartyAccount, reason)
	return h.ledger.ParkUnroutableTx(ctx, tx, AccountConsumerName, event, reason)
}

// mutate runs one balance-changing command with optimistic-conflict retry.
// Domain and validation failures return immediately; only version conflicts
// reload and retry.
func (h *CommandHandler) mutate(ctx context.Context, accountID uuid.UUID, apply func(*domain.Account) (*domain.Transaction, error)) (*domain.TransactionResult, error) {
	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, h.storageTimeout)
		result, err := h.attempt(opCtx, accountID, apply)
		cancel()
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, err
		}
		lastErr = err
		log.Printf("level=warn component=command_handler msg=\"version conflict; retrying command\" account_id=%s attempt=%d", accountID, attempt+1)
	}
	return nil, lastErr
}

func (h *CommandHandler) attempt(ctx context.Context, accountID uuid.UUID, apply func(*domain.Account) (*domain.Transaction, error)) (*domain.TransactionResult, error) {
	account, err := h.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	expectedVersion := account.Version
	balanceBefore := account.Balance

	tx, err := apply(account)
	if err != nil {
		return nil, err
	}
	txs, events := account.CollectPending()
	if err := h.ledger.SaveAccountAndOutbox(ctx, account, expectedVersion, txs, events); err != nil {
		return nil, err
	}

	// Fee = whatever the command moved beyond the primary entry.
	fee := balanceBefore.Add(tx.Amount).Sub(account.Balance).Abs()
	return &domain.TransactionResult{
		TransactionID: tx.ID,
		AccountID:     account.ID,
		NewBalance:    account.Balance,
		Type:          tx.Type,
		FeeCharged:    fee,
	}, nil
}

func (h *CommandHandler) mutateStatus(ctx context.Context, accountID uuid.UUID, apply func(*domain.Account) error) (*domain.Account, error) {
	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, h.storageTimeout)
		account, err := h.statusAttempt(opCtx, accountID, apply)
		cancel()
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (h *CommandHandler) statusAttempt(ctx context.Context, accountID uuid.UUID, apply func(*domain.Account) error) (*domain.Account, error) {
	account, err := h.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	expectedVersion := account.Version
	if err := apply(account); err != nil {
		return nil, err
	}
	txs, events := account.CollectPending()
	if err := h.ledger.SaveAccountAndOutbox(ctx, account, expectedVersion, txs, events); err != nil {
		return nil, err
	}
	return account, nil
}

func validateCommandInput(amount decimal.Decimal, description string) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if len(description) > 255 {
		return domain.ErrDescriptionTooLong
	}
	return nil
}
