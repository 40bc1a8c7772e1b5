/**
 * @description
 * This file defines the ledger entry model shared by all services. A
 * Transaction is immutable once persisted; its position within an account's
 * history is the sequence number assigned by the ledger store at persistence
 * time, never wall-clock time.
 *
 * @notes
 * - Amounts are signed decimals: positive for credits, negative for debits.
 *   Using shopspring/decimal keeps money arithmetic exact; floats never
 *   touch a balance.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates the ledger entry types.
type TransactionType string

const (
	TransactionDeposit     TransactionType = "deposit"
	TransactionWithdrawal  TransactionType = "withdrawal"
	TransactionTransferOut TransactionType = "transfer_out"
	TransactionTransferIn  TransactionType = "transfer_in"
	TransactionFee         TransactionType = "fee"
)

// IsCredit reports whether entries of this type carry a positive amount.
func (t TransactionType) IsCredit() bool {
	return t == TransactionDeposit || t == TransactionTransferIn
}

// EventType returns the routing key published for entries of this type.
func (t TransactionType) EventType() string {
	return "transaction." + string(t)
}

// Transaction is one immutable ledger entry for an account.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	SequenceNo    int64           `json:"sequence_no"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	SourceEventID *uuid.UUID      `json:"source_event_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ValidateSign enforces the amount-sign/type invariant.
func (tx *Transaction) ValidateSign() error {
	if tx.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if tx.Type.IsCredit() != tx.Amount.IsPositive() {
		return ErrAmountSignMismatch
	}
	return nil
}

// TransactionResult is what the command API returns to a synchronous caller.
// Downstream propagation (movements, notifications) is deliberately eventual
// and is not reflected here.
type TransactionResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Type          TransactionType `json:"type"`
	FeeCharged    decimal.Decimal `json:"fee_charged"`
}
