package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Movement is the movement-service read model: one row per consumed
// transaction event, ordered per account by sequence number.
type Movement struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	SequenceNo    int64           `json:"sequence_no"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	OccurredAt    time.Time       `json:"occurred_at"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// Statement summarizes an account's movements over a window.
type Statement struct {
	AccountID      uuid.UUID       `json:"account_id"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	MovementCount  int64           `json:"movement_count"`
	TotalCredits   decimal.Decimal `json:"total_credits"`
	TotalDebits    decimal.Decimal `json:"total_debits"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}
