/**
 * @description
 * This file defines the Account aggregate, the only place balance-changing
 * business rules are enforced. Mutations stage ledger entries and event
 * envelopes in memory; nothing is published from here. The command handler
 * collects the staged work and persists it together with the account row in
 * one local transaction.
 *
 * @notes
 * - Per-account-type rule variation lives in a policy table injected into
 *   rule evaluation, not in a type hierarchy.
 * - Version is the optimistic concurrency token checked by the ledger store
 *   at save time. The aggregate never touches it.
 */

package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of an account. Accounts are never
// physically deleted; Closed is terminal.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

// AccountType selects the policy row governing withdrawals and fees.
type AccountType string

const (
	AccountTypeStandard AccountType = "standard"
	AccountTypePremium  AccountType = "premium"
	AccountTypeBusiness AccountType = "business"
)

// AccountPolicy captures the per-type capabilities evaluated on debits.
// A zero-value policy means: no overdraft, no withdrawal cap, no fee.
type AccountPolicy struct {
	OverdraftLimit decimal.Decimal // balance may fall to -OverdraftLimit
	MaxWithdrawal  decimal.Decimal // zero means uncapped
	WithdrawalFee  decimal.Decimal // flat fee recorded as a separate Fee entry
}

// PolicySet maps account types to their policies.
type PolicySet map[AccountType]AccountPolicy

// For returns the policy for an account type, falling back to the strictest
// (zero-value) policy for unknown types.
func (p PolicySet) For(t AccountType) AccountPolicy {
	if policy, ok := p[t]; ok {
		return policy
	}
	return AccountPolicy{}
}

// DefaultPolicies returns the built-in policy table. Deployments override
// overdraft limits through configuration.
func DefaultPolicies() PolicySet {
	return PolicySet{
		AccountTypeStandard: {
			OverdraftLimit: decimal.Zero,
			MaxWithdrawal:  decimal.NewFromInt(5000),
			WithdrawalFee:  decimal.Zero,
		},
		AccountTypePremium: {
			OverdraftLimit: decimal.NewFromInt(500),
			MaxWithdrawal:  decimal.Zero,
			WithdrawalFee:  decimal.Zero,
		},
		AccountTypeBusiness: {
			OverdraftLimit: decimal.NewFromInt(2000),
			MaxWithdrawal:  decimal.Zero,
			WithdrawalFee:  decimal.RequireFromString("0.50"),
		},
	}
}

const maxDescriptionLength = 255

// Account is the aggregate root. The pending slices hold work staged by
// mutations since the last CollectPending call.
type Account struct {
	ID            uuid.UUID     `json:"id"`
	AccountNumber string        `json:"account_number"`
	OwnerID       uuid.UUID     `json:"owner_id"`
	Type          AccountType   `json:"type"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus `json:"status"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	pendingTransactions []Transaction
	pendingEvents       []EventEnvelope
}

// NewAccount creates an Active account with a zero balance. The initial
// deposit, when any, goes through Deposit so it lands in the ledger like
// every other credit.
func NewAccount(ownerID uuid.UUID, accountType AccountType) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:            uuid.New(),
		AccountNumber: NewAccountNumber(),
		OwnerID:       ownerID,
		Type:          accountType,
		Balance:       decimal.Zero,
		Status:        AccountActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Deposit credits the account. Fails with ErrInvalidAmount when amount <= 0
// and ErrAccountNotActive when the account is suspended or closed.
func (a *Account) Deposit(amount decimal.Decimal, description string) (*Transaction, error) {
	if err := a.checkMutable(amount, description); err != nil {
		return nil, err
	}
	a.Balance = a.Balance.Add(amount)
	return a.stage(TransactionDeposit, amount, description, nil), nil
}

// Withdraw debits the account under the supplied policy. A policy fee is
// staged as a separate Fee entry in the same command; the funds check covers
// amount plus fee so a withdrawal never succeeds while its fee overdraws.
func (a *Account) Withdraw(amount decimal.Decimal, description string, policy AccountPolicy) (*Transaction, error) {
	return a.debit(TransactionWithdrawal, amount, description, policy, nil)
}

// TransferOut debits the source leg of a cross-account transfer. The credit
// leg is applied by the destination side when it consumes the resulting
// event, routed by destinationNumber.
func (a *Account) TransferOut(amount decimal.Decimal, description string, policy AccountPolicy, destinationNumber string) (*Transaction, error) {
	tx, err := a.debit(TransactionTransferOut, amount, description, policy, nil)
	if err != nil {
		return nil, err
	}
	// The debit stages the transfer_out envelope last-but-one when a fee
	// follows it; find it by transaction id.
	for i := range a.pendingEvents {
		if a.pendingEvents[i].TransactionID == tx.ID {
			a.pendingEvents[i].CounterpartyAccount = destinationNumber
		}
	}
	return tx, nil
}

// ApplyExternalCredit credits the account in reaction to another service's
// event. sourceEventID is recorded for traceability; idempotency itself is
// enforced by the consumer's dedup marker, not here.
func (a *Account) ApplyExternalCredit(amount decimal.Decimal, description string, sourceEventID uuid.UUID) (*Transaction, error) {
	if err := a.checkMutable(amount, description); err != nil {
		return nil, err
	}
	a.Balance = a.Balance.Add(amount)
	return a.stage(TransactionTransferIn, amount, description, &sourceEventID), nil
}

// ApplyExternalDebit debits the account in reaction to another service's
// event, under the same funds invariants as a direct withdrawal.
func (a *Account) ApplyExternalDebit(amount decimal.Decimal, description string, policy AccountPolicy, sourceEventID uuid.UUID) (*Transaction, error) {
	return a.debit(TransactionTransferOut, amount, description, policy, &sourceEventID)
}

func (a *Account) debit(txType TransactionType, amount decimal.Decimal, description string, policy AccountPolicy, sourceEventID *uuid.UUID) (*Transaction, error) {
	if err := a.checkMutable(amount, description); err != nil {
		return nil, err
	}
	if !policy.MaxWithdrawal.IsZero() && amount.GreaterThan(policy.MaxWithdrawal) {
		return nil, ErrWithdrawalLimitExceeded
	}

	total := amount.Add(policy.WithdrawalFee)
	floor := policy.OverdraftLimit.Neg()
	if a.Balance.Sub(total).LessThan(floor) {
		return nil, ErrInsufficientFunds
	}

	a.Balance = a.Balance.Sub(amount)
	tx := a.stage(txType, amount.Neg(), description, sourceEventID)

	if policy.WithdrawalFee.IsPositive() {
		a.Balance = a.Balance.Sub(policy.WithdrawalFee)
		a.stage(TransactionFee, policy.WithdrawalFee.Neg(), fmt.Sprintf("fee: %s", txType), sourceEventID)
	}
	return tx, nil
}

// Suspend stops balance-changing operations until reactivation.
func (a *Account) Suspend() error {
	if a.Status == AccountClosed {
		return ErrAccountClosed
	}
	a.setStatus(AccountSuspended)
	return nil
}

// Reactivate returns a suspended account to Active.
func (a *Account) Reactivate() error {
	if a.Status == AccountClosed {
		return ErrAccountClosed
	}
	a.setStatus(AccountActive)
	return nil
}

// Close soft-closes the account. The balance must be exactly zero; funds are
// moved out through ordinary withdrawals or transfers first.
func (a *Account) Close() error {
	if a.Status == AccountClosed {
		return ErrAccountClosed
	}
	if !a.Balance.IsZero() {
		return ErrBalanceNotZero
	}
	a.setStatus(AccountClosed)
	return nil
}

// CollectPending returns the staged ledger entries and events and clears the
// staging area. The command handler calls this exactly once per command.
func (a *Account) CollectPending() ([]Transaction, []EventEnvelope) {
	txs, events := a.pendingTransactions, a.pendingEvents
	a.pendingTransactions, a.pendingEvents = nil, nil
	return txs, events
}

// HasPending reports whether any staged work has not been collected.
func (a *Account) HasPending() bool {
	return len(a.pendingTransactions) > 0 || len(a.pendingEvents) > 0
}

func (a *Account) checkMutable(amount decimal.Decimal, description string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(description) > maxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if a.Status != AccountActive {
		return ErrAccountNotActive
	}
	return nil
}

func (a *Account) stage(txType TransactionType, amount decimal.Decimal, description string, sourceEventID *uuid.UUID) *Transaction {
	now := time.Now().UTC()
	tx := Transaction{
		ID:            uuid.New(),
		AccountID:     a.ID,
		Type:          txType,
		Amount:        amount,
		BalanceAfter:  a.Balance,
		Description:   description,
		SourceEventID: sourceEventID,
		CreatedAt:     now,
	}
	a.UpdatedAt = now
	a.pendingTransactions = append(a.pendingTransactions, tx)
	a.pendingEvents = append(a.pendingEvents, EventEnvelope{
		EventID:       uuid.New(),
		EventType:     txType.EventType(),
		AccountID:     a.ID,
		OwnerID:       a.OwnerID,
		TransactionID: tx.ID,
		Amount:        amount,
		BalanceAfter:  a.Balance,
		Description:   description,
		OccurredAt:    now,
	})
	return &a.pendingTransactions[len(a.pendingTransactions)-1]
}

func (a *Account) setStatus(status AccountStatus) {
	now := time.Now().UTC()
	a.Status = status
	a.UpdatedAt = now
	a.pendingEvents = append(a.pendingEvents, EventEnvelope{
		EventID:     uuid.New(),
		EventType:   EventTypeAccountStatusChanged,
		AccountID:   a.ID,
		OwnerID:     a.OwnerID,
		Description: string(status),
		OccurredAt:  now,
	})
}

// NewAccountNumber generates a 10-digit account number. Uniqueness is
// enforced by the accounts table constraint, not here.
func NewAccountNumber() string {
	var sb strings.Builder
	sb.Grow(10)
	for i := 0; i < 10; i++ {
		max := big.NewInt(10)
		if i == 0 {
			max = big.NewInt(9)
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform is broken; fall back to
			// a fixed digit rather than abort account creation.
			sb.WriteByte('7')
			continue
		}
		digit := n.Int64()
		if i == 0 {
			digit++
		}
		sb.WriteByte(byte('0' + digit))
	}
	return sb.String()
}
