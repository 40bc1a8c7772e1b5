/**
 * @description
 * This file defines the error taxonomy shared by every service in the
 * platform. Business rule violations are ordinary values carrying a kind,
 * not panics: handlers map kinds to HTTP statuses and the command handler
 * decides retry behavior from the kind alone.
 *
 * @notes
 * - Validation and domain errors are never retried.
 * - Conflict errors are retried internally by the command handler a bounded
 *   number of times before being surfaced.
 * - Infrastructure errors are retried with backoff by the outbox relay and
 *   the event consumers; the synchronous caller only sees them when the
 *   ledger store itself is down at write time.
 */

package domain

import "errors"

// ErrorKind classifies an error for retry and HTTP mapping decisions.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindDomain         ErrorKind = "domain"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindInfrastructure ErrorKind = "infrastructure"
)

// Error is the platform's error value. Sentinel instances below are compared
// by identity with errors.Is, mirroring how the stores expose their own
// sentinels.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidAmount = &Error{Kind: KindValidation, Code: "invalid_amount", Message: "amount must be greater than zero"}

	ErrDescriptionTooLong = &Error{Kind: KindValidation, Code: "description_too_long", Message: "description exceeds 255 characters"}

	ErrAccountNotActive = &Error{Kind: KindDomain, Code: "account_not_active", Message: "account does not accept balance-changing operations"}

	ErrInsufficientFunds = &Error{Kind: KindDomain, Code: "insufficient_funds", Message: "balance would fall below the overdraft limit"}

	ErrWithdrawalLimitExceeded = &Error{Kind: KindDomain, Code: "withdrawal_limit_exceeded", Message: "amount exceeds the single-withdrawal limit for this account type"}

	ErrBalanceNotZero = &Error{Kind: KindDomain, Code: "balance_not_zero", Message: "account balance must be zero before closing"}

	ErrAccountClosed = &Error{Kind: KindDomain, Code: "account_closed", Message: "a closed account cannot change status"}

	ErrAmountSignMismatch = &Error{Kind: KindDomain, Code: "amount_sign_mismatch", Message: "transaction amount sign does not match its type"}

	ErrAccountNotFound = &Error{Kind: KindNotFound, Code: "account_not_found", Message: "account not found"}

	ErrConcurrencyConflict = &Error{Kind: KindConflict, Code: "concurrency_conflict", Message: "account was modified concurrently"}
)

// KindOf extracts the kind from any error in the chain. Unclassified errors
// (driver failures, context deadlines) are treated as infrastructure.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindInfrastructure
}
