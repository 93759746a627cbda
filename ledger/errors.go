/*
errors.go - Centralized error taxonomy for the accounting engines

PURPOSE:
  All domain errors in one place. Every error surfaced by the engines maps
  to a Kind, which the API layer translates to a transport status code.
  Unexpected storage failures are logged and collapsed to KindInternal so
  storage details never leak to callers.

ERROR CATEGORIES:
  1. Caller errors   - bad input, bad date window, missing auth
  2. Precondition    - out of stock, insufficient balance
  3. Storage errors  - optimistic conflicts, retries exhausted

USAGE:
  Engines wrap sentinels with context:

    if errors.Is(err, ledger.ErrInsufficientBalance) { ... }
    switch ledger.KindOf(err) { case ledger.KindNotFound: ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KIND - Tagged error classification with a transport mapping
// =============================================================================

type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindInvalidArgument    Kind = "invalid-argument"
	KindOutOfRange         Kind = "out-of-range"
	KindNotFound           Kind = "not-found"
	KindFailedPrecondition Kind = "failed-precondition"
	KindInternal           Kind = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthenticated is returned when no caller identity is present.
	ErrUnauthenticated = errors.New("caller is not authenticated")

	// ErrInvalidArgument is returned for malformed input before any state
	// is touched.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDateOutOfRange is returned when a step report is backdated beyond
	// the accepted window or dated in the future.
	ErrDateOutOfRange = errors.New("date out of range")

	// ErrAccountNotFound is returned when the caller has no provisioned account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrRewardNotFound is returned when a redemption references an unknown reward.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrOutOfStock is returned when a reward has no remaining stock.
	ErrOutOfStock = errors.New("out of stock")

	// ErrInsufficientBalance is returned when a redemption exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConflict is returned when optimistic concurrency detects that a
	// transaction's read set changed before commit. Retryable.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrRetriesExhausted is returned when a transaction kept conflicting
	// past the bounded attempt budget.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports the shortage behind a rejected redemption.
type InsufficientBalanceError struct {
	UID       string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidArgumentError names the rejected field.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// KindOf classifies an error for transport mapping. Anything unrecognized
// is internal: callers never see raw storage errors.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrDateOutOfRange):
		return KindOutOfRange
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrRewardNotFound):
		return KindNotFound
	case errors.Is(err, ErrOutOfStock), errors.Is(err, ErrInsufficientBalance):
		return KindFailedPrecondition
	default:
		return KindInternal
	}
}
