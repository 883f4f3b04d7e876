/*
errors.go - Error types for the spend ledger

ERROR CATEGORIES:
  1. Ledger errors - idempotency and reversal conflicts
  2. Validation errors - bad amounts, currency mismatches
  3. Lookup errors - unknown customers or transactions

Callers wrap these with context and test with errors.Is / errors.As.

SEE ALSO:
  - ledger.go: returns these errors
  - store/sqlite: maps constraint violations onto them
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected on client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAlreadyReversed is returned when reversing a transaction twice.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrTransactionNotFound is returned when a referenced transaction is unknown.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrCustomerNotFound is returned when a referenced customer is unknown.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrInvalidAmount is returned for zero, negative or unparsable amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrCurrencyMismatch is returned when mixing currencies in one ledger.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// AmountError describes an amount that failed validation.
type AmountError struct {
	Input string
	Err   error
}

func (e *AmountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid amount %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("invalid amount %q", e.Input)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

// CurrencyError describes a transaction in the wrong currency.
type CurrencyError struct {
	Want Currency
	Got  Currency
}

func (e *CurrencyError) Error() string {
	return fmt.Sprintf("currency mismatch: ledger is %s, got %s", e.Want, e.Got)
}

func (e *CurrencyError) Unwrap() error { return ErrCurrencyMismatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCurrencyMismatch)
}

// IsConflict returns true if the write conflicts with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
