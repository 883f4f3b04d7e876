package customers

import (
	"errors"
	"fmt"

	"github.com/warp/incentive-engine/ledger"
)

var (
	// ErrInvalidCustomer is returned when customer fields fail validation.
	ErrInvalidCustomer = errors.New("invalid customer")

	// ErrUnlockNotFound is returned when a referenced unlock is unknown.
	ErrUnlockNotFound = errors.New("unlock not found")

	// ErrAlreadyDelivered is returned when delivering a prize twice.
	ErrAlreadyDelivered = errors.New("prize already delivered")

	// ErrNotReversible is returned when reversing a reversal.
	ErrNotReversible = errors.New("transaction cannot be reversed")

	// ErrReasonRequired is returned for adjustments without a reason.
	ErrReasonRequired = errors.New("reason is required")
)

// FieldError names the customer field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid customer: %s %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrInvalidCustomer }

// IsClientError reports errors caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCustomer) ||
		errors.Is(err, ErrNotReversible) ||
		errors.Is(err, ErrReasonRequired) ||
		ledger.IsClientError(err)
}

// IsConflict reports writes that clash with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyDelivered) || ledger.IsConflict(err)
}

// IsNotFound reports missing customers, transactions or unlocks.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnlockNotFound) || ledger.IsNotFound(err)
}
