package vault

import (
	"errors"
	"fmt"
)

// Error taxonomy for vault operations. Every failure leaves the ledger
// untouched; there is no partial mutation to recover from, so none of these
// are retryable automatically.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrZeroAmount          = errors.New("zero amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrSystemPaused        = errors.New("system paused")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrReentrancy          = errors.New("reentrant call")
	ErrCapExceeded         = errors.New("bank cap exceeded")
)

// CapExceededError reports the totals that would have resulted from a credit
// that was rejected by the cap check. Matches ErrCapExceeded under errors.Is.
type CapExceededError struct {
	NewTotal uint64 // cap units, had the credit applied
	Cap      uint64 // cap units
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("bank cap exceeded: new total %d > cap %d", e.NewTotal, e.Cap)
}

func (e *CapExceededError) Is(target error) bool {
	return target == ErrCapExceeded
}
