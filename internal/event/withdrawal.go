package event

import (
	"github.com/google/uuid"

	"swapvault/internal/asset"
)

type WithdrawalCompleted struct {
	WithdrawalID uuid.UUID
	User         asset.Address
	Amount       uint64 // reference units
}

func (w *WithdrawalCompleted) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *WithdrawalCompleted) EventType() EventType {
	return EventTypeWithdrawalCompleted
}

// WithdrawalReversed records a withdrawal whose outbound transfer failed
// after the debit committed; the debit was compensated and the balance
// restored.
type WithdrawalReversed struct {
	WithdrawalID uuid.UUID
	User         asset.Address
	Amount       uint64
	Reason       string
}

func (w *WithdrawalReversed) IdempotencyKey() string {
	return w.WithdrawalID.String() + ":reversed"
}

func (w *WithdrawalReversed) EventType() EventType {
	return EventTypeWithdrawalReversed
}
