package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositCompleted
	EventTypeWithdrawalCompleted
	EventTypeWithdrawalReversed
	EventTypeCapUpdated
	EventTypeVaultPaused
	EventTypeVaultResumed
	EventTypeTokensRescued
)

// Envelope wraps every committed operation in the outbound log
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Commit timestamp assigned by the core
	Timestamp time.Time

	// Event-specific payload
	Event Event
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypeDepositCompleted:
		return "DepositCompleted"
	case EventTypeWithdrawalCompleted:
		return "WithdrawalCompleted"
	case EventTypeWithdrawalReversed:
		return "WithdrawalReversed"
	case EventTypeCapUpdated:
		return "CapUpdated"
	case EventTypeVaultPaused:
		return "VaultPaused"
	case EventTypeVaultResumed:
		return "VaultResumed"
	case EventTypeTokensRescued:
		return "TokensRescued"
	default:
		return "Unknown"
	}
}
