package query

import (
	"encoding/json"
	"time"
)

// ReceiptEntry is one committed vault receipt as served to API clients.
// Payload is the raw event JSON as persisted, passed through untouched.
type ReceiptEntry struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	UserAddr       *string         `json:"user_addr,omitempty"`
	Amount         *int64          `json:"amount,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

// HistoryResponse is a page of receipts for one user, newest first.
// NextCursor is the sequence to pass as after_sequence for the next page;
// zero means no further pages.
type HistoryResponse struct {
	User         string         `json:"user"`
	Receipts     []ReceiptEntry `json:"receipts"`
	NextCursor   int64          `json:"next_cursor,omitempty"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// VaultActivity summarizes committed flow through the vault, derived from
// the receipt log rather than in-memory state.
type VaultActivity struct {
	Deposits       int64 `json:"deposits"`
	Withdrawals    int64 `json:"withdrawals"`
	Reversals      int64 `json:"reversals"`
	DepositedTotal int64 `json:"deposited_total"`
	WithdrawnTotal int64 `json:"withdrawn_total"`
	AsOfSequence   int64 `json:"as_of_sequence"`
}
