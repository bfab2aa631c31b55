package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// ReceiptWriter writes committed vault receipts to Postgres using multi-row
// INSERT batches. ON CONFLICT DO NOTHING keeps replays idempotent.
type ReceiptWriter struct {
	db *sql.DB
}

// ReceiptRow represents a row in vault.receipts. User and Amount are
// denormalized out of the payload so per-user history queries stay indexed.
type ReceiptRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	UserAddr       *string
	Amount         *int64
	Payload        []byte // JSON-encoded event payload
	Timestamp      time.Time
}

// DedupeRow represents a row in vault.processed_requests, the tier-2
// idempotency store behind the in-memory LRU.
type DedupeRow struct {
	OpType     string
	RequestKey string
	Sequence   int64
}

func NewReceiptWriter(db *sql.DB) *ReceiptWriter {
	return &ReceiptWriter{db: db}
}

// WriteReceiptBatch writes a batch of receipts inside the given transaction.
func (w *ReceiptWriter) WriteReceiptBatch(ctx context.Context, tx *sql.Tx, receipts []ReceiptRow) error {
	if len(receipts) == 0 {
		return nil
	}

	query := `INSERT INTO vault.receipts
		(sequence, event_type, idempotency_key, user_addr, amount, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(receipts))
	args := make([]interface{}, 0, len(receipts)*7)

	for i, r := range receipts {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Sequence, r.EventType, r.IdempotencyKey,
			r.UserAddr, r.Amount, r.Payload, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteDedupeBatch records request keys in the same transaction as their
// receipts, so a receipt and its dedup marker commit or fail together.
func (w *ReceiptWriter) WriteDedupeBatch(ctx context.Context, tx *sql.Tx, rows []DedupeRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault.processed_requests (op_type, request_key, sequence) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*3)

	for i, r := range rows {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, r.OpType, r.RequestKey, r.Sequence)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (op_type, request_key) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload JSON-encodes an event payload for the receipt row.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
