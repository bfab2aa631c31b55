package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"swapvault/internal/asset"
	"swapvault/internal/core"
	"swapvault/internal/event"
	"swapvault/internal/observability"
)

// Worker drains the persist channel and batch-writes receipts to Postgres.
// The persist channel uses BLOCKING sends from the core, so if this worker
// falls behind, the core stalls rather than losing a receipt.
type Worker struct {
	writer       *ReceiptWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewReceiptWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence loop. It batches incoming outputs and flushes
// either when the batch is full or the flush timeout expires. Blocks until
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	receiptBatch := make([]ReceiptRow, 0, w.batchSize)
	dedupeBatch := make([]DedupeRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(receiptBatch) > 0 {
				if err := w.flush(context.Background(), receiptBatch, dedupeBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(receiptBatch) > 0 {
					if err := w.flush(context.Background(), receiptBatch, dedupeBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			receipt := toReceiptRow(output.Envelope)
			receiptBatch = append(receiptBatch, receipt)
			if row, ok := toDedupeRow(output.Envelope); ok {
				dedupeBatch = append(dedupeBatch, row)
			}

			if len(receiptBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, receiptBatch, dedupeBatch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				receiptBatch = receiptBatch[:0]
				dedupeBatch = dedupeBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(receiptBatch) > 0 {
				if err := w.flushWithRetry(ctx, receiptBatch, dedupeBatch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				receiptBatch = receiptBatch[:0]
				dedupeBatch = dedupeBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// receipt: it retries until the write succeeds or the context is cancelled,
// and on cancellation attempts one final flush with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, receipts []ReceiptRow, dedupes []DedupeRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, receipts=%d)",
				attempt, backoff, len(receipts))
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), receipts, dedupes)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, receipts, dedupes)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, receipts []ReceiptRow, dedupes []DedupeRow) error {
	start := time.Now()

	// Receipts and dedup markers commit in one transaction.
	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteReceiptBatch(ctx, tx, receipts); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_receipts").Inc()
		}
		return err
	}

	if err := w.writer.WriteDedupeBatch(ctx, tx, dedupes); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_dedupe").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(receipts)))
		w.metrics.PersistEventsWritten.Add(float64(len(receipts)))
		if len(receipts) > 0 {
			w.metrics.PersistLastSequence.Set(float64(receipts[len(receipts)-1].Sequence))
		}
	}

	return nil
}

// toReceiptRow denormalizes the user address and amount out of the payload
// for the event types that carry them.
func toReceiptRow(env *event.Envelope) ReceiptRow {
	row := ReceiptRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        MarshalPayload(env.Event),
		Timestamp:      env.Timestamp,
	}

	var (
		user   asset.Address
		amount uint64
		carry  bool
	)
	switch e := env.Event.(type) {
	case *event.DepositCompleted:
		user, amount, carry = e.User, e.Credited, true
	case *event.WithdrawalCompleted:
		user, amount, carry = e.User, e.Amount, true
	case *event.WithdrawalReversed:
		user, amount, carry = e.User, e.Amount, true
	case *event.TokensRescued:
		user, amount, carry = e.Admin, e.Amount, true
	}
	if carry {
		u := string(user)
		a := int64(amount)
		row.UserAddr = &u
		row.Amount = &a
	}
	return row
}

// toDedupeRow marks only completed user operations: a reversed withdrawal
// must stay retryable under the same key.
func toDedupeRow(env *event.Envelope) (DedupeRow, bool) {
	switch env.EventType {
	case event.EventTypeDepositCompleted:
		return DedupeRow{OpType: "deposit", RequestKey: env.IdempotencyKey, Sequence: env.Sequence}, true
	case event.EventTypeWithdrawalCompleted:
		return DedupeRow{OpType: "withdraw", RequestKey: env.IdempotencyKey, Sequence: env.Sequence}, true
	default:
		return DedupeRow{}, false
	}
}
