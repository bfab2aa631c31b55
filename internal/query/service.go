package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"swapvault/internal/observability"
)

// Service serves read-only queries over the committed receipt log in
// Postgres. Live balances come from the in-memory ledger; this service
// covers everything that needs history or survives a restart.
type Service struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewService(db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{db: db, metrics: metrics}
}

// UserHistory returns a user's receipts newest first, with cursor-based
// pagination on sequence. afterSequence of 0 starts from the newest.
func (s *Service) UserHistory(ctx context.Context, user string, limit int, afterSequence int64) (*HistoryResponse, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues("user_history").Inc()
		defer func() {
			s.metrics.QueryDuration.WithLabelValues("user_history").Observe(time.Since(start).Seconds())
		}()
	}

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	asOf, err := s.lastSequence(ctx)
	if err != nil {
		s.countError("user_history")
		return nil, fmt.Errorf("watermark: %w", err)
	}

	q := `
        SELECT sequence, event_type, idempotency_key, user_addr, amount, payload, timestamp
        FROM vault.receipts
        WHERE user_addr = $1
    `
	args := []interface{}{user}
	if afterSequence > 0 {
		q += " AND sequence < $2"
		args = append(args, afterSequence)
	}
	q += fmt.Sprintf(" ORDER BY sequence DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.countError("user_history")
		return nil, err
	}
	defer rows.Close()

	resp := &HistoryResponse{User: user, AsOfSequence: asOf}
	for rows.Next() {
		var e ReceiptEntry
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey,
			&e.UserAddr, &e.Amount, &e.Payload, &e.Timestamp,
		); err != nil {
			s.countError("user_history")
			return nil, err
		}
		resp.Receipts = append(resp.Receipts, e)
	}
	if err := rows.Err(); err != nil {
		s.countError("user_history")
		return nil, err
	}

	if len(resp.Receipts) == limit {
		resp.NextCursor = resp.Receipts[len(resp.Receipts)-1].Sequence
	}
	return resp, nil
}

// Receipt looks up a single receipt by sequence. Returns sql.ErrNoRows
// when the sequence has not been committed.
func (s *Service) Receipt(ctx context.Context, sequence int64) (*ReceiptEntry, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues("receipt").Inc()
		defer func() {
			s.metrics.QueryDuration.WithLabelValues("receipt").Observe(time.Since(start).Seconds())
		}()
	}

	var e ReceiptEntry
	err := s.db.QueryRowContext(ctx, `
        SELECT sequence, event_type, idempotency_key, user_addr, amount, payload, timestamp
        FROM vault.receipts
        WHERE sequence = $1
    `, sequence).Scan(
		&e.Sequence, &e.EventType, &e.IdempotencyKey,
		&e.UserAddr, &e.Amount, &e.Payload, &e.Timestamp,
	)
	if err != nil {
		if err != sql.ErrNoRows {
			s.countError("receipt")
		}
		return nil, err
	}
	return &e, nil
}

// Activity aggregates committed deposit and withdrawal flow from the
// receipt log. Reversed withdrawals are counted separately and excluded
// from the withdrawn total.
func (s *Service) Activity(ctx context.Context) (*VaultActivity, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues("activity").Inc()
		defer func() {
			s.metrics.QueryDuration.WithLabelValues("activity").Observe(time.Since(start).Seconds())
		}()
	}

	asOf, err := s.lastSequence(ctx)
	if err != nil {
		s.countError("activity")
		return nil, err
	}

	a := &VaultActivity{AsOfSequence: asOf}
	err = s.db.QueryRowContext(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE event_type = 'DepositCompleted'),
            COUNT(*) FILTER (WHERE event_type = 'WithdrawalCompleted'),
            COUNT(*) FILTER (WHERE event_type = 'WithdrawalReversed'),
            COALESCE(SUM(amount) FILTER (WHERE event_type = 'DepositCompleted'), 0),
            COALESCE(SUM(amount) FILTER (WHERE event_type = 'WithdrawalCompleted'), 0)
        FROM vault.receipts
    `).Scan(&a.Deposits, &a.Withdrawals, &a.Reversals, &a.DepositedTotal, &a.WithdrawnTotal)
	if err != nil {
		s.countError("activity")
		return nil, err
	}
	return a, nil
}

func (s *Service) lastSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM vault.receipts`,
	).Scan(&seq)
	return seq, err
}

func (s *Service) countError(op string) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(op).Inc()
	}
}
