package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"swapvault/internal/admin"
	"swapvault/internal/event"
	"swapvault/internal/vault"
)

// Replay rebuilds in-memory vault state from the receipt log. Balances,
// totals, the cap and the pause flag are all derived by re-applying
// receipts in sequence order, so a warm restart converges on exactly the
// state the last committed receipt described. Token balances are external
// and not touched here.
//
// Returns the last applied sequence, which the core resumes from.
func Replay(ctx context.Context, db *sql.DB, ledger *vault.Ledger, control *admin.Controller) (int64, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT sequence, event_type, payload
        FROM vault.receipts
        ORDER BY sequence ASC
    `)
	if err != nil {
		return 0, fmt.Errorf("load receipts: %w", err)
	}
	defer rows.Close()

	var lastSeq int64
	var applied int

	for rows.Next() {
		var (
			seq       int64
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&seq, &eventType, &payload); err != nil {
			return lastSeq, fmt.Errorf("scan receipt: %w", err)
		}

		if err := applyReceipt(ledger, control, eventType, payload); err != nil {
			return lastSeq, fmt.Errorf("replay seq %d (%s): %w", seq, eventType, err)
		}
		lastSeq = seq
		applied++
	}
	if err := rows.Err(); err != nil {
		return lastSeq, err
	}

	log.Printf("INFO: replayed %d receipts, last sequence %d", applied, lastSeq)
	return lastSeq, nil
}

func applyReceipt(ledger *vault.Ledger, control *admin.Controller, eventType string, payload []byte) error {
	switch eventType {
	case "DepositCompleted":
		var e event.DepositCompleted
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		return ledger.Credit(e.User, e.Credited)

	case "WithdrawalCompleted":
		var e event.WithdrawalCompleted
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		return ledger.Debit(e.User, e.Amount)

	case "WithdrawalReversed":
		// Debit and restore cancelled out; nothing to re-apply.
		return nil

	case "CapUpdated":
		var e event.CapUpdated
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		ledger.SetCap(e.NewCap)
		return nil

	case "VaultPaused":
		control.Pause()
		return nil

	case "VaultResumed":
		control.Resume()
		return nil

	case "TokensRescued":
		// Token movement only; no ledger state.
		return nil

	default:
		// Unknown receipts are skipped rather than fatal so an older binary
		// can start against a newer log.
		log.Printf("WARN: skipping unknown receipt type %s during replay", eventType)
		return nil
	}
}
