package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"swapvault/internal/admin"
	"swapvault/internal/asset"
	"swapvault/internal/event"
	"swapvault/internal/persistence"
	"swapvault/internal/query"
	"swapvault/internal/testutil"
	"swapvault/internal/vault"
)

const alice = asset.Address("alice")

// ============================================================================
// Test: receipts and dedup markers commit together and replay rebuilds state
// ============================================================================

func TestWriteAndReplay_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	depositID := uuid.New()
	withdrawalID := uuid.New()
	userStr := string(alice)
	credited := int64(1_000_000)
	withdrawn := int64(400_000)

	receipts := []persistence.ReceiptRow{
		{
			Sequence:       1,
			EventType:      "DepositCompleted",
			IdempotencyKey: depositID.String(),
			UserAddr:       &userStr,
			Amount:         &credited,
			Payload: persistence.MarshalPayload(&event.DepositCompleted{
				DepositID: depositID,
				User:      alice,
				AssetIn:   "USDR",
				AmountIn:  1_000_000,
				Credited:  1_000_000,
			}),
			Timestamp: time.Now().UTC(),
		},
		{
			Sequence:       2,
			EventType:      "WithdrawalCompleted",
			IdempotencyKey: withdrawalID.String(),
			UserAddr:       &userStr,
			Amount:         &withdrawn,
			Payload: persistence.MarshalPayload(&event.WithdrawalCompleted{
				WithdrawalID: withdrawalID,
				User:         alice,
				Amount:       400_000,
			}),
			Timestamp: time.Now().UTC(),
		},
	}
	dedupes := []persistence.DedupeRow{
		{OpType: "deposit", RequestKey: depositID.String(), Sequence: 1},
		{OpType: "withdraw", RequestKey: withdrawalID.String(), Sequence: 2},
	}

	writer := persistence.NewReceiptWriter(db)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteReceiptBatch(ctx, tx, receipts); err != nil {
		t.Fatalf("write receipts: %v", err)
	}
	if err := writer.WriteDedupeBatch(ctx, tx, dedupes); err != nil {
		t.Fatalf("write dedupes: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Tier-2 dedup sees both committed keys.
	checker := persistence.NewPostgresDedupeChecker(db)
	if dup, err := checker.IsDuplicate("deposit", depositID.String()); err != nil || !dup {
		t.Errorf("deposit dedup: got (%v, %v), want duplicate", dup, err)
	}
	if dup, err := checker.IsDuplicate("deposit", uuid.NewString()); err != nil || dup {
		t.Errorf("unknown key: got (%v, %v), want not duplicate", dup, err)
	}

	keys, err := checker.RecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("recent keys: got %d, want 2", len(keys))
	}

	// Replay rebuilds the net position: 1_000_000 in, 400_000 out.
	ledger := vault.NewLedger(1_000_000_00000000)
	control := admin.NewController("ops")
	lastSeq, err := persistence.Replay(ctx, db, ledger, control)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if lastSeq != 2 {
		t.Errorf("last sequence: got %d, want 2", lastSeq)
	}
	if got := ledger.Balance(alice); got != 600_000 {
		t.Errorf("replayed balance: got %d, want 600_000", got)
	}
	held, deposited, _ := ledger.Totals()
	if held != 600_000 {
		t.Errorf("totalHeld: got %d, want 600_000", held)
	}
	if deposited != 1_000_000*vault.CapScale {
		t.Errorf("totalDeposited: got %d, want %d", deposited, 1_000_000*vault.CapScale)
	}

	// Receipt queries serve the same rows back.
	svc := query.NewService(db, nil)
	hist, err := svc.UserHistory(ctx, userStr, 10, 0)
	if err != nil {
		t.Fatalf("user history: %v", err)
	}
	if len(hist.Receipts) != 2 {
		t.Fatalf("history: got %d receipts, want 2", len(hist.Receipts))
	}
	if hist.Receipts[0].Sequence != 2 {
		t.Errorf("history order: newest first expected, got seq %d", hist.Receipts[0].Sequence)
	}
	if hist.AsOfSequence != 2 {
		t.Errorf("as_of_sequence: got %d, want 2", hist.AsOfSequence)
	}
}

// ============================================================================
// Test: duplicate sequences are ignored on conflict
// ============================================================================

func TestWriteReceiptBatch_IdempotentOnSequence(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	userStr := string(alice)
	amount := int64(123)
	row := persistence.ReceiptRow{
		Sequence:       7,
		EventType:      "DepositCompleted",
		IdempotencyKey: uuid.NewString(),
		UserAddr:       &userStr,
		Amount:         &amount,
		Payload:        []byte(`{}`),
		Timestamp:      time.Now().UTC(),
	}

	writer := persistence.NewReceiptWriter(db)
	for i := 0; i < 2; i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		if err := writer.WriteReceiptBatch(ctx, tx, []persistence.ReceiptRow{row}); err != nil {
			t.Fatalf("write attempt %d: %v", i, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit attempt %d: %v", i, err)
		}
	}

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vault.receipts WHERE sequence = 7`,
	).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows at sequence 7: got %d, want 1", count)
	}
}
