package ingestion_test

import (
	"encoding/json"
	"testing"

	"swapvault/internal/core"
	"swapvault/internal/ingestion"
)

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseDepositRequest_Swap(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id": "550e8400-e29b-41d4-a716-446655440000",
		"user":       "alice",
		"kind":       "swap",
		"asset_in":   "WNAT",
		"amount":     uint64(1_000_000),
		"min_out":    uint64(990_000),
		"native":     true,
	}

	req, err := ingestion.ParseDepositRequest(marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if req.Kind != core.DepositSwap {
		t.Errorf("kind: got %d, want DepositSwap", req.Kind)
	}
	if req.User != "alice" {
		t.Errorf("user: got %s, want alice", req.User)
	}
	if req.AssetIn != "WNAT" {
		t.Errorf("asset_in: got %s, want WNAT", req.AssetIn)
	}
	if req.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", req.Amount)
	}
	if req.MinOut != 990_000 {
		t.Errorf("min_out: got %d, want 990_000", req.MinOut)
	}
	if !req.Native {
		t.Error("native flag lost")
	}
}

func TestParseDepositRequest_Direct(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id": "550e8400-e29b-41d4-a716-446655440000",
		"user":       "bob",
		"kind":       "direct",
		"amount":     uint64(500_000000),
	}

	req, err := ingestion.ParseDepositRequest(marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.Kind != core.DepositDirect {
		t.Errorf("kind: got %d, want DepositDirect", req.Kind)
	}
	if req.Amount != 500_000000 {
		t.Errorf("amount: got %d, want 500_000000", req.Amount)
	}
}

func TestParseDepositRequest_UnknownKind(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id": "550e8400-e29b-41d4-a716-446655440000",
		"user":       "alice",
		"kind":       "teleport",
		"amount":     uint64(1),
	}

	if _, err := ingestion.ParseDepositRequest(marshal(t, payload)); err == nil {
		t.Fatal("expected error for unknown deposit kind")
	}
}

func TestParseDepositRequest_InvalidUUID(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id": "not-a-uuid",
		"user":       "alice",
		"kind":       "direct",
		"amount":     uint64(1),
	}

	if _, err := ingestion.ParseDepositRequest(marshal(t, payload)); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseWithdrawalRequest(t *testing.T) {
	payload := map[string]interface{}{
		"withdrawal_id": "660e8400-e29b-41d4-a716-446655440001",
		"user":          "carol",
		"amount":        uint64(250_000),
	}

	req, err := ingestion.ParseWithdrawalRequest(marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.User != "carol" {
		t.Errorf("user: got %s, want carol", req.User)
	}
	if req.Amount != 250_000 {
		t.Errorf("amount: got %d, want 250_000", req.Amount)
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	if _, err := ingestion.ParseDepositRequest([]byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := ingestion.ParseWithdrawalRequest([]byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
