package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"swapvault/internal/asset"
	"swapvault/internal/core"
)

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type depositRequestJSON struct {
	DepositID string `json:"deposit_id"`
	User      string `json:"user"`
	Kind      string `json:"kind"` // "direct" or "swap"
	AssetIn   string `json:"asset_in,omitempty"`
	Amount    uint64 `json:"amount"`
	MinOut    uint64 `json:"min_out,omitempty"`
	Native    bool   `json:"native,omitempty"`
}

type withdrawalRequestJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	User         string `json:"user"`
	Amount       uint64 `json:"amount"`
}

// ParseDepositRequest converts JSON bytes into a typed deposit request. The
// shell validates shape only; amount and address semantics stay in the core.
func ParseDepositRequest(data []byte) (core.DepositRequest, error) {
	var j depositRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return core.DepositRequest{}, fmt.Errorf("parse Deposit: %w", err)
	}

	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return core.DepositRequest{}, fmt.Errorf("parse deposit_id: %w", err)
	}

	var kind core.DepositKind
	switch j.Kind {
	case "direct":
		kind = core.DepositDirect
	case "swap":
		kind = core.DepositSwap
	default:
		return core.DepositRequest{}, fmt.Errorf("parse kind: unknown deposit kind %q", j.Kind)
	}

	return core.DepositRequest{
		DepositID: depositID,
		User:      asset.Address(j.User),
		Kind:      kind,
		AssetIn:   j.AssetIn,
		Amount:    j.Amount,
		MinOut:    j.MinOut,
		Native:    j.Native,
	}, nil
}

// ParseWithdrawalRequest converts JSON bytes into a typed withdrawal request.
func ParseWithdrawalRequest(data []byte) (core.WithdrawalRequest, error) {
	var j withdrawalRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return core.WithdrawalRequest{}, fmt.Errorf("parse Withdrawal: %w", err)
	}

	withdrawalID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return core.WithdrawalRequest{}, fmt.Errorf("parse withdrawal_id: %w", err)
	}

	return core.WithdrawalRequest{
		WithdrawalID: withdrawalID,
		User:         asset.Address(j.User),
		Amount:       j.Amount,
	}, nil
}
