package event

import (
	"github.com/google/uuid"

	"swapvault/internal/asset"
)

// DepositCompleted records a credited deposit. For the swap path AmountIn is
// the nominal input of AssetIn and EffectiveIn the amount the pool absorbed;
// for the direct path all three amount fields carry the reference asset.
type DepositCompleted struct {
	DepositID   uuid.UUID
	User        asset.Address
	AssetIn     string
	AmountIn    uint64
	EffectiveIn uint64
	Credited    uint64 // reference units added to the user balance
	SwapPath    bool
}

func (d *DepositCompleted) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *DepositCompleted) EventType() EventType {
	return EventTypeDepositCompleted
}
