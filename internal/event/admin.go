package event

import (
	"github.com/google/uuid"

	"swapvault/internal/asset"
)

type CapUpdated struct {
	RequestID uuid.UUID
	Admin     asset.Address
	OldCap    uint64 // cap units
	NewCap    uint64 // cap units
}

func (c *CapUpdated) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *CapUpdated) EventType() EventType {
	return EventTypeCapUpdated
}

type VaultPaused struct {
	RequestID uuid.UUID
	Admin     asset.Address
}

func (p *VaultPaused) IdempotencyKey() string {
	return p.RequestID.String()
}

func (p *VaultPaused) EventType() EventType {
	return EventTypeVaultPaused
}

type VaultResumed struct {
	RequestID uuid.UUID
	Admin     asset.Address
}

func (r *VaultResumed) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *VaultResumed) EventType() EventType {
	return EventTypeVaultResumed
}

// TokensRescued records an admin sweep of stranded tokens out of the vault
// address. Rescue never touches ledger balances.
type TokensRescued struct {
	RequestID uuid.UUID
	Admin     asset.Address
	Asset     string
	To        asset.Address
	Amount    uint64
}

func (t *TokensRescued) IdempotencyKey() string {
	return t.RequestID.String()
}

func (t *TokensRescued) EventType() EventType {
	return EventTypeTokensRescued
}
