package pool

import (
	"fmt"

	"swapvault/internal/asset"
)

// MemPool is an in-memory liquidity pool. Its reserves are simply its token
// balances at its own address, so a caller that transfers tokens in and reads
// balances before and after observes exactly what the pool absorbed.
type MemPool struct {
	addr   asset.Address
	tokenA asset.Token
	tokenB asset.Token
}

func NewMemPool(addr asset.Address, tokenA, tokenB asset.Token) *MemPool {
	return &MemPool{addr: addr, tokenA: tokenA, tokenB: tokenB}
}

func (p *MemPool) Address() asset.Address { return p.addr }

func (p *MemPool) Tokens() (a, b asset.Token) { return p.tokenA, p.tokenB }

// Swap pays amountOut of the requested token to recipient out of the pool's
// reserves. Pricing is the adapter's job; the pool only refuses to pay out
// a token it does not trade or more than it holds.
func (p *MemPool) Swap(out asset.Token, amountOut uint64, recipient asset.Address) error {
	if out != p.tokenA && out != p.tokenB {
		return fmt.Errorf("pool %s does not trade %s", p.addr, out.Symbol())
	}
	if amountOut >= out.BalanceOf(p.addr) {
		return fmt.Errorf("%w: requested %d of %s", ErrInsufficientLiquidity, amountOut, out.Symbol())
	}
	return out.Transfer(p.addr, recipient, amountOut)
}
