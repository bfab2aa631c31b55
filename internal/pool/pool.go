package pool

import (
	"errors"
	"fmt"

	"swapvault/internal/asset"
)

var (
	ErrPairNotFound          = errors.New("pair not found")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrZeroEffectiveInput    = errors.New("zero effective input after transfer")
	ErrInsufficientOutput    = errors.New("swap output below minimum")
)

// Pool is one side of the swap venue: a two-token liquidity pool holding its
// reserves at its own address. The adapter transfers input tokens to the pool
// address first and then calls Swap, so Swap only moves the output leg.
type Pool interface {
	Address() asset.Address
	Tokens() (a, b asset.Token)
	Swap(out asset.Token, amountOut uint64, recipient asset.Address) error
}

type pairKey struct {
	a, b string
}

func keyFor(x, y asset.Token) pairKey {
	a, b := x.Symbol(), y.Symbol()
	if a > b {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// Registry maps unordered token pairs to their pool.
type Registry struct {
	pools map[pairKey]Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[pairKey]Pool)}
}

func (r *Registry) Register(p Pool) {
	a, b := p.Tokens()
	r.pools[keyFor(a, b)] = p
}

// Pair returns the pool trading tokenIn against tokenOut.
func (r *Registry) Pair(tokenIn, tokenOut asset.Token) (Pool, error) {
	p, ok := r.pools[keyFor(tokenIn, tokenOut)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPairNotFound, tokenIn.Symbol(), tokenOut.Symbol())
	}
	return p, nil
}
