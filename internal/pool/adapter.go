package pool

import (
	"errors"
	"fmt"
	"sync"

	"swapvault/internal/amm"
	"swapvault/internal/asset"
)

// Adapter executes swaps against registered pools. It never trusts transfer
// arguments: both the input the pool absorbed and the output the recipient
// received are measured as balance deltas, which keeps fee-on-transfer and
// otherwise lossy tokens priced on what actually moved. Swaps against the
// same pool are serialized, so each delta measures only its own transfer.
type Adapter struct {
	pools *Registry

	mu    sync.Mutex
	locks map[asset.Address]*sync.Mutex
}

func NewAdapter(pools *Registry) *Adapter {
	return &Adapter{pools: pools, locks: make(map[asset.Address]*sync.Mutex)}
}

// poolLock returns the mutex serializing swaps against one pool address.
func (a *Adapter) poolLock(addr asset.Address) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[addr]
	if !ok {
		l = new(sync.Mutex)
		a.locks[addr] = l
	}
	return l
}

// Quote prices a swap without executing it, using current pool reserves and
// the nominal input amount. Transfer fees make the executed result differ.
func (a *Adapter) Quote(tokenIn, tokenOut asset.Token, amountIn uint64) (uint64, error) {
	p, err := a.pools.Pair(tokenIn, tokenOut)
	if err != nil {
		return 0, err
	}
	reserveIn := tokenIn.BalanceOf(p.Address())
	reserveOut := tokenOut.BalanceOf(p.Address())
	out, err := amm.ExpectedOut(amountIn, reserveIn, reserveOut)
	if err != nil {
		return 0, mapQuoteErr(err)
	}
	return out, nil
}

// SwapResult reports the measured legs of an executed swap.
type SwapResult struct {
	// Out is the amount the recipient actually received.
	Out uint64
	// EffectiveIn is the amount the pool actually absorbed, which for a
	// fee-on-transfer token is less than the nominal input.
	EffectiveIn uint64
}

// Swap moves amountIn of tokenIn from the sender into the pool, prices the
// swap on the amount the pool actually absorbed, and pays the output to
// recipient.
//
// Known gap: once the input transfer lands in the pool, a downstream failure
// (pricing, output transfer, minOut) leaves the input stranded there; the
// caller gets an error but no refund path.
func (a *Adapter) Swap(tokenIn, tokenOut asset.Token, sender, recipient asset.Address, amountIn, minOut uint64) (SwapResult, error) {
	p, err := a.pools.Pair(tokenIn, tokenOut)
	if err != nil {
		return SwapResult{}, err
	}

	// The reserve snapshot and the delta reads below must not interleave with
	// another swap on the same pool, or that swap's input would be measured
	// into this one's effective input.
	lock := a.poolLock(p.Address())
	lock.Lock()
	defer lock.Unlock()

	reserveIn := tokenIn.BalanceOf(p.Address())
	reserveOut := tokenOut.BalanceOf(p.Address())

	if err := tokenIn.Transfer(sender, p.Address(), amountIn); err != nil {
		return SwapResult{}, fmt.Errorf("swap: input transfer: %w", err)
	}

	// Effective input is what the pool holds now minus what it held before,
	// not the nominal amountIn.
	effectiveIn := tokenIn.BalanceOf(p.Address()) - reserveIn
	if effectiveIn == 0 {
		return SwapResult{}, ErrZeroEffectiveInput
	}

	expected, err := amm.ExpectedOut(effectiveIn, reserveIn, reserveOut)
	if err != nil {
		return SwapResult{}, fmt.Errorf("swap: %w", mapQuoteErr(err))
	}
	if expected < minOut {
		return SwapResult{}, fmt.Errorf("%w: expected %d, minimum %d", ErrInsufficientOutput, expected, minOut)
	}

	receivedBefore := tokenOut.BalanceOf(recipient)
	if err := p.Swap(tokenOut, expected, recipient); err != nil {
		return SwapResult{}, fmt.Errorf("swap: %w", err)
	}
	received := tokenOut.BalanceOf(recipient) - receivedBefore

	// Backstop on the measured output, catching output-side transfer fees
	// and any pool that pays less than quoted.
	if received < minOut {
		return SwapResult{}, fmt.Errorf("%w: received %d, minimum %d", ErrInsufficientOutput, received, minOut)
	}
	return SwapResult{Out: received, EffectiveIn: effectiveIn}, nil
}

func mapQuoteErr(err error) error {
	switch {
	case errors.Is(err, amm.ErrInsufficientLiquidity):
		return ErrInsufficientLiquidity
	case errors.Is(err, amm.ErrZeroAmount):
		return ErrZeroEffectiveInput
	default:
		return err
	}
}
