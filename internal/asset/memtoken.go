package asset

import (
	"fmt"
	"sync"
)

// MemToken is an in-memory fungible token. A non-zero feeBps makes it a
// fee-on-transfer asset: the recipient receives amount minus the skimmed fee
// while the sender is still debited the full nominal amount. Used as the
// local-run and test implementation of the external asset contract.
type MemToken struct {
	mu       sync.Mutex
	symbol   string
	decimals uint8
	feeBps   uint64
	balances map[Address]uint64
}

func NewMemToken(symbol string, decimals uint8) *MemToken {
	return &MemToken{
		symbol:   symbol,
		decimals: decimals,
		balances: make(map[Address]uint64),
	}
}

// NewFeeOnTransferToken creates a token that skims feeBps basis points of
// every transfer.
func NewFeeOnTransferToken(symbol string, decimals uint8, feeBps uint64) *MemToken {
	t := NewMemToken(symbol, decimals)
	t.feeBps = feeBps
	return t
}

func (t *MemToken) Symbol() string  { return t.symbol }
func (t *MemToken) Decimals() uint8 { return t.decimals }

func (t *MemToken) BalanceOf(holder Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[holder]
}

// Mint credits freshly created units to a holder. Test and bootstrap hook;
// the external contract this stands in for has no public mint.
func (t *MemToken) Mint(to Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] += amount
}

// Transfer debits the full nominal amount from the sender and delivers the
// post-fee amount to the recipient. The skimmed fee is burned.
func (t *MemToken) Transfer(from, to Address, amount uint64) error {
	if from == ZeroAddress || to == ZeroAddress {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, from, t.balances[from], amount)
	}

	delivered := amount - amount*t.feeBps/10_000

	t.balances[from] -= amount
	t.balances[to] += delivered
	return nil
}

// WrappedNative wraps inbound native-currency payments into a transferable
// token before the swap path runs. Wrap failure is fatal to the deposit.
type WrappedNative struct {
	*MemToken
}

func NewWrappedNative(symbol string, decimals uint8) *WrappedNative {
	return &WrappedNative{MemToken: NewMemToken(symbol, decimals)}
}

// Wrap converts a native payment of amount into token units held by to.
func (w *WrappedNative) Wrap(to Address, amount uint64) error {
	if to == ZeroAddress {
		return ErrZeroAddress
	}
	if amount == 0 {
		return fmt.Errorf("wrap: zero amount")
	}
	w.Mint(to, amount)
	return nil
}
