package vault

import (
	"fmt"
	"sync"

	"swapvault/internal/asset"
)

// Ledger owns every user balance and the vault-wide totals. It is the only
// component allowed to mutate them, and the single serialization point for
// all money movement: Credit, Debit and Restore run as critical sections
// under one mutex, so a reader can never observe a balance updated without
// the matching totals update.
//
// totalDeposited tracks cumulative lifetime deposits in cap units and is
// never decremented on withdrawal; totalHeld tracks currently custodied
// native units and is. The cap therefore throttles lifetime deposit volume,
// not current vault value.
type Ledger struct {
	mu sync.Mutex

	balances       map[asset.Address]uint64 // native reference units
	totalHeld      uint64                   // native reference units
	totalDeposited uint64                   // cap units, cumulative
	cap            uint64                   // cap units

	// Diagnostic only: number of committed credits.
	opCount uint64
}

func NewLedger(cap uint64) *Ledger {
	return &Ledger{
		balances: make(map[asset.Address]uint64),
		cap:      cap,
	}
}

// Credit converts amountNative into cap units, enforces the cap, and applies
// balance, totalHeld and totalDeposited together. On any failure no field
// changes.
func (l *Ledger) Credit(user asset.Address, amountNative uint64) error {
	if user == asset.ZeroAddress {
		return fmt.Errorf("credit: %w: zero address", ErrInvalidInput)
	}
	if amountNative == 0 {
		return fmt.Errorf("credit: %w", ErrZeroAmount)
	}

	amountCap, err := CapUnits(amountNative)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newTotal := l.totalDeposited + amountCap
	if newTotal < l.totalDeposited {
		return fmt.Errorf("credit: %w", ErrArithmeticOverflow)
	}
	if newTotal > l.cap {
		return &CapExceededError{NewTotal: newTotal, Cap: l.cap}
	}

	if l.totalHeld+amountNative < l.totalHeld {
		return fmt.Errorf("credit: %w", ErrArithmeticOverflow)
	}

	l.balances[user] += amountNative
	l.totalHeld += amountNative
	l.totalDeposited = newTotal
	l.opCount++
	return nil
}

// Debit removes amountNative from the user's balance and from totalHeld.
// The commit is final: a later outbound-transfer failure is compensated via
// Restore by the caller, never by reverting inside the ledger.
func (l *Ledger) Debit(user asset.Address, amountNative uint64) error {
	if amountNative == 0 {
		return fmt.Errorf("debit: %w", ErrZeroAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[user] < amountNative {
		return fmt.Errorf("debit: %w: have %d, need %d", ErrInsufficientBalance, l.balances[user], amountNative)
	}

	l.balances[user] -= amountNative
	l.totalHeld -= amountNative
	return nil
}

// Restore is the inverse of Debit, used only to compensate a withdrawal
// whose outbound transfer failed after the debit committed. It deliberately
// leaves totalDeposited untouched: the cumulative-deposit counter reflects
// lifetime inflow, and a failed withdrawal is not a new deposit.
func (l *Ledger) Restore(user asset.Address, amountNative uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[user] += amountNative
	l.totalHeld += amountNative
}

// Balance returns the user's current reference-asset balance.
func (l *Ledger) Balance(user asset.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[user]
}

// Totals returns (totalHeld native units, totalDeposited cap units, cap).
func (l *Ledger) Totals() (held, deposited, cap uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalHeld, l.totalDeposited, l.cap
}

// SetCap replaces the cap. Authorization is the caller's responsibility;
// the write is serialized against concurrent credits by the ledger mutex.
func (l *Ledger) SetCap(newCap uint64) (oldCap uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	oldCap = l.cap
	l.cap = newCap
	return oldCap
}

// OpCount returns the number of committed credits.
func (l *Ledger) OpCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opCount
}

// Snapshot returns a copy of all balances.
func (l *Ledger) Snapshot() map[asset.Address]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := make(map[asset.Address]uint64, len(l.balances))
	for user, bal := range l.balances {
		snapshot[user] = bal
	}
	return snapshot
}

// CheckSolvency verifies that the sum of all user balances equals totalHeld.
func (l *Ledger) CheckSolvency() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sum uint64
	for _, bal := range l.balances {
		sum += bal
	}
	if sum != l.totalHeld {
		return fmt.Errorf("ledger not fully backed: sum(balances)=%d, totalHeld=%d", sum, l.totalHeld)
	}
	return nil
}
