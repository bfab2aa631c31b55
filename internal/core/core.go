package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"swapvault/internal/admin"
	"swapvault/internal/asset"
	"swapvault/internal/event"
	"swapvault/internal/observability"
	"swapvault/internal/pool"
	"swapvault/internal/vault"
)

// ErrDuplicateRequest is returned when a request's idempotency key was
// already committed.
var ErrDuplicateRequest = errors.New("duplicate request")

// Output carries a committed envelope to the persistence and publish fan-out.
type Output struct {
	Envelope *event.Envelope
}

// DepositKind selects the crediting path.
type DepositKind int

const (
	// DepositDirect transfers reference-asset tokens straight into custody.
	DepositDirect DepositKind = iota
	// DepositSwap converts the input through the pool before crediting.
	DepositSwap
)

type DepositRequest struct {
	DepositID uuid.UUID
	User      asset.Address
	Kind      DepositKind
	AssetIn   string // swap path input symbol, ignored for direct and native
	Amount    uint64
	MinOut    uint64
	Native    bool // swap path: wrap a native payment before swapping
}

type DepositResult struct {
	Credited    uint64 // reference units added to the user balance
	EffectiveIn uint64 // amount the custody or pool actually received
	SwapPath    bool
}

type WithdrawalRequest struct {
	WithdrawalID uuid.UUID
	User         asset.Address
	Amount       uint64 // reference units
}

// Config wires the core's collaborators.
type Config struct {
	VaultAddress asset.Address
	Reference    asset.Token
	Wrapped      *asset.WrappedNative
	Assets       *asset.Registry
	Swapper      *pool.Adapter
	Ledger       *vault.Ledger
	Control      *admin.Controller

	DedupeCapacity int
	DBDedupe       DBDedupeChecker
	Metrics        *observability.Metrics

	PersistChan chan<- Output
	PublishChan chan<- Output
}

// VaultCore executes every state-changing vault operation. The ledger mutex
// is the single serialization point for balances. No lock is held across the
// outbound withdrawal transfer, which is what makes the debit-before-transfer
// ordering safe against reentrant callbacks; inbound direct deposits do hold
// a mutex across their transfer so the custody delta measures only their own.
type VaultCore struct {
	vaultAddr asset.Address
	reference asset.Token
	wrapped   *asset.WrappedNative
	assets    *asset.Registry
	swapper   *pool.Adapter
	ledger    *vault.Ledger
	control   *admin.Controller
	dedupe    *Deduper
	metrics   *observability.Metrics
	log       zerolog.Logger

	sequence atomic.Int64

	// Per-user in-flight withdrawal markers. A withdrawal that re-enters
	// through a token callback finds its own marker and is rejected.
	inFlightMu sync.Mutex
	inFlight   map[asset.Address]struct{}

	// Serializes the measure-transfer-measure sequence of direct deposits.
	directMu sync.Mutex

	persistChan chan<- Output
	publishChan chan<- Output
}

func NewVaultCore(cfg Config) *VaultCore {
	capacity := cfg.DedupeCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	return &VaultCore{
		vaultAddr:   cfg.VaultAddress,
		reference:   cfg.Reference,
		wrapped:     cfg.Wrapped,
		assets:      cfg.Assets,
		swapper:     cfg.Swapper,
		ledger:      cfg.Ledger,
		control:     cfg.Control,
		dedupe:      NewDeduper(capacity, cfg.DBDedupe, cfg.Metrics),
		metrics:     cfg.Metrics,
		log:         observability.NewLogger("core"),
		inFlight:    make(map[asset.Address]struct{}),
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}
}

// Deposit runs the deposit pipeline: pause gate, validation, dedup, the
// direct or swap crediting path, then the ledger credit. Either every effect
// commits or none does, with one exception called out below.
func (c *VaultCore) Deposit(req DepositRequest) (DepositResult, error) {
	start := time.Now()
	const op = "deposit"

	if err := c.control.CheckRunning(); err != nil {
		c.reject(op, "paused")
		return DepositResult{}, err
	}
	if req.User == asset.ZeroAddress {
		c.reject(op, "validation")
		return DepositResult{}, fmt.Errorf("deposit: %w: zero address", vault.ErrInvalidInput)
	}
	if req.Amount == 0 {
		c.reject(op, "validation")
		return DepositResult{}, fmt.Errorf("deposit: %w", vault.ErrZeroAmount)
	}
	if req.DepositID == uuid.Nil {
		c.reject(op, "validation")
		return DepositResult{}, fmt.Errorf("deposit: %w: missing deposit id", vault.ErrInvalidInput)
	}
	key := req.DepositID.String()
	if c.dedupe.IsDuplicate(op, key) {
		c.reject(op, "duplicate")
		return DepositResult{}, ErrDuplicateRequest
	}

	var (
		res     DepositResult
		assetIn string
	)

	switch req.Kind {
	case DepositDirect:
		assetIn = c.reference.Symbol()
		c.directMu.Lock()
		before := c.reference.BalanceOf(c.vaultAddr)
		err := c.reference.Transfer(req.User, c.vaultAddr, req.Amount)
		received := c.reference.BalanceOf(c.vaultAddr) - before
		c.directMu.Unlock()
		if err != nil {
			c.reject(op, "transfer")
			return DepositResult{}, fmt.Errorf("deposit: %w", err)
		}
		if received == 0 {
			c.reject(op, "zero_effective")
			return DepositResult{}, fmt.Errorf("deposit: %w", pool.ErrZeroEffectiveInput)
		}
		res = DepositResult{Credited: received, EffectiveIn: received}

	case DepositSwap:
		var tokenIn asset.Token
		if req.Native {
			if c.wrapped == nil {
				c.reject(op, "validation")
				return DepositResult{}, fmt.Errorf("deposit: %w: no wrapped native configured", vault.ErrInvalidInput)
			}
			tokenIn = c.wrapped
		} else {
			var err error
			tokenIn, err = c.assets.Resolve(req.AssetIn)
			if err != nil {
				c.reject(op, "validation")
				return DepositResult{}, fmt.Errorf("deposit: %w", err)
			}
		}
		assetIn = tokenIn.Symbol()

		// Price the swap before any funds move. The executed result can still
		// come in lower than this estimate under transfer fees, which the
		// adapter's post-swap minOut checks catch.
		quote, err := c.swapper.Quote(tokenIn, c.reference, req.Amount)
		if err != nil {
			c.reject(op, "swap")
			return DepositResult{}, fmt.Errorf("deposit: %w", err)
		}
		if quote < req.MinOut {
			c.reject(op, "min_out")
			return DepositResult{}, fmt.Errorf("deposit: %w: expected %d, minimum %d", pool.ErrInsufficientOutput, quote, req.MinOut)
		}

		if req.Native {
			if err := c.wrapped.Wrap(req.User, req.Amount); err != nil {
				c.reject(op, "wrap")
				return DepositResult{}, fmt.Errorf("deposit: %w", err)
			}
		}

		swap, err := c.swapper.Swap(tokenIn, c.reference, req.User, c.vaultAddr, req.Amount, req.MinOut)
		if err != nil {
			c.reject(op, "swap")
			return DepositResult{}, fmt.Errorf("deposit: %w", err)
		}
		res = DepositResult{Credited: swap.Out, EffectiveIn: swap.EffectiveIn, SwapPath: true}

	default:
		c.reject(op, "validation")
		return DepositResult{}, fmt.Errorf("deposit: %w: unknown kind %d", vault.ErrInvalidInput, req.Kind)
	}

	if err := c.ledger.Credit(req.User, res.Credited); err != nil {
		// The tokens already landed at the vault address. A cap rejection
		// here leaves them stranded until an admin rescue; the ledger itself
		// is untouched.
		c.reject(op, "credit")
		return DepositResult{}, fmt.Errorf("deposit: %w", err)
	}

	c.emit(&event.DepositCompleted{
		DepositID:   req.DepositID,
		User:        req.User,
		AssetIn:     assetIn,
		AmountIn:    req.Amount,
		EffectiveIn: res.EffectiveIn,
		Credited:    res.Credited,
		SwapPath:    res.SwapPath,
	})
	c.dedupe.MarkProcessed(op, key)

	path := "direct"
	if res.SwapPath {
		path = "swap"
	}
	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
		c.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		c.metrics.DepositVolume.WithLabelValues(path).Add(float64(res.Credited))
		if res.SwapPath {
			c.metrics.SwapOutput.Add(float64(res.Credited))
		}
		c.metrics.SetVaultTotals(c.ledger.Totals())
	}
	c.log.Info().
		Str("deposit_id", key).
		Str("user", string(req.User)).
		Str("path", path).
		Uint64("amount_in", req.Amount).
		Uint64("credited", res.Credited).
		Msg("deposit committed")

	return res, nil
}

// Withdraw debits the ledger first and transfers second. A transfer failure
// is compensated by restoring the debit, so the ledger never shows funds the
// vault no longer owes.
func (c *VaultCore) Withdraw(req WithdrawalRequest) error {
	start := time.Now()
	const op = "withdraw"

	if err := c.control.CheckRunning(); err != nil {
		c.reject(op, "paused")
		return err
	}
	if req.User == asset.ZeroAddress {
		c.reject(op, "validation")
		return fmt.Errorf("withdraw: %w: zero address", vault.ErrInvalidInput)
	}
	if req.Amount == 0 {
		c.reject(op, "validation")
		return fmt.Errorf("withdraw: %w", vault.ErrZeroAmount)
	}
	if req.WithdrawalID == uuid.Nil {
		c.reject(op, "validation")
		return fmt.Errorf("withdraw: %w: missing withdrawal id", vault.ErrInvalidInput)
	}
	key := req.WithdrawalID.String()
	if c.dedupe.IsDuplicate(op, key) {
		c.reject(op, "duplicate")
		return ErrDuplicateRequest
	}

	if !c.enterWithdrawal(req.User) {
		c.reject(op, "reentrancy")
		return fmt.Errorf("withdraw: %w", vault.ErrReentrancy)
	}
	defer c.exitWithdrawal(req.User)

	if err := c.ledger.Debit(req.User, req.Amount); err != nil {
		c.reject(op, "balance")
		return fmt.Errorf("withdraw: %w", err)
	}

	if err := c.reference.Transfer(c.vaultAddr, req.User, req.Amount); err != nil {
		c.ledger.Restore(req.User, req.Amount)
		c.emit(&event.WithdrawalReversed{
			WithdrawalID: req.WithdrawalID,
			User:         req.User,
			Amount:       req.Amount,
			Reason:       err.Error(),
		})
		c.reject(op, "transfer")
		c.log.Warn().
			Str("withdrawal_id", key).
			Str("user", string(req.User)).
			Uint64("amount", req.Amount).
			Err(err).
			Msg("withdrawal transfer failed, debit restored")
		return fmt.Errorf("withdraw: transfer failed, balance restored: %w", err)
	}

	c.emit(&event.WithdrawalCompleted{
		WithdrawalID: req.WithdrawalID,
		User:         req.User,
		Amount:       req.Amount,
	})
	c.dedupe.MarkProcessed(op, key)

	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
		c.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		c.metrics.WithdrawVolume.Add(float64(req.Amount))
		c.metrics.SetVaultTotals(c.ledger.Totals())
	}
	c.log.Info().
		Str("withdrawal_id", key).
		Str("user", string(req.User)).
		Uint64("amount", req.Amount).
		Msg("withdrawal committed")

	return nil
}

// SetCap replaces the deposit cap. Admin-only; works while paused.
func (c *VaultCore) SetCap(requestID uuid.UUID, caller asset.Address, newCap uint64) (uint64, error) {
	const op = "set_cap"
	if err := c.control.Require(caller); err != nil {
		c.reject(op, "unauthorized")
		return 0, err
	}

	oldCap := c.ledger.SetCap(newCap)
	c.emit(&event.CapUpdated{
		RequestID: requestID,
		Admin:     caller,
		OldCap:    oldCap,
		NewCap:    newCap,
	})
	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
		c.metrics.SetVaultTotals(c.ledger.Totals())
	}
	c.log.Info().
		Str("admin", string(caller)).
		Uint64("old_cap", oldCap).
		Uint64("new_cap", newCap).
		Msg("cap updated")
	return oldCap, nil
}

// Pause halts deposits and withdrawals. Admin-only, idempotent.
func (c *VaultCore) Pause(requestID uuid.UUID, caller asset.Address) error {
	const op = "pause"
	if err := c.control.Require(caller); err != nil {
		c.reject(op, "unauthorized")
		return err
	}
	c.control.Pause()
	c.emit(&event.VaultPaused{RequestID: requestID, Admin: caller})
	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
	}
	c.log.Warn().Str("admin", string(caller)).Msg("vault paused")
	return nil
}

// Resume lifts a pause. Admin-only, idempotent.
func (c *VaultCore) Resume(requestID uuid.UUID, caller asset.Address) error {
	const op = "resume"
	if err := c.control.Require(caller); err != nil {
		c.reject(op, "unauthorized")
		return err
	}
	c.control.Resume()
	c.emit(&event.VaultResumed{RequestID: requestID, Admin: caller})
	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
	}
	c.log.Info().Str("admin", string(caller)).Msg("vault resumed")
	return nil
}

// Rescue sweeps stranded tokens off the vault address. For the reference
// asset only the surplus above totalHeld may leave, so custodied balances
// can never be rescued out from under users.
func (c *VaultCore) Rescue(requestID uuid.UUID, caller asset.Address, symbol string, to asset.Address, amount uint64) error {
	const op = "rescue"
	if err := c.control.Require(caller); err != nil {
		c.reject(op, "unauthorized")
		return err
	}
	if to == asset.ZeroAddress {
		c.reject(op, "validation")
		return fmt.Errorf("rescue: %w: zero destination", vault.ErrInvalidInput)
	}
	if amount == 0 {
		c.reject(op, "validation")
		return fmt.Errorf("rescue: %w", vault.ErrZeroAmount)
	}

	token, err := c.assets.Resolve(symbol)
	if err != nil {
		c.reject(op, "validation")
		return fmt.Errorf("rescue: %w", err)
	}

	if token == c.reference {
		held, _, _ := c.ledger.Totals()
		balance := c.reference.BalanceOf(c.vaultAddr)
		if balance < held || amount > balance-held {
			c.reject(op, "validation")
			return fmt.Errorf("rescue: %w: amount %d exceeds unowed surplus", vault.ErrInvalidInput, amount)
		}
	}

	if err := token.Transfer(c.vaultAddr, to, amount); err != nil {
		c.reject(op, "transfer")
		return fmt.Errorf("rescue: %w", err)
	}

	c.emit(&event.TokensRescued{
		RequestID: requestID,
		Admin:     caller,
		Asset:     symbol,
		To:        to,
		Amount:    amount,
	})
	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
	}
	c.log.Info().
		Str("admin", string(caller)).
		Str("asset", symbol).
		Str("to", string(to)).
		Uint64("amount", amount).
		Msg("tokens rescued")
	return nil
}

// Balance reads a user's custodied reference balance.
func (c *VaultCore) Balance(user asset.Address) uint64 {
	return c.ledger.Balance(user)
}

// Totals reads (totalHeld, totalDeposited, cap).
func (c *VaultCore) Totals() (held, deposited, cap uint64) {
	return c.ledger.Totals()
}

// Paused reports the pause flag.
func (c *VaultCore) Paused() bool {
	return c.control.Paused()
}

// Sequence returns the last assigned sequence number.
func (c *VaultCore) Sequence() int64 {
	return c.sequence.Load()
}

// SeedSequence sets the sequence counter after a replay, so the next
// committed operation continues the receipt log without a gap. Call before
// serving requests.
func (c *VaultCore) SeedSequence(seq int64) {
	c.sequence.Store(seq)
}

// WarmDedupe preloads committed request keys, typically on restart.
func (c *VaultCore) WarmDedupe(keys []string) {
	c.dedupe.Warm(keys)
}

func (c *VaultCore) enterWithdrawal(user asset.Address) bool {
	c.inFlightMu.Lock()
	defer c.inFlightMu.Unlock()
	if _, busy := c.inFlight[user]; busy {
		return false
	}
	c.inFlight[user] = struct{}{}
	return true
}

func (c *VaultCore) exitWithdrawal(user asset.Address) {
	c.inFlightMu.Lock()
	defer c.inFlightMu.Unlock()
	delete(c.inFlight, user)
}

// emit assigns a sequence and fans the envelope out: blocking to the persist
// channel so no receipt is lost, non-blocking to the publish channel which
// may drop under load.
func (c *VaultCore) emit(evt event.Event) {
	seq := c.sequence.Add(1)
	env := &event.Envelope{
		Sequence:       seq,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Timestamp:      time.Now().UTC(),
		Event:          evt,
	}
	out := Output{Envelope: env}

	if c.persistChan != nil {
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}
	if c.publishChan != nil {
		select {
		case c.publishChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}
	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(seq))
	}
}

func (c *VaultCore) reject(op, reason string) {
	if c.metrics != nil {
		c.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
	}
}
