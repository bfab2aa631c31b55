package pool_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"swapvault/internal/amm"
	"swapvault/internal/asset"
	"swapvault/internal/pool"
)

const (
	poolAddr  = asset.Address("pool-1")
	sender    = asset.Address("sender")
	recipient = asset.Address("vault")
)

func setupPool(t *testing.T, tokenIn, tokenOut *asset.MemToken, reserveIn, reserveOut uint64) *pool.Adapter {
	t.Helper()
	tokenIn.Mint(poolAddr, reserveIn)
	tokenOut.Mint(poolAddr, reserveOut)
	reg := pool.NewRegistry()
	reg.Register(pool.NewMemPool(poolAddr, tokenIn, tokenOut))
	return pool.NewAdapter(reg)
}

func TestAdapter_SwapMatchesCalculator(t *testing.T) {
	wnat := asset.NewMemToken("WNAT", 18)
	usd := asset.NewMemToken("USDR", 6)
	adapter := setupPool(t, wnat, usd, 50_000, 100_000)

	wnat.Mint(sender, 1_000)

	res, err := adapter.Swap(wnat, usd, sender, recipient, 1_000, 0)
	if err != nil {
		t.Fatalf("Swap failed: %v", err)
	}

	want, err := amm.ExpectedOut(1_000, 50_000, 100_000)
	if err != nil {
		t.Fatalf("ExpectedOut failed: %v", err)
	}
	if res.Out != want {
		t.Errorf("received %d, want %d", res.Out, want)
	}
	if res.EffectiveIn != 1_000 {
		t.Errorf("effective input %d, want 1_000", res.EffectiveIn)
	}
	if bal := usd.BalanceOf(recipient); bal != want {
		t.Errorf("recipient balance %d, want %d", bal, want)
	}
	if bal := wnat.BalanceOf(sender); bal != 0 {
		t.Errorf("sender still holds %d input tokens", bal)
	}
}

func TestAdapter_FeeOnTransferPricedOnDelivered(t *testing.T) {
	// 500 bps transfer fee: sending 1000 delivers 950 to the pool, and the
	// swap must be priced on the 950 the pool absorbed.
	taxed := asset.NewFeeOnTransferToken("TAX", 18, 500)
	usd := asset.NewMemToken("USDR", 6)
	adapter := setupPool(t, taxed, usd, 50_000, 100_000)

	taxed.Mint(sender, 2_000)

	res, err := adapter.Swap(taxed, usd, sender, recipient, 1_000, 0)
	if err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	if res.EffectiveIn != 950 {
		t.Errorf("effective input %d, want 950", res.EffectiveIn)
	}

	want, err := amm.ExpectedOut(950, 50_000, 100_000)
	if err != nil {
		t.Fatalf("ExpectedOut failed: %v", err)
	}
	if res.Out != want {
		t.Errorf("received %d, want %d (priced on delivered 950, not nominal 1000)", res.Out, want)
	}

	nominal, _ := amm.ExpectedOut(1_000, 50_000, 100_000)
	if res.Out >= nominal {
		t.Errorf("fee-on-transfer swap paid %d, at least the nominal quote %d", res.Out, nominal)
	}
}

func TestAdapter_ZeroEffectiveInput(t *testing.T) {
	// 100% transfer fee: the pool absorbs nothing.
	taxed := asset.NewFeeOnTransferToken("TAX", 18, 10_000)
	usd := asset.NewMemToken("USDR", 6)
	adapter := setupPool(t, taxed, usd, 50_000, 100_000)

	taxed.Mint(sender, 1_000)

	_, err := adapter.Swap(taxed, usd, sender, recipient, 1_000, 0)
	if !errors.Is(err, pool.ErrZeroEffectiveInput) {
		t.Errorf("got %v, want ErrZeroEffectiveInput", err)
	}
}

func TestAdapter_PairNotFound(t *testing.T) {
	wnat := asset.NewMemToken("WNAT", 18)
	usd := asset.NewMemToken("USDR", 6)
	adapter := pool.NewAdapter(pool.NewRegistry())

	if _, err := adapter.Swap(wnat, usd, sender, recipient, 1_000, 0); !errors.Is(err, pool.ErrPairNotFound) {
		t.Errorf("Swap: got %v, want ErrPairNotFound", err)
	}
	if _, err := adapter.Quote(wnat, usd, 1_000); !errors.Is(err, pool.ErrPairNotFound) {
		t.Errorf("Quote: got %v, want ErrPairNotFound", err)
	}
}

func TestAdapter_MinOutBackstop(t *testing.T) {
	wnat := asset.NewMemToken("WNAT", 18)
	usd := asset.NewMemToken("USDR", 6)
	adapter := setupPool(t, wnat, usd, 50_000, 100_000)

	wnat.Mint(sender, 1_000)

	want, _ := amm.ExpectedOut(1_000, 50_000, 100_000)
	_, err := adapter.Swap(wnat, usd, sender, recipient, 1_000, want+1)
	if !errors.Is(err, pool.ErrInsufficientOutput) {
		t.Errorf("got %v, want ErrInsufficientOutput", err)
	}
}

func TestAdapter_QuoteEmptyPool(t *testing.T) {
	wnat := asset.NewMemToken("WNAT", 18)
	usd := asset.NewMemToken("USDR", 6)
	reg := pool.NewRegistry()
	reg.Register(pool.NewMemPool(poolAddr, wnat, usd))
	adapter := pool.NewAdapter(reg)

	if _, err := adapter.Quote(wnat, usd, 1_000); !errors.Is(err, pool.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

// slowToken delays every transfer, widening the window between one swap's
// reserve snapshot and another swap's balance change landing in the pool.
type slowToken struct {
	*asset.MemToken
	delay time.Duration
}

func (s *slowToken) Transfer(from, to asset.Address, amount uint64) error {
	time.Sleep(s.delay)
	return s.MemToken.Transfer(from, to, amount)
}

func TestAdapter_ConcurrentSwapsPricedOnOwnInput(t *testing.T) {
	wnat := &slowToken{MemToken: asset.NewMemToken("WNAT", 18), delay: 5 * time.Millisecond}
	usd := asset.NewMemToken("USDR", 6)
	wnat.Mint(poolAddr, 50_000)
	usd.Mint(poolAddr, 100_000)
	reg := pool.NewRegistry()
	reg.Register(pool.NewMemPool(poolAddr, wnat, usd))
	adapter := pool.NewAdapter(reg)

	senders := []asset.Address{"sender-a", "sender-b"}
	for _, s := range senders {
		wnat.Mint(s, 1_000)
	}

	results := make([]pool.SwapResult, len(senders))
	errs := make([]error, len(senders))
	var wg sync.WaitGroup
	for i, s := range senders {
		wg.Add(1)
		go func(i int, s asset.Address) {
			defer wg.Done()
			results[i], errs[i] = adapter.Swap(wnat, usd, s, recipient, 1_000, 0)
		}(i, s)
	}
	wg.Wait()

	var totalOut uint64
	for i := range senders {
		if errs[i] != nil {
			t.Fatalf("swap %d failed: %v", i, errs[i])
		}
		// Neither swap may absorb the other's input into its measurement.
		if results[i].EffectiveIn != 1_000 {
			t.Errorf("swap %d effective input %d, want exactly its own 1_000", i, results[i].EffectiveIn)
		}
		totalOut += results[i].Out
	}

	if bal := wnat.BalanceOf(poolAddr); bal != 52_000 {
		t.Errorf("pool input reserve %d, want 52_000", bal)
	}
	if bal := usd.BalanceOf(poolAddr); bal != 100_000-totalOut {
		t.Errorf("pool output reserve %d, want %d", bal, 100_000-totalOut)
	}
	// Equal-sized swaps executed back to back pay the same total in either
	// order.
	first, _ := amm.ExpectedOut(1_000, 50_000, 100_000)
	second, _ := amm.ExpectedOut(1_000, 51_000, 100_000-first)
	if totalOut != first+second {
		t.Errorf("total output %d, want %d from two serialized swaps", totalOut, first+second)
	}
}

func TestAdapter_PairLookupIsUnordered(t *testing.T) {
	wnat := asset.NewMemToken("WNAT", 18)
	usd := asset.NewMemToken("USDR", 6)
	adapter := setupPool(t, wnat, usd, 100_000, 100_000)

	if _, err := adapter.Quote(usd, wnat, 1_000); err != nil {
		t.Errorf("reverse-direction quote failed: %v", err)
	}
}
