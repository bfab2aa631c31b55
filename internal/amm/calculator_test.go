package amm_test

import (
	"errors"
	"math"
	"testing"

	"swapvault/internal/amm"
)

func TestExpectedOut_ReferenceVector(t *testing.T) {
	// floor(1000*997*100000 / (50000*1000 + 1000*997)) = floor(99700000000/50997000)
	out, err := amm.ExpectedOut(1000, 50_000, 100_000)
	if err != nil {
		t.Fatalf("ExpectedOut failed: %v", err)
	}
	if out != 1955 {
		t.Errorf("got %d, want 1955", out)
	}
}

func TestExpectedOut_Deterministic(t *testing.T) {
	first, err := amm.ExpectedOut(123_456_789, 987_654_321, 555_555_555)
	if err != nil {
		t.Fatalf("ExpectedOut failed: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := amm.ExpectedOut(123_456_789, 987_654_321, 555_555_555)
		if err != nil {
			t.Fatalf("ExpectedOut failed on iteration %d: %v", i, err)
		}
		if again != first {
			t.Fatalf("nondeterministic result: %d != %d", again, first)
		}
	}
}

func TestExpectedOut_ZeroInput(t *testing.T) {
	_, err := amm.ExpectedOut(0, 50_000, 100_000)
	if !errors.Is(err, amm.ErrZeroAmount) {
		t.Errorf("got %v, want ErrZeroAmount", err)
	}
}

func TestExpectedOut_ZeroReserves(t *testing.T) {
	if _, err := amm.ExpectedOut(1000, 0, 100_000); !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("zero reserveIn: got %v, want ErrInsufficientLiquidity", err)
	}
	if _, err := amm.ExpectedOut(1000, 50_000, 0); !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("zero reserveOut: got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestExpectedOut_OutputBelowReserve(t *testing.T) {
	// Output of a constant-product swap is strictly less than reserveOut,
	// even for an enormous input against maximal reserves.
	out, err := amm.ExpectedOut(math.MaxUint64, math.MaxUint64, math.MaxUint64)
	if err != nil {
		t.Fatalf("ExpectedOut failed: %v", err)
	}
	if out >= math.MaxUint64 {
		t.Errorf("output %d must be below reserveOut", out)
	}
}

func TestExpectedOut_TruncatesTowardZero(t *testing.T) {
	// floor(3*997*10 / (1000*1000 + 3*997)) = floor(29910/1002991) = 0
	out, err := amm.ExpectedOut(3, 1000, 10)
	if err != nil {
		t.Fatalf("ExpectedOut failed: %v", err)
	}
	if out != 0 {
		t.Errorf("got %d, want 0 (floor division)", out)
	}
}

func TestExpectedOut_TinyPool(t *testing.T) {
	// 1-in-1-out pool: floor(1*997*1 / (1*1000 + 1*997)) = 0
	out, err := amm.ExpectedOut(1, 1, 1)
	if err != nil {
		t.Fatalf("ExpectedOut failed: %v", err)
	}
	if out != 0 {
		t.Errorf("got %d, want 0", out)
	}
}
