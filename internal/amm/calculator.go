package amm

import (
	"errors"
	"math/big"
	"sync"
)

// Constant-product swap fee: 0.3% taken from the input before the invariant
// computation, expressed as 997/1000.
const (
	FeeNumerator   = 997
	FeeDenominator = 1000
)

var (
	ErrZeroAmount            = errors.New("zero input amount")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
)

// Intermediate products exceed 64 bits for realistic reserves, so the formula
// runs on pooled big.Ints and only the final quotient is narrowed back.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// ExpectedOut computes the output amount of a constant-product swap with the
// 997/1000 input fee:
//
//	out = floor(amountIn*997*reserveOut / (reserveIn*1000 + amountIn*997))
//
// Division truncates toward zero. The function is pure: it serves both as
// the pre-swap estimate and as the settlement amount, so the result must be
// identical for identical inputs.
func ExpectedOut(amountIn, reserveIn, reserveOut uint64) (uint64, error) {
	if amountIn == 0 {
		return 0, ErrZeroAmount
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, ErrInsufficientLiquidity
	}

	inWithFee := getBig().SetUint64(amountIn)
	inWithFee.Mul(inWithFee, big.NewInt(FeeNumerator))

	numerator := getBig().SetUint64(reserveOut)
	numerator.Mul(numerator, inWithFee)

	denominator := getBig().SetUint64(reserveIn)
	denominator.Mul(denominator, big.NewInt(FeeDenominator))
	denominator.Add(denominator, inWithFee)

	quotient := getBig().Quo(numerator, denominator)

	defer func() {
		putBig(inWithFee)
		putBig(numerator)
		putBig(denominator)
		putBig(quotient)
	}()

	if !quotient.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return quotient.Uint64(), nil
}
