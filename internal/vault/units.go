package vault

import "math/bits"

// CapScale converts native reference-asset units (6 fractional digits) into
// cap-accounting units (8 fractional digits). Exact power-of-ten ratio, so
// the conversion never loses precision in this direction.
const CapScale = 100

// CapUnits rescales a native reference-asset amount into cap units.
func CapUnits(amountNative uint64) (uint64, error) {
	hi, lo := bits.Mul64(amountNative, CapScale)
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo, nil
}
