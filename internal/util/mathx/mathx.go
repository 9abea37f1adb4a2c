// Package mathx holds small integer-arithmetic helpers shared by the
// domain packages.
package mathx

import "github.com/holiman/uint256"

// DivCeil divides a by b, rounding up. Returns false if b is zero or the
// computation overflows.
func DivCeil(a, b *uint256.Int) (*uint256.Int, bool) {
	if b == nil || b.IsZero() || a == nil {
		return nil, false
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(a, b, r)
	if !r.IsZero() {
		var overflow bool
		q, overflow = new(uint256.Int).AddOverflow(q, uint256.NewInt(1))
		if overflow {
			return nil, false
		}
	}
	return q, true
}

// Min returns the smaller of two uint256 values.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of two uint256 values.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// SaturatingAdd adds a and b, clamping to the maximum uint256 value instead
// of wrapping on overflow.
func SaturatingAdd(a, b *uint256.Int) *uint256.Int {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return new(uint256.Int).Not(uint256.NewInt(0))
	}
	return sum
}

// SaturatingSub subtracts b from a, clamping to zero instead of wrapping on
// underflow.
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return uint256.NewInt(0)
	}
	return diff
}
