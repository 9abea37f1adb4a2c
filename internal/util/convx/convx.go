// Package convx converts between uint256 wei amounts and the rational /
// decimal representations used at API boundaries and in tolerance
// arithmetic, mirroring the BigDecimal<->U256 helpers the solver's
// reference implementation exposes.
package convx

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// etherScale is 10^18, the wei-per-ether factor.
var etherScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// U256ToRat converts a uint256 integer into an exact big.Rat.
func U256ToRat(i *uint256.Int) *big.Rat {
	return new(big.Rat).SetInt(i.ToBig())
}

// RatToU256 converts a non-negative big.Rat into a uint256, truncating
// toward zero. Returns false if the value is negative or does not fit in
// 256 bits.
func RatToU256(r *big.Rat) (*uint256.Int, bool) {
	if r.Sign() < 0 {
		return nil, false
	}
	q := new(big.Int).Quo(r.Num(), r.Denom())
	return bigIntToU256(q)
}

func bigIntToU256(i *big.Int) (*uint256.Int, bool) {
	if i.Sign() < 0 || i.BitLen() > 256 {
		return nil, false
	}
	out, overflow := uint256.FromBig(i)
	if overflow {
		return nil, false
	}
	return out, true
}

// DecimalToRat parses a decimal string (e.g. "4.20") into an exact
// big.Rat. Returns an error if the string is not a valid decimal.
func DecimalToRat(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	return r, nil
}

// DecimalToEther converts a decimal string amount of ether into wei,
// truncating any precision beyond 18 decimal places.
func DecimalToEther(s string) (*uint256.Int, error) {
	r, err := DecimalToRat(s)
	if err != nil {
		return nil, err
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(etherScale))
	v, ok := RatToU256(scaled)
	if !ok {
		return nil, fmt.Errorf("decimal %q out of range", s)
	}
	return v, nil
}

// EtherToDecimal renders a wei amount as a base-10 ether decimal string
// with exactly 18 fractional digits; trailing zeros are kept.
func EtherToDecimal(wei *uint256.Int) string {
	r := new(big.Rat).SetFrac(wei.ToBig(), etherScale)
	return r.FloatString(18)
}

// RatFromUint64Fraction builds the exact rational numer/denom.
func RatFromUint64Fraction(numer, denom uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(numer), new(big.Int).SetUint64(denom))
}
