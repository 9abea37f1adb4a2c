// Package tolerance implements the generic relative/absolute tolerance
// system shared by slippage limits and minimum-surplus requirements.
package tolerance

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
)

var (
	etherScale = big.NewInt(1_000_000_000_000_000_000)
	bps        = big.NewInt(10_000)
)

// Policy parameterizes how a Limits/Tolerance pair validates its relative
// component and combines it with an absolute-as-relative figure.
type Policy interface {
	// ValidateRelative reports whether a relative tolerance value is
	// acceptable for this policy.
	ValidateRelative(relative *big.Rat) bool
	// Combine merges an absolute tolerance (expressed relative to the
	// traded amount) with the configured relative tolerance.
	Combine(absoluteAsRelative, relative *big.Rat) *big.Rat
}

// SlippagePolicy caps the relative tolerance by the absolute one: the
// smaller of the two always applies, since slippage is a limit the solver
// must stay within.
type SlippagePolicy struct{}

func (SlippagePolicy) ValidateRelative(r *big.Rat) bool {
	return r.Sign() >= 0 && r.Cmp(big.NewRat(1, 1)) <= 0
}

func (SlippagePolicy) Combine(absoluteAsRelative, relative *big.Rat) *big.Rat {
	if absoluteAsRelative.Cmp(relative) < 0 {
		return absoluteAsRelative
	}
	return relative
}

// MinimumSurplusPolicy takes the larger of the absolute-as-relative and
// relative tolerances, since a minimum surplus requirement must be met in
// full regardless of which component is larger.
type MinimumSurplusPolicy struct{}

func (MinimumSurplusPolicy) ValidateRelative(r *big.Rat) bool {
	return r.Sign() >= 0
}

func (MinimumSurplusPolicy) Combine(absoluteAsRelative, relative *big.Rat) *big.Rat {
	if absoluteAsRelative.Cmp(relative) > 0 {
		return absoluteAsRelative
	}
	return relative
}

// Limits is a configured relative+absolute tolerance limit. P selects the
// validation and combination policy.
type Limits[P Policy] struct {
	relative *big.Rat
	absolute *eth.Ether
}

// New creates a Limits instance, validating relative against the policy.
func New[P Policy](relative *big.Rat, absolute *eth.Ether) (Limits[P], bool) {
	var p P
	if !p.ValidateRelative(relative) {
		return Limits[P]{}, false
	}
	return Limits[P]{relative: relative, absolute: absolute}, true
}

// Relative computes the effective tolerance to apply to asset, given the
// auction's token reference prices.
func (l Limits[P]) Relative(asset eth.Asset, tokens auction.Tokens) Tolerance[P] {
	price, hasPrice := tokens.ReferencePrice(asset.Token)
	if l.absolute == nil || !hasPrice || asset.Amount == nil {
		return NewTolerance[P](l.relative)
	}

	absoluteRaw := new(big.Int).SetBytes(toBytes(l.absolute.Value))
	amountRaw := new(big.Int).SetBytes(toBytes(asset.Amount))
	priceRaw := new(big.Int).SetBytes(toBytes(price.Value))

	denom := new(big.Int).Mul(amountRaw, priceRaw)
	if denom.Sign() == 0 {
		return NewTolerance[P](l.relative)
	}
	numer := new(big.Int).Mul(absoluteRaw, etherScale)

	absoluteAsRelative := new(big.Rat).SetFrac(numer, denom)

	var p P
	return NewTolerance[P](p.Combine(absoluteAsRelative, l.relative))
}

func toBytes(i *uint256.Int) []byte {
	b := i.Bytes32()
	return b[:]
}

// Tolerance is a tolerance factor with saturating U256 arithmetic helpers.
type Tolerance[P Policy] struct {
	value *big.Rat
}

func NewTolerance[P Policy](value *big.Rat) Tolerance[P] {
	return Tolerance[P]{value: value}
}

// Add adds the tolerance to amount, saturating at the uint256 maximum.
func (t Tolerance[P]) Add(amount *uint256.Int) *uint256.Int {
	sum, overflow := new(uint256.Int).AddOverflow(amount, t.abs(amount))
	if overflow {
		return new(uint256.Int).Not(uint256.NewInt(0))
	}
	return sum
}

// Sub subtracts the tolerance from amount, saturating at zero.
func (t Tolerance[P]) Sub(amount *uint256.Int) *uint256.Int {
	diff, underflow := new(uint256.Int).SubOverflow(amount, t.abs(amount))
	if underflow {
		return uint256.NewInt(0)
	}
	return diff
}

// abs returns the absolute tolerance amount for the given base amount,
// rounding the fractional component up.
func (t Tolerance[P]) abs(amount *uint256.Int) *uint256.Int {
	amountInt := new(big.Int).SetBytes(toBytes(amount))
	numer := new(big.Int).Mul(amountInt, t.value.Num())
	denom := t.value.Denom()

	quo, rem := new(big.Int).QuoRem(numer, denom, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	if quo.Sign() < 0 {
		quo.SetInt64(0)
	}
	out, overflow := uint256.FromBig(quo)
	if overflow {
		return new(uint256.Int).Not(uint256.NewInt(0))
	}
	return out
}

// AsFactor returns the tolerance as a rational factor.
func (t Tolerance[P]) AsFactor() *big.Rat { return t.value }

// AsBps converts the tolerance factor to basis points, flooring any
// fractional basis point, and returns false if it does not fit in a
// uint16.
func (t Tolerance[P]) AsBps() (uint16, bool) {
	scaled := new(big.Rat).Mul(t.value, new(big.Rat).SetInt(bps))
	floor := ratFloor(scaled)
	if floor.Sign() < 0 || floor.Cmp(big.NewInt(65535)) > 0 {
		return 0, false
	}
	return uint16(floor.Uint64()), true
}

// Round rounds the tolerance factor down to the given number of decimal
// places, truncating toward negative infinity.
func (t Tolerance[P]) Round(places int) Tolerance[P] {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	scaled := new(big.Rat).Mul(t.value, new(big.Rat).SetInt(scale))
	rounded := new(big.Rat).SetFrac(ratFloor(scaled), scale)
	return NewTolerance[P](rounded)
}

// ratFloor returns the greatest integer not exceeding r.
func ratFloor(r *big.Rat) *big.Int {
	q, rem := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if rem.Sign() != 0 && r.Num().Sign() < 0 {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

// Apply applies the tolerance factor to value, computing value*(1+factor),
// saturating at the uint256 maximum.
func (t Tolerance[P]) Apply(value *uint256.Int) *uint256.Int {
	factor := new(big.Rat).Add(big.NewRat(1, 1), t.value)
	valueInt := new(big.Int).SetBytes(toBytes(value))
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(valueInt), factor)

	quo := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if quo.Sign() < 0 {
		quo.SetInt64(0)
	}
	out, overflow := uint256.FromBig(quo)
	if overflow {
		return new(uint256.Int).Not(uint256.NewInt(0))
	}
	return out
}
