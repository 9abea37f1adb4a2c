package dex

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
)

func asset(amount uint64) eth.Asset {
	return eth.Asset{Amount: uint256.NewInt(amount)}
}

func TestSwapSatisfies(t *testing.T) {
	o := order.Order{Sell: asset(100), Buy: asset(100)}

	exact := Swap{Input: asset(100), Output: asset(100)}
	if !exact.Satisfies(o) {
		t.Error("exact-price swap should satisfy the order")
	}

	better := Swap{Input: asset(100), Output: asset(101)}
	if !better.Satisfies(o) {
		t.Error("better-price swap should satisfy the order")
	}

	worse := Swap{Input: asset(100), Output: asset(99)}
	if worse.Satisfies(o) {
		t.Error("worse-price swap should not satisfy the order")
	}
}

func TestSwapSatisfiesWithMinimumSurplus(t *testing.T) {
	o := order.Order{Sell: asset(100), Buy: asset(100)}

	limits, ok := tolerance.New[tolerance.MinimumSurplusPolicy](big.NewRat(1, 10), nil)
	if !ok {
		t.Fatal("expected valid limits")
	}
	minSurplus := limits.Relative(eth.Asset{}, auction.Tokens{})

	exact := Swap{Input: asset(100), Output: asset(105)}
	if exact.SatisfiesWithMinimumSurplus(o, minSurplus) {
		t.Error("swap below the minimum surplus should not satisfy")
	}

	enough := Swap{Input: asset(100), Output: asset(111)}
	if !enough.SatisfiesWithMinimumSurplus(o, minSurplus) {
		t.Error("swap above the minimum surplus should satisfy")
	}
}
