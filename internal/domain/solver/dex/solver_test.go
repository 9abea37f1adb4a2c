package dex

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	domaindex "github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/infra/ratelimit"
)

type fakeAdapter struct {
	swap domaindex.Swap
	err  error
}

func (f fakeAdapter) Swap(ctx context.Context, o domaindex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy], tokens auction.Tokens) (domaindex.Swap, error) {
	return f.swap, f.err
}

type panicSimulator struct{}

func (panicSimulator) Gas(ctx context.Context, owner eth.Address, swap domaindex.Swap) (eth.Gas, error) {
	panic("simulator should not be called for market orders")
}

func testConfig(t *testing.T) Config {
	t.Helper()
	slippage, ok := tolerance.New[tolerance.SlippagePolicy](big.NewRat(0, 1), nil)
	if !ok {
		t.Fatal("expected valid slippage limits")
	}
	minSurplus, ok := tolerance.New[tolerance.MinimumSurplusPolicy](big.NewRat(0, 1), nil)
	if !ok {
		t.Fatal("expected valid minimum surplus limits")
	}
	return Config{
		Slippage:            slippage,
		MinimumSurplus:      minSurplus,
		ConcurrentRequests:  1,
		SmallestPartialFill: eth.NewEther(uint256.NewInt(0)),
		RateLimitStrategy:   ratelimit.Strategy{GrowthFactor: 2, MinBackOff: time.Millisecond, MaxBackOff: 10 * time.Millisecond},
		GasOffset:           eth.NewGas(0),
	}
}

func marketOrder(t *testing.T) order.Order {
	t.Helper()
	sell, err := eth.ParseAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	if err != nil {
		t.Fatal(err)
	}
	buy, err := eth.ParseAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	if err != nil {
		t.Fatal(err)
	}
	var uid order.Uid
	uid[0] = 1
	return order.Order{
		Uid:               uid,
		Sell:              eth.Asset{Token: eth.TokenAddress(sell), Amount: uint256.NewInt(1_000000000000000000)},
		Buy:               eth.Asset{Token: eth.TokenAddress(buy), Amount: uint256.NewInt(2_000000000)},
		Side:              order.Sell,
		Class:             order.Market,
		PartiallyFillable: false,
	}
}

func TestSolveProducesSolutionForSatisfyingSwap(t *testing.T) {
	o := marketOrder(t)
	swap := domaindex.Swap{
		Input:  eth.Asset{Token: o.Sell.Token, Amount: o.Sell.Amount},
		Output: eth.Asset{Token: o.Buy.Token, Amount: o.Buy.Amount},
		Gas:    eth.NewGas(100000),
	}

	s := New(fakeAdapter{swap: swap}, panicSimulator{}, testConfig(t))
	a := auction.Auction{
		ID:       auction.SolveID(1),
		Tokens:   auction.Tokens{},
		Orders:   []order.Order{o},
		GasPrice: auction.GasPrice{},
		Deadline: auction.Deadline{Time: time.Now().Add(2 * time.Second)},
	}

	solutions := s.Solve(context.Background(), a)
	if len(solutions) != 1 {
		t.Fatalf("solutions = %d, want 1", len(solutions))
	}
	if solutions[0].ID != 0 {
		t.Errorf("solution ID = %d, want 0", solutions[0].ID)
	}
}

func TestSolveSkipsOrderWhenSwapUndercuts(t *testing.T) {
	o := marketOrder(t)
	// Output far below the order's required buy amount: does not satisfy.
	swap := domaindex.Swap{
		Input:  eth.Asset{Token: o.Sell.Token, Amount: o.Sell.Amount},
		Output: eth.Asset{Token: o.Buy.Token, Amount: uint256.NewInt(1)},
		Gas:    eth.NewGas(100000),
	}

	s := New(fakeAdapter{swap: swap}, panicSimulator{}, testConfig(t))
	a := auction.Auction{
		ID:       auction.SolveID(1),
		Tokens:   auction.Tokens{},
		Orders:   []order.Order{o},
		GasPrice: auction.GasPrice{},
		Deadline: auction.Deadline{Time: time.Now().Add(2 * time.Second)},
	}

	solutions := s.Solve(context.Background(), a)
	if len(solutions) != 0 {
		t.Fatalf("solutions = %d, want 0", len(solutions))
	}
}

func TestSolveSkipsOrderOnDexError(t *testing.T) {
	o := marketOrder(t)
	s := New(fakeAdapter{err: domaindex.NewError(domaindex.ErrNotFound, context.DeadlineExceeded)}, panicSimulator{}, testConfig(t))
	a := auction.Auction{
		ID:       auction.SolveID(1),
		Tokens:   auction.Tokens{},
		Orders:   []order.Order{o},
		GasPrice: auction.GasPrice{},
		Deadline: auction.Deadline{Time: time.Now().Add(2 * time.Second)},
	}

	solutions := s.Solve(context.Background(), a)
	if len(solutions) != 0 {
		t.Fatalf("solutions = %d, want 0", len(solutions))
	}
}
