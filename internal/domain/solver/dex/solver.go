package dex

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	domaindex "github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/domain/solution"
	"github.com/cowprotocol/dex-solvers/internal/infra/metrics"
	"github.com/cowprotocol/dex-solvers/internal/infra/ratelimit"
)

// deadlineSlack is how much ahead of the auction's hard deadline the
// solver aims to finish, to leave room for the response to be returned.
const deadlineSlack = 500 * time.Millisecond

// Adapter is the interface a DEX/DEX-aggregator API client must satisfy to
// be driven by the solver engine.
type Adapter interface {
	Swap(ctx context.Context, order domaindex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy], tokens auction.Tokens) (domaindex.Swap, error)
}

// Config configures a Solver instance.
type Config struct {
	Slippage                 tolerance.Limits[tolerance.SlippagePolicy]
	MinimumSurplus            tolerance.Limits[tolerance.MinimumSurplusPolicy]
	ConcurrentRequests        int
	SmallestPartialFill       eth.Ether
	RateLimitStrategy         ratelimit.Strategy
	GasOffset                 eth.Gas
	InternalizeInteractions   bool
}

// Solver matches orders directly against swaps quoted from an external
// DEX aggregator API, producing at most one single-order solution per
// order in the auction.
type Solver struct {
	dex         Adapter
	simulator   domaindex.Simulator
	slippage    tolerance.Limits[tolerance.SlippagePolicy]
	minSurplus  tolerance.Limits[tolerance.MinimumSurplusPolicy]
	concurrency int
	fills       *Fills
	limiter     *ratelimit.Limiter
	gasOffset   eth.Gas
	internalize bool
}

// New creates a Solver driving the given adapter and gas simulator.
func New(adapter Adapter, simulator domaindex.Simulator, cfg Config) *Solver {
	concurrency := cfg.ConcurrentRequests
	if concurrency < 1 {
		concurrency = 1
	}
	return &Solver{
		dex:         adapter,
		simulator:   simulator,
		slippage:    cfg.Slippage,
		minSurplus:  cfg.MinimumSurplus,
		concurrency: concurrency,
		fills:       NewFills(cfg.SmallestPartialFill),
		limiter:     ratelimit.New("dex_api", cfg.RateLimitStrategy),
		gasOffset:   cfg.GasOffset,
		internalize: cfg.InternalizeInteractions,
	}
}

// Solve attempts to find a single-order solution for every order in the
// auction, racing against the auction's deadline (minus a safety
// margin). Orders that don't yield a solution before the deadline, or at
// all, are simply absent from the result.
func (s *Solver) Solve(ctx context.Context, a auction.Auction) []solution.Solution {
	remaining := a.Deadline.Remaining(time.Now()) - deadlineSlack
	metrics.Solve(remaining)

	solveCtx, cancel := context.WithTimeout(ctx, maxDuration(remaining, 0))
	defer cancel()

	solutions := s.solveAll(solveCtx, a)

	s.fills.CollectGarbage()
	metrics.Solved(a.Deadline.Remaining(time.Now()), len(solutions))
	return solutions
}

func maxDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}

// solveAll fans out across the auction's orders, bounded by
// s.concurrency in-flight requests at a time, and collects whichever
// solutions complete before ctx is cancelled.
func (s *Solver) solveAll(ctx context.Context, a auction.Auction) []solution.Solution {
	type result struct {
		sol solution.Solution
		ok  bool
	}

	results := make([]result, len(a.Orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, o := range a.Orders {
		i, o := i, o
		g.Go(func() error {
			sol, ok := s.solveOrder(gctx, o, a.Tokens, a.GasPrice)
			if ok && gctx.Err() == nil {
				results[i] = result{sol: sol.WithID(solution.ID(i)), ok: true}
			}
			return nil
		})
	}
	// Deadline expiry is expected, not an error: ignore the error return,
	// since per-order goroutines never themselves return an error.
	_ = g.Wait()

	solutions := make([]solution.Solution, 0, len(results))
	for _, r := range results {
		if r.ok {
			solutions = append(solutions, r.sol)
		}
	}
	return solutions
}

// trySolve quotes dexOrder against the configured adapter, applying rate
// limiting, slippage, and the minimum-surplus post-filter, adapting the
// fills ledger along the way.
func (s *Solver) trySolve(ctx context.Context, o order.Order, dexOrder domaindex.Order, tokens auction.Tokens) (domaindex.Swap, bool) {
	slippage := s.slippage.Relative(dexOrder.AsAsset(), tokens)

	swap, err := ratelimit.Execute(ctx, s.limiter, func() (domaindex.Swap, error) {
		swap, err := s.dex.Swap(ctx, dexOrder, slippage, tokens)
		if err == nil {
			metrics.RequestSent()
		}
		return swap, err
	}, isRateLimited)

	if err != nil {
		s.handleDexError(o, err)
		return domaindex.Swap{}, false
	}

	if !swap.Satisfies(o) {
		slog.Debug("swap does not satisfy order", "order", o.Uid)
		if o.PartiallyFillable {
			s.fills.ReduceNextTry(o.Uid)
		}
		return domaindex.Swap{}, false
	}

	minSurplus := s.minSurplus.Relative(dexOrder.AsAsset(), tokens)
	if !swap.SatisfiesWithMinimumSurplus(o, minSurplus) {
		slog.Debug("swap does not meet minimum surplus requirement", "order", o.Uid)
		if o.PartiallyFillable {
			s.fills.ReduceNextTry(o.Uid)
		}
		return domaindex.Swap{}, false
	}

	return swap, true
}

func (s *Solver) handleDexError(o order.Order, err error) {
	var derr *domaindex.Error
	ok := asDexError(err, &derr)
	variant := "other"
	if ok {
		variant = derr.Variant()
	}
	metrics.SolveError(variant)

	if ok && derr.Kind == domaindex.ErrNotFound {
		if o.PartiallyFillable {
			s.fills.ReduceNextTry(o.Uid)
		} else {
			slog.Debug("skipping order", "order", o.Uid, "err", err)
		}
		return
	}
	slog.Debug("dex request failed", "order", o.Uid, "err", err)
}

func asDexError(err error, out **domaindex.Error) bool {
	de, ok := err.(*domaindex.Error)
	if ok {
		*out = de
	}
	return ok
}

func isRateLimited(err error) bool {
	var derr *domaindex.Error
	return asDexError(err, &derr) && derr.Kind == domaindex.ErrRateLimited
}

// solveOrder runs the full per-order pipeline: pick a dex order (applying
// the partial-fill search), quote it, and finalize it into a solution.
func (s *Solver) solveOrder(ctx context.Context, o order.Order, tokens auction.Tokens, gasPrice auction.GasPrice) (solution.Solution, bool) {
	dexOrder, ok := s.fills.DexOrder(o, tokens)
	if !ok {
		return solution.Solution{}, false
	}

	swap, ok := s.trySolve(ctx, o, dexOrder, tokens)
	if !ok {
		return solution.Solution{}, false
	}

	var sellPrice *auction.Price
	if p, ok := tokens.ReferencePrice(o.Sell.Token); ok {
		sellPrice = &p
	}

	sol, ok := swap.IntoSolution(ctx, o, gasPrice, sellPrice, s.simulator, s.gasOffset)
	if !ok {
		slog.Debug("no solution for swap", "order", o.Uid)
		return solution.Solution{}, false
	}

	slog.Debug("solved", "order", o.Uid)
	s.fills.IncreaseNextTry(o.Uid)

	if s.internalize {
		sol = sol.WithBuffersInternalizations(tokens)
	}
	return sol, true
}
