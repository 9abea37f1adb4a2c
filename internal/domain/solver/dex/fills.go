// Package dex implements the orchestration of quoting CoW Protocol orders
// against an external DEX and turning the result into settlement
// solutions: the partial-fill search, the solve loop, and result
// gathering.
package dex

import (
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
)

// fillsMaxAge is how long a partial-fill cache entry survives without
// being requested again, before it is garbage collected. This lets us
// forget about orders that got fully settled by another solver without
// needing to be told explicitly.
const fillsMaxAge = 10 * time.Minute

// Fills manages the search for a fillable amount for partially fillable
// orders, adapting the tried amount based on whether previous DEX quotes
// for an order succeeded or failed.
type Fills struct {
	mu           sync.Mutex
	amounts      map[order.Uid]*fillEntry
	smallestFill *uint256.Int
}

type fillEntry struct {
	nextAmount    *uint256.Int
	totalAmount   *uint256.Int
	lastRequested time.Time
}

// NewFills creates a Fills ledger. smallestFill is the smallest value,
// denominated in the chain's native asset, the solver will consider
// trying a partial fill for; below this the search restarts from 100%.
func NewFills(smallestFill eth.Ether) *Fills {
	return &Fills{
		amounts:      map[order.Uid]*fillEntry{},
		smallestFill: smallestFill.Value,
	}
}

// DexOrder returns the DEX-facing order that should be quoted for o,
// taking the history of previous partial-fill attempts into account.
// Returns false if the order cannot currently be quoted: a same-token
// order, a partially fillable order without reference prices for the
// native token and the order's fixed-side token, or one whose full amount
// is below the smallest considered fill (a next amount that has shrunk
// below that floor restarts from the full amount instead).
func (f *Fills) DexOrder(o order.Order, tokens auction.Tokens) (dex.Order, bool) {
	if o.Sell.Token == o.Buy.Token {
		return dex.Order{}, false
	}
	if !o.PartiallyFillable {
		return dex.NewOrder(o), true
	}

	token := o.Sell.Token
	totalAmount := o.Sell.Amount
	if o.Side == order.Buy {
		token = o.Buy.Token
		totalAmount = o.Buy.Amount
	}

	ethPrice, ok := tokens.ReferencePrice(eth.NativeToken)
	if !ok {
		return dex.Order{}, false
	}
	tokenPrice, ok := tokens.ReferencePrice(token)
	if !ok {
		return dex.Order{}, false
	}
	smallestFill, ok := scaleSmallestFill(f.smallestFill, ethPrice, tokenPrice)
	if !ok {
		return dex.Order{}, false
	}

	now := time.Now()

	f.mu.Lock()
	entry, exists := f.amounts[o.Uid]
	if !exists {
		entry = &fillEntry{
			nextAmount:    totalAmount,
			totalAmount:   totalAmount,
			lastRequested: now,
		}
		f.amounts[o.Uid] = entry
	} else {
		entry.lastRequested = now
		entry.totalAmount = totalAmount
		if entry.nextAmount.Cmp(smallestFill) < 0 {
			entry.nextAmount = totalAmount
		} else if entry.nextAmount.Cmp(totalAmount) > 0 {
			entry.nextAmount = totalAmount
		}
	}
	amount := entry.nextAmount
	f.mu.Unlock()

	if amount.Cmp(smallestFill) < 0 || amount.IsZero() {
		return dex.Order{}, false
	}

	sellAmount, buyAmount, ok := scaleToFill(o, amount)
	if !ok {
		return dex.Order{}, false
	}

	scaled := o
	scaled.Sell = eth.Asset{Token: o.Sell.Token, Amount: sellAmount}
	scaled.Buy = eth.Asset{Token: o.Buy.Token, Amount: buyAmount}
	return dex.NewOrder(scaled), true
}

// scaleSmallestFill converts the configured native-asset smallest fill
// threshold into the target token's units: smallestFill * ethPrice /
// tokenPrice.
func scaleSmallestFill(smallestFill *uint256.Int, ethPrice, tokenPrice auction.Price) (*uint256.Int, bool) {
	if tokenPrice.Value == nil || tokenPrice.Value.IsZero() {
		return nil, false
	}
	numer := new(big.Int).Mul(smallestFill.ToBig(), ethPrice.Value.ToBig())
	result := new(big.Int).Quo(numer, tokenPrice.Value.ToBig())
	out, overflow := uint256.FromBig(result)
	if overflow {
		return nil, false
	}
	return out, true
}

// scaleToFill scales an order's sell and buy amounts proportionally to a
// chosen fill amount on the order's fixed side, preserving the order's
// limit price ratio.
func scaleToFill(o order.Order, amount *uint256.Int) (sell, buy *uint256.Int, ok bool) {
	switch o.Side {
	case order.Buy:
		sellAmount, ok := widenMulDiv(o.Sell.Amount, amount, o.Buy.Amount)
		if !ok {
			return nil, nil, false
		}
		return sellAmount, amount, true
	case order.Sell:
		buyAmount, ok := widenMulDiv(o.Buy.Amount, amount, o.Sell.Amount)
		if !ok {
			return nil, nil, false
		}
		return amount, buyAmount, true
	default:
		return nil, nil, false
	}
}

// widenMulDiv computes floor(a*b/c) using arbitrary precision arithmetic
// so that the intermediate product never overflows 256 bits.
func widenMulDiv(a, b, c *uint256.Int) (*uint256.Int, bool) {
	if c.IsZero() {
		return nil, false
	}
	numer := new(big.Int).Mul(a.ToBig(), b.ToBig())
	result := new(big.Int).Quo(numer, c.ToBig())
	out, overflow := uint256.FromBig(result)
	if overflow {
		return nil, false
	}
	return out, true
}

// ReduceNextTry halves the next fill amount to try for an order. Called
// after a quote attempt fails, on the assumption that on-chain liquidity
// can't support the current fill size.
func (f *Fills) ReduceNextTry(uid order.Uid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.amounts[uid]
	if !ok {
		return
	}
	entry.nextAmount = new(uint256.Int).Div(entry.nextAmount, uint256.NewInt(2))
}

// IncreaseNextTry doubles the next fill amount to try for an order,
// clamped to the order's total remaining amount. Called after a
// successful quote, in case on-chain liquidity has improved since the
// last attempt.
func (f *Fills) IncreaseNextTry(uid order.Uid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.amounts[uid]
	if !ok {
		return
	}
	doubled, overflow := new(uint256.Int).MulOverflow(entry.nextAmount, uint256.NewInt(2))
	if overflow {
		entry.nextAmount = entry.totalAmount
		return
	}
	if doubled.Cmp(entry.totalAmount) > 0 {
		doubled = entry.totalAmount
	}
	entry.nextAmount = doubled
}

// CollectGarbage removes fill cache entries that have not been requested
// in a while, allowing the engine to forget about orders settled by other
// solvers it didn't directly observe.
func (f *Fills) CollectGarbage() {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for uid, entry := range f.amounts {
		if now.Sub(entry.lastRequested) >= fillsMaxAge {
			delete(f.amounts, uid)
		}
	}
}
