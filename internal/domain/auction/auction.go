// Package auction models the auction the solver is asked to solve: the set
// of orders, the tokens involved and their reference prices, and the
// deadline by which a solution must be produced.
package auction

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
)

// scale is the fixed-point base reference prices are quoted in: a price is
// the amount of wei one unit (1e18 atoms) of the token is worth.
var scale = uint256.NewInt(1e18)

// Price is a token's reference price, denominated in wei per 1e18 atoms of
// the token.
type Price eth.Ether

// EtherValue converts an amount denominated in wei (e.g. a gas cost) into
// the equivalent amount of the token this price belongs to. Returns false
// if the price is zero or the conversion overflows a uint256.
func (p Price) EtherValue(cost eth.Ether) (*uint256.Int, bool) {
	if p.Value == nil || p.Value.IsZero() || cost.Value == nil {
		return nil, false
	}
	out, overflow := new(uint256.Int).MulDivOverflow(cost.Value, scale, p.Value)
	if overflow {
		return nil, false
	}
	return out, true
}

// GasPrice is the price of one unit of gas, denominated in wei.
type GasPrice eth.Ether

// Token carries the auxiliary data the solver needs about a token that
// appears in an auction: its decimals, a reference price versus the native
// asset, the settlement contract's available balance, and whether it is
// trusted for internalization.
type Token struct {
	Decimals         *uint8
	Symbol           string
	ReferencePrice   *Price
	AvailableBalance *uint256.Int
	Trusted          bool
}

// Tokens is the per-auction token registry, keyed by token address.
type Tokens map[eth.TokenAddress]Token

// ReferencePrice returns the reference price of a token, if known.
func (t Tokens) ReferencePrice(addr eth.TokenAddress) (Price, bool) {
	tok, ok := t[addr]
	if !ok || tok.ReferencePrice == nil {
		return Price{}, false
	}
	return *tok.ReferencePrice, true
}

// Decimals returns the decimals of a token, if known.
func (t Tokens) Decimals(addr eth.TokenAddress) (uint8, bool) {
	tok, ok := t[addr]
	if !ok || tok.Decimals == nil {
		return 0, false
	}
	return *tok.Decimals, true
}

// Trusted reports whether a token is trusted for buffer internalization.
func (t Tokens) Trusted(addr eth.TokenAddress) bool {
	return t[addr].Trusted
}

// AvailableBalance returns the settlement contract's available balance of a
// token. Missing entries are treated as a zero balance.
func (t Tokens) AvailableBalance(addr eth.TokenAddress) *uint256.Int {
	if tok, ok := t[addr]; ok && tok.AvailableBalance != nil {
		return tok.AvailableBalance
	}
	return uint256.NewInt(0)
}

// IDKind distinguishes a solve-request auction (carrying an auction id, used
// for fills-ledger bookkeeping and competition reporting) from a quote
// request (a synthetic, one-shot, single-order auction with no persistent
// identity).
type IDKind int

const (
	KindSolve IDKind = iota
	KindQuote
)

// ID is the tagged auction identity: either Solve(n) or Quote.
type ID struct {
	Kind  IDKind
	Solve uint64
}

func SolveID(n uint64) ID { return ID{Kind: KindSolve, Solve: n} }
func QuoteID() ID         { return ID{Kind: KindQuote} }

func (id ID) String() string {
	if id.Kind == KindQuote {
		return "quote"
	}
	return "solve"
}

// Deadline is the point in time by which a solution must be returned.
type Deadline struct{ time.Time }

// Remaining returns how much time is left before the deadline, relative to
// now. Negative once the deadline has passed.
func (d Deadline) Remaining(now time.Time) time.Duration {
	return d.Time.Sub(now)
}

// Auction is the full set of inputs the solver engine needs to produce
// solutions.
type Auction struct {
	ID       ID
	Tokens   Tokens
	Orders   []order.Order
	GasPrice GasPrice
	Deadline Deadline
}
