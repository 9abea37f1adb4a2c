// Package solution models a settlement for a single order: clearing
// prices, the trade that fulfills the order, and the interactions needed
// to execute it.
package solution

import (
	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/util/mathx"
)

// ID identifies a solution within a solve response. By convention it is
// set to the index of the order it was produced for, so that results can
// be reassembled in the caller's original order regardless of the order
// concurrent solving completed in.
type ID uint64

// Solution is a proposal for settling a single order, produced by an
// external DEX swap.
type Solution struct {
	ID               ID
	Prices           ClearingPrices
	Trades           []Trade
	PreInteractions  []eth.Interaction
	Interactions     []Interaction
	PostInteractions []eth.Interaction
	Gas              *eth.Gas
}

// WithID returns a copy of the solution carrying a new id.
func (s Solution) WithID(id ID) Solution {
	s.ID = id
	return s
}

// WithBuffersInternalizations marks eligible interactions for
// internalization using the settlement contract's token buffers: an
// interaction can be internalized when every input token is trusted and
// the settlement contract holds enough of every output token to cover it,
// after accounting for buffers already reserved by earlier interactions in
// this solution.
func (s Solution) WithBuffersInternalizations(tokens auction.Tokens) Solution {
	usedBuffers := map[eth.TokenAddress]*uint256.Int{}

	for i := range s.Interactions {
		ci, ok := s.Interactions[i].(*CustomInteraction)
		if !ok {
			continue
		}

		if len(ci.Inputs) == 0 || len(ci.Outputs) == 0 || !allTrusted(ci.Inputs, tokens) {
			continue
		}

		required := map[eth.TokenAddress]*uint256.Int{}
		ok = true
		for _, out := range ci.Outputs {
			amount := required[out.Token]
			if amount == nil {
				amount = uint256.NewInt(0)
			}
			sum, overflow := new(uint256.Int).AddOverflow(amount, out.Amount)
			if overflow {
				ok = false
				break
			}
			required[out.Token] = sum

			used := usedBuffers[out.Token]
			if used == nil {
				used = uint256.NewInt(0)
			}
			total, overflow := new(uint256.Int).AddOverflow(sum, used)
			if overflow || total.Cmp(tokens.AvailableBalance(out.Token)) > 0 {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		for token, amount := range required {
			used := usedBuffers[token]
			if used == nil {
				used = uint256.NewInt(0)
			}
			usedBuffers[token] = new(uint256.Int).Add(used, amount)
		}

		ci.Internalize = true
	}

	return s
}

func allTrusted(inputs []eth.Asset, tokens auction.Tokens) bool {
	for _, in := range inputs {
		if !tokens.Trusted(in.Token) {
			return false
		}
	}
	return true
}

// Single is a not-yet-finalized single-order solution: the swap's
// expected input/output and the interactions needed to execute it.
type Single struct {
	Order        order.Order
	Input        eth.Asset
	Output       eth.Asset
	Interactions []Interaction
	Gas          eth.Gas
}

// IntoSolution finalizes a Single into a Solution, computing the solver
// fee (when applicable), the executed amounts, and the clearing prices.
// Returns false if the swap cannot settle the order (token mismatch,
// arithmetic overflow, or limit price violation).
func (s Single) IntoSolution(gasPrice auction.GasPrice, sellToken *auction.Price, gasOffset eth.Gas) (Solution, bool) {
	o := s.Order
	if o.Sell.Token != s.Input.Token || o.Buy.Token != s.Output.Token {
		return Solution{}, false
	}

	var fee Fee
	if o.SolverDeterminesFee() {
		if sellToken == nil {
			return Solution{}, false
		}
		gasUnits, overflow := addOverflowU64(s.Gas.Value, gasOffset.Value)
		if overflow {
			return Solution{}, false
		}
		weiCost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(gasUnits), gasPrice.Value)
		if overflow {
			return Solution{}, false
		}
		surplusFee, ok := sellToken.EtherValue(eth.Ether{Value: weiCost})
		if !ok {
			return Solution{}, false
		}
		fee = Fee{kind: feeSurplus, surplus: surplusFee}
	} else {
		fee = Fee{kind: feeProtocol}
	}
	surplusFee := fee.SurplusOrZero()

	// The surplus fee is added to the swap input as is: it is not netted
	// against any fee amount the order itself was signed with.
	var sell, buy *uint256.Int
	switch o.Side {
	case order.Buy:
		var overflow bool
		sell, overflow = new(uint256.Int).AddOverflow(s.Input.Amount, surplusFee)
		if overflow {
			return Solution{}, false
		}
		buy = s.Output.Amount
	case order.Sell:
		raw, overflow := new(uint256.Int).AddOverflow(s.Input.Amount, surplusFee)
		if overflow {
			return Solution{}, false
		}
		sell = mathx.Min(raw, o.Sell.Amount)
		sellMinusSurplus, underflow := new(uint256.Int).SubOverflow(sell, surplusFee)
		if underflow {
			return Solution{}, false
		}
		numer, overflow := new(uint256.Int).MulOverflow(sellMinusSurplus, s.Output.Amount)
		if overflow {
			return Solution{}, false
		}
		var ok bool
		buy, ok = mathx.DivCeil(numer, s.Input.Amount)
		if !ok {
			return Solution{}, false
		}
	default:
		return Solution{}, false
	}

	sellLimit, overflow := new(uint256.Int).MulOverflow(o.Sell.Amount, buy)
	if overflow {
		return Solution{}, false
	}
	buyLimit, overflow := new(uint256.Int).MulOverflow(o.Buy.Amount, sell)
	if overflow {
		return Solution{}, false
	}
	if sellLimit.Cmp(buyLimit) < 0 {
		return Solution{}, false
	}

	var executed *uint256.Int
	switch o.Side {
	case order.Buy:
		executed = buy
	case order.Sell:
		var underflow bool
		executed, underflow = new(uint256.Int).SubOverflow(sell, surplusFee)
		if underflow {
			return Solution{}, false
		}
	}

	sellMinusFee, underflow := new(uint256.Int).SubOverflow(sell, surplusFee)
	if underflow {
		return Solution{}, false
	}

	fulfillment, ok := NewFulfillment(o, executed, fee)
	if !ok {
		return Solution{}, false
	}

	totalGas := gasOffset.Add(s.Gas)
	return Solution{
		Prices: ClearingPrices{
			o.Sell.Token: buy,
			o.Buy.Token:  sellMinusFee,
		},
		Interactions: s.Interactions,
		Gas:          &totalGas,
		Trades:       []Trade{fulfillment},
	}, true
}

func addOverflowU64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}

// ClearingPrices maps tokens to their uniform clearing price within a
// solution, denominated in an arbitrary common unit.
type ClearingPrices map[eth.TokenAddress]*uint256.Int

// Trade is a settlement trade; currently the only variant is a
// Fulfillment of a CoW Protocol order.
type Trade interface {
	isTrade()
}

// Fulfillment is an order executed, in full or in part, as part of a
// solution.
type Fulfillment struct {
	order    order.Order
	executed *uint256.Int
	fee      Fee
}

func (Fulfillment) isTrade() {}

// NewFulfillment creates a fulfillment of order for the given executed
// amount and fee. Returns false if the fee type doesn't match the order's
// fee-determination mode, or if the resulting fill amount is invalid for
// the order (exceeds the full amount, or doesn't equal it for
// non-partially-fillable orders).
func NewFulfillment(o order.Order, executed *uint256.Int, fee Fee) (Fulfillment, bool) {
	if (fee.kind == feeSurplus) != o.SolverDeterminesFee() {
		return Fulfillment{}, false
	}

	var full, fill *uint256.Int
	switch o.Side {
	case order.Buy:
		full, fill = o.Buy.Amount, executed
	case order.Sell:
		full = o.Sell.Amount
		var overflow bool
		fill, overflow = new(uint256.Int).AddOverflow(executed, fee.SurplusOrZero())
		if overflow {
			return Fulfillment{}, false
		}
	default:
		return Fulfillment{}, false
	}

	if (!o.PartiallyFillable && fill.Cmp(full) != 0) || (o.PartiallyFillable && fill.Cmp(full) > 0) {
		return Fulfillment{}, false
	}

	return Fulfillment{order: o, executed: executed, fee: fee}, true
}

// Order returns the traded order.
func (f Fulfillment) Order() order.Order { return f.order }

// Executed returns the trade execution as an asset.
func (f Fulfillment) Executed() eth.Asset {
	token := f.order.Sell.Token
	if f.order.Side == order.Buy {
		token = f.order.Buy.Token
	}
	return eth.Asset{Token: token, Amount: f.executed}
}

// SurplusFee returns the solver-computed surplus fee charged to the
// order, if any.
func (f Fulfillment) SurplusFee() (eth.Asset, bool) {
	surplus, ok := f.fee.Surplus()
	if !ok {
		return eth.Asset{}, false
	}
	return eth.Asset{Token: f.order.Sell.Token, Amount: surplus}, true
}

type feeKind int

const (
	feeProtocol feeKind = iota
	feeSurplus
)

// Fee is the fee charged to a user for executing an order: either the
// protocol fee already baked into the order, or an additional surplus fee
// computed by the solver for limit orders.
type Fee struct {
	kind    feeKind
	surplus *uint256.Int
}

// Surplus returns the solver-determined surplus fee amount, if this is a
// surplus fee.
func (f Fee) Surplus() (*uint256.Int, bool) {
	if f.kind != feeSurplus {
		return nil, false
	}
	return f.surplus, true
}

// SurplusOrZero returns the surplus fee amount, or zero for protocol fees.
func (f Fee) SurplusOrZero() *uint256.Int {
	if f.kind != feeSurplus {
		return uint256.NewInt(0)
	}
	return f.surplus
}

// Interaction is a call required to execute a solution.
type Interaction interface {
	isInteraction()
}

// CustomInteraction is an arbitrary call returned by a DEX adapter, which
// needs to be executed to fulfill the trade. It carries enough input and
// output accounting for the solver to decide whether it can be
// internalized against settlement contract buffers.
type CustomInteraction struct {
	Target      eth.ContractAddress
	Value       eth.Ether
	Calldata    []byte
	Internalize bool
	Inputs      []eth.Asset
	Outputs     []eth.Asset
	Allowances  []Allowance
}

func (*CustomInteraction) isInteraction() {}

// Allowance is an approval required to make a CustomInteraction possible.
type Allowance struct {
	Spender eth.Address
	Asset   eth.Asset
}
