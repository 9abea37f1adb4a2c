// Package dex models the request/response shapes used to quote a single
// CoW Protocol order against an external DEX or DEX aggregator, and the
// logic for turning a quoted swap into a settlement solution.
package dex

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/domain/solution"
)

// Order is a simplified representation of a CoW Protocol order, reduced
// to what's needed to quote it against an external DEX.
type Order struct {
	Sell   eth.TokenAddress
	Buy    eth.TokenAddress
	Side   order.Side
	Amount *uint256.Int
	Owner  eth.Address
}

// NewOrder builds the DEX-facing order for a CoW Protocol order.
func NewOrder(o order.Order) Order {
	amount := o.Sell.Amount
	if o.Side == order.Buy {
		amount = o.Buy.Amount
	}
	return Order{
		Sell:   o.Sell.Token,
		Buy:    o.Buy.Token,
		Side:   o.Side,
		Amount: amount,
		Owner:  o.Owner(),
	}
}

// AsAsset returns the order's traded amount as an asset, on the side the
// amount is fixed for (sell amount for sell orders, buy amount for buy
// orders).
func (o Order) AsAsset() eth.Asset {
	token := o.Sell
	if o.Side == order.Buy {
		token = o.Buy
	}
	return eth.Asset{Token: token, Amount: o.Amount}
}

// Call is an on-chain call for executing a DEX swap.
type Call struct {
	To       eth.ContractAddress
	Calldata []byte
}

// Allowance is the ERC20 allowance a swap requires before it can execute.
type Allowance struct {
	Spender eth.ContractAddress
	Amount  *uint256.Int
}

// Simulator estimates the gas cost of executing a swap on behalf of an
// order owner. Implemented by infra/dex/simulator.
type Simulator interface {
	Gas(ctx context.Context, owner eth.Address, swap Swap) (eth.Gas, error)
}

// ErrSettlementContractIsOwner is returned by a Simulator when gas
// simulation cannot run because the order owner is the settlement
// contract itself (pre-signed orders); callers should fall back to the
// swap's heuristic gas estimate.
var ErrSettlementContractIsOwner = errSettlementContractIsOwner{}

type errSettlementContractIsOwner struct{}

func (errSettlementContractIsOwner) Error() string { return "settlement contract is owner" }

// Swap is a quoted DEX swap for a single order.
type Swap struct {
	Calls     []Call
	Input     eth.Asset
	Output    eth.Asset
	Allowance Allowance
	Gas       eth.Gas
}

// SolutionAllowance returns the ERC20 approval this swap requires.
func (s Swap) SolutionAllowance() solution.Allowance {
	return solution.Allowance{
		Spender: eth.Address(s.Allowance.Spender),
		Asset:   eth.Asset{Token: s.Input.Token, Amount: s.Allowance.Amount},
	}
}

// IntoSolution finalizes a quoted swap into a settlement solution for the
// given order. sellToken is the order's sell token reference price,
// required (and used) only when the order requires the solver to compute
// its own surplus fee. Returns false if the swap cannot settle the order.
func (s Swap) IntoSolution(
	ctx context.Context,
	o order.Order,
	gasPrice auction.GasPrice,
	sellToken *auction.Price,
	simulator Simulator,
	gasOffset eth.Gas,
) (solution.Solution, bool) {
	gas := s.Gas
	if o.Class == order.Limit {
		simulated, err := simulator.Gas(ctx, o.Owner(), s)
		switch {
		case err == nil:
			gas = simulated
		case errors.Is(err, ErrSettlementContractIsOwner):
			gas = s.Gas
		default:
			slog.Warn("gas simulation failed, skipping order", "order", o.Uid, "err", err)
			return solution.Solution{}, false
		}
	}

	allowance := s.SolutionAllowance()
	interactions := make([]solution.Interaction, 0, len(s.Calls))
	for _, call := range s.Calls {
		interactions = append(interactions, &solution.CustomInteraction{
			Target:      call.To,
			Value:       eth.Ether{Value: uint256.NewInt(0)},
			Calldata:    call.Calldata,
			Inputs:      []eth.Asset{s.Input},
			Outputs:     []eth.Asset{s.Output},
			Internalize: false,
			Allowances:  []solution.Allowance{allowance},
		})
	}

	single := solution.Single{
		Order:        o,
		Input:        s.Input,
		Output:       s.Output,
		Interactions: interactions,
		Gas:          gas,
	}
	return single.IntoSolution(gasPrice, sellToken, gasOffset)
}

// Satisfies reports whether this swap meets an order's limit price:
// output * order.sell >= input * order.buy.
func (s Swap) Satisfies(o order.Order) bool {
	return fullMulGE(s.Output.Amount, o.Sell.Amount, s.Input.Amount, o.Buy.Amount)
}

// SatisfiesWithMinimumSurplus reports whether this swap meets an order's
// limit price after inflating the required buy amount by a minimum
// surplus tolerance.
func (s Swap) SatisfiesWithMinimumSurplus(o order.Order, minimumSurplus tolerance.Tolerance[tolerance.MinimumSurplusPolicy]) bool {
	requiredBuy := minimumSurplus.Add(o.Buy.Amount)
	return fullMulGE(s.Output.Amount, o.Sell.Amount, s.Input.Amount, requiredBuy)
}

// fullMulGE reports whether a*b >= c*d, computed without overflow via
// arbitrary-precision integers.
func fullMulGE(a, b, c, d *uint256.Int) bool {
	lhs := new(big.Int).Mul(a.ToBig(), b.ToBig())
	rhs := new(big.Int).Mul(c.ToBig(), d.ToBig())
	return lhs.Cmp(rhs) >= 0
}
