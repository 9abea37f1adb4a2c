// Package api exposes the solver engine over HTTP: a single /solve
// endpoint that accepts a CoW Protocol auction and returns the single-
// order solutions found for it.
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/domain/solution"
)

// u256 marshals/unmarshals a *uint256.Int as a base-10 decimal string, the
// wire convention CoW Protocol APIs use for all token amounts.
type u256 struct{ *uint256.Int }

func (v u256) MarshalJSON() ([]byte, error) {
	if v.Int == nil {
		return json.Marshal("0")
	}
	return json.Marshal(v.Int.Dec())
}

func (v *u256) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, ok := uint256.FromDecimal(s)
	if !ok {
		return fmt.Errorf("invalid u256 %q", s)
	}
	v.Int = n
	return nil
}

// auctionDTO is the wire representation of a CoW Protocol batch auction.
type auctionDTO struct {
	ID       *uint64               `json:"id"`
	Tokens   map[string]tokenDTO   `json:"tokens"`
	Orders   []orderDTO            `json:"orders"`
	EffectiveGasPrice u256         `json:"effectiveGasPrice"`
	Deadline time.Time             `json:"deadline"`
}

type tokenDTO struct {
	Decimals         *uint8 `json:"decimals"`
	ReferencePrice   *u256  `json:"referencePrice"`
	AvailableBalance u256   `json:"availableBalance"`
	Trusted          bool   `json:"trusted"`
}

type orderDTO struct {
	UID               string `json:"uid"`
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	SellAmount        u256   `json:"sellAmount"`
	BuyAmount         u256   `json:"buyAmount"`
	Kind              string `json:"kind"`
	Class             string `json:"class"`
	PartiallyFillable bool   `json:"partiallyFillable"`
}

// toDomain converts the wire auction into its domain representation.
func toDomain(a auctionDTO) (auction.Auction, error) {
	id := auction.QuoteID()
	if a.ID != nil {
		id = auction.SolveID(*a.ID)
	}

	tokens := auction.Tokens{}
	for addr, t := range a.Tokens {
		token, err := eth.ParseAddress(addr)
		if err != nil {
			return auction.Auction{}, err
		}
		entry := auction.Token{
			Decimals:         t.Decimals,
			AvailableBalance: t.AvailableBalance.Int,
			Trusted:          t.Trusted,
		}
		if t.ReferencePrice != nil {
			price := auction.Price(eth.Ether{Value: t.ReferencePrice.Int})
			entry.ReferencePrice = &price
		}
		tokens[eth.TokenAddress(token)] = entry
	}

	orders := make([]order.Order, 0, len(a.Orders))
	for _, o := range a.Orders {
		ord, err := orderFromDTO(o)
		if err != nil {
			return auction.Auction{}, err
		}
		orders = append(orders, ord)
	}

	return auction.Auction{
		ID:       id,
		Tokens:   tokens,
		Orders:   orders,
		GasPrice: auction.GasPrice(eth.Ether{Value: a.EffectiveGasPrice.Int}),
		Deadline: auction.Deadline{Time: a.Deadline},
	}, nil
}

func orderFromDTO(o orderDTO) (order.Order, error) {
	var uid order.Uid
	raw := common.FromHex(o.UID)
	if len(raw) != len(uid) {
		return order.Order{}, fmt.Errorf("order uid %q: want %d bytes, got %d", o.UID, len(uid), len(raw))
	}
	copy(uid[:], raw)

	sell, err := eth.ParseAddress(o.SellToken)
	if err != nil {
		return order.Order{}, err
	}
	buy, err := eth.ParseAddress(o.BuyToken)
	if err != nil {
		return order.Order{}, err
	}

	side := order.Sell
	if o.Kind == "buy" {
		side = order.Buy
	}
	class := order.Market
	if o.Class == "limit" {
		class = order.Limit
	}

	return order.Order{
		Uid:               uid,
		Sell:              eth.Asset{Token: eth.TokenAddress(sell), Amount: o.SellAmount.Int},
		Buy:               eth.Asset{Token: eth.TokenAddress(buy), Amount: o.BuyAmount.Int},
		Side:              side,
		Class:             class,
		PartiallyFillable: o.PartiallyFillable,
	}, nil
}

// solutionsDTO is the wire representation of a /solve response.
type solutionsDTO struct {
	Solutions []solutionDTO `json:"solutions"`
}

type solutionDTO struct {
	ID               uint64              `json:"id"`
	Prices           map[string]u256     `json:"prices"`
	Trades           []tradeDTO          `json:"trades"`
	PreInteractions  []callDTO           `json:"preInteractions"`
	Interactions     []interactionDTO    `json:"interactions"`
	PostInteractions []callDTO           `json:"postInteractions"`
	Gas              *uint64             `json:"gas,omitempty"`
}

type tradeDTO struct {
	Kind           string `json:"kind"`
	Order          string `json:"order"`
	ExecutedAmount u256   `json:"executedAmount"`
	Fee            *u256  `json:"fee,omitempty"`
}

type callDTO struct {
	Target   string `json:"target"`
	Value    u256   `json:"value"`
	CallData string `json:"callData"`
}

type assetDTO struct {
	Token  string `json:"token"`
	Amount u256   `json:"amount"`
}

type allowanceDTO struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  u256   `json:"amount"`
}

type interactionDTO struct {
	Kind        string         `json:"kind"`
	Target      string         `json:"target"`
	Value       u256           `json:"value"`
	CallData    string         `json:"callData"`
	Internalize bool           `json:"internalize"`
	Allowances  []allowanceDTO `json:"allowances"`
	Inputs      []assetDTO     `json:"inputs"`
	Outputs     []assetDTO     `json:"outputs"`
}

// fromDomain converts a set of solved solutions into their wire
// representation.
func fromDomain(solutions []solution.Solution) solutionsDTO {
	out := solutionsDTO{Solutions: make([]solutionDTO, 0, len(solutions))}
	for _, s := range solutions {
		out.Solutions = append(out.Solutions, solutionFromDomain(s))
	}
	return out
}

func solutionFromDomain(s solution.Solution) solutionDTO {
	prices := map[string]u256{}
	for token, price := range s.Prices {
		prices[token.String()] = u256{price}
	}

	trades := make([]tradeDTO, 0, len(s.Trades))
	for _, t := range s.Trades {
		f, ok := t.(solution.Fulfillment)
		if !ok {
			continue
		}
		trade := tradeDTO{
			Kind:           "fulfillment",
			Order:          f.Order().Uid.String(),
			ExecutedAmount: u256{f.Executed().Amount},
		}
		if fee, ok := f.SurplusFee(); ok {
			trade.Fee = &u256{fee.Amount}
		}
		trades = append(trades, trade)
	}

	var gas *uint64
	if s.Gas != nil {
		g := s.Gas.Value
		gas = &g
	}

	return solutionDTO{
		ID:               uint64(s.ID),
		Prices:           prices,
		Trades:           trades,
		PreInteractions:  callsFromDomain(s.PreInteractions),
		PostInteractions: callsFromDomain(s.PostInteractions),
		Interactions:     interactionsFromDomain(s.Interactions),
		Gas:              gas,
	}
}

func callsFromDomain(interactions []eth.Interaction) []callDTO {
	out := make([]callDTO, 0, len(interactions))
	for _, i := range interactions {
		out = append(out, callDTO{
			Target:   i.Target.String(),
			Value:    u256{i.Value.Value},
			CallData: "0x" + common.Bytes2Hex(i.Calldata),
		})
	}
	return out
}

func interactionsFromDomain(interactions []solution.Interaction) []interactionDTO {
	out := make([]interactionDTO, 0, len(interactions))
	for _, i := range interactions {
		ci, ok := i.(*solution.CustomInteraction)
		if !ok {
			continue
		}
		allowances := make([]allowanceDTO, 0, len(ci.Allowances))
		for _, a := range ci.Allowances {
			allowances = append(allowances, allowanceDTO{
				Token:   a.Asset.Token.String(),
				Spender: a.Spender.String(),
				Amount:  u256{a.Asset.Amount},
			})
		}
		out = append(out, interactionDTO{
			Kind:        "custom",
			Target:      ci.Target.String(),
			Value:       u256{ci.Value.Value},
			CallData:    "0x" + common.Bytes2Hex(ci.Calldata),
			Internalize: ci.Internalize,
			Allowances:  allowances,
			Inputs:      assetsFromDomain(ci.Inputs),
			Outputs:     assetsFromDomain(ci.Outputs),
		})
	}
	return out
}

func assetsFromDomain(assets []eth.Asset) []assetDTO {
	out := make([]assetDTO, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetDTO{Token: a.Token.String(), Amount: u256{a.Amount}})
	}
	return out
}
