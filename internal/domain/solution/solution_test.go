package solution

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
)

func testTokens(t *testing.T) (eth.TokenAddress, eth.TokenAddress) {
	t.Helper()
	sell, err := eth.ParseAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	if err != nil {
		t.Fatal(err)
	}
	buy, err := eth.ParseAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	if err != nil {
		t.Fatal(err)
	}
	return eth.TokenAddress(sell), eth.TokenAddress(buy)
}

func TestIntoSolutionMarketSellOrder(t *testing.T) {
	sellToken, buyToken := testTokens(t)
	o := order.Order{
		Sell:  eth.Asset{Token: sellToken, Amount: uint256.NewInt(1000)},
		Buy:   eth.Asset{Token: buyToken, Amount: uint256.NewInt(2000)},
		Side:  order.Sell,
		Class: order.Market,
	}
	single := Single{
		Order:  o,
		Input:  eth.Asset{Token: sellToken, Amount: uint256.NewInt(1000)},
		Output: eth.Asset{Token: buyToken, Amount: uint256.NewInt(2000)},
		Gas:    eth.NewGas(100000),
	}

	sol, ok := single.IntoSolution(auction.GasPrice{}, nil, eth.NewGas(0))
	if !ok {
		t.Fatal("IntoSolution() should succeed for an exactly-matching market order")
	}
	if len(sol.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(sol.Trades))
	}
	fulfillment := sol.Trades[0].(Fulfillment)
	if fulfillment.Executed().Amount.Uint64() != 1000 {
		t.Errorf("executed = %d, want 1000", fulfillment.Executed().Amount.Uint64())
	}
	if _, hasSurplus := fulfillment.SurplusFee(); hasSurplus {
		t.Error("market order should not have a surplus fee")
	}
}

func TestIntoSolutionRejectsTokenMismatch(t *testing.T) {
	sellToken, buyToken := testTokens(t)
	o := order.Order{
		Sell: eth.Asset{Token: sellToken, Amount: uint256.NewInt(1000)},
		Buy:  eth.Asset{Token: buyToken, Amount: uint256.NewInt(2000)},
		Side: order.Sell,
	}
	single := Single{
		Order:  o,
		Input:  eth.Asset{Token: buyToken, Amount: uint256.NewInt(1000)}, // wrong token
		Output: eth.Asset{Token: buyToken, Amount: uint256.NewInt(2000)},
		Gas:    eth.NewGas(100000),
	}

	if _, ok := single.IntoSolution(auction.GasPrice{}, nil, eth.NewGas(0)); ok {
		t.Error("IntoSolution() should reject a token mismatch")
	}
}

func TestIntoSolutionLimitOrderChargesSurplusFee(t *testing.T) {
	sellToken, buyToken := testTokens(t)
	o := order.Order{
		Sell:  eth.Asset{Token: sellToken, Amount: uint256.NewInt(1_000_000)},
		Buy:   eth.Asset{Token: buyToken, Amount: uint256.NewInt(1_000_000)},
		Side:  order.Sell,
		Class: order.Limit,
	}
	// Output comfortably exceeds the order's limit price so there's room
	// for the solver-computed surplus fee to be deducted from the sell
	// side without violating o.Sell*buy >= o.Buy*sell.
	single := Single{
		Order:  o,
		Input:  eth.Asset{Token: sellToken, Amount: uint256.NewInt(1_000_000)},
		Output: eth.Asset{Token: buyToken, Amount: uint256.NewInt(1_200_000)},
		Gas:    eth.NewGas(100000),
	}
	gasPrice := auction.GasPrice(eth.NewEther(uint256.NewInt(1)))
	sellPrice := auction.Price(eth.NewEther(uint256.NewInt(1_000_000_000_000_000_000)))

	sol, ok := single.IntoSolution(gasPrice, &sellPrice, eth.NewGas(0))
	if !ok {
		t.Fatal("IntoSolution() should succeed for a limit order")
	}
	fulfillment := sol.Trades[0].(Fulfillment)
	surplus, ok := fulfillment.SurplusFee()
	if !ok {
		t.Fatal("limit order should have a surplus fee")
	}
	if surplus.Amount.IsZero() {
		t.Error("surplus fee should be non-zero for a limit order with positive gas cost")
	}
}

func TestIntoSolutionLimitOrderRequiresSellPrice(t *testing.T) {
	sellToken, buyToken := testTokens(t)
	o := order.Order{
		Sell:  eth.Asset{Token: sellToken, Amount: uint256.NewInt(1000)},
		Buy:   eth.Asset{Token: buyToken, Amount: uint256.NewInt(1000)},
		Side:  order.Sell,
		Class: order.Limit,
	}
	single := Single{
		Order:  o,
		Input:  eth.Asset{Token: sellToken, Amount: uint256.NewInt(1000)},
		Output: eth.Asset{Token: buyToken, Amount: uint256.NewInt(1000)},
		Gas:    eth.NewGas(1000),
	}

	if _, ok := single.IntoSolution(auction.GasPrice{}, nil, eth.NewGas(0)); ok {
		t.Error("IntoSolution() should fail without a sell-token reference price for limit orders")
	}
}

func TestWithBuffersInternalizationsMarksEligibleInteraction(t *testing.T) {
	sellToken, buyToken := testTokens(t)
	ci := &CustomInteraction{
		Target: eth.ContractAddress(sellToken),
		Inputs: []eth.Asset{{Token: sellToken, Amount: uint256.NewInt(100)}},
		Outputs: []eth.Asset{{Token: buyToken, Amount: uint256.NewInt(50)}},
	}
	sol := Solution{Interactions: []Interaction{ci}}
	tokens := auction.Tokens{
		sellToken: {Trusted: true},
		buyToken:  {AvailableBalance: uint256.NewInt(100)},
	}

	sol = sol.WithBuffersInternalizations(tokens)
	got := sol.Interactions[0].(*CustomInteraction)
	if !got.Internalize {
		t.Error("interaction with trusted inputs and sufficient buffer should be internalized")
	}
}

func TestWithBuffersInternalizationsSkipsUntrustedInput(t *testing.T) {
	sellToken, buyToken := testTokens(t)
	ci := &CustomInteraction{
		Target:  eth.ContractAddress(sellToken),
		Inputs:  []eth.Asset{{Token: sellToken, Amount: uint256.NewInt(100)}},
		Outputs: []eth.Asset{{Token: buyToken, Amount: uint256.NewInt(50)}},
	}
	sol := Solution{Interactions: []Interaction{ci}}
	tokens := auction.Tokens{
		buyToken: {AvailableBalance: uint256.NewInt(100)},
	}

	sol = sol.WithBuffersInternalizations(tokens)
	got := sol.Interactions[0].(*CustomInteraction)
	if got.Internalize {
		t.Error("interaction with an untrusted input should not be internalized")
	}
}
