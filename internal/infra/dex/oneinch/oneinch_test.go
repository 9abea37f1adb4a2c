package oneinch

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/httpx"
)

func mustAddress(t *testing.T, s string) eth.Address {
	t.Helper()
	a, err := eth.ParseAddress(s)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func slippage(t *testing.T, relative *big.Rat) tolerance.Tolerance[tolerance.SlippagePolicy] {
	t.Helper()
	limits, ok := tolerance.New[tolerance.SlippagePolicy](relative, nil)
	if !ok {
		t.Fatal("expected valid limits")
	}
	return limits.Relative(eth.Asset{}, auction.Tokens{})
}

func TestSwapRejectsBuyOrders(t *testing.T) {
	o := New(httpx.New(0, nil), Config{})
	ord := dex.Order{Side: order.Buy, Amount: uint256.NewInt(1)}

	_, err := o.Swap(context.Background(), ord, slippage(t, big.NewRat(1, 100)), auction.Tokens{})
	var derr *dex.Error
	if derr, _ = err.(*dex.Error); derr == nil || derr.Kind != dex.ErrOrderNotSupported {
		t.Fatalf("err = %v, want order-not-supported", err)
	}
}

func TestSwapSubstitutesOriginForZeroOwner(t *testing.T) {
	settlement := mustAddress(t, "0x9090909090909090909090909090909090909090")

	var gotOrigin string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrigin = r.URL.Query().Get("origin")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"fromTokenAmount": "1000000000000000000",
			"toTokenAmount": "2000000000",
			"tx": {"to": "0x1000000000000000000000000000000000000001", "data": "0xabcd", "gas": 150000}
		}`))
	}))
	defer ts.Close()

	o := New(httpx.New(0, nil), Config{Endpoint: ts.URL, Settlement: eth.ContractAddress(settlement)})
	ord := dex.Order{
		Sell:   eth.TokenAddress(mustAddress(t, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")),
		Buy:    eth.TokenAddress(mustAddress(t, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")),
		Side:   order.Sell,
		Amount: uint256.NewInt(1_000000000000000000),
		Owner:  eth.Address{},
	}

	swap, err := o.Swap(context.Background(), ord, slippage(t, big.NewRat(1, 100)), auction.Tokens{})
	if err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if gotOrigin != settlement.String() {
		t.Errorf("origin = %s, want settlement address %s", gotOrigin, settlement.String())
	}
	if swap.Gas.Value != 150000 {
		t.Errorf("gas = %d, want 150000", swap.Gas.Value)
	}
	if swap.Allowance.Spender.String() != "0x1000000000000000000000000000000000000001" {
		t.Errorf("allowance spender = %s, want the router address", swap.Allowance.Spender)
	}
}

func TestSlippagePercent(t *testing.T) {
	cases := []struct {
		relative *big.Rat
		want     string
	}{
		{big.NewRat(1, 100), "1"},
		{big.NewRat(5, 1000), "0.5"},
	}
	for _, c := range cases {
		got := slippagePercent(slippage(t, c.relative))
		if got != c.want {
			t.Errorf("slippagePercent(%s) = %s, want %s", c.relative, got, c.want)
		}
	}
}
