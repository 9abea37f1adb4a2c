package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
	derr, ok := err.(*dex.Error)
	if !ok || derr.Kind != dex.ErrOrderNotSupported {
		t.Fatalf("err = %v, want order-not-supported", err)
	}
}

func TestSwapSignsRequest(t *testing.T) {
	secret := "s3cr3t"
	var gotSig, gotTimestamp, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("OK-ACCESS-SIGN")
		gotTimestamp = r.Header.Get("OK-ACCESS-TIMESTAMP")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"code": "0",
			"msg": "",
			"data": [{
				"routerResult": {
					"fromTokenAmount": "1000000000000000000",
					"toTokenAmount": "2000000000",
					"fromToken": {"tokenContractAddress": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
					"toToken": {"tokenContractAddress": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"}
				},
				"tx": {"to": "0x1000000000000000000000000000000000000001", "data": "0xabcd", "gas": "100000"}
			}]
		}`))
	}))
	defer ts.Close()

	o := New(httpx.New(0, nil), Config{
		Endpoint: ts.URL,
		ChainID:  1,
		Credentials: Credentials{
			ProjectID:     "proj",
			APIKey:        "key",
			APISecretKey:  secret,
			APIPassphrase: "pass",
		},
	})
	ord := dex.Order{
		Sell:   eth.TokenAddress(mustAddress(t, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")),
		Buy:    eth.TokenAddress(mustAddress(t, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")),
		Side:   order.Sell,
		Amount: uint256.NewInt(1_000000000000000000),
	}

	swap, err := o.Swap(context.Background(), ord, slippage(t, big.NewRat(1, 100)), auction.Tokens{})
	if err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gotTimestamp + http.MethodGet + "?" + gotQuery))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %s, want %s", gotSig, want)
	}

	// Gas is inflated by 1.5x per OKX's documented recommendation.
	if swap.Gas.Value != 150000 {
		t.Errorf("gas = %d, want 150000", swap.Gas.Value)
	}
}

func TestHandleAPIError(t *testing.T) {
	cases := []struct {
		code int64
		want dex.ErrorKind
	}{
		{0, -1},
		{82000, dex.ErrNotFound},
		{82104, dex.ErrNotFound},
		{50011, dex.ErrRateLimited},
		{99999, dex.ErrOther},
	}
	for _, c := range cases {
		err := handleAPIError(c.code, "msg")
		if c.want == -1 {
			if err != nil {
				t.Errorf("handleAPIError(%d) = %v, want nil", c.code, err)
			}
			continue
		}
		derr, ok := err.(*dex.Error)
		if !ok || derr.Kind != c.want {
			t.Errorf("handleAPIError(%d) = %v, want kind %v", c.code, err, c.want)
		}
	}
}
