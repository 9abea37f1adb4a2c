// Package oneinch adapts the 1inch aggregation protocol API into the
// solver engine's DEX adapter interface. Only sell orders are supported.
package oneinch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/httpx"
)

// OneInch is an adapter over the 1inch aggregation protocol swap API.
type OneInch struct {
	client     *httpx.Client
	endpoint   string
	apiKey     string
	settlement eth.ContractAddress
	protocols  []string
	referrer   *eth.Address
}

// Config configures a OneInch adapter.
type Config struct {
	Endpoint   string
	APIKey     string
	Settlement eth.ContractAddress
	Protocols  []string
	Referrer   *eth.Address
}

// New creates a 1inch adapter.
func New(client *httpx.Client, cfg Config) *OneInch {
	return &OneInch{
		client:     client,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		settlement: cfg.Settlement,
		protocols:  cfg.Protocols,
		referrer:   cfg.Referrer,
	}
}

// Swap quotes order against the 1inch swap API. Buy orders are rejected,
// since only sell orders are supported by 1inch.
func (o *OneInch) Swap(ctx context.Context, ord dex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy], tokens auction.Tokens) (dex.Swap, error) {
	if ord.Side == order.Buy {
		return dex.Swap{}, dex.NewError(dex.ErrOrderNotSupported, fmt.Errorf("1inch does not support buy orders"))
	}

	// 1inch checks the origin address for legal reasons and rejects the
	// zero address with a 403. During quoting the order owner is the zero
	// address, so fall back to the settlement contract in that case;
	// quote calldata is never used to settle, so this substitution is safe.
	origin := ord.Owner
	if origin.IsZero() {
		origin = eth.Address(o.settlement)
	}

	q := url.Values{}
	q.Set("fromTokenAddress", ord.Sell.String())
	q.Set("toTokenAddress", ord.Buy.String())
	q.Set("amount", ord.Amount.String())
	q.Set("fromAddress", eth.Address(o.settlement).String())
	q.Set("origin", origin.String())
	q.Set("slippage", slippagePercent(slippage))
	q.Set("disableEstimate", "true")
	if len(o.protocols) > 0 {
		q.Set("protocols", strings.Join(o.protocols, ","))
	}
	if o.referrer != nil {
		q.Set("referrerAddress", o.referrer.String())
	}

	u, _ := url.Parse(o.endpoint)
	u.Path = joinPath(u.Path, "swap")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return dex.Swap{}, dex.NewError(dex.ErrRateLimited, fmt.Errorf("1inch: 429"))
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Description != "" {
			return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("1inch: %d %s", apiErr.StatusCode, apiErr.Description))
		}
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("1inch: status %d", resp.StatusCode))
	}

	var swap swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swap); err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}

	sellAmount, ok := uint256.FromDecimal(swap.FromTokenAmount)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid fromTokenAmount %q", swap.FromTokenAmount))
	}
	buyAmount, ok := uint256.FromDecimal(swap.ToTokenAmount)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid toTokenAmount %q", swap.ToTokenAmount))
	}

	return dex.Swap{
		Calls: []dex.Call{{
			To:       eth.ContractAddress(common.HexToAddress(swap.Tx.To)),
			Calldata: common.FromHex(swap.Tx.Data),
		}},
		Input:  eth.Asset{Token: ord.Sell, Amount: sellAmount},
		Output: eth.Asset{Token: ord.Buy, Amount: buyAmount},
		Allowance: dex.Allowance{
			Spender: eth.ContractAddress(common.HexToAddress(swap.Tx.To)),
			Amount:  sellAmount,
		},
		Gas: eth.NewGas(swap.Tx.Gas),
	}, nil
}

func joinPath(base, elem string) string {
	if len(base) > 0 && base[len(base)-1] == '/' {
		return base + elem
	}
	return base + "/" + elem
}

// slippagePercent converts a relative slippage tolerance into the
// percentage string 1inch's API expects, rounded to 6 decimal places
// (1inch only accepts up to 4 digits of precision).
func slippagePercent(t tolerance.Tolerance[tolerance.SlippagePolicy]) string {
	factor := t.Round(6).AsFactor()
	percent := new(big.Rat).Mul(factor, big.NewRat(100, 1))
	f, _ := percent.Float64()
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type swapResponse struct {
	FromTokenAmount string `json:"fromTokenAmount"`
	ToTokenAmount   string `json:"toTokenAmount"`
	Tx              txData `json:"tx"`
}

type txData struct {
	To   string `json:"to"`
	Data string `json:"data"`
	Gas  uint64 `json:"gas"`
}

type apiError struct {
	StatusCode  int    `json:"statusCode"`
	Description string `json:"description"`
}
