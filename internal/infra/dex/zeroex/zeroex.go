// Package zeroex adapts the 0x swap API into the solver engine's DEX
// adapter interface.
package zeroex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/httpx"
)

// defaultPermit2AllowanceTarget is the address 0x swaps route allowances
// through when a quote doesn't specify its own spender.
// https://0x.org/docs/introduction/0x-cheat-sheet#0x-contracts
var defaultPermit2AllowanceTarget = eth.ContractAddress(common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3"))

// ZeroEx is an adapter over the 0x swap API.
type ZeroEx struct {
	client     *httpx.Client
	endpoint   string
	apiKey     string
	chainID    eth.ChainID
	settlement eth.ContractAddress
	excluded   []string
}

// Config configures a ZeroEx adapter.
type Config struct {
	ChainID         eth.ChainID
	Endpoint        string
	APIKey          string
	ExcludedSources []string
	Settlement      eth.ContractAddress
}

// New creates a 0x adapter.
func New(client *httpx.Client, cfg Config) *ZeroEx {
	return &ZeroEx{
		client:     client,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		chainID:    cfg.ChainID,
		settlement: cfg.Settlement,
		excluded:   cfg.ExcludedSources,
	}
}

// Swap quotes order against the 0x swap API. Buy orders are rejected,
// since only sell orders are supported.
func (z *ZeroEx) Swap(ctx context.Context, o dex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy], tokens auction.Tokens) (dex.Swap, error) {
	if o.Side == order.Buy {
		return dex.Swap{}, dex.NewError(dex.ErrOrderNotSupported, fmt.Errorf("0x does not support buy orders"))
	}

	q := z.requestURL(o, slippage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q, nil)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	req.Header.Set("0x-api-key", z.apiKey)
	req.Header.Set("0x-version", "v2")

	resp, err := z.client.Do(req)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return dex.Swap{}, err
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	if quote.Code != 0 {
		return dex.Swap{}, classifyAPICode(quote.Code, quote.Reason)
	}

	sellAmount, ok := uint256.FromDecimal(quote.SellAmount)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid sellAmount %q", quote.SellAmount))
	}
	buyAmount, ok := uint256.FromDecimal(quote.BuyAmount)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid buyAmount %q", quote.BuyAmount))
	}
	if quote.Transaction.Gas == nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("missing gas estimate"))
	}
	gas, err := strconv.ParseUint(*quote.Transaction.Gas, 10, 64)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}

	allowance := dex.Allowance{
		Spender: defaultPermit2AllowanceTarget,
		Amount:  uint256.NewInt(0),
	}
	if quote.Issues.Allowance != nil {
		allowance = dex.Allowance{
			Spender: eth.ContractAddress(common.HexToAddress(quote.Issues.Allowance.Spender)),
			Amount:  sellAmount,
		}
	}

	return dex.Swap{
		Calls: []dex.Call{{
			To:       eth.ContractAddress(common.HexToAddress(quote.Transaction.To)),
			Calldata: common.FromHex(quote.Transaction.Data),
		}},
		Input:     eth.Asset{Token: o.Sell, Amount: sellAmount},
		Output:    eth.Asset{Token: o.Buy, Amount: buyAmount},
		Allowance: allowance,
		Gas:       eth.NewGas(gas),
	}, nil
}

func (z *ZeroEx) requestURL(o dex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy]) string {
	v := url.Values{}
	v.Set("chainId", strconv.FormatUint(uint64(z.chainID), 10))
	v.Set("taker", z.settlement.String())
	v.Set("sellToken", o.Sell.String())
	v.Set("buyToken", o.Buy.String())
	v.Set("slippageBps", fmt.Sprintf("%d", mustBps(slippage)))
	for _, s := range z.excluded {
		v.Add("excludedSources", s)
	}
	if o.Side == order.Sell {
		v.Set("sellAmount", o.Amount.String())
	} else {
		v.Set("buyAmount", o.Amount.String())
	}

	u, _ := url.Parse(z.endpoint)
	u.Path = joinPath(u.Path, "quote")
	u.RawQuery = v.Encode()
	return u.String()
}

func joinPath(base, elem string) string {
	if len(base) > 0 && base[len(base)-1] == '/' {
		return base + elem
	}
	return base + "/" + elem
}

func mustBps(t tolerance.Tolerance[tolerance.SlippagePolicy]) uint16 {
	bps, ok := t.AsBps()
	if !ok {
		return 0
	}
	return bps
}

type transaction struct {
	To   string  `json:"to"`
	Data string  `json:"data"`
	Gas  *string `json:"gas"`
}

type allowanceIssue struct {
	Spender string `json:"spender"`
}

type issues struct {
	Allowance *allowanceIssue `json:"allowance"`
}

type quoteResponse struct {
	SellAmount  string      `json:"sellAmount"`
	BuyAmount   string      `json:"buyAmount"`
	Transaction transaction `json:"transaction"`
	Issues      issues      `json:"issues"`

	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

func classifyStatus(status int) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusTooManyRequests:
		return dex.NewError(dex.ErrRateLimited, fmt.Errorf("0x: 429"))
	case http.StatusUnavailableForLegalReasons:
		return dex.NewError(dex.ErrUnavailableForLegalReasons, fmt.Errorf("0x: 451"))
	default:
		return dex.NewError(dex.ErrOther, fmt.Errorf("0x: status %d", status))
	}
}

// classifyAPICode maps 0x's undocumented application error codes,
// determined empirically, into the shared DEX error classification.
func classifyAPICode(code int, reason string) error {
	switch code {
	case 100:
		return dex.NewError(dex.ErrNotFound, fmt.Errorf("0x: %s", reason))
	case 429:
		return dex.NewError(dex.ErrRateLimited, fmt.Errorf("0x: %s", reason))
	case 451:
		return dex.NewError(dex.ErrUnavailableForLegalReasons, fmt.Errorf("0x: %s", reason))
	default:
		return dex.NewError(dex.ErrOther, fmt.Errorf("0x api error %d: %s", code, reason))
	}
}
