// Package paraswap adapts the ParaSwap swap API into the solver engine's
// DEX adapter interface.
package paraswap

import (
	"context"
	"encoding/json"
	"fmt"
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

// DefaultEndpoint is the public ParaSwap API base URL.
const DefaultEndpoint = "https://apiv5.paraswap.io"

// ParaSwap is an adapter over the ParaSwap swap API.
type ParaSwap struct {
	client *httpx.Client
	cfg    Config
}

// Config configures a ParaSwap adapter.
type Config struct {
	Endpoint          string
	ExcludeDexs       []string
	IgnoreBadUsdPrice bool
	Address           eth.Address
	APIKey            string
	Partner           string
	ChainID           eth.ChainID
}

// New creates a ParaSwap adapter.
func New(client *httpx.Client, cfg Config) *ParaSwap {
	return &ParaSwap{client: client, cfg: cfg}
}

// Swap quotes order against the ParaSwap swap API.
func (p *ParaSwap) Swap(ctx context.Context, o dex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy], tokens auction.Tokens) (dex.Swap, error) {
	sellDecimals, ok := tokens.Decimals(o.Sell)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("missing decimals for %s", o.Sell))
	}
	buyDecimals, ok := tokens.Decimals(o.Buy)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("missing decimals for %s", o.Buy))
	}
	bps, ok := slippage.AsBps()
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("unable to convert slippage to bps"))
	}

	side := "SELL"
	if o.Side == order.Buy {
		side = "BUY"
	}

	q := url.Values{}
	q.Set("srcToken", o.Sell.String())
	q.Set("destToken", o.Buy.String())
	q.Set("srcDecimals", strconv.FormatUint(uint64(sellDecimals), 10))
	q.Set("destDecimals", strconv.FormatUint(uint64(buyDecimals), 10))
	q.Set("amount", o.Amount.String())
	q.Set("side", side)
	if len(p.cfg.ExcludeDexs) > 0 {
		q.Set("excludeDEXS", strings.Join(p.cfg.ExcludeDexs, ","))
	}
	q.Set("network", strconv.FormatUint(uint64(p.cfg.ChainID), 10))
	q.Set("partner", p.cfg.Partner)
	q.Set("maxImpact", "100")
	q.Set("userAddress", p.cfg.Address.String())
	q.Set("slippage", strconv.FormatUint(uint64(bps), 10))
	q.Set("version", "6.2")
	q.Set("ignoreBadUsdPrice", strconv.FormatBool(p.cfg.IgnoreBadUsdPrice))

	u, _ := url.Parse(p.cfg.Endpoint)
	u.Path = joinPath(u.Path, "swap")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	req.Header.Set("x-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return dex.Swap{}, dex.NewError(dex.ErrRateLimited, fmt.Errorf("paraswap: 429"))
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return dex.Swap{}, classifyAPIError(apiErr.Error)
		}
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("paraswap: status %d", resp.StatusCode))
	}

	var swap swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swap); err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}

	srcAmount, ok := uint256.FromDecimal(swap.PriceRoute.SrcAmount)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid srcAmount %q", swap.PriceRoute.SrcAmount))
	}
	destAmount, ok := uint256.FromDecimal(swap.PriceRoute.DestAmount)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid destAmount %q", swap.PriceRoute.DestAmount))
	}
	gasCost, ok := uint256.FromDecimal(swap.PriceRoute.GasCost)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid gasCost %q", swap.PriceRoute.GasCost))
	}

	return dex.Swap{
		Calls: []dex.Call{{
			To:       eth.ContractAddress(common.HexToAddress(swap.TxParams.To)),
			Calldata: common.FromHex(swap.TxParams.Data),
		}},
		Input:  eth.Asset{Token: o.Sell, Amount: srcAmount},
		Output: eth.Asset{Token: o.Buy, Amount: destAmount},
		Allowance: dex.Allowance{
			Spender: eth.ContractAddress(common.HexToAddress(swap.PriceRoute.TokenTransferProxy)),
			Amount:  srcAmount,
		},
		Gas: eth.NewGas(gasCost.Uint64()),
	}, nil
}

func joinPath(base, elem string) string {
	if len(base) > 0 && base[len(base)-1] == '/' {
		return base + elem
	}
	return base + "/" + elem
}

// classifyAPIError maps ParaSwap's free-form error strings, observed
// empirically, into the shared DEX error classification.
func classifyAPIError(reason string) error {
	switch reason {
	case "ESTIMATED_LOSS_GREATER_THAN_MAX_IMPACT",
		"No routes found with enough liquidity",
		"Too much slippage on quote, please try again":
		return dex.NewError(dex.ErrNotFound, fmt.Errorf("paraswap: %s", reason))
	case "Rate limited", "Rate limit pricing", "Rate limit reached":
		return dex.NewError(dex.ErrRateLimited, fmt.Errorf("paraswap: %s", reason))
	default:
		return dex.NewError(dex.ErrOther, fmt.Errorf("paraswap: %s", reason))
	}
}

type priceRoute struct {
	SrcAmount           string `json:"srcAmount"`
	DestAmount          string `json:"destAmount"`
	GasCost             string `json:"gasCost"`
	TokenTransferProxy  string `json:"tokenTransferProxy"`
}

type txParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type swapResponse struct {
	PriceRoute priceRoute `json:"priceRoute"`
	TxParams   txParams   `json:"txParams"`
}

type errorResponse struct {
	Error string `json:"error"`
}
