// Package okx adapts the OKX DEX aggregator swap API into the solver
// engine's DEX adapter interface. Only sell orders are supported, and
// every request must carry an HMAC-SHA256 signature.
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/httpx"
)

// Credentials authenticates every request sent to the OKX swap API.
type Credentials struct {
	ProjectID     string
	APIKey        string
	APISecretKey  string
	APIPassphrase string
}

// Config configures an Okx adapter.
type Config struct {
	Endpoint    string
	ChainID     eth.ChainID
	Credentials Credentials
}

// Okx is an adapter over the OKX DEX aggregator swap API.
type Okx struct {
	client   *httpx.Client
	endpoint string
	chainID  eth.ChainID
	creds    Credentials
}

// New creates an Okx adapter.
func New(client *httpx.Client, cfg Config) *Okx {
	return &Okx{
		client:   client,
		endpoint: cfg.Endpoint,
		chainID:  cfg.ChainID,
		creds:    cfg.Credentials,
	}
}

// Swap quotes order against the OKX swap API. Buy orders are rejected,
// since only sell orders are supported.
func (o *Okx) Swap(ctx context.Context, ord dex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy], tokens auction.Tokens) (dex.Swap, error) {
	if ord.Side == order.Buy {
		return dex.Swap{}, dex.NewError(dex.ErrOrderNotSupported, fmt.Errorf("okx does not support buy orders"))
	}

	q := url.Values{}
	q.Set("chainId", strconv.FormatUint(uint64(o.chainID), 10))
	q.Set("amount", ord.Amount.String())
	q.Set("fromTokenAddress", ord.Sell.String())
	q.Set("toTokenAddress", ord.Buy.String())
	f, _ := slippage.AsFactor().Float64()
	q.Set("slippage", strconv.FormatFloat(f, 'f', -1, 64))
	q.Set("userWalletAddress", eth.Address(ord.Owner).String())

	u, err := url.Parse(o.endpoint)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	req.Header.Set("OK-ACCESS-PROJECT", o.creds.ProjectID)
	req.Header.Set("OK-ACCESS-KEY", o.creds.APIKey)
	req.Header.Set("OK-ACCESS-PASSPHRASE", o.creds.APIPassphrase)

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	signature, err := o.sign(timestamp, http.MethodGet, u.Path, u.RawQuery)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-SIGN", signature)

	resp, err := o.client.Do(req)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return dex.Swap{}, dex.NewError(dex.ErrRateLimited, fmt.Errorf("okx: 429"))
	}
	if resp.StatusCode != http.StatusOK {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("okx: status %d", resp.StatusCode))
	}

	var swap swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swap); err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	if err := handleAPIError(swap.Code, swap.Msg); err != nil {
		return dex.Swap{}, err
	}
	if len(swap.Data) == 0 {
		return dex.Swap{}, dex.NewError(dex.ErrNotFound, fmt.Errorf("okx: empty quote"))
	}
	result := swap.Data[0]

	fromAmount, ok := uint256.FromDecimal(result.RouterResult.FromTokenAmount)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid fromTokenAmount %q", result.RouterResult.FromTokenAmount))
	}
	toAmount, ok := uint256.FromDecimal(result.RouterResult.ToTokenAmount)
	if !ok {
		return dex.Swap{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid toTokenAmount %q", result.RouterResult.ToTokenAmount))
	}

	gas, err := strconv.ParseUint(result.Tx.Gas, 10, 64)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}
	// OKX's returned gas estimate is frequently insufficient; inflate it by
	// 50% as recommended by their API documentation.
	gas += gas / 2

	to := eth.ContractAddress(common.HexToAddress(result.Tx.To))
	return dex.Swap{
		Calls:  []dex.Call{{To: to, Calldata: common.FromHex(result.Tx.Data)}},
		Input:  eth.Asset{Token: eth.TokenAddress(common.HexToAddress(result.RouterResult.FromToken.TokenContractAddress)), Amount: fromAmount},
		Output: eth.Asset{Token: eth.TokenAddress(common.HexToAddress(result.RouterResult.ToToken.TokenContractAddress)), Amount: toAmount},
		Allowance: dex.Allowance{
			Spender: to,
			Amount:  fromAmount,
		},
		Gas: eth.NewGas(gas),
	}, nil
}

// sign computes OKX's required request signature: an HMAC-SHA256, base64
// encoded, over "{timestamp}{method}{path}?{query}".
// https://www.okx.com/en-au/web3/build/docs/waas/rest-authentication#signature
func (o *Okx) sign(timestamp, method, path, query string) (string, error) {
	data := timestamp + method + path + "?" + query
	mac := hmac.New(sha256.New, []byte(o.creds.APISecretKey))
	if _, err := mac.Write([]byte(data)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// handleAPIError maps OKX's documented error codes into the shared DEX
// error classification. https://www.okx.com/en-au/web3/build/docs/waas/dex-error-code
func handleAPIError(code int64, msg string) error {
	switch code {
	case 0:
		return nil
	case 82000, 82104:
		return dex.NewError(dex.ErrNotFound, fmt.Errorf("okx: %s", msg))
	case 50011:
		return dex.NewError(dex.ErrRateLimited, fmt.Errorf("okx: %s", msg))
	default:
		return dex.NewError(dex.ErrOther, fmt.Errorf("okx api error %d: %s", code, msg))
	}
}

type tokenInfo struct {
	TokenContractAddress string `json:"tokenContractAddress"`
}

type routerResult struct {
	FromTokenAmount string    `json:"fromTokenAmount"`
	ToTokenAmount   string    `json:"toTokenAmount"`
	FromToken       tokenInfo `json:"fromToken"`
	ToToken         tokenInfo `json:"toToken"`
}

type txResult struct {
	To   string `json:"to"`
	Data string `json:"data"`
	Gas  string `json:"gas"`
}

type dataResult struct {
	RouterResult routerResult `json:"routerResult"`
	Tx           txResult     `json:"tx"`
}

type swapResponse struct {
	Code int64        `json:"code,string"`
	Msg  string       `json:"msg"`
	Data []dataResult `json:"data"`
}
