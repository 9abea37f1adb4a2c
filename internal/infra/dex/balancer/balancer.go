// Package balancer adapts the Balancer Smart Order Router (SOR) GraphQL
// API into the solver engine's DEX adapter interface, building
// VaultV2.batchSwap calldata for the quoted route.
package balancer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	"github.com/cowprotocol/dex-solvers/internal/domain/order"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/httpx"
	"github.com/cowprotocol/dex-solvers/internal/util/convx"
)

// gasPerSwap is an approximate gas cost of an individual Balancer pool
// swap, determined heuristically rather than simulated up front.
const gasPerSwap = 88_892

// Sor is an adapter over the Balancer Smart Order Router GraphQL API.
type Sor struct {
	client     *httpx.Client
	endpoint   string
	chainID    eth.ChainID
	vault      common.Address
	settlement eth.ContractAddress
}

// Config configures a Sor adapter.
type Config struct {
	Endpoint   string
	ChainID    eth.ChainID
	Vault      eth.ContractAddress
	Settlement eth.ContractAddress
}

// New creates a Balancer SOR adapter.
func New(client *httpx.Client, cfg Config) *Sor {
	return &Sor{
		client:     client,
		endpoint:   cfg.Endpoint,
		chainID:    cfg.ChainID,
		vault:      common.Address(cfg.Vault),
		settlement: cfg.Settlement,
	}
}

// Swap quotes order against the Balancer SOR API and returns the
// VaultV2.batchSwap calldata needed to execute it.
func (s *Sor) Swap(ctx context.Context, o dex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy], tokens auction.Tokens) (dex.Swap, error) {
	req, err := s.buildRequest(o, slippage)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}

	quote, err := s.quote(ctx, req)
	if err != nil {
		return dex.Swap{}, err
	}
	if len(quote.Swaps) == 0 {
		return dex.Swap{}, dex.NewError(dex.ErrNotFound, fmt.Errorf("empty route"))
	}

	input, output := quote.SwapAmount, quote.ReturnAmount
	if o.Side == order.Buy {
		input, output = quote.ReturnAmount, quote.SwapAmount
	}

	maxInput, minOutput := input, output
	if o.Side == order.Buy {
		maxInput = slippage.Add(input)
	} else {
		minOutput = slippage.Sub(output)
	}

	gas := uint64(len(quote.Swaps)) * gasPerSwap

	calldata, err := s.batchSwapCalldata(o.Side, quote, maxInput, minOutput)
	if err != nil {
		return dex.Swap{}, dex.NewError(dex.ErrOther, err)
	}

	return dex.Swap{
		Calls: []dex.Call{{To: eth.ContractAddress(s.vault), Calldata: calldata}},
		Input: eth.Asset{
			Token:  eth.TokenAddress(quote.TokenIn),
			Amount: input,
		},
		Output: eth.Asset{
			Token:  eth.TokenAddress(quote.TokenOut),
			Amount: output,
		},
		Allowance: dex.Allowance{
			Spender: eth.ContractAddress(s.vault),
			Amount:  maxInput,
		},
		Gas: eth.NewGas(gas),
	}, nil
}

// sorGetSwapPathsQuery is the GraphQL query the Balancer SOR API exposes
// for quoting a VaultV2 swap route.
const sorGetSwapPathsQuery = `
query sorGetSwapPaths($callDataInput: GqlSwapCallDataInput!, $chain: GqlChain!, $queryBatchSwap: Boolean!, $swapAmount: AmountHumanReadable!, $swapType: GqlSorSwapType!, $tokenIn: String!, $tokenOut: String!, $useVaultVersion: Int) {
    sorGetSwapPaths(
        callDataInput: $callDataInput,
        chain: $chain,
        queryBatchSwap: $queryBatchSwap,
        swapAmount: $swapAmount,
        swapType: $swapType,
        tokenIn: $tokenIn,
        tokenOut: $tokenOut,
        useVaultVersion: $useVaultVersion
    ) {
        tokenAddresses
        swaps {
            poolId
            assetInIndex
            assetOutIndex
            amount
            userData
        }
        swapAmountRaw
        returnAmountRaw
        tokenIn
        tokenOut
    }
}
`

// gqlRequest is the GraphQL request envelope the SOR API expects:
// a query document plus its variables.
type gqlRequest struct {
	Query     string       `json:"query"`
	Variables gqlVariables `json:"variables"`
}

type gqlVariables struct {
	CallDataInput   gqlCallDataInput `json:"callDataInput"`
	Chain           string           `json:"chain"`
	QueryBatchSwap  bool             `json:"queryBatchSwap"`
	SwapAmount      string           `json:"swapAmount"`
	SwapType        string           `json:"swapType"`
	TokenIn         string           `json:"tokenIn"`
	TokenOut        string           `json:"tokenOut"`
	UseVaultVersion int              `json:"useVaultVersion"`
}

// gqlCallDataInput requests that the response include the calldata
// inputs needed for a VaultV2 batchSwap from settlement to settlement.
type gqlCallDataInput struct {
	Receiver           string `json:"receiver"`
	Sender             string `json:"sender"`
	SlippagePercentage string `json:"slippagePercentage"`
}

// useVaultVersion selects VaultV2, the only vault version this adapter
// builds calldata for.
const useVaultVersion = 2

func (s *Sor) buildRequest(o dex.Order, slippage tolerance.Tolerance[tolerance.SlippagePolicy]) (gqlRequest, error) {
	chain, err := gqlChain(s.chainID)
	if err != nil {
		return gqlRequest{}, err
	}

	swapType := "EXACT_IN"
	if o.Side == order.Buy {
		swapType = "EXACT_OUT"
	}

	return gqlRequest{
		Query: sorGetSwapPathsQuery,
		Variables: gqlVariables{
			CallDataInput: gqlCallDataInput{
				Receiver:           s.settlement.String(),
				Sender:             s.settlement.String(),
				SlippagePercentage: slippage.AsFactor().FloatString(6),
			},
			Chain:           chain,
			QueryBatchSwap:  false,
			SwapAmount:      convx.EtherToDecimal(o.Amount),
			SwapType:        swapType,
			TokenIn:         o.Sell.String(),
			TokenOut:        o.Buy.String(),
			UseVaultVersion: useVaultVersion,
		},
	}, nil
}

// gqlChain translates a chain ID into the SOR API's GqlChain enum,
// mirroring the set of chains the Balancer SOR service supports.
func gqlChain(id eth.ChainID) (string, error) {
	switch id {
	case 1:
		return "MAINNET", nil
	case 10:
		return "OPTIMISM", nil
	case 100:
		return "GNOSIS", nil
	case 137:
		return "POLYGON", nil
	case 250:
		return "FANTOM", nil
	case 252:
		return "FRAXTAL", nil
	case 8453:
		return "BASE", nil
	case 34443:
		return "MODE", nil
	case 42161:
		return "ARBITRUM", nil
	case 43114:
		return "AVALANCHE", nil
	case 1101:
		return "ZKEVM", nil
	case 11155111:
		return "SEPOLIA", nil
	default:
		return "", fmt.Errorf("unsupported chain id %d", id)
	}
}

// gqlResponse is the GraphQL response envelope: the payload always sits
// under a top-level "data" key.
type gqlResponse struct {
	Data gqlData `json:"data"`
}

type gqlData struct {
	SorGetSwapPaths gqlQuote `json:"sorGetSwapPaths"`
}

// gqlQuote is the swap route the SOR API found for the request.
type gqlQuote struct {
	TokenAddresses  []string  `json:"tokenAddresses"`
	Swaps           []gqlSwap `json:"swaps"`
	SwapAmountRaw   string    `json:"swapAmountRaw"`
	ReturnAmountRaw string    `json:"returnAmountRaw"`
	TokenIn         string    `json:"tokenIn"`
	TokenOut        string    `json:"tokenOut"`
}

// gqlSwap is a single pool hop within a larger batched swap.
type gqlSwap struct {
	PoolID        string         `json:"poolId"`
	AssetInIndex  flexibleNumber `json:"assetInIndex"`
	AssetOutIndex flexibleNumber `json:"assetOutIndex"`
	Amount        string         `json:"amount"`
	UserData      string         `json:"userData"`
}

// flexibleNumber decodes a JSON value that may come back as either a
// number or a numeric string, which the SOR API does inconsistently for
// pool asset indices.
type flexibleNumber int

func (n *flexibleNumber) UnmarshalJSON(b []byte) error {
	var asInt int
	if err := json.Unmarshal(b, &asInt); err == nil {
		*n = flexibleNumber(asInt)
		return nil
	}
	var asString string
	if err := json.Unmarshal(b, &asString); err != nil {
		return err
	}
	v, err := strconv.Atoi(asString)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", asString, err)
	}
	*n = flexibleNumber(v)
	return nil
}

// quote is the normalized, domain-facing form of a SOR quote: addresses
// parsed, amounts parsed into uint256.
type quote struct {
	TokenIn        common.Address
	TokenOut       common.Address
	TokenAddresses []common.Address
	Swaps          []quoteSwap
	SwapAmount     *uint256.Int
	ReturnAmount   *uint256.Int
}

type quoteSwap struct {
	PoolID        string
	AssetInIndex  int
	AssetOutIndex int
	Amount        *uint256.Int
	UserData      string
}

func (s *Sor) quote(ctx context.Context, req gqlRequest) (quote, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return quote{}, dex.NewError(dex.ErrOther, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return quote{}, dex.NewError(dex.ErrOther, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return quote{}, dex.NewError(dex.ErrOther, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return quote{}, dex.NewError(dex.ErrRateLimited, fmt.Errorf("balancer sor: 429"))
	}
	if resp.StatusCode != http.StatusOK {
		return quote{}, dex.NewError(dex.ErrOther, fmt.Errorf("balancer sor: status %d", resp.StatusCode))
	}

	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return quote{}, dex.NewError(dex.ErrOther, err)
	}

	return normalizeQuote(out.Data.SorGetSwapPaths)
}

// normalizeQuote parses a GraphQL quote's string-encoded fields into the
// adapter's internal representation. The SOR API responds with
// address: "" on failure to find a route, which parses to the zero
// address here rather than an error, matching an empty-route quote.
func normalizeQuote(q gqlQuote) (quote, error) {
	swapAmount, ok := uint256.FromDecimal(q.SwapAmountRaw)
	if !ok {
		return quote{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid swapAmountRaw %q", q.SwapAmountRaw))
	}
	returnAmount, ok := uint256.FromDecimal(q.ReturnAmountRaw)
	if !ok {
		return quote{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid returnAmountRaw %q", q.ReturnAmountRaw))
	}

	tokenAddresses := make([]common.Address, 0, len(q.TokenAddresses))
	for _, a := range q.TokenAddresses {
		tokenAddresses = append(tokenAddresses, common.HexToAddress(a))
	}

	swaps := make([]quoteSwap, 0, len(q.Swaps))
	for _, sw := range q.Swaps {
		amount, ok := uint256.FromDecimal(sw.Amount)
		if !ok {
			return quote{}, dex.NewError(dex.ErrOther, fmt.Errorf("invalid swap amount %q", sw.Amount))
		}
		swaps = append(swaps, quoteSwap{
			PoolID:        sw.PoolID,
			AssetInIndex:  int(sw.AssetInIndex),
			AssetOutIndex: int(sw.AssetOutIndex),
			Amount:        amount,
			UserData:      sw.UserData,
		})
	}

	return quote{
		TokenIn:        addressOrZero(q.TokenIn),
		TokenOut:       addressOrZero(q.TokenOut),
		TokenAddresses: tokenAddresses,
		Swaps:          swaps,
		SwapAmount:     swapAmount,
		ReturnAmount:   returnAmount,
	}, nil
}

func addressOrZero(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

var vaultABI = mustParseABI(`[{
  "name": "batchSwap",
  "type": "function",
  "stateMutability": "nonpayable",
  "inputs": [
    {"name": "kind", "type": "uint8"},
    {"name": "swaps", "type": "tuple[]", "components": [
      {"name": "poolId", "type": "bytes32"},
      {"name": "assetInIndex", "type": "uint256"},
      {"name": "assetOutIndex", "type": "uint256"},
      {"name": "amount", "type": "uint256"},
      {"name": "userData", "type": "bytes"}
    ]},
    {"name": "assets", "type": "address[]"},
    {"name": "funds", "type": "tuple", "components": [
      {"name": "sender", "type": "address"},
      {"name": "fromInternalBalance", "type": "bool"},
      {"name": "recipient", "type": "address"},
      {"name": "toInternalBalance", "type": "bool"}
    ]},
    {"name": "limits", "type": "int256[]"},
    {"name": "deadline", "type": "uint256"}
  ],
  "outputs": [{"name": "assetDeltas", "type": "int256[]"}]
}]`)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader([]byte(s)))
	if err != nil {
		panic(err)
	}
	return parsed
}

type vaultSwapStep struct {
	PoolID        [32]byte
	AssetInIndex  *big.Int
	AssetOutIndex *big.Int
	Amount        *big.Int
	UserData      []byte
}

type vaultFunds struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

// swapKindGivenIn/GivenOut mirror the Balancer Vault's IVault.SwapKind enum.
const (
	swapKindGivenIn  = uint8(0)
	swapKindGivenOut = uint8(1)
)

func (s *Sor) batchSwapCalldata(side order.Side, q quote, maxInput, minOutput *uint256.Int) ([]byte, error) {
	kind := swapKindGivenIn
	if side == order.Buy {
		kind = swapKindGivenOut
	}

	swaps := make([]vaultSwapStep, 0, len(q.Swaps))
	for _, sw := range q.Swaps {
		var poolID [32]byte
		copy(poolID[:], common.FromHex(sw.PoolID))
		swaps = append(swaps, vaultSwapStep{
			PoolID:        poolID,
			AssetInIndex:  big.NewInt(int64(sw.AssetInIndex)),
			AssetOutIndex: big.NewInt(int64(sw.AssetOutIndex)),
			Amount:        sw.Amount.ToBig(),
			UserData:      common.FromHex(sw.UserData),
		})
	}

	limits := make([]*big.Int, 0, len(q.TokenAddresses))
	for _, token := range q.TokenAddresses {
		switch token {
		case q.TokenIn:
			limits = append(limits, maxInput.ToBig())
		case q.TokenOut:
			limits = append(limits, new(big.Int).Neg(minOutput.ToBig()))
		default:
			limits = append(limits, big.NewInt(0))
		}
	}

	// A sufficiently far-future deadline, chosen with as many trailing
	// zero bits as possible for a small calldata gas saving.
	deadline := new(big.Int).Lsh(big.NewInt(1), 255)

	funds := vaultFunds{
		Sender:              common.Address(s.settlement),
		FromInternalBalance: false,
		Recipient:           common.Address(s.settlement),
		ToInternalBalance:   false,
	}

	return vaultABI.Pack("batchSwap", kind, swaps, q.TokenAddresses, funds, limits, deadline)
}
