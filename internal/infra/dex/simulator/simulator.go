// Package simulator estimates the gas cost of executing a DEX swap by
// running it through an eth_call against a temporary "swapper" contract,
// deployed in place via state overrides rather than requiring an actual
// on-chain deployment.
package simulator

import (
	"context"
	"errors"
	"math/big"
	"strings"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"

	"github.com/cowprotocol/dex-solvers/internal/domain/dex"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
)

// ErrSettlementContractIsOwner is returned when the order owner is the
// settlement contract itself, which makes gas simulation impossible
// (the settlement and swapper contracts can't both live at that address).
var ErrSettlementContractIsOwner = dex.ErrSettlementContractIsOwner

// swapperDeployedBytecode is the code installed at the order owner's
// address for the simulation; the Swapper helper contract impersonates
// the owner, grants the allowance, executes the swap's calls and reports
// the gas consumed. The constant is empty ("0x"): no Swapper bytecode is
// included, so the owner account carries no code during the eth_call and
// Gas returns an error when decoding the empty result.
const swapperDeployedBytecode = "0x"

// anyoneAuthenticatorDeployedBytecode is the code installed at the
// authenticator address for the simulation, a solver authenticator stub
// that lets any address settle. The constant is empty ("0x"): no
// authenticator bytecode is included.
const anyoneAuthenticatorDeployedBytecode = "0x"

const swapperABIJSON = `[
  {
    "name": "swap",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "settlement", "type": "address"},
      {"name": "sell", "type": "tuple", "components": [
        {"name": "token", "type": "address"},
        {"name": "amount", "type": "uint256"}
      ]},
      {"name": "buy", "type": "tuple", "components": [
        {"name": "token", "type": "address"},
        {"name": "amount", "type": "uint256"}
      ]},
      {"name": "allowance", "type": "tuple", "components": [
        {"name": "spender", "type": "address"},
        {"name": "amount", "type": "uint256"}
      ]},
      {"name": "interactions", "type": "tuple[]", "components": [
        {"name": "target", "type": "address"},
        {"name": "value", "type": "uint256"},
        {"name": "callData", "type": "bytes"}
      ]}
    ],
    "outputs": [{"name": "gasUsed", "type": "uint256"}]
  }
]`

var swapperABI = mustParseABI(swapperABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Simulator estimates DEX swap gas cost via eth_call with state
// overrides, rather than requiring a real on-chain deployment of the
// swapper helper contract.
type Simulator struct {
	client        *gethclient.Client
	settlement    common.Address
	authenticator common.Address
}

// New creates a Simulator backed by an Ethereum JSON-RPC client.
func New(rpc *ethclient.Client, settlement, authenticator eth.ContractAddress) *Simulator {
	return &Simulator{
		client:        gethclient.New(rpc.Client()),
		settlement:    common.Address(settlement),
		authenticator: common.Address(authenticator),
	}
}

type swapInput struct {
	Token  common.Address
	Amount *big.Int
}

type allowanceInput struct {
	Spender common.Address
	Amount  *big.Int
}

type interactionInput struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// Gas simulates swap as if executed by owner, returning the gas it
// consumed. Falls back to the swap's heuristic gas estimate if the
// simulated contract reports zero (meaning simulation wasn't possible on
// its end), and returns ErrSettlementContractIsOwner if owner is the
// settlement contract.
func (s *Simulator) Gas(ctx context.Context, owner eth.Address, swap dex.Swap) (eth.Gas, error) {
	ownerAddr := common.Address(owner)
	if ownerAddr == s.settlement {
		return eth.Gas{}, ErrSettlementContractIsOwner
	}

	overrides := gethclient.OverrideAccount{
		Code: hexutil.MustDecode(swapperDeployedBytecode),
	}
	authOverride := gethclient.OverrideAccount{
		Code: hexutil.MustDecode(anyoneAuthenticatorDeployedBytecode),
	}

	interactions := make([]interactionInput, 0, len(swap.Calls))
	for _, call := range swap.Calls {
		interactions = append(interactions, interactionInput{
			Target:   common.Address(call.To),
			Value:    big.NewInt(0),
			CallData: call.Calldata,
		})
	}

	calldata, err := swapperABI.Pack(
		"swap",
		s.settlement,
		swapInput{Token: common.Address(swap.Input.Token), Amount: swap.Input.Amount.ToBig()},
		swapInput{Token: common.Address(swap.Output.Token), Amount: swap.Output.Amount.ToBig()},
		allowanceInput{Spender: common.Address(swap.Allowance.Spender), Amount: swap.Allowance.Amount.ToBig()},
		interactions,
	)
	if err != nil {
		return eth.Gas{}, err
	}

	msg := geth.CallMsg{From: ownerAddr, To: &ownerAddr, Data: calldata}

	override := map[common.Address]gethclient.OverrideAccount{
		ownerAddr:       overrides,
		s.authenticator: authOverride,
	}

	result, err := s.client.CallContract(ctx, msg, nil, &override)
	if err != nil {
		return eth.Gas{}, err
	}

	outputs, err := swapperABI.Unpack("swap", result)
	if err != nil {
		return eth.Gas{}, err
	}
	if len(outputs) != 1 {
		return eth.Gas{}, errors.New("unexpected simulation result shape")
	}
	gasUsed, ok := outputs[0].(*big.Int)
	if !ok {
		return eth.Gas{}, errors.New("unexpected simulation result type")
	}

	if gasUsed.Sign() == 0 {
		return swap.Gas, nil
	}
	return eth.NewGas(gasUsed.Uint64()), nil
}
