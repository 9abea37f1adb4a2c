// Package eth models the Ethereum-level value types shared across the
// solver domain: addresses, token amounts, gas and ether quantities.
package eth

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Address is a 20-byte Ethereum account or contract address.
type Address [20]byte

// ParseAddress parses a 0x-prefixed or bare hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("invalid address %q: want %d bytes, got %d", s, len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zero bytes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// TokenAddress identifies an ERC20 token (or the native-token placeholder).
type TokenAddress Address

func (t TokenAddress) String() string { return Address(t).String() }

// ContractAddress identifies a contract callable on-chain.
type ContractAddress Address

func (c ContractAddress) String() string { return Address(c).String() }

// NativeToken is the conventional placeholder address for the chain's gas
// token (0xEeee...EEeE), used as the reference asset for smallest-fill
// conversions.
var NativeToken = TokenAddress(mustRepeat(0xee))

func mustRepeat(b byte) Address {
	var a Address
	for i := range a {
		a[i] = b
	}
	return a
}

// Asset is a (token, amount) pair.
type Asset struct {
	Token  TokenAddress
	Amount *uint256.Int
}

// Ether is a quantity of wei.
type Ether struct{ Value *uint256.Int }

func NewEther(v *uint256.Int) Ether { return Ether{Value: v} }

// Gas is a quantity of gas units.
type Gas struct{ Value uint64 }

func NewGas(v uint64) Gas { return Gas{Value: v} }

// Add returns the sum of two gas amounts, saturating at the uint64 max.
func (g Gas) Add(o Gas) Gas {
	sum := g.Value + o.Value
	if sum < g.Value {
		return Gas{Value: ^uint64(0)}
	}
	return Gas{Value: sum}
}

// ChainID identifies an EVM chain.
type ChainID uint64

// Interaction is a raw on-chain call to be executed before or after a
// settlement's main trades, outside of the custom-interaction accounting
// used for internalizable swaps.
type Interaction struct {
	Target   ContractAddress
	Value    Ether
	Calldata []byte
}
