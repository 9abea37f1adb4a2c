package auction

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
)

func TestPriceEtherValue(t *testing.T) {
	p := Price(eth.NewEther(uint256.NewInt(2_000000000000000000))) // 2 ether per 1e18 atoms
	v, ok := p.EtherValue(eth.Ether{Value: uint256.NewInt(1_000000000000000000)})
	if !ok {
		t.Fatal("EtherValue() should succeed")
	}
	if v.Uint64() != 500000000000000000 {
		t.Errorf("EtherValue() = %d, want 500000000000000000", v.Uint64())
	}
}

func TestPriceEtherValueZeroPrice(t *testing.T) {
	p := Price(eth.NewEther(uint256.NewInt(0)))
	if _, ok := p.EtherValue(eth.Ether{Value: uint256.NewInt(1)}); ok {
		t.Error("EtherValue() should fail for a zero price")
	}
}

func TestTokensLookups(t *testing.T) {
	decimals := uint8(18)
	price := Price(eth.NewEther(uint256.NewInt(1)))
	addr, _ := eth.ParseAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	token := eth.TokenAddress(addr)

	tokens := Tokens{
		token: {Decimals: &decimals, ReferencePrice: &price, Trusted: true, AvailableBalance: uint256.NewInt(100)},
	}

	if got, ok := tokens.Decimals(token); !ok || got != 18 {
		t.Errorf("Decimals() = %d, %v, want 18, true", got, ok)
	}
	if !tokens.Trusted(token) {
		t.Error("Trusted() should be true")
	}
	if tokens.AvailableBalance(token).Uint64() != 100 {
		t.Error("AvailableBalance() mismatch")
	}

	unknown := eth.TokenAddress{}
	if _, ok := tokens.Decimals(unknown); ok {
		t.Error("Decimals() should report unknown for a missing token")
	}
	if tokens.Trusted(unknown) {
		t.Error("Trusted() should default to false for a missing token")
	}
	if tokens.AvailableBalance(unknown).Sign() != 0 {
		t.Error("AvailableBalance() should default to zero for a missing token")
	}
}

func TestIDString(t *testing.T) {
	if SolveID(1).String() != "solve" {
		t.Error("SolveID.String() mismatch")
	}
	if QuoteID().String() != "quote" {
		t.Error("QuoteID.String() mismatch")
	}
}

func TestDeadlineRemaining(t *testing.T) {
	now := time.Now()
	d := Deadline{Time: now.Add(5 * time.Second)}
	remaining := d.Remaining(now)
	if remaining <= 4*time.Second || remaining > 5*time.Second {
		t.Errorf("Remaining() = %v, want ~5s", remaining)
	}
}
