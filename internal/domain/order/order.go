// Package order models a single CoW Protocol order as presented to the
// solver engine.
package order

import (
	"encoding/hex"
	"fmt"

	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
)

// Uid is the 56-byte unique identifier of an order: a 32-byte hash, a
// 20-byte owner address and a 4-byte valid-to timestamp.
type Uid [56]byte

func (u Uid) String() string { return "0x" + hex.EncodeToString(u[:]) }

// Owner returns the order owner, encoded in bytes 32..52 of the uid.
func (u Uid) Owner() eth.Address {
	var a eth.Address
	copy(a[:], u[32:52])
	return a
}

// Side is the trading side of an order.
type Side int

const (
	// Sell is an order with a fixed sell amount and a minimum buy amount.
	Sell Side = iota
	// Buy is an order with a fixed buy amount and a maximum sell amount.
	Buy
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Class is the order classification, which determines fee handling.
type Class int

const (
	Market Class = iota
	Limit
)

func (c Class) String() string {
	if c == Limit {
		return "limit"
	}
	return "market"
}

// Order is a CoW Protocol trade request.
type Order struct {
	Uid               Uid
	Sell              eth.Asset
	Buy               eth.Asset
	Side              Side
	Class             Class
	PartiallyFillable bool
}

// Owner returns the order's owner address, derived from its Uid.
func (o Order) Owner() eth.Address { return o.Uid.Owner() }

// SolverDeterminesFee reports whether the solver is expected to compute and
// charge a surplus fee for this order, which is true iff it is a limit
// order.
func (o Order) SolverDeterminesFee() bool { return o.Class == Limit }

// Validate checks structural invariants that must hold for every order
// entering the solving pipeline.
func (o Order) Validate() error {
	if o.Sell.Amount == nil || o.Buy.Amount == nil {
		return fmt.Errorf("order %s: missing amount", o.Uid)
	}
	if o.Class != Market && o.Class != Limit {
		return fmt.Errorf("order %s: invalid class", o.Uid)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("order %s: invalid side", o.Uid)
	}
	return nil
}
