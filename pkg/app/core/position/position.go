// Package position holds maker positions, their lazy settlement against
// price-level checkpoints, and the enumerable ownership registry.
package position

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/orderbook"
)

// Position is a maker's claim on one price level of one book.
//
// PendingIn is the unfilled notional in TokenIn. Filled is realized fill in
// TokenIn units not yet paid out; its proceeds are ToQuote(Filled, Price).
// FeeRewarded is accrued taker fee in TokenOut. Native marks that TokenIn or
// TokenOut was supplied as the native asset and payouts in the wrapped token
// are unwrapped.
type Position struct {
	ID          uint64         `json:"id"`
	Owner       common.Address `json:"owner"`
	BookID      uint64         `json:"bookId"`
	TokenIn     common.Address `json:"tokenIn"`
	TokenOut    common.Address `json:"tokenOut"`
	Price       *uint256.Int   `json:"price"`
	PendingIn   *uint256.Int   `json:"pendingIn"`
	LastSettled uint64         `json:"lastSettled"`
	Filled      *uint256.Int   `json:"filled"`
	FeeRewarded *uint256.Int   `json:"feeRewarded"`
	Native      bool           `json:"native"`
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	c := p
	c.Price = p.Price.Clone()
	c.PendingIn = p.PendingIn.Clone()
	c.Filled = p.Filled.Clone()
	c.FeeRewarded = p.FeeRewarded.Clone()
	return c
}

// PendingOut is what the unfilled notional buys at the position's price.
func (p Position) PendingOut(scale *uint256.Int) *uint256.Int {
	v, err := fixed.ToQuote(p.PendingIn, p.Price, scale)
	if err != nil {
		return fixed.Zero()
	}
	return v
}

// Proceeds is the realized payout in TokenOut: fill proceeds plus fee reward.
func (p Position) Proceeds(scale *uint256.Int) *uint256.Int {
	v, err := fixed.ToQuote(p.Filled, p.Price, scale)
	if err != nil {
		return p.FeeRewarded.Clone()
	}
	return v.Add(v, p.FeeRewarded)
}

// Empty reports whether nothing is left to fill or pay out.
func (p Position) Empty() bool {
	return p.PendingIn.IsZero() && p.Filled.IsZero() && p.FeeRewarded.IsZero()
}

// Settle applies checkpoints after LastSettled in order and moves the cursor
// to latest. The receiver is not modified.
func (p Position) Settle(cps []orderbook.Checkpoint, latest uint64) Position {
	s := p.Clone()
	P := fixed.P()
	for _, cp := range cps {
		if s.PendingIn.IsZero() {
			break
		}
		fill, _ := fixed.MulDiv(s.PendingIn, cp.FillRate, P)
		fee, _ := fixed.MulDiv(fill, cp.FeeRate, P)
		s.Filled.Add(s.Filled, fill)
		s.FeeRewarded.Add(s.FeeRewarded, fee)
		s.PendingIn.Sub(s.PendingIn, fill)
	}
	if latest > s.LastSettled {
		s.LastSettled = latest
	}
	return s
}
