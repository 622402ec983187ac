// Package fixed holds the integer price arithmetic shared by the book, the
// AMM and the router. Every value is an unsigned 256-bit integer; products are
// computed at 512 bits before division so intermediates never wrap.
package fixed

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrDivideByZero = errors.New("fixed: divide by zero")
	ErrOverflow     = errors.New("fixed: overflow")
	ErrUnderflow    = errors.New("fixed: underflow")
)

// DefaultScale is the price scale used when configuration does not override it (1e10).
const DefaultScale uint64 = 10_000_000_000

// BpsDenominator is the basis point denominator for every fee in the exchange.
const BpsDenominator uint64 = 10_000

// P returns the checkpoint rate precision (1e18). A fresh value is returned on
// each call so callers may mutate it.
func P() *uint256.Int {
	return uint256.NewInt(1_000_000_000_000_000_000)
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// New wraps a uint64.
func New(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Pow10 returns 10^n.
func Pow10(n uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(n))
}

// Parse reads a base-10 amount. Empty strings are rejected.
func Parse(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("fixed: empty amount")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("fixed: parse %q: %w", s, err)
	}
	return v, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// MulDiv returns floor(x*y/d).
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDivUp returns ceil(x*y/d).
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	return Add(z, uint256.NewInt(1))
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x-y or ErrUnderflow.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// Mul returns x*y or ErrOverflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Min returns a copy of the smaller operand.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x.Clone()
	}
	return y.Clone()
}

// DerivePrice converts an (amountOut, amountIn) limit into a scaled price:
// floor(amountOut*scale/amountIn).
func DerivePrice(amountOut, amountIn, scale *uint256.Int) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrDivideByZero
	}
	return MulDiv(amountOut, scale, amountIn)
}

// ToQuote converts notional at price into the other token: floor(x*price/scale).
func ToQuote(notional, price, scale *uint256.Int) (*uint256.Int, error) {
	return MulDiv(notional, price, scale)
}

// ToQuoteUp is ToQuote rounded up.
func ToQuoteUp(notional, price, scale *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(notional, price, scale)
}

// FromQuote converts a quote amount back into notional: floor(q*scale/price).
func FromQuote(quote, price, scale *uint256.Int) (*uint256.Int, error) {
	return MulDiv(quote, scale, price)
}

// Bps returns floor(x*bps/10000).
func Bps(x *uint256.Int, bps uint64) *uint256.Int {
	z, _ := MulDiv(x, uint256.NewInt(bps), uint256.NewInt(BpsDenominator))
	return z
}
