// Package amm is a constant-product pool factory and pair with a 25 bps swap
// fee and a protocol fee of 8/25 of fee growth minted to feeTo.
package amm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
)

// FeeBps is the swap fee charged on pool input.
const FeeBps uint64 = 25

var (
	ErrIdenticalAddresses          = errors.New("amm: identical addresses")
	ErrZeroAddress                 = errors.New("amm: zero address")
	ErrPairExists                  = errors.New("amm: pair exists")
	ErrPairNotFound                = errors.New("amm: pair not found")
	ErrForbidden                   = errors.New("amm: forbidden")
	ErrInsufficientAmount          = errors.New("amm: insufficient amount")
	ErrInsufficientInputAmount     = errors.New("amm: insufficient input amount")
	ErrInsufficientOutputAmount    = errors.New("amm: insufficient output amount")
	ErrInsufficientLiquidity       = errors.New("amm: insufficient liquidity")
	ErrInsufficientLiquidityMinted = errors.New("amm: insufficient liquidity minted")
	ErrInsufficientLiquidityBurned = errors.New("amm: insufficient liquidity burned")
	ErrInvalidTo                   = errors.New("amm: invalid to")
	ErrK                           = errors.New("amm: k")
	ErrOverflow                    = errors.New("amm: overflow")
)

// SortTokens returns the pair in canonical order.
func SortTokens(a, b common.Address) (common.Address, common.Address, error) {
	if a == b {
		return common.Address{}, common.Address{}, ErrIdenticalAddresses
	}
	if asset.Less(b, a) {
		a, b = b, a
	}
	if a == (common.Address{}) {
		return common.Address{}, common.Address{}, ErrZeroAddress
	}
	return a, b, nil
}

// Quote returns the amount of B equal in value to amountA at the reserve ratio.
func Quote(amountA, reserveA, reserveB *uint256.Int) (*uint256.Int, error) {
	if amountA.IsZero() {
		return nil, ErrInsufficientAmount
	}
	if reserveA.IsZero() || reserveB.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	return fixed.MulDiv(amountA, reserveB, reserveA)
}

// GetAmountOut is the output of amountIn after the pool fee.
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrInsufficientInputAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	withFee, err := fixed.Mul(amountIn, fixed.New(fixed.BpsDenominator-FeeBps))
	if err != nil {
		return nil, err
	}
	scaledIn, err := fixed.Mul(reserveIn, fixed.New(fixed.BpsDenominator))
	if err != nil {
		return nil, err
	}
	den, err := fixed.Add(scaledIn, withFee)
	if err != nil {
		return nil, err
	}
	return fixed.MulDiv(withFee, reserveOut, den)
}

// GetAmountIn is the input needed to take amountOut, rounded up by one.
func GetAmountIn(amountOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountOut.IsZero() {
		return nil, ErrInsufficientOutputAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	num, err := fixed.Mul(reserveIn, fixed.New(fixed.BpsDenominator))
	if err != nil {
		return nil, err
	}
	den, err := fixed.Mul(new(uint256.Int).Sub(reserveOut, amountOut), fixed.New(fixed.BpsDenominator-FeeBps))
	if err != nil {
		return nil, err
	}
	in, err := fixed.MulDiv(num, amountOut, den)
	if err != nil {
		return nil, err
	}
	return fixed.Add(in, fixed.New(1))
}
