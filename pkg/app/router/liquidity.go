package router

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/amm"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
)

// LiquidityResult reports the tokens deposited and the LP tokens minted.
type LiquidityResult struct {
	AmountA   *uint256.Int
	AmountB   *uint256.Int
	Liquidity *uint256.Int
}

// AddLiquidity deposits into the tokenA/tokenB pool at its current ratio,
// creating the pool on first use. Either token may be the native sentinel, in
// which case value carries it and any unused value is returned.
func (r *Router) AddLiquidity(caller common.Address, value *uint256.Int, tokenA, tokenB common.Address, amountADesired, amountBDesired, amountAMin, amountBMin *uint256.Int, to common.Address, deadline int64) (LiquidityResult, error) {
	var res LiquidityResult
	err := r.j.Atomic(func() error {
		if err := r.ensure(deadline); err != nil {
			return err
		}
		a, nativeA := r.wrapped(tokenA)
		b, nativeB := r.wrapped(tokenB)
		if value == nil {
			value = fixed.Zero()
		}
		if !nativeA && !nativeB && !value.IsZero() {
			return fmt.Errorf("%w: value sent without native token", ErrInvalidValue)
		}
		pair, err := r.pairFor(a, b)
		if err != nil {
			return err
		}
		amountA, amountB, err := r.optimal(pair, a, amountADesired, amountBDesired, amountAMin, amountBMin)
		if err != nil {
			return err
		}
		if err := r.deposit(caller, value, a, nativeA, pair.Address(), amountA); err != nil {
			return err
		}
		if err := r.deposit(caller, value, b, nativeB, pair.Address(), amountB); err != nil {
			return err
		}
		liquidity, err := pair.Mint(to)
		if err != nil {
			return err
		}
		res = LiquidityResult{AmountA: amountA, AmountB: amountB, Liquidity: liquidity}
		r.log.Debug("router_add_liquidity",
			zap.String("pair", pair.Address().Hex()),
			zap.String("amount_a", amountA.Dec()),
			zap.String("amount_b", amountB.Dec()),
			zap.String("liquidity", liquidity.Dec()))
		return nil
	})
	return res, err
}

// RemoveLiquidity burns liquidity of the tokenA/tokenB pool held by caller.
// A wrapped-native leg is paid as native when receiveNative is set or the
// token is given as the native sentinel.
func (r *Router) RemoveLiquidity(caller, tokenA, tokenB common.Address, liquidity, amountAMin, amountBMin *uint256.Int, to common.Address, deadline int64, receiveNative bool) (*uint256.Int, *uint256.Int, error) {
	var amountA, amountB *uint256.Int
	err := r.j.Atomic(func() error {
		if err := r.ensure(deadline); err != nil {
			return err
		}
		a, nativeA := r.wrapped(tokenA)
		b, nativeB := r.wrapped(tokenB)
		native := receiveNative || nativeA || nativeB
		var err error
		amountA, amountB, err = r.burn(caller, a, b, liquidity, to, native)
		if err != nil {
			return err
		}
		if amountA.Lt(amountAMin) {
			return fmt.Errorf("%w: %s below %s", ErrInsufficientAAmount, amountA.Dec(), amountAMin.Dec())
		}
		if amountB.Lt(amountBMin) {
			return fmt.Errorf("%w: %s below %s", ErrInsufficientBAmount, amountB.Dec(), amountBMin.Dec())
		}
		return nil
	})
	return amountA, amountB, err
}

// FastAddLiquidity provides liquidity from a single token: half of amountIn
// is swapped for tokenOther through the hybrid route and both halves are
// deposited. Leftovers return to caller.
func (r *Router) FastAddLiquidity(caller common.Address, value *uint256.Int, tokenIn, tokenOther common.Address, amountIn *uint256.Int, to common.Address, deadline int64) (LiquidityResult, error) {
	var res LiquidityResult
	err := r.j.Atomic(func() error {
		if err := r.ensure(deadline); err != nil {
			return err
		}
		if amountIn == nil || amountIn.IsZero() {
			return ErrZeroAmount
		}
		in, nativeIn := r.wrapped(tokenIn)
		other, nativeOther := r.wrapped(tokenOther)
		if value == nil {
			value = fixed.Zero()
		}
		if nativeIn {
			if !value.Eq(amountIn) {
				return fmt.Errorf("%w: value %s amount %s", ErrInvalidValue, value.Dec(), amountIn.Dec())
			}
			if err := r.wrap(caller, amountIn, value); err != nil {
				return err
			}
		} else {
			if !value.IsZero() {
				return fmt.Errorf("%w: value sent with token input", ErrInvalidValue)
			}
			if _, err := r.fund(caller, in, r.addr, amountIn); err != nil {
				return err
			}
		}
		pair, ok := r.factory.GetPair(in, other)
		if !ok {
			return fmt.Errorf("%w: no pool for %s/%s", amm.ErrPairNotFound, in.Hex(), other.Hex())
		}

		half := new(uint256.Int).Rsh(amountIn, 1)
		q, err := r.GetAmountsOut(half, []common.Address{in, other}, r.addr)
		if err != nil {
			return err
		}
		if _, err := r.execute(r.addr, q, r.addr, false, true); err != nil {
			return err
		}

		haveIn := r.ledger.BalanceOf(in, r.addr)
		haveOther := r.ledger.BalanceOf(other, r.addr)
		amountA, amountB, err := r.optimal(pair, in, haveIn, haveOther, fixed.Zero(), fixed.Zero())
		if err != nil {
			return err
		}
		if _, err := r.fund(r.addr, in, pair.Address(), amountA); err != nil {
			return err
		}
		if _, err := r.fund(r.addr, other, pair.Address(), amountB); err != nil {
			return err
		}
		liquidity, err := pair.Mint(to)
		if err != nil {
			return err
		}
		if err := r.sweep(caller, nativeIn, in); err != nil {
			return err
		}
		if err := r.sweep(caller, nativeOther, other); err != nil {
			return err
		}
		res = LiquidityResult{AmountA: amountA, AmountB: amountB, Liquidity: liquidity}
		r.log.Debug("router_fast_add_liquidity",
			zap.String("pair", pair.Address().Hex()),
			zap.String("in", amountIn.Dec()),
			zap.String("liquidity", liquidity.Dec()))
		return nil
	})
	return res, err
}

// FastRemoveLiquidity burns liquidity and swaps the tokenOther leg into
// tokenOut through the hybrid route, paying all of it as tokenOut.
func (r *Router) FastRemoveLiquidity(caller, tokenOut, tokenOther common.Address, liquidity *uint256.Int, to common.Address, deadline int64) (*uint256.Int, error) {
	var total *uint256.Int
	err := r.j.Atomic(func() error {
		if err := r.ensure(deadline); err != nil {
			return err
		}
		out, nativeOut := r.wrapped(tokenOut)
		other, _ := r.wrapped(tokenOther)

		heldOut := r.ledger.BalanceOf(out, r.addr)
		amountOut, amountOther, err := r.burn(caller, out, other, liquidity, r.addr, false)
		if err != nil {
			return err
		}
		if !amountOther.IsZero() {
			q, err := r.GetAmountsOut(amountOther, []common.Address{other, out}, r.addr)
			if err != nil {
				return err
			}
			if _, err := r.execute(r.addr, q, r.addr, false, true); err != nil {
				return err
			}
		}
		if total, err = fixed.Sub(r.ledger.BalanceOf(out, r.addr), heldOut); err != nil {
			return err
		}
		if err := r.payOut(out, to, total, nativeOut); err != nil {
			return err
		}
		if err := r.sweep(caller, false, other); err != nil {
			return err
		}
		r.log.Debug("router_fast_remove_liquidity",
			zap.String("token_out", out.Hex()),
			zap.String("burned_out", amountOut.Dec()),
			zap.String("total", total.Dec()))
		return nil
	})
	return total, err
}

func (r *Router) pairFor(a, b common.Address) (*amm.Pair, error) {
	if p, ok := r.factory.GetPair(a, b); ok {
		return p, nil
	}
	return r.factory.CreatePair(a, b)
}

// optimal picks deposit amounts that match the pool ratio.
func (r *Router) optimal(pair *amm.Pair, a common.Address, desiredA, desiredB, minA, minB *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	reserveA, reserveB := pair.ReservesFor(a)
	if reserveA.IsZero() && reserveB.IsZero() {
		return desiredA.Clone(), desiredB.Clone(), nil
	}
	optB, err := amm.Quote(desiredA, reserveA, reserveB)
	if err != nil {
		return nil, nil, err
	}
	if !optB.Gt(desiredB) {
		if optB.Lt(minB) {
			return nil, nil, fmt.Errorf("%w: %s below %s", ErrInsufficientBAmount, optB.Dec(), minB.Dec())
		}
		return desiredA.Clone(), optB, nil
	}
	optA, err := amm.Quote(desiredB, reserveB, reserveA)
	if err != nil {
		return nil, nil, err
	}
	if optA.Gt(desiredA) || optA.Lt(minA) {
		return nil, nil, fmt.Errorf("%w: %s outside [%s, %s]", ErrInsufficientAAmount, optA.Dec(), minA.Dec(), desiredA.Dec())
	}
	return optA, desiredB.Clone(), nil
}

// deposit moves amount of token from caller into the pool, wrapping native value.
func (r *Router) deposit(caller common.Address, value *uint256.Int, token common.Address, native bool, pool common.Address, amount *uint256.Int) error {
	if native {
		if err := r.wrap(caller, amount, value); err != nil {
			return err
		}
		_, err := r.fund(r.addr, token, pool, amount)
		return err
	}
	_, err := r.fund(caller, token, pool, amount)
	return err
}

// burn returns caller's liquidity to the pool and pays both tokens to `to`,
// ordered as (a, b).
func (r *Router) burn(caller, a, b common.Address, liquidity *uint256.Int, to common.Address, native bool) (*uint256.Int, *uint256.Int, error) {
	pair, ok := r.factory.GetPair(a, b)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", amm.ErrPairNotFound, a.Hex(), b.Hex())
	}
	if _, err := r.fund(caller, pair.Address(), pair.Address(), liquidity); err != nil {
		return nil, nil, err
	}
	dest := to
	if native {
		dest = r.addr
	}
	amount0, amount1, err := pair.Burn(dest)
	if err != nil {
		return nil, nil, err
	}
	amountA, amountB := amount0, amount1
	if a != pair.Token0() {
		amountA, amountB = amount1, amount0
	}
	if native {
		if err := r.payOut(a, to, amountA, true); err != nil {
			return nil, nil, err
		}
		if err := r.payOut(b, to, amountB, true); err != nil {
			return nil, nil, err
		}
	}
	return amountA, amountB, nil
}
