// Package router splits every hop of a swap path between the limit-order book
// and the constant-product pool: the book fills first at its resting prices and
// whatever it cannot take is routed to the pool.
package router

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/amm"
	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/dex"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
	"github.com/uhyunpark/stakedex/pkg/util"
)

var (
	ErrExpired                  = errors.New("router: expired")
	ErrInvalidPath              = errors.New("router: invalid path")
	ErrZeroAmount               = errors.New("router: zero amount")
	ErrInvalidValue             = errors.New("router: invalid value")
	ErrInsufficientOutputAmount = errors.New("router: insufficient output amount")
	ErrExcessiveInputAmount     = errors.New("router: excessive input amount")
	ErrInsufficientAAmount      = errors.New("router: insufficient A amount")
	ErrInsufficientBAmount      = errors.New("router: insufficient B amount")
	// ErrInsufficientLiquidity keeps the reason string clients already match on.
	ErrInsufficientLiquidity = errors.New("CowswapRouter: INSUFFICIENT_LIQUIDITY")
)

// Router is stateless between calls: any balance it holds during a call is
// swept back to the caller before the call returns.
type Router struct {
	addr    common.Address
	j       *state.Journal
	ledger  *asset.Ledger
	weth    *asset.WETH
	dex     *dex.Engine
	factory *amm.Factory
	clock   util.Clock
	log     *zap.Logger
}

func New(j *state.Journal, ledger *asset.Ledger, weth *asset.WETH, d *dex.Engine, f *amm.Factory, addr common.Address, clock util.Clock, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Router{addr: addr, j: j, ledger: ledger, weth: weth, dex: d, factory: f, clock: clock, log: log}
}

func (r *Router) Address() common.Address   { return r.addr }
func (r *Router) Dex() *dex.Engine          { return r.dex }
func (r *Router) Factory() *amm.Factory     { return r.factory }
func (r *Router) WETH() common.Address      { return r.weth.Address() }
func (r *Router) Ledger() *asset.Ledger     { return r.ledger }
func (r *Router) SetClock(clock util.Clock) { r.clock = clock }

// ensure rejects calls whose deadline (unix seconds) lies before the current time.
func (r *Router) ensure(deadline int64) error {
	if now := r.clock.Now().Unix(); now > deadline {
		return fmt.Errorf("%w: now %d deadline %d", ErrExpired, now, deadline)
	}
	return nil
}

// resolve maps the native sentinel to the wrapped token. The sentinel may only
// appear at either end of a path.
func (r *Router) resolve(path []common.Address) ([]common.Address, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: %d tokens", ErrInvalidPath, len(path))
	}
	out := make([]common.Address, len(path))
	for i, tok := range path {
		if tok == asset.NativeAddress {
			if i != 0 && i != len(path)-1 {
				return nil, fmt.Errorf("%w: native inside path", ErrInvalidPath)
			}
			tok = r.weth.Address()
		}
		if tok == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero address", ErrInvalidPath)
		}
		if i > 0 && out[i-1] == tok {
			return nil, fmt.Errorf("%w: repeated token %s", ErrInvalidPath, tok.Hex())
		}
		out[i] = tok
	}
	return out, nil
}

// wrapped resolves a single token argument.
func (r *Router) wrapped(tok common.Address) (common.Address, bool) {
	if tok == asset.NativeAddress {
		return r.weth.Address(), true
	}
	return tok, false
}

// fund moves amount of token from payer to dst and returns what dst received.
// Payments by the router itself are plain transfers.
func (r *Router) fund(payer, token, dst common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return fixed.Zero(), nil
	}
	if payer == r.addr {
		return r.ledger.Transfer(token, r.addr, dst, amount)
	}
	return r.ledger.TransferFrom(token, r.addr, payer, dst, amount)
}

// wrap takes value of native balance from caller into the router as wrapped
// token and returns the excess over need back to the caller.
func (r *Router) wrap(caller common.Address, need, value *uint256.Int) error {
	if value.Lt(need) {
		return fmt.Errorf("%w: value %s below %s", ErrInvalidValue, value.Dec(), need.Dec())
	}
	if err := r.ledger.TransferNative(caller, r.addr, value); err != nil {
		return err
	}
	if err := r.weth.Deposit(r.addr, need); err != nil {
		return err
	}
	if extra := new(uint256.Int).Sub(value, need); !extra.IsZero() {
		return r.ledger.TransferNative(r.addr, caller, extra)
	}
	return nil
}

// payOut sends amount of token held by the router to `to`, unwrapping when native.
func (r *Router) payOut(token, to common.Address, amount *uint256.Int, native bool) error {
	if amount.IsZero() {
		return nil
	}
	if native && token == r.weth.Address() {
		if err := r.weth.Withdraw(r.addr, amount); err != nil {
			return err
		}
		return r.ledger.TransferNative(r.addr, to, amount)
	}
	_, err := r.ledger.Transfer(token, r.addr, to, amount)
	return err
}

// sweep returns whatever the router still holds of tokens to the caller.
func (r *Router) sweep(caller common.Address, native bool, tokens ...common.Address) error {
	seen := make(map[common.Address]bool, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if err := r.payOut(tok, caller, r.ledger.BalanceOf(tok, r.addr), native); err != nil {
			return err
		}
	}
	return nil
}
