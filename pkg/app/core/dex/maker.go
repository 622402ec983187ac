package dex

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/market"
	"github.com/uhyunpark/stakedex/pkg/app/core/position"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

func atomic[T any](j *state.Journal, fn func() (T, error)) (T, error) {
	var out T
	err := j.Atomic(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (e *Engine) wethAddr() common.Address {
	if e.weth == nil {
		return common.Address{}
	}
	return e.weth.Address()
}

// Mint opens a position selling amountIn of tokenIn at the price implied by
// amountOut/amountIn. The pair is created on first use.
func (e *Engine) Mint(caller common.Address, tokenIn, tokenOut asset.Token, amountIn, amountOut, value *uint256.Int) (uint64, error) {
	return atomic(e.j, func() (uint64, error) {
		return e.mint(caller, tokenIn, tokenOut, amountIn, amountOut, value)
	})
}

func (e *Engine) mint(caller common.Address, tokenIn, tokenOut asset.Token, amountIn, amountOut, value *uint256.Int) (uint64, error) {
	if amountIn.IsZero() || amountOut.IsZero() {
		return 0, ErrZeroAmount
	}
	in, out := tokenIn.Resolve(e.wethAddr()), tokenOut.Resolve(e.wethAddr())
	price, err := fixed.DerivePrice(amountOut, amountIn, e.cfg.Scale)
	if err != nil {
		return 0, err
	}
	if price.IsZero() {
		return 0, ErrZeroPrice
	}
	pair, err := e.pairs.GetPair(in, out)
	if errors.Is(err, market.ErrPairNotFound) {
		pair, err = e.createPair(in, out)
	}
	if err != nil {
		return 0, err
	}
	book := pair.BookID(in)

	received, err := e.pull(caller, tokenIn, amountIn, value)
	if err != nil {
		return 0, err
	}
	if err := e.levels.AddDepth(book, price, received); err != nil {
		return 0, err
	}
	id, err := e.positions.Mint(position.Position{
		Owner:       caller,
		BookID:      book,
		TokenIn:     in,
		TokenOut:    out,
		Price:       price,
		PendingIn:   received,
		LastSettled: e.levels.LatestIndex(book, price),
		Filled:      fixed.Zero(),
		FeeRewarded: fixed.Zero(),
		Native:      tokenIn.IsNative() || tokenOut.IsNative(),
	})
	if err != nil {
		return 0, err
	}
	e.emit(Event{Kind: EventMint, BookID: book, Position: id, Owner: caller, TokenIn: in, TokenOut: out, Price: price, AmountIn: received})
	e.log.Debug("position_minted",
		zap.Uint64("position", id),
		zap.Uint64("book", book),
		zap.String("price", price.Dec()),
		zap.String("amount", received.Dec()))
	return id, nil
}

// IncreasePosition settles, pays out realized proceeds and adds extraIn.
// It returns the proceeds paid.
func (e *Engine) IncreasePosition(caller common.Address, id uint64, extraIn, value *uint256.Int) (*uint256.Int, error) {
	return atomic(e.j, func() (*uint256.Int, error) {
		if extraIn.IsZero() {
			return nil, ErrZeroAmount
		}
		p, err := e.positions.Authorize(caller, id)
		if err != nil {
			return nil, err
		}
		p = e.settle(p)
		paid, err := e.payProceeds(&p)
		if err != nil {
			return nil, err
		}
		token := asset.ERC20(p.TokenIn)
		if p.Native && p.TokenIn == e.wethAddr() {
			token = asset.Native()
		}
		received, err := e.pull(caller, token, extraIn, value)
		if err != nil {
			return nil, err
		}
		if err := e.levels.AddDepth(p.BookID, p.Price, received); err != nil {
			return nil, err
		}
		p.PendingIn = new(uint256.Int).Add(p.PendingIn, received)
		if err := e.positions.Put(p); err != nil {
			return nil, err
		}
		e.emit(Event{Kind: EventIncrease, BookID: p.BookID, Position: id, Owner: caller, Price: p.Price, AmountIn: received, AmountOut: paid})
		return paid, nil
	})
}

// DecreasePosition settles, pays out realized proceeds and returns up to
// amountIn of the pending notional. It returns the notional released.
func (e *Engine) DecreasePosition(caller common.Address, id uint64, amountIn *uint256.Int) (*uint256.Int, error) {
	return atomic(e.j, func() (*uint256.Int, error) {
		if amountIn.IsZero() {
			return nil, ErrZeroAmount
		}
		p, err := e.positions.Authorize(caller, id)
		if err != nil {
			return nil, err
		}
		p = e.settle(p)
		paid, err := e.payProceeds(&p)
		if err != nil {
			return nil, err
		}
		removed := fixed.Min(amountIn, p.PendingIn)
		// pending may exceed depth by settlement dust
		cut := fixed.Min(removed, e.levels.Depth(p.BookID, p.Price))
		if !cut.IsZero() {
			if err := e.levels.RemoveDepth(p.BookID, p.Price, cut); err != nil {
				return nil, err
			}
		}
		p.PendingIn = new(uint256.Int).Sub(p.PendingIn, removed)
		if err := e.positions.Put(p); err != nil {
			return nil, err
		}
		released, err := e.pay(p.Owner, p.TokenIn, removed, p.Native)
		if err != nil {
			return nil, err
		}
		e.emit(Event{Kind: EventDecrease, BookID: p.BookID, Position: id, Owner: caller, Price: p.Price, AmountIn: released, AmountOut: paid})
		return released, nil
	})
}

// Burn pays out everything and destroys the position. It fails with
// ErrPositionNotEmpty while any notional is pending.
func (e *Engine) Burn(caller common.Address, id uint64) (*uint256.Int, error) {
	return atomic(e.j, func() (*uint256.Int, error) {
		p, err := e.positions.Authorize(caller, id)
		if err != nil {
			return nil, err
		}
		p = e.settle(p)
		if !p.PendingIn.IsZero() {
			return nil, ErrPositionNotEmpty
		}
		paid, err := e.payProceeds(&p)
		if err != nil {
			return nil, err
		}
		if err := e.positions.Burn(id); err != nil {
			return nil, err
		}
		e.emit(Event{Kind: EventBurn, BookID: p.BookID, Position: id, Owner: caller, Price: p.Price, AmountOut: paid})
		return paid, nil
	})
}

// Redeem pays out realized proceeds and leaves pending notional in place.
func (e *Engine) Redeem(caller common.Address, id uint64) (*uint256.Int, error) {
	return atomic(e.j, func() (*uint256.Int, error) {
		p, err := e.positions.Authorize(caller, id)
		if err != nil {
			return nil, err
		}
		p = e.settle(p)
		paid, err := e.payProceeds(&p)
		if err != nil {
			return nil, err
		}
		if err := e.positions.Put(p); err != nil {
			return nil, err
		}
		e.emit(Event{Kind: EventRedeem, BookID: p.BookID, Position: id, Owner: caller, Price: p.Price, AmountOut: paid})
		return paid, nil
	})
}

// TransferPosition hands ownership of a position to another account.
func (e *Engine) TransferPosition(caller, to common.Address, id uint64) error {
	return e.j.Atomic(func() error {
		return e.positions.Transfer(caller, to, id)
	})
}

func (e *Engine) settle(p position.Position) position.Position {
	return p.Settle(
		e.levels.CheckpointsSince(p.BookID, p.Price, p.LastSettled),
		e.levels.LatestIndex(p.BookID, p.Price),
	)
}

func (e *Engine) payProceeds(p *position.Position) (*uint256.Int, error) {
	owed := p.Proceeds(e.cfg.Scale)
	p.Filled = fixed.Zero()
	p.FeeRewarded = fixed.Zero()
	return e.pay(p.Owner, p.TokenOut, owed, p.Native)
}
