package dex

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/market"
)

// SwapResult reports one taker swap. AmountIn is the input actually used
// including Fee; Refund is the delivered input returned to the caller because
// depth ran out.
type SwapResult struct {
	BookID    uint64
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Fee       *uint256.Int
	Refund    *uint256.Int
}

type levelFill struct {
	price *uint256.Int
	fill  *uint256.Int // maker notional taken
	use   *uint256.Int // net taker input spent on it
}

// takerQuote is the outcome of walking a book with a gross input.
type takerQuote struct {
	fills   []levelFill
	out     *uint256.Int
	usedNet *uint256.Int
	gross   *uint256.Int
	fee     *uint256.Int
	refund  *uint256.Int
}

// walk consumes levels in ascending price order with net input. A level the
// remainder cannot buy a single unit of absorbs the remainder as dust.
func (e *Engine) walk(book uint64, net *uint256.Int) ([]levelFill, *uint256.Int, *uint256.Int, error) {
	var (
		fills []levelFill
		err   error
	)
	left := net.Clone()
	out := fixed.Zero()
	scale := e.cfg.Scale
	e.levels.Ascend(book, func(price, depth *uint256.Int) bool {
		if left.IsZero() {
			return false
		}
		var cost *uint256.Int
		if cost, err = fixed.MulDivUp(depth, price, scale); err != nil {
			return false
		}
		if !left.Lt(cost) {
			fills = append(fills, levelFill{price: price, fill: depth, use: cost})
			left.Sub(left, cost)
			out.Add(out, depth)
			return true
		}
		var fill *uint256.Int
		if fill, err = fixed.MulDiv(left, scale, price); err != nil {
			return false
		}
		fills = append(fills, levelFill{price: price, fill: fill, use: left.Clone()})
		out.Add(out, fill)
		left.Clear()
		return false
	})
	return fills, out, left, err
}

func (e *Engine) quoteOut(book uint64, amountIn *uint256.Int) (takerQuote, error) {
	feeTotal := fixed.Bps(amountIn, e.cfg.TakerFeeBps)
	net := new(uint256.Int).Sub(amountIn, feeTotal)
	fills, out, left, err := e.walk(book, net)
	if err != nil {
		return takerQuote{}, err
	}
	q := takerQuote{fills: fills, out: out, usedNet: new(uint256.Int).Sub(net, left)}
	if left.IsZero() {
		q.gross, q.fee, q.refund = amountIn.Clone(), feeTotal, fixed.Zero()
		return q, nil
	}
	// depth ran out: charge the fee on the used part only
	gross, err := fixed.MulDiv(q.usedNet, fixed.New(fixed.BpsDenominator), fixed.New(fixed.BpsDenominator-e.cfg.TakerFeeBps))
	if err != nil {
		return takerQuote{}, err
	}
	q.gross = fixed.Min(gross, amountIn)
	q.fee = new(uint256.Int).Sub(q.gross, q.usedNet)
	q.refund = new(uint256.Int).Sub(amountIn, q.gross)
	return q, nil
}

// CalcOutAmount quotes a swap of amountIn tokenIn for tokenOut against the
// book. unfilled is the part of amountIn the book cannot take; it equals
// amountIn when the pair or its liquidity does not exist.
func (e *Engine) CalcOutAmount(tokenIn, tokenOut common.Address, amountIn *uint256.Int) (amountOut, unfilled *uint256.Int, err error) {
	book, err := e.pairs.GetPairID(tokenOut, tokenIn)
	if errors.Is(err, market.ErrPairNotFound) {
		return fixed.Zero(), amountIn.Clone(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if amountIn.IsZero() {
		return fixed.Zero(), fixed.Zero(), nil
	}
	q, err := e.quoteOut(book, amountIn)
	if err != nil {
		return nil, nil, err
	}
	return q.out, q.refund, nil
}

// CalcInAmount quotes the tokenIn needed to buy desiredOut of tokenOut from
// the book. unfilled is the part of desiredOut the book cannot supply.
func (e *Engine) CalcInAmount(tokenIn, tokenOut common.Address, desiredOut *uint256.Int) (amountIn, unfilled *uint256.Int, err error) {
	book, err := e.pairs.GetPairID(tokenOut, tokenIn)
	if errors.Is(err, market.ErrPairNotFound) {
		return fixed.Zero(), desiredOut.Clone(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	scale := e.cfg.Scale
	left := desiredOut.Clone()
	net := fixed.Zero()
	e.levels.Ascend(book, func(price, depth *uint256.Int) bool {
		if left.IsZero() {
			return false
		}
		want := fixed.Min(left, depth)
		var cost *uint256.Int
		if cost, err = fixed.MulDivUp(want, price, scale); err != nil {
			return false
		}
		if net, err = fixed.Add(net, cost); err != nil {
			return false
		}
		left.Sub(left, want)
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	amountIn, err = fixed.MulDiv(net, fixed.New(fixed.BpsDenominator), fixed.New(fixed.BpsDenominator-e.cfg.TakerFeeBps))
	if err != nil {
		return nil, nil, err
	}
	return amountIn, left, nil
}

// Swap fills the tokenIn delivered to the engine since the last call against
// makers selling tokenOut, pays the output to `to` and refunds unusable input
// to caller. With unwrap set a wrapped native output is paid as native.
func (e *Engine) Swap(caller common.Address, tokenIn, tokenOut, to common.Address, unwrap bool) (SwapResult, error) {
	return atomic(e.j, func() (SwapResult, error) {
		return e.swap(caller, tokenIn, tokenOut, to, unwrap)
	})
}

func (e *Engine) swap(caller common.Address, tokenIn, tokenOut, to common.Address, unwrap bool) (SwapResult, error) {
	delivered, err := fixed.Sub(e.ledger.BalanceOf(tokenIn, e.addr), e.Accounted(tokenIn))
	if err != nil || delivered.IsZero() {
		return SwapResult{}, ErrInsufficientInputAmount
	}
	book, err := e.pairs.GetPairID(tokenOut, tokenIn)
	if errors.Is(err, market.ErrPairNotFound) {
		return SwapResult{}, fmt.Errorf("%w: %s/%s", ErrNoLiquidity, tokenIn.Hex(), tokenOut.Hex())
	}
	if err != nil {
		return SwapResult{}, err
	}
	if _, ok := e.levels.Best(book); !ok {
		return SwapResult{}, fmt.Errorf("%w: book %d", ErrNoLiquidity, book)
	}
	q, err := e.quoteOut(book, delivered)
	if err != nil {
		return SwapResult{}, err
	}
	if q.out.IsZero() {
		return SwapResult{}, ErrInsufficientOutputAmount
	}
	if err := e.credit(tokenIn, delivered); err != nil {
		return SwapResult{}, err
	}

	protocol := fixed.Zero()
	for _, f := range q.fills {
		if f.fill.IsZero() {
			continue
		}
		levelFee, err := fixed.MulDiv(q.fee, f.use, q.usedNet)
		if err != nil {
			return SwapResult{}, err
		}
		share := fixed.Zero()
		if e.cfg.FeeRecipient != (common.Address{}) {
			share = fixed.Bps(levelFee, e.cfg.ProtocolFeeShareBps)
		}
		makerFee := new(uint256.Int).Sub(levelFee, share)
		idx, err := e.levels.RecordFill(book, f.price, f.fill, makerFee)
		if err != nil {
			return SwapResult{}, err
		}
		protocol.Add(protocol, share)
		e.emit(Event{Kind: EventFill, BookID: book, Price: f.price, AmountIn: f.use, AmountOut: f.fill, Fee: makerFee, Index: idx})
	}
	if !protocol.IsZero() {
		if _, err := e.pay(e.cfg.FeeRecipient, tokenIn, protocol, false); err != nil {
			return SwapResult{}, err
		}
	}
	if !q.refund.IsZero() {
		if _, err := e.pay(caller, tokenIn, q.refund, false); err != nil {
			return SwapResult{}, err
		}
	}
	paid, err := e.pay(to, tokenOut, q.out, unwrap)
	if err != nil {
		return SwapResult{}, err
	}

	res := SwapResult{BookID: book, AmountIn: q.gross, AmountOut: paid, Fee: q.fee, Refund: q.refund}
	e.emit(Event{Kind: EventSwap, BookID: book, Owner: caller, TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: q.gross, AmountOut: paid, Fee: q.fee})
	e.log.Debug("swap",
		zap.Uint64("book", book),
		zap.String("in", q.gross.Dec()),
		zap.String("out", paid.Dec()),
		zap.String("fee", q.fee.Dec()),
		zap.Int("levels", len(q.fills)))
	return res, nil
}
