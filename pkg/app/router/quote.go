package router

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/amm"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
)

// Hop is the planned split of one path step. BookIn and AMMIn are the
// tokenIn amounts sent to each source; Pair is zero when the pool takes no part.
type Hop struct {
	TokenIn  common.Address `json:"tokenIn"`
	TokenOut common.Address `json:"tokenOut"`
	BookIn   *uint256.Int   `json:"bookIn"`
	BookOut  *uint256.Int   `json:"bookOut"`
	AMMIn    *uint256.Int   `json:"ammIn"`
	AMMOut   *uint256.Int   `json:"ammOut"`
	Pair     common.Address `json:"pair"`
}

func (h Hop) In() *uint256.Int  { return new(uint256.Int).Add(h.BookIn, h.AMMIn) }
func (h Hop) Out() *uint256.Int { return new(uint256.Int).Add(h.BookOut, h.AMMOut) }

func (h Hop) usesBook() bool { return !h.BookIn.IsZero() }
func (h Hop) usesAMM() bool  { return !h.AMMIn.IsZero() }

// Quote is a planned route. Amounts[i] is the amount of path[i] moving
// through the route, Recipients[i] the address that receives it and
// Unfilled[i] the part of hop i the book leaves to the pool.
type Quote struct {
	Amounts    []*uint256.Int   `json:"amounts"`
	Recipients []common.Address `json:"recipients"`
	Unfilled   []*uint256.Int   `json:"unfilled"`
	Hops       []Hop            `json:"hops"`
}

func newQuote(n int) Quote {
	return Quote{
		Amounts:    make([]*uint256.Int, n),
		Recipients: make([]common.Address, n),
		Unfilled:   make([]*uint256.Int, n-1),
		Hops:       make([]Hop, n-1),
	}
}

// source is the address that must receive the hop's input. When both sources
// take part the book is named; the pool leg is funded separately.
func (r *Router) source(h Hop) common.Address {
	if h.usesBook() {
		return r.dex.Address()
	}
	return h.Pair
}

func (r *Router) finish(q *Quote, recipient common.Address) {
	for i, h := range q.Hops {
		q.Recipients[i] = r.source(h)
		q.Unfilled[i] = h.AMMIn.Clone()
	}
	q.Recipients[len(q.Recipients)-1] = recipient
}

// GetAmountsOut plans an exact-input route over path.
func (r *Router) GetAmountsOut(amountIn *uint256.Int, path []common.Address, recipient common.Address) (Quote, error) {
	tokens, err := r.resolve(path)
	if err != nil {
		return Quote{}, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return Quote{}, ErrZeroAmount
	}
	q := newQuote(len(tokens))
	q.Amounts[0] = amountIn.Clone()
	for i := 0; i < len(tokens)-1; i++ {
		h, err := r.hopOut(tokens[i], tokens[i+1], q.Amounts[i])
		if err != nil {
			return Quote{}, err
		}
		q.Hops[i] = h
		q.Amounts[i+1] = h.Out()
	}
	r.finish(&q, recipient)
	return q, nil
}

// GetAmountsIn plans an exact-output route over path, walking it backwards.
func (r *Router) GetAmountsIn(amountOut *uint256.Int, path []common.Address, recipient common.Address) (Quote, error) {
	tokens, err := r.resolve(path)
	if err != nil {
		return Quote{}, err
	}
	if amountOut == nil || amountOut.IsZero() {
		return Quote{}, ErrZeroAmount
	}
	q := newQuote(len(tokens))
	q.Amounts[len(tokens)-1] = amountOut.Clone()
	for i := len(tokens) - 2; i >= 0; i-- {
		h, err := r.hopIn(tokens[i], tokens[i+1], q.Amounts[i+1])
		if err != nil {
			return Quote{}, err
		}
		q.Hops[i] = h
		q.Amounts[i] = h.In()
	}
	r.finish(&q, recipient)
	return q, nil
}

// hopOut splits amount of tokenIn: the book takes what it can, the pool the rest.
func (r *Router) hopOut(tokenIn, tokenOut common.Address, amount *uint256.Int) (Hop, error) {
	bookOut, unfilled, err := r.dex.CalcOutAmount(tokenIn, tokenOut, amount)
	if err != nil {
		return Hop{}, err
	}
	h := Hop{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		BookIn:   new(uint256.Int).Sub(amount, unfilled),
		BookOut:  bookOut,
		AMMIn:    unfilled,
		AMMOut:   fixed.Zero(),
	}
	if bookOut.IsZero() {
		// too small to buy a unit on the book: route it all to the pool
		h.BookIn, h.AMMIn = fixed.Zero(), amount.Clone()
	}
	if h.usesAMM() {
		pair, reserveIn, reserveOut, err := r.pool(tokenIn, tokenOut)
		if err != nil {
			return Hop{}, err
		}
		out, err := amm.GetAmountOut(h.AMMIn, reserveIn, reserveOut)
		if err != nil || out.IsZero() {
			return Hop{}, fmt.Errorf("%w: pool %s returns nothing", ErrInsufficientLiquidity, pair.Hex())
		}
		h.Pair, h.AMMOut = pair, out
	}
	if h.Out().IsZero() {
		return Hop{}, fmt.Errorf("%w: %s -> %s", ErrInsufficientLiquidity, tokenIn.Hex(), tokenOut.Hex())
	}
	return h, nil
}

// hopIn prices want of tokenOut: the book supplies what it holds, the pool the rest.
func (r *Router) hopIn(tokenIn, tokenOut common.Address, want *uint256.Int) (Hop, error) {
	bookIn, unfilled, err := r.dex.CalcInAmount(tokenIn, tokenOut, want)
	if err != nil {
		return Hop{}, err
	}
	h := Hop{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		BookIn:   bookIn,
		BookOut:  new(uint256.Int).Sub(want, unfilled),
		AMMIn:    fixed.Zero(),
		AMMOut:   unfilled,
	}
	if h.BookOut.IsZero() {
		h.BookIn = fixed.Zero()
	}
	if !unfilled.IsZero() {
		pair, reserveIn, reserveOut, err := r.pool(tokenIn, tokenOut)
		if err != nil {
			return Hop{}, err
		}
		in, err := amm.GetAmountIn(unfilled, reserveIn, reserveOut)
		if err != nil {
			return Hop{}, fmt.Errorf("%w: pool %s cannot supply %s", ErrInsufficientLiquidity, pair.Hex(), unfilled.Dec())
		}
		h.Pair, h.AMMIn = pair, in
	}
	if h.In().IsZero() {
		return Hop{}, fmt.Errorf("%w: %s -> %s", ErrInsufficientLiquidity, tokenIn.Hex(), tokenOut.Hex())
	}
	return h, nil
}

// pool returns the pair for the hop and its reserves oriented to tokenIn.
func (r *Router) pool(tokenIn, tokenOut common.Address) (common.Address, *uint256.Int, *uint256.Int, error) {
	p, ok := r.factory.GetPair(tokenIn, tokenOut)
	if !ok {
		return common.Address{}, nil, nil, fmt.Errorf("%w: no pool for %s/%s", ErrInsufficientLiquidity, tokenIn.Hex(), tokenOut.Hex())
	}
	reserveIn, reserveOut := p.ReservesFor(tokenIn)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return common.Address{}, nil, nil, fmt.Errorf("%w: empty pool %s", ErrInsufficientLiquidity, p.Address().Hex())
	}
	return p.Address(), reserveIn, reserveOut, nil
}

// IsLiquidityError reports whether err means the route could not be filled.
func IsLiquidityError(err error) bool {
	return errors.Is(err, ErrInsufficientLiquidity) || errors.Is(err, amm.ErrInsufficientLiquidity)
}
