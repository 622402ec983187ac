package router

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/amm"
	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
)

// ExactInput swaps amountIn of path[0] along path and delivers at least
// amountOutMin of the last token to `to`. The returned amounts are the
// planned ones with the last entry replaced by what `to` actually received.
func (r *Router) ExactInput(caller common.Address, value, amountIn, amountOutMin *uint256.Int, path []common.Address, to common.Address, deadline int64) ([]*uint256.Int, error) {
	var amounts []*uint256.Int
	if value == nil {
		value = fixed.Zero()
	}
	err := r.j.Atomic(func() error {
		if err := r.ensure(deadline); err != nil {
			return err
		}
		q, err := r.GetAmountsOut(amountIn, path, to)
		if err != nil {
			return err
		}
		last := len(q.Amounts) - 1
		if q.Amounts[last].Lt(amountOutMin) {
			return fmt.Errorf("%w: quoted %s below %s", ErrInsufficientOutputAmount, q.Amounts[last].Dec(), amountOutMin.Dec())
		}
		if path[0] == asset.NativeAddress && !value.Eq(amountIn) {
			return fmt.Errorf("%w: value %s amount %s", ErrInvalidValue, value.Dec(), amountIn.Dec())
		}
		out, err := r.run(caller, value, q, path, to, false)
		if err != nil {
			return err
		}
		if out.Lt(amountOutMin) {
			return fmt.Errorf("%w: received %s below %s", ErrInsufficientOutputAmount, out.Dec(), amountOutMin.Dec())
		}
		q.Amounts[last] = out
		amounts = q.Amounts
		r.log.Debug("router_exact_input",
			zap.String("caller", caller.Hex()),
			zap.String("in", amountIn.Dec()),
			zap.String("out", out.Dec()),
			zap.Int("hops", len(q.Hops)))
		return nil
	})
	return amounts, err
}

// ExactOutput buys amountOut of the last path token for at most amountInMax
// of path[0]. Native input may over-pay through value; the excess is returned.
func (r *Router) ExactOutput(caller common.Address, value, amountOut, amountInMax *uint256.Int, path []common.Address, to common.Address, deadline int64) ([]*uint256.Int, error) {
	return r.exactOutput(caller, value, amountOut, amountInMax, path, to, deadline, false)
}

// ExactOutputSupportingFeeOnTransferTokens is ExactOutput for tokens that
// charge on transfer: every leg is re-measured after each transfer and the
// pool legs are re-priced from what they actually received. The output is
// not guaranteed to reach amountOut.
func (r *Router) ExactOutputSupportingFeeOnTransferTokens(caller common.Address, value, amountOut, amountInMax *uint256.Int, path []common.Address, to common.Address, deadline int64) ([]*uint256.Int, error) {
	return r.exactOutput(caller, value, amountOut, amountInMax, path, to, deadline, true)
}

func (r *Router) exactOutput(caller common.Address, value, amountOut, amountInMax *uint256.Int, path []common.Address, to common.Address, deadline int64, measured bool) ([]*uint256.Int, error) {
	var amounts []*uint256.Int
	err := r.j.Atomic(func() error {
		if err := r.ensure(deadline); err != nil {
			return err
		}
		q, err := r.GetAmountsIn(amountOut, path, to)
		if err != nil {
			return err
		}
		if q.Amounts[0].Gt(amountInMax) {
			return fmt.Errorf("%w: needs %s above %s", ErrExcessiveInputAmount, q.Amounts[0].Dec(), amountInMax.Dec())
		}
		out, err := r.run(caller, value, q, path, to, measured)
		if err != nil {
			return err
		}
		if !measured && out.Lt(amountOut) {
			return fmt.Errorf("%w: received %s below %s", ErrInsufficientOutputAmount, out.Dec(), amountOut.Dec())
		}
		if out.IsZero() {
			return ErrInsufficientOutputAmount
		}
		last := len(q.Amounts) - 1
		q.Amounts[last] = out
		amounts = q.Amounts
		r.log.Debug("router_exact_output",
			zap.String("caller", caller.Hex()),
			zap.String("in", q.Amounts[0].Dec()),
			zap.String("out", out.Dec()),
			zap.Bool("measured", measured))
		return nil
	})
	return amounts, err
}

// run funds and executes a planned route for caller, then returns leftovers.
func (r *Router) run(caller common.Address, value *uint256.Int, q Quote, path []common.Address, to common.Address, measured bool) (*uint256.Int, error) {
	nativeIn := path[0] == asset.NativeAddress
	nativeOut := path[len(path)-1] == asset.NativeAddress
	if value == nil {
		value = fixed.Zero()
	}
	payer := caller
	switch {
	case nativeIn:
		if err := r.wrap(caller, q.Amounts[0], value); err != nil {
			return nil, err
		}
		payer = r.addr
	case !value.IsZero():
		return nil, fmt.Errorf("%w: value sent with token input", ErrInvalidValue)
	}
	out, err := r.execute(payer, q, to, nativeOut, measured)
	if err != nil {
		return nil, err
	}
	tokens := make([]common.Address, 0, len(q.Hops)+1)
	for _, h := range q.Hops {
		tokens = append(tokens, h.TokenIn, h.TokenOut)
	}
	if err := r.sweep(caller, nativeIn, tokens...); err != nil {
		return nil, err
	}
	return out, nil
}

// execute moves the planned amounts through every hop. Hop 0 is funded by the
// payer directly into its sources; intermediate outputs collect at the router
// and are forwarded to the next hop's sources. The last hop pays `to`, or the
// router when the output is unwrapped.
func (r *Router) execute(payer common.Address, q Quote, to common.Address, unwrap, measured bool) (*uint256.Int, error) {
	last := len(q.Hops) - 1
	final := q.Hops[last].TokenOut
	dest := to
	if unwrap {
		dest = r.addr
	}
	before := fixed.Zero()

	bookIn, err := r.fund(payer, q.Hops[0].TokenIn, r.dex.Address(), q.Hops[0].BookIn)
	if err != nil {
		return nil, err
	}
	ammIn, err := r.fund(payer, q.Hops[0].TokenIn, q.Hops[0].Pair, q.Hops[0].AMMIn)
	if err != nil {
		return nil, err
	}
	for i, h := range q.Hops {
		hopDest := r.addr
		if i == last {
			hopDest = dest
			before = r.ledger.BalanceOf(final, dest)
		}
		held := r.ledger.BalanceOf(h.TokenOut, r.addr)
		if err := r.hop(h, bookIn, ammIn, hopDest, measured); err != nil {
			return nil, fmt.Errorf("hop %d %s -> %s: %w", i, h.TokenIn.Hex(), h.TokenOut.Hex(), err)
		}
		if i == last {
			break
		}
		avail, err := fixed.Sub(r.ledger.BalanceOf(h.TokenOut, r.addr), held)
		if err != nil {
			return nil, err
		}
		if bookIn, ammIn, err = r.forward(q.Hops[i+1], avail, measured); err != nil {
			return nil, err
		}
	}

	got, err := fixed.Sub(r.ledger.BalanceOf(final, dest), before)
	if err != nil {
		return nil, err
	}
	if unwrap {
		if err := r.payOut(final, to, got, true); err != nil {
			return nil, err
		}
	}
	return got, nil
}

// forward sends the router's output of the previous hop into the sources of
// h. Planned amounts are sent as quoted; measured routing splits whatever
// arrived, book first.
func (r *Router) forward(h Hop, avail *uint256.Int, measured bool) (*uint256.Int, *uint256.Int, error) {
	bookAmt, ammAmt := h.BookIn, h.AMMIn
	if measured {
		bookAmt = fixed.Min(h.BookIn, avail)
		ammAmt = new(uint256.Int).Sub(avail, bookAmt)
		if !h.usesAMM() {
			bookAmt, ammAmt = avail.Clone(), fixed.Zero()
		}
	} else if avail.Lt(h.In()) {
		return nil, nil, fmt.Errorf("%w: hop received %s, needs %s", ErrInsufficientOutputAmount, avail.Dec(), h.In().Dec())
	}
	bookIn, err := r.fund(r.addr, h.TokenIn, r.dex.Address(), bookAmt)
	if err != nil {
		return nil, nil, err
	}
	ammIn, err := r.fund(r.addr, h.TokenIn, h.Pair, ammAmt)
	if err != nil {
		return nil, nil, err
	}
	return bookIn, ammIn, nil
}

// hop runs the book leg then the pool leg of h with the inputs already delivered.
func (r *Router) hop(h Hop, bookIn, ammIn *uint256.Int, dest common.Address, measured bool) error {
	if !bookIn.IsZero() {
		if _, err := r.dex.Swap(r.addr, h.TokenIn, h.TokenOut, dest, false); err != nil {
			return err
		}
	}
	if ammIn.IsZero() {
		return nil
	}
	p, ok := r.factory.GetPair(h.TokenIn, h.TokenOut)
	if !ok {
		return fmt.Errorf("%w: no pool for %s/%s", ErrInsufficientLiquidity, h.TokenIn.Hex(), h.TokenOut.Hex())
	}
	out := h.AMMOut
	if measured {
		reserveIn, reserveOut := p.ReservesFor(h.TokenIn)
		quoted, err := amm.GetAmountOut(ammIn, reserveIn, reserveOut)
		if err != nil {
			return err
		}
		out = fixed.Min(out, quoted)
	}
	return p.SwapExact(h.TokenOut, out, dest)
}
