package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
)

type result map[string]any

// dispatch decodes the payload of tx and runs it for sender. It runs inside a
// journal snapshot; any error reverts every mutation it made.
func (a *App) dispatch(sender common.Address, tx *transaction.SignedTransaction) (any, error) {
	deadline := tx.RouterDeadline()
	switch tx.Kind {
	case transaction.KindRegisterToken:
		var p transaction.RegisterTokenPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		if p.Token == (common.Address{}) || p.Token == asset.NativeAddress {
			return nil, fmt.Errorf("%w: token address %s", transaction.ErrMalformed, p.Token.Hex())
		}
		meta := asset.Meta{Name: p.Name, Symbol: p.Symbol, Decimals: p.Decimals, TransferFeeBps: p.TransferFeeBps}
		return nil, a.ledger.Register(p.Token, meta)

	case transaction.KindFaucet:
		var p transaction.FaucetPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		amt, err := transaction.Amount("amount", p.Amount)
		if err != nil {
			return nil, err
		}
		if p.Token == asset.NativeAddress {
			return nil, a.ledger.MintNative(p.To, amt)
		}
		return nil, a.ledger.Mint(p.Token, p.To, amt)

	case transaction.KindSetFeeTo:
		var p transaction.SetFeeToPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		return nil, a.factory.SetFeeTo(sender, p.FeeTo)

	case transaction.KindCreatePair:
		var p transaction.CreatePairPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		pair, err := a.dex.CreatePair(p.TokenA, p.TokenB)
		if err != nil {
			return nil, err
		}
		res := result{"pair": pair.Index, "books": []uint64{pair.BookID(pair.Token0), pair.BookID(pair.Token1)}}
		if _, ok := a.factory.GetPair(pair.Token0, pair.Token1); !ok {
			pool, err := a.factory.CreatePair(pair.Token0, pair.Token1)
			if err != nil {
				return nil, err
			}
			res["pool"] = pool.Address()
		}
		return res, nil

	case transaction.KindMint:
		var p transaction.MintPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		v, err := transaction.Amounts("amountIn", p.AmountIn, "amountOut", p.AmountOut, "value", p.Value)
		if err != nil {
			return nil, err
		}
		id, err := a.dex.Mint(sender, asset.ParseToken(p.TokenIn), asset.ParseToken(p.TokenOut), v[0], v[1], v[2])
		if err != nil {
			return nil, err
		}
		return result{"position": id}, nil

	case transaction.KindIncreasePosition:
		var p transaction.IncreasePositionPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		v, err := transaction.Amounts("amountIn", p.AmountIn, "value", p.Value)
		if err != nil {
			return nil, err
		}
		paid, err := a.dex.IncreasePosition(sender, p.Position, v[0], v[1])
		if err != nil {
			return nil, err
		}
		return result{"position": p.Position, "proceeds": dec(paid)}, nil

	case transaction.KindDecreasePosition:
		var p transaction.DecreasePositionPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		amt, err := transaction.Amount("amountIn", p.AmountIn)
		if err != nil {
			return nil, err
		}
		out, err := a.dex.DecreasePosition(sender, p.Position, amt)
		if err != nil {
			return nil, err
		}
		return result{"position": p.Position, "returned": dec(out)}, nil

	case transaction.KindBurn, transaction.KindRedeem:
		var p transaction.PositionPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		var (
			out *uint256.Int
			err error
		)
		if tx.Kind == transaction.KindBurn {
			out, err = a.dex.Burn(sender, p.Position)
		} else {
			out, err = a.dex.Redeem(sender, p.Position)
		}
		if err != nil {
			return nil, err
		}
		return result{"position": p.Position, "paid": dec(out)}, nil

	case transaction.KindTransferPosition:
		var p transaction.TransferPositionPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		return nil, a.dex.TransferPosition(sender, p.To, p.Position)

	case transaction.KindAddLiquidity:
		var p transaction.AddLiquidityPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		v, err := transaction.Amounts(
			"amountADesired", p.AmountADesired, "amountBDesired", p.AmountBDesired,
			"amountAMin", p.AmountAMin, "amountBMin", p.AmountBMin, "value", p.Value)
		if err != nil {
			return nil, err
		}
		res, err := a.router.AddLiquidity(sender, v[4], p.TokenA, p.TokenB, v[0], v[1], v[2], v[3], p.To, deadline)
		if err != nil {
			return nil, err
		}
		return result{"amountA": dec(res.AmountA), "amountB": dec(res.AmountB), "liquidity": dec(res.Liquidity)}, nil

	case transaction.KindRemoveLiquidity:
		var p transaction.RemoveLiquidityPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		v, err := transaction.Amounts("liquidity", p.Liquidity, "amountAMin", p.AmountAMin, "amountBMin", p.AmountBMin)
		if err != nil {
			return nil, err
		}
		amountA, amountB, err := a.router.RemoveLiquidity(sender, p.TokenA, p.TokenB, v[0], v[1], v[2], p.To, deadline, p.ReceiveNative)
		if err != nil {
			return nil, err
		}
		return result{"amountA": dec(amountA), "amountB": dec(amountB)}, nil

	case transaction.KindApprove:
		var p transaction.ApprovePayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		amt, err := transaction.Amount("amount", p.Amount)
		if err != nil {
			return nil, err
		}
		return nil, a.ledger.Approve(p.Token, sender, p.Spender, amt)

	case transaction.KindTransfer:
		var p transaction.TransferPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		amt, err := transaction.Amount("amount", p.Amount)
		if err != nil {
			return nil, err
		}
		if p.Token == asset.NativeAddress {
			return result{"received": dec(amt)}, a.ledger.TransferNative(sender, p.To, amt)
		}
		got, err := a.ledger.Transfer(p.Token, sender, p.To, amt)
		if err != nil {
			return nil, err
		}
		return result{"received": dec(got)}, nil

	case transaction.KindWrap, transaction.KindUnwrap:
		var p transaction.WrapPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		amt, err := transaction.Amount("amount", p.Amount)
		if err != nil {
			return nil, err
		}
		if tx.Kind == transaction.KindWrap {
			return nil, a.weth.Deposit(sender, amt)
		}
		return nil, a.weth.Withdraw(sender, amt)

	case transaction.KindBookSwap:
		var p transaction.BookSwapPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		return a.bookSwap(sender, p)

	case transaction.KindSwapExactIn:
		var p transaction.SwapExactInPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		v, err := transaction.Amounts("amountIn", p.AmountIn, "amountOutMin", p.AmountOutMin, "value", p.Value)
		if err != nil {
			return nil, err
		}
		amounts, err := a.router.ExactInput(sender, v[2], v[0], v[1], p.Path, p.To, deadline)
		if err != nil {
			return nil, err
		}
		return result{"amounts": decs(amounts)}, nil

	case transaction.KindSwapExactOut, transaction.KindSwapExactOutFOT:
		var p transaction.SwapExactOutPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		v, err := transaction.Amounts("amountOut", p.AmountOut, "amountInMax", p.AmountInMax, "value", p.Value)
		if err != nil {
			return nil, err
		}
		exact := a.router.ExactOutput
		if tx.Kind == transaction.KindSwapExactOutFOT {
			exact = a.router.ExactOutputSupportingFeeOnTransferTokens
		}
		amounts, err := exact(sender, v[2], v[0], v[1], p.Path, p.To, deadline)
		if err != nil {
			return nil, err
		}
		return result{"amounts": decs(amounts)}, nil

	case transaction.KindFastAddLiquidity:
		var p transaction.FastAddLiquidityPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		v, err := transaction.Amounts("amountIn", p.AmountIn, "value", p.Value)
		if err != nil {
			return nil, err
		}
		res, err := a.router.FastAddLiquidity(sender, v[1], p.TokenIn, p.TokenOther, v[0], p.To, deadline)
		if err != nil {
			return nil, err
		}
		return result{"amountA": dec(res.AmountA), "amountB": dec(res.AmountB), "liquidity": dec(res.Liquidity)}, nil

	case transaction.KindFastRemoveLiquidity:
		var p transaction.FastRemoveLiquidityPayload
		if err := tx.Decode(&p); err != nil {
			return nil, err
		}
		liq, err := transaction.Amount("liquidity", p.Liquidity)
		if err != nil {
			return nil, err
		}
		total, err := a.router.FastRemoveLiquidity(sender, p.TokenOut, p.TokenOther, liq, p.To, deadline)
		if err != nil {
			return nil, err
		}
		return result{"amountOut": dec(total)}, nil
	}
	return nil, fmt.Errorf("%w: %q", transaction.ErrUnknownKind, tx.Kind)
}

// bookSwap delivers the input to the book and swaps against resting makers
// only. Native input is wrapped on the way in; native output is unwrapped.
func (a *App) bookSwap(sender common.Address, p transaction.BookSwapPayload) (any, error) {
	amt, err := transaction.Amount("amountIn", p.AmountIn)
	if err != nil {
		return nil, err
	}
	if amt.IsZero() {
		return nil, fmt.Errorf("%w: zero amountIn", transaction.ErrMalformed)
	}
	in := asset.ParseToken(p.TokenIn)
	out := asset.ParseToken(p.TokenOut)
	weth := a.weth.Address()
	if in.IsNative() {
		if err := a.weth.Deposit(sender, amt); err != nil {
			return nil, err
		}
	}
	if _, err := a.ledger.Transfer(in.Resolve(weth), sender, a.dex.Address(), amt); err != nil {
		return nil, err
	}
	to := p.To
	if to == (common.Address{}) {
		to = sender
	}
	res, err := a.dex.Swap(sender, in.Resolve(weth), out.Resolve(weth), to, p.Unwrap || out.IsNative())
	if err != nil {
		return nil, err
	}
	return result{
		"book":      res.BookID,
		"amountIn":  dec(res.AmountIn),
		"amountOut": dec(res.AmountOut),
		"fee":       dec(res.Fee),
		"refund":    dec(res.Refund),
	}, nil
}
