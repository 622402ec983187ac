package exchange

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/amm"
	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/dex"
	"github.com/uhyunpark/stakedex/pkg/app/core/market"
	"github.com/uhyunpark/stakedex/pkg/app/core/position"
	"github.com/uhyunpark/stakedex/pkg/app/router"
)

var (
	ErrReceiptNotFound = errors.New("exchange: receipt not found")
	ErrBlockNotFound   = errors.New("exchange: block not found")
)

type TokenInfo struct {
	Address common.Address
	Meta    asset.Meta
	Supply  *uint256.Int
}

// PairInfo joins a book pair with its pool, if one exists.
type PairInfo struct {
	market.Pair
	Books    [2]uint64
	Pool     common.Address
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}

type Balances struct {
	Native *uint256.Int
	Tokens map[common.Address]*uint256.Int
}

func (a *App) view(fn func() error) error { return a.host.View(fn) }

func (a *App) Tokens() []TokenInfo {
	var out []TokenInfo
	_ = a.view(func() error {
		for _, t := range sortedAddrs(a.ledger.Tokens()) {
			meta, _ := a.ledger.Meta(t)
			out = append(out, TokenInfo{Address: t, Meta: meta, Supply: a.ledger.TotalSupply(t)})
		}
		return nil
	})
	return out
}

func (a *App) Pairs() []PairInfo {
	var out []PairInfo
	_ = a.view(func() error {
		for _, p := range a.dex.Pairs().ListPairs() {
			info := PairInfo{
				Pair:     p,
				Books:    [2]uint64{p.BookID(p.Token0), p.BookID(p.Token1)},
				Reserve0: new(uint256.Int),
				Reserve1: new(uint256.Int),
			}
			if pool, ok := a.factory.GetPair(p.Token0, p.Token1); ok {
				info.Pool = pool.Address()
				info.Reserve0, info.Reserve1 = pool.Reserves()
			}
			out = append(out, info)
		}
		return nil
	})
	return out
}

func (a *App) Pools() []amm.PairState {
	var out []amm.PairState
	_ = a.view(func() error {
		out = a.factory.Export()
		return nil
	})
	return out
}

// Depth lists the active levels of makers selling tokenIn for tokenOut.
func (a *App) Depth(tokenIn, tokenOut common.Address) (uint64, []dex.DepthLevel, error) {
	var (
		book   uint64
		levels []dex.DepthLevel
	)
	err := a.view(func() error {
		weth := a.weth.Address()
		in, out := asset.ParseToken(tokenIn).Resolve(weth), asset.ParseToken(tokenOut).Resolve(weth)
		id, err := a.dex.GetPairID(in, out)
		if err != nil {
			return err
		}
		book, levels = id, a.dex.BookDepth(id)
		return nil
	})
	return book, levels, err
}

// BookDepth lists the active levels of a book by id.
func (a *App) BookDepth(id uint64) (market.Book, []dex.DepthLevel, error) {
	var (
		book   market.Book
		levels []dex.DepthLevel
	)
	err := a.view(func() error {
		b, err := a.dex.Pairs().Book(id)
		if err != nil {
			return err
		}
		book, levels = b, a.dex.BookDepth(id)
		return nil
	})
	return book, levels, err
}

func (a *App) QuoteOut(amountIn *uint256.Int, path []common.Address) (router.Quote, error) {
	var q router.Quote
	err := a.view(func() error {
		var err error
		q, err = a.router.GetAmountsOut(amountIn, path, a.contracts.Router)
		return err
	})
	return q, err
}

func (a *App) QuoteIn(amountOut *uint256.Int, path []common.Address) (router.Quote, error) {
	var q router.Quote
	err := a.view(func() error {
		var err error
		q, err = a.router.GetAmountsIn(amountOut, path, a.contracts.Router)
		return err
	})
	return q, err
}

// Position returns the settled view of a position.
func (a *App) Position(id uint64) (position.Position, error) {
	var p position.Position
	err := a.view(func() error {
		var err error
		p, err = a.dex.Position(id)
		return err
	})
	return p, err
}

func (a *App) PositionsOf(owner common.Address) []position.Position {
	var out []position.Position
	_ = a.view(func() error {
		out = a.dex.PositionsOf(owner)
		return nil
	})
	return out
}

// Balances lists the native balance and every non-zero token balance of owner.
func (a *App) Balances(owner common.Address) Balances {
	b := Balances{Tokens: make(map[common.Address]*uint256.Int)}
	_ = a.view(func() error {
		b.Native = a.ledger.NativeBalance(owner)
		for _, t := range a.ledger.Tokens() {
			if v := a.ledger.BalanceOf(t, owner); !v.IsZero() {
				b.Tokens[t] = v
			}
		}
		return nil
	})
	return b
}

func (a *App) Allowance(token, owner, spender common.Address) *uint256.Int {
	var v *uint256.Int
	_ = a.view(func() error {
		v = a.ledger.Allowance(token, owner, spender)
		return nil
	})
	return v
}

// Receipt looks up a recent receipt, then the store.
func (a *App) Receipt(id string) (Receipt, error) {
	a.recentMu.RLock()
	r, ok := a.recent[id]
	a.recentMu.RUnlock()
	if ok {
		return r, nil
	}
	if a.Store == nil {
		return Receipt{}, fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
	}
	var stored Receipt
	if err := a.Store.GetReceipt(id, &stored); err != nil {
		return Receipt{}, fmt.Errorf("%w: %s: %v", ErrReceiptNotFound, id, err)
	}
	return stored, nil
}

// ReceiptByTx returns the newest recent receipt of an action hash.
func (a *App) ReceiptByTx(hash common.Hash) (Receipt, error) {
	a.recentMu.RLock()
	defer a.recentMu.RUnlock()
	id, ok := a.byTx[hash]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: tx %s", ErrReceiptNotFound, hash.Hex())
	}
	return a.recent[id], nil
}

// Block returns the persisted record of a committed block.
func (a *App) Block(height int64) (BlockRecord, error) {
	if a.Store == nil {
		return BlockRecord{}, fmt.Errorf("%w: %d", ErrBlockNotFound, height)
	}
	var rec BlockRecord
	if err := a.Store.Block(height, &rec); err != nil {
		return BlockRecord{}, fmt.Errorf("%w: %d: %v", ErrBlockNotFound, height, err)
	}
	return rec, nil
}
