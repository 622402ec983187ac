package dex

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/position"
)

// DepthLevel is one active level as seen by makers selling TokenIn:
// Depth in TokenIn, QuoteDepth its value in TokenOut at Price.
type DepthLevel struct {
	Price      *uint256.Int
	Depth      *uint256.Int
	QuoteDepth *uint256.Int
}

// GetPrices lists the active prices of the book of makers selling tokenIn for tokenOut.
func (e *Engine) GetPrices(tokenIn, tokenOut common.Address) ([]*uint256.Int, error) {
	book, err := e.pairs.GetPairID(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return e.levels.Prices(book), nil
}

// GetDepth lists the active levels of the book of makers selling tokenIn.
func (e *Engine) GetDepth(tokenIn, tokenOut common.Address) ([]DepthLevel, error) {
	book, err := e.pairs.GetPairID(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return e.BookDepth(book), nil
}

// BookDepth lists the active levels of a book by id.
func (e *Engine) BookDepth(book uint64) []DepthLevel {
	var out []DepthLevel
	for _, lv := range e.levels.Levels(book) {
		q, err := fixed.ToQuote(lv.Depth, lv.Price, e.cfg.Scale)
		if err != nil {
			q = fixed.Zero()
		}
		out = append(out, DepthLevel{Price: lv.Price, Depth: lv.Depth, QuoteDepth: q})
	}
	return out
}

// Depth is the pooled depth of one level.
func (e *Engine) Depth(book uint64, price *uint256.Int) *uint256.Int {
	return e.levels.Depth(book, price)
}

// Position returns the settled view of a position without persisting it.
func (e *Engine) Position(id uint64) (position.Position, error) {
	p, err := e.positions.Get(id)
	if err != nil {
		return position.Position{}, err
	}
	return e.settle(p), nil
}

// PositionsOf returns the settled views of every position owner holds.
func (e *Engine) PositionsOf(owner common.Address) []position.Position {
	ids := e.positions.IDsOf(owner)
	out := make([]position.Position, 0, len(ids))
	for _, id := range ids {
		if p, err := e.Position(id); err == nil {
			out = append(out, p)
		}
	}
	return out
}
