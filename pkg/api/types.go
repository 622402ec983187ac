package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stakedex/pkg/app/core/dex"
	"github.com/uhyunpark/stakedex/pkg/app/core/position"
	"github.com/uhyunpark/stakedex/pkg/app/exchange"
	"github.com/uhyunpark/stakedex/pkg/app/router"
)

// Amounts on the wire are base-unit decimal strings. Fields suffixed with
// Decimal are the same values scaled for display and are never parsed back.

// ==============================
// REST Response Types
// ==============================

type Status struct {
	Height    int64              `json:"height"`
	AppHash   string             `json:"appHash"`
	ChainID   uint64             `json:"chainId"`
	Admin     common.Address     `json:"admin"`
	Contracts exchange.Contracts `json:"contracts"`
	Pending   map[string]int     `json:"pending"`
}

type TokenInfo struct {
	Address        common.Address `json:"address"`
	Name           string         `json:"name"`
	Symbol         string         `json:"symbol"`
	Decimals       uint8          `json:"decimals"`
	TransferFeeBps uint64         `json:"transferFeeBps"`
	Supply         string         `json:"supply"`
}

type PairInfo struct {
	Index    uint64         `json:"index"`
	Token0   common.Address `json:"token0"`
	Token1   common.Address `json:"token1"`
	Book0    uint64         `json:"book0"` // makers sell token0
	Book1    uint64         `json:"book1"` // makers sell token1
	Pool     common.Address `json:"pool"`
	Reserve0 string         `json:"reserve0"`
	Reserve1 string         `json:"reserve1"`
}

type PoolInfo struct {
	Address  common.Address `json:"address"`
	Token0   common.Address `json:"token0"`
	Token1   common.Address `json:"token1"`
	Reserve0 string         `json:"reserve0"`
	Reserve1 string         `json:"reserve1"`
}

// PriceLevel is one active level of a book. Depth is in TokenIn, QuoteDepth
// in TokenOut.
type PriceLevel struct {
	Price        string `json:"price"`
	PriceDecimal string `json:"priceDecimal"`
	Depth        string `json:"depth"`
	QuoteDepth   string `json:"quoteDepth"`
}

type BookDepth struct {
	Book     uint64         `json:"book"`
	TokenIn  common.Address `json:"tokenIn"`
	TokenOut common.Address `json:"tokenOut"`
	Levels   []PriceLevel   `json:"levels"`
	Height   int64          `json:"height"`
}

type HopInfo struct {
	TokenIn  common.Address `json:"tokenIn"`
	TokenOut common.Address `json:"tokenOut"`
	BookIn   string         `json:"bookIn"`
	BookOut  string         `json:"bookOut"`
	AMMIn    string         `json:"ammIn"`
	AMMOut   string         `json:"ammOut"`
	Pair     common.Address `json:"pair"`
}

type QuoteInfo struct {
	Path     []common.Address `json:"path"`
	Amounts  []string         `json:"amounts"`
	Unfilled []string         `json:"unfilled"`
	Hops     []HopInfo        `json:"hops"`
}

type PositionInfo struct {
	ID           uint64         `json:"id"`
	Owner        common.Address `json:"owner"`
	Book         uint64         `json:"book"`
	TokenIn      common.Address `json:"tokenIn"`
	TokenOut     common.Address `json:"tokenOut"`
	Price        string         `json:"price"`
	PriceDecimal string         `json:"priceDecimal"`
	PendingIn    string         `json:"pendingIn"`
	Filled       string         `json:"filled"`
	FeeRewarded  string         `json:"feeRewarded"`
	LastSettled  uint64         `json:"lastSettled"`
	Native       bool           `json:"native"`
}

type BalanceInfo struct {
	Address common.Address            `json:"address"`
	Native  string                    `json:"native"`
	Tokens  map[common.Address]string `json:"tokens"`
}

type NonceInfo struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

type AllowanceInfo struct {
	Token     common.Address `json:"token"`
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Allowance string         `json:"allowance"`
}

// SubmitResponse acknowledges an action accepted into the mempool. Its
// receipt is served by /receipts/tx/{hash} once a block executes it.
type SubmitResponse struct {
	Status string         `json:"status"`
	TxHash common.Hash    `json:"txHash"`
	Sender common.Address `json:"sender"`
	Class  string         `json:"class"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["book:1", "trades", "positions:0x..."]
}

type BlockUpdate struct {
	Type      string `json:"type"` // "block"
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
	AppHash   string `json:"appHash"`
	Txs       int    `json:"txs"`
	Failed    int    `json:"failed"`
}

type BookUpdate struct {
	Type string `json:"type"` // "book"
	BookDepth
}

// TradeUpdate is a fill against one level or a whole book swap.
type TradeUpdate struct {
	Type      string         `json:"type"` // "trade"
	Kind      string         `json:"kind"` // "fill" or "swap"
	Book      uint64         `json:"book"`
	Taker     common.Address `json:"taker"`
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	Price     string         `json:"price,omitempty"`
	AmountIn  string         `json:"amountIn"`
	AmountOut string         `json:"amountOut"`
	Fee       string         `json:"fee,omitempty"`
	Height    int64          `json:"height"`
	Timestamp int64          `json:"timestamp"`
}

type PositionUpdate struct {
	Type   string `json:"type"` // "position"
	Event  string `json:"event"`
	Height int64  `json:"height"`
	PositionInfo
}

// ==============================
// Conversions
// ==============================

func str(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// priceDecimal renders a fixed-point price as a plain decimal.
func priceDecimal(price, scale *uint256.Int) string {
	if price == nil || scale == nil || scale.IsZero() {
		return ""
	}
	return decimal.NewFromBigInt(price.ToBig(), 0).
		Div(decimal.NewFromBigInt(scale.ToBig(), 0)).String()
}

// parseAmount accepts a base-unit integer or, when decimals is given, a
// decimal string such as "1.5".
func parseAmount(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	d = d.Shift(decimals)
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return nil, errInvalidAmount
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, errInvalidAmount
	}
	return v, nil
}

func levelsInfo(levels []dex.DepthLevel, scale *uint256.Int) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lv := range levels {
		out[i] = PriceLevel{
			Price:        str(lv.Price),
			PriceDecimal: priceDecimal(lv.Price, scale),
			Depth:        str(lv.Depth),
			QuoteDepth:   str(lv.QuoteDepth),
		}
	}
	return out
}

func positionInfo(p position.Position, scale *uint256.Int) PositionInfo {
	return PositionInfo{
		ID:           p.ID,
		Owner:        p.Owner,
		Book:         p.BookID,
		TokenIn:      p.TokenIn,
		TokenOut:     p.TokenOut,
		Price:        str(p.Price),
		PriceDecimal: priceDecimal(p.Price, scale),
		PendingIn:    str(p.PendingIn),
		Filled:       str(p.Filled),
		FeeRewarded:  str(p.FeeRewarded),
		LastSettled:  p.LastSettled,
		Native:       p.Native,
	}
}

func quoteInfo(path []common.Address, q router.Quote) QuoteInfo {
	out := QuoteInfo{
		Path:     path,
		Amounts:  make([]string, len(q.Amounts)),
		Unfilled: make([]string, len(q.Unfilled)),
		Hops:     make([]HopInfo, len(q.Hops)),
	}
	for i, v := range q.Amounts {
		out.Amounts[i] = str(v)
	}
	for i, v := range q.Unfilled {
		out.Unfilled[i] = str(v)
	}
	for i, h := range q.Hops {
		out.Hops[i] = HopInfo{
			TokenIn:  h.TokenIn,
			TokenOut: h.TokenOut,
			BookIn:   str(h.BookIn),
			BookOut:  str(h.BookOut),
			AMMIn:    str(h.AMMIn),
			AMMOut:   str(h.AMMOut),
			Pair:     h.Pair,
		}
	}
	return out
}
