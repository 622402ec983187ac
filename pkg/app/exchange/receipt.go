package exchange

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/dex"
)

// Result codes of an executed action.
const (
	CodeOK uint32 = iota
	CodeMalformed
	CodeBadSignature
	CodeUnauthorized
	CodeNonce
	CodeExpired
	CodeRejected
)

var (
	ErrNonce        = errors.New("exchange: nonce already used")
	ErrExpired      = errors.New("exchange: action expired")
	ErrUnauthorized = errors.New("exchange: sender is not admin")
)

// receiptSpace namespaces receipt ids, which are derived from the action hash
// and its slot in the chain so that replays get their own receipt.
var receiptSpace = uuid.MustParse("6f1c2a9e-3b7d-4c15-9a8e-2d4f5b6c7e80")

// Receipt is the outcome of one action. Failed actions still get a receipt;
// Code says why.
type Receipt struct {
	ID     string         `json:"id"`
	TxHash common.Hash    `json:"txHash"`
	Height int64          `json:"height"`
	Index  int            `json:"index"`
	Kind   string         `json:"kind"`
	Sender common.Address `json:"sender"`
	Nonce  uint64         `json:"nonce"`
	Code   uint32         `json:"code"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Result any            `json:"result,omitempty"`
	Events []Event        `json:"events,omitempty"`
}

func newReceipt(txHash common.Hash, height int64, index int) Receipt {
	var slot [16]byte
	binary.BigEndian.PutUint64(slot[:8], uint64(height))
	binary.BigEndian.PutUint64(slot[8:], uint64(index))
	id := uuid.NewSHA1(receiptSpace, append(txHash.Bytes(), slot[:]...))
	return Receipt{ID: id.String(), TxHash: txHash, Height: height, Index: index, Status: "ok"}
}

func (r Receipt) fail(code uint32, err error) Receipt {
	r.Code = code
	r.Status = "failed"
	r.Error = err.Error()
	r.Result = nil
	return r
}

func (r Receipt) OK() bool { return r.Code == CodeOK }

// Event is the wire form of an engine event.
type Event struct {
	Kind      string         `json:"kind"`
	Book      uint64         `json:"book,omitempty"`
	Position  uint64         `json:"position,omitempty"`
	Owner     common.Address `json:"owner"`
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	Price     string         `json:"price,omitempty"`
	AmountIn  string         `json:"amountIn,omitempty"`
	AmountOut string         `json:"amountOut,omitempty"`
	Fee       string         `json:"fee,omitempty"`
	Index     uint64         `json:"index,omitempty"`
}

func eventsFrom(evs []dex.Event) []Event {
	if len(evs) == 0 {
		return nil
	}
	out := make([]Event, len(evs))
	for i, ev := range evs {
		out[i] = Event{
			Kind:      string(ev.Kind),
			Book:      ev.BookID,
			Position:  ev.Position,
			Owner:     ev.Owner,
			TokenIn:   ev.TokenIn,
			TokenOut:  ev.TokenOut,
			Price:     dec(ev.Price),
			AmountIn:  dec(ev.AmountIn),
			AmountOut: dec(ev.AmountOut),
			Fee:       dec(ev.Fee),
			Index:     ev.Index,
		}
	}
	return out
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func decs(vs []*uint256.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = dec(v)
	}
	return out
}
