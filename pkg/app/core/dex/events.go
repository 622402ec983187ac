package dex

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

type EventKind string

const (
	EventPairCreated EventKind = "pair_created"
	EventMint        EventKind = "mint"
	EventIncrease    EventKind = "increase"
	EventDecrease    EventKind = "decrease"
	EventBurn        EventKind = "burn"
	EventRedeem      EventKind = "redeem"
	EventFill        EventKind = "fill"
	EventSwap        EventKind = "swap"
)

// Event is emitted by state-changing engine calls. Events of a reverted call
// are discarded with it.
type Event struct {
	Kind      EventKind
	BookID    uint64
	Position  uint64
	Owner     common.Address
	TokenIn   common.Address
	TokenOut  common.Address
	Price     *uint256.Int
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Fee       *uint256.Int
	Index     uint64
}

func (e *Engine) emit(ev Event) {
	state.Append(e.j, &e.events, ev)
}

// DrainEvents returns and clears the buffered events. Call it only after the
// enclosing atomic call committed.
func (e *Engine) DrainEvents() []Event {
	out := e.events
	e.events = nil
	return out
}
