// Package orderbook keeps the per-price maker depth of every book and the
// append-only checkpoint history each price level accumulates as it is filled.
package orderbook

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tidwall/btree"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

var (
	ErrInsufficientDepth = errors.New("orderbook: insufficient depth")
	ErrZeroAmount        = errors.New("orderbook: zero amount")
	ErrZeroPrice         = errors.New("orderbook: zero price")
)

// Checkpoint records one fill against a price level. FillRate is the filled
// share of the depth before the fill, in units of fixed.P (exactly P when the
// level was cleared). FeeRate is the maker fee per unit filled, in units of P.
type Checkpoint struct {
	FillRate *uint256.Int
	FeeRate  *uint256.Int
}

// Level is a read-only view of an active price level.
type Level struct {
	Price *uint256.Int
	Depth *uint256.Int
}

type level struct {
	depth       *uint256.Int
	checkpoints []Checkpoint
}

type book struct {
	// active prices, ascending
	prices *btree.BTreeG[*uint256.Int]
	levels map[uint256.Int]*level
}

func newBook() *book {
	return &book{
		prices: btree.NewBTreeGOptions(func(a, b *uint256.Int) bool { return a.Lt(b) }, btree.Options{NoLocks: true}),
		levels: make(map[uint256.Int]*level),
	}
}

// Ledger is the PriceLevelLedger of every book. Levels are kept after their
// depth reaches zero so positions resting there can still settle.
type Ledger struct {
	j     *state.Journal
	books map[uint64]*book
}

func NewLedger(j *state.Journal) *Ledger {
	return &Ledger{j: j, books: make(map[uint64]*book)}
}

func (l *Ledger) book(id uint64) *book {
	b, ok := l.books[id]
	if !ok {
		b = newBook()
		state.Set(l.j, l.books, id, b)
	}
	return b
}

func (l *Ledger) level(id uint64, price *uint256.Int) *level {
	b := l.book(id)
	lv, ok := b.levels[*price]
	if !ok {
		lv = &level{depth: fixed.Zero()}
		state.Set(l.j, b.levels, *price, lv)
	}
	return lv
}

func (l *Ledger) activate(b *book, price *uint256.Int) {
	p := price.Clone()
	b.prices.Set(p)
	l.j.Record(func() { b.prices.Delete(p) })
}

func (l *Ledger) deactivate(b *book, price *uint256.Int) {
	p := price.Clone()
	b.prices.Delete(p)
	l.j.Record(func() { b.prices.Set(p) })
}

// AddDepth adds maker notional at price, activating the level if it was empty.
func (l *Ledger) AddDepth(id uint64, price, amount *uint256.Int) error {
	if price.IsZero() {
		return ErrZeroPrice
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	lv := l.level(id, price)
	depth, err := fixed.Add(lv.depth, amount)
	if err != nil {
		return fmt.Errorf("add depth: %w", err)
	}
	if lv.depth.IsZero() {
		l.activate(l.books[id], price)
	}
	state.Assign(l.j, &lv.depth, depth)
	return nil
}

// RemoveDepth withdraws maker notional from price. The level leaves the
// active list when its depth reaches zero.
func (l *Ledger) RemoveDepth(id uint64, price, amount *uint256.Int) error {
	lv := l.lookup(id, price)
	if lv == nil || lv.depth.Lt(amount) {
		return fmt.Errorf("%w: book %d price %s", ErrInsufficientDepth, id, price.Dec())
	}
	if amount.IsZero() {
		return nil
	}
	depth := new(uint256.Int).Sub(lv.depth, amount)
	state.Assign(l.j, &lv.depth, depth)
	if depth.IsZero() {
		l.deactivate(l.books[id], price)
	}
	return nil
}

// RecordFill appends a checkpoint for filled notional taken from price and
// reduces the depth by it. makerFee is the fee credited to the level's makers.
// The 1-based index of the new checkpoint is returned.
func (l *Ledger) RecordFill(id uint64, price, filled, makerFee *uint256.Int) (uint64, error) {
	lv := l.lookup(id, price)
	if lv == nil || lv.depth.IsZero() || lv.depth.Lt(filled) {
		return 0, fmt.Errorf("%w: book %d price %s", ErrInsufficientDepth, id, price.Dec())
	}
	if filled.IsZero() {
		return 0, ErrZeroAmount
	}
	P := fixed.P()
	fillRate := P
	if !filled.Eq(lv.depth) {
		var err error
		if fillRate, err = fixed.MulDiv(filled, P, lv.depth); err != nil {
			return 0, err
		}
	}
	feeRate, err := fixed.MulDiv(makerFee, P, filled)
	if err != nil {
		return 0, err
	}
	state.Append(l.j, &lv.checkpoints, Checkpoint{FillRate: fillRate, FeeRate: feeRate})
	if err := l.RemoveDepth(id, price, filled); err != nil {
		return 0, err
	}
	return uint64(len(lv.checkpoints)), nil
}

func (l *Ledger) lookup(id uint64, price *uint256.Int) *level {
	b, ok := l.books[id]
	if !ok {
		return nil
	}
	return b.levels[*price]
}

// Depth returns the unsettled notional at price.
func (l *Ledger) Depth(id uint64, price *uint256.Int) *uint256.Int {
	if lv := l.lookup(id, price); lv != nil {
		return lv.depth.Clone()
	}
	return fixed.Zero()
}

// LatestIndex is the number of checkpoints recorded at price.
func (l *Ledger) LatestIndex(id uint64, price *uint256.Int) uint64 {
	if lv := l.lookup(id, price); lv != nil {
		return uint64(len(lv.checkpoints))
	}
	return 0
}

// CheckpointsSince returns the checkpoints with index greater than from.
func (l *Ledger) CheckpointsSince(id uint64, price *uint256.Int, from uint64) []Checkpoint {
	lv := l.lookup(id, price)
	if lv == nil || from >= uint64(len(lv.checkpoints)) {
		return nil
	}
	return lv.checkpoints[from:]
}

// Prices lists the active prices of a book in ascending order.
func (l *Ledger) Prices(id uint64) []*uint256.Int {
	var out []*uint256.Int
	l.Ascend(id, func(price, _ *uint256.Int) bool {
		out = append(out, price)
		return true
	})
	return out
}

// Levels lists the active levels of a book in ascending price order.
func (l *Ledger) Levels(id uint64) []Level {
	var out []Level
	l.Ascend(id, func(price, depth *uint256.Int) bool {
		out = append(out, Level{Price: price, Depth: depth})
		return true
	})
	return out
}

// Ascend walks active levels from the lowest price until fn returns false.
// Mutating the ledger from fn is not allowed.
func (l *Ledger) Ascend(id uint64, fn func(price, depth *uint256.Int) bool) {
	b, ok := l.books[id]
	if !ok {
		return
	}
	b.prices.Scan(func(p *uint256.Int) bool {
		return fn(p.Clone(), b.levels[*p].depth.Clone())
	})
}

// Best returns the lowest active price of a book.
func (l *Ledger) Best(id uint64) (*uint256.Int, bool) {
	b, ok := l.books[id]
	if !ok {
		return nil, false
	}
	p, ok := b.prices.Min()
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Record is the persisted form of one price level, active or not.
type Record struct {
	Book        uint64
	Price       *uint256.Int
	Depth       *uint256.Int
	Checkpoints []Checkpoint
}

// Export lists every level the ledger knows, including exhausted ones.
func (l *Ledger) Export() []Record {
	var out []Record
	for id, b := range l.books {
		for price, lv := range b.levels {
			p := price
			out = append(out, Record{
				Book:        id,
				Price:       p.Clone(),
				Depth:       lv.depth.Clone(),
				Checkpoints: append([]Checkpoint(nil), lv.checkpoints...),
			})
		}
	}
	return out
}

// Import loads a level outside any journal snapshot.
func (l *Ledger) Import(r Record) {
	b, ok := l.books[r.Book]
	if !ok {
		b = newBook()
		l.books[r.Book] = b
	}
	b.levels[*r.Price] = &level{depth: r.Depth.Clone(), checkpoints: append([]Checkpoint(nil), r.Checkpoints...)}
	if !r.Depth.IsZero() {
		b.prices.Set(r.Price.Clone())
	}
}
