package market

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

var (
	ErrPairExists      = errors.New("market: pair exists")
	ErrPairNotFound    = errors.New("market: pair not found")
	ErrIdenticalTokens = errors.New("market: identical tokens")
	ErrZeroAddress     = errors.New("market: zero address")
)

// Pair is a canonical token pair. Token0 sorts before Token1 by address bytes.
// Pair n owns book 2n-1 (makers selling Token0 for Token1) and book 2n.
type Pair struct {
	Index  uint64         `json:"index"`
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
}

// BookID returns the id of the book whose makers sell tokenIn for tokenOut.
func (p Pair) BookID(tokenIn common.Address) uint64 {
	if tokenIn == p.Token0 {
		return 2*p.Index - 1
	}
	return 2 * p.Index
}

// Book is one direction of a pair.
type Book struct {
	ID       uint64
	TokenIn  common.Address
	TokenOut common.Address
}

type pairKey struct{ token0, token1 common.Address }

// PairRegistry assigns pair indexes in creation order and resolves book ids.
// Pairs are never removed.
type PairRegistry struct {
	j     *state.Journal
	pairs map[pairKey]Pair
	list  []Pair
}

// NewPairRegistry creates an empty registry
func NewPairRegistry(j *state.Journal) *PairRegistry {
	return &PairRegistry{
		j:     j,
		pairs: make(map[pairKey]Pair),
	}
}

// Sort returns the two tokens in canonical order
func Sort(a, b common.Address) (common.Address, common.Address, error) {
	if a == b {
		return common.Address{}, common.Address{}, ErrIdenticalTokens
	}
	if asset.Less(b, a) {
		a, b = b, a
	}
	if a == (common.Address{}) {
		return common.Address{}, common.Address{}, ErrZeroAddress
	}
	return a, b, nil
}

// CreatePair registers a new pair
// Returns ErrPairExists if either ordering is already registered
func (r *PairRegistry) CreatePair(a, b common.Address) (Pair, error) {
	t0, t1, err := Sort(a, b)
	if err != nil {
		return Pair{}, err
	}
	k := pairKey{t0, t1}
	if _, exists := r.pairs[k]; exists {
		return Pair{}, fmt.Errorf("%w: %s/%s", ErrPairExists, t0.Hex(), t1.Hex())
	}
	p := Pair{Index: uint64(len(r.list)) + 1, Token0: t0, Token1: t1}
	state.Set(r.j, r.pairs, k, p)
	state.Append(r.j, &r.list, p)
	return p, nil
}

// GetPair looks a pair up in either token order
func (r *PairRegistry) GetPair(a, b common.Address) (Pair, error) {
	t0, t1, err := Sort(a, b)
	if err != nil {
		return Pair{}, err
	}
	p, ok := r.pairs[pairKey{t0, t1}]
	if !ok {
		return Pair{}, fmt.Errorf("%w: %s/%s", ErrPairNotFound, t0.Hex(), t1.Hex())
	}
	return p, nil
}

// GetPairID resolves the book id for makers selling tokenIn for tokenOut
func (r *PairRegistry) GetPairID(tokenIn, tokenOut common.Address) (uint64, error) {
	p, err := r.GetPair(tokenIn, tokenOut)
	if err != nil {
		return 0, err
	}
	return p.BookID(tokenIn), nil
}

// Book resolves a book id back into its direction
func (r *PairRegistry) Book(id uint64) (Book, error) {
	if id == 0 || (id+1)/2 > uint64(len(r.list)) {
		return Book{}, fmt.Errorf("%w: book %d", ErrPairNotFound, id)
	}
	p := r.list[(id+1)/2-1]
	if id%2 == 1 {
		return Book{ID: id, TokenIn: p.Token0, TokenOut: p.Token1}, nil
	}
	return Book{ID: id, TokenIn: p.Token1, TokenOut: p.Token0}, nil
}

// ListPairs returns all pairs in creation order
func (r *PairRegistry) ListPairs() []Pair {
	return append([]Pair(nil), r.list...)
}

// Count returns the number of registered pairs
func (r *PairRegistry) Count() int {
	return len(r.list)
}

// Restore appends a pair outside any journal snapshot
func (r *PairRegistry) Restore(p Pair) {
	r.pairs[pairKey{p.Token0, p.Token1}] = p
	r.list = append(r.list, p)
}
