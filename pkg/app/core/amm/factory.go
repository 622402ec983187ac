package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

// PairInitHash seeds the deterministic pair addresses of every factory.
var PairInitHash = crypto.Keccak256Hash([]byte("stakedex/amm/pair/v1"))

type pairKey struct{ token0, token1 common.Address }

// Factory creates at most one pair per token pair, at a deterministic address.
type Factory struct {
	j           *state.Journal
	ledger      *asset.Ledger
	addr        common.Address
	feeTo       common.Address
	feeToSetter common.Address
	pairs       map[pairKey]*Pair
	all         []*Pair
	log         *zap.Logger
}

func NewFactory(j *state.Journal, ledger *asset.Ledger, addr, feeToSetter common.Address, log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{
		j:           j,
		ledger:      ledger,
		addr:        addr,
		feeToSetter: feeToSetter,
		pairs:       make(map[pairKey]*Pair),
		log:         log,
	}
}

// PairAddress derives the address of the (token0, token1) pool.
func PairAddress(factory, token0, token1 common.Address) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(token0.Bytes())
	h.Write(token1.Bytes())
	var salt [32]byte
	copy(salt[:], h.Sum(nil))
	return crypto.CreateAddress2(factory, salt, PairInitHash.Bytes())
}

func (f *Factory) Address() common.Address     { return f.addr }
func (f *Factory) FeeTo() common.Address       { return f.feeTo }
func (f *Factory) FeeToSetter() common.Address { return f.feeToSetter }

// CreatePair deploys the pool and registers its LP token.
func (f *Factory) CreatePair(tokenA, tokenB common.Address) (*Pair, error) {
	t0, t1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	k := pairKey{t0, t1}
	if _, ok := f.pairs[k]; ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPairExists, t0.Hex(), t1.Hex())
	}
	p := newPair(f, PairAddress(f.addr, t0, t1), t0, t1)
	if err := f.ledger.Register(p.addr, asset.Meta{Name: "StakeDex LP", Symbol: "SDX-LP", Decimals: 18}); err != nil {
		return nil, err
	}
	state.Set(f.j, f.pairs, k, p)
	state.Append(f.j, &f.all, p)
	f.log.Info("amm_pair_created",
		zap.String("pair", p.addr.Hex()),
		zap.String("token0", t0.Hex()),
		zap.String("token1", t1.Hex()),
		zap.Int("count", len(f.all)))
	return p, nil
}

// GetPair looks a pool up in either token order.
func (f *Factory) GetPair(tokenA, tokenB common.Address) (*Pair, bool) {
	t0, t1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return nil, false
	}
	p, ok := f.pairs[pairKey{t0, t1}]
	return p, ok
}

// PairAt finds a pool by its address.
func (f *Factory) PairAt(addr common.Address) (*Pair, bool) {
	for _, p := range f.all {
		if p.addr == addr {
			return p, true
		}
	}
	return nil, false
}

func (f *Factory) AllPairs() []*Pair {
	return append([]*Pair(nil), f.all...)
}

func (f *Factory) SetFeeTo(caller, feeTo common.Address) error {
	if caller != f.feeToSetter {
		return ErrForbidden
	}
	state.Assign(f.j, &f.feeTo, feeTo)
	return nil
}

func (f *Factory) SetFeeToSetter(caller, setter common.Address) error {
	if caller != f.feeToSetter {
		return ErrForbidden
	}
	state.Assign(f.j, &f.feeToSetter, setter)
	return nil
}

// GetReserves returns the reserves of the (tokenA, tokenB) pool in argument order.
func (f *Factory) GetReserves(tokenA, tokenB common.Address) (*uint256.Int, *uint256.Int, error) {
	p, ok := f.GetPair(tokenA, tokenB)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrPairNotFound, tokenA.Hex(), tokenB.Hex())
	}
	r0, r1 := p.Reserves()
	if tokenA == p.token0 {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// PairState is the persisted form of a pool.
type PairState struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
	KLast    *uint256.Int
}

func (f *Factory) Export() []PairState {
	out := make([]PairState, 0, len(f.all))
	for _, p := range f.all {
		out = append(out, PairState{
			Address:  p.addr,
			Token0:   p.token0,
			Token1:   p.token1,
			Reserve0: p.reserve0.Clone(),
			Reserve1: p.reserve1.Clone(),
			KLast:    p.kLast.Clone(),
		})
	}
	return out
}

// Import restores a pool outside any journal snapshot. The LP token is
// expected to be restored with the ledger.
func (f *Factory) Import(s PairState, feeTo common.Address) {
	p := newPair(f, s.Address, s.Token0, s.Token1)
	p.reserve0, p.reserve1, p.kLast = s.Reserve0.Clone(), s.Reserve1.Clone(), s.KLast.Clone()
	f.pairs[pairKey{s.Token0, s.Token1}] = p
	f.all = append(f.all, p)
	f.feeTo = feeTo
}
