package exchange

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/abci"
	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
)

type hasher struct {
	h   hash.Hash
	buf [8]byte
}

func (w *hasher) u64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:], v)
	w.h.Write(w.buf[:])
}

func (w *hasher) amount(v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	b := v.Bytes32()
	w.h.Write(b[:])
}

func (w *hasher) addr(a common.Address) { w.h.Write(a.Bytes()) }

func (w *hasher) tag(s string) { w.h.Write([]byte(s)) }

// computeStateHash hashes the whole exchange state in a canonical order:
// height, timestamp, then every section sorted by its key. Caller holds the
// host lock.
func (a *App) computeStateHash(height, timestamp int64) abci.Hash {
	w := &hasher{h: sha256.New()}
	w.u64(uint64(height))
	w.u64(uint64(timestamp))

	w.tag("pairs")
	for _, p := range a.dex.Pairs().ListPairs() {
		w.u64(p.Index)
		w.addr(p.Token0)
		w.addr(p.Token1)
	}

	w.tag("levels")
	levels := a.dex.Levels().Export()
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Book != levels[j].Book {
			return levels[i].Book < levels[j].Book
		}
		return levels[i].Price.Lt(levels[j].Price)
	})
	for _, lv := range levels {
		w.u64(lv.Book)
		w.amount(lv.Price)
		w.amount(lv.Depth)
		w.u64(uint64(len(lv.Checkpoints)))
		for _, cp := range lv.Checkpoints {
			w.amount(cp.FillRate)
			w.amount(cp.FeeRate)
		}
	}

	w.tag("positions")
	positions := a.dex.Positions().All()
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	for _, p := range positions {
		w.u64(p.ID)
		w.addr(p.Owner)
		w.u64(p.BookID)
		w.amount(p.Price)
		w.amount(p.PendingIn)
		w.u64(p.LastSettled)
		w.amount(p.Filled)
		w.amount(p.FeeRewarded)
		if p.Native {
			w.u64(1)
		} else {
			w.u64(0)
		}
	}
	w.u64(a.dex.Positions().NextID())

	w.tag("pools")
	pools := a.factory.Export()
	sort.Slice(pools, func(i, j int) bool { return asset.Less(pools[i].Address, pools[j].Address) })
	for _, p := range pools {
		w.addr(p.Address)
		w.amount(p.Reserve0)
		w.amount(p.Reserve1)
		w.amount(p.KLast)
	}
	w.addr(a.factory.FeeTo())

	w.tag("balances")
	holdings := append(a.ledger.Holdings(), a.ledger.NativeHoldings()...)
	sortHoldings(holdings)
	for _, h := range holdings {
		if h.Amount.IsZero() {
			continue
		}
		w.addr(h.Token)
		w.addr(h.Owner)
		w.amount(h.Amount)
	}

	w.tag("allowances")
	grants := a.ledger.Grants()
	sort.Slice(grants, func(i, j int) bool {
		if c := bytes.Compare(grants[i].Token.Bytes(), grants[j].Token.Bytes()); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(grants[i].Owner.Bytes(), grants[j].Owner.Bytes()); c != 0 {
			return c < 0
		}
		return asset.Less(grants[i].Spender, grants[j].Spender)
	})
	for _, g := range grants {
		w.addr(g.Token)
		w.addr(g.Owner)
		w.addr(g.Spender)
		w.amount(g.Amount)
	}

	w.tag("supply")
	tokens := sortedAddrs(a.ledger.Tokens())
	for _, t := range tokens {
		w.addr(t)
		w.amount(a.ledger.TotalSupply(t))
	}

	w.tag("accounted")
	for _, t := range sortedAddrs(a.dex.AccountedTokens()) {
		w.addr(t)
		w.amount(a.dex.Accounted(t))
	}

	w.tag("nonces")
	accounts := make([]common.Address, 0, len(a.nonces))
	for acc := range a.nonces {
		accounts = append(accounts, acc)
	}
	for _, acc := range sortedAddrs(accounts) {
		w.addr(acc)
		w.u64(a.nonces[acc])
	}

	var out abci.Hash
	copy(out[:], w.h.Sum(nil))
	return out
}

func sortHoldings(hs []asset.Holding) {
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].Token != hs[j].Token {
			return asset.Less(hs[i].Token, hs[j].Token)
		}
		return asset.Less(hs[i].Owner, hs[j].Owner)
	})
}

func sortedAddrs(in []common.Address) []common.Address {
	out := append([]common.Address(nil), in...)
	sort.Slice(out, func(i, j int) bool { return asset.Less(out[i], out[j]) })
	return out
}
