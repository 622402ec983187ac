package exchange

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/abci"
	"github.com/uhyunpark/stakedex/pkg/app/core/amm"
	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/market"
	"github.com/uhyunpark/stakedex/pkg/app/core/orderbook"
	"github.com/uhyunpark/stakedex/pkg/app/core/position"
)

// SnapshotVersion is bumped whenever the layout of Snapshot changes.
const SnapshotVersion = 1

type TokenRecord struct {
	Address common.Address `json:"address"`
	Meta    asset.Meta     `json:"meta"`
	Supply  *uint256.Int   `json:"supply"`
}

type AmountRecord struct {
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

type NonceRecord struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
}

// Snapshot is the full exchange state after a committed block.
type Snapshot struct {
	Version      int                 `json:"version"`
	Height       int64               `json:"height"`
	Timestamp    int64               `json:"timestamp"`
	AppHash      string              `json:"appHash"`
	Tokens       []TokenRecord       `json:"tokens"`
	Holdings     []asset.Holding     `json:"holdings"`
	Grants       []asset.Grant       `json:"grants"`
	Pairs        []market.Pair       `json:"pairs"`
	Levels       []orderbook.Record  `json:"levels"`
	Positions    []position.Position `json:"positions"`
	NextPosition uint64              `json:"nextPosition"`
	Accounted    []AmountRecord      `json:"accounted"`
	Pools        []amm.PairState     `json:"pools"`
	FeeTo        common.Address      `json:"feeTo"`
	Nonces       []NonceRecord       `json:"nonces"`
}

// Export captures the committed state.
func (a *App) Export() (*Snapshot, error) {
	s := &Snapshot{Version: SnapshotVersion}
	err := a.host.View(func() error {
		s.Height, s.Timestamp, s.AppHash = a.height, a.timestamp, a.appHash.Hex()
		for _, t := range sortedAddrs(a.ledger.Tokens()) {
			meta, _ := a.ledger.Meta(t)
			s.Tokens = append(s.Tokens, TokenRecord{Address: t, Meta: meta, Supply: a.ledger.TotalSupply(t)})
		}
		s.Holdings = append(a.ledger.Holdings(), a.ledger.NativeHoldings()...)
		sortHoldings(s.Holdings)
		s.Grants = a.ledger.Grants()
		s.Pairs = a.dex.Pairs().ListPairs()
		s.Levels = a.dex.Levels().Export()
		s.Positions = a.dex.Positions().All()
		s.NextPosition = a.dex.Positions().NextID()
		for _, t := range sortedAddrs(a.dex.AccountedTokens()) {
			s.Accounted = append(s.Accounted, AmountRecord{Token: t, Amount: a.dex.Accounted(t)})
		}
		s.Pools = a.factory.Export()
		s.FeeTo = a.factory.FeeTo()
		for acc, n := range a.nonces {
			s.Nonces = append(s.Nonces, NonceRecord{Account: acc, Nonce: n})
		}
		sort.Slice(s.Nonces, func(i, j int) bool { return asset.Less(s.Nonces[i].Account, s.Nonces[j].Account) })
		return nil
	})
	return s, err
}

// Restore loads s into a freshly constructed App before any block runs. The
// recomputed state hash must match the one recorded in s.
func (a *App) Restore(s *Snapshot) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("exchange: snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	if a.height != 0 || a.dex.Pairs().Count() != 0 {
		return fmt.Errorf("exchange: restore into a used app")
	}
	return a.host.Atomic(func() error {
		for _, t := range s.Tokens {
			a.ledger.RestoreMeta(t.Address, t.Meta)
			if t.Supply != nil && !t.Supply.IsZero() {
				a.ledger.RestoreSupply(t.Address, t.Supply)
			}
		}
		for _, h := range s.Holdings {
			a.ledger.Restore(h)
		}
		for _, g := range s.Grants {
			a.ledger.RestoreGrant(g)
		}
		pairs := append([]market.Pair(nil), s.Pairs...)
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Index < pairs[j].Index })
		for _, p := range pairs {
			a.dex.Pairs().Restore(p)
		}
		for _, r := range s.Levels {
			a.dex.Levels().Import(r)
		}
		for _, p := range s.Positions {
			a.dex.Positions().Restore(p, s.NextPosition)
		}
		a.dex.Positions().RestoreNextID(s.NextPosition)
		for _, r := range s.Accounted {
			a.dex.RestoreAccounted(r.Token, r.Amount)
		}
		for _, p := range s.Pools {
			a.factory.Import(p, s.FeeTo)
		}
		if err := a.factory.SetFeeTo(a.factory.FeeToSetter(), s.FeeTo); err != nil {
			return err
		}
		for _, n := range s.Nonces {
			a.nonces[n.Account] = n.Nonce
		}

		a.height, a.timestamp = s.Height, s.Timestamp
		a.appHash = a.computeStateHash(s.Height, s.Timestamp)
		a.clock.Set(time.Unix(s.Timestamp, 0))
		if s.AppHash != "" && a.appHash.Hex() != s.AppHash {
			return fmt.Errorf("exchange: restored state hash %s, snapshot says %s", a.appHash.Hex(), s.AppHash)
		}
		return nil
	})
}

// Height is the last finalized height.
func (a *App) Height() int64 {
	var h int64
	_ = a.host.View(func() error {
		h = a.height
		return nil
	})
	return h
}

// AppHash is the state hash of the last finalized block.
func (a *App) AppHash() abci.Hash {
	var h abci.Hash
	_ = a.host.View(func() error {
		h = a.appHash
		return nil
	})
	return h
}

func (a *App) timestampAt() int64 {
	var ts int64
	_ = a.host.View(func() error {
		ts = a.timestamp
		return nil
	})
	return ts
}
