package dex

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/position"
)

// pendingByPrice sums the settled pending notional of every live position in book 1.
func pendingByPrice(f *fixture) map[uint256.Int]*uint256.Int {
	out := make(map[uint256.Int]*uint256.Int)
	for _, p := range f.dex.Positions().All() {
		s, _ := f.dex.Position(p.ID)
		sum, ok := out[*s.Price]
		if !ok {
			sum = fixed.Zero()
			out[*s.Price] = sum
		}
		sum.Add(sum, s.PendingIn)
	}
	return out
}

func TestSettlementConservesNotional(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, DefaultConfig())
		max := fixed.Zero().SetAllOne()

		makers := rapid.IntRange(1, 5).Draw(rt, "makers")
		for i := 0; i < makers; i++ {
			who := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
			_ = f.ledger.Approve(tokenA, who, dexAddr, max)
			in := fixed.New(rapid.Uint64Range(1, 1<<50).Draw(rt, "in"))
			// two price buckets so several levels get walked
			out := new(uint256.Int).Mul(in, fixed.New(rapid.Uint64Range(1, 2).Draw(rt, "ratio")))
			f.mint(t, who, tokenA, tokenB, in, out)
		}

		swaps := rapid.IntRange(1, 6).Draw(rt, "swaps")
		for i := 0; i < swaps; i++ {
			before := make(map[uint64]position.Position)
			for _, p := range f.dex.Positions().All() {
				before[p.ID], _ = f.dex.Position(p.ID)
			}
			amount := fixed.New(rapid.Uint64Range(1, 1<<51).Draw(rt, "taker"))
			_, _ = f.take(t, bob, tokenB, tokenA, amount)

			for id, b := range before {
				a, err := f.dex.Position(id)
				if err != nil {
					rt.Fatalf("position %d: %v", id, err)
				}
				lost := new(uint256.Int).Sub(b.PendingIn, a.PendingIn)
				gained := new(uint256.Int).Sub(a.Filled, b.Filled)
				if !lost.Eq(gained) {
					rt.Fatalf("position %d: pending fell by %s but filled rose by %s", id, lost.Dec(), gained.Dec())
				}
				again, _ := f.dex.Position(id)
				if !again.PendingIn.Eq(a.PendingIn) || !again.FeeRewarded.Eq(a.FeeRewarded) {
					rt.Fatalf("settlement not idempotent for %d", id)
				}
			}
		}

		bound := fixed.New(uint64(2 * makers * swaps))
		for price, sum := range pendingByPrice(f) {
			p := price
			depth := f.dex.Depth(1, &p)
			if sum.Lt(depth) {
				rt.Fatalf("price %s: pending %s below depth %s", p.Dec(), sum.Dec(), depth.Dec())
			}
			if new(uint256.Int).Sub(sum, depth).Gt(bound) {
				rt.Fatalf("price %s: dust %s above bound", p.Dec(), new(uint256.Int).Sub(sum, depth).Dec())
			}
		}

		for _, p := range f.dex.Positions().All() {
			if _, err := f.dex.Redeem(p.Owner, p.ID); err != nil {
				rt.Fatalf("redeem %d: %v", p.ID, err)
			}
			s, _ := f.dex.Position(p.ID)
			if !s.PendingIn.IsZero() {
				if _, err := f.dex.DecreasePosition(p.Owner, p.ID, s.PendingIn); err != nil {
					rt.Fatalf("decrease %d: %v", p.ID, err)
				}
			}
			if _, err := f.dex.Burn(p.Owner, p.ID); err != nil {
				rt.Fatalf("burn %d: %v", p.ID, err)
			}
		}
		if len(f.dex.Levels().Prices(1)) != 0 {
			rt.Fatalf("levels left active after every maker exited")
		}
	})
}
