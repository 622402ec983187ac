package orderbook

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

func n(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestPricesAscendAndDropAtZeroDepth(t *testing.T) {
	l := NewLedger(state.NewJournal())
	for _, p := range []uint64{30, 10, 20} {
		if err := l.AddDepth(1, n(p), n(5)); err != nil {
			t.Fatalf("add depth: %v", err)
		}
	}
	prices := l.Prices(1)
	if len(prices) != 3 || prices[0].Uint64() != 10 || prices[2].Uint64() != 30 {
		t.Fatalf("unexpected order: %v", prices)
	}

	if err := l.RemoveDepth(1, n(10), n(5)); err != nil {
		t.Fatalf("remove depth: %v", err)
	}
	if got := l.Prices(1); len(got) != 2 || got[0].Uint64() != 20 {
		t.Fatalf("price 10 should be inactive: %v", got)
	}
	if best, _ := l.Best(1); best.Uint64() != 20 {
		t.Fatalf("best = %s", best.Dec())
	}
}

func TestRemoveDepthRejectsMoreThanDepth(t *testing.T) {
	l := NewLedger(state.NewJournal())
	_ = l.AddDepth(1, n(10), n(5))
	if err := l.RemoveDepth(1, n(10), n(6)); !errors.Is(err, ErrInsufficientDepth) {
		t.Fatalf("expected ErrInsufficientDepth, got %v", err)
	}
	if err := l.RemoveDepth(1, n(11), n(1)); !errors.Is(err, ErrInsufficientDepth) {
		t.Fatalf("expected ErrInsufficientDepth on missing level, got %v", err)
	}
}

func TestRecordFillRates(t *testing.T) {
	l := NewLedger(state.NewJournal())
	price := n(7)
	_ = l.AddDepth(2, price, n(400))

	idx, err := l.RecordFill(2, price, n(100), n(3))
	if err != nil {
		t.Fatalf("record fill: %v", err)
	}
	if idx != 1 {
		t.Fatalf("index = %d", idx)
	}
	cp := l.CheckpointsSince(2, price, 0)[0]
	// 100/400 of the depth
	if cp.FillRate.Dec() != "250000000000000000" {
		t.Fatalf("fill rate = %s", cp.FillRate.Dec())
	}
	// 3 fee over 100 filled
	if cp.FeeRate.Dec() != "30000000000000000" {
		t.Fatalf("fee rate = %s", cp.FeeRate.Dec())
	}
	if l.Depth(2, price).Uint64() != 300 {
		t.Fatalf("depth = %s", l.Depth(2, price).Dec())
	}

	idx, _ = l.RecordFill(2, price, n(300), n(0))
	if idx != 2 {
		t.Fatalf("index = %d", idx)
	}
	if !l.CheckpointsSince(2, price, 1)[0].FillRate.Eq(fixed.P()) {
		t.Fatal("clearing fill must record rate P")
	}
	if len(l.Prices(2)) != 0 {
		t.Fatal("cleared level still active")
	}
	if l.LatestIndex(2, price) != 2 {
		t.Fatal("checkpoints must survive deactivation")
	}
}

func TestLedgerRevert(t *testing.T) {
	j := state.NewJournal()
	l := NewLedger(j)
	_ = j.Atomic(func() error { return l.AddDepth(1, n(10), n(5)) })

	err := j.Atomic(func() error {
		if _, err := l.RecordFill(1, n(10), n(5), n(1)); err != nil {
			return err
		}
		if err := l.AddDepth(1, n(12), n(1)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected abort")
	}
	if l.Depth(1, n(10)).Uint64() != 5 || l.LatestIndex(1, n(10)) != 0 {
		t.Fatal("fill not reverted")
	}
	if got := l.Prices(1); len(got) != 1 || got[0].Uint64() != 10 {
		t.Fatalf("price list not reverted: %v", got)
	}
}

func TestExportImport(t *testing.T) {
	l := NewLedger(state.NewJournal())
	_ = l.AddDepth(1, n(10), n(5))
	_, _ = l.RecordFill(1, n(10), n(2), n(0))

	cp := NewLedger(state.NewJournal())
	for _, r := range l.Export() {
		cp.Import(r)
	}
	if cp.Depth(1, n(10)).Uint64() != 3 || cp.LatestIndex(1, n(10)) != 1 {
		t.Fatal("import mismatch")
	}
	if len(cp.Prices(1)) != 1 {
		t.Fatal("active price not restored")
	}
}
