package market

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

var (
	low  = common.HexToAddress("0x1000000000000000000000000000000000000000")
	high = common.HexToAddress("0x2000000000000000000000000000000000000000")
	mid  = common.HexToAddress("0x1500000000000000000000000000000000000000")
)

func TestBookIDsFollowAddressOrder(t *testing.T) {
	r := NewPairRegistry(state.NewJournal())
	if _, err := r.CreatePair(high, low); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		in, out common.Address
		want    uint64
	}{
		{low, high, 1},
		{high, low, 2},
	}
	for _, tt := range tests {
		got, err := r.GetPairID(tt.in, tt.out)
		if err != nil {
			t.Fatalf("GetPairID: %v", err)
		}
		if got != tt.want {
			t.Errorf("GetPairID(%s,%s) = %d, want %d", tt.in.Hex(), tt.out.Hex(), got, tt.want)
		}
	}

	p2, _ := r.CreatePair(low, mid)
	if p2.BookID(low) != 3 || p2.BookID(mid) != 4 {
		t.Errorf("second pair ids = %d/%d", p2.BookID(low), p2.BookID(mid))
	}
	b, err := r.Book(4)
	if err != nil || b.TokenIn != mid || b.TokenOut != low {
		t.Errorf("Book(4) = %+v, %v", b, err)
	}
}

func TestCreatePairErrors(t *testing.T) {
	r := NewPairRegistry(state.NewJournal())
	_, _ = r.CreatePair(low, high)

	if _, err := r.CreatePair(high, low); !errors.Is(err, ErrPairExists) {
		t.Errorf("expected ErrPairExists, got %v", err)
	}
	if _, err := r.CreatePair(low, low); !errors.Is(err, ErrIdenticalTokens) {
		t.Errorf("expected ErrIdenticalTokens, got %v", err)
	}
	if _, err := r.CreatePair(common.Address{}, low); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("expected ErrZeroAddress, got %v", err)
	}
	if _, err := r.GetPairID(low, mid); !errors.Is(err, ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound, got %v", err)
	}
	if _, err := r.Book(3); !errors.Is(err, ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound for book 3, got %v", err)
	}
}
