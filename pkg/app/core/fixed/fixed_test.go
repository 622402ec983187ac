package fixed

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

func TestDerivePrice(t *testing.T) {
	scale := New(DefaultScale)
	tests := []struct {
		name      string
		out, in   string
		want      string
		wantError error
	}{
		{"par", "10000000000000000000000", "10000000000000000000000", "10000000000", nil},
		{"half", "1", "2", "5000000000", nil},
		{"floor", "1", "3", "3333333333", nil},
		{"zero input", "1", "0", "", ErrDivideByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DerivePrice(MustParse(tt.out), MustParse(tt.in), scale)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Fatalf("expected %v, got %v", tt.wantError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Dec() != tt.want {
				t.Fatalf("price = %s, want %s", got.Dec(), tt.want)
			}
		})
	}
}

func TestMulDivUsesWideIntermediate(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got, err := MulDiv(max, New(2), New(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(max) {
		t.Fatalf("expected max, got %s", got.Dec())
	}
	if _, err := MulDiv(max, New(2), New(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestMulDivUp(t *testing.T) {
	got, _ := MulDivUp(New(10), New(1), New(3))
	if got.Uint64() != 4 {
		t.Fatalf("ceil(10/3) = %d", got.Uint64())
	}
	got, _ = MulDivUp(New(9), New(1), New(3))
	if got.Uint64() != 3 {
		t.Fatalf("ceil(9/3) = %d", got.Uint64())
	}
}

func TestSubUnderflow(t *testing.T) {
	if _, err := Sub(New(1), New(2)); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestQuoteRoundTripNeverGains(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scale := New(DefaultScale)
		price := New(rapid.Uint64Range(1, 1<<40).Draw(t, "price"))
		x := New(rapid.Uint64().Draw(t, "notional"))

		q, err := ToQuote(x, price, scale)
		if err != nil {
			t.Fatal(err)
		}
		back, err := FromQuote(q, price, scale)
		if err != nil {
			t.Fatal(err)
		}
		if back.Gt(x) {
			t.Fatalf("round trip gained: %s -> %s -> %s", x.Dec(), q.Dec(), back.Dec())
		}
		up, _ := ToQuoteUp(x, price, scale)
		if up.Lt(q) {
			t.Fatalf("rounding up below floor")
		}
	})
}
