package mempool

import (
	"errors"
	"strings"
	"testing"

	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected transaction.Class
	}{
		{"faucet", `{"kind":"faucet","payload":{}}`, transaction.ClassAdmin},
		{"mint", `{"kind":"mint","payload":{}}`, transaction.ClassMaker},
		{"approve", `{"kind":"approve","payload":{}}`, transaction.ClassMaker},
		{"swap", `{"kind":"swap_exact_in","payload":{}}`, transaction.ClassTaker},
		{"unknown kind", `{"kind":"liquidate"}`, transaction.ClassTaker},
		{"invalid JSON", `{"kind": "mint"`, transaction.ClassTaker},
		{"non-JSON", "M:1:2", transaction.ClassTaker},
		{"empty", "", transaction.ClassTaker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRaw([]byte(tt.tx)); got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool(0, 0)

	swap1 := `{"kind":"swap_exact_in","nonce":"1"}`
	mint1 := `{"kind":"mint","nonce":"1"}`
	swap2 := `{"kind":"book_swap","nonce":"2"}`
	faucet := `{"kind":"faucet","nonce":"1"}`
	mint2 := `{"kind":"burn","nonce":"2"}`

	for _, tx := range []string{swap1, mint1, swap2, faucet, mint2} {
		if _, err := m.PushRaw([]byte(tx)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	txs := m.SelectForProposal(10000)
	expectOrder := []string{faucet, mint1, mint2, swap1, swap2}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, want := range expectOrder {
		if string(txs[i]) != want {
			t.Errorf("position %d: got %s, want %s", i, txs[i], want)
		}
	}
	if m.Len() != 0 {
		t.Errorf("mempool should be empty, has %d", m.Len())
	}
}

func TestMempool_ByteLimit(t *testing.T) {
	m := NewMempool(0, 0)
	a := `{"kind":"mint","payload":"aaaa"}`
	b := `{"kind":"mint","payload":"bbbb"}`
	c := `{"kind":"swap_exact_in"}`
	m.PushRaw([]byte(a))
	m.PushRaw([]byte(b))
	m.PushRaw([]byte(c))

	first := m.SelectForProposal(int64(len(a) + len(c)))
	if len(first) != 1 || string(first[0]) != a {
		t.Fatalf("first block = %q", first)
	}
	rest := m.SelectForProposal(0)
	if len(rest) != 2 || string(rest[0]) != b || string(rest[1]) != c {
		t.Fatalf("second block = %q", rest)
	}
}

func TestMempool_Bounds(t *testing.T) {
	m := NewMempool(2, 64)
	if _, err := m.PushRaw([]byte(strings.Repeat("x", 65))); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversized tx: err = %v", err)
	}
	m.PushRaw([]byte(`{"kind":"mint"}`))
	m.PushRaw([]byte(`{"kind":"faucet"}`))
	if _, err := m.PushRaw([]byte(`{"kind":"swap_exact_in"}`)); !errors.Is(err, ErrFull) {
		t.Errorf("full pool: err = %v", err)
	}
	p := m.Pending()
	if p[transaction.ClassAdmin] != 1 || p[transaction.ClassMaker] != 1 || p[transaction.ClassTaker] != 0 {
		t.Errorf("pending = %v", p)
	}
}

func TestMempool_CopiesInput(t *testing.T) {
	m := NewMempool(0, 0)
	buf := []byte(`{"kind":"mint"}`)
	m.PushRaw(buf)
	buf[2] = 'X'
	got := m.SelectForProposal(0)
	if string(got[0]) != `{"kind":"mint"}` {
		t.Errorf("mempool kept caller buffer: %s", got[0])
	}
}
