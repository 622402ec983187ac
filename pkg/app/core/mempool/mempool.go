package mempool

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
)

var (
	ErrFull     = errors.New("mempool: full")
	ErrTooLarge = errors.New("mempool: transaction too large")
)

// ClassifyRaw reads only the "kind" field of a signed action envelope.
// Malformed or unknown input sorts with takers; execution rejects it later.
func ClassifyRaw(b []byte) transaction.Class {
	if len(b) == 0 || b[0] != '{' {
		return transaction.ClassTaker
	}
	var env struct {
		Kind transaction.Kind `json:"kind"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return transaction.ClassTaker
	}
	if c, ok := transaction.ClassOf(env.Kind); ok {
		return c
	}
	return transaction.ClassTaker
}

// Mempool keeps one FIFO queue per class. A block drains admin actions first,
// then maker actions, then taker actions, so liquidity placed in a block is
// visible to swaps in the same block.
type Mempool struct {
	mu       sync.Mutex
	queues   [3][][]byte
	maxTxs   int
	maxBytes int
}

// NewMempool bounds the pool to maxTxs pending actions of at most maxBytes
// each. Zero disables a bound.
func NewMempool(maxTxs, maxBytes int) *Mempool {
	return &Mempool{maxTxs: maxTxs, maxBytes: maxBytes}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) (transaction.Class, error) {
	if m.maxBytes > 0 && len(b) > m.maxBytes {
		return 0, ErrTooLarge
	}
	c := ClassifyRaw(b)
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxTxs > 0 && m.len() >= m.maxTxs {
		return c, ErrFull
	}
	m.queues[c] = append(m.queues[c], cp)
	return c, nil
}

// SelectForProposal returns up to maxBytes worth of txs in class order and
// removes them. Within a class order is admission order; a tx that does not
// fit ends the selection so no later tx overtakes it.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	for c := range m.queues {
		q := m.queues[c]
		for len(q) > 0 {
			n := int64(len(q[0]))
			if maxBytes > 0 && used+n > maxBytes {
				m.queues[c] = q
				return out
			}
			out = append(out, q[0])
			used += n
			q = q[1:]
		}
		m.queues[c] = q
	}
	return out
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.len()
}

func (m *Mempool) len() int {
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

// Pending reports queue lengths per class.
func (m *Mempool) Pending() map[transaction.Class]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[transaction.Class]int, len(m.queues))
	for c, q := range m.queues {
		out[transaction.Class(c)] = len(q)
	}
	return out
}
