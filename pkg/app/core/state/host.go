package state

import "sync"

// Host is the lock boundary around the exchange state. Writers run through
// Atomic; readers through View. Components never lock on their own.
type Host struct {
	mu      sync.RWMutex
	journal *Journal
}

func NewHost() *Host {
	return &Host{journal: NewJournal()}
}

// Journal returns the undo log shared by every component of this host.
func (h *Host) Journal() *Journal {
	return h.journal
}

// Atomic runs fn under the write lock. Any error reverts every mutation fn made.
func (h *Host) Atomic(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.journal.Atomic(fn)
}

// View runs fn under the read lock.
func (h *Host) View(fn func() error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn()
}
