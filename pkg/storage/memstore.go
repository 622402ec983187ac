package storage

import (
	"fmt"
	"sync"
)

// MemStore is an in-memory store with the same encoding as PebbleStore. It
// keeps every snapshot.
type MemStore struct {
	mu        sync.Mutex
	snapshots map[int64][]byte
	blocks    map[int64][]byte
	receipts  map[string][]byte
	head      *int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		snapshots: make(map[int64][]byte),
		blocks:    make(map[int64][]byte),
		receipts:  make(map[string][]byte),
	}
}

func (s *MemStore) SaveSnapshot(height int64, v any) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[height] = b
	s.head = &height
	return nil
}

func (s *MemStore) LatestSnapshot(v any) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		return 0, false, nil
	}
	return *s.head, true, decode(s.snapshots[*s.head], v)
}

func (s *MemStore) SaveBlock(height int64, v any) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[height] = b
	return nil
}

func (s *MemStore) Block(height int64, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	if !ok {
		return fmt.Errorf("%w: block %d", ErrNotFound, height)
	}
	return decode(b, v)
}

func (s *MemStore) PutReceipt(id string, v any) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[id] = b
	return nil
}

func (s *MemStore) GetReceipt(id string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.receipts[id]
	if !ok {
		return fmt.Errorf("%w: receipt %s", ErrNotFound, id)
	}
	return decode(b, v)
}
