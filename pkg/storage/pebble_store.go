package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var ErrNotFound = errors.New("storage: not found")

// PebbleStore keeps exchange snapshots, block records and receipts. Only the
// newest keep snapshots are retained; block records and receipts are never
// pruned.
type PebbleStore struct {
	db   *pebble.DB
	keep int
}

func NewPebbleStore(path string, keep int) (*PebbleStore, error) {
	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()
	db, err := pebble.Open(path, &pebble.Options{
		Cache:                    cache,
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if keep <= 0 {
		keep = 1
	}
	return &PebbleStore{db: db, keep: keep}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) get(key []byte, v any) error {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return err
	}
	defer closer.Close()
	return decode(val, v)
}

// SaveSnapshot writes the snapshot and moves the head in one batch, then
// prunes snapshots that fell out of the retention window.
func (s *PebbleStore) SaveSnapshot(height int64, v any) error {
	val, err := encode(v)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(snapshotKey(height), val, nil); err != nil {
		return err
	}
	if err := b.Set(keyHead, encodeHeight(height), nil); err != nil {
		return err
	}
	if cut := height - int64(s.keep) + 1; cut > 0 {
		if err := b.DeleteRange(snapshotKey(0), snapshotKey(cut), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// LatestSnapshot decodes the newest snapshot into v. ok is false on an empty store.
func (s *PebbleStore) LatestSnapshot(v any) (height int64, ok bool, err error) {
	val, closer, err := s.db.Get(keyHead)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	height, err = decodeHeight(val)
	closer.Close()
	if err != nil {
		return 0, false, err
	}
	if err := s.get(snapshotKey(height), v); err != nil {
		return 0, false, err
	}
	return height, true, nil
}

func (s *PebbleStore) Snapshot(height int64, v any) error {
	return s.get(snapshotKey(height), v)
}

// SnapshotHeights lists retained snapshot heights in ascending order.
func (s *PebbleStore) SnapshotHeights() ([]int64, error) {
	prefix := []byte(prefixSnapshot)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []int64
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, heightOf(iter.Key(), prefixSnapshot))
	}
	return out, iter.Error()
}

func (s *PebbleStore) SaveBlock(height int64, v any) error {
	val, err := encode(v)
	if err != nil {
		return err
	}
	return s.db.Set(blockKey(height), val, pebble.Sync)
}

func (s *PebbleStore) Block(height int64, v any) error {
	return s.get(blockKey(height), v)
}

// PutReceipt does not sync; the snapshot write of the same block does.
func (s *PebbleStore) PutReceipt(id string, v any) error {
	val, err := encode(v)
	if err != nil {
		return err
	}
	return s.db.Set(receiptKey(id), val, pebble.NoSync)
}

func (s *PebbleStore) GetReceipt(id string, v any) error {
	return s.get(receiptKey(id), v)
}
