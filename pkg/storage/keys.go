package storage

import (
	"encoding/binary"
)

// Key schema:
//
//	head            -> height of the latest snapshot (8 bytes, big-endian)
//	snap:<height>   -> exchange snapshot
//	blk:<height>    -> block record
//	rcpt:<id>       -> receipt
//
// Heights are 8-byte big-endian so prefix scans run in height order.
const (
	prefixSnapshot = "snap:"
	prefixBlock    = "blk:"
	prefixReceipt  = "rcpt:"
)

var keyHead = []byte("head")

func heightKey(prefix string, height int64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(height))
	return k
}

func heightOf(key []byte, prefix string) int64 {
	return int64(binary.BigEndian.Uint64(key[len(prefix):]))
}

func snapshotKey(height int64) []byte { return heightKey(prefixSnapshot, height) }
func blockKey(height int64) []byte    { return heightKey(prefixBlock, height) }
func receiptKey(id string) []byte     { return append([]byte(prefixReceipt), id...) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
