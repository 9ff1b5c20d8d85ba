// Package kv defines the column-family key/value abstraction the shred
// inserter is built against (§4.1): point gets, puts/deletes, forward
// iteration, and atomic write batches over an opaque ordered byte store.
// There is no zero-copy read: Get always returns an owned copy.
//
// Two implementations exist: rocksdb.Store (production, wraps grocksdb
// the way the teacher blockstore client does) and memkv.Store (tests).
// The insertion core only ever depends on this interface.
package kv

import "errors"

// ErrNotFound is returned by Get when no row exists for a key.
var ErrNotFound = errors.New("kv: not found")

// ColumnFamily identifies one of the store's column families by name.
type ColumnFamily string

// Store is an opaque ordered byte store exposing typed column families.
//
// Keys are caller-supplied big-endian byte slices so that lexicographic
// byte order matches numeric order for composite keys such as
// (slot, index). Implementations are synchronous and thread-compatible;
// callers serialize concurrent writers themselves (the inserter does
// this with its own mutex, §5).
type Store interface {
	// Get fetches and returns an owned copy of the value at key in cf.
	// Returns ErrNotFound if absent.
	Get(cf ColumnFamily, key []byte) ([]byte, error)
	// Contains reports whether a key exists in cf without decoding it.
	Contains(cf ColumnFamily, key []byte) (bool, error)
	// Put stores value at key in cf, outside of any batch.
	Put(cf ColumnFamily, key, value []byte) error
	// Delete removes key from cf. Per an open question in the design
	// (delete's "was present" bool proved unreliable upstream), this
	// returns only a store-failure error, never an existence bit.
	Delete(cf ColumnFamily, key []byte) error
	// NewIterator opens a forward iterator over cf.
	NewIterator(cf ColumnFamily) Iterator
	// NewBatch opens a write batch. Batched puts/deletes are staged in
	// memory until Commit is called.
	NewBatch() Batch
	// Commit atomically applies every put/delete staged in batch.
	Commit(batch Batch) error
}

// Iterator walks a column family in key order.
type Iterator interface {
	SeekToFirst()
	SeekToLast()
	Seek(key []byte)
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close()
}

// Batch accumulates puts/deletes across any column family for one atomic
// Store.Commit.
type Batch interface {
	Put(cf ColumnFamily, key, value []byte)
	Delete(cf ColumnFamily, key []byte)
}
