// Package rocksdb implements kv.Store on top of grocksdb, exactly the
// way the teacher blockstore client opens and addresses RocksDB column
// families (see blockstore.go's OpenReadOnly/OpenSecondary), but opened
// for read-write access so the inserter can commit write batches.
package rocksdb

import (
	"fmt"

	"github.com/linxGnu/grocksdb"
	"github.com/terorie/shredstore/kv"
)

// ColumnFamilies is the fixed set of column families the blockstore
// schema needs (§3): one per persisted entity, plus "default".
var ColumnFamilies = []kv.ColumnFamily{
	"default",
	"data_shred",
	"code_shred",
	"slot_meta",
	"index",
	"erasure_meta",
	"merkle_root_meta",
	"dead_slots",
	"orphans",
	"duplicate_slots",
	"root",
}

// Store wraps a read-write grocksdb handle.
type Store struct {
	db  *grocksdb.DB
	ro  *grocksdb.ReadOptions
	wo  *grocksdb.WriteOptions
	cfs map[kv.ColumnFamily]*grocksdb.ColumnFamilyHandle
}

// Open opens (or creates) a RocksDB database at path with every column
// family the schema needs.
func Open(path string) (*Store, error) {
	opts := grocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCreateIfMissingColumnFamilies(true)

	names := make([]string, len(ColumnFamilies))
	cfOpts := make([]*grocksdb.Options, len(ColumnFamilies))
	for i, cf := range ColumnFamilies {
		names[i] = string(cf)
		cfOpts[i] = grocksdb.NewDefaultOptions()
	}

	db, handles, err := grocksdb.OpenDbColumnFamilies(opts, path, names, cfOpts)
	if err != nil {
		return nil, err
	}
	if len(handles) != len(ColumnFamilies) {
		db.Close()
		return nil, fmt.Errorf("rocksdb: unexpected column family count: %d", len(handles))
	}

	s := &Store{
		db:  db,
		ro:  grocksdb.NewDefaultReadOptions(),
		wo:  grocksdb.NewDefaultWriteOptions(),
		cfs: make(map[kv.ColumnFamily]*grocksdb.ColumnFamilyHandle, len(ColumnFamilies)),
	}
	for i, cf := range ColumnFamilies {
		s.cfs[cf] = handles[i]
	}
	return s, nil
}

// Close releases the RocksDB handle.
func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) handle(cf kv.ColumnFamily) (*grocksdb.ColumnFamilyHandle, error) {
	h, ok := s.cfs[cf]
	if !ok {
		return nil, fmt.Errorf("rocksdb: unknown column family %q", cf)
	}
	return h, nil
}

func (s *Store) Get(cf kv.ColumnFamily, key []byte) ([]byte, error) {
	h, err := s.handle(cf)
	if err != nil {
		return nil, err
	}
	slice, err := s.db.GetCF(s.ro, h, key)
	if err != nil {
		return nil, err
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(slice.Data()))
	copy(out, slice.Data())
	return out, nil
}

func (s *Store) Contains(cf kv.ColumnFamily, key []byte) (bool, error) {
	h, err := s.handle(cf)
	if err != nil {
		return false, err
	}
	slice, err := s.db.GetCF(s.ro, h, key)
	if err != nil {
		return false, err
	}
	defer slice.Free()
	return slice.Exists(), nil
}

func (s *Store) Put(cf kv.ColumnFamily, key, value []byte) error {
	h, err := s.handle(cf)
	if err != nil {
		return err
	}
	return s.db.PutCF(s.wo, h, key, value)
}

func (s *Store) Delete(cf kv.ColumnFamily, key []byte) error {
	h, err := s.handle(cf)
	if err != nil {
		return err
	}
	return s.db.DeleteCF(s.wo, h, key)
}

func (s *Store) NewIterator(cf kv.ColumnFamily) kv.Iterator {
	h, err := s.handle(cf)
	if err != nil {
		return &errIterator{err: err}
	}
	return &iterator{raw: s.db.NewIteratorCF(s.ro, h)}
}

func (s *Store) NewBatch() kv.Batch {
	return &batch{wb: grocksdb.NewWriteBatch(), cfs: s.cfs}
}

func (s *Store) Commit(b kv.Batch) error {
	wb := b.(*batch)
	if wb.err != nil {
		return wb.err
	}
	defer wb.wb.Destroy()
	return s.db.Write(s.wo, wb.wb)
}

type batch struct {
	wb  *grocksdb.WriteBatch
	cfs map[kv.ColumnFamily]*grocksdb.ColumnFamilyHandle
	err error
}

func (b *batch) Put(cf kv.ColumnFamily, key, value []byte) {
	h, ok := b.cfs[cf]
	if !ok {
		b.err = fmt.Errorf("rocksdb: unknown column family %q", cf)
		return
	}
	b.wb.PutCF(h, key, value)
}

func (b *batch) Delete(cf kv.ColumnFamily, key []byte) {
	h, ok := b.cfs[cf]
	if !ok {
		b.err = fmt.Errorf("rocksdb: unknown column family %q", cf)
		return
	}
	b.wb.DeleteCF(h, key)
}

type iterator struct {
	raw *grocksdb.Iterator
}

func (it *iterator) SeekToFirst()      { it.raw.SeekToFirst() }
func (it *iterator) SeekToLast()       { it.raw.SeekToLast() }
func (it *iterator) Seek(key []byte)   { it.raw.Seek(key) }
func (it *iterator) Valid() bool       { return it.raw.Valid() }
func (it *iterator) Next()             { it.raw.Next() }
func (it *iterator) Key() []byte       { return it.raw.Key().Data() }
func (it *iterator) Value() []byte     { return it.raw.Value().Data() }
func (it *iterator) Close()            { it.raw.Close() }

// errIterator reports a handle lookup failure as an always-invalid
// iterator, so callers that skip the NewIterator error return still
// terminate their loop cleanly.
type errIterator struct{ err error }

func (errIterator) SeekToFirst()    {}
func (errIterator) SeekToLast()     {}
func (errIterator) Seek([]byte)     {}
func (errIterator) Valid() bool     { return false }
func (errIterator) Next()           {}
func (errIterator) Key() []byte     { return nil }
func (errIterator) Value() []byte   { return nil }
func (errIterator) Close()          {}
