// Package memkv implements kv.Store in memory, for tests that shouldn't
// require an on-disk RocksDB instance.
package memkv

import (
	"bytes"
	"sort"
	"sync"

	"github.com/terorie/shredstore/kv"
)

// Store is an in-memory, thread-compatible kv.Store.
type Store struct {
	mu   sync.Mutex
	cfs  map[kv.ColumnFamily]map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{cfs: make(map[kv.ColumnFamily]map[string][]byte)}
}

func (s *Store) cf(cf kv.ColumnFamily) map[string][]byte {
	m, ok := s.cfs[cf]
	if !ok {
		m = make(map[string][]byte)
		s.cfs[cf] = m
	}
	return m
}

func (s *Store) Get(cf kv.ColumnFamily, key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cf(cf)[string(key)]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Contains(cf kv.ColumnFamily, key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cf(cf)[string(key)]
	return ok, nil
}

func (s *Store) Put(cf kv.ColumnFamily, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	s.cf(cf)[string(key)] = buf
	return nil
}

func (s *Store) Delete(cf kv.ColumnFamily, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cf(cf), string(key))
	return nil
}

func (s *Store) NewBatch() kv.Batch {
	return &batch{}
}

func (s *Store) Commit(b kv.Batch) error {
	mb := b.(*batch)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range mb.ops {
		if op.del {
			delete(s.cf(op.cf), string(op.key))
			continue
		}
		buf := make([]byte, len(op.value))
		copy(buf, op.value)
		s.cf(op.cf)[string(op.key)] = buf
	}
	return nil
}

func (s *Store) NewIterator(cf kv.ColumnFamily) kv.Iterator {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.cf(cf)
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = src[k]
	}
	return &iterator{keys: keys, vals: vals, pos: -1}
}

type op struct {
	cf    kv.ColumnFamily
	key   []byte
	value []byte
	del   bool
}

type batch struct {
	ops []op
}

func (b *batch) Put(cf kv.ColumnFamily, key, value []byte) {
	b.ops = append(b.ops, op{cf: cf, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *batch) Delete(cf kv.ColumnFamily, key []byte) {
	b.ops = append(b.ops, op{cf: cf, key: append([]byte(nil), key...), del: true})
}

type iterator struct {
	keys []string
	vals [][]byte
	pos  int
}

func (it *iterator) SeekToFirst() { it.pos = 0 }

func (it *iterator) SeekToLast() { it.pos = len(it.keys) - 1 }

func (it *iterator) Seek(key []byte) {
	it.pos = sort.Search(len(it.keys), func(i int) bool {
		return bytes.Compare([]byte(it.keys[i]), key) >= 0
	})
}

func (it *iterator) Valid() bool { return it.pos >= 0 && it.pos < len(it.keys) }

func (it *iterator) Next() { it.pos++ }

func (it *iterator) Key() []byte { return []byte(it.keys[it.pos]) }

func (it *iterator) Value() []byte { return it.vals[it.pos] }

func (it *iterator) Close() {}
