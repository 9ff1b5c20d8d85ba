package memkv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/memkv"
)

const cf kv.ColumnFamily = "test_cf"

func TestGetPutDelete(t *testing.T) {
	s := memkv.New()

	_, err := s.Get(cf, []byte("a"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	ok, err := s.Contains(cf, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(cf, []byte("a"), []byte("1")))

	got, err := s.Get(cf, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	ok, err = s.Contains(cf, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(cf, []byte("a")))
	_, err = s.Get(cf, []byte("a"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

// Get returns an owned copy: mutating it must never corrupt the store.
func TestGetReturnsOwnedCopy(t *testing.T) {
	s := memkv.New()
	require.NoError(t, s.Put(cf, []byte("a"), []byte("hello")))

	got, err := s.Get(cf, []byte("a"))
	require.NoError(t, err)
	got[0] = 'X'

	got2, err := s.Get(cf, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got2)
}

func TestColumnFamiliesAreIsolated(t *testing.T) {
	s := memkv.New()
	const other kv.ColumnFamily = "other_cf"

	require.NoError(t, s.Put(cf, []byte("k"), []byte("v1")))
	require.NoError(t, s.Put(other, []byte("k"), []byte("v2")))

	got, err := s.Get(cf, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	got, err = s.Get(other, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestBatchNotVisibleUntilCommit(t *testing.T) {
	s := memkv.New()
	b := s.NewBatch()
	b.Put(cf, []byte("a"), []byte("1"))
	b.Put(cf, []byte("b"), []byte("2"))

	_, err := s.Get(cf, []byte("a"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Commit(b))

	got, err := s.Get(cf, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
	got, err = s.Get(cf, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func TestBatchDeleteAppliesAtomically(t *testing.T) {
	s := memkv.New()
	require.NoError(t, s.Put(cf, []byte("a"), []byte("1")))

	b := s.NewBatch()
	b.Put(cf, []byte("c"), []byte("3"))
	b.Delete(cf, []byte("a"))
	require.NoError(t, s.Commit(b))

	_, err := s.Get(cf, []byte("a"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	got, err := s.Get(cf, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestIteratorWalksInKeyOrder(t *testing.T) {
	s := memkv.New()
	require.NoError(t, s.Put(cf, []byte("b"), []byte("2")))
	require.NoError(t, s.Put(cf, []byte("a"), []byte("1")))
	require.NoError(t, s.Put(cf, []byte("c"), []byte("3")))

	it := s.NewIterator(cf)
	defer it.Close()

	var keys []string
	var vals []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
		vals = append(vals, string(it.Value()))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, []string{"1", "2", "3"}, vals)
}

func TestIteratorSeek(t *testing.T) {
	s := memkv.New()
	for _, k := range []string{"a", "c", "e"} {
		require.NoError(t, s.Put(cf, []byte(k), []byte(k)))
	}

	it := s.NewIterator(cf)
	defer it.Close()

	it.Seek([]byte("b"))
	require.True(t, it.Valid())
	assert.Equal(t, "c", string(it.Key()))

	it.Seek([]byte("z"))
	assert.False(t, it.Valid())
}

func TestIteratorSeekToLast(t *testing.T) {
	s := memkv.New()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(cf, []byte(k), []byte(k)))
	}

	it := s.NewIterator(cf)
	defer it.Close()

	it.SeekToLast()
	require.True(t, it.Valid())
	assert.Equal(t, "c", string(it.Key()))
}

// An empty column family's iterator is never valid.
func TestIteratorEmptyColumnFamily(t *testing.T) {
	s := memkv.New()
	it := s.NewIterator(cf)
	defer it.Close()
	it.SeekToFirst()
	assert.False(t, it.Valid())
}
