package kv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/memkv"
)

type record struct {
	Slot    uint64
	Count   uint32 `bin:"sizeof=Tags"`
	Tags    []uint32
	Flag    bool
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := record{Slot: 42, Tags: []uint32{1, 2, 3}, Flag: true}

	raw, err := kv.Encode(&in)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	out, err := kv.Decode[record](raw)
	require.NoError(t, err)
	assert.Equal(t, in.Slot, out.Slot)
	assert.Equal(t, in.Tags, out.Tags)
	assert.True(t, out.Flag)
}

func TestEncodeDecodeEmptySlice(t *testing.T) {
	in := record{Slot: 7}

	raw, err := kv.Encode(&in)
	require.NoError(t, err)

	out, err := kv.Decode[record](raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), out.Slot)
	assert.Empty(t, out.Tags)
}

func TestGetDecodedNotFound(t *testing.T) {
	store := memkv.New()
	_, err := kv.GetDecoded[record](store, "cf", []byte("missing"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestGetDecodedRoundTripThroughStore(t *testing.T) {
	store := memkv.New()
	key := []byte("k")
	in := record{Slot: 99, Tags: []uint32{5}}

	raw, err := kv.Encode(&in)
	require.NoError(t, err)
	require.NoError(t, store.Put("cf", key, raw))

	out, err := kv.GetDecoded[record](store, "cf", key)
	require.NoError(t, err)
	assert.Equal(t, in.Slot, out.Slot)
	assert.Equal(t, in.Tags, out.Tags)
}

func TestPutEncodedStagesIntoBatch(t *testing.T) {
	store := memkv.New()
	batch := store.NewBatch()
	key := []byte("k2")
	in := record{Slot: 3}

	require.NoError(t, kv.PutEncoded(batch, "cf", key, &in))

	// Not visible until the batch is committed.
	_, err := store.Get("cf", key)
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Commit(batch))

	out, err := kv.GetDecoded[record](store, "cf", key)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.Slot)
}
