package blockstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terorie/shredstore/memkv"
	"github.com/terorie/shredstore/shred"
)

func TestWorkingSetSlotMetaCleanVsDirty(t *testing.T) {
	store := memkv.New()
	key := SlotKey(5)
	require.NoError(t, store.Put(cfSlotMeta, key[:], mustEncode(NewSlotMeta(5, nil))))

	ws := NewWorkingSet(store)

	// A fetch with no Put is clean: it must not appear in DirtySlotMetas.
	m, err := ws.SlotMeta(5)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Empty(t, ws.DirtySlotMetas())

	ws.PutSlotMeta(5, m)
	assert.Contains(t, ws.DirtySlotMetas(), uint64(5))
}

func TestWorkingSetSlotMetaAbsentReturnsNil(t *testing.T) {
	ws := NewWorkingSet(memkv.New())
	m, err := ws.SlotMeta(123)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestWorkingSetIndexOnlyDirtyAfterInsertMarked(t *testing.T) {
	ws := NewWorkingSet(memkv.New())

	idx, err := ws.Index(9)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Empty(t, ws.DirtyIndexes())

	ws.MarkIndexInserted(9)
	assert.Contains(t, ws.DirtyIndexes(), uint64(9))
}

func TestWorkingSetErasureMetaOrderingWithinSlot(t *testing.T) {
	ws := NewWorkingSet(memkv.New())

	idA := shred.ErasureSetId{Slot: 1, FECSetIndex: 0}
	idB := shred.ErasureSetId{Slot: 1, FECSetIndex: 32}
	idC := shred.ErasureSetId{Slot: 1, FECSetIndex: 64}
	ws.PutErasureMeta(idA, &ErasureMeta{SetIndex: 0})
	ws.PutErasureMeta(idB, &ErasureMeta{SetIndex: 32})
	ws.PutErasureMeta(idC, &ErasureMeta{SetIndex: 64})

	ids := ws.DirtyErasureMetaIds()
	assert.Equal(t, []shred.ErasureSetId{idA, idB, idC}, ids)

	nextID, next, ok := ws.NextErasureSet(idA)
	require.True(t, ok)
	assert.Equal(t, idB, nextID)
	assert.Equal(t, uint32(32), next.SetIndex)

	_, _, ok = ws.NextErasureSet(idC)
	assert.False(t, ok)

	prevID, prev, ok := ws.PrevErasureSet(idC)
	require.True(t, ok)
	assert.Equal(t, idB, prevID)
	assert.Equal(t, uint32(32), prev.SetIndex)

	_, _, ok = ws.PrevErasureSet(idA)
	assert.False(t, ok)
}

func TestWorkingSetErasureSetOrderingIsolatedPerSlot(t *testing.T) {
	ws := NewWorkingSet(memkv.New())
	idSlot1 := shred.ErasureSetId{Slot: 1, FECSetIndex: 0}
	idSlot2 := shred.ErasureSetId{Slot: 2, FECSetIndex: 0}
	ws.PutErasureMeta(idSlot1, &ErasureMeta{SetIndex: 0})
	ws.PutErasureMeta(idSlot2, &ErasureMeta{SetIndex: 0})

	_, _, ok := ws.NextErasureSet(idSlot1)
	assert.False(t, ok, "next set in a different slot must not be returned")
}

func TestWorkingSetJustInserted(t *testing.T) {
	ws := NewWorkingSet(memkv.New())
	id := shred.ShredId{Slot: 1, Index: 0, Kind: shred.DataKind}

	_, ok := ws.JustInsertedPayload(id)
	assert.False(t, ok)

	payload := []byte{1, 2, 3}
	ws.RecordInserted(&shred.DataShred{CommonHeader: shred.CommonHeader{Slot: 1, Index: 0}}, payload)

	got, ok := ws.JustInsertedPayload(id)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	s, ok := ws.JustInserted(id)
	require.True(t, ok)
	assert.Equal(t, shred.DataKind, s.Kind())
}
