package blockstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/shred"
)

// S1 — single data shred round-trip (§8).
func TestInsertSingleDataShredRoundTrip(t *testing.T) {
	db := newTestDB(t, nil)

	payload := buildDataShred(nil, 1, 0, 0, 1 /* parent=0 */, 0, 8)
	s := parseData(t, payload)

	completed, dups, err := db.Insert([]shred.Shred{s}, []bool{false}, false, nil)
	require.NoError(t, err)
	assert.Empty(t, dups)
	assert.Empty(t, completed)

	got, err := db.GetDataShred(1, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	meta := getSlotMeta(t, db.Store, 1)
	assert.Equal(t, uint64(0), meta.ParentSlot)
	assert.Equal(t, uint64(1), meta.Received)
	assert.Equal(t, uint64(1), meta.Consumed)
	assert.False(t, meta.HasLastIndex())
	assert.False(t, meta.IsOrphan())

	idx, err := kv.GetDecoded[Index](db.Store, cfIndex, func() []byte { k := SlotKey(1); return k[:] }())
	require.NoError(t, err)
	assert.True(t, idx.Data.Contains(0))
}

// S2 — slot chaining parity: insert slots 1, 2, 0 and expect next_slots /
// is_connected to reach their final state only once slot 0 is seen.
func TestInsertSlotChainingOutOfOrder(t *testing.T) {
	db := newTestDB(t, nil)

	lastShred := func(slot, parent uint64) shred.Shred {
		payload := buildDataShred(nil, slot, 0, 0, uint16(slot-parent), FlagLastShredInSlotT(), 4)
		return parseData(t, payload)
	}

	_, _, err := db.Insert([]shred.Shred{lastShred(1, 0)}, []bool{false}, false, nil)
	require.NoError(t, err)
	m1 := getSlotMeta(t, db.Store, 1)
	assert.Empty(t, m1.NextSlots)
	assert.False(t, m1.IsConnected)

	_, _, err = db.Insert([]shred.Shred{lastShred(2, 1)}, []bool{false}, false, nil)
	require.NoError(t, err)
	m1 = getSlotMeta(t, db.Store, 1)
	assert.Equal(t, []uint64{2}, m1.NextSlots)
	assert.False(t, m1.IsConnected)
	m2 := getSlotMeta(t, db.Store, 2)
	assert.False(t, m2.IsConnected)

	_, _, err = db.Insert([]shred.Shred{lastShred(0, 0)}, []bool{false}, false, nil)
	require.NoError(t, err)

	m0 := getSlotMeta(t, db.Store, 0)
	m1 = getSlotMeta(t, db.Store, 1)
	m2 = getSlotMeta(t, db.Store, 2)
	assert.Equal(t, []uint64{1}, m0.NextSlots)
	assert.Equal(t, []uint64{2}, m1.NextSlots)
	assert.Empty(t, m2.NextSlots)
	assert.True(t, m0.IsConnected)
	assert.True(t, m1.IsConnected)
	assert.True(t, m2.IsConnected)
}

// S4 — Merkle-root conflict: a second code shred in the same erasure
// set carries a Merkle root that disagrees with the one the set's
// first shred recorded. A different shred index is used deliberately:
// a re-arrival at the SAME index is caught by the plain index.code
// exists check (§4.5 step a, which runs before the root comparison),
// so that path alone can never surface DuplicateMerkleRootConflict —
// the conflict is a property of the whole erasure set, not one index.
func TestInsertMerkleRootConflict(t *testing.T) {
	db := newTestDB(t, nil)

	var root1, root2 [32]byte
	root1[0] = 0x11
	root2[0] = 0x22

	c1 := buildMerkleCodeShred(t, 9, 0, 0, 32, 32, 0, root1)
	c2 := buildMerkleCodeShred(t, 9, 1, 0, 32, 32, 1, root2)

	_, dups, err := db.Insert([]shred.Shred{parseCode(t, c1)}, []bool{false}, false, nil)
	require.NoError(t, err)
	assert.Empty(t, dups)

	_, dups, err = db.Insert([]shred.Shred{parseCode(t, c2)}, []bool{false}, false, nil)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, DuplicateMerkleRootConflict, dups[0].Kind)
	assert.Equal(t, c2, dups[0].Original)

	got, err := db.GetCodingShred(9, 0)
	require.NoError(t, err)
	assert.Equal(t, c1, got)

	_, err = db.GetCodingShred(9, 1)
	assert.Error(t, err)
}

// S5 — dead-slot detection: indices 0 and 2 arrive (index 1 is skipped,
// so received=3 but index 1 is still unseen), then a last_in_slot shred
// claims index 1 as the slot's end — a shorter final index than what's
// already been received, so it both conflicts and marks the slot dead.
func TestInsertDeadSlotDetection(t *testing.T) {
	db := newTestDB(t, nil)

	var shreds []shred.Shred
	for _, i := range []uint32{0, 2} {
		shreds = append(shreds, parseData(t, buildDataShred(nil, 5, i, 0, 5, 0, 4)))
	}
	_, _, err := db.Insert(shreds, []bool{false, false}, false, nil)
	require.NoError(t, err)
	meta := getSlotMeta(t, db.Store, 5)
	require.Equal(t, uint64(3), meta.Received)
	require.False(t, meta.IsFull())

	lastShred := parseData(t, buildDataShred(nil, 5, 1, 0, 5, FlagLastShredInSlotT(), 4))
	_, dups, err := db.Insert([]shred.Shred{lastShred}, []bool{false}, false, nil)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, DuplicateLastIndexConflict, dups[0].Kind)

	dead, err := db.IsSlotDead(5)
	require.NoError(t, err)
	assert.True(t, dead)
}

// Idempotence (§8 property 5): inserting the same shred twice leaves
// exactly one stored payload and reports exactly one Exists duplicate.
func TestInsertIdempotence(t *testing.T) {
	db := newTestDB(t, nil)
	payload := buildDataShred(nil, 3, 0, 0, 3, 0, 4)

	_, dups, err := db.Insert([]shred.Shred{parseData(t, payload)}, []bool{false}, false, nil)
	require.NoError(t, err)
	assert.Empty(t, dups)
	meta := getSlotMeta(t, db.Store, 3)
	assert.Equal(t, uint64(1), meta.Received)

	_, dups, err = db.Insert([]shred.Shred{parseData(t, payload)}, []bool{false}, false, nil)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, DuplicateExists, dups[0].Kind)

	meta = getSlotMeta(t, db.Store, 3)
	assert.Equal(t, uint64(1), meta.Received)

	got, err := db.GetDataShred(3, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// Commutativity for disjoint sets (§8 property 6): inserting A then B
// gives the same final slot_meta as B then A, when A and B share no
// ShredId.
func TestInsertCommutesForDisjointShreds(t *testing.T) {
	buildAB := func() ([]shred.Shred, []shred.Shred) {
		a := []shred.Shred{parseData(t, buildDataShred(nil, 7, 0, 0, 7, 0, 4))}
		b := []shred.Shred{parseData(t, buildDataShred(nil, 7, 1, 0, 7, FlagLastShredInSlotT(), 4))}
		return a, b
	}

	dbAB := newTestDB(t, nil)
	a, b := buildAB()
	_, _, err := dbAB.Insert(a, []bool{false}, false, nil)
	require.NoError(t, err)
	_, _, err = dbAB.Insert(b, []bool{false}, false, nil)
	require.NoError(t, err)

	dbBA := newTestDB(t, nil)
	a2, b2 := buildAB()
	_, _, err = dbBA.Insert(b2, []bool{false}, false, nil)
	require.NoError(t, err)
	_, _, err = dbBA.Insert(a2, []bool{false}, false, nil)
	require.NoError(t, err)

	metaAB := getSlotMeta(t, dbAB.Store, 7)
	metaBA := getSlotMeta(t, dbBA.Store, 7)
	assert.Equal(t, metaAB, metaBA)
}

// Boundary: the genesis triple (slot=0, parent_slot=0, index=0)
// sanitises and is accepted even though verifyShredSlots's general rule
// (parent < slot) would otherwise reject a slot chaining to itself.
func TestInsertGenesisTripleAccepted(t *testing.T) {
	db := newTestDB(t, nil)
	payload := buildDataShred(nil, 0, 0, 0, 0, 0, 4)

	_, dups, err := db.Insert([]shred.Shred{parseData(t, payload)}, []bool{false}, false, nil)
	require.NoError(t, err)
	assert.Empty(t, dups)

	meta := getSlotMeta(t, db.Store, 0)
	assert.Equal(t, uint64(0), meta.ParentSlot)
	assert.False(t, meta.IsOrphan())
	assert.Equal(t, uint64(1), meta.Received)
}

// Boundary: a code shred for a set whose first code shred had a
// different (num_data, num_code) config is rejected with
// ErasureConflict and a duplicate_slots entry.
func TestInsertErasureConfigConflict(t *testing.T) {
	db := newTestDB(t, nil)

	c1 := buildCodeShred(nil, 6, 10, 0, 32, 32, 0)
	c2 := buildCodeShred(nil, 6, 11, 0, 64, 64, 1)

	_, dups, err := db.Insert([]shred.Shred{parseCode(t, c1)}, []bool{false}, false, nil)
	require.NoError(t, err)
	assert.Empty(t, dups)

	_, dups, err = db.Insert([]shred.Shred{parseCode(t, c2)}, []bool{false}, false, nil)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, DuplicateErasureConflict, dups[0].Kind)
	assert.Equal(t, c2, dups[0].Original)
	assert.Equal(t, c1, dups[0].Conflict)

	proof, err := kv.GetDecoded[DuplicateSlotProof](db.Store, cfDuplicateSlots, func() []byte { k := SlotKey(6); return k[:] }())
	require.NoError(t, err)
	assert.Equal(t, c1, proof.ShredA)
	assert.Equal(t, c2, proof.ShredB)
}

// S6 — 100-shred bulk ingest: every inserted data shred is recoverable
// byte-identically afterward, in a single natural-order Insert call.
func TestInsertBulk100ContiguousShreds(t *testing.T) {
	db := newTestDB(t, nil)

	const n = 100
	payloads := make([][]byte, n)
	var shreds []shred.Shred
	repaired := make([]bool, n)
	for i := 0; i < n; i++ {
		flags := uint8(0)
		if i == n-1 {
			flags = FlagLastShredInSlotT()
		}
		payloads[i] = buildDataShred(nil, 42, uint32(i), 0, 42, flags, 16)
		shreds = append(shreds, parseData(t, payloads[i]))
	}

	_, dups, err := db.Insert(shreds, repaired, false, nil)
	require.NoError(t, err)
	assert.Empty(t, dups)

	for i := 0; i < n; i++ {
		got, err := db.GetDataShred(42, uint32(i))
		require.NoError(t, err)
		assert.Equal(t, payloads[i], got)
	}

	meta := getSlotMeta(t, db.Store, 42)
	assert.Equal(t, uint64(n), meta.Received)
	assert.Equal(t, uint64(n), meta.Consumed)
	assert.True(t, meta.IsFull())
}

func FlagLastShredInSlotT() uint8 { return 0b1100_0000 }
