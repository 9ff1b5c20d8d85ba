package blockstore

import (
	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/shred"
)

// chainMerkleRoots runs the two consultative checks of §4.7 over every
// erasure_meta / merkle_root_meta entry touched this call. Neither check
// ever aborts the call: a mismatch is recorded as a
// ChainedMerkleRootConflict duplicate (and, when a conflicting payload
// is available, a duplicate_slots proof); dirty/clean state is
// unchanged.
func (db *DB) chainMerkleRoots(ws *WorkingSet, batch kv.Batch) ([]DuplicateShred, error) {
	var dups []DuplicateShred

	// Forward check: for every newly created erasure_meta[e], compare
	// e's recorded root against e_next's first shred's chained root.
	for _, id := range ws.DirtyErasureMetaIds() {
		rootMeta, err := ws.MerkleRootMeta(id)
		if err != nil {
			return nil, err
		}
		if rootMeta == nil || !rootMeta.HasMerkleRoot {
			continue
		}
		nextID, _, ok := ws.NextErasureSet(id)
		if !ok {
			continue
		}
		nextRootMeta, err := ws.MerkleRootMeta(nextID)
		if err != nil || nextRootMeta == nil {
			continue
		}
		nextShredID := shred.ShredId{Slot: nextID.Slot, Index: nextRootMeta.FirstReceivedShredIndex, Kind: nextRootMeta.FirstReceivedShredType}
		nextShred, ok := ws.JustInserted(nextShredID)
		if !ok {
			continue
		}
		chained, has := nextShred.ChainedMerkleRoot()
		if !has || chained == rootMeta.MerkleRoot {
			continue
		}
		dups = append(dups, db.recordChainConflict(ws, batch, nextShredID))
	}

	// Backward check: for every newly seen merkle_root_meta[e], compare
	// its first shred's chained root against e_prev's recorded root.
	for id, rootMeta := range ws.DirtyMerkleRoots() {
		prevID, _, ok := ws.PrevErasureSet(id)
		if !ok {
			continue
		}
		prevRootMeta, err := ws.MerkleRootMeta(prevID)
		if err != nil || prevRootMeta == nil || !prevRootMeta.HasMerkleRoot {
			continue
		}
		xID := shred.ShredId{Slot: id.Slot, Index: rootMeta.FirstReceivedShredIndex, Kind: rootMeta.FirstReceivedShredType}
		x, ok := ws.JustInserted(xID)
		if !ok {
			continue
		}
		chained, has := x.ChainedMerkleRoot()
		if !has || chained == prevRootMeta.MerkleRoot {
			continue
		}
		dups = append(dups, db.recordChainConflict(ws, batch, xID))
	}

	return dups, nil
}

func (db *DB) recordChainConflict(ws *WorkingSet, batch kv.Batch, id shred.ShredId) DuplicateShred {
	payload, _ := ws.JustInsertedPayload(id)
	dup := DuplicateShred{Kind: DuplicateChainedMerkleRootConflict, ShredId: id, Original: payload}
	if conflict := db.findConflictingPayload(ws, id); conflict != nil && payload != nil {
		dupKey := SlotKey(id.Slot)
		batch.Put(cfDuplicateSlots, dupKey[:], mustEncode(&DuplicateSlotProof{Slot: id.Slot, ShredA: conflict, ShredB: payload}))
	}
	return dup
}
