package blockstore

import (
	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/shred"
)

// defaultTicksPerSecond matches mainnet's tick rate; used to back-date
// first_shred_timestamp_milli from a shred's reference_tick (§4.4 step
// 5). Overridable per DB via SetTickRate (ledgertool insert exposes it as
// --tick-rate), since test clusters may run at a different rate.
const defaultTicksPerSecond = 160

// verifyShredSlots implements §4.9: a slot's parent must be older and no
// older than the known root, except for the genesis triple (0, 0, 0).
func verifyShredSlots(slot, parent, maxRoot uint64) bool {
	if slot == 0 && parent == 0 && maxRoot == 0 {
		return true
	}
	return maxRoot <= parent && parent < slot
}

// admitDataShred validates and stages one data shred (§4.4). The
// returned error is ErrExists or ErrInvalidShred for a rejected shred
// (swallowed by the caller after recording metrics/duplicates), or a
// wrapped store error that aborts the whole Insert call.
func (db *DB) admitDataShred(
	ws *WorkingSet,
	batch kv.Batch,
	s *shred.DataShred,
	payload []byte,
	isTrusted bool,
	nowMilli uint64,
) ([]CompletedDataSetInfo, []DuplicateShred, error) {
	slotN := s.Slot
	i := s.Index
	id := s.ShredId()

	idx, err := ws.Index(slotN)
	if err != nil {
		return nil, nil, err
	}
	parent := s.ParentSlot()
	meta, err := ws.SlotMeta(slotN)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		meta = NewSlotMeta(slotN, &parent)
	} else if meta.IsOrphan() {
		meta.ParentSlot = parent
	}

	merkleMeta, err := ws.MerkleRootMeta(s.ErasureSetId())
	if err != nil {
		return nil, nil, err
	}

	var dups []DuplicateShred

	if !isTrusted {
		if uint64(i) < meta.Consumed || idx.Data.Contains(i) {
			dups = append(dups, DuplicateShred{Kind: DuplicateExists, ShredId: id, Original: payload})
			return nil, dups, ErrExists
		}

		if s.LastInSlot() && uint64(i) < meta.Received && !meta.IsFull() {
			deadKey := SlotKey(slotN)
			batch.Put(cfDeadSlots, deadKey[:], []byte{1})
		}

		lastIndexConflict := (meta.HasLastIndex() && uint64(i) > meta.LastIndex) ||
			(s.LastInSlot() && uint64(i) < meta.Received)
		if lastIndexConflict {
			conflict := db.findConflictingPayload(ws, shred.ShredId{Slot: slotN, Index: i, Kind: shred.DataKind})
			dup := DuplicateShred{Kind: DuplicateLastIndexConflict, ShredId: id, Original: payload, Conflict: conflict}
			dups = append(dups, dup)
			if conflict != nil {
				dupKey := SlotKey(slotN)
				batch.Put(cfDuplicateSlots, dupKey[:], mustEncode(&DuplicateSlotProof{Slot: slotN, ShredA: conflict, ShredB: payload}))
			}
			return nil, dups, ErrInvalidShred
		}

		if !meta.HasParent() || !verifyShredSlots(slotN, meta.ParentSlot, db.Root.MaxRoot()) {
			return nil, dups, ErrInvalidShred
		}

		if merkleMeta != nil {
			if conflictDup, ok := checkMerkleRoot(merkleMeta, s, id, payload); ok {
				dups = append(dups, conflictDup)
				return nil, dups, ErrInvalidShred
			}
		}
	}

	// Persist the payload and update derived state (§4.4 step 5).
	key := ShredKey(slotN, i)
	batch.Put(cfDataShred, key[:], payload)
	idx.Data.Insert(i)

	if meta.Received == 0 && meta.Consumed == 0 && meta.FirstShredTimestamp == 0 {
		backdateMs := uint64(s.ReferenceTick()) * 1000 / db.tickRate
		if backdateMs > nowMilli {
			backdateMs = nowMilli
		}
		meta.FirstShredTimestamp = nowMilli - backdateMs
	}
	if uint64(i)+1 > meta.Received {
		meta.Received = uint64(i) + 1
	}
	if uint64(i) == meta.Consumed {
		meta.Consumed++
		for idx.Data.Contains(uint32(meta.Consumed)) {
			meta.Consumed++
		}
	}
	if s.LastInSlot() && !meta.HasLastIndex() {
		meta.LastIndex = uint64(i)
	}

	completed := updateCompletedDataIndexes(meta, &idx.Data, i, s.DataComplete())

	ws.PutSlotMeta(slotN, meta)
	ws.MarkIndexInserted(slotN)
	if merkleMeta == nil {
		mm := MerkleRootMetaFromShred(s)
		ws.PutMerkleRootMeta(s.ErasureSetId(), &mm)
	}
	ws.RecordInserted(s, payload)

	return completed, dups, nil
}

// checkMerkleRoot implements the Merkle-root equality rule referenced by
// §4.4.d/§4.5 and defined in §4.7: two shreds in the same set must carry
// the same root (or both be legacy).
func checkMerkleRoot(meta *MerkleRootMeta, s shred.Shred, id shred.ShredId, payload []byte) (DuplicateShred, bool) {
	root, has := s.MerkleRoot()
	if !meta.HasMerkleRoot || !has {
		return DuplicateShred{}, false
	}
	if root == meta.MerkleRoot {
		return DuplicateShred{}, false
	}
	return DuplicateShred{Kind: DuplicateMerkleRootConflict, ShredId: id, Original: payload}, true
}

// findConflictingPayload locates the shred already on record at id,
// preferring the in-call working set before falling back to the store
// (§4.4.c/§4.5).
func (db *DB) findConflictingPayload(ws *WorkingSet, id shred.ShredId) []byte {
	if p, ok := ws.JustInsertedPayload(id); ok {
		return p
	}
	cf := cfDataShred
	if id.Kind == shred.CodeKind {
		cf = cfCodeShred
	}
	key := ShredKey(id.Slot, id.Index)
	p, err := db.Store.Get(cf, key[:])
	if err != nil {
		return nil
	}
	return p
}

// updateCompletedDataIndexes implements §4.4.1.
func updateCompletedDataIndexes(meta *SlotMeta, received *IndexSet, j uint32, dataComplete bool) []CompletedDataSetInfo {
	C := meta.CompletedDataIndexes

	var a uint32
	for _, c := range C {
		if c < j {
			a = c
		} else {
			break
		}
	}

	type rng struct{ begin, end uint32 }
	candidates := []rng{{a, j}}
	if dataComplete {
		candidates = append(candidates, rng{j, j + 1})
	}
	var c uint32
	hasC := false
	for _, v := range C {
		if v > j {
			c = v
			hasC = true
			break
		}
	}
	if hasC {
		candidates = append(candidates, rng{j + 1, c})
	}

	if dataComplete {
		meta.CompletedDataIndexes = sortedInsertU32(C, j)
		meta.NumCompletedDataIndexes = uint64(len(meta.CompletedDataIndexes))
	}

	var out []CompletedDataSetInfo
	for _, cand := range candidates {
		if cand.begin >= cand.end {
			continue
		}
		complete := true
		for k := cand.begin; k < cand.end; k++ {
			if !received.Contains(k) {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, CompletedDataSetInfo{Slot: meta.Slot, Start: cand.begin, End: cand.end - 1})
		}
	}
	return out
}

func sortedInsertU32(s []uint32, v uint32) []uint32 {
	lo, hi := 0, len(s)
	for lo < hi {
		mid := (lo + hi) / 2
		if s[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s) && s[lo] == v {
		return s
	}
	s = append(s, 0)
	copy(s[lo+1:], s[lo:])
	s[lo] = v
	return s
}

func mustEncode(v any) []byte {
	b, err := kv.Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}
