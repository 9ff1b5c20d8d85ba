package blockstore

import (
	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/shred"
)

// admitCodeShred validates and stages one code (parity) shred (§4.5).
// Symmetrical to admitDataShred, updating erasure_meta instead of
// slot_meta.
func (db *DB) admitCodeShred(
	ws *WorkingSet,
	batch kv.Batch,
	s *shred.CodeShred,
	payload []byte,
	isTrusted bool,
) ([]DuplicateShred, error) {
	slotN := s.Slot
	i := s.Index
	id := s.ShredId()
	esID := s.ErasureSetId()

	if !isTrusted && slotN <= db.Root.MaxRoot() {
		return nil, ErrInvalidShred
	}

	idx, err := ws.Index(slotN)
	if err != nil {
		return nil, err
	}

	merkleMeta, err := ws.MerkleRootMeta(esID)
	if err != nil {
		return nil, err
	}

	erasureMeta, err := ws.ErasureMeta(esID)
	if err != nil {
		return nil, err
	}

	var dups []DuplicateShred

	if !isTrusted {
		if idx.Code.Contains(i) {
			dups = append(dups, DuplicateShred{Kind: DuplicateExists, ShredId: id, Original: payload})
			return dups, ErrExists
		}

		if erasureMeta != nil {
			wantConfig := ErasureConfig{NumData: s.NumData, NumCode: s.NumCode}
			if erasureMeta.Config != wantConfig {
				conflict := db.findConflictingPayload(ws, shred.ShredId{Slot: slotN, Index: uint32(erasureMeta.FirstReceivedCodeIndex), Kind: shred.CodeKind})
				dup := DuplicateShred{Kind: DuplicateErasureConflict, ShredId: id, Original: payload, Conflict: conflict}
				dups = append(dups, dup)
				if conflict != nil {
					dupKey := SlotKey(slotN)
					batch.Put(cfDuplicateSlots, dupKey[:], mustEncode(&DuplicateSlotProof{Slot: slotN, ShredA: conflict, ShredB: payload}))
				}
				return dups, ErrInvalidErasureConfig
			}
		}

		if merkleMeta != nil {
			if conflictDup, ok := checkMerkleRoot(merkleMeta, s, id, payload); ok {
				dups = append(dups, conflictDup)
				return dups, ErrInvalidShred
			}
		}
	}

	if erasureMeta == nil {
		erasureMeta = &ErasureMeta{
			SetIndex:               esID.FECSetIndex,
			FirstReceivedCodeIndex: uint64(i),
			Config:                 ErasureConfig{NumData: s.NumData, NumCode: s.NumCode},
		}
	}

	key := ShredKey(slotN, i)
	batch.Put(cfCodeShred, key[:], payload)
	idx.Code.Insert(i)

	ws.PutErasureMeta(esID, erasureMeta)
	ws.MarkIndexInserted(slotN)
	if merkleMeta == nil {
		mm := MerkleRootMetaFromShred(s)
		ws.PutMerkleRootMeta(esID, &mm)
	}
	ws.RecordInserted(s, payload)

	return dups, nil
}
