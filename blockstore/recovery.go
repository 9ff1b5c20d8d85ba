package blockstore

import (
	"github.com/gagliardetto/solana-go"
	"github.com/klauspost/reedsolomon"

	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/shred"
)

// recoverErasureSets runs §4.6 over every erasure set the call touched
// whose status is now can_recover. Reconstructed data shreds are
// re-admitted through admitDataShred; reconstructed code shreds are
// never persisted, only forwarded for retransmission. The Reed-Solomon
// decoder cache is scoped to this one call, as the spec requires.
func (db *DB) recoverErasureSets(
	ws *WorkingSet,
	batch kv.Batch,
	nowMilli uint64,
) (completed []CompletedDataSetInfo, dups []DuplicateShred, retransmit [][]byte, err error) {
	decoders := make(map[ErasureConfig]reedsolomon.Encoder)

	for _, id := range ws.DirtyErasureMetaIds() {
		meta, err := ws.ErasureMeta(id)
		if err != nil {
			return completed, dups, retransmit, err
		}
		if meta == nil {
			continue
		}
		idx, err := ws.Index(id.Slot)
		if err != nil {
			return completed, dups, retransmit, err
		}

		dBegin, dEnd := meta.DataShredsIndices()
		cBegin, cEnd := meta.CodeShredsIndices()
		nData := countInRange(&idx.Data, dBegin, dEnd)
		nCode := countInRange(&idx.Code, cBegin, cEnd)
		if meta.Status(nData, nCode) != CanRecover {
			continue
		}
		if db.leaderProvider == nil {
			// No leader provider: recovery is disabled (see NewDB).
			continue
		}

		dec, ok := decoders[meta.Config]
		if !ok {
			dec, err = reedsolomon.New(int(meta.Config.NumData), int(meta.Config.NumCode))
			if err != nil {
				// Malformed (num_data, num_code): nothing sane to
				// reconstruct, skip this set rather than abort Insert.
				continue
			}
			decoders[meta.Config] = dec
		}

		shards, missingData, missingCode := db.gatherShards(ws, id, meta, dBegin, dEnd, cBegin, cEnd)
		if err := dec.Reconstruct(shards); err != nil {
			continue
		}

		for _, i := range missingData {
			payload := shards[i-dBegin]
			recoveredCompleted, recoveredDups, retransmitted, rerr := db.admitRecoveredDataShred(ws, batch, i, payload, nowMilli)
			if rerr != nil {
				return completed, dups, retransmit, rerr
			}
			completed = append(completed, recoveredCompleted...)
			dups = append(dups, recoveredDups...)
			if retransmitted {
				retransmit = append(retransmit, payload)
			}
		}
		for _, i := range missingCode {
			payload := shards[int(meta.Config.NumData)+int(i-cBegin)]
			if !db.leaderSigValid(id.Slot, payload) {
				if db.metrics != nil {
					db.metrics.NumRecoveredFailedSig.Inc()
				}
				continue
			}
			if db.metrics != nil {
				db.metrics.NumRecovered.Inc()
			}
			retransmit = append(retransmit, payload)
		}
	}
	return completed, dups, retransmit, nil
}

// admitRecoveredDataShred verifies a reconstructed data shred against
// its slot leader and, on success, re-admits it through 4.4 (§4.6 step
// 3-4).
func (db *DB) admitRecoveredDataShred(
	ws *WorkingSet,
	batch kv.Batch,
	index uint32,
	payload []byte,
	nowMilli uint64,
) ([]CompletedDataSetInfo, []DuplicateShred, bool, error) {
	parsed, err := shred.Parse(payload)
	if err != nil {
		if db.metrics != nil {
			db.metrics.NumRecoveredFailedInvalid.Inc()
		}
		return nil, nil, false, nil
	}
	ds, ok := parsed.(*shred.DataShred)
	if !ok {
		if db.metrics != nil {
			db.metrics.NumRecoveredFailedInvalid.Inc()
		}
		return nil, nil, false, nil
	}

	if !db.leaderSigValid(ds.Slot, payload) {
		if db.metrics != nil {
			db.metrics.NumRecoveredFailedSig.Inc()
		}
		return nil, nil, false, nil
	}
	if db.metrics != nil {
		db.metrics.NumRecovered.Inc()
	}

	completed, dups, err := db.admitDataShred(ws, batch, ds, payload, false, nowMilli)
	if err == ErrExists || err == ErrInvalidShred {
		if db.metrics != nil {
			db.metrics.NumRecoveredFailedInvalid.Inc()
		}
		return nil, dups, false, nil
	} else if err != nil {
		return nil, nil, false, err
	}
	return completed, dups, true, nil
}

// leaderSigValid resolves slot's leader and checks payload's signature
// against it; a slot with no known leader disables recovery for that
// payload (§2, §4.6 step 3).
func (db *DB) leaderSigValid(slot uint64, payload []byte) bool {
	if db.leaderProvider == nil || len(payload) < solana.SignatureLength {
		return false
	}
	leader, ok := db.leaderProvider(slot)
	if !ok {
		return false
	}
	var sig solana.Signature
	copy(sig[:], payload[:solana.SignatureLength])
	return VerifySignature(leader, sig, payload)
}

// gatherShards builds the Reed-Solomon shard vector for one erasure
// set: present shreds (preferring just_inserted_shreds, falling back to
// the store), nil placeholders for the rest (§4.6 step 1).
func (db *DB) gatherShards(
	ws *WorkingSet,
	id shred.ErasureSetId,
	meta *ErasureMeta,
	dBegin, dEnd, cBegin, cEnd uint32,
) (shards [][]byte, missingData, missingCode []uint32) {
	shards = make([][]byte, int(meta.Config.NumData)+int(meta.Config.NumCode))

	for i := dBegin; i < dEnd; i++ {
		payload := db.loadShredPayload(ws, shred.ShredId{Slot: id.Slot, Index: i, Kind: shred.DataKind})
		shards[i-dBegin] = payload
		if payload == nil {
			missingData = append(missingData, i)
		}
	}
	// Code shreds occupy the shard vector after all NumData data shreds;
	// cBegin/dBegin are independent index spaces (first_received_code_index
	// has no numeric relation to set_index), so the base offset must come
	// from the config, not from cBegin-dBegin.
	codeBase := int(meta.Config.NumData)
	for i := cBegin; i < cEnd; i++ {
		payload := db.loadShredPayload(ws, shred.ShredId{Slot: id.Slot, Index: i, Kind: shred.CodeKind})
		shards[codeBase+int(i-cBegin)] = payload
		if payload == nil {
			missingCode = append(missingCode, i)
		}
	}
	return shards, missingData, missingCode
}

func (db *DB) loadShredPayload(ws *WorkingSet, id shred.ShredId) []byte {
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

func countInRange(set *IndexSet, begin, end uint32) int {
	n := 0
	for i := begin; i < end; i++ {
		if set.Contains(i) {
			n++
		}
	}
	return n
}
