package blockstore

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/shred"
)

// Insert admits a batch of shreds into the store (§4.3). shreds and
// isRepaired must be the same length; isTrusted bypasses the
// duplicate/integrity checks 4.4/4.5 run for untrusted input (used for
// locally produced or bulk-loaded shreds). retransmitSink, if non-nil,
// receives, as one batch, the payloads of data shreds recovered and
// re-admitted during the recovery phase plus those of recovered code
// shreds that pass leader signature verification (these are not stored).
//
// Per-shred Exists/InvalidShred rejections are swallowed (recorded as
// duplicate_shreds and/or metrics); a KV store failure aborts the whole
// call and returns no partial results.
func (db *DB) Insert(
	shreds []shred.Shred,
	isRepaired []bool,
	isTrusted bool,
	retransmitSink func([][]byte),
) (completed []CompletedDataSetInfo, duplicates []DuplicateShred, err error) {
	if len(shreds) != len(isRepaired) {
		return nil, nil, fmt.Errorf("blockstore: len(shreds)=%d != len(is_repaired)=%d", len(shreds), len(isRepaired))
	}

	callStart := time.Now()

	lockStart := time.Now()
	db.insertLock.Lock()
	defer db.insertLock.Unlock()
	if db.metrics != nil {
		db.metrics.InsertLockElapsedUs.Observe(float64(time.Since(lockStart).Microseconds()))
	}

	ws := NewWorkingSet(db.Store)
	batch := db.Store.NewBatch()
	nowMilli := uint64(time.Now().UnixMilli())

	// Phase 2: admit each input shred (§4.4/§4.5).
	admitStart := time.Now()
	for i, s := range shreds {
		if db.metrics != nil {
			db.metrics.NumShreds.Inc()
			if isRepaired[i] {
				db.metrics.NumRepair.Inc()
			}
		}
		switch v := s.(type) {
		case *shred.DataShred:
			shredCompleted, dups, admitErr := db.admitDataShred(ws, batch, v, v.Payload(), isTrusted, nowMilli)
			duplicates = append(duplicates, dups...)
			if admitErr == nil {
				completed = append(completed, shredCompleted...)
				if db.metrics != nil {
					db.metrics.NumInserted.Inc()
				}
				continue
			}
			if admitErr == ErrExists || admitErr == ErrInvalidShred {
				if db.metrics != nil {
					db.metrics.NumDataShredsInvalid.Inc()
				}
				continue
			}
			return nil, nil, storeError("admit data shred", admitErr)
		case *shred.CodeShred:
			dups, admitErr := db.admitCodeShred(ws, batch, v, v.Payload(), isTrusted)
			duplicates = append(duplicates, dups...)
			if admitErr == nil {
				if db.metrics != nil {
					db.metrics.NumInserted.Inc()
				}
				continue
			}
			if admitErr == ErrExists {
				if db.metrics != nil {
					db.metrics.NumCodeShredsExists.Inc()
				}
				continue
			}
			if admitErr == ErrInvalidErasureConfig {
				if db.metrics != nil {
					db.metrics.NumCodeShredsInvalidErasure.Inc()
				}
				continue
			}
			if admitErr == ErrInvalidShred {
				if db.metrics != nil {
					db.metrics.NumCodeShredsInvalid.Inc()
				}
				continue
			}
			return nil, nil, storeError("admit code shred", admitErr)
		default:
			db.log.Warn("ignoring shred of unknown concrete type", zap.Uint64("slot", s.Common().Slot))
		}
	}
	if db.metrics != nil {
		db.metrics.InsertShredsElapsedUs.Observe(float64(time.Since(admitStart).Microseconds()))
		db.metrics.IndexMetaTimeUs.Observe(float64(ws.IndexMetaElapsed().Microseconds()))
	}

	// Phase 3: Reed-Solomon recovery (§4.6).
	recoveryStart := time.Now()
	recoveredCompleted, recoveredDups, retransmit, err := db.recoverErasureSets(ws, batch, nowMilli)
	if err != nil {
		return nil, nil, storeError("recover erasure sets", err)
	}
	completed = append(completed, recoveredCompleted...)
	duplicates = append(duplicates, recoveredDups...)
	if db.metrics != nil {
		db.metrics.ShredRecoveryElapsedUs.Observe(float64(time.Since(recoveryStart).Microseconds()))
	}
	if len(retransmit) > 0 && retransmitSink != nil {
		retransmitSink(retransmit)
	}

	// Phase 4: slot chaining (§4.8).
	chainingStart := time.Now()
	if err := db.chainSlots(ws, batch); err != nil {
		return nil, nil, storeError("chain slots", err)
	}

	// Phase 5: Merkle-root chaining (§4.7).
	merkleDups, err := db.chainMerkleRoots(ws, batch)
	if err != nil {
		return nil, nil, storeError("chain merkle roots", err)
	}
	duplicates = append(duplicates, merkleDups...)
	if db.metrics != nil {
		db.metrics.ChainingElapsedUs.Observe(float64(time.Since(chainingStart).Microseconds()))
	}

	// Phase 6: flush every dirty working-set entry and commit atomically.
	flushStart := time.Now()
	if err := db.flush(ws, batch); err != nil {
		return nil, nil, storeError("flush working set", err)
	}
	if db.metrics != nil {
		db.metrics.CommitWorkingSetsElapsedUs.Observe(float64(time.Since(flushStart).Microseconds()))
	}

	commitStart := time.Now()
	if err := db.Store.Commit(batch); err != nil {
		return nil, nil, storeError("commit batch", err)
	}
	if db.metrics != nil {
		db.metrics.WriteBatchElapsedUs.Observe(float64(time.Since(commitStart).Microseconds()))
		db.metrics.TotalElapsedUs.Observe(float64(time.Since(callStart).Microseconds()))
	}

	db.log.Debug("insert committed",
		zap.Int("num_shreds", len(shreds)),
		zap.Int("num_completed", len(completed)),
		zap.Int("num_duplicates", len(duplicates)),
	)

	return completed, duplicates, nil
}

// flush stages every dirty working-set entry into batch (§4.3 step 6).
func (db *DB) flush(ws *WorkingSet, batch kv.Batch) error {
	for slot, meta := range ws.DirtySlotMetas() {
		key := SlotKey(slot)
		batch.Put(cfSlotMeta, key[:], mustEncode(meta))
	}
	for slot, idx := range ws.DirtyIndexes() {
		key := SlotKey(slot)
		batch.Put(cfIndex, key[:], mustEncode(idx))
	}
	for _, id := range ws.DirtyErasureMetaIds() {
		m, err := ws.ErasureMeta(id)
		if err != nil {
			return err
		}
		key := ErasureSetKey(id.Slot, id.FECSetIndex)
		batch.Put(cfErasureMeta, key[:], mustEncode(m))
	}
	for id, m := range ws.DirtyMerkleRoots() {
		key := ErasureSetKey(id.Slot, id.FECSetIndex)
		batch.Put(cfMerkleRootMeta, key[:], mustEncode(m))
	}
	return nil
}
