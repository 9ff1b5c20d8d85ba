package blockstore

import (
	"time"

	"github.com/google/btree"

	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/shred"
)

// cachedEntry is the Dirty/Clean tagged value described in §4.2/§9: a
// Clean entry was fetched from the store unmodified, a Dirty entry must
// be flushed. Modeling it as a tagged struct (instead of interior
// mutability) keeps flush a one-pass filter over the map.
type cachedEntry[T any] struct {
	value T
	dirty bool
}

func clean[T any](v T) *cachedEntry[T] { return &cachedEntry[T]{value: v} }
func dirty[T any](v T) *cachedEntry[T] { return &cachedEntry[T]{value: v, dirty: true} }

// indexEntry additionally tracks whether this call inserted a shred into
// the index, which the flush phase uses to decide whether to persist it
// (§4.3 step 6).
type indexEntry struct {
	value          *Index
	didInsertOccur bool
}

// erasureMetaNode is one entry of the ordered erasure-meta map. The map
// must be ordered by (slot, fec_set_index): the forward-Merkle pass and
// recovery both need "the next set in the same slot" (§4.2/§9).
type erasureMetaNode struct {
	id    shred.ErasureSetId
	entry *cachedEntry[*ErasureMeta]
}

func erasureMetaLess(a, b erasureMetaNode) bool {
	if a.id.Slot != b.id.Slot {
		return a.id.Slot < b.id.Slot
	}
	return a.id.FECSetIndex < b.id.FECSetIndex
}

// WorkingSet is the per-call scratch overlay layered over the store
// (§4.2). It is not safe for concurrent use; the inserter's exclusive
// lock guarantees single-threaded access for the duration of one Insert
// call.
type WorkingSet struct {
	store kv.Store

	slotMetas   map[uint64]*cachedEntry[*SlotMeta]
	indexes     map[uint64]*indexEntry
	erasureMeta *btree.BTreeG[erasureMetaNode]
	merkleRoots map[shred.ErasureSetId]*cachedEntry[*MerkleRootMeta]

	// justInsertedShreds owns parsed shreds admitted during this call,
	// keyed by ShredId, so later phases (recovery, chaining) can resolve
	// conflicts without re-reading the store (§4.2).
	justInsertedShreds map[shred.ShredId]shred.Shred
	// justInsertedPayloads mirrors justInsertedShreds but keyed for easy
	// lookup of the raw bytes staged for retransmission.
	justInsertedPayloads map[shred.ShredId][]byte

	// indexMetaElapsed accumulates the time spent on cache-miss store
	// reads of slot_meta/index, reported as index_meta_time_us (§6).
	indexMetaElapsed time.Duration
}

// NewWorkingSet opens an empty working set over store, for one Insert
// call.
func NewWorkingSet(store kv.Store) *WorkingSet {
	return &WorkingSet{
		store:                 store,
		slotMetas:             make(map[uint64]*cachedEntry[*SlotMeta]),
		indexes:               make(map[uint64]*indexEntry),
		erasureMeta:           btree.NewG(32, erasureMetaLess),
		merkleRoots:           make(map[shred.ErasureSetId]*cachedEntry[*MerkleRootMeta]),
		justInsertedShreds:    make(map[shred.ShredId]shred.Shred),
		justInsertedPayloads:  make(map[shred.ShredId][]byte),
	}
}

// --- slot_meta ---

func (w *WorkingSet) SlotMeta(slot uint64) (*SlotMeta, error) {
	if e, ok := w.slotMetas[slot]; ok {
		return e.value, nil
	}
	fetchStart := time.Now()
	key := SlotKey(slot)
	m, err := kv.GetDecoded[SlotMeta](w.store, cfSlotMeta, key[:])
	w.indexMetaElapsed += time.Since(fetchStart)
	if err == kv.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, storeError("get slot_meta", err)
	}
	m.Slot = slot
	w.slotMetas[slot] = clean(m)
	return m, nil
}

func (w *WorkingSet) PutSlotMeta(slot uint64, m *SlotMeta) {
	w.slotMetas[slot] = dirty(m)
}

func (w *WorkingSet) DirtySlotMetas() map[uint64]*SlotMeta {
	out := make(map[uint64]*SlotMeta)
	for slot, e := range w.slotMetas {
		if e.dirty {
			out[slot] = e.value
		}
	}
	return out
}

// --- index ---

func (w *WorkingSet) Index(slot uint64) (*Index, error) {
	if e, ok := w.indexes[slot]; ok {
		return e.value, nil
	}
	fetchStart := time.Now()
	key := SlotKey(slot)
	idx, err := kv.GetDecoded[Index](w.store, cfIndex, key[:])
	w.indexMetaElapsed += time.Since(fetchStart)
	if err == kv.ErrNotFound {
		idx = NewIndex(slot)
	} else if err != nil {
		return nil, storeError("get index", err)
	}
	idx.Slot = slot
	w.indexes[slot] = &indexEntry{value: idx}
	return idx, nil
}

// IndexMetaElapsed returns the accumulated time spent on cache-miss
// store reads of slot_meta/index this call, for index_meta_time_us (§6).
func (w *WorkingSet) IndexMetaElapsed() time.Duration {
	return w.indexMetaElapsed
}

func (w *WorkingSet) MarkIndexInserted(slot uint64) {
	if e, ok := w.indexes[slot]; ok {
		e.didInsertOccur = true
	}
}

func (w *WorkingSet) DirtyIndexes() map[uint64]*Index {
	out := make(map[uint64]*Index)
	for slot, e := range w.indexes {
		if e.didInsertOccur {
			out[slot] = e.value
		}
	}
	return out
}

// --- erasure_meta ---

func (w *WorkingSet) ErasureMeta(id shred.ErasureSetId) (*ErasureMeta, error) {
	if node, ok := w.erasureMeta.Get(erasureMetaNode{id: id}); ok {
		return node.entry.value, nil
	}
	key := ErasureSetKey(id.Slot, id.FECSetIndex)
	m, err := kv.GetDecoded[ErasureMeta](w.store, cfErasureMeta, key[:])
	if err == kv.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, storeError("get erasure_meta", err)
	}
	w.erasureMeta.ReplaceOrInsert(erasureMetaNode{id: id, entry: clean(m)})
	return m, nil
}

func (w *WorkingSet) PutErasureMeta(id shred.ErasureSetId, m *ErasureMeta) {
	w.erasureMeta.ReplaceOrInsert(erasureMetaNode{id: id, entry: dirty(m)})
}

// DirtyErasureMetaIds returns every erasure set touched this call, in
// ascending (slot, fec_set_index) order.
func (w *WorkingSet) DirtyErasureMetaIds() []shred.ErasureSetId {
	var ids []shred.ErasureSetId
	w.erasureMeta.Ascend(func(n erasureMetaNode) bool {
		if n.entry.dirty {
			ids = append(ids, n.id)
		}
		return true
	})
	return ids
}

// NextErasureSet returns the first erasure set after id in the same
// slot (§4.7 forward check). An adjacent set need not have been
// touched by this call to be found: the in-memory working set is
// checked first, and the persisted store is scanned as well, so a
// neighbor committed by an earlier Insert call is not missed.
func (w *WorkingSet) NextErasureSet(id shred.ErasureSetId) (shred.ErasureSetId, *ErasureMeta, bool) {
	var found erasureMetaNode
	memOK := false
	w.erasureMeta.AscendGreaterOrEqual(erasureMetaNode{id: shred.ErasureSetId{Slot: id.Slot, FECSetIndex: id.FECSetIndex + 1}}, func(n erasureMetaNode) bool {
		if n.id.Slot != id.Slot {
			return false
		}
		found = n
		memOK = true
		return false
	})

	storeID, storeOK := w.nextErasureSetInStore(id)

	switch {
	case memOK && storeOK:
		if storeID.FECSetIndex < found.id.FECSetIndex {
			return w.erasureSetByID(storeID)
		}
		return found.id, found.entry.value, true
	case memOK:
		return found.id, found.entry.value, true
	case storeOK:
		return w.erasureSetByID(storeID)
	default:
		return shred.ErasureSetId{}, nil, false
	}
}

// nextErasureSetInStore scans cfErasureMeta forward from id for the
// first key in the same slot past id.FECSetIndex.
func (w *WorkingSet) nextErasureSetInStore(id shred.ErasureSetId) (shred.ErasureSetId, bool) {
	it := w.store.NewIterator(cfErasureMeta)
	defer it.Close()
	seekKey := ErasureSetKey(id.Slot, id.FECSetIndex+1)
	it.Seek(seekKey[:])
	if !it.Valid() {
		return shred.ErasureSetId{}, false
	}
	slot, fecIndex := ParseShredKey(it.Key())
	if slot != id.Slot {
		return shred.ErasureSetId{}, false
	}
	return shred.ErasureSetId{Slot: slot, FECSetIndex: fecIndex}, true
}

// erasureSetByID loads id through the normal dirty/clean overlay path
// so a store-discovered neighbor still reflects any uncommitted change
// staged for it earlier in this same call.
func (w *WorkingSet) erasureSetByID(id shred.ErasureSetId) (shred.ErasureSetId, *ErasureMeta, bool) {
	m, err := w.ErasureMeta(id)
	if err != nil || m == nil {
		return shred.ErasureSetId{}, nil, false
	}
	return id, m, true
}

// PrevErasureSet returns the last erasure set before id in the same
// slot (§4.7 backward check), consulting both the in-memory working set
// and the persisted store, for the same reason as NextErasureSet.
func (w *WorkingSet) PrevErasureSet(id shred.ErasureSetId) (shred.ErasureSetId, *ErasureMeta, bool) {
	if id.FECSetIndex == 0 {
		return shred.ErasureSetId{}, nil, false
	}
	var found erasureMetaNode
	memOK := false
	w.erasureMeta.DescendLessOrEqual(erasureMetaNode{id: shred.ErasureSetId{Slot: id.Slot, FECSetIndex: id.FECSetIndex - 1}}, func(n erasureMetaNode) bool {
		if n.id.Slot != id.Slot {
			return false
		}
		found = n
		memOK = true
		return false
	})

	storeID, storeOK := w.prevErasureSetInStore(id)

	switch {
	case memOK && storeOK:
		if storeID.FECSetIndex > found.id.FECSetIndex {
			return w.erasureSetByID(storeID)
		}
		return found.id, found.entry.value, true
	case memOK:
		return found.id, found.entry.value, true
	case storeOK:
		return w.erasureSetByID(storeID)
	default:
		return shred.ErasureSetId{}, nil, false
	}
}

// prevErasureSetInStore scans cfErasureMeta forward from the start of
// id.Slot's key range, since kv.Iterator exposes no reverse/Prev
// primitive, tracking the last entry seen below id.FECSetIndex.
func (w *WorkingSet) prevErasureSetInStore(id shred.ErasureSetId) (shred.ErasureSetId, bool) {
	it := w.store.NewIterator(cfErasureMeta)
	defer it.Close()
	startKey := ErasureSetKey(id.Slot, 0)
	it.Seek(startKey[:])
	var last shred.ErasureSetId
	ok := false
	for ; it.Valid(); it.Next() {
		slot, fecIndex := ParseShredKey(it.Key())
		if slot != id.Slot || fecIndex >= id.FECSetIndex {
			break
		}
		last = shred.ErasureSetId{Slot: slot, FECSetIndex: fecIndex}
		ok = true
	}
	return last, ok
}

// --- merkle_root_meta ---

func (w *WorkingSet) MerkleRootMeta(id shred.ErasureSetId) (*MerkleRootMeta, error) {
	if e, ok := w.merkleRoots[id]; ok {
		return e.value, nil
	}
	key := ErasureSetKey(id.Slot, id.FECSetIndex)
	m, err := kv.GetDecoded[MerkleRootMeta](w.store, cfMerkleRootMeta, key[:])
	if err == kv.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, storeError("get merkle_root_meta", err)
	}
	w.merkleRoots[id] = clean(m)
	return m, nil
}

func (w *WorkingSet) PutMerkleRootMeta(id shred.ErasureSetId, m *MerkleRootMeta) {
	w.merkleRoots[id] = dirty(m)
}

func (w *WorkingSet) DirtyMerkleRoots() map[shred.ErasureSetId]*MerkleRootMeta {
	out := make(map[shred.ErasureSetId]*MerkleRootMeta)
	for id, e := range w.merkleRoots {
		if e.dirty {
			out[id] = e.value
		}
	}
	return out
}

// --- just_inserted_shreds ---

func (w *WorkingSet) RecordInserted(s shred.Shred, payload []byte) {
	id := s.ShredId()
	w.justInsertedShreds[id] = s
	w.justInsertedPayloads[id] = payload
}

func (w *WorkingSet) JustInserted(id shred.ShredId) (shred.Shred, bool) {
	s, ok := w.justInsertedShreds[id]
	return s, ok
}

func (w *WorkingSet) JustInsertedPayload(id shred.ShredId) ([]byte, bool) {
	p, ok := w.justInsertedPayloads[id]
	return p, ok
}
