package blockstore

import (
	"go.uber.org/atomic"

	"github.com/terorie/shredstore/kv"
)

// CfRoot holds one key per rooted slot; its last key is the highest root
// known to the validator. An external pruning subsystem (out of scope,
// §1) appends to it; the inserter only ever reads it, with relaxed
// ordering (§5).
const CfRoot kv.ColumnFamily = "root"

// RootTracker exposes max_root as the atomic scalar described in §5: the
// inserter reads it with relaxed ordering and never writes it.
type RootTracker struct {
	maxRoot atomic.Uint64
}

// NewRootTracker creates a tracker seeded at 0 (genesis).
func NewRootTracker() *RootTracker {
	return &RootTracker{}
}

// MaxRoot reads the current root with relaxed (atomic, unlocked)
// ordering.
func (r *RootTracker) MaxRoot() uint64 {
	return r.maxRoot.Load()
}

// Set is used by the external pruning subsystem to publish a new root.
// Never called by the inserter itself.
func (r *RootTracker) Set(root uint64) {
	r.maxRoot.Store(root)
}

// Refresh re-derives max_root from the store's CfRoot column family by
// seeking to its last key, the way the teacher's MaxRoot() does over
// CfRoot.
func (r *RootTracker) Refresh(store kv.Store) error {
	it := store.NewIterator(CfRoot)
	defer it.Close()
	it.SeekToLast()
	if !it.Valid() {
		return nil
	}
	r.Set(ParseSlotKey(it.Key()))
	return nil
}
