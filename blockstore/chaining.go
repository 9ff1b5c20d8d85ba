package blockstore

import "github.com/terorie/shredstore/kv"

// chainSlots maintains parent_slot/next_slots/orphans and propagates the
// "connected" flag as slots arrive out of order (§4.8).
func (db *DB) chainSlots(ws *WorkingSet, batch kv.Batch) error {
	touched := ws.DirtySlotMetas()

	for slot, meta := range touched {
		if slot == 0 {
			// Genesis: parent_slot == 0 is the (0,0,0) self-referential
			// marker from §4.9, not a real parent link — it must never
			// be chained into its own next_slots.
			continue
		}
		if meta.HasParent() {
			parentMeta, err := ws.SlotMeta(meta.ParentSlot)
			if err != nil {
				return err
			}
			if parentMeta == nil {
				// The parent has never been observed: create a stub
				// orphan row purely to hold the reverse link, so that
				// when the parent's own shreds eventually arrive its
				// next_slots already records slot (§4.8 step 1, agave
				// parity — see scenario S2).
				parentMeta = NewSlotMeta(meta.ParentSlot, nil)
				parentKey := SlotKey(meta.ParentSlot)
				batch.Put(cfOrphans, parentKey[:], []byte{1})
			}
			parentMeta.AddNextSlot(slot)
			ws.PutSlotMeta(meta.ParentSlot, parentMeta)
			key := SlotKey(slot)
			batch.Delete(cfOrphans, key[:])
			continue
		}
		key := SlotKey(slot)
		batch.Put(cfOrphans, key[:], []byte{1})
	}

	// Re-snapshot: the loop above may have dirtied parent slot metas
	// that weren't in the original touched set.
	for slot, meta := range ws.DirtySlotMetas() {
		if err := db.propagateConnected(ws, slot, meta); err != nil {
			return err
		}
	}
	return nil
}

// propagateConnected recomputes is_parent_connected/is_connected for
// slot and, if it newly became connected, recurses into its children
// (§4.8 step 3, §3 invariant 6).
func (db *DB) propagateConnected(ws *WorkingSet, slot uint64, meta *SlotMeta) error {
	var parentConnected bool
	switch {
	case slot == 0:
		parentConnected = true // base case of the induction (§3 invariant 6)
	case meta.HasParent():
		parentMeta, err := ws.SlotMeta(meta.ParentSlot)
		if err != nil {
			return err
		}
		if parentMeta != nil {
			parentConnected = parentMeta.IsFull() && parentMeta.IsConnected
		}
	}

	meta.IsParentConnected = parentConnected
	wasConnected := meta.IsConnected
	if parentConnected && meta.IsFull() {
		meta.IsConnected = true
	}
	ws.PutSlotMeta(slot, meta)

	if !wasConnected && meta.IsConnected {
		for _, child := range meta.NextSlots {
			childMeta, err := ws.SlotMeta(child)
			if err != nil {
				return err
			}
			if childMeta != nil {
				if err := db.propagateConnected(ws, child, childMeta); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
