package blockstore

import "encoding/binary"

// Keys are serialised big-endian so lexicographic byte order matches
// numeric order (§4.1); composite keys sort primarily by slot, then by
// the second component. Mirrors the teacher's MakeSlotKey/MakeShredKey.

// SlotKey is the key for slot_meta, index, dead_slots, orphans,
// duplicate_slots, and root.
func SlotKey(slot uint64) (key [8]byte) {
	binary.BigEndian.PutUint64(key[0:8], slot)
	return
}

// ShredKey is the key for data_shred / code_shred: (slot, index).
func ShredKey(slot uint64, index uint32) (key [12]byte) {
	binary.BigEndian.PutUint64(key[0:8], slot)
	binary.BigEndian.PutUint32(key[8:12], index)
	return
}

// ErasureSetKey is the key for erasure_meta / merkle_root_meta:
// (slot, fec_set_index).
func ErasureSetKey(slot uint64, fecSetIndex uint32) (key [12]byte) {
	binary.BigEndian.PutUint64(key[0:8], slot)
	binary.BigEndian.PutUint32(key[8:12], fecSetIndex)
	return
}

// ParseSlotKey decodes a SlotKey.
func ParseSlotKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// ParseShredKey decodes a ShredKey or ErasureSetKey.
func ParseShredKey(key []byte) (first uint64, second uint32) {
	first = binary.BigEndian.Uint64(key[0:8])
	second = binary.BigEndian.Uint32(key[8:12])
	return
}
