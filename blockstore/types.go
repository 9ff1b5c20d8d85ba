// Package blockstore implements the shred insertion core: ingestion of
// out-of-order erasure-coded shreds, forward error correction, Merkle
// and slot chain validation, equivocation detection, and atomic commit
// to a column-family store.
//
// It generalizes the teacher client's read path (slot metadata, data
// shred/code shred column families) to also admit and commit new
// shreds: see blockstore.DB, its Insert method and the working-set
// overlay in workingset.go.
package blockstore

import (
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/terorie/shredstore/shred"
)

// noSlot is the bincode sentinel for an absent optional slot, matching
// the teacher's SlotMeta.ParentSlot/LastIndex encoding (math.MaxUint64
// for "None").
const noSlot = math.MaxUint64

// SlotMeta records everything known about one slot's data shreds (§3).
type SlotMeta struct {
	Slot                    uint64   `yaml:"-"`
	ParentSlot              uint64   `yaml:"parent_slot"` // noSlot == None
	NumNextSlots            uint64   `bin:"sizeof=NextSlots" yaml:"-"`
	NextSlots               []uint64 `yaml:"next_slots"`
	Received                uint64   `yaml:"received"`
	Consumed                uint64   `yaml:"consumed"` // consecutive_received_from_0
	LastIndex               uint64   `yaml:"last_index"` // noSlot == None
	NumCompletedDataIndexes uint64   `bin:"sizeof=CompletedDataIndexes" yaml:"-"`
	CompletedDataIndexes    []uint32 `yaml:"completed_data_indexes"`
	FirstShredTimestamp     uint64   `yaml:"first_shred_timestamp_milli"`
	IsConnected             bool     `yaml:"is_connected"`
	IsParentConnected       bool     `yaml:"is_parent_connected"`
}

// NewSlotMeta creates the metadata record for a slot first observed as a
// child of parent (or as an orphan, if parent is nil).
func NewSlotMeta(slot uint64, parent *uint64) *SlotMeta {
	m := &SlotMeta{Slot: slot, ParentSlot: noSlot, LastIndex: noSlot}
	if parent != nil {
		m.ParentSlot = *parent
	}
	return m
}

// HasParent reports whether the slot's parent is known.
func (m *SlotMeta) HasParent() bool { return m.ParentSlot != noSlot }

// IsOrphan reports whether the slot's parent is unknown (§3 invariant).
func (m *SlotMeta) IsOrphan() bool { return !m.HasParent() }

// HasLastIndex reports whether a last_in_slot shred has been observed.
func (m *SlotMeta) HasLastIndex() bool { return m.LastIndex != noSlot }

// IsFull reports whether every data index up to and including LastIndex
// has been consumed (§3 derived predicate).
func (m *SlotMeta) IsFull() bool {
	if !m.HasLastIndex() {
		return false
	}
	return m.Consumed == m.LastIndex+1
}

// AddNextSlot appends child to NextSlots with set semantics (§4.8).
func (m *SlotMeta) AddNextSlot(child uint64) {
	for _, s := range m.NextSlots {
		if s == child {
			return
		}
	}
	m.NextSlots = append(m.NextSlots, child)
	m.NumNextSlots = uint64(len(m.NextSlots))
}

// IndexSet is a compact ordered set of shred indices within one slot
// (the "index" column family's per-kind field, §3).
type IndexSet struct {
	NumEntries uint64   `bin:"sizeof=Entries"`
	Entries    []uint32 // sorted ascending, no duplicates
}

// Contains reports whether i is a member of the set.
func (s *IndexSet) Contains(i uint32) bool {
	lo, hi := 0, len(s.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case s.Entries[mid] == i:
			return true
		case s.Entries[mid] < i:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// Insert adds i to the set if absent, preserving sort order.
func (s *IndexSet) Insert(i uint32) {
	lo, hi := 0, len(s.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.Entries[mid] < i {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.Entries) && s.Entries[lo] == i {
		return
	}
	s.Entries = append(s.Entries, 0)
	copy(s.Entries[lo+1:], s.Entries[lo:])
	s.Entries[lo] = i
	s.NumEntries = uint64(len(s.Entries))
}

// Index is the per-slot record tracking which data/code indices are
// already stored (§3; invariant 1).
type Index struct {
	Slot uint64   `yaml:"-"`
	Data IndexSet `yaml:"data"`
	Code IndexSet `yaml:"code"`
}

// NewIndex creates an empty index record for slot.
func NewIndex(slot uint64) *Index { return &Index{Slot: slot} }

// ErasureConfig is the (num_data, num_code) shape of one erasure set.
type ErasureConfig struct {
	NumData uint16 `yaml:"num_data"`
	NumCode uint16 `yaml:"num_code"`
}

// ErasureStatus classifies an erasure set's recoverability (§3 derived).
type ErasureStatus int

const (
	StillNeed ErasureStatus = iota
	CanRecover
	DataFull
)

// ErasureMeta tracks one erasure (FEC) set's coding shreds (§3).
type ErasureMeta struct {
	SetIndex               uint32        `yaml:"set_index"`
	FirstReceivedCodeIndex uint64        `yaml:"first_received_code_index"`
	Config                 ErasureConfig `yaml:"config"`
}

// DataShredsIndices returns the half-open [begin, end) data index range
// this set covers.
func (e *ErasureMeta) DataShredsIndices() (begin, end uint32) {
	begin = e.SetIndex
	end = begin + uint32(e.Config.NumData)
	return
}

// CodeShredsIndices returns the half-open [begin, end) code index range.
func (e *ErasureMeta) CodeShredsIndices() (begin, end uint32) {
	begin = uint32(e.FirstReceivedCodeIndex)
	end = begin + uint32(e.Config.NumCode)
	return
}

// Status reports whether the set still needs shreds, can already be
// Reed-Solomon recovered, or has all its data shreds.
func (e *ErasureMeta) Status(numReceivedData, numReceivedCode int) ErasureStatus {
	switch {
	case numReceivedData >= int(e.Config.NumData):
		return DataFull
	case numReceivedData+numReceivedCode >= int(e.Config.NumData):
		return CanRecover
	default:
		return StillNeed
	}
}

// MerkleRootMeta records the Merkle root committed by the first shred
// observed in an erasure set, and which shred committed it (§3).
type MerkleRootMeta struct {
	HasMerkleRoot         bool        `yaml:"-"`
	MerkleRoot            solana.Hash `yaml:"merkle_root"`
	FirstReceivedShredIndex uint32    `yaml:"first_received_shred_index"`
	FirstReceivedShredType  shred.Kind `yaml:"first_received_shred_type"`
}

// MerkleRootMetaFromShred builds a MerkleRootMeta from the shred that first touches an
// erasure set.
func MerkleRootMetaFromShred(s shred.Shred) MerkleRootMeta {
	root, has := s.MerkleRoot()
	return MerkleRootMeta{
		HasMerkleRoot:           has,
		MerkleRoot:              root,
		FirstReceivedShredIndex: s.Common().Index,
		FirstReceivedShredType:  s.Kind(),
	}
}

// DuplicateKind classifies the equivocation evidence recorded for one
// rejected shred (§7).
type DuplicateKind int

const (
	DuplicateExists DuplicateKind = iota
	DuplicateLastIndexConflict
	DuplicateErasureConflict
	DuplicateMerkleRootConflict
	DuplicateChainedMerkleRootConflict
)

// DuplicateShred is one detected equivocation: the incoming shred that
// was rejected, and (when available) the conflicting payload already on
// record.
type DuplicateShred struct {
	Kind     DuplicateKind
	ShredId  shred.ShredId
	Original []byte
	Conflict []byte
}

// DuplicateSlotProof is the persisted evidence of leader equivocation for
// a slot: two distinct payloads from the same leader (§3).
type DuplicateSlotProof struct {
	Slot      uint64 `yaml:"-"`
	ShredA    []byte `yaml:"shred_a"`
	ShredB    []byte `yaml:"shred_b"`
}

// CompletedDataSetInfo names one newly closed data-set boundary (§4.4.1).
type CompletedDataSetInfo struct {
	Slot  uint64
	Start uint32
	End   uint32
}
