package blockstore

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/exp/constraints"

	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/shred"
)

// Block is one slot's assembled entries, the way the teacher's read path
// reconstructed it — adapted here onto the insertion core's own
// SlotMeta/kv.Store instead of a direct grocksdb handle.
type Block struct {
	BlockHash    solana.Hash
	ParentSlot   uint64
	Transactions []solana.Transaction
}

// CompletedRange is a closed [StartIndex, EndIndex] run of data shred
// indices that together hold one or more whole entries.
type CompletedRange struct {
	StartIndex uint32
	EndIndex   uint32
}

// Entry is one deshredded ledger entry.
type Entry struct {
	NumHashes    uint64               `yaml:"num_hashes"`
	Hash         solana.Hash          `yaml:"hash"`
	NumTxns      uint64               `bin:"sizeof=Transactions" yaml:"-"`
	Transactions []solana.Transaction `yaml:"transactions"`
}

// GetSlotMeta returns the shredding metadata of a given slot.
func (db *DB) GetSlotMeta(slot uint64) (*SlotMeta, error) {
	key := SlotKey(slot)
	m, err := kv.GetDecoded[SlotMeta](db.Store, cfSlotMeta, key[:])
	if err != nil {
		return nil, err
	}
	m.Slot = slot
	return m, nil
}

// MultiGetSlotMeta does multiple GetSlotMeta calls.
func (db *DB) MultiGetSlotMeta(slots ...uint64) ([]*SlotMeta, error) {
	out := make([]*SlotMeta, len(slots))
	for i, slot := range slots {
		m, err := db.GetSlotMeta(slot)
		if err == kv.ErrNotFound {
			continue
		} else if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// IterSlotMetas opens an iterator over the slot_meta column family. It's
// the caller's responsibility to Close it.
func (db *DB) IterSlotMetas() kv.Iterator {
	return db.Store.NewIterator(cfSlotMeta)
}

// IsSlotDead reports whether slot was marked dead during admission
// (§3, §4.4 step c).
func (db *DB) IsSlotDead(slot uint64) (bool, error) {
	key := SlotKey(slot)
	return db.Store.Contains(cfDeadSlots, key[:])
}

// GetDataShred returns the raw payload of one data shred.
func (db *DB) GetDataShred(slot uint64, index uint32) ([]byte, error) {
	key := ShredKey(slot, index)
	return db.Store.Get(cfDataShred, key[:])
}

// GetCodingShred returns the raw payload of one code shred.
func (db *DB) GetCodingShred(slot uint64, index uint32) ([]byte, error) {
	key := ShredKey(slot, index)
	return db.Store.Get(cfCodeShred, key[:])
}

// GetBlock assembles slot's entries into a Block, the way the teacher's
// GetBlock did over its old SlotMeta/grocksdb pair.
func (db *DB) GetBlock(slot uint64) (*Block, error) {
	meta, err := db.GetSlotMeta(slot)
	if err != nil {
		return nil, err
	}
	if !meta.IsFull() {
		return nil, kv.ErrNotFound
	}
	entries, _, _, err := db.GetSlotEntries(slot, 0, false)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, kv.ErrNotFound
	}
	blockHash := entries[len(entries)-1].Hash
	var txns []solana.Transaction
	for _, entry := range entries {
		txns = append(txns, entry.Transactions...)
	}
	return &Block{
		BlockHash:    blockHash,
		ParentSlot:   meta.ParentSlot,
		Transactions: txns,
	}, nil
}

// GetSlotEntries returns the entry vector for slot starting at
// startIndex, the number of shreds spanned, and whether the slot is
// full (every shred up to last_index consumed).
func (db *DB) GetSlotEntries(
	slot uint64,
	startIndex uint32,
	allowDeadSlots bool,
) (entries []Entry, numShreds uint64, isFull bool, err error) {
	completedRanges, meta, err := db.getCompletedRanges(slot, startIndex)
	if err != nil {
		return nil, 0, false, err
	}

	if !allowDeadSlots {
		isDead, err := db.IsSlotDead(slot)
		if err != nil {
			return nil, 0, false, err
		}
		if isDead {
			return nil, 0, false, ErrDeadSlot
		}
	}

	if len(completedRanges) > 0 {
		numShreds = uint64(completedRanges[len(completedRanges)-1].EndIndex) - uint64(startIndex) + 1
	}

	for _, r := range completedRanges {
		subEntries, err := db.GetEntriesInDataBlock(slot, r.StartIndex, r.EndIndex)
		if err != nil {
			return entries, numShreds, false, err
		}
		entries = append(entries, subEntries...)
	}

	if meta != nil {
		isFull = meta.IsFull()
	}
	return entries, numShreds, isFull, nil
}

func (db *DB) getCompletedRanges(slot uint64, startIndex uint32) ([]CompletedRange, *SlotMeta, error) {
	meta, err := db.GetSlotMeta(slot)
	if err == kv.ErrNotFound {
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, err
	}
	ranges := getCompletedDataRanges(startIndex, meta.CompletedDataIndexes, uint32(meta.Consumed))
	return ranges, meta, nil
}

// getCompletedDataRanges returns the [start, end] index ranges of every
// completed data block at or after startIndex.
func getCompletedDataRanges(startIndex uint32, completedDataIndexes []uint32, consumed uint32) []CompletedRange {
	completedDataIndexes = sliceSortedByRange(completedDataIndexes, startIndex, consumed)
	var ranges []CompletedRange
	begin := startIndex
	for _, index := range completedDataIndexes {
		ranges = append(ranges, CompletedRange{begin, index})
		begin = index + 1
	}
	return ranges
}

// GetEntriesInDataBlock deshreds and decodes the entries carried by data
// shreds [startIndex, endIndex] of slot.
func (db *DB) GetEntriesInDataBlock(slot uint64, startIndex, endIndex uint32) ([]Entry, error) {
	iter := db.Store.NewIterator(cfDataShred)
	defer iter.Close()
	key := ShredKey(slot, startIndex)
	iter.Seek(key[:])

	var shreds []*shred.DataShred
	for i := startIndex; i <= endIndex; i++ {
		if !iter.Valid() {
			return nil, fmt.Errorf("blockstore: missing data shred for slot %d, index %d", slot, i)
		}
		keySlot, keyIndex := ParseShredKey(iter.Key())
		if keySlot != slot || keyIndex != i {
			return nil, fmt.Errorf("blockstore: missing data shred for slot %d, index %d", slot, i)
		}
		parsed, err := shred.Parse(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("blockstore: decode shred %d/%d: %w", slot, i, err)
		}
		ds, ok := parsed.(*shred.DataShred)
		if !ok {
			return nil, fmt.Errorf("blockstore: shred %d/%d is not a data shred", slot, i)
		}
		shreds = append(shreds, ds)
		iter.Next()
	}

	payload, err := shred.Deshred(shreds)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Count   uint64 `bin:"sizeof=Entries"`
		Entries []Entry
	}
	dec := bin.NewBinDecoder(payload)
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded.Entries, nil
}

func sliceSortedByRange[T constraints.Ordered](list []T, start, stop T) []T {
	for len(list) > 0 && list[0] < start {
		list = list[1:]
	}
	for len(list) > 0 && list[len(list)-1] >= stop {
		list = list[:len(list)-1]
	}
	return list
}
