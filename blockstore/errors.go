package blockstore

import (
	"errors"
	"fmt"
)

// Error kinds raised or caught by the insertion core (§7). Exists and
// InvalidShred are swallowed per-shred by the pipeline; StoreError aborts
// the call; DecodeError and SignatureMismatch are swallowed per-shred or
// per-set during recovery.
var (
	// ErrExists is returned when a shred at this (slot, index, kind) is
	// already stored or staged in the working set.
	ErrExists = errors.New("blockstore: shred exists")
	// ErrInvalidShred is returned when an admission rule or Merkle-root
	// check rejects a shred.
	ErrInvalidShred = errors.New("blockstore: invalid shred")
	// ErrInvalidErasureConfig is returned when a code shred's
	// (num_data, num_code) disagrees with its erasure set's recorded
	// config — a distinct invalid-shred case (§6) counted separately.
	ErrInvalidErasureConfig = errors.New("blockstore: code shred erasure config conflict")
	// ErrDecode names a failed Reed-Solomon decode of an erasure set.
	// Recovery swallows such failures (the set is skipped), so no
	// function returns it.
	ErrDecode = errors.New("blockstore: decode failed")
	// ErrSignatureMismatch names a recovered shred that fails
	// verification against the slot leader's public key. Recovery counts
	// and drops such shreds, so no function returns it.
	ErrSignatureMismatch = errors.New("blockstore: recovered shred signature mismatch")
	// ErrDeadSlot marks a slot that will not be replayed.
	ErrDeadSlot = errors.New("blockstore: dead slot")
	// ErrNoLeader names a slot with no leader schedule entry. Recovery
	// drops shreds for such slots, and no function returns it.
	ErrNoLeader = errors.New("blockstore: no leader for slot")
)

// storeError wraps an underlying kv.Store failure (§7 "StoreError"):
// these abort the call, the write batch is dropped, no partial commit
// happens.
func storeError(op string, err error) error {
	return fmt.Errorf("blockstore: store error during %s: %w", op, err)
}
