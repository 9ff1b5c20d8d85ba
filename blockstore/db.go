package blockstore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/terorie/shredstore/kv"
)

// Column families touched by the insertion core (§3). data_shred and
// code_shred additionally serve read paths (GetDataShred etc., see
// reader.go).
const (
	cfDataShred      kv.ColumnFamily = "data_shred"
	cfCodeShred      kv.ColumnFamily = "code_shred"
	cfSlotMeta       kv.ColumnFamily = "slot_meta"
	cfIndex          kv.ColumnFamily = "index"
	cfErasureMeta    kv.ColumnFamily = "erasure_meta"
	cfMerkleRootMeta kv.ColumnFamily = "merkle_root_meta"
	cfDeadSlots      kv.ColumnFamily = "dead_slots"
	cfOrphans        kv.ColumnFamily = "orphans"
	cfDuplicateSlots kv.ColumnFamily = "duplicate_slots"
)

// LeaderProvider resolves the leader public key scheduled for a slot.
// Absent the entry, recovery is disabled for that slot's erasure sets
// (§2, §4.6). Treated as a pure external collaborator (§1, §6).
type LeaderProvider func(slot uint64) (leader [32]byte, ok bool)

// DB is the shred-insertion core's handle onto the column-family store.
// One DB serialises every Insert call against an exclusive mutex (§5);
// concurrent point-lookups from other subsystems may run unlocked and
// will only ever observe the store at the last committed batch boundary.
type DB struct {
	Store kv.Store
	Root  *RootTracker

	insertLock sync.Mutex

	leaderProvider LeaderProvider
	metrics        *Metrics
	log            *zap.Logger
	tickRate       uint64
}

// NewDB wraps store with the insertion core. leaderProvider may be nil,
// which disables Reed-Solomon recovery entirely (§2: "disables recovery
// when absent").
func NewDB(store kv.Store, root *RootTracker, leaderProvider LeaderProvider, metrics *Metrics, log *zap.Logger) *DB {
	if log == nil {
		log = zap.NewNop()
	}
	return &DB{
		Store:          store,
		Root:           root,
		leaderProvider: leaderProvider,
		metrics:        metrics,
		log:            log,
		tickRate:       defaultTicksPerSecond,
	}
}

// SetTickRate overrides the ticks-per-second rate used to back-date
// first_shred_timestamp_milli (§4.4 step 5). Mainnet runs at 160; a
// test cluster may use a different rate (ledgertool insert --tick-rate).
func (db *DB) SetTickRate(ticksPerSecond uint64) {
	if ticksPerSecond == 0 {
		ticksPerSecond = defaultTicksPerSecond
	}
	db.tickRate = ticksPerSecond
}
