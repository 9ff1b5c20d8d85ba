package blockstore

import (
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terorie/shredstore/kv"
	"github.com/terorie/shredstore/memkv"
	"github.com/terorie/shredstore/shred"
)

// newTestDB builds a DB over a fresh in-memory store, with its own
// isolated Prometheus registry (as ledgertool's insert subcommand does,
// see ledgertool/main.go) so parallel tests never collide on global
// metric names.
func newTestDB(t *testing.T, leader LeaderProvider) *DB {
	t.Helper()
	store := memkv.New()
	root := NewRootTracker()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewDB(store, root, leader, metrics, zap.NewNop())
}

// buildDataShred assembles a minimal legacy data shred payload, signed
// with key if non-nil (zero signature otherwise).
func buildDataShred(key ed25519.PrivateKey, slot uint64, index, fecSetIndex uint32, parentOffset uint16, flags uint8, dataLen int) []byte {
	size := commonHeaderSizeT() + dataHeaderSizeT() + dataLen
	buf := make([]byte, size)
	buf[64] = shred.LegacyDataID
	binary.LittleEndian.PutUint64(buf[65:73], slot)
	binary.LittleEndian.PutUint32(buf[73:77], index)
	binary.LittleEndian.PutUint32(buf[79:83], fecSetIndex)
	off := commonHeaderSizeT()
	binary.LittleEndian.PutUint16(buf[off:off+2], parentOffset)
	buf[off+2] = flags
	binary.LittleEndian.PutUint16(buf[off+3:off+5], uint16(size))
	signInPlace(key, buf)
	return buf
}

func buildCodeShred(key ed25519.PrivateKey, slot uint64, index, fecSetIndex uint32, numData, numCode, position uint16) []byte {
	size := commonHeaderSizeT() + codeHeaderSizeT()
	buf := make([]byte, size)
	buf[64] = shred.LegacyCodeID
	binary.LittleEndian.PutUint64(buf[65:73], slot)
	binary.LittleEndian.PutUint32(buf[73:77], index)
	binary.LittleEndian.PutUint32(buf[79:83], fecSetIndex)
	off := commonHeaderSizeT()
	binary.LittleEndian.PutUint16(buf[off:off+2], numData)
	binary.LittleEndian.PutUint16(buf[off+2:off+4], numCode)
	binary.LittleEndian.PutUint16(buf[off+4:off+6], position)
	signInPlace(key, buf)
	return buf
}

// buildMerkleCodeShred assembles a Merkle-variant code shred carrying
// root as its committed Merkle root (no chained root).
func buildMerkleCodeShred(t *testing.T, slot uint64, index, fecSetIndex uint32, numData, numCode, position uint16, root [32]byte) []byte {
	t.Helper()
	base := buildCodeShred(nil, slot, index, fecSetIndex, numData, numCode, position)
	base[64] = shred.MerkleCodeID
	return append(base, root[:]...)
}

func signInPlace(key ed25519.PrivateKey, buf []byte) {
	if key == nil {
		return
	}
	sig := ed25519.Sign(key, buf[64:])
	copy(buf[0:64], sig)
}

func commonHeaderSizeT() int { return 64 + 1 + 8 + 4 + 2 + 4 }
func dataHeaderSizeT() int   { return 2 + 1 + 2 }
func codeHeaderSizeT() int   { return 2 + 2 + 2 }

func parseData(t *testing.T, payload []byte) *shred.DataShred {
	t.Helper()
	s, err := shred.Parse(payload)
	require.NoError(t, err)
	ds, ok := s.(*shred.DataShred)
	require.True(t, ok)
	return ds
}

func parseCode(t *testing.T, payload []byte) *shred.CodeShred {
	t.Helper()
	s, err := shred.Parse(payload)
	require.NoError(t, err)
	cs, ok := s.(*shred.CodeShred)
	require.True(t, ok)
	return cs
}

func getSlotMeta(t *testing.T, store kv.Store, slot uint64) *SlotMeta {
	t.Helper()
	m, err := kv.GetDecoded[SlotMeta](store, cfSlotMeta, func() []byte { k := SlotKey(slot); return k[:] }())
	require.NoError(t, err)
	m.Slot = slot
	return m
}
