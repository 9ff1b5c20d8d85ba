// Package shred parses and sanitizes erasure-coded block fragments
// ("shreds") as they arrive off the wire, ahead of admission into the
// blockstore.
//
// Shred signature verification and Reed-Solomon math are treated as
// pure functions supplied by other packages; this package only extracts
// the fields the insertion core needs to validate and stage a shred, and
// never inspects its inner transaction payload.
package shred

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Kind distinguishes the two shred variants carried by the wire format.
type Kind uint8

const (
	DataKind Kind = iota
	CodeKind
)

func (k Kind) String() string {
	if k == CodeKind {
		return "code"
	}
	return "data"
}

// Shred variant IDs, carried in CommonHeader.Variant. For Merkle
// variants the high nibble selects data/code (MerkleMask); within the
// low nibble, merkleChainedBit marks a shred whose Merkle suffix
// additionally carries the previous erasure set's chained root — a
// plain (non-chained) Merkle shred's suffix is just the 32-byte root.
const (
	LegacyCodeID     = uint8(0b0101_1010)
	LegacyDataID     = uint8(0b1010_0101)
	MerkleMask       = uint8(0xF0)
	MerkleCodeID     = uint8(0x40)
	MerkleDataID     = uint8(0x80)
	merkleChainedBit = uint8(0x08)
)

// Data header flag bits (DataHeader.Flags).
const (
	FlagShredTickReferenceMask = uint8(0b0011_1111)
	FlagDataCompleteShred      = uint8(0b0100_0000)
	FlagLastShredInSlot        = uint8(0b1100_0000)
)

const (
	commonHeaderSize = 64 + 1 + 8 + 4 + 2 + 4 // signature|variant|slot|index|version|fec_set_index
	dataHeaderSize   = 2 + 1 + 2              // parent_offset|flags|size
	codeHeaderSize   = 2 + 2 + 2              // num_data|num_code|position
	merkleRootSize   = 32
	chainedRootSize  = 32
)

var (
	// ErrTooShort is returned when a payload is smaller than its header.
	ErrTooShort = errors.New("shred: payload too short")
	// ErrUnsupportedVariant is returned for a variant byte this package
	// does not know how to parse (in particular V0 messages, left out
	// of scope per the open questions until the reference implementation
	// defines semantics).
	ErrUnsupportedVariant = errors.New("shred: unsupported variant")
)

// ShredId identifies a shred uniquely within the store: the triple
// (slot, index, kind).
type ShredId struct {
	Slot  uint64
	Index uint32
	Kind  Kind
}

// ErasureSetId identifies the erasure (FEC) set a shred belongs to.
type ErasureSetId struct {
	Slot        uint64
	FECSetIndex uint32
}

// CommonHeader is the header shared by every shred variant.
type CommonHeader struct {
	Signature   solana.Signature
	Variant     uint8
	Slot        uint64
	Index       uint32
	Version     uint16
	FECSetIndex uint32
}

// DataHeader is the header appended to data shreds.
type DataHeader struct {
	ParentOffset uint16
	Flags        uint8
	Size         uint16
}

func (d *DataHeader) LastInSlot() bool    { return d.Flags&FlagLastShredInSlot == FlagLastShredInSlot }
func (d *DataHeader) DataComplete() bool  { return d.Flags&FlagDataCompleteShred != 0 }
func (d *DataHeader) ReferenceTick() uint8 {
	return d.Flags & FlagShredTickReferenceMask
}

// CodeHeader is the header appended to code (parity) shreds.
type CodeHeader struct {
	NumData  uint16
	NumCode  uint16
	Position uint16
}

// Shred is a parsed, sanitized shred: either a Data or a Code shred.
//
// The Merkle root (when present) is read directly off the wire rather
// than recomputed from an inclusion proof: proof verification belongs
// to the pure cryptographic layer the core treats as an external
// collaborator; this package only extracts the root so the core can
// compare and store it.
type Shred interface {
	Common() *CommonHeader
	Kind() Kind
	ShredId() ShredId
	ErasureSetId() ErasureSetId
	Payload() []byte
	MerkleRoot() (solana.Hash, bool)
	ChainedMerkleRoot() (solana.Hash, bool)
}

// DataShred is a shred carrying block entry bytes.
type DataShred struct {
	CommonHeader
	DataHeader
	payload        []byte
	merkleRoot     solana.Hash
	hasMerkleRoot  bool
	chainedRoot    solana.Hash
	hasChainedRoot bool
}

func (d *DataShred) Common() *CommonHeader { return &d.CommonHeader }
func (d *DataShred) Kind() Kind            { return DataKind }
func (d *DataShred) Payload() []byte       { return d.payload }

func (d *DataShred) ShredId() ShredId {
	return ShredId{Slot: d.Slot, Index: d.Index, Kind: DataKind}
}

func (d *DataShred) ErasureSetId() ErasureSetId {
	return ErasureSetId{Slot: d.Slot, FECSetIndex: d.FECSetIndex}
}

func (d *DataShred) MerkleRoot() (solana.Hash, bool) { return d.merkleRoot, d.hasMerkleRoot }

func (d *DataShred) ChainedMerkleRoot() (solana.Hash, bool) {
	return d.chainedRoot, d.hasChainedRoot
}

// ParentSlot returns the slot this shred's slot chains to.
func (d *DataShred) ParentSlot() uint64 {
	return d.Slot - uint64(d.ParentOffset)
}

// Data returns the entry bytes carried by this shred (the header-stripped
// payload), or false if the declared size is inconsistent with the wire
// payload length.
func (d *DataShred) Data() ([]byte, bool) {
	start := commonHeaderSize + dataHeaderSize
	if int(d.Size) < start || int(d.Size) > len(d.payload) {
		return nil, false
	}
	return d.payload[start:d.Size], true
}

// CodeShred is a parity (coding) shred.
type CodeShred struct {
	CommonHeader
	CodeHeader
	payload        []byte
	merkleRoot     solana.Hash
	hasMerkleRoot  bool
	chainedRoot    solana.Hash
	hasChainedRoot bool
}

func (c *CodeShred) Common() *CommonHeader { return &c.CommonHeader }
func (c *CodeShred) Kind() Kind            { return CodeKind }
func (c *CodeShred) Payload() []byte       { return c.payload }

func (c *CodeShred) ShredId() ShredId {
	return ShredId{Slot: c.Slot, Index: c.Index, Kind: CodeKind}
}

func (c *CodeShred) ErasureSetId() ErasureSetId {
	return ErasureSetId{Slot: c.Slot, FECSetIndex: c.FECSetIndex}
}

func (c *CodeShred) MerkleRoot() (solana.Hash, bool) { return c.merkleRoot, c.hasMerkleRoot }

func (c *CodeShred) ChainedMerkleRoot() (solana.Hash, bool) {
	return c.chainedRoot, c.hasChainedRoot
}

// Parse dispatches on the variant byte and extracts a shred's common and
// kind-specific fields.
func Parse(payload []byte) (Shred, error) {
	if len(payload) < commonHeaderSize {
		return nil, ErrTooShort
	}
	common := parseCommonHeader(payload)
	switch {
	case common.Variant == LegacyDataID:
		return parseDataShred(common, payload, false)
	case common.Variant == LegacyCodeID:
		return parseCodeShred(common, payload, false)
	case common.Variant&MerkleMask == MerkleDataID:
		return parseDataShred(common, payload, true)
	case common.Variant&MerkleMask == MerkleCodeID:
		return parseCodeShred(common, payload, true)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedVariant, common.Variant)
	}
}

func parseCommonHeader(b []byte) CommonHeader {
	var h CommonHeader
	copy(h.Signature[:], b[0:64])
	h.Variant = b[64]
	h.Slot = binary.LittleEndian.Uint64(b[65:73])
	h.Index = binary.LittleEndian.Uint32(b[73:77])
	h.Version = binary.LittleEndian.Uint16(b[77:79])
	h.FECSetIndex = binary.LittleEndian.Uint32(b[79:83])
	return h
}

func parseDataShred(common CommonHeader, payload []byte, merkle bool) (*DataShred, error) {
	off := commonHeaderSize
	if len(payload) < off+dataHeaderSize {
		return nil, ErrTooShort
	}
	d := &DataShred{CommonHeader: common, payload: payload}
	d.ParentOffset = binary.LittleEndian.Uint16(payload[off : off+2])
	d.Flags = payload[off+2]
	d.Size = binary.LittleEndian.Uint16(payload[off+3 : off+5])
	if merkle {
		chained := common.Variant&merkleChainedBit != 0
		if err := readMerkleSuffix(payload, chained, &d.merkleRoot, &d.hasMerkleRoot, &d.chainedRoot, &d.hasChainedRoot); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func parseCodeShred(common CommonHeader, payload []byte, merkle bool) (*CodeShred, error) {
	off := commonHeaderSize
	if len(payload) < off+codeHeaderSize {
		return nil, ErrTooShort
	}
	c := &CodeShred{CommonHeader: common, payload: payload}
	c.NumData = binary.LittleEndian.Uint16(payload[off : off+2])
	c.NumCode = binary.LittleEndian.Uint16(payload[off+2 : off+4])
	c.Position = binary.LittleEndian.Uint16(payload[off+4 : off+6])
	if merkle {
		chained := common.Variant&merkleChainedBit != 0
		if err := readMerkleSuffix(payload, chained, &c.merkleRoot, &c.hasMerkleRoot, &c.chainedRoot, &c.hasChainedRoot); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// readMerkleSuffix reads the trailing 32-byte Merkle root and, for a
// chained variant, the 32-byte chained root appended before it. The
// core never needs the inclusion proof path itself (verified
// upstream), only the committed root(s), which always sit at the very
// end of the payload. Whether a chained root is present is a wire-format
// fact carried by the variant byte (merkleChainedBit), not something
// that can be inferred from payload length: a plain Merkle shred's
// payload is routinely far longer than 64 bytes once header and data/
// parity content are included.
func readMerkleSuffix(payload []byte, chained bool, root *solana.Hash, hasRoot *bool, chainedRoot *solana.Hash, hasChained *bool) error {
	if len(payload) < merkleRootSize {
		return ErrTooShort
	}
	copy(root[:], payload[len(payload)-merkleRootSize:])
	*hasRoot = true
	if chained {
		if len(payload) < merkleRootSize+chainedRootSize {
			return ErrTooShort
		}
		start := len(payload) - merkleRootSize - chainedRootSize
		copy(chainedRoot[:], payload[start:start+chainedRootSize])
		*hasChained = true
	}
	return nil
}
