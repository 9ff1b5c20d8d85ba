package blockstore

import (
	"crypto/ed25519"

	"github.com/gagliardetto/solana-go"
)

// VerifySignature checks a shred's signature against its slot leader's
// public key. The signed message is the wire payload with the leading
// signature field stripped, matching how CommonHeader.Signature is
// produced (§4.6 step 3).
//
// Kept as a pure function, independent of DB/WorkingSet state, per
// SPEC_FULL.md's ambient-stack note that cryptographic verification is
// an external collaborator the core only calls into.
func VerifySignature(leader [32]byte, sig solana.Signature, payload []byte) bool {
	if len(payload) < solana.SignatureLength {
		return false
	}
	return ed25519.Verify(leader[:], payload[solana.SignatureLength:], sig[:])
}
