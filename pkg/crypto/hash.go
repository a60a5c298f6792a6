// Package crypto provides the domain-separated hashing, Ed25519 signing,
// and VRF primitives shared by every signable structure in the system.
// Per the canonical-encoding contract, every hashed struct is hashed as
// H(tag || canonical_encoding), never over raw serialization, so a change
// in encoding can never silently re-validate an old signature.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
)

// Tag is the one-byte (or, for legacy wire types, ASCII-label) domain
// separator prefixed to a struct's canonical encoding before hashing.
type Tag byte

// Single-byte domain tags, stable per the wire contract.
const (
	TagValidatorRole     Tag = 0x50
	TagBisoPolicy        Tag = 0x1B
	TagPolicyEvaluation  Tag = 0x1C
	TagWalletRegistry    Tag = 0x21
	TagSplitOriginAudit  Tag = 0x52
	TagHeader            Tag = 0x60
	TagBlockProposal     Tag = 0x61
	TagConsensusVote     Tag = 0x62
	TagReceipt           Tag = 0x63
	TagReceiptTraceRoots Tag = 0x64
	TagDualAuditEntry    Tag = 0x65
	TagDAProof           Tag = 0x66
	TagZK3Attestation    Tag = 0x67
	TagConsensusProposal Tag = 0x68
	TagDAShard           Tag = 0x69
)

// String-label tags used by structures that predate the one-byte table, or
// that intentionally hash under a human-legible label for cross-system
// interoperability (e.g. witness recorders ingested by external tooling).
const (
	LabelEnhancedWitness = "ENHANCED_WITNESS"
	LabelWalletMessage   = "BPCI_WALLET_MESSAGE"
)

// Sum computes H(tag || data) with SHA-256 as the underlying compression
// function. This is the single hashing primitive every signable structure's
// compute_signing_hash must route through.
func Sum(tag Tag, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{byte(tag)})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SumLabel computes H(label || data) for the string-label domain tags.
func SumLabel(label string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(label))
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Concat hashes the concatenation of parts under a single domain tag. Used
// for combined roots (e.g. receipt combined_root, dual-audit consensus
// hash). Parts are written back to back with no length prefix, so
// callers pass fixed-size fields such as 32-byte hashes, 16-byte ids
// and 8-byte timestamps.
func Concat(tag Tag, parts ...[]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{byte(tag)})
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Plain returns an un-tagged SHA-256 digest. Only used for content
// addressing (C13 blob keys) where no signature ever covers the hash
// directly and domain separation from signable structs is unnecessary.
func Plain(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// PutUint64LE appends n to dst in little-endian form, per the canonical
// encoding's integer rule.
func PutUint64LE(dst []byte, n uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	return append(dst, b[:]...)
}

// PutUint32LE appends n to dst in little-endian form.
func PutUint32LE(dst []byte, n uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return append(dst, b[:]...)
}

// ZeroHash is the all-zero 32-byte placeholder used wherever a root has
// no producer yet (e.g. Receipt.TraceRoots.WalletRoot, and witness_root
// when no recorder was attached).
var ZeroHash [32]byte
