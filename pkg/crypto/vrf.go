package crypto

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// VRFProof is the deterministic proof produced by VRFProve. Because
// Ed25519 signing (RFC 8032) is itself deterministic for a fixed
// (private key, message) pair, this package builds a VRF out of it: the
// "proof" is the Ed25519 signature over the seed, and the verifiable
// pseudo-random output is a domain-separated hash of that signature. This
// is a simplified, practical VRF construction, not a full RFC 9381
// ECVRF — no example in the retrieval pack implements a dedicated VRF
// library, and this is the standard lightweight substitute used across
// many proof-of-stake designs.
type VRFProof struct {
	Signature []byte
	Output    [32]byte
}

// VRFSeed builds the seed VRF leader-election is evaluated against, per
// (prev_hash, height, round), so every round re-seeds the election.
func VRFSeed(prevHash [32]byte, height uint64, round uint32) []byte {
	seed := make([]byte, 0, 32+8+4)
	seed = append(seed, prevHash[:]...)
	seed = PutUint64LE(seed, height)
	seed = PutUint32LE(seed, round)
	return seed
}

// VRFProve produces a deterministic VRF proof and output for seed using
// the validator's Ed25519 private key.
func VRFProve(priv ed25519.PrivateKey, seed []byte) (*VRFProof, error) {
	sig := ed25519.Sign(priv, seed)
	out, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("init blake2b: %w", err)
	}
	out.Write([]byte("VRF_OUTPUT_V1"))
	out.Write(sig)
	var output [32]byte
	copy(output[:], out.Sum(nil))
	return &VRFProof{Signature: sig, Output: output}, nil
}

// VRFVerify checks that proof was honestly derived from seed under pub,
// and that its Output matches what VRFProve would have produced.
func VRFVerify(pub ed25519.PublicKey, seed []byte, proof *VRFProof) bool {
	if proof == nil || !ed25519.Verify(pub, seed, proof.Signature) {
		return false
	}
	out, err := blake2b.New256(nil)
	if err != nil {
		return false
	}
	out.Write([]byte("VRF_OUTPUT_V1"))
	out.Write(proof.Signature)
	var want [32]byte
	copy(want[:], out.Sum(nil))
	return want == proof.Output
}

// VRFThreshold converts a VRF output into a stake-weighted threshold
// comparison: a validator wins leadership at (height, round) iff its VRF
// output, interpreted as a fraction of the output space, falls below
// stake/totalStake. At most one winner is expected per round because each
// validator's output is independent and uniformly distributed; ties are
// broken by lowest validator index.
func VRFThreshold(output [32]byte, stake, totalStake uint64) bool {
	if totalStake == 0 || stake == 0 {
		return false
	}
	// sample/2^64 < stake/totalStake  <=>  sample*totalStake < stake*2^64
	sample := new(big.Int).SetUint64(binary.BigEndian.Uint64(output[:8]))
	lhs := new(big.Int).Mul(sample, new(big.Int).SetUint64(totalStake))
	two64 := new(big.Int).Lsh(big.NewInt(1), 64)
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(stake), two64)
	return lhs.Cmp(rhs) < 0
}
