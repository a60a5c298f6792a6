// Package bls implements BLS12-381 signatures with aggregation, for
// multi-signer artifacts such as pre-commit quorum certificates. Signatures live in G1 (48-byte compressed), public keys
// in G2 (96-byte compressed), the minimal-signature-size variant.
// Message hashing to G1 uses gnark-crypto's constant-time SSWU map under
// a fixed domain-separation tag.
package bls

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Sizes of the compressed wire encodings.
const (
	PrivateKeySize = 32 // Fr scalar
	PublicKeySize  = 96 // G2 point, compressed
	SignatureSize  = 48 // G1 point, compressed
)

// Domain tags for the header pipeline's three signed message classes.
// These sign whole message classes rather than single struct kinds, so
// they carry string tags rather than entries in the one-byte table.
const (
	DomainPrePrepare = "VALIDATOR_PRE_PREPARE_V1"
	DomainCommit     = "VALIDATOR_COMMIT_V1"
	DomainSync       = "VALIDATOR_SYNC_V1"
)

// hashToG1DST is the domain-separation tag for hash-to-curve.
var hashToG1DST = []byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_VALIDATOR_CORE_")

var (
	genOnce sync.Once
	g1Gen   bls12381.G1Affine
	g2Gen   bls12381.G2Affine
)

func generators() (bls12381.G1Affine, bls12381.G2Affine) {
	genOnce.Do(func() {
		_, _, g1Gen, g2Gen = bls12381.Generators()
	})
	return g1Gen, g2Gen
}

// Initialize warms the curve generators. Every operation initializes
// lazily; calling this up front just front-loads the one-time cost.
func Initialize() error {
	generators()
	return nil
}

// PrivateKey is an Fr scalar.
type PrivateKey struct {
	scalar fr.Element
}

// PublicKey is a G2 point, pk = sk * G2.
type PublicKey struct {
	point bls12381.G2Affine
}

// Signature is a G1 point, sig = sk * H(m).
type Signature struct {
	point bls12381.G1Affine
}

// GenerateKeyPair draws a fresh random key pair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("generate random scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// GenerateKeyPairFromSeed derives a deterministic key pair from seed
// (at least 32 bytes). The same seed always yields the same pair.
func GenerateKeyPairFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	if len(seed) < 32 {
		return nil, nil, errors.New("seed must be at least 32 bytes")
	}
	digest := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(digest[:])
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// PrivateKeyFromBytes parses a 32-byte scalar.
func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if len(data) != PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(data), PrivateKeySize)
	}
	var sk fr.Element
	sk.SetBytes(data)
	return &PrivateKey{scalar: sk}, nil
}

// PublicKeyFromBytes parses a compressed G2 point. gnark-crypto's
// SetBytes rejects off-curve and out-of-subgroup points, so a parsed key
// is always subgroup-safe; identity is rejected here explicitly.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("deserialize public key: %w", err)
	}
	if pk.IsInfinity() {
		return nil, errors.New("public key is the identity point")
	}
	return &PublicKey{point: pk}, nil
}

// SignatureFromBytes parses a compressed G1 point, with the same
// subgroup and identity guarantees as PublicKeyFromBytes.
func SignatureFromBytes(data []byte) (*Signature, error) {
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("deserialize signature: %w", err)
	}
	if sig.IsInfinity() {
		return nil, errors.New("signature is the identity point")
	}
	return &Signature{point: sig}, nil
}

// ValidatePublicKeyBytes reports whether data parses to a well-formed,
// non-identity, in-subgroup public key. Fail-closed.
func ValidatePublicKeyBytes(data []byte) error {
	if len(data) != PublicKeySize {
		return fmt.Errorf("invalid public key size: got %d, want %d", len(data), PublicKeySize)
	}
	_, err := PublicKeyFromBytes(data)
	return err
}

// ValidateSignatureBytes reports whether data parses to a well-formed,
// non-identity, in-subgroup signature. Fail-closed.
func ValidateSignatureBytes(data []byte) error {
	if len(data) != SignatureSize {
		return fmt.Errorf("invalid signature size: got %d, want %d", len(data), SignatureSize)
	}
	_, err := SignatureFromBytes(data)
	return err
}

func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

func (sk *PrivateKey) Hex() string {
	return hex.EncodeToString(sk.Bytes())
}

// PublicKey derives pk = sk * G2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	_, g2 := generators()
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	var pk bls12381.G2Affine
	pk.ScalarMultiplication(&g2, &skBig)
	return &PublicKey{point: pk}
}

// Sign produces sig = sk * H(message).
func (sk *PrivateKey) Sign(message []byte) *Signature {
	h := hashToG1(message)
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	var sig bls12381.G1Affine
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

// SignWithDomain signs H(domain || message), keeping signatures from
// different message classes mutually unreplayable.
func (sk *PrivateKey) SignWithDomain(message []byte, domain string) *Signature {
	return sk.Sign(domainMessage(domain, message))
}

func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

func (pk *PublicKey) Hex() string {
	return hex.EncodeToString(pk.Bytes())
}

func (pk *PublicKey) Equal(other *PublicKey) bool {
	return pk.point.Equal(&other.point)
}

// WellFormed reports whether the key is on curve, in subgroup, and not
// the identity. Keys built through PublicKeyFromBytes always are; this
// guards keys assembled by aggregation.
func (pk *PublicKey) WellFormed() bool {
	return pk != nil && pk.point.IsOnCurve() && !pk.point.IsInfinity() && pk.point.IsInSubGroup()
}

// Verify checks e(sig, G2) == e(H(message), pk) via the product form
// e(-sig, G2) * e(H(message), pk) == 1.
func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	if sig == nil {
		return false
	}
	_, g2 := generators()
	h := hashToG1(message)

	var negSig bls12381.G1Affine
	negSig.Neg(&sig.point)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{negSig, h},
		[]bls12381.G2Affine{g2, pk.point},
	)
	return err == nil && ok
}

// VerifyWithDomain verifies a SignWithDomain signature.
func (pk *PublicKey) VerifyWithDomain(sig *Signature, message []byte, domain string) bool {
	return pk.Verify(sig, domainMessage(domain, message))
}

func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

func (sig *Signature) Hex() string {
	return hex.EncodeToString(sig.Bytes())
}

// WellFormed reports whether the signature is on curve, in subgroup,
// and not the identity.
func (sig *Signature) WellFormed() bool {
	return sig != nil && sig.point.IsOnCurve() && !sig.point.IsInfinity() && sig.point.IsInSubGroup()
}

// AggregateSignatures sums signatures on G1. The aggregate of n commit
// signatures over the same block hash verifies against the aggregated
// public keys of the n signers.
func AggregateSignatures(signatures []*Signature) (*Signature, error) {
	if len(signatures) == 0 {
		return nil, errors.New("no signatures to aggregate")
	}
	var acc bls12381.G1Jac
	acc.FromAffine(&signatures[0].point)
	for _, s := range signatures[1:] {
		var j bls12381.G1Jac
		j.FromAffine(&s.point)
		acc.AddAssign(&j)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&acc)
	return &Signature{point: out}, nil
}

// AggregatePublicKeys sums public keys on G2.
func AggregatePublicKeys(publicKeys []*PublicKey) (*PublicKey, error) {
	if len(publicKeys) == 0 {
		return nil, errors.New("no public keys to aggregate")
	}
	var acc bls12381.G2Jac
	acc.FromAffine(&publicKeys[0].point)
	for _, pk := range publicKeys[1:] {
		var j bls12381.G2Jac
		j.FromAffine(&pk.point)
		acc.AddAssign(&j)
	}
	var out bls12381.G2Affine
	out.FromJacobian(&acc)
	return &PublicKey{point: out}, nil
}

// VerifyAggregateSignature verifies an aggregate signature where every
// signer signed the SAME message.
func VerifyAggregateSignature(aggSig *Signature, publicKeys []*PublicKey, message []byte) bool {
	aggPk, err := AggregatePublicKeys(publicKeys)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

// VerifyAggregateSignatureWithDomain is the domain-separated variant.
func VerifyAggregateSignatureWithDomain(aggSig *Signature, publicKeys []*PublicKey, message []byte, domain string) bool {
	return VerifyAggregateSignature(aggSig, publicKeys, domainMessage(domain, message))
}

// hashToG1 maps a message onto G1 with gnark-crypto's SSWU hash-to-curve
// under the package DST. The only failure mode is an over-long DST,
// which a fixed constant rules out.
func hashToG1(message []byte) bls12381.G1Affine {
	p, err := bls12381.HashToG1(message, hashToG1DST)
	if err != nil {
		g1, _ := generators()
		return g1
	}
	return p
}

func domainMessage(domain string, message []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(message)
	return h.Sum(nil)
}

// ComputeMessageHash derives the 32-byte digest all validators sign for
// a given message class, so every signer hashes the identical
// representation. Each chunk is preceded by its 4-byte little-endian
// length, so chunk boundaries are part of the digest.
func ComputeMessageHash(domain string, data ...[]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	var n [4]byte
	for _, d := range data {
		binary.LittleEndian.PutUint32(n[:], uint32(len(d)))
		h.Write(n[:])
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
