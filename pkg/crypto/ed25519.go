package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// Signable is implemented by every struct that can be Ed25519-signed.
// SigningHash must exclude the struct's own Signature/SignerPubkey fields,
// per the C1 contract.
type Signable interface {
	SigningHash() [32]byte
}

// Ed25519KeyPair holds a generated or loaded Ed25519 key pair.
type Ed25519KeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// GenerateEd25519KeyPair creates a new random Ed25519 key pair.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// SignHash signs a precomputed 32-byte signing hash, never raw struct bytes.
func SignHash(priv ed25519.PrivateKey, hash [32]byte) []byte {
	return ed25519.Sign(priv, hash[:])
}

// VerifyHash verifies sig over a precomputed 32-byte signing hash.
func VerifyHash(pub ed25519.PublicKey, hash [32]byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, hash[:], sig)
}

// SignSignable signs the signing hash of s and returns the signature.
func SignSignable(priv ed25519.PrivateKey, s Signable) []byte {
	h := s.SigningHash()
	return SignHash(priv, h)
}

// VerifySignable verifies sig was produced over s's current signing hash.
// Mutating any field that feeds SigningHash (other than Signature/Pubkey)
// flips this to false.
func VerifySignable(pub ed25519.PublicKey, s Signable, sig []byte) bool {
	return VerifyHash(pub, s.SigningHash(), sig)
}
