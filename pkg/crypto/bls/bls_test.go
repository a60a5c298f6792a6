package bls

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func mustKeyPair(t *testing.T) (*PrivateKey, *PublicKey) {
	t.Helper()
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return priv, pub
}

func TestGenerateKeyPairUniqueAndSized(t *testing.T) {
	priv1, pub1 := mustKeyPair(t)
	priv2, pub2 := mustKeyPair(t)

	if bytes.Equal(priv1.Bytes(), priv2.Bytes()) {
		t.Fatal("two random key pairs must differ")
	}
	if pub1.Equal(pub2) {
		t.Fatal("two random public keys must differ")
	}
	if len(priv1.Bytes()) != PrivateKeySize {
		t.Fatalf("private key size = %d, want %d", len(priv1.Bytes()), PrivateKeySize)
	}
	if len(pub1.Bytes()) != PublicKeySize {
		t.Fatalf("public key size = %d, want %d", len(pub1.Bytes()), PublicKeySize)
	}
	if !pub1.WellFormed() {
		t.Fatal("generated public key must be well-formed")
	}
}

func TestGenerateKeyPairFromSeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	priv1, pub1, err := GenerateKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed: %v", err)
	}
	priv2, pub2, err := GenerateKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed: %v", err)
	}
	if !bytes.Equal(priv1.Bytes(), priv2.Bytes()) || !pub1.Equal(pub2) {
		t.Fatal("same seed must yield the same key pair")
	}

	other, _, err := GenerateKeyPairFromSeed(bytes.Repeat([]byte{8}, 32))
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed: %v", err)
	}
	if bytes.Equal(priv1.Bytes(), other.Bytes()) {
		t.Fatal("different seeds must yield different keys")
	}

	if _, _, err := GenerateKeyPairFromSeed([]byte("short")); err == nil {
		t.Fatal("seed under 32 bytes must be rejected")
	}
}

func TestSignVerify(t *testing.T) {
	priv, pub := mustKeyPair(t)
	msg := []byte("commit block 42")

	sig := priv.Sign(msg)
	if len(sig.Bytes()) != SignatureSize {
		t.Fatalf("signature size = %d, want %d", len(sig.Bytes()), SignatureSize)
	}
	if !pub.Verify(sig, msg) {
		t.Fatal("honest signature must verify")
	}
	if pub.Verify(sig, []byte("commit block 43")) {
		t.Fatal("signature must not verify over a different message")
	}

	_, otherPub := mustKeyPair(t)
	if otherPub.Verify(sig, msg) {
		t.Fatal("signature must not verify under a different key")
	}
	if !priv.Sign(msg).point.Equal(&sig.point) {
		t.Fatal("signing must be deterministic for a fixed key and message")
	}
}

func TestDomainSeparation(t *testing.T) {
	priv, pub := mustKeyPair(t)
	msg := []byte("same payload")

	commitSig := priv.SignWithDomain(msg, DomainCommit)
	prePrepareSig := priv.SignWithDomain(msg, DomainPrePrepare)
	if commitSig.point.Equal(&prePrepareSig.point) {
		t.Fatal("same message under different domains must sign differently")
	}
	if !pub.VerifyWithDomain(commitSig, msg, DomainCommit) {
		t.Fatal("domain signature must verify under its own domain")
	}
	if pub.VerifyWithDomain(commitSig, msg, DomainPrePrepare) {
		t.Fatal("domain signature must not verify under another domain")
	}
}

func TestAggregateMultiSigner(t *testing.T) {
	msg := []byte("finalize height 100")
	const n = 5

	var sigs []*Signature
	var pubs []*PublicKey
	for i := 0; i < n; i++ {
		priv, pub := mustKeyPair(t)
		sigs = append(sigs, priv.Sign(msg))
		pubs = append(pubs, pub)
	}

	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("AggregateSignatures: %v", err)
	}
	if !VerifyAggregateSignature(aggSig, pubs, msg) {
		t.Fatal("aggregate of all signers must verify")
	}
	if VerifyAggregateSignature(aggSig, pubs, []byte("another message")) {
		t.Fatal("aggregate must not verify over a different message")
	}
	if VerifyAggregateSignature(aggSig, pubs[:n-1], msg) {
		t.Fatal("aggregate must not verify against a key subset")
	}

	// A single-element aggregate degenerates to plain verification.
	single, err := AggregateSignatures(sigs[:1])
	if err != nil {
		t.Fatalf("AggregateSignatures(single): %v", err)
	}
	if !pubs[0].Verify(single, msg) {
		t.Fatal("single-signer aggregate must equal the plain signature")
	}

	if _, err := AggregateSignatures(nil); err == nil {
		t.Fatal("empty aggregation must error")
	}
	if _, err := AggregatePublicKeys(nil); err == nil {
		t.Fatal("empty key aggregation must error")
	}
}

func TestAggregateWithDomain(t *testing.T) {
	msg := []byte("round payload")
	var sigs []*Signature
	var pubs []*PublicKey
	for i := 0; i < 3; i++ {
		priv, pub := mustKeyPair(t)
		sigs = append(sigs, priv.SignWithDomain(msg, DomainCommit))
		pubs = append(pubs, pub)
	}
	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("AggregateSignatures: %v", err)
	}
	if !VerifyAggregateSignatureWithDomain(aggSig, pubs, msg, DomainCommit) {
		t.Fatal("domain aggregate must verify under its domain")
	}
	if VerifyAggregateSignatureWithDomain(aggSig, pubs, msg, DomainSync) {
		t.Fatal("domain aggregate must not verify under another domain")
	}
}

func TestSerializationRoundTrips(t *testing.T) {
	priv, pub := mustKeyPair(t)
	msg := []byte("round-trip")
	sig := priv.Sign(msg)

	priv2, err := PrivateKeyFromBytes(priv.Bytes())
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	if !priv2.PublicKey().Equal(pub) {
		t.Fatal("private key round trip must preserve the derived public key")
	}

	pub2, err := PublicKeyFromBytes(pub.Bytes())
	if err != nil {
		t.Fatalf("PublicKeyFromBytes: %v", err)
	}
	if !pub2.Equal(pub) {
		t.Fatal("public key round trip mismatch")
	}

	sig2, err := SignatureFromBytes(sig.Bytes())
	if err != nil {
		t.Fatalf("SignatureFromBytes: %v", err)
	}
	if !pub.Verify(sig2, msg) {
		t.Fatal("round-tripped signature must still verify")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := PrivateKeyFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("short private key must be rejected")
	}
	if _, err := PublicKeyFromBytes(bytes.Repeat([]byte{0xAA}, PublicKeySize)); err == nil {
		t.Fatal("random public key bytes must be rejected")
	}
	if _, err := SignatureFromBytes(bytes.Repeat([]byte{0xAA}, SignatureSize)); err == nil {
		t.Fatal("random signature bytes must be rejected")
	}
	if err := ValidatePublicKeyBytes(make([]byte, 10)); err == nil {
		t.Fatal("wrong-size public key must fail validation")
	}
	if err := ValidateSignatureBytes(make([]byte, 10)); err == nil {
		t.Fatal("wrong-size signature must fail validation")
	}

	priv, pub := mustKeyPair(t)
	if err := ValidatePublicKeyBytes(pub.Bytes()); err != nil {
		t.Fatalf("honest public key failed validation: %v", err)
	}
	if err := ValidateSignatureBytes(priv.Sign([]byte("m")).Bytes()); err != nil {
		t.Fatalf("honest signature failed validation: %v", err)
	}
}

func TestTamperedSignatureFails(t *testing.T) {
	priv, pub := mustKeyPair(t)
	msg := []byte("tamper target")
	sigBytes := priv.Sign(msg).Bytes()
	sigBytes[SignatureSize-1] ^= 0x01

	sig, err := SignatureFromBytes(sigBytes)
	if err != nil {
		// Most bit flips break the point encoding outright.
		return
	}
	if pub.Verify(sig, msg) {
		t.Fatal("tampered signature must not verify")
	}
}

func TestComputeMessageHash(t *testing.T) {
	h1 := ComputeMessageHash(DomainCommit, []byte("a"), []byte("b"))
	h2 := ComputeMessageHash(DomainCommit, []byte("a"), []byte("b"))
	if h1 != h2 {
		t.Fatal("message hash must be deterministic")
	}
	if h1 == ComputeMessageHash(DomainSync, []byte("a"), []byte("b")) {
		t.Fatal("message hash must bind the domain")
	}
	if h1 == ComputeMessageHash(DomainCommit, []byte("ab")) {
		t.Fatal("message hash must bind chunk boundaries")
	}
}

func TestKeyManagerDeterministicIdentity(t *testing.T) {
	km1 := NewKeyManager("")
	if err := km1.GenerateFromValidatorID("validator-7", "devnet"); err != nil {
		t.Fatalf("GenerateFromValidatorID: %v", err)
	}
	km2 := NewKeyManager("")
	if err := km2.GenerateFromValidatorID("validator-7", "devnet"); err != nil {
		t.Fatalf("GenerateFromValidatorID: %v", err)
	}
	if !bytes.Equal(km1.GetPublicKeyBytes(), km2.GetPublicKeyBytes()) {
		t.Fatal("same identity must derive the same key")
	}

	km3 := NewKeyManager("")
	if err := km3.GenerateFromValidatorID("validator-7", "mainnet"); err != nil {
		t.Fatalf("GenerateFromValidatorID: %v", err)
	}
	if bytes.Equal(km1.GetPublicKeyBytes(), km3.GetPublicKeyBytes()) {
		t.Fatal("chain id must feed the derivation")
	}
}

func TestKeyManagerPersistAndReload(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "validator.key")

	km1, err := InitializeValidatorBLSKey("validator-1", "devnet", keyPath)
	if err != nil {
		t.Fatalf("InitializeValidatorBLSKey: %v", err)
	}
	if _, err := os.Stat(keyPath); err != nil {
		t.Fatalf("key file not persisted: %v", err)
	}

	km2, err := InitializeValidatorBLSKey("ignored-when-file-exists", "ignored", keyPath)
	if err != nil {
		t.Fatalf("InitializeValidatorBLSKey (reload): %v", err)
	}
	if !bytes.Equal(km1.GetPublicKeyBytes(), km2.GetPublicKeyBytes()) {
		t.Fatal("reloading the persisted key must yield the same pair")
	}

	sig, err := km2.SignWithDomain([]byte("block"), DomainCommit)
	if err != nil {
		t.Fatalf("SignWithDomain: %v", err)
	}
	if !km1.GetPublicKey().VerifyWithDomain(sig, []byte("block"), DomainCommit) {
		t.Fatal("signature from the reloaded key must verify under the original public key")
	}
}

func TestKeyManagerSignWithoutKey(t *testing.T) {
	km := NewKeyManager("")
	if _, err := km.Sign([]byte("x")); err == nil {
		t.Fatal("signing without a loaded key must error")
	}
}
