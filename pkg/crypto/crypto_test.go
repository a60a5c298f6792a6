package crypto

import (
	"bytes"
	"testing"
)

func TestSumDomainSeparation(t *testing.T) {
	data := []byte("same payload")
	a := Sum(TagBisoPolicy, data)
	b := Sum(TagPolicyEvaluation, data)
	if a == b {
		t.Fatal("same data under different tags must hash differently")
	}
	if Sum(TagBisoPolicy, data) != a {
		t.Fatal("Sum must be deterministic")
	}
}

func TestSumLabelSeparation(t *testing.T) {
	data := []byte("witness bytes")
	a := SumLabel(LabelEnhancedWitness, data)
	b := SumLabel(LabelWalletMessage, data)
	if a == b {
		t.Fatal("same data under different labels must hash differently")
	}
}

func TestConcatOrderSensitive(t *testing.T) {
	x := []byte{1, 2, 3}
	y := []byte{4, 5, 6}
	if Concat(TagReceiptTraceRoots, x, y) == Concat(TagReceiptTraceRoots, y, x) {
		t.Fatal("Concat must be order sensitive")
	}
	want := Sum(TagReceiptTraceRoots, append(append([]byte{}, x...), y...))
	if Concat(TagReceiptTraceRoots, x, y) != want {
		t.Fatal("Concat must equal Sum over the concatenation")
	}
}

func TestPlainUntagged(t *testing.T) {
	data := []byte("blob")
	if Plain(data) == Sum(TagReceipt, data) {
		t.Fatal("Plain must not collide with tagged hashing")
	}
}

func TestPutLEHelpers(t *testing.T) {
	b := PutUint64LE(nil, 0x0102030405060708)
	if !bytes.Equal(b, []byte{8, 7, 6, 5, 4, 3, 2, 1}) {
		t.Fatalf("PutUint64LE: got %x", b)
	}
	b = PutUint32LE(nil, 0x01020304)
	if !bytes.Equal(b, []byte{4, 3, 2, 1}) {
		t.Fatalf("PutUint32LE: got %x", b)
	}
}

// signableFixture is a minimal Signable whose hash covers one field.
type signableFixture struct {
	Payload string
}

func (s *signableFixture) SigningHash() [32]byte {
	return Sum(TagReceipt, []byte(s.Payload))
}

func TestSignVerifyHash(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair: %v", err)
	}
	h := Sum(TagHeader, []byte("block 42"))
	sig := SignHash(kp.PrivateKey, h)
	if !VerifyHash(kp.PublicKey, h, sig) {
		t.Fatal("valid signature must verify")
	}

	other := Sum(TagHeader, []byte("block 43"))
	if VerifyHash(kp.PublicKey, other, sig) {
		t.Fatal("signature over a different hash must not verify")
	}
	if VerifyHash(kp.PublicKey, h, sig[:32]) {
		t.Fatal("truncated signature must not verify")
	}
	if VerifyHash(kp.PublicKey[:16], h, sig) {
		t.Fatal("truncated public key must not verify")
	}
}

func TestSignableMutationFlipsVerification(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair: %v", err)
	}
	s := &signableFixture{Payload: "original"}
	sig := SignSignable(kp.PrivateKey, s)
	if !VerifySignable(kp.PublicKey, s, sig) {
		t.Fatal("unmutated struct must verify")
	}
	s.Payload = "mutated"
	if VerifySignable(kp.PublicKey, s, sig) {
		t.Fatal("mutated struct must not verify")
	}
}

func TestVRFProveVerify(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair: %v", err)
	}
	prev := Sum(TagHeader, []byte("prev"))
	seed := VRFSeed(prev, 100, 2)

	proof, err := VRFProve(kp.PrivateKey, seed)
	if err != nil {
		t.Fatalf("VRFProve: %v", err)
	}
	if !VRFVerify(kp.PublicKey, seed, proof) {
		t.Fatal("honest proof must verify")
	}

	again, err := VRFProve(kp.PrivateKey, seed)
	if err != nil {
		t.Fatalf("VRFProve: %v", err)
	}
	if again.Output != proof.Output {
		t.Fatal("VRF output must be deterministic for a fixed key and seed")
	}
}

func TestVRFVerifyRejects(t *testing.T) {
	kp, _ := GenerateEd25519KeyPair()
	other, _ := GenerateEd25519KeyPair()
	seed := VRFSeed([32]byte{1}, 7, 0)
	proof, err := VRFProve(kp.PrivateKey, seed)
	if err != nil {
		t.Fatalf("VRFProve: %v", err)
	}

	if VRFVerify(other.PublicKey, seed, proof) {
		t.Fatal("proof must not verify under a different key")
	}
	if VRFVerify(kp.PublicKey, VRFSeed([32]byte{1}, 7, 1), proof) {
		t.Fatal("proof must not verify against a different seed")
	}
	tampered := &VRFProof{Signature: proof.Signature}
	copy(tampered.Output[:], proof.Output[:])
	tampered.Output[0] ^= 0xFF
	if VRFVerify(kp.PublicKey, seed, tampered) {
		t.Fatal("tampered output must not verify")
	}
	if VRFVerify(kp.PublicKey, seed, nil) {
		t.Fatal("nil proof must not verify")
	}
}

func TestVRFSeedBindsAllInputs(t *testing.T) {
	prev := [32]byte{0xAB}
	base := VRFSeed(prev, 10, 3)
	if bytes.Equal(base, VRFSeed(prev, 11, 3)) {
		t.Fatal("seed must bind height")
	}
	if bytes.Equal(base, VRFSeed(prev, 10, 4)) {
		t.Fatal("seed must bind round")
	}
	if bytes.Equal(base, VRFSeed([32]byte{0xAC}, 10, 3)) {
		t.Fatal("seed must bind prev hash")
	}
}

func TestVRFThreshold(t *testing.T) {
	var output [32]byte // sample 0 beats any positive stake fraction
	if !VRFThreshold(output, 1, 1000) {
		t.Fatal("zero sample must win with any positive stake")
	}
	if VRFThreshold(output, 0, 1000) {
		t.Fatal("zero stake must never win")
	}
	if VRFThreshold(output, 1, 0) {
		t.Fatal("zero total stake must never win")
	}

	// Max sample loses to any stake fraction below 1.
	for i := 0; i < 8; i++ {
		output[i] = 0xFF
	}
	if VRFThreshold(output, 999, 1000) {
		t.Fatal("max sample must lose below full stake")
	}
	if !VRFThreshold(output, 1000, 1000) {
		t.Fatal("full stake must always win")
	}
}
