package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"
)

func leafSet(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = HashData([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestBuildTreeRejectsBadInput(t *testing.T) {
	if _, err := BuildTree(nil); err != ErrEmptyTree {
		t.Fatalf("empty leaves: got %v, want ErrEmptyTree", err)
	}
	if _, err := BuildTree([][]byte{{1, 2, 3}}); err == nil {
		t.Fatal("expected error for a non-32-byte leaf")
	}
}

func TestSingleLeafRootIsLeaf(t *testing.T) {
	leaves := leafSet(1)
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if !bytes.Equal(tree.Root(), leaves[0]) {
		t.Fatal("single-leaf root must equal the leaf")
	}

	proof, err := tree.GenerateProof(0)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	if len(proof.Path) != 0 {
		t.Fatalf("single-leaf proof path must be empty, got %d nodes", len(proof.Path))
	}
	ok, err := VerifyProof(leaves[0], proof, tree.Root())
	if err != nil || !ok {
		t.Fatalf("single-leaf proof must verify: ok=%v err=%v", ok, err)
	}
}

func TestTwoLeavesRoot(t *testing.T) {
	leaves := leafSet(2)
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	var l, r [32]byte
	copy(l[:], leaves[0])
	copy(r[:], leaves[1])
	want := hashPair(l, r)
	if !bytes.Equal(tree.Root(), want[:]) {
		t.Fatal("two-leaf root must be hashPair(leaf0, leaf1)")
	}
}

func TestDeterministicRoot(t *testing.T) {
	a, err := BuildTree(leafSet(7))
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	b, err := BuildTree(leafSet(7))
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if !bytes.Equal(a.Root(), b.Root()) {
		t.Fatal("identical leaves must yield identical roots")
	}

	swapped := leafSet(7)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	c, err := BuildTree(swapped)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if bytes.Equal(a.Root(), c.Root()) {
		t.Fatal("leaf order must affect the root")
	}
}

func TestProofsVerifyAcrossSizes(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 8, 33, 100} {
		leaves := leafSet(n)
		tree, err := BuildTree(leaves)
		if err != nil {
			t.Fatalf("BuildTree(%d): %v", n, err)
		}
		if tree.LeafCount() != n {
			t.Fatalf("LeafCount = %d, want %d", tree.LeafCount(), n)
		}
		for i := 0; i < n; i++ {
			proof, err := tree.GenerateProof(i)
			if err != nil {
				t.Fatalf("GenerateProof(%d/%d): %v", i, n, err)
			}
			ok, err := VerifyProof(leaves[i], proof, tree.Root())
			if err != nil {
				t.Fatalf("VerifyProof(%d/%d): %v", i, n, err)
			}
			if !ok {
				t.Fatalf("proof for leaf %d of %d must verify", i, n)
			}
		}
	}
}

func TestProofRejectsWrongLeafAndRoot(t *testing.T) {
	leaves := leafSet(8)
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	proof, err := tree.GenerateProof(3)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	ok, err := VerifyProof(leaves[4], proof, tree.Root())
	if err != nil || ok {
		t.Fatalf("proof must not verify for a different leaf: ok=%v err=%v", ok, err)
	}

	badRoot := HashData([]byte("not the root"))
	ok, err = VerifyProof(leaves[3], proof, badRoot)
	if err != nil || ok {
		t.Fatalf("proof must not verify against a wrong root: ok=%v err=%v", ok, err)
	}
}

func TestProofRejectsTamperedPath(t *testing.T) {
	leaves := leafSet(8)
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	proof, err := tree.GenerateProof(5)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	proof.Path[0].Hash = hex.EncodeToString(HashData([]byte("forged sibling")))
	ok, err := VerifyProof(leaves[5], proof, tree.Root())
	if err != nil || ok {
		t.Fatalf("tampered path must not verify: ok=%v err=%v", ok, err)
	}

	proof.Path[0].Hash = "zz-not-hex"
	if _, err := VerifyProof(leaves[5], proof, tree.Root()); err == nil {
		t.Fatal("malformed sibling hex must error")
	}
}

func TestGenerateProofByHash(t *testing.T) {
	leaves := leafSet(5)
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	proof, err := tree.GenerateProofByHash(leaves[2])
	if err != nil {
		t.Fatalf("GenerateProofByHash: %v", err)
	}
	if proof.LeafIndex != 2 {
		t.Fatalf("LeafIndex = %d, want 2", proof.LeafIndex)
	}

	if _, err := tree.GenerateProofByHash(HashData([]byte("absent"))); err != ErrLeafNotFound {
		t.Fatalf("unknown leaf: got %v, want ErrLeafNotFound", err)
	}
	if _, err := tree.GenerateProofByHash([]byte{1}); err != ErrInvalidLeafHash {
		t.Fatalf("short leaf: got %v, want ErrInvalidLeafHash", err)
	}
}

func TestGenerateProofIndexBounds(t *testing.T) {
	tree, err := BuildTree(leafSet(3))
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if _, err := tree.GenerateProof(-1); err == nil {
		t.Fatal("negative index must error")
	}
	if _, err := tree.GenerateProof(3); err == nil {
		t.Fatal("out-of-range index must error")
	}
}

func TestCombineHashes(t *testing.T) {
	a, b := []byte("first"), []byte("second")
	if !bytes.Equal(CombineHashes(a, b), HashData(append(append([]byte{}, a...), b...))) {
		t.Fatal("CombineHashes must hash the concatenation")
	}
	if bytes.Equal(CombineHashes(a, b), CombineHashes(b, a)) {
		t.Fatal("CombineHashes must be order sensitive")
	}
}
