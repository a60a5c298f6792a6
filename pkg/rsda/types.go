// Package rsda implements the recursive-SNARK Data Availability layer
// layer: KZG polynomial commitment + Reed-Solomon erasure
// coding + a Groth16 SNARK attesting the encoding relations, wrapped in a
// Merkle tree over the encoded shards for inclusion proofs.
package rsda

import (
	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/merkle"
)

// Params bounds a single DA proof's shape.
type Params struct {
	MaxDegree    int
	DataShards   int
	ParityShards int
}

// Proof is the data-availability proof envelope.
type Proof struct {
	SNARKProof           []byte
	PolynomialCommitment []byte
	EncodedChunks        [][]byte
	MerkleRoot           [32]byte
	MerkleProofs         []*merkle.InclusionProof
	PublicInputs         []byte
	OriginalSize         uint64
	RedundancyFactor     uint32

	// BlobCommitment is a KZG commitment to the original data under the
	// EIP-4844 ceremony parameters (go-kzg-4844), independent of the toy
	// SRS backing the in-circuit commitment check. It gives the proof a
	// second, production-grade commitment that Verify recomputes from the
	// reconstructed data rather than trusting as asserted.
	BlobCommitment [48]byte
}

// EncodeCanonical implements codec.Encodable.
func (p *Proof) EncodeCanonical(e *codec.Encoder) {
	e.PutBytes(p.SNARKProof)
	e.PutBytes(p.PolynomialCommitment)
	e.PutBytesSlice(p.EncodedChunks)
	e.PutFixedBytes(p.MerkleRoot[:])
	e.PutUint32(uint32(len(p.MerkleProofs)))
	for _, mp := range p.MerkleProofs {
		encodeInclusionProof(e, mp)
	}
	e.PutBytes(p.PublicInputs)
	e.PutUint64(p.OriginalSize)
	e.PutUint32(p.RedundancyFactor)
	e.PutFixedBytes(p.BlobCommitment[:])
}

// DecodeCanonical implements codec.Decodable.
func (p *Proof) DecodeCanonical(d *codec.Decoder) error {
	p.SNARKProof = d.Bytes()
	p.PolynomialCommitment = d.Bytes()
	p.EncodedChunks = d.BytesSlice()
	copy(p.MerkleRoot[:], d.FixedBytes(32))
	n := d.Uint32()
	if d.Err() != nil {
		return nil
	}
	p.MerkleProofs = make([]*merkle.InclusionProof, 0, n)
	for i := uint32(0); i < n; i++ {
		p.MerkleProofs = append(p.MerkleProofs, decodeInclusionProof(d))
	}
	p.PublicInputs = d.Bytes()
	p.OriginalSize = d.Uint64()
	p.RedundancyFactor = d.Uint32()
	copy(p.BlobCommitment[:], d.FixedBytes(48))
	return nil
}

func encodeInclusionProof(e *codec.Encoder, mp *merkle.InclusionProof) {
	e.PutString(mp.LeafHash)
	e.PutUint32(uint32(mp.LeafIndex))
	e.PutString(mp.MerkleRoot)
	e.PutUint32(uint32(mp.TreeSize))
	e.PutUint32(uint32(len(mp.Path)))
	for _, node := range mp.Path {
		e.PutString(node.Hash)
		e.PutEnum(string(node.Position))
	}
}

func decodeInclusionProof(d *codec.Decoder) *merkle.InclusionProof {
	mp := &merkle.InclusionProof{
		LeafHash:   d.String(),
		LeafIndex:  int(d.Uint32()),
		MerkleRoot: d.String(),
		TreeSize:   int(d.Uint32()),
	}
	n := d.Uint32()
	if d.Err() != nil {
		return mp
	}
	mp.Path = make([]merkle.ProofNode, 0, n)
	for i := uint32(0); i < n; i++ {
		mp.Path = append(mp.Path, merkle.ProofNode{Hash: d.String(), Position: merkle.Position(d.Enum())})
	}
	return mp
}

// SigningHash hashes the proof under the stable DA-proof domain tag.
func (p *Proof) SigningHash() [32]byte {
	enc := codec.Encoder{}
	p.EncodeCanonical(&enc)
	return vcrypto.Sum(vcrypto.TagDAProof, enc.MustBytes())
}
