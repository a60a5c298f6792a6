package rsda

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	bn254fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
	"github.com/coreledger/validator-core/pkg/merkle"
)

// shardLeaves hashes each Reed-Solomon shard into a 32-byte Merkle leaf;
// BuildTree requires fixed 32-byte leaves and shards are arbitrary-length.
func shardLeaves(shards [][]byte) [][]byte {
	leaves := make([][]byte, len(shards))
	for i, s := range shards {
		h := vcrypto.Sum(vcrypto.TagDAShard, s)
		leaves[i] = h[:]
	}
	return leaves
}

// Prover holds the compiled circuit and Groth16 keys for generating and
// verifying availability SNARKs. One Prover is shared across every proof
// generated under the same Params.
type Prover struct {
	mu          sync.RWMutex
	cs          constraint.ConstraintSystem
	pk          groth16.ProvingKey
	vk          groth16.VerifyingKey
	initialized bool
}

// NewProver compiles AvailabilityCircuit and runs the Groth16 trusted
// setup, producing the proving and verifying keys every proof shares.
func NewProver() (*Prover, error) {
	var circuit AvailabilityCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, errs.Wrap(errs.KindRSDAProofGen, "rsda.NewProver", "circuit compilation failed", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, errs.Wrap(errs.KindRSDAProofGen, "rsda.NewProver", "groth16 setup failed", err)
	}
	return &Prover{cs: cs, pk: pk, vk: vk, initialized: true}, nil
}

// witness holds the assignment for one proof's circuit inputs.
type witness struct {
	dataCommitment *big.Int
	degree         uint64
	maxDegree      uint64
	paritySum      uint64
	dataSum        uint64
	ratioWitness   *big.Int
	coefficients   []bn254fr.Element
}

// publicInputs is the serializable subset of witness the verifier needs;
// re-assembling an AvailabilityCircuit from these lets VerifyProof build
// a public-only gnark witness without depending on gnark's own witness
// binary format.
type publicInputs struct {
	dataCommitment *big.Int
	degree         uint64
	maxDegree      uint64
	paritySum      uint64
	dataSum        uint64
	ratioWitness   *big.Int
}

// ratioWitnessFor computes the field element satisfying
// paritySum*1000 == dataSum*ratioWitness (mod the BN254 scalar field),
// matching AvailabilityCircuit's constraint 3. dataSum == 0 degenerates
// to a zero ratio; the circuit then only accepts a proof with
// paritySum == 0 too, which is the correct behavior for empty data.
func ratioWitnessFor(dataSum, paritySum uint64) *big.Int {
	var dataSumFr, paritySumFr, thousand, lhs, ratio bn254fr.Element
	dataSumFr.SetUint64(dataSum)
	paritySumFr.SetUint64(paritySum)
	thousand.SetUint64(1000)
	lhs.Mul(&paritySumFr, &thousand)
	if dataSum != 0 {
		var inv bn254fr.Element
		inv.Inverse(&dataSumFr)
		ratio.Mul(&lhs, &inv)
	}
	var out big.Int
	ratio.BigInt(&out)
	return &out
}

func (w *witness) assignment() *AvailabilityCircuit {
	c := &AvailabilityCircuit{
		DataCommitment: w.dataCommitment,
		Degree:         w.degree,
		MaxDegree:      w.maxDegree,
		ParitySum:      w.paritySum,
		DataSum:        w.dataSum,
		RatioWitness:   w.ratioWitness,
	}
	for i := 0; i < DegreeCap; i++ {
		if i < len(w.coefficients) {
			var asBig big.Int
			w.coefficients[i].BigInt(&asBig)
			c.Coefficients[i] = &asBig
		} else {
			c.Coefficients[i] = 0
		}
	}
	return c
}

func (p *publicInputs) encode() []byte {
	e := &codec.Encoder{}
	e.PutBytes(p.dataCommitment.Bytes())
	e.PutUint64(p.degree)
	e.PutUint64(p.maxDegree)
	e.PutUint64(p.paritySum)
	e.PutUint64(p.dataSum)
	e.PutBytes(p.ratioWitness.Bytes())
	return e.MustBytes()
}

func decodePublicInputs(data []byte) (*publicInputs, error) {
	d := codec.NewDecoder(data)
	commitmentBytes := d.Bytes()
	pi := &publicInputs{
		dataCommitment: new(big.Int).SetBytes(commitmentBytes),
		degree:         d.Uint64(),
		maxDegree:      d.Uint64(),
		paritySum:      d.Uint64(),
		dataSum:        d.Uint64(),
	}
	ratioBytes := d.Bytes()
	pi.ratioWitness = new(big.Int).SetBytes(ratioBytes)
	if d.Err() != nil {
		return nil, d.Err()
	}
	return pi, nil
}

// GenerateProof builds a Groth16 witness from w and produces a serialized
// proof plus its serialized public inputs.
func (p *Prover) GenerateProof(w *witness) ([]byte, []byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, nil, errs.New(errs.KindRSDAProofGen, "rsda.GenerateProof", "prover not initialized")
	}
	if len(w.coefficients) > DegreeCap {
		return nil, nil, errs.New(errs.KindRSDAInvalidParams, "rsda.GenerateProof", "coefficient count exceeds circuit degree cap")
	}

	full, err := frontend.NewWitness(w.assignment(), ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindRSDAProofGen, "rsda.GenerateProof", "witness construction failed", err)
	}
	proof, err := groth16.Prove(p.cs, p.pk, full)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindRSDAProofGen, "rsda.GenerateProof", "groth16 proving failed", err)
	}

	proofBytes, err := marshalProof(proof)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindRSDAProofGen, "rsda.GenerateProof", "proof serialization failed", err)
	}

	pub := &publicInputs{
		dataCommitment: w.dataCommitment,
		degree:         w.degree,
		maxDegree:      w.maxDegree,
		paritySum:      w.paritySum,
		dataSum:        w.dataSum,
		ratioWitness:   w.ratioWitness,
	}
	return proofBytes, pub.encode(), nil
}

// VerifyProof checks proofBytes against publicInputBytes under the
// Prover's verification key, rebuilding a public-only witness from the
// decoded inputs rather than trusting a caller-supplied one.
func (p *Prover) VerifyProof(proofBytes, publicInputBytes []byte) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return false, errs.New(errs.KindRSDAProofVerify, "rsda.VerifyProof", "prover not initialized")
	}

	pub, err := decodePublicInputs(publicInputBytes)
	if err != nil {
		return false, errs.Wrap(errs.KindRSDAProofVerify, "rsda.VerifyProof", "public input deserialization failed", err)
	}

	assignment := &AvailabilityCircuit{
		DataCommitment: pub.dataCommitment,
		Degree:         pub.degree,
		MaxDegree:      pub.maxDegree,
		ParitySum:      pub.paritySum,
		DataSum:        pub.dataSum,
		RatioWitness:   pub.ratioWitness,
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, errs.Wrap(errs.KindRSDAProofVerify, "rsda.VerifyProof", "public witness construction failed", err)
	}

	proof, err := unmarshalProof(proofBytes)
	if err != nil {
		return false, errs.Wrap(errs.KindRSDAProofVerify, "rsda.VerifyProof", "proof deserialization failed", err)
	}

	if err := groth16.Verify(proof, p.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

// proofComponents is the wire format for a Groth16 BN254 proof: the
// Ar/Krs G1 points and the Bs G2 point, each as raw big-endian coordinates.
type proofComponents struct {
	arX, arY           *big.Int
	bsX0, bsX1, bsY0, bsY1 *big.Int
	krsX, krsY         *big.Int
}

func marshalProof(proof groth16.Proof) ([]byte, error) {
	bn := proof.(*groth16bn254.Proof)
	pc := &proofComponents{
		arX: new(big.Int), arY: new(big.Int),
		bsX0: new(big.Int), bsX1: new(big.Int), bsY0: new(big.Int), bsY1: new(big.Int),
		krsX: new(big.Int), krsY: new(big.Int),
	}
	bn.Ar.X.BigInt(pc.arX)
	bn.Ar.Y.BigInt(pc.arY)
	bn.Bs.X.A0.BigInt(pc.bsX0)
	bn.Bs.X.A1.BigInt(pc.bsX1)
	bn.Bs.Y.A0.BigInt(pc.bsY0)
	bn.Bs.Y.A1.BigInt(pc.bsY1)
	bn.Krs.X.BigInt(pc.krsX)
	bn.Krs.Y.BigInt(pc.krsY)

	e := &codec.Encoder{}
	for _, v := range []*big.Int{pc.arX, pc.arY, pc.bsX0, pc.bsX1, pc.bsY0, pc.bsY1, pc.krsX, pc.krsY} {
		e.PutBytes(v.Bytes())
	}
	return e.MustBytes(), nil
}

func unmarshalProof(data []byte) (groth16.Proof, error) {
	d := codec.NewDecoder(data)
	vals := make([]*big.Int, 8)
	for i := range vals {
		vals[i] = new(big.Int).SetBytes(d.Bytes())
	}
	if d.Err() != nil {
		return nil, d.Err()
	}

	bn := &groth16bn254.Proof{}
	bn.Ar.X.SetBigInt(vals[0])
	bn.Ar.Y.SetBigInt(vals[1])
	bn.Bs.X.A0.SetBigInt(vals[2])
	bn.Bs.X.A1.SetBigInt(vals[3])
	bn.Bs.Y.A0.SetBigInt(vals[4])
	bn.Bs.Y.A1.SetBigInt(vals[5])
	bn.Krs.X.SetBigInt(vals[6])
	bn.Krs.Y.SetBigInt(vals[7])
	return bn, nil
}

// Generate assembles a complete Proof — commit, erasure-code, Merkle,
// SNARK, serialize — given
// raw data, Params, a CommitmentScheme, and a ready Prover. Merkle
// proofs are built for every shard so any subset can later be
// individually verified for inclusion.
func Generate(data []byte, params Params, scheme *CommitmentScheme, prover *Prover) (*Proof, error) {
	commitment, coeffs, err := scheme.Commit(data, params.MaxDegree)
	if err != nil {
		return nil, err
	}

	shards, err := encodeShards(data, params)
	if err != nil {
		return nil, err
	}
	if len(shards) != params.DataShards+params.ParityShards {
		return nil, errs.New(errs.KindRSDAReedSolomon, "rsda.Generate", "shard count does not match data_shards+parity_shards")
	}

	tree, err := merkle.BuildTree(shardLeaves(shards))
	if err != nil {
		return nil, errs.Wrap(errs.KindRSDAMerkleProof, "rsda.Generate", "merkle tree construction failed", err)
	}
	var merkleProofs []*merkle.InclusionProof
	for i := range shards {
		proof, err := tree.GenerateProof(i)
		if err != nil {
			return nil, errs.Wrap(errs.KindRSDAMerkleProof, "rsda.Generate", "merkle proof generation failed", err)
		}
		merkleProofs = append(merkleProofs, proof)
	}

	var dataSum, paritySum uint64
	for i, shard := range shards {
		sum := uint64(0)
		for _, b := range shard {
			sum += uint64(b)
		}
		if i < params.DataShards {
			dataSum += sum
		} else {
			paritySum += sum
		}
	}
	redundancyMilli := uint64(params.ParityShards) * 1000 / uint64(params.DataShards)
	ratio := ratioWitnessFor(dataSum, paritySum)

	// The circuit's commitment check is a fixed-mixing-coefficient linear
	// combination evaluated over the KZG polynomial's own coefficients, so
	// the SNARK and the KZG commitment attest to the same underlying data.
	weighted := bn254fr.NewElement(0)
	r := bn254fr.NewElement(11)
	power := bn254fr.NewElement(1)
	for _, c := range coeffs {
		var term bn254fr.Element
		term.Mul(&c, &power)
		weighted.Add(&weighted, &term)
		power.Mul(&power, &r)
	}
	var commitmentBig big.Int
	weighted.BigInt(&commitmentBig)

	w := &witness{
		dataCommitment: &commitmentBig,
		degree:         uint64(len(coeffs) - 1),
		maxDegree:      uint64(params.MaxDegree),
		dataSum:        dataSum,
		paritySum:      paritySum,
		ratioWitness:   ratio,
		coefficients:   coeffs,
	}

	proofBytes, publicInputBytes, err := prover.GenerateProof(w)
	if err != nil {
		return nil, err
	}

	var merkleRoot [32]byte
	copy(merkleRoot[:], tree.Root())

	blobCommitment, err := BlobCommit(data)
	if err != nil {
		return nil, err
	}

	return &Proof{
		SNARKProof:           proofBytes,
		PolynomialCommitment: commitment,
		EncodedChunks:        shards,
		MerkleRoot:           merkleRoot,
		MerkleProofs:         merkleProofs,
		PublicInputs:         publicInputBytes,
		OriginalSize:         uint64(len(data)),
		RedundancyFactor:     uint32(redundancyMilli),
		BlobCommitment:       blobCommitment,
	}, nil
}

// Recover reconstructs the original data from a (possibly partial) set of
// shards, where missing shards are represented as nil entries.
func Recover(shards [][]byte, params Params, originalSize uint64) ([]byte, error) {
	return recoverShards(shards, params, originalSize)
}

// Verify runs the full verification sequence: the SNARK
// verifies against prover's verifying key, the Merkle root recomputes
// deterministically from the encoded chunks, and a Reed-Solomon
// reconstruction with params.ParityShards data shards removed still
// succeeds, confirming the encoding is genuinely recoverable.
func Verify(proof *Proof, params Params, prover *Prover) (bool, error) {
	ok, err := prover.VerifyProof(proof.SNARKProof, proof.PublicInputs)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	tree, err := merkle.BuildTree(shardLeaves(proof.EncodedChunks))
	if err != nil {
		return false, errs.Wrap(errs.KindRSDAMerkleProof, "rsda.Verify", "merkle tree reconstruction failed", err)
	}
	var recomputedRoot [32]byte
	copy(recomputedRoot[:], tree.Root())
	if recomputedRoot != proof.MerkleRoot {
		return false, nil
	}

	probe := make([][]byte, len(proof.EncodedChunks))
	copy(probe, proof.EncodedChunks)
	removed := params.ParityShards
	if removed > len(probe) {
		removed = len(probe)
	}
	for i := 0; i < removed; i++ {
		probe[i] = nil
	}
	reconstructed, err := recoverShards(probe, params, proof.OriginalSize)
	if err != nil {
		return false, errs.Wrap(errs.KindRSDADataUnavailable, "rsda.Verify", "reed-solomon reconstruction check failed", err)
	}

	blobCommitment, err := BlobCommit(reconstructed)
	if err != nil {
		return false, errs.Wrap(errs.KindRSDACommitment, "rsda.Verify", "blob commitment recomputation failed", err)
	}
	if blobCommitment != proof.BlobCommitment {
		return false, nil
	}

	return true, nil
}
