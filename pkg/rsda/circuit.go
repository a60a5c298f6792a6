// Data-availability ZK circuit definition.
//
// Proves, without revealing the encoded shards on-chain:
//   1. The polynomial's committed degree does not exceed max_degree.
//   2. The data commitment equals a specified weighted sum of coefficients.
//   3. The parity-shard byte sum and the data-shard byte sum satisfy
//      ParitySum*1000 == DataSum*RatioWitness for the public RatioWitness;
//      the Reed-Solomon encoding itself is not checked in the circuit.
//
// Uses gnark for ZK-SNARK circuit definition (Groth16 proving system):
// public/private frontend.Variable fields plus a linear-combination
// commitment check.
package rsda

import (
	"github.com/consensys/gnark/frontend"
)

// DegreeCap bounds how many coefficients the circuit can range over. A
// real deployment would size this to MaxDegree+1; kept small here since
// circuit size scales linearly with it.
const DegreeCap = 16

// AvailabilityCircuit is the ZK circuit proving the RSDA encoding
// relations for a single data-availability proof.
type AvailabilityCircuit struct {
	// PUBLIC INPUTS

	// DataCommitment is the claimed weighted-sum commitment to the
	// polynomial coefficients (a cheap in-circuit stand-in for the
	// full KZG commitment; Verify does not compare it with
	// Proof.PolynomialCommitment).
	DataCommitment frontend.Variable `gnark:",public"`

	// Degree is the claimed polynomial degree.
	Degree frontend.Variable `gnark:",public"`

	// MaxDegree is the configured upper bound.
	MaxDegree frontend.Variable `gnark:",public"`

	// ParitySum is the claimed total byte-sum across parity shards.
	ParitySum frontend.Variable `gnark:",public"`

	// DataSum is the claimed total byte-sum across data shards.
	DataSum frontend.Variable `gnark:",public"`

	// RatioWitness is the prover-supplied field element satisfying
	// ParitySum*1000 == DataSum*RatioWitness, i.e. the field inverse of
	// DataSum scaled by 1000*ParitySum. It attests that a consistent
	// proportionality exists between the two sums without requiring
	// ParitySum/DataSum to reduce to a small machine-integer ratio.
	RatioWitness frontend.Variable `gnark:",public"`

	// PRIVATE INPUTS

	// Coefficients are the polynomial's field-element coefficients,
	// zero-padded to DegreeCap.
	Coefficients [DegreeCap]frontend.Variable
}

// Define implements the circuit constraints.
func (c *AvailabilityCircuit) Define(api frontend.API) error {
	// CONSTRAINT 1: degree does not exceed max_degree.
	api.AssertIsLessOrEqual(c.Degree, c.MaxDegree)

	// CONSTRAINT 2: commitment equals the weighted sum of coefficients
	// under a fixed mixing coefficient.
	r := frontend.Variable(11)
	weighted := frontend.Variable(0)
	power := frontend.Variable(1)
	for i := 0; i < DegreeCap; i++ {
		weighted = api.Add(weighted, api.Mul(c.Coefficients[i], power))
		power = api.Mul(power, r)
	}
	api.AssertIsEqual(c.DataCommitment, weighted)

	// CONSTRAINT 3: parity-sum relation. The prover's RatioWitness must
	// satisfy ParitySum*1000 == DataSum*RatioWitness.
	lhs := api.Mul(c.ParitySum, 1000)
	rhs := api.Mul(c.DataSum, c.RatioWitness)
	api.AssertIsEqual(lhs, rhs)

	return nil
}
