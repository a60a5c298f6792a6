package rsda

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/kzg"
	gokzg4844 "github.com/crate-crypto/go-kzg-4844"

	"github.com/coreledger/validator-core/pkg/errs"
)

// CommitmentScheme wraps a KZG structured reference string sized for
// MaxDegree-bounded polynomials, shared across every proof generated
// against the same Params. A production deployment loads Srs from a
// ceremony transcript; GenerateInsecureSRS below exists for tests and
// devnets only.
type CommitmentScheme struct {
	mu  sync.Mutex
	Srs *kzg.SRS
}

// GenerateInsecureSRS derives a toy structured reference string from a
// fixed, non-secret scalar. Never use outside tests: the KZG trapdoor is
// trivially recoverable.
func GenerateInsecureSRS(maxDegree int) (*CommitmentScheme, error) {
	tau := new(big.Int).SetInt64(424242)
	srs, err := kzg.NewSRS(uint64(maxDegree+1), tau)
	if err != nil {
		return nil, errs.Wrap(errs.KindRSDACommitment, "rsda.GenerateInsecureSRS", "SRS generation failed", err)
	}
	return &CommitmentScheme{Srs: srs}, nil
}

// bytesToPolynomial maps data bytes onto field-element polynomial
// coefficients. Each 31-byte chunk becomes one
// bn254 scalar field element (31 bytes stays safely below the field's
// ~254-bit modulus).
func bytesToPolynomial(data []byte, maxDegree int) ([]fr.Element, error) {
	const chunkSize = 31
	numCoeffs := (len(data) + chunkSize - 1) / chunkSize
	if numCoeffs == 0 {
		numCoeffs = 1
	}
	if numCoeffs-1 > maxDegree {
		return nil, errs.New(errs.KindRSDAInvalidParams, "rsda.bytesToPolynomial", "data requires a polynomial degree exceeding max_degree")
	}

	coeffs := make([]fr.Element, numCoeffs)
	for i := 0; i < numCoeffs; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		var buf [32]byte
		copy(buf[1:], data[start:end])
		coeffs[i].SetBytes(buf[:])
	}
	return coeffs, nil
}

// Commit KZG-commits to data's polynomial encoding.
// Returns the serialized (compressed) commitment and the coefficients
// used, so the caller can later build the SNARK's degree/sum witnesses
// from the same polynomial.
func (c *CommitmentScheme) Commit(data []byte, maxDegree int) ([]byte, []fr.Element, error) {
	coeffs, err := bytesToPolynomial(data, maxDegree)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	digest, err := kzg.Commit(coeffs, c.Srs.Pk)
	c.mu.Unlock()
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindRSDACommitment, "rsda.Commit", "KZG commitment failed", err)
	}

	serialized := digest.Marshal()
	return serialized, coeffs, nil
}

var (
	blobCtxOnce sync.Once
	blobCtx     *gokzg4844.Context
	blobCtxErr  error
)

func blobContext() (*gokzg4844.Context, error) {
	blobCtxOnce.Do(func() {
		blobCtx, blobCtxErr = gokzg4844.NewContext4096Secure()
	})
	return blobCtx, blobCtxErr
}

const (
	blobFieldChunk  = 31 // bytes per blob field element, left-padded with a zero byte so every element is a canonical BLS12-381 scalar
	blobFieldCount  = 4096
	blobMaxDataSize = blobFieldChunk * blobFieldCount
)

// dataToBlob packs data into a go-kzg-4844 Blob, 31 bytes per 32-byte field
// element with the high byte zeroed, guaranteeing every element is below
// the BLS12-381 scalar modulus regardless of data's contents.
func dataToBlob(data []byte) gokzg4844.Blob {
	var blob gokzg4844.Blob
	for i := 0; i*blobFieldChunk < len(data) && i < blobFieldCount; i++ {
		start := i * blobFieldChunk
		end := start + blobFieldChunk
		if end > len(data) {
			end = len(data)
		}
		copy(blob[i*32+1:i*32+32], data[start:end])
	}
	return blob
}

// BlobCommit computes an EIP-4844-style KZG commitment to data using the
// go-kzg-4844 mainnet ceremony parameters, independent of the devnet SRS
// backing the in-circuit commitment check in Generate, giving the proof a
// second commitment against a real, audited trusted setup.
func BlobCommit(data []byte) ([48]byte, error) {
	if len(data) > blobMaxDataSize {
		return [48]byte{}, errs.New(errs.KindRSDAInvalidParams, "rsda.BlobCommit", "data exceeds a single blob's capacity")
	}
	ctx, err := blobContext()
	if err != nil {
		return [48]byte{}, errs.Wrap(errs.KindRSDACommitment, "rsda.BlobCommit", "kzg context initialization failed", err)
	}
	blob := dataToBlob(data)
	commitment, err := ctx.BlobToKZGCommitment(&blob, 0)
	if err != nil {
		return [48]byte{}, errs.Wrap(errs.KindRSDACommitment, "rsda.BlobCommit", "blob commitment failed", err)
	}
	return [48]byte(commitment), nil
}
