package rsda

import (
	"github.com/coreledger/validator-core/pkg/errs"
	"github.com/klauspost/reedsolomon"
)

// encodeShards Reed-Solomon-encodes data into params.DataShards equal-size,
// zero-padded shards plus params.ParityShards parity shards, so
// |shards| = data_shards + parity_shards always holds.
func encodeShards(data []byte, params Params) ([][]byte, error) {
	enc, err := reedsolomon.New(params.DataShards, params.ParityShards)
	if err != nil {
		return nil, errs.Wrap(errs.KindRSDAInvalidParams, "rsda.encodeShards", "invalid (data_shards, parity_shards)", err)
	}
	shards, err := enc.Split(data)
	if err != nil {
		return nil, errs.Wrap(errs.KindRSDAReedSolomon, "rsda.encodeShards", "split failed", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, errs.Wrap(errs.KindRSDAReedSolomon, "rsda.encodeShards", "encode failed", err)
	}
	return shards, nil
}

// recoverShards reconstructs any missing shards (represented as nil
// entries) given at least params.DataShards present shards, then joins
// the first params.DataShards reconstructed data shards back into the
// original byte stream truncated to originalSize.
func recoverShards(shards [][]byte, params Params, originalSize uint64) ([]byte, error) {
	enc, err := reedsolomon.New(params.DataShards, params.ParityShards)
	if err != nil {
		return nil, errs.Wrap(errs.KindRSDAInvalidParams, "rsda.recoverShards", "invalid (data_shards, parity_shards)", err)
	}

	working := make([][]byte, len(shards))
	copy(working, shards)

	if err := enc.ReconstructData(working); err != nil {
		return nil, errs.Wrap(errs.KindRSDADataUnavailable, "rsda.recoverShards", "insufficient shards to recover data", err)
	}

	buf := make([]byte, 0, originalSize)
	for i := 0; i < params.DataShards && uint64(len(buf)) < originalSize; i++ {
		buf = append(buf, working[i]...)
	}
	if uint64(len(buf)) > originalSize {
		buf = buf[:originalSize]
	}
	return buf, nil
}
