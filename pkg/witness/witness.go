// Package witness implements the enhanced witness log feeding the receipt
// pipeline's witness_root: per-recorder strictly monotonic entries
// carrying compressed operation payloads, optional event-stream
// correlation, and a Merkle root over domain-separated entry hashes.
package witness

import (
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
	"github.com/coreledger/validator-core/pkg/merkle"
)

// OpType classifies what a witness entry observed.
type OpType string

const (
	OpFileRead      OpType = "FileRead"
	OpFileWrite     OpType = "FileWrite"
	OpSyscallResult OpType = "SyscallResult"
	OpEnvAccess     OpType = "EnvAccess"
	OpRandomData    OpType = "RandomData"
)

// Compression names the codec an entry's payload is stored under. S2
// covers the fast-codec tier, Zstd the high-ratio tier for larger
// payloads; both come from klauspost/compress.
type Compression string

const (
	CompressionNone Compression = "None"
	CompressionS2   Compression = "S2"
	CompressionZstd Compression = "Zstd"
)

// Entry is one recorded witness observation. Data holds the payload as
// stored (compressed under Compression); OriginalSize/CompressedSize
// record both sides of that transform. CorrelatedEventID is empty when
// the entry was not correlated with a canonical event stream event.
type Entry struct {
	Seq               uint64
	Op                OpType
	PID               uint32
	TID               uint32
	Data              []byte
	CorrelatedEventID string
	Compression       Compression
	CompressedSize    uint64
	OriginalSize      uint64
	Metadata          map[string]string
}

// EncodeCanonical implements codec.Encodable.
func (e *Entry) EncodeCanonical(enc *codec.Encoder) {
	enc.PutUint64(e.Seq)
	enc.PutEnum(string(e.Op))
	enc.PutUint32(e.PID)
	enc.PutUint32(e.TID)
	enc.PutBytes(e.Data)
	enc.PutString(e.CorrelatedEventID)
	enc.PutEnum(string(e.Compression))
	enc.PutUint64(e.CompressedSize)
	enc.PutUint64(e.OriginalSize)
	enc.PutStringMap(e.Metadata)
}

// DecodeCanonical implements codec.Decodable.
func (e *Entry) DecodeCanonical(d *codec.Decoder) error {
	e.Seq = d.Uint64()
	e.Op = OpType(d.Enum())
	e.PID = d.Uint32()
	e.TID = d.Uint32()
	e.Data = d.Bytes()
	e.CorrelatedEventID = d.String()
	e.Compression = Compression(d.Enum())
	e.CompressedSize = d.Uint64()
	e.OriginalSize = d.Uint64()
	e.Metadata = d.StringMap()
	return nil
}

// Hash hashes the entry's canonical encoding under the enhanced-witness
// domain label.
func (e *Entry) Hash() [32]byte {
	enc := codec.Encoder{}
	e.EncodeCanonical(&enc)
	return vcrypto.SumLabel(vcrypto.LabelEnhancedWitness, enc.MustBytes())
}

// Decompress returns the entry's original payload bytes.
func (e *Entry) Decompress() ([]byte, error) {
	switch e.Compression {
	case CompressionNone:
		return e.Data, nil
	case CompressionS2:
		out, err := s2.Decode(nil, e.Data)
		if err != nil {
			return nil, errs.Wrap(errs.KindEncoding, "witness.Decompress", "s2 decode failed", err)
		}
		return out, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindEncoding, "witness.Decompress", "zstd reader init failed", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(e.Data, nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindEncoding, "witness.Decompress", "zstd decode failed", err)
		}
		return out, nil
	default:
		return nil, errs.New(errs.KindEncoding, "witness.Decompress", "unknown compression algorithm")
	}
}

// CompressionStats tracks per-codec counts and the overall ratio.
type CompressionStats struct {
	TotalEntries        uint64
	TotalOriginalSize   uint64
	TotalCompressedSize uint64
	S2Entries           uint64
	ZstdEntries         uint64
	UncompressedEntries uint64
}

// Ratio returns total original over total compressed size, 1.0 when empty.
func (s CompressionStats) Ratio() float64 {
	if s.TotalCompressedSize == 0 {
		return 1.0
	}
	return float64(s.TotalOriginalSize) / float64(s.TotalCompressedSize)
}

// RecorderConfig bounds a Recorder's log and compression tiering.
type RecorderConfig struct {
	MaxLogBytes   uint64 // total compressed bytes before the log refuses writes
	S2Threshold   int    // payloads above this use S2
	ZstdThreshold int    // payloads above this use Zstd instead
}

// DefaultRecorderConfig mirrors the size-tiered codec choice the
// compression thresholds are tuned for: small payloads stay raw, medium
// payloads take the fast codec, large ones the high-ratio codec.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		MaxLogBytes:   100 << 20,
		S2Threshold:   256,
		ZstdThreshold: 1024,
	}
}

// Recorder is the enhanced witness recorder: an append-only entry log
// with strictly monotonic sequence numbers, size-tiered compression, and
// event correlation. It satisfies the receipt pipeline's
// WitnessRecorder contract (MerkleRoot/EntryCount/Complete).
type Recorder struct {
	mu           sync.Mutex
	cfg          RecorderConfig
	enabled      bool
	targetPID    uint32 // 0 = record all PIDs
	seq          uint64
	entries      []*Entry
	totalBytes   uint64
	truncated    bool
	stats        CompressionStats
	correlations map[string][]int // event id -> entry indices

	zenc *zstd.Encoder
}

// NewRecorder constructs a disabled Recorder; call SetEnabled to start
// accepting entries.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.MaxLogBytes == 0 {
		cfg = DefaultRecorderConfig()
	}
	zenc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "witness.NewRecorder", "zstd encoder init failed", err)
	}
	return &Recorder{cfg: cfg, correlations: make(map[string][]int), zenc: zenc}, nil
}

// SetEnabled turns recording on or off. Disabled recorders drop Record
// calls without error.
func (r *Recorder) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// SetTargetPID restricts recording to a single process; 0 records all.
func (r *Recorder) SetTargetPID(pid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targetPID = pid
}

// Record appends a new entry for the observed operation, compressing
// payload by size tier and correlating it with eventID when non-empty.
// Returns nil (no entry, no error) when recording is disabled or the PID
// is out of scope. A log that has hit MaxLogBytes refuses the write,
// marks itself incomplete, and returns CapacityExceeded.
func (r *Recorder) Record(op OpType, pid, tid uint32, payload []byte, eventID string, metadata map[string]string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled || (r.targetPID != 0 && pid != r.targetPID) {
		return nil, nil
	}
	if r.totalBytes >= r.cfg.MaxLogBytes {
		r.truncated = true
		return nil, errs.New(errs.KindCapacityExceeded, "witness.Record", "witness log size limit reached")
	}

	stored, comp := r.compress(payload)
	r.seq++
	entry := &Entry{
		Seq:               r.seq,
		Op:                op,
		PID:               pid,
		TID:               tid,
		Data:              stored,
		CorrelatedEventID: eventID,
		Compression:       comp,
		CompressedSize:    uint64(len(stored)),
		OriginalSize:      uint64(len(payload)),
		Metadata:          metadata,
	}

	r.entries = append(r.entries, entry)
	r.totalBytes += entry.CompressedSize
	r.stats.TotalEntries++
	r.stats.TotalOriginalSize += entry.OriginalSize
	r.stats.TotalCompressedSize += entry.CompressedSize
	switch comp {
	case CompressionS2:
		r.stats.S2Entries++
	case CompressionZstd:
		r.stats.ZstdEntries++
	default:
		r.stats.UncompressedEntries++
	}
	if eventID != "" {
		r.correlations[eventID] = append(r.correlations[eventID], len(r.entries)-1)
	}
	return entry, nil
}

// compress picks the codec tier for payload. A codec that fails to
// shrink the payload falls back to storing it raw.
func (r *Recorder) compress(payload []byte) ([]byte, Compression) {
	switch {
	case len(payload) > r.cfg.ZstdThreshold:
		out := r.zenc.EncodeAll(payload, nil)
		if len(out) < len(payload) {
			return out, CompressionZstd
		}
	case len(payload) > r.cfg.S2Threshold:
		out := s2.Encode(nil, payload)
		if len(out) < len(payload) {
			return out, CompressionS2
		}
	}
	cp := append([]byte(nil), payload...)
	return cp, CompressionNone
}

// Entries returns a snapshot of the log in sequence order.
func (r *Recorder) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// EntriesForEvent returns the entries correlated with eventID, in
// recording order.
func (r *Recorder) EntriesForEvent(eventID string) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	indices := r.correlations[eventID]
	out := make([]*Entry, 0, len(indices))
	for _, i := range indices {
		out = append(out, r.entries[i])
	}
	return out
}

// Stats returns a snapshot of the compression counters.
func (r *Recorder) Stats() CompressionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// MerkleRoot builds the Merkle root over every entry's domain-separated
// hash, in sequence order. An empty log yields the zero hash, matching
// the receipt pipeline's "zero hash when absent" rule.
func (r *Recorder) MerkleRoot() [32]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return vcrypto.ZeroHash
	}
	leaves := make([][]byte, len(r.entries))
	for i, e := range r.entries {
		h := e.Hash()
		leaves[i] = h[:]
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return vcrypto.ZeroHash
	}
	var root [32]byte
	copy(root[:], tree.Root())
	return root
}

// EntryCount returns the number of recorded entries.
func (r *Recorder) EntryCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.entries))
}

// Complete reports whether the log recorded everything it was asked to:
// false once any write was refused for capacity.
func (r *Recorder) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.truncated
}
