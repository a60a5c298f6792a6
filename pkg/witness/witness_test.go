package witness

import (
	"bytes"
	"testing"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
	"github.com/coreledger/validator-core/pkg/receipt"
)

var _ receipt.WitnessRecorder = (*Recorder)(nil)

func newEnabledRecorder(t *testing.T, cfg RecorderConfig) *Recorder {
	t.Helper()
	r, err := NewRecorder(cfg)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	r.SetEnabled(true)
	return r
}

func TestSequenceStrictlyMonotonic(t *testing.T) {
	r := newEnabledRecorder(t, DefaultRecorderConfig())
	var last uint64
	for i := 0; i < 10; i++ {
		e, err := r.Record(OpSyscallResult, 100, 200, []byte("read"), "", nil)
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if e.Seq <= last {
			t.Fatalf("sequence not strictly monotonic: %d after %d", e.Seq, last)
		}
		last = e.Seq
	}
}

func TestDisabledRecorderDropsWrites(t *testing.T) {
	r, err := NewRecorder(DefaultRecorderConfig())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	e, err := r.Record(OpFileRead, 1, 1, []byte("x"), "", nil)
	if err != nil || e != nil {
		t.Fatalf("disabled recorder must drop silently, got entry=%v err=%v", e, err)
	}
	if r.EntryCount() != 0 {
		t.Fatal("disabled recorder must not accumulate entries")
	}
}

func TestTargetPIDFilter(t *testing.T) {
	r := newEnabledRecorder(t, DefaultRecorderConfig())
	r.SetTargetPID(42)
	if e, _ := r.Record(OpFileRead, 41, 1, []byte("x"), "", nil); e != nil {
		t.Fatal("out-of-scope PID must be dropped")
	}
	if e, _ := r.Record(OpFileRead, 42, 1, []byte("x"), "", nil); e == nil {
		t.Fatal("in-scope PID must be recorded")
	}
}

func TestCompressionTiersAndRoundTrip(t *testing.T) {
	cfg := DefaultRecorderConfig()
	r := newEnabledRecorder(t, cfg)

	small := []byte("tiny")
	medium := bytes.Repeat([]byte("medium payload "), 40)  // ~600B, S2 tier
	large := bytes.Repeat([]byte("large payload "), 200)   // ~2.8KB, Zstd tier

	eSmall, err := r.Record(OpEnvAccess, 1, 1, small, "", nil)
	if err != nil {
		t.Fatalf("Record small: %v", err)
	}
	eMedium, err := r.Record(OpFileRead, 1, 1, medium, "", nil)
	if err != nil {
		t.Fatalf("Record medium: %v", err)
	}
	eLarge, err := r.Record(OpFileWrite, 1, 1, large, "", nil)
	if err != nil {
		t.Fatalf("Record large: %v", err)
	}

	if eSmall.Compression != CompressionNone {
		t.Fatalf("small payload: got %s, want None", eSmall.Compression)
	}
	if eMedium.Compression != CompressionS2 {
		t.Fatalf("medium payload: got %s, want S2", eMedium.Compression)
	}
	if eLarge.Compression != CompressionZstd {
		t.Fatalf("large payload: got %s, want Zstd", eLarge.Compression)
	}

	for _, pair := range []struct {
		entry *Entry
		want  []byte
	}{{eSmall, small}, {eMedium, medium}, {eLarge, large}} {
		got, err := pair.entry.Decompress()
		if err != nil {
			t.Fatalf("Decompress(%s): %v", pair.entry.Compression, err)
		}
		if !bytes.Equal(got, pair.want) {
			t.Fatalf("Decompress(%s) mismatch", pair.entry.Compression)
		}
		if pair.entry.OriginalSize != uint64(len(pair.want)) {
			t.Fatalf("original size = %d, want %d", pair.entry.OriginalSize, len(pair.want))
		}
	}

	stats := r.Stats()
	if stats.TotalEntries != 3 || stats.S2Entries != 1 || stats.ZstdEntries != 1 || stats.UncompressedEntries != 1 {
		t.Fatalf("stats mismatch: %+v", stats)
	}
	if stats.Ratio() <= 1.0 {
		t.Fatalf("compressible payloads should yield ratio > 1, got %v", stats.Ratio())
	}
}

func TestEventCorrelation(t *testing.T) {
	r := newEnabledRecorder(t, DefaultRecorderConfig())
	if _, err := r.Record(OpFileRead, 1, 1, []byte("a"), "ev-1", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := r.Record(OpFileRead, 1, 1, []byte("b"), "", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := r.Record(OpSyscallResult, 1, 1, []byte("c"), "ev-1", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := r.EntriesForEvent("ev-1")
	if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 3 {
		t.Fatalf("correlation mismatch: %+v", got)
	}
	if len(r.EntriesForEvent("ev-unknown")) != 0 {
		t.Fatal("unknown event must correlate to nothing")
	}
}

func TestCapacityLimitMarksIncomplete(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.MaxLogBytes = 8
	r := newEnabledRecorder(t, cfg)

	if _, err := r.Record(OpFileWrite, 1, 1, []byte("12345678"), "", nil); err != nil {
		t.Fatalf("first record should fit: %v", err)
	}
	_, err := r.Record(OpFileWrite, 1, 1, []byte("overflow"), "", nil)
	if !errs.Is(err, errs.KindCapacityExceeded) {
		t.Fatalf("expected CapacityExceeded, got %v", err)
	}
	if r.Complete() {
		t.Fatal("a refused write must mark the log incomplete")
	}
}

func TestMerkleRootEmptyAndChanges(t *testing.T) {
	r := newEnabledRecorder(t, DefaultRecorderConfig())
	if r.MerkleRoot() != vcrypto.ZeroHash {
		t.Fatal("empty log must yield the zero hash")
	}

	if _, err := r.Record(OpFileRead, 1, 1, []byte("a"), "", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	root1 := r.MerkleRoot()
	if root1 == vcrypto.ZeroHash {
		t.Fatal("non-empty log must yield a non-zero root")
	}
	if _, err := r.Record(OpFileRead, 1, 1, []byte("b"), "", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if r.MerkleRoot() == root1 {
		t.Fatal("appending an entry must change the root")
	}
}

func TestEntryRoundTripAndHash(t *testing.T) {
	want := &Entry{
		Seq:               7,
		Op:                OpSyscallResult,
		PID:               100,
		TID:               200,
		Data:              []byte{1, 2, 3},
		CorrelatedEventID: "ev-9",
		Compression:       CompressionNone,
		CompressedSize:    3,
		OriginalSize:      3,
		Metadata:          map[string]string{"syscall": "read"},
	}

	enc, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := &Entry{}
	if err := codec.Decode(enc, got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Seq != want.Seq || got.Op != want.Op || got.PID != want.PID || got.TID != want.TID ||
		got.CorrelatedEventID != want.CorrelatedEventID || got.Compression != want.Compression ||
		got.CompressedSize != want.CompressedSize || got.OriginalSize != want.OriginalSize ||
		!bytes.Equal(got.Data, want.Data) || got.Metadata["syscall"] != "read" {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if got.Hash() != want.Hash() {
		t.Fatal("decoded entry must hash identically")
	}

	got.Seq++
	if got.Hash() == want.Hash() {
		t.Fatal("mutated entry must hash differently")
	}
}

func TestRecorderFeedsReceiptPipeline(t *testing.T) {
	r := newEnabledRecorder(t, DefaultRecorderConfig())
	if _, err := r.Record(OpFileRead, 1, 1, []byte("observed"), "", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	g := receipt.NewGenerator(0, nil)
	res := &receipt.ExecutionResult{WitnessRecorder: r}
	rec := g.Generate("receipt-w", res)
	if rec.TraceRoots.WitnessRoot != r.MerkleRoot() {
		t.Fatal("receipt witness_root must equal the recorder's Merkle root")
	}
	if rec.ExecutionStats.WitnessEntries != 1 {
		t.Fatalf("witness entry count = %d, want 1", rec.ExecutionStats.WitnessEntries)
	}
}
