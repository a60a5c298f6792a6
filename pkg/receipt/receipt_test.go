package receipt

import (
	"testing"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
)

type fakeWitnessRecorder struct {
	root     [32]byte
	entries  uint64
	complete bool
}

func (f *fakeWitnessRecorder) MerkleRoot() [32]byte { return f.root }
func (f *fakeWitnessRecorder) EntryCount() uint64   { return f.entries }
func (f *fakeWitnessRecorder) Complete() bool       { return f.complete }

type fakeEventStream struct {
	root    [32]byte
	entries uint64
}

func (f *fakeEventStream) Root() [32]byte     { return f.root }
func (f *fakeEventStream) EntryCount() uint64 { return f.entries }

func baseResult() *ExecutionResult {
	return &ExecutionResult{
		Context: ExecutionContext{
			Session:        "sess-1",
			Command:        []string{"run"},
			Env:            map[string]string{"FOO": "bar"},
			WorkingDir:     "/work",
			ResourceLimits: ResourceLimits{MaxMemoryBytes: 1024, MaxCPUTimeMS: 10000},
			StartTime:      time.Unix(1000, 0),
		},
		EndTime:     time.Unix(1001, 0),
		ExitCode:    0,
		MemoryStats: MemoryStats{PeakBytes: 512},
		IOStats:     IOStats{ReadBytes: 100, WriteBytes: 200},
	}
}

func TestGenerateReceiptNoWitnessNoEventStream(t *testing.T) {
	g := NewGenerator(0, nil)
	r := g.Generate("receipt-1", baseResult())

	if r.TraceRoots.WitnessRoot != vcrypto.ZeroHash {
		t.Fatalf("expected zero witness root when no recorder attached")
	}
	if r.TraceRoots.EventStreamRoot != vcrypto.ZeroHash {
		t.Fatalf("expected zero event-stream root when no snapshot attached")
	}
	if r.TraceRoots.WalletRoot != vcrypto.ZeroHash {
		t.Fatalf("wallet root must currently be the zero placeholder")
	}
	if r.PolicyInfo.ComplianceStatus != ComplianceOK {
		t.Fatalf("expected compliant execution, got violations=%v", r.PolicyInfo.Violations)
	}
}

func TestCombinedRootDomainSeparated(t *testing.T) {
	g := NewGenerator(0, nil)
	result := baseResult()
	result.WitnessRecorder = &fakeWitnessRecorder{root: [32]byte{1, 2, 3}, entries: 5, complete: true}
	result.EventStreamSnapshot = &fakeEventStream{root: [32]byte{4, 5, 6}, entries: 2}
	r := g.Generate("receipt-2", result)

	want := vcrypto.Concat(vcrypto.TagReceiptTraceRoots, r.TraceRoots.WitnessRoot[:], r.TraceRoots.EventStreamRoot[:], vcrypto.ZeroHash[:])
	if r.TraceRoots.CombinedRoot != want {
		t.Fatalf("combined_root does not match H(tag||witness||event_stream||wallet)")
	}
	if r.ExecutionStats.WitnessEntries != 5 || r.ExecutionStats.EventEntries != 2 {
		t.Fatalf("execution stats did not aggregate witness/event counts: %+v", r.ExecutionStats)
	}
}

func TestMemoryLimitViolation(t *testing.T) {
	g := NewGenerator(0, nil)
	result := baseResult()
	result.MemoryStats.PeakBytes = 99999
	r := g.Generate("receipt-3", result)
	if r.PolicyInfo.ComplianceStatus != ComplianceViolated {
		t.Fatalf("expected a memory-limit violation")
	}
	found := false
	for _, v := range r.PolicyInfo.Violations {
		if v == "memory_limit" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected memory_limit in violations, got %v", r.PolicyInfo.Violations)
	}
}

func TestWitnessCompletenessCheckedWhenRequired(t *testing.T) {
	g := NewGenerator(0, nil)
	result := baseResult()
	result.RequireWitnessComplete = true
	result.WitnessRecorder = &fakeWitnessRecorder{root: [32]byte{7}, entries: 1, complete: false}
	r := g.Generate("receipt-4", result)
	if r.PolicyInfo.ComplianceStatus != ComplianceViolated {
		t.Fatalf("expected incomplete witness to violate when required")
	}
}

func TestSignAndVerifyReceipt(t *testing.T) {
	kp, err := vcrypto.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair: %v", err)
	}
	g := NewGenerator(0, nil)
	r := g.Generate("receipt-5", baseResult())
	SignReceipt(kp.PrivateKey, r)
	if !VerifyReceipt(r) {
		t.Fatalf("expected signature to verify")
	}
	r.ExecutionStats.MemoryPeakBytes++
	if VerifyReceipt(r) {
		t.Fatalf("mutating stats after signing must invalidate the signature")
	}
}

func TestSigningHashExcludesSignature(t *testing.T) {
	g := NewGenerator(0, nil)
	r := g.Generate("receipt-6", baseResult())
	h1 := r.SigningHash()
	r.Signature = []byte{1, 2, 3}
	h2 := r.SigningHash()
	if h1 != h2 {
		t.Fatalf("signing hash must not depend on the Signature field")
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	g := NewGenerator(0, nil)
	res := baseResult()
	res.WitnessRecorder = &fakeWitnessRecorder{root: [32]byte{7}, entries: 3, complete: true}
	res.EventStreamSnapshot = &fakeEventStream{root: [32]byte{8}, entries: 5}
	want := g.Generate("receipt-rt", res)
	kp, err := vcrypto.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair: %v", err)
	}
	SignReceipt(kp.PrivateKey, want)

	enc, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := &Receipt{}
	if err := codec.Decode(enc, got); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.ReceiptID != want.ReceiptID {
		t.Fatalf("receipt_id mismatch: got %q want %q", got.ReceiptID, want.ReceiptID)
	}
	if got.RunHeader.Session != want.RunHeader.Session ||
		got.RunHeader.ResourceLimits != want.RunHeader.ResourceLimits {
		t.Fatalf("run_header mismatch: got %+v want %+v", got.RunHeader, want.RunHeader)
	}
	if got.TraceRoots != want.TraceRoots {
		t.Fatalf("trace_roots mismatch: got %+v want %+v", got.TraceRoots, want.TraceRoots)
	}
	if got.ExecutionStats != want.ExecutionStats {
		t.Fatalf("execution_stats mismatch: got %+v want %+v", got.ExecutionStats, want.ExecutionStats)
	}
	if len(got.PolicyInfo.ValidationResults) != len(want.PolicyInfo.ValidationResults) ||
		got.PolicyInfo.ComplianceStatus != want.PolicyInfo.ComplianceStatus {
		t.Fatalf("policy_info mismatch: got %+v want %+v", got.PolicyInfo, want.PolicyInfo)
	}
	if !VerifyReceipt(got) {
		t.Fatal("decoded receipt must still verify under its carried signature")
	}
	if got.SigningHash() != want.SigningHash() {
		t.Fatal("decoded receipt must hash identically")
	}
}
