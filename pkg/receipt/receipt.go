// Package receipt builds signed, Merkle-linked execution receipts from an
// ExecutionResult. Generation is four steps: run_header,
// trace_roots, policy_info, execution_stats.
package receipt

import (
	"crypto/ed25519"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
)

// ResourceLimits bounds an execution's allowed memory and CPU time.
type ResourceLimits struct {
	MaxMemoryBytes uint64
	MaxCPUTimeMS   uint64
}

// RunHeader describes the executed workload, built from the
// ExecutionResult's context.
type RunHeader struct {
	Session        string
	ImageHash      [32]byte
	Command        []string
	Env            map[string]string
	WorkingDir     string
	ResourceLimits ResourceLimits
	CageConfig     string
}

// EncodeCanonical implements codec.Encodable.
func (h *RunHeader) EncodeCanonical(e *codec.Encoder) {
	e.PutString(h.Session)
	e.PutFixedBytes(h.ImageHash[:])
	e.PutStringSlice(h.Command)
	e.PutStringMap(h.Env)
	e.PutString(h.WorkingDir)
	e.PutUint64(h.ResourceLimits.MaxMemoryBytes)
	e.PutUint64(h.ResourceLimits.MaxCPUTimeMS)
	e.PutString(h.CageConfig)
}

// DecodeCanonical implements codec.Decodable.
func (h *RunHeader) DecodeCanonical(d *codec.Decoder) error {
	h.Session = d.String()
	copy(h.ImageHash[:], d.FixedBytes(32))
	h.Command = d.StringSlice()
	h.Env = d.StringMap()
	h.WorkingDir = d.String()
	h.ResourceLimits.MaxMemoryBytes = d.Uint64()
	h.ResourceLimits.MaxCPUTimeMS = d.Uint64()
	h.CageConfig = d.String()
	return nil
}

// TraceRoots binds witness, event-stream, and wallet Merkle roots into a
// single combined_root.
type TraceRoots struct {
	WitnessRoot     [32]byte
	EventStreamRoot [32]byte
	WalletRoot      [32]byte // zero until a wallet subsystem exists to populate it
	CombinedRoot    [32]byte
}

// computeTraceRoots derives CombinedRoot = H(tag || witness || event_stream
// || wallet) under the stable receipt trace-roots domain tag.
func computeTraceRoots(witnessRoot, eventStreamRoot [32]byte) TraceRoots {
	wallet := vcrypto.ZeroHash
	combined := vcrypto.Concat(vcrypto.TagReceiptTraceRoots, witnessRoot[:], eventStreamRoot[:], wallet[:])
	return TraceRoots{
		WitnessRoot:     witnessRoot,
		EventStreamRoot: eventStreamRoot,
		WalletRoot:      wallet,
		CombinedRoot:    combined,
	}
}

// EncodeCanonical implements codec.Encodable.
func (t *TraceRoots) EncodeCanonical(e *codec.Encoder) {
	e.PutFixedBytes(t.WitnessRoot[:])
	e.PutFixedBytes(t.EventStreamRoot[:])
	e.PutFixedBytes(t.WalletRoot[:])
	e.PutFixedBytes(t.CombinedRoot[:])
}

// DecodeCanonical implements codec.Decodable.
func (t *TraceRoots) DecodeCanonical(d *codec.Decoder) error {
	copy(t.WitnessRoot[:], d.FixedBytes(32))
	copy(t.EventStreamRoot[:], d.FixedBytes(32))
	copy(t.WalletRoot[:], d.FixedBytes(32))
	copy(t.CombinedRoot[:], d.FixedBytes(32))
	return nil
}

// ComplianceStatus summarizes the built-in resource-policy pass.
type ComplianceStatus string

const (
	ComplianceOK        ComplianceStatus = "OK"
	ComplianceViolated  ComplianceStatus = "Violated"
)

// PolicyValidationResult is the outcome of a single built-in resource
// check (memory, cpu_time, witness completeness).
type PolicyValidationResult struct {
	Check   string
	Passed  bool
	Message string
}

// PolicyInfo aggregates every built-in resource-policy check.
type PolicyInfo struct {
	ValidationResults []PolicyValidationResult
	ComplianceStatus  ComplianceStatus
	Violations        []string
}

// EncodeCanonical implements codec.Encodable.
func (p *PolicyInfo) EncodeCanonical(e *codec.Encoder) {
	e.PutUint32(uint32(len(p.ValidationResults)))
	for _, r := range p.ValidationResults {
		e.PutString(r.Check)
		e.PutBool(r.Passed)
		e.PutString(r.Message)
	}
	e.PutEnum(string(p.ComplianceStatus))
	e.PutStringSlice(p.Violations)
}

// DecodeCanonical implements codec.Decodable.
func (p *PolicyInfo) DecodeCanonical(d *codec.Decoder) error {
	n := d.Uint32()
	if d.Err() != nil {
		return nil
	}
	p.ValidationResults = make([]PolicyValidationResult, 0, n)
	for i := uint32(0); i < n; i++ {
		p.ValidationResults = append(p.ValidationResults, PolicyValidationResult{
			Check: d.String(), Passed: d.Bool(), Message: d.String(),
		})
	}
	p.ComplianceStatus = ComplianceStatus(d.Enum())
	p.Violations = d.StringSlice()
	return nil
}

// ExecutionStats aggregates witness/event counters plus the raw resource
// usage reported by the ExecutionResult.
type ExecutionStats struct {
	MemoryPeakBytes  uint64
	CPUTimeMS        uint64
	IOReadBytes      uint64
	IOWriteBytes     uint64
	WitnessEntries   uint64
	EventEntries     uint64
	ExitCode         int32
	DurationMS       uint64
}

// EncodeCanonical implements codec.Encodable.
func (s *ExecutionStats) EncodeCanonical(e *codec.Encoder) {
	e.PutUint64(s.MemoryPeakBytes)
	e.PutUint64(s.CPUTimeMS)
	e.PutUint64(s.IOReadBytes)
	e.PutUint64(s.IOWriteBytes)
	e.PutUint64(s.WitnessEntries)
	e.PutUint64(s.EventEntries)
	e.PutInt64(int64(s.ExitCode))
	e.PutUint64(s.DurationMS)
}

// DecodeCanonical implements codec.Decodable.
func (s *ExecutionStats) DecodeCanonical(d *codec.Decoder) error {
	s.MemoryPeakBytes = d.Uint64()
	s.CPUTimeMS = d.Uint64()
	s.IOReadBytes = d.Uint64()
	s.IOWriteBytes = d.Uint64()
	s.WitnessEntries = d.Uint64()
	s.EventEntries = d.Uint64()
	s.ExitCode = int32(d.Int64())
	s.DurationMS = d.Uint64()
	return nil
}

// MemoryStats and IOStats mirror the resource usage an execution
// reports.
type MemoryStats struct {
	PeakBytes uint64
}

type IOStats struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// WitnessRecorder exposes the Merkle root of whatever witness trace was
// captured during execution. Absent (nil) means witness_root is zero.
type WitnessRecorder interface {
	MerkleRoot() [32]byte
	EntryCount() uint64
	Complete() bool
}

// EventStreamSnapshot exposes the canonical event stream's current root.
// Absent (nil) means event_stream_root is zero.
type EventStreamSnapshot interface {
	Root() [32]byte
	EntryCount() uint64
}

// ExecutionContext is the run's invocation context, the source of the
// receipt's run_header.
type ExecutionContext struct {
	Session        string
	ImageHash      [32]byte
	Command        []string
	Env            map[string]string
	WorkingDir     string
	ResourceLimits ResourceLimits
	CageConfig     string
	StartTime      time.Time
}

// ExecutionResult is the input to receipt generation.
type ExecutionResult struct {
	Context             ExecutionContext
	EndTime             time.Time
	ExitCode            int32
	MemoryStats         MemoryStats
	IOStats             IOStats
	WitnessRecorder     WitnessRecorder
	EventStreamSnapshot EventStreamSnapshot
	RequireWitnessComplete bool
}

// Receipt is the signed, hashable record of one execution.
type Receipt struct {
	ReceiptID       string
	RunHeader       RunHeader
	TraceRoots      TraceRoots
	PolicyInfo      PolicyInfo
	ExecutionStats  ExecutionStats
	Signature       []byte
	SignerPubkey    ed25519.PublicKey
}

func (r *Receipt) encodeSigning(e *codec.Encoder) {
	e.PutString(r.ReceiptID)
	r.RunHeader.EncodeCanonical(e)
	r.TraceRoots.EncodeCanonical(e)
	r.PolicyInfo.EncodeCanonical(e)
	r.ExecutionStats.EncodeCanonical(e)
}

// EncodeCanonical implements codec.Encodable: the signing fields followed
// by the signature and signer pubkey, empty when unsigned.
func (r *Receipt) EncodeCanonical(e *codec.Encoder) {
	r.encodeSigning(e)
	e.PutBytes(r.Signature)
	e.PutBytes(r.SignerPubkey)
}

// DecodeCanonical implements codec.Decodable.
func (r *Receipt) DecodeCanonical(d *codec.Decoder) error {
	r.ReceiptID = d.String()
	if err := r.RunHeader.DecodeCanonical(d); err != nil {
		return err
	}
	if err := r.TraceRoots.DecodeCanonical(d); err != nil {
		return err
	}
	if err := r.PolicyInfo.DecodeCanonical(d); err != nil {
		return err
	}
	if err := r.ExecutionStats.DecodeCanonical(d); err != nil {
		return err
	}
	r.Signature = d.Bytes()
	r.SignerPubkey = d.Bytes()
	return nil
}

// SigningHash hashes the receipt under the stable receipt domain tag,
// excluding Signature/SignerPubkey.
func (r *Receipt) SigningHash() [32]byte {
	enc := codec.Encoder{}
	r.encodeSigning(&enc)
	return vcrypto.Sum(vcrypto.TagReceipt, enc.MustBytes())
}

// Generator builds Receipts from ExecutionResults and tracks average
// generation time; exceeding AdvisoryThreshold only logs, never fails
// generation.
type Generator struct {
	mu                sync.Mutex
	AdvisoryThreshold time.Duration
	Logger            *log.Logger
	totalGenerations  uint64
	totalDuration     time.Duration
}

// NewGenerator constructs a Generator logging to logger (or, if nil, a
// logger writing to the standard log output), warning when the average
// generation time exceeds advisoryThreshold.
func NewGenerator(advisoryThreshold time.Duration, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.New(log.Writer(), "receipt: ", log.LstdFlags)
	}
	return &Generator{AdvisoryThreshold: advisoryThreshold, Logger: logger}
}

// Generate produces a Receipt from result in the four documented steps.
func (g *Generator) Generate(receiptID string, result *ExecutionResult) *Receipt {
	start := time.Now()

	// Step 1: run_header from context.
	runHeader := RunHeader{
		Session:        result.Context.Session,
		ImageHash:      result.Context.ImageHash,
		Command:        result.Context.Command,
		Env:            result.Context.Env,
		WorkingDir:     result.Context.WorkingDir,
		ResourceLimits: result.Context.ResourceLimits,
		CageConfig:     result.Context.CageConfig,
	}

	// Step 2: trace_roots.
	witnessRoot := vcrypto.ZeroHash
	var witnessEntries uint64
	witnessComplete := true
	if result.WitnessRecorder != nil {
		witnessRoot = result.WitnessRecorder.MerkleRoot()
		witnessEntries = result.WitnessRecorder.EntryCount()
		witnessComplete = result.WitnessRecorder.Complete()
	}
	eventRoot := vcrypto.ZeroHash
	var eventEntries uint64
	if result.EventStreamSnapshot != nil {
		eventRoot = result.EventStreamSnapshot.Root()
		eventEntries = result.EventStreamSnapshot.EntryCount()
	}
	traceRoots := computeTraceRoots(witnessRoot, eventRoot)

	// Step 3: policy_info from built-in resource policies.
	policyInfo := evaluateBuiltinPolicies(result, witnessComplete)

	// Step 4: execution_stats.
	stats := ExecutionStats{
		MemoryPeakBytes: result.MemoryStats.PeakBytes,
		CPUTimeMS:       uint64(result.EndTime.Sub(result.Context.StartTime).Milliseconds()),
		IOReadBytes:     result.IOStats.ReadBytes,
		IOWriteBytes:    result.IOStats.WriteBytes,
		WitnessEntries:  witnessEntries,
		EventEntries:    eventEntries,
		ExitCode:        result.ExitCode,
		DurationMS:      uint64(result.EndTime.Sub(result.Context.StartTime).Milliseconds()),
	}

	receipt := &Receipt{
		ReceiptID:      receiptID,
		RunHeader:      runHeader,
		TraceRoots:     traceRoots,
		PolicyInfo:     policyInfo,
		ExecutionStats: stats,
	}

	g.recordGeneration(time.Since(start))
	return receipt
}

func evaluateBuiltinPolicies(result *ExecutionResult, witnessComplete bool) PolicyInfo {
	info := PolicyInfo{ComplianceStatus: ComplianceOK}

	memOK := result.Context.ResourceLimits.MaxMemoryBytes == 0 || result.MemoryStats.PeakBytes <= result.Context.ResourceLimits.MaxMemoryBytes
	info.ValidationResults = append(info.ValidationResults, PolicyValidationResult{
		Check: "memory_limit", Passed: memOK,
		Message: fmt.Sprintf("peak=%d limit=%d", result.MemoryStats.PeakBytes, result.Context.ResourceLimits.MaxMemoryBytes),
	})
	if !memOK {
		info.Violations = append(info.Violations, "memory_limit")
	}

	cpuMS := uint64(result.EndTime.Sub(result.Context.StartTime).Milliseconds())
	cpuOK := result.Context.ResourceLimits.MaxCPUTimeMS == 0 || cpuMS <= result.Context.ResourceLimits.MaxCPUTimeMS
	info.ValidationResults = append(info.ValidationResults, PolicyValidationResult{
		Check: "cpu_time_limit", Passed: cpuOK,
		Message: fmt.Sprintf("elapsed=%dms limit=%dms", cpuMS, result.Context.ResourceLimits.MaxCPUTimeMS),
	})
	if !cpuOK {
		info.Violations = append(info.Violations, "cpu_time_limit")
	}

	if result.RequireWitnessComplete {
		info.ValidationResults = append(info.ValidationResults, PolicyValidationResult{
			Check: "witness_completeness", Passed: witnessComplete,
			Message: fmt.Sprintf("complete=%v", witnessComplete),
		})
		if !witnessComplete {
			info.Violations = append(info.Violations, "witness_completeness")
		}
	}

	if len(info.Violations) > 0 {
		info.ComplianceStatus = ComplianceViolated
	}
	return info
}

func (g *Generator) recordGeneration(elapsed time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.totalGenerations++
	g.totalDuration += elapsed
	avg := g.totalDuration / time.Duration(g.totalGenerations)
	if g.AdvisoryThreshold > 0 && avg > g.AdvisoryThreshold {
		g.Logger.Printf("advisory: average receipt generation time %s exceeds threshold %s", avg, g.AdvisoryThreshold)
	}
}

// SignReceipt signs r's signing hash with priv, setting Signature and
// SignerPubkey. Signing is optional; unsigned receipts are valid.
func SignReceipt(priv ed25519.PrivateKey, r *Receipt) {
	h := r.SigningHash()
	r.Signature = vcrypto.SignHash(priv, h)
	r.SignerPubkey = priv.Public().(ed25519.PublicKey)
}

// VerifyReceipt checks r.Signature was produced over r's current signing
// hash under r.SignerPubkey.
func VerifyReceipt(r *Receipt) bool {
	if len(r.Signature) == 0 || len(r.SignerPubkey) == 0 {
		return false
	}
	return vcrypto.VerifyHash(r.SignerPubkey, r.SigningHash(), r.Signature)
}
