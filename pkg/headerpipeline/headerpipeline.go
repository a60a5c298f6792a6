// Package headerpipeline drives the IBFT-style per-round state machine
// that produces and finalizes Headers: Proposing → Voting
// → Committing → (Completed | Failed). Consensus runs entirely in-process;
// this core never delegates the propose/pre-vote/pre-commit cycle to an
// external BFT daemon.
package headerpipeline

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/crypto/bls"
	"github.com/coreledger/validator-core/pkg/errs"
	"github.com/coreledger/validator-core/pkg/validatorset"
)

// Mode distinguishes the operating mode a Header was produced under
// (e.g. normal consensus vs. a catch-up/sync replay), carried verbatim
// in the Header.
type Mode string

const (
	ModeNormal Mode = "Normal"
	ModeSync   Mode = "Sync"
)

// Header is the canonical, hashable block header.
type Header struct {
	Version          uint32
	Height           uint64
	PrevHash         [32]byte
	PoHRoot          [32]byte
	ReceiptsRoot     [32]byte
	DARoot           [32]byte
	XCMPRoot         [32]byte
	ValidatorSetHash [32]byte
	Mode             Mode
	Round            uint32
	Timestamp        time.Time
}

// EncodeCanonical implements codec.Encodable.
func (h *Header) EncodeCanonical(e *codec.Encoder) {
	e.PutUint32(h.Version)
	e.PutUint64(h.Height)
	e.PutFixedBytes(h.PrevHash[:])
	e.PutFixedBytes(h.PoHRoot[:])
	e.PutFixedBytes(h.ReceiptsRoot[:])
	e.PutFixedBytes(h.DARoot[:])
	e.PutFixedBytes(h.XCMPRoot[:])
	e.PutFixedBytes(h.ValidatorSetHash[:])
	e.PutEnum(string(h.Mode))
	e.PutUint32(h.Round)
	e.PutInt64(h.Timestamp.Unix())
}

// DecodeCanonical implements codec.Decodable.
func (h *Header) DecodeCanonical(d *codec.Decoder) error {
	h.Version = d.Uint32()
	h.Height = d.Uint64()
	copy(h.PrevHash[:], d.FixedBytes(32))
	copy(h.PoHRoot[:], d.FixedBytes(32))
	copy(h.ReceiptsRoot[:], d.FixedBytes(32))
	copy(h.DARoot[:], d.FixedBytes(32))
	copy(h.XCMPRoot[:], d.FixedBytes(32))
	copy(h.ValidatorSetHash[:], d.FixedBytes(32))
	h.Mode = Mode(d.Enum())
	h.Round = d.Uint32()
	h.Timestamp = time.Unix(d.Int64(), 0).UTC()
	return nil
}

// SigningHash hashes the header under the stable header domain tag.
func (h *Header) SigningHash() [32]byte {
	enc := codec.Encoder{}
	h.EncodeCanonical(&enc)
	return vcrypto.Sum(vcrypto.TagHeader, enc.MustBytes())
}

// VerifyChain checks that next.Height = prev.Height+1 and
// next.PrevHash = prev.SigningHash(), the height-monotonicity and
// chain-linkage invariants every canonical chain maintains.
func VerifyChain(prev, next *Header) bool {
	if next.Height != prev.Height+1 {
		return false
	}
	return next.PrevHash == prev.SigningHash()
}

// BlockProposal is the BLS-signed artifact the round leader broadcasts.
type BlockProposal struct {
	Round         uint32
	BlockHash     [32]byte
	TxRoot        [32]byte
	PoHProof      []byte
	ProposerIndex uint32
	Signature     []byte // BLS signature over SigningHash()
}

func (p *BlockProposal) encodeSigning(e *codec.Encoder) {
	e.PutUint32(p.Round)
	e.PutFixedBytes(p.BlockHash[:])
	e.PutFixedBytes(p.TxRoot[:])
	e.PutBytes(p.PoHProof)
	e.PutUint32(p.ProposerIndex)
}

// EncodeCanonical implements codec.Encodable: the signing fields followed
// by the signature, empty when unsigned.
func (p *BlockProposal) EncodeCanonical(e *codec.Encoder) {
	p.encodeSigning(e)
	e.PutBytes(p.Signature)
}

// DecodeCanonical implements codec.Decodable.
func (p *BlockProposal) DecodeCanonical(d *codec.Decoder) error {
	p.Round = d.Uint32()
	copy(p.BlockHash[:], d.FixedBytes(32))
	copy(p.TxRoot[:], d.FixedBytes(32))
	p.PoHProof = d.Bytes()
	p.ProposerIndex = d.Uint32()
	p.Signature = d.Bytes()
	return nil
}

// SigningHash hashes the proposal under its stable domain tag, excluding
// the signature field.
func (p *BlockProposal) SigningHash() [32]byte {
	enc := codec.Encoder{}
	p.encodeSigning(&enc)
	return vcrypto.Sum(vcrypto.TagBlockProposal, enc.MustBytes())
}

// VoteKind distinguishes the three IBFT-style broadcast messages.
type VoteKind string

const (
	VotePrePrepare VoteKind = "Pre-prepare"
	VotePrepare    VoteKind = "Prepare"
	VoteCommit     VoteKind = "Commit"
)

// Vote is a single validator's signed message for a round.
type Vote struct {
	Kind            VoteKind
	Height          uint64
	Round           uint32
	BlockHash       [32]byte
	ValidatorIndex  uint32
	Signature       []byte // BLS signature over SigningHash()
}

func (v *Vote) encodeSigning(e *codec.Encoder) {
	e.PutEnum(string(v.Kind))
	e.PutUint64(v.Height)
	e.PutUint32(v.Round)
	e.PutFixedBytes(v.BlockHash[:])
	e.PutUint32(v.ValidatorIndex)
}

// EncodeCanonical implements codec.Encodable: the signing fields followed
// by the signature, empty when unsigned.
func (v *Vote) EncodeCanonical(e *codec.Encoder) {
	v.encodeSigning(e)
	e.PutBytes(v.Signature)
}

// DecodeCanonical implements codec.Decodable.
func (v *Vote) DecodeCanonical(d *codec.Decoder) error {
	v.Kind = VoteKind(d.Enum())
	v.Height = d.Uint64()
	v.Round = d.Uint32()
	copy(v.BlockHash[:], d.FixedBytes(32))
	v.ValidatorIndex = d.Uint32()
	v.Signature = d.Bytes()
	return nil
}

// SigningHash hashes the vote under the stable consensus-vote domain tag.
func (v *Vote) SigningHash() [32]byte {
	enc := codec.Encoder{}
	v.encodeSigning(&enc)
	return vcrypto.Sum(vcrypto.TagConsensusVote, enc.MustBytes())
}

// Status is the per-round state machine's current phase.
type Status string

const (
	StatusProposing Status = "Proposing"
	StatusVoting    Status = "Voting"
	StatusCommitting Status = "Committing"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Round tracks one in-flight consensus round for a given height.
type Round struct {
	Height         uint64
	RoundNumber    uint32
	LeaderIndex    uint32
	Status         Status
	StartedAt      time.Time
	VotingDeadline time.Time
	Proposal       *BlockProposal
	commits        map[uint32]*Vote // validator index -> commit vote
}

// Metrics accumulates block-production performance figures for
// advisory-only warnings; they never fail production.
type Metrics struct {
	mu              sync.Mutex
	produced        uint64
	finalityTimes   []time.Duration // ring buffer, most recent window
	windowSize      int
	lastBlockTime   time.Time
	avgBlockTime    time.Duration
}

// NewMetrics constructs a Metrics tracker retaining the most recent
// windowSize finality samples for p95 computation.
func NewMetrics(windowSize int) *Metrics {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Metrics{windowSize: windowSize}
}

// RecordFinality records that a block finalized in elapsed time, and
// returns advisory warnings (never errors) if p95 finality exceeds 1000ms
// or the average block-production interval exceeds 250ms.
func (m *Metrics) RecordFinality(elapsed time.Duration, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.produced++
	m.finalityTimes = append(m.finalityTimes, elapsed)
	if len(m.finalityTimes) > m.windowSize {
		m.finalityTimes = m.finalityTimes[len(m.finalityTimes)-m.windowSize:]
	}
	if !m.lastBlockTime.IsZero() {
		interval := now.Sub(m.lastBlockTime)
		if m.avgBlockTime == 0 {
			m.avgBlockTime = interval
		} else {
			m.avgBlockTime = (m.avgBlockTime*9 + interval) / 10
		}
	}
	m.lastBlockTime = now

	var warnings []string
	if p95 := m.p95Locked(); p95 > 1000*time.Millisecond {
		warnings = append(warnings, fmt.Sprintf("advisory: p95 finality %s exceeds 1000ms target", p95))
	}
	if m.avgBlockTime > 250*time.Millisecond {
		warnings = append(warnings, fmt.Sprintf("advisory: average block time %s exceeds 250ms target", m.avgBlockTime))
	}
	return warnings
}

func (m *Metrics) p95Locked() time.Duration {
	n := len(m.finalityTimes)
	if n == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), m.finalityTimes...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := (n * 95) / 100
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Produced returns the total number of finalized blocks recorded.
func (m *Metrics) Produced() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.produced
}

// BlocksPerMinute estimates throughput from the current average interval.
func (m *Metrics) BlocksPerMinute() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.avgBlockTime == 0 {
		return 0
	}
	return float64(time.Minute) / float64(m.avgBlockTime)
}

// Pipeline is the header-pipeline service: it owns in-flight rounds for
// up to MaxConcurrentRounds heights, and the validator set used to
// evaluate leadership and commit thresholds.
type Pipeline struct {
	mu                sync.RWMutex
	Validators        *validatorset.Set
	RoundTimeout       time.Duration
	MaxConcurrentRounds int
	rounds            map[uint64]*Round // height -> in-flight round
	Metrics           *Metrics
	BLSKey            *bls.PrivateKey
}

// NewPipeline constructs a Pipeline bound to validators, with the given
// per-round timeout and pipelining depth.
func NewPipeline(validators *validatorset.Set, roundTimeout time.Duration, maxConcurrentRounds int, blsKey *bls.PrivateKey) *Pipeline {
	return &Pipeline{
		Validators:          validators,
		RoundTimeout:        roundTimeout,
		MaxConcurrentRounds: maxConcurrentRounds,
		rounds:              make(map[uint64]*Round),
		Metrics:             NewMetrics(100),
		BLSKey:              blsKey,
	}
}

// StartRound begins a new round at height, evaluating leader selection and
// transitioning to Proposing. Fails if MaxConcurrentRounds in-flight
// heights are already tracked.
func (p *Pipeline) StartRound(prevHash [32]byte, height uint64, roundNumber uint32, vrfPrivKeys map[uint32]ed25519.PrivateKey) (*Round, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.rounds) >= p.MaxConcurrentRounds {
		return nil, errs.New(errs.KindCapacityExceeded, "headerpipeline.StartRound", "max_concurrent_rounds reached")
	}
	if _, exists := p.rounds[height]; exists {
		return nil, errs.New(errs.KindInvalidState, "headerpipeline.StartRound", "a round is already in flight at this height")
	}

	leader, err := p.Validators.SelectLeader(prevHash, height, roundNumber, vrfPrivKeys)
	if err != nil {
		return nil, errs.Wrap(errs.KindConsensus, "headerpipeline.StartRound", "leader selection advanced the round with no winner", err)
	}

	now := time.Now()
	r := &Round{
		Height:         height,
		RoundNumber:    roundNumber,
		LeaderIndex:    leader.LeaderIndex,
		Status:         StatusProposing,
		StartedAt:      now,
		VotingDeadline: now.Add(p.RoundTimeout),
		commits:        make(map[uint32]*Vote),
	}
	p.rounds[height] = r
	return r, nil
}

// SubmitProposal records the leader's BlockProposal and moves the round to
// Voting. A proposal from a non-leader, or a second distinct proposal from
// the same leader (equivocation), is rejected.
func (p *Pipeline) SubmitProposal(height uint64, proposal *BlockProposal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.rounds[height]
	if !ok {
		return errs.New(errs.KindInvalidState, "headerpipeline.SubmitProposal", "no in-flight round at this height")
	}
	if proposal.ProposerIndex != r.LeaderIndex {
		return errs.New(errs.KindConsensus, "headerpipeline.SubmitProposal", "proposal submitted by non-leader")
	}
	if r.Proposal != nil {
		first := r.Proposal.SigningHash()
		second := proposal.SigningHash()
		if first != second {
			return errs.New(errs.KindConsensus, "headerpipeline.SubmitProposal", "conflicting proposal: equivocation")
		}
		return nil
	}
	if r.Status != StatusProposing {
		return errs.New(errs.KindInvalidState, "headerpipeline.SubmitProposal", "round is not accepting proposals")
	}
	r.Proposal = proposal
	r.Status = StatusVoting
	return nil
}

// SubmitCommit records a validator's Commit vote. Commits are idempotent:
// resubmitting the same validator's vote is a no-op. Once the commit set's
// combined stake exceeds two-thirds of total, the round transitions to
// Committing then Completed and RecordFinality is invoked.
func (p *Pipeline) SubmitCommit(height uint64, vote *Vote) (*Round, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.rounds[height]
	if !ok {
		return nil, errs.New(errs.KindInvalidState, "headerpipeline.SubmitCommit", "no in-flight round at this height")
	}
	if r.Status != StatusVoting && r.Status != StatusCommitting {
		return nil, errs.New(errs.KindInvalidState, "headerpipeline.SubmitCommit", "round is not accepting commits")
	}
	if vote.Kind != VoteCommit {
		return nil, errs.New(errs.KindInvalidOperation, "headerpipeline.SubmitCommit", "vote is not a Commit message")
	}

	r.commits[vote.ValidatorIndex] = vote
	r.Status = StatusCommitting

	indices := make([]uint32, 0, len(r.commits))
	for idx := range r.commits {
		indices = append(indices, idx)
	}
	if p.Validators.HasTwoThirdsStake(indices) {
		r.Status = StatusCompleted
		warnings := p.Metrics.RecordFinality(time.Since(r.StartedAt), time.Now())
		delete(p.rounds, height)
		_ = warnings // advisory only; caller may log via its own logger
	}
	return r, nil
}

// CheckTimeout fails the round at height if its voting deadline has
// passed without reaching Completed. Height does not
// advance on failure; only the round number does (the caller calls
// StartRound again with roundNumber+1).
func (p *Pipeline) CheckTimeout(height uint64, now time.Time) (*Round, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.rounds[height]
	if !ok || r.Status == StatusCompleted || r.Status == StatusFailed {
		return r, false
	}
	if now.Before(r.VotingDeadline) {
		return r, false
	}
	r.Status = StatusFailed
	delete(p.rounds, height)
	return r, true
}

// RoundAt returns the in-flight round at height, if any.
func (p *Pipeline) RoundAt(height uint64) (*Round, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rounds[height]
	return r, ok
}
