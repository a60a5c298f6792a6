// Package validatorset owns the stake-weighted validator set and
// VRF-based leader election at (height, round). The set
// is exclusively owned by the header pipeline; every other component
// treats it as read-only.
package validatorset

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
)

// Status is a validator's current membership status.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusJailed   Status = "Jailed"
)

// Metadata carries a validator's non-consensus-critical bookkeeping
// fields.
type Metadata struct {
	RegisteredAt time.Time
	LastActive   time.Time
	Status       Status
}

// Info is a single validator's registered identity and stake.
type Info struct {
	Index     uint32
	BLSPubkey []byte // compressed BLS12-381 public key
	VRFPubkey ed25519.PublicKey
	Stake     uint64
	Address   string
	Metadata  Metadata
}

// EncodeCanonical implements codec.Encodable.
func (i *Info) EncodeCanonical(e *codec.Encoder) {
	e.PutUint32(i.Index)
	e.PutBytes(i.BLSPubkey)
	e.PutBytes(i.VRFPubkey)
	e.PutUint64(i.Stake)
	e.PutString(i.Address)
	e.PutEnum(string(i.Metadata.Status))
	e.PutInt64(i.Metadata.RegisteredAt.Unix())
	e.PutInt64(i.Metadata.LastActive.Unix())
}

// SigningHash hashes the validator's role/identity record under the stable
// validator-role domain tag (0x50).
func (i *Info) SigningHash() [32]byte {
	enc := codec.Encoder{}
	i.EncodeCanonical(&enc)
	return vcrypto.Sum(vcrypto.TagValidatorRole, enc.MustBytes())
}

// Set is the dense-indexed, stake-weighted validator membership for a
// chain. Indices are dense from 0; Active validators must have
// Stake > 0. Guarded by RWMu per the shared-resource lock-ordering
// discipline (validator_set → active_rounds → metrics).
type Set struct {
	RWMu       sync.RWMutex
	byIndex    map[uint32]*Info
	totalStake uint64
	vrfEnabled bool
}

// NewSet constructs an empty set. vrfEnabled selects VRF-based election;
// when false, leader selection falls back to round-robin over active
// validators, the devnet configuration.
func NewSet(vrfEnabled bool) *Set {
	return &Set{byIndex: make(map[uint32]*Info), vrfEnabled: vrfEnabled}
}

// Register adds or replaces a validator at info.Index. Indices must stay
// dense from 0: Register rejects an index that would leave a gap.
func (s *Set) Register(info *Info) error {
	s.RWMu.Lock()
	defer s.RWMu.Unlock()

	if info.Metadata.Status == StatusActive && info.Stake == 0 {
		return errs.New(errs.KindInvalidState, "validatorset.Register", "active validator must have stake > 0")
	}
	if _, exists := s.byIndex[info.Index]; !exists && info.Index != uint32(len(s.byIndex)) {
		return errs.New(errs.KindInvalidState, "validatorset.Register", fmt.Sprintf("index %d is not dense: expected %d", info.Index, len(s.byIndex)))
	}

	if old, exists := s.byIndex[info.Index]; exists {
		s.totalStake -= old.Stake
	}
	s.byIndex[info.Index] = info
	s.totalStake += info.Stake
	return nil
}

// Get returns a copy-by-reference lookup of the validator at index.
func (s *Set) Get(index uint32) (*Info, bool) {
	s.RWMu.RLock()
	defer s.RWMu.RUnlock()
	info, ok := s.byIndex[index]
	return info, ok
}

// TotalStake returns the sum of all registered validators' stake.
func (s *Set) TotalStake() uint64 {
	s.RWMu.RLock()
	defer s.RWMu.RUnlock()
	return s.totalStake
}

// Active returns every validator currently in StatusActive, ordered by
// index for determinism.
func (s *Set) Active() []*Info {
	s.RWMu.RLock()
	defer s.RWMu.RUnlock()
	out := make([]*Info, 0, len(s.byIndex))
	for idx := uint32(0); idx < uint32(len(s.byIndex)); idx++ {
		info := s.byIndex[idx]
		if info != nil && info.Metadata.Status == StatusActive {
			out = append(out, info)
		}
	}
	return out
}

// Hash computes the validator_set_hash a Header commits to: the
// domain-separated hash of every active validator's signing hash,
// concatenated in index order.
func (s *Set) Hash() [32]byte {
	s.RWMu.RLock()
	defer s.RWMu.RUnlock()
	active := make([]*Info, 0, len(s.byIndex))
	for idx := uint32(0); idx < uint32(len(s.byIndex)); idx++ {
		if info := s.byIndex[idx]; info != nil && info.Metadata.Status == StatusActive {
			active = append(active, info)
		}
	}
	parts := make([][]byte, 0, len(active))
	for _, info := range active {
		h := info.SigningHash()
		parts = append(parts, h[:])
	}
	return vcrypto.Concat(vcrypto.TagValidatorRole, parts...)
}

// LeaderResult is the outcome of leader selection at a given (height, round).
type LeaderResult struct {
	LeaderIndex uint32
	VRFProof    *vcrypto.VRFProof // nil when VRF is disabled (round-robin fallback)
}

// SelectLeader evaluates the VRF (or round-robin fallback) leader
// election rule for (height, round) against every active validator's VRF
// key, and returns the single winner. At most one winner is expected per
// round; VRFThreshold's uniform distribution makes a tie vanishingly
// unlikely, but ties are broken by lowest validator index.
//
// vrfPrivKeys maps validator index to its VRF (Ed25519) private key; this
// is only ever populated for validators whose keys are locally available
// (i.e. this node's own key, or in test harnesses simulating the whole
// set). In production each validator computes only its own VRF output and
// broadcasts the proof; SelectLeader's "evaluate every key" shape is used
// by single-node simulation and test harnesses.
func (s *Set) SelectLeader(prevHash [32]byte, height uint64, round uint32, vrfPrivKeys map[uint32]ed25519.PrivateKey) (*LeaderResult, error) {
	active := s.Active()
	if len(active) == 0 {
		return nil, errs.New(errs.KindConsensus, "validatorset.SelectLeader", "no active validators")
	}

	if !s.vrfEnabled {
		idx := active[int(height+uint64(round))%len(active)].Index
		return &LeaderResult{LeaderIndex: idx}, nil
	}

	total := s.TotalStake()
	seed := vcrypto.VRFSeed(prevHash, height, round)

	var winner *LeaderResult
	var winnerIndex uint32 = ^uint32(0)
	for _, info := range active {
		priv, ok := vrfPrivKeys[info.Index]
		if !ok {
			continue
		}
		proof, err := vcrypto.VRFProve(priv, seed)
		if err != nil {
			return nil, errs.Wrap(errs.KindCrypto, "validatorset.SelectLeader", "VRF proof generation failed", err)
		}
		if !vcrypto.VRFThreshold(proof.Output, info.Stake, total) {
			continue
		}
		if winner == nil || info.Index < winnerIndex {
			winner = &LeaderResult{LeaderIndex: info.Index, VRFProof: proof}
			winnerIndex = info.Index
		}
	}
	if winner == nil {
		return nil, errs.New(errs.KindConsensus, "validatorset.SelectLeader", "no validator crossed the VRF threshold for this round; advance round")
	}
	return winner, nil
}

// VerifyLeader checks that claimed won leadership at (height, round)
// honestly: its VRF proof verifies under its registered VRF pubkey and its
// output crosses the stake-weighted threshold.
func (s *Set) VerifyLeader(prevHash [32]byte, height uint64, round uint32, claimedIndex uint32, proof *vcrypto.VRFProof) bool {
	info, ok := s.Get(claimedIndex)
	if !ok || info.Metadata.Status != StatusActive {
		return false
	}
	seed := vcrypto.VRFSeed(prevHash, height, round)
	if !vcrypto.VRFVerify(info.VRFPubkey, seed, proof) {
		return false
	}
	return vcrypto.VRFThreshold(proof.Output, info.Stake, s.TotalStake())
}

// HasTwoThirdsStake reports whether voterIndices' combined stake strictly
// exceeds two-thirds of total stake, the commit threshold that
// Completes a consensus round.
func (s *Set) HasTwoThirdsStake(voterIndices []uint32) bool {
	s.RWMu.RLock()
	defer s.RWMu.RUnlock()
	var sum uint64
	seen := make(map[uint32]bool, len(voterIndices))
	for _, idx := range voterIndices {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		if info := s.byIndex[idx]; info != nil {
			sum += info.Stake
		}
	}
	// sum/total > 2/3  <=>  3*sum > 2*total
	return 3*sum > 2*s.totalStake
}

// SignedArtifact is either a BlockProposal or a pre-commit vote, used to
// build an equivocation SlashingProof.
type SignedArtifact struct {
	Height    uint64
	Round     uint32
	Validator uint32
	Payload   []byte // canonical encoding of the conflicting artifact
	Signature []byte
}

// SlashingProof records that a validator produced two conflicting signed
// artifacts (two proposals, or two pre-commits) at the same (height,
// round).
type SlashingProof struct {
	Height    uint64
	Round     uint32
	Validator uint32
	First     SignedArtifact
	Second    SignedArtifact
	DetectedAt time.Time
}

// DetectEquivocation returns a SlashingProof if a and b are two distinct
// signed artifacts from the same validator at the same (height, round).
func DetectEquivocation(a, b SignedArtifact) (*SlashingProof, bool) {
	if a.Validator != b.Validator || a.Height != b.Height || a.Round != b.Round {
		return nil, false
	}
	if string(a.Payload) == string(b.Payload) {
		return nil, false
	}
	return &SlashingProof{
		Height:     a.Height,
		Round:      a.Round,
		Validator:  a.Validator,
		First:      a,
		Second:     b,
		DetectedAt: time.Now(),
	}, true
}
