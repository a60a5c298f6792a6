// Weighted-threshold proposal voting across the node registry.
package oracle

import (
	"sync"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
)

// VoteDecision is a single vote's choice.
type VoteDecision string

const (
	DecisionApprove VoteDecision = "Approve"
	DecisionReject  VoteDecision = "Reject"
	DecisionAbstain VoteDecision = "Abstain"
)

// Conclusion is the final outcome of a concluded round.
type Conclusion string

const (
	ConclusionApprove  Conclusion = "Approve"
	ConclusionReject   Conclusion = "Reject"
	ConclusionExpired  Conclusion = "Expired"
)

// RoundStatus tracks whether a round is still accepting votes.
type RoundStatus string

const (
	RoundActive    RoundStatus = "Active"
	RoundConcluded RoundStatus = "Concluded"
)

// Proposal is one item put to a weighted cross-node vote.
type Proposal struct {
	ProposalID       string
	Proposer         string
	Type             string
	Content          []byte
	VotingDeadline   time.Time
	MinimumVotes     int
	RequiredThreshold float64 // in [0,1]
}

// Vote is a single node's weighted choice on a proposal.
type Vote struct {
	ProposalID string
	Voter      string
	Decision   VoteDecision
	Weight     float64
	Signature  []byte
}

// EncodeCanonical implements codec.Encodable.
func (v *Vote) EncodeCanonical(e *codec.Encoder) {
	e.PutString(v.ProposalID)
	e.PutString(v.Voter)
	e.PutEnum(string(v.Decision))
}

// SigningHash hashes the vote's choice under a stable domain label.
func (v *Vote) SigningHash() [32]byte {
	enc := codec.Encoder{}
	v.EncodeCanonical(&enc)
	return vcrypto.SumLabel("ORACLE_CONSENSUS_VOTE", enc.MustBytes())
}

// Round tracks one in-flight or concluded weighted vote over a Proposal.
type Round struct {
	Proposal   Proposal
	Status     RoundStatus
	Conclusion Conclusion // valid only once Status == Concluded
	Votes      map[string]Vote // voter -> most recent vote (idempotent replace)
	ConcludedAt time.Time
}

// Bridge is the oracle/consensus-bridge service: it owns every in-flight
// and completed round plus the node Registry votes are weighted against.
type Bridge struct {
	mu               sync.Mutex
	registry         *Registry
	minConsensusNodes int
	active           map[string]*Round
	completed        []*Round
}

// NewBridge constructs a Bridge bound to registry, requiring at least
// minConsensusNodes distinct voters before a proposal is accepted.
func NewBridge(registry *Registry, minConsensusNodes int) *Bridge {
	return &Bridge{
		registry:          registry,
		minConsensusNodes: minConsensusNodes,
		active:            make(map[string]*Round),
	}
}

// SubmitProposal validates and registers a new Proposal:
// id not already active, deadline in the future, minimum_votes >= min_consensus_nodes,
// threshold in [0,1].
func (b *Bridge) SubmitProposal(p Proposal, now time.Time) error {
	if p.RequiredThreshold < 0 || p.RequiredThreshold > 1 {
		return errs.New(errs.KindInvalidOperation, "oracle.SubmitProposal", "required_threshold must be in [0,1]")
	}
	if !p.VotingDeadline.After(now) {
		return errs.New(errs.KindInvalidOperation, "oracle.SubmitProposal", "voting_deadline must be in the future")
	}
	if p.MinimumVotes < b.minConsensusNodes {
		return errs.New(errs.KindInvalidOperation, "oracle.SubmitProposal", "minimum_votes below min_consensus_nodes")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.active[p.ProposalID]; exists {
		return errs.New(errs.KindAlreadyExists, "oracle.SubmitProposal", "proposal_id already active")
	}
	b.active[p.ProposalID] = &Round{Proposal: p, Status: RoundActive, Votes: make(map[string]Vote)}
	return nil
}

// SubmitVote validates and records v: non-empty signature,
// weight >= 0, proposal Active, now <= deadline. A second vote from the
// same voter idempotently replaces the first, so a changed vote
// replaces rather than accumulates.
func (b *Bridge) SubmitVote(v Vote, now time.Time) (*Round, error) {
	if len(v.Signature) == 0 {
		return nil, errs.New(errs.KindInvalidOperation, "oracle.SubmitVote", "empty signature")
	}
	if v.Weight < 0 {
		return nil, errs.New(errs.KindInvalidOperation, "oracle.SubmitVote", "negative weight")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.active[v.ProposalID]
	if !ok || r.Status != RoundActive {
		return nil, errs.New(errs.KindInvalidState, "oracle.SubmitVote", "proposal is not Active")
	}
	if now.After(r.Proposal.VotingDeadline) {
		b.concludeLocked(r, now)
		return r, errs.New(errs.KindTimeout, "oracle.SubmitVote", "voting deadline has passed")
	}

	r.Votes[v.Voter] = v
	b.maybeEarlyConcludeLocked(r, now)
	return r, nil
}

func weightedTally(r *Round) (approve, total float64) {
	for _, v := range r.Votes {
		w := clampWeight(v.Weight)
		total += w
		if v.Decision == DecisionApprove {
			approve += w
		}
	}
	return approve, total
}

// maybeEarlyConcludeLocked concludes the round early if Approve-weight /
// total-weight has already crossed the required threshold.
func (b *Bridge) maybeEarlyConcludeLocked(r *Round, now time.Time) {
	if len(r.Votes) < r.Proposal.MinimumVotes {
		return
	}
	approve, total := weightedTally(r)
	if total == 0 {
		return
	}
	if approve/total >= r.Proposal.RequiredThreshold {
		r.Status = RoundConcluded
		r.Conclusion = ConclusionApprove
		r.ConcludedAt = now
		b.moveToCompletedLocked(r)
	}
}

// concludeLocked finalizes r at its deadline: Approve if threshold is
// met, Reject if enough votes were cast but threshold wasn't met, else
// Expired (too few votes ever arrived).
func (b *Bridge) concludeLocked(r *Round, now time.Time) {
	if r.Status == RoundConcluded {
		return
	}
	r.Status = RoundConcluded
	r.ConcludedAt = now
	if len(r.Votes) < r.Proposal.MinimumVotes {
		r.Conclusion = ConclusionExpired
	} else {
		approve, total := weightedTally(r)
		if total > 0 && approve/total >= r.Proposal.RequiredThreshold {
			r.Conclusion = ConclusionApprove
		} else {
			r.Conclusion = ConclusionReject
		}
	}
	b.moveToCompletedLocked(r)
}

func (b *Bridge) moveToCompletedLocked(r *Round) {
	delete(b.active, r.Proposal.ProposalID)
	b.completed = append(b.completed, r)
}

// ExpireOverdue concludes every active round whose deadline has passed
// as of now. Intended to be called by a periodic expiry task so rounds
// that never meet threshold still conclude at their deadline.
func (b *Bridge) ExpireOverdue(now time.Time) []*Round {
	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []*Round
	for _, r := range b.active {
		if now.After(r.Proposal.VotingDeadline) {
			b.concludeLocked(r, now)
			expired = append(expired, r)
		}
	}
	return expired
}

// RoundAt returns the round for proposalID, active or completed.
func (b *Bridge) RoundAt(proposalID string) (*Round, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.active[proposalID]; ok {
		return r, true
	}
	for _, r := range b.completed {
		if r.Proposal.ProposalID == proposalID {
			return r, true
		}
	}
	return nil, false
}

// CompletedRounds returns every concluded round, oldest first.
func (b *Bridge) CompletedRounds() []*Round {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Round, len(b.completed))
	copy(out, b.completed)
	return out
}
