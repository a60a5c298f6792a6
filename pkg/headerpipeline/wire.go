// Consensus wire envelopes: the transport-level message wrapper and the
// IBFT message union it carries. Broadcast is fire-and-forget and votes
// are idempotent, so the envelopes carry no acks or sequence state.
package headerpipeline

import (
	"github.com/coreledger/validator-core/pkg/codec"
	"github.com/coreledger/validator-core/pkg/errs"
)

// TransportKind discriminates TransportMessage variants.
type TransportKind string

const (
	TransportConsensus TransportKind = "Consensus"
	TransportData      TransportKind = "Data"
)

// TransportMessage is the outermost wire envelope: Consensus messages
// carry a serialized IbftMessage in Payload, Data messages carry an
// opaque payload for non-consensus traffic.
type TransportMessage struct {
	Kind    TransportKind
	Payload []byte
}

// EncodeCanonical implements codec.Encodable.
func (m *TransportMessage) EncodeCanonical(e *codec.Encoder) {
	e.PutEnum(string(m.Kind))
	e.PutBytes(m.Payload)
}

// DecodeCanonical implements codec.Decodable.
func (m *TransportMessage) DecodeCanonical(d *codec.Decoder) error {
	m.Kind = TransportKind(d.Enum())
	m.Payload = d.Bytes()
	switch m.Kind {
	case TransportConsensus, TransportData:
		return nil
	}
	if d.Err() != nil {
		return nil
	}
	return errs.New(errs.KindEncoding, "headerpipeline.TransportMessage", "unknown transport message kind")
}

// IbftMessage is the consensus-payload union: a PrePrepare carries the
// leader's proposal, Prepare and Commit carry the voter's signed Vote.
// Sender is the originating validator's node identity, used for
// metrics/equivocation attribution, not for signature verification.
type IbftMessage struct {
	Kind     VoteKind
	Sender   string
	Proposal *BlockProposal // non-nil iff Kind == VotePrePrepare
	Vote     *Vote          // non-nil iff Kind is Prepare or Commit
}

// EncodeCanonical implements codec.Encodable.
func (m *IbftMessage) EncodeCanonical(e *codec.Encoder) {
	e.PutEnum(string(m.Kind))
	e.PutString(m.Sender)
	if m.Kind == VotePrePrepare {
		m.Proposal.EncodeCanonical(e)
		return
	}
	m.Vote.EncodeCanonical(e)
}

// DecodeCanonical implements codec.Decodable.
func (m *IbftMessage) DecodeCanonical(d *codec.Decoder) error {
	m.Kind = VoteKind(d.Enum())
	m.Sender = d.String()
	switch m.Kind {
	case VotePrePrepare:
		m.Proposal = &BlockProposal{}
		return m.Proposal.DecodeCanonical(d)
	case VotePrepare, VoteCommit:
		m.Vote = &Vote{}
		return m.Vote.DecodeCanonical(d)
	}
	if d.Err() != nil {
		return nil
	}
	return errs.New(errs.KindEncoding, "headerpipeline.IbftMessage", "unknown ibft message kind")
}

// WrapConsensus serializes msg and wraps it in a Consensus transport
// envelope.
func WrapConsensus(msg *IbftMessage) (*TransportMessage, error) {
	payload, err := codec.Encode(msg)
	if err != nil {
		return nil, err
	}
	return &TransportMessage{Kind: TransportConsensus, Payload: payload}, nil
}

// UnwrapConsensus decodes the IbftMessage carried by a Consensus
// transport envelope.
func UnwrapConsensus(m *TransportMessage) (*IbftMessage, error) {
	if m.Kind != TransportConsensus {
		return nil, errs.New(errs.KindInvalidOperation, "headerpipeline.UnwrapConsensus", "transport message is not a Consensus variant")
	}
	msg := &IbftMessage{}
	if err := codec.Decode(m.Payload, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
