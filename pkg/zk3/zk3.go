// Package zk3 implements the privacy-preserving VM compliance signal
// signal: three public booleans (compliance_ok, incident_seen,
// exfil_suspected) derived from a sequence of audit events and a VM
// state, with private inputs committed to via a domain-separated hash
// rather than revealed. The scheme is commitment-only: rather than
// standing up a second Groth16 circuit alongside pkg/rsda's, it commits
// to the private inputs via a domain-separated hash carried as ZKProof.
// The public flags are not part of that hash, and Verify does not
// recompute it.
package zk3

import (
	"time"

	"github.com/google/uuid"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
)

// Severity buckets audit events for the confidence-deflation rule's
// high-severity count.
type Severity string

const (
	SeverityInfo      Severity = "Info"
	SeverityWarning   Severity = "Warning"
	SeverityCritical  Severity = "Critical"
	SeverityEmergency Severity = "Emergency"
)

func isHighSeverity(s Severity) bool {
	return s == SeverityCritical || s == SeverityEmergency
}

// Event is one private audit event fed into the circuit.
type Event struct {
	ID        string
	Severity  Severity
	Incident  bool // this event itself represents a detected incident
	Exfil     bool // this event itself represents suspected exfiltration
	Timestamp time.Time
}

// VmState is the private VM state snapshot the circuit evaluates
// alongside the event sequence.
type VmState struct {
	Commitment  [32]byte // caller-supplied commitment to the full VM state
	Integrity   float64  // in [0,1]; attestation tooling's integrity score
	RuleSetHash [32]byte // hash of the compliance rules evaluated
}

// Flags are the three public boolean outputs.
type Flags struct {
	ComplianceOK    bool
	IncidentSeen    bool
	ExfilSuspected  bool
}

// Attestation is the compliance-signal wire envelope.
type Attestation struct {
	AttestationID   string
	Flags           Flags
	ZKProof         [32]byte
	VMCommitment    [32]byte
	ConfidenceScore float64
	Jurisdiction    string
	Timestamp       time.Time
}

// encodeSigning writes the signing pre-image: every field except
// AttestationID, which is per-envelope bookkeeping the same way a
// signature is, so identical inputs attest to identical hashes, and
// ConfidenceScore, a float metric that is never encoded.
func (a *Attestation) encodeSigning(e *codec.Encoder) {
	e.PutBool(a.Flags.ComplianceOK)
	e.PutBool(a.Flags.IncidentSeen)
	e.PutBool(a.Flags.ExfilSuspected)
	e.PutFixedBytes(a.ZKProof[:])
	e.PutFixedBytes(a.VMCommitment[:])
	e.PutString(a.Jurisdiction)
	e.PutInt64(a.Timestamp.Unix())
}

// EncodeCanonical implements codec.Encodable: the signing fields plus the
// envelope's attestation id. ConfidenceScore is a float metric and never
// travels in the canonical record.
func (a *Attestation) EncodeCanonical(e *codec.Encoder) {
	a.encodeSigning(e)
	e.PutString(a.AttestationID)
}

// DecodeCanonical implements codec.Decodable.
func (a *Attestation) DecodeCanonical(d *codec.Decoder) error {
	a.Flags.ComplianceOK = d.Bool()
	a.Flags.IncidentSeen = d.Bool()
	a.Flags.ExfilSuspected = d.Bool()
	copy(a.ZKProof[:], d.FixedBytes(32))
	copy(a.VMCommitment[:], d.FixedBytes(32))
	a.Jurisdiction = d.String()
	a.Timestamp = time.Unix(d.Int64(), 0).UTC()
	a.AttestationID = d.String()
	return nil
}

// SigningHash hashes the attestation under the stable ZK3 domain tag.
func (a *Attestation) SigningHash() [32]byte {
	enc := codec.Encoder{}
	a.encodeSigning(&enc)
	return vcrypto.Sum(vcrypto.TagZK3Attestation, enc.MustBytes())
}

// MinConfidence is the verification threshold Verify checks a
// confidence score against, configurable per deployment.
type MinConfidence float64

// Attest evaluates events against state and produces an Attestation.
// The private inputs (events, rules, state) are committed to via a
// domain-separated hash that becomes ZKProof; only the three booleans
// and the VM commitment are ever exposed as "public".
func Attest(events []Event, state VmState, jurisdiction string, now time.Time) *Attestation {
	flags := deriveFlags(events)
	confidence := deriveConfidence(events, state)

	enc := codec.Encoder{}
	enc.PutUint32(uint32(len(events)))
	for _, ev := range events {
		enc.PutString(ev.ID)
		enc.PutEnum(string(ev.Severity))
		enc.PutBool(ev.Incident)
		enc.PutBool(ev.Exfil)
		enc.PutInt64(ev.Timestamp.Unix())
	}
	enc.PutFixedBytes(state.Commitment[:])
	enc.PutFixedBytes(state.RuleSetHash[:])
	proof := vcrypto.SumLabel("ZK3_PRIVATE_COMMITMENT", enc.MustBytes())

	return &Attestation{
		AttestationID:   uuid.NewString(),
		Flags:           flags,
		ZKProof:         proof,
		VMCommitment:    state.Commitment,
		ConfidenceScore: confidence,
		Jurisdiction:    jurisdiction,
		Timestamp:       now,
	}
}

func deriveFlags(events []Event) Flags {
	f := Flags{ComplianceOK: true}
	for _, ev := range events {
		if ev.Incident {
			f.IncidentSeen = true
			f.ComplianceOK = false
		}
		if ev.Exfil {
			f.ExfilSuspected = true
			f.ComplianceOK = false
		}
	}
	return f
}

// deriveConfidence applies the three deflation rules then clamps to
// [0,1]: integrity < 0.9, events < 10, or high-severity events > 5.
func deriveConfidence(events []Event, state VmState) float64 {
	confidence := 1.0
	if state.Integrity < 0.9 {
		confidence -= 0.3
	}
	if len(events) < 10 {
		confidence -= 0.2
	}
	var highSeverity int
	for _, ev := range events {
		if isHighSeverity(ev.Severity) {
			highSeverity++
		}
	}
	if highSeverity > 5 {
		confidence -= 0.3
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// Verify checks an Attestation's proof is well-formed and its confidence
// meets the configured minimum.
func Verify(a *Attestation, min MinConfidence) (bool, error) {
	if a == nil {
		return false, errs.New(errs.KindInvalidState, "zk3.Verify", "nil attestation")
	}
	if a.ZKProof == ([32]byte{}) {
		return false, errs.New(errs.KindCrypto, "zk3.Verify", "empty proof")
	}
	if a.ConfidenceScore < float64(min) {
		return false, nil
	}
	return true, nil
}
