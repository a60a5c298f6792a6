package zk3

import (
	"testing"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
)

func TestAttestCleanEvents(t *testing.T) {
	now := time.Now()
	events := make([]Event, 12)
	for i := range events {
		events[i] = Event{ID: "e", Severity: SeverityInfo, Timestamp: now}
	}
	state := VmState{Commitment: [32]byte{1}, Integrity: 0.99, RuleSetHash: [32]byte{2}}

	att := Attest(events, state, "US", now)
	if !att.Flags.ComplianceOK || att.Flags.IncidentSeen || att.Flags.ExfilSuspected {
		t.Fatalf("unexpected flags: %+v", att.Flags)
	}
	if att.ConfidenceScore != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", att.ConfidenceScore)
	}
}

func TestAttestIncidentDropsCompliance(t *testing.T) {
	now := time.Now()
	events := []Event{{ID: "e1", Severity: SeverityCritical, Incident: true, Timestamp: now}}
	state := VmState{Integrity: 0.99}

	att := Attest(events, state, "US", now)
	if att.Flags.ComplianceOK {
		t.Fatalf("compliance_ok should be false when an incident is seen")
	}
	if !att.Flags.IncidentSeen {
		t.Fatalf("incident_seen should be true")
	}
}

func TestDeflationRules(t *testing.T) {
	now := time.Now()
	var highSev []Event
	for i := 0; i < 6; i++ {
		highSev = append(highSev, Event{ID: "h", Severity: SeverityCritical, Timestamp: now})
	}
	for i := 0; i < 10; i++ {
		highSev = append(highSev, Event{ID: "i", Severity: SeverityInfo, Timestamp: now})
	}
	state := VmState{Integrity: 0.5} // also below 0.9

	att := Attest(highSev, state, "US", now)
	// integrity<0.9 (-0.3) + high-severity>5 (-0.3) = 0.4; events>=10 so no -0.2.
	if att.ConfidenceScore < 0.39 || att.ConfidenceScore > 0.41 {
		t.Fatalf("confidence = %v, want ~0.4", att.ConfidenceScore)
	}
}

func TestVerifyRejectsLowConfidence(t *testing.T) {
	now := time.Now()
	att := Attest(nil, VmState{Integrity: 0.1}, "US", now)
	ok, err := Verify(att, 0.9)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail for low-confidence attestation")
	}
}

func TestVerifyRejectsEmptyProof(t *testing.T) {
	att := &Attestation{}
	if ok, err := Verify(att, 0); ok || err == nil {
		t.Fatalf("expected Verify to reject an empty proof")
	}
}

func TestSigningHashDeterministicAcrossEnvelopes(t *testing.T) {
	now := time.Now()
	a1 := Attest([]Event{{ID: "x", Severity: SeverityInfo, Timestamp: now}}, VmState{Integrity: 1}, "EU", now)
	a2 := Attest([]Event{{ID: "x", Severity: SeverityInfo, Timestamp: now}}, VmState{Integrity: 1}, "EU", now)
	if a1.SigningHash() != a2.SigningHash() {
		t.Fatalf("SigningHash is not deterministic for identical inputs")
	}
	if a1.AttestationID == a2.AttestationID {
		t.Fatalf("each envelope must carry its own attestation id")
	}
}

func TestAttestationRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	want := Attest([]Event{{ID: "e", Severity: SeverityWarning, Timestamp: now}}, VmState{Integrity: 1, Commitment: [32]byte{9}}, "UK", now)
	if want.AttestationID == "" {
		t.Fatal("attestation must carry an id")
	}

	enc, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := &Attestation{}
	if err := codec.Decode(enc, got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.AttestationID != want.AttestationID || got.Flags != want.Flags ||
		got.ZKProof != want.ZKProof || got.VMCommitment != want.VMCommitment ||
		got.Jurisdiction != want.Jurisdiction || !got.Timestamp.Equal(want.Timestamp) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if got.SigningHash() != want.SigningHash() {
		t.Fatal("decoded attestation must hash identically")
	}
}
