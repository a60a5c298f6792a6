// Package dualaudit implements the dual-origin (client/server) audit
// chain: every audited action can produce up to two
// AuditEntry records, chained by previous_hash, individually
// Ed25519-signed, and bound together by a consensus_hash when dual
// consensus is required. Patterned after the retrieval pack's
// multi-peer attestation-collection service: per-origin signing keys
// and an optional both-origins requirement (RequireDualConsensus); there
// is no collection timeout.
package dualaudit

import (
	"crypto/ed25519"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
	"github.com/google/uuid"
)

// Origin distinguishes which side of a dual-origin action produced an entry.
type Origin string

const (
	OriginClient Origin = "client"
	OriginServer Origin = "server"
)

// AuditEntry is one origin's signed record of an audited action.
type AuditEntry struct {
	ID           uuid.UUID
	Origin       Origin
	Action       string
	Metadata     map[string]string
	Timestamp    time.Time
	PreviousHash [32]byte
	DataHash     [32]byte
	Signature    []byte
	SignerPubkey ed25519.PublicKey
}

// encodeForDataHash implements the canonical action+timestamp+metadata
// encoding that DataHash is computed over.
func (e *AuditEntry) encodeForDataHash(enc *codec.Encoder) {
	enc.PutString(e.Action)
	enc.PutStringMap(e.Metadata)
	enc.PutInt64(e.Timestamp.Unix())
}

// ComputeDataHash derives DataHash = H(tag || action || metadata || timestamp).
func (e *AuditEntry) ComputeDataHash() [32]byte {
	enc := codec.Encoder{}
	e.encodeForDataHash(&enc)
	return vcrypto.Sum(vcrypto.TagSplitOriginAudit, enc.MustBytes())
}

// signingPayload builds id || data_hash || timestamp, the exact bytes the
// entry's Ed25519 signature covers.
func (e *AuditEntry) signingPayload() []byte {
	idBytes, _ := e.ID.MarshalBinary()
	buf := make([]byte, 0, len(idBytes)+32+8)
	buf = append(buf, idBytes...)
	buf = append(buf, e.DataHash[:]...)
	buf = vcrypto.PutUint64LE(buf, uint64(e.Timestamp.Unix()))
	return buf
}

// Sign computes DataHash and signs id||data_hash||timestamp with priv.
func (e *AuditEntry) Sign(priv ed25519.PrivateKey) {
	e.DataHash = e.ComputeDataHash()
	e.Signature = ed25519.Sign(priv, e.signingPayload())
	e.SignerPubkey = priv.Public().(ed25519.PublicKey)
}

// Verify checks e's signature was produced over its current
// id/data_hash/timestamp, and that DataHash still matches its action and
// metadata (i.e. neither was mutated after signing).
func (e *AuditEntry) Verify() bool {
	if len(e.Signature) == 0 || len(e.SignerPubkey) == 0 {
		return false
	}
	if e.DataHash != e.ComputeDataHash() {
		return false
	}
	return ed25519.Verify(e.SignerPubkey, e.signingPayload(), e.Signature)
}

// DualAuditRecord binds a client and/or server AuditEntry for one action,
// one audited action.
type DualAuditRecord struct {
	ID            uuid.UUID
	ClientEntry   *AuditEntry
	ServerEntry   *AuditEntry
	ConsensusHash *[32]byte
	NotaryID      string
	CreatedAt     time.Time
	VerifiedAt    *time.Time
}

// ComputeConsensusHash derives consensus_hash = H(client.data_hash ||
// server.data_hash || id || created_at). Both
// entries must be present.
func (r *DualAuditRecord) ComputeConsensusHash() ([32]byte, error) {
	if r.ClientEntry == nil || r.ServerEntry == nil {
		return [32]byte{}, errs.New(errs.KindInvalidState, "dualaudit.ComputeConsensusHash", "both client and server entries required")
	}
	idBytes, _ := r.ID.MarshalBinary()
	createdAtLE := vcrypto.PutUint64LE(nil, uint64(r.CreatedAt.Unix()))
	return vcrypto.Concat(vcrypto.TagSplitOriginAudit,
		r.ClientEntry.DataHash[:],
		r.ServerEntry.DataHash[:],
		idBytes,
		createdAtLE,
	), nil
}

// Chain is a single origin's append-only audit log, linked by
// previous_hash. Guarded by its own mutex: client and server chains are
// independent and never lock-order against each other.
type Chain struct {
	mu      sync.Mutex
	Origin  Origin
	entries []*AuditEntry
}

// NewChain constructs an empty chain for the given origin.
func NewChain(origin Origin) *Chain {
	return &Chain{Origin: origin}
}

// Append signs and appends a new entry linked to the chain's current tail.
func (c *Chain) Append(priv ed25519.PrivateKey, action string, metadata map[string]string, now time.Time) *AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := vcrypto.ZeroHash
	if n := len(c.entries); n > 0 {
		prevHash = c.entries[n-1].DataHash
	}
	entry := &AuditEntry{
		ID:           uuid.New(),
		Origin:       c.Origin,
		Action:       action,
		Metadata:     metadata,
		Timestamp:    now,
		PreviousHash: prevHash,
	}
	entry.Sign(priv)
	c.entries = append(c.entries, entry)
	return entry
}

// Entries returns a snapshot of the chain in append order.
func (c *Chain) Entries() []*AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*AuditEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// VerifyIntegrity re-checks every entry's signature and previous_hash
// linkage in order. Returns false without mutating state on the first
// failure.
func VerifyIntegrity(entries []*AuditEntry) bool {
	prev := vcrypto.ZeroHash
	for _, e := range entries {
		if !e.Verify() {
			return false
		}
		if e.PreviousHash != prev {
			return false
		}
		prev = e.DataHash
	}
	return true
}

// Discrepancy records a mismatch found comparing two chains at an index.
type Discrepancy struct {
	Index   int
	Field   string
	Client  string
	Server  string
}

// DetectDiscrepancies compares client and server chains entry by entry,
// flagging any {length, data_hash, timestamp} mismatch.
func DetectDiscrepancies(client, server []*AuditEntry) []Discrepancy {
	var out []Discrepancy
	if len(client) != len(server) {
		out = append(out, Discrepancy{
			Index: -1, Field: "length",
			Client: fmt.Sprintf("%d", len(client)),
			Server: fmt.Sprintf("%d", len(server)),
		})
	}
	n := len(client)
	if len(server) < n {
		n = len(server)
	}
	for i := 0; i < n; i++ {
		if client[i].DataHash != server[i].DataHash {
			out = append(out, Discrepancy{Index: i, Field: "data_hash",
				Client: fmt.Sprintf("%x", client[i].DataHash), Server: fmt.Sprintf("%x", server[i].DataHash)})
		}
		if !client[i].Timestamp.Equal(server[i].Timestamp) {
			out = append(out, Discrepancy{Index: i, Field: "timestamp",
				Client: client[i].Timestamp.String(), Server: server[i].Timestamp.String()})
		}
	}
	return out
}

// Auditor coordinates client/server chains and assembles DualAuditRecords,
// logging advisory notices the way the retrieval pack's attestation
// service logs peer-collection outcomes.
type Auditor struct {
	ClientChain      *Chain
	ServerChain      *Chain
	RequireDualConsensus bool
	NotaryID         string
	Logger           *log.Logger
}

// NewAuditor constructs an Auditor over a fresh client/server chain pair.
func NewAuditor(requireDualConsensus bool, notaryID string, logger *log.Logger) *Auditor {
	if logger == nil {
		logger = log.New(log.Writer(), "dualaudit: ", log.LstdFlags)
	}
	return &Auditor{
		ClientChain:          NewChain(OriginClient),
		ServerChain:          NewChain(OriginServer),
		RequireDualConsensus: requireDualConsensus,
		NotaryID:             notaryID,
		Logger:               logger,
	}
}

// RecordAction appends to one or both chains depending on which private
// keys are supplied, and assembles the resulting DualAuditRecord. When
// RequireDualConsensus is set, both clientPriv and serverPriv must be
// non-nil or RecordAction fails.
func (a *Auditor) RecordAction(clientPriv, serverPriv ed25519.PrivateKey, action string, metadata map[string]string, now time.Time) (*DualAuditRecord, error) {
	if a.RequireDualConsensus && (clientPriv == nil || serverPriv == nil) {
		return nil, errs.New(errs.KindInvalidState, "dualaudit.RecordAction", "dual consensus required but one origin's key is missing")
	}

	record := &DualAuditRecord{ID: uuid.New(), NotaryID: a.NotaryID, CreatedAt: now}
	if clientPriv != nil {
		record.ClientEntry = a.ClientChain.Append(clientPriv, action, metadata, now)
	}
	if serverPriv != nil {
		record.ServerEntry = a.ServerChain.Append(serverPriv, action, metadata, now)
	}

	if record.ClientEntry != nil && record.ServerEntry != nil {
		hash, err := record.ComputeConsensusHash()
		if err != nil {
			return nil, err
		}
		record.ConsensusHash = &hash
		verified := now
		record.VerifiedAt = &verified
	} else {
		a.Logger.Printf("advisory: dual audit record %s recorded with a single origin only", record.ID)
	}

	return record, nil
}
