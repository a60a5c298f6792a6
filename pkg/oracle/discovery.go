// Package oracle implements the cross-node oracle/consensus-bridge layer
// layer: signed node discovery, per-node health checks, and
// weighted-threshold proposal voting across heterogeneous nodes. Node
// types cover the five heterogeneous node kinds the bridge coordinates
// (Validator/Notary/Oracle/FullNode/LightClient).
package oracle

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
)

// NodeType is one of the five heterogeneous node kinds the bridge
// coordinates, per the original's node_discovery.rs.
type NodeType string

const (
	NodeValidator   NodeType = "Validator"
	NodeNotary      NodeType = "Notary"
	NodeOracle      NodeType = "Oracle"
	NodeFullNode    NodeType = "FullNode"
	NodeLightClient NodeType = "LightClient"
)

// NodeAnnouncement is the signed wire message a node broadcasts to
// announce or refresh its presence.
type NodeAnnouncement struct {
	NodeID       string
	Type         NodeType
	Endpoint     string
	Pubkey       ed25519.PublicKey
	Capabilities []string
	Timestamp    time.Time
	Signature    []byte
}

// EncodeCanonical implements codec.Encodable.
func (a *NodeAnnouncement) EncodeCanonical(e *codec.Encoder) {
	e.PutString(a.NodeID)
	e.PutEnum(string(a.Type))
	e.PutString(a.Endpoint)
	e.PutBytes(a.Pubkey)
	e.PutStringSlice(a.Capabilities)
	e.PutInt64(a.Timestamp.Unix())
}

// SigningHash hashes the announcement under its stable domain tag.
func (a *NodeAnnouncement) SigningHash() [32]byte {
	enc := codec.Encoder{}
	a.EncodeCanonical(&enc)
	return vcrypto.SumLabel("ORACLE_NODE_ANNOUNCEMENT", enc.MustBytes())
}

// MaxAnnouncementAge bounds announcement staleness: anything older than
// 5 minutes is rejected.
const MaxAnnouncementAge = 5 * time.Minute

// HealthStatus is a node's last-observed reachability state.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "Unknown"
	HealthHealthy   HealthStatus = "Healthy"
	HealthDegraded  HealthStatus = "Degraded"
	HealthUnreachable HealthStatus = "Unreachable"
)

// NodeRecord is a registered node's current discovery + health state.
type NodeRecord struct {
	Announcement    NodeAnnouncement
	Health          HealthStatus
	ResponseTimeMS  int64
	LastCheckedAt   time.Time
	Weight          float64
}

// Registry is the node discovery + health-check store, a single
// RWMutex-guarded map keyed by node_id, the same lock discipline as
// pkg/validatorset.Set.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*NodeRecord
}

// NewRegistry constructs an empty node registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*NodeRecord)}
}

// Announce validates and records a NodeAnnouncement. Announcements older
// than MaxAnnouncementAge (relative to now) are rejected; a valid
// announcement for a node_id already known refreshes its record without
// resetting its health history.
func (r *Registry) Announce(ann NodeAnnouncement, now time.Time) error {
	if now.Sub(ann.Timestamp) > MaxAnnouncementAge {
		return errs.New(errs.KindInvalidOperation, "oracle.Announce", "announcement older than 5 minutes")
	}
	if !vcrypto.VerifyHash(ann.Pubkey, ann.SigningHash(), ann.Signature) {
		return errs.New(errs.KindCrypto, "oracle.Announce", "invalid announcement signature")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, exists := r.nodes[ann.NodeID]
	if !exists {
		rec = &NodeRecord{Weight: 1.0, Health: HealthUnknown}
		r.nodes[ann.NodeID] = rec
	}
	rec.Announcement = ann
	return nil
}

// UpdateHealth records the outcome of a health check for nodeID.
func (r *Registry) UpdateHealth(nodeID string, status HealthStatus, responseTimeMS int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.nodes[nodeID]
	if !ok {
		return errs.New(errs.KindNotFound, "oracle.UpdateHealth", "unknown node_id")
	}
	rec.Health = status
	rec.ResponseTimeMS = responseTimeMS
	rec.LastCheckedAt = now
	return nil
}

// Get returns the record for nodeID, if known.
func (r *Registry) Get(nodeID string) (NodeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.nodes[nodeID]
	if !ok {
		return NodeRecord{}, false
	}
	return *rec, true
}

// Weight returns the per-node vote weight, clamped to [0,10]; unknown
// nodes default to 1.0.
func (r *Registry) Weight(nodeID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.nodes[nodeID]
	if !ok {
		return 1.0
	}
	return clampWeight(rec.Weight)
}

// SetWeight overrides a node's vote weight, clamped to [0,10].
func (r *Registry) SetWeight(nodeID string, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.nodes[nodeID]; ok {
		rec.Weight = clampWeight(weight)
	}
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 10 {
		return 10
	}
	return w
}

// TopologySnapshot counts currently-known nodes by type.
type TopologySnapshot struct {
	ByType    map[NodeType]int
	Total     int
	SampledAt time.Time
}

// Topology builds a TopologySnapshot of the registry's current members.
func (r *Registry) Topology(now time.Time) TopologySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := TopologySnapshot{ByType: make(map[NodeType]int), SampledAt: now}
	for _, rec := range r.nodes {
		snap.ByType[rec.Announcement.Type]++
		snap.Total++
	}
	return snap
}
