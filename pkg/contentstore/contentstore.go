// Package contentstore implements the content-addressed distributed blob
// store: content keyed by its hash, placed across a
// configured set of providers per a CueStoragePolicy, with
// nearest-replica retrieval and asynchronous re-warming on fallback.
package contentstore

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
)

// ReplicationStrategy selects how placement spreads replicas across
// providers.
type ReplicationStrategy string

const (
	StrategyNearest  ReplicationStrategy = "nearest"
	StrategySpread   ReplicationStrategy = "spread"
	StrategyAllLocal ReplicationStrategy = "all_local"
)

// CueStoragePolicy governs how a put's bytes are placed.
type CueStoragePolicy struct {
	ContentType            string
	Strategy               ReplicationStrategy
	ReplicationFactor       int
	CacheTTL                time.Duration
	CompressionLevel        int
	EncryptionLevel         int
	GeographicDistribution []string // preferred region order, nearest first
}

// DefaultPolicy returns a conservative single-region policy.
func DefaultPolicy() CueStoragePolicy {
	return CueStoragePolicy{
		ContentType:       "application/octet-stream",
		Strategy:          StrategyNearest,
		ReplicationFactor: 1,
		CacheTTL:          10 * time.Minute,
	}
}

// ContentID is the hex-encoded address a blob is keyed by:
// hex(Plain(data)). Plain (untagged) hashing is used deliberately: no
// signature ever covers this hash directly, so domain separation from
// signable structs is unnecessary (see pkg/crypto.Plain).
type ContentID string

// ComputeContentID derives the content address for data.
func ComputeContentID(data []byte) ContentID {
	h := vcrypto.Plain(data)
	return ContentID(hex.EncodeToString(h[:]))
}

// Provider is a single placement target for blob bytes: a local disk
// cache, a remote object store, a peer node, etc. Region is used for
// nearest-replica selection.
type Provider interface {
	Name() string
	Region() string
	Put(ctx context.Context, id ContentID, data []byte) error
	Get(ctx context.Context, id ContentID) ([]byte, bool, error)
}

// record tracks one stored object's placement and policy, independent of
// any single provider's bytes.
type record struct {
	id           ContentID
	size         int
	policy       CueStoragePolicy
	providers    []string
	putAt        time.Time
	lastAccessed time.Time
}

// Stats summarizes store-wide activity, surfaced by Store.Stats.
type Stats struct {
	ObjectCount   int
	TotalBytes    int64
	CacheHits     int64
	CacheMisses   int64
	Rewarms       int64
}

// Store is the distributed content store. Placement state is guarded by
// a single RWMutex, mirroring the validator set's dense-index-map
// discipline (pkg/validatorset.Set) since both are read-heavy,
// write-infrequent registries.
type Store struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string // provider names, registration order, used as a spread fallback
	index     map[ContentID]*record
	stats     Stats
}

// NewStore constructs an empty store over providers. At least one
// provider is required; Put fails fast otherwise.
func NewStore(providers ...Provider) *Store {
	s := &Store{
		providers: make(map[string]Provider, len(providers)),
		index:     make(map[ContentID]*record),
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
		s.order = append(s.order, p.Name())
	}
	return s
}

// Put stores data under policy, replicating across up to
// policy.ReplicationFactor providers ordered by GeographicDistribution,
// and returns the derived ContentID.
func (s *Store) Put(ctx context.Context, data []byte, policy CueStoragePolicy) (ContentID, error) {
	s.mu.Lock()
	if len(s.providers) == 0 {
		s.mu.Unlock()
		return "", errs.New(errs.KindConfiguration, "contentstore.Put", "no providers configured")
	}
	s.mu.Unlock()

	id := ComputeContentID(data)
	targets := s.selectProviders(policy)
	if len(targets) == 0 {
		return "", errs.New(errs.KindCapacityExceeded, "contentstore.Put", "no eligible providers for policy")
	}

	var placed []string
	for _, p := range targets {
		if err := p.Put(ctx, id, data); err != nil {
			continue
		}
		placed = append(placed, p.Name())
	}
	if len(placed) == 0 {
		return "", errs.New(errs.KindCapacityExceeded, "contentstore.Put", "all provider writes failed")
	}

	now := time.Now()
	s.mu.Lock()
	s.index[id] = &record{id: id, size: len(data), policy: policy, providers: placed, putAt: now, lastAccessed: now}
	s.stats.ObjectCount = len(s.index)
	s.stats.TotalBytes += int64(len(data))
	s.mu.Unlock()
	return id, nil
}

// selectProviders orders candidate providers by GeographicDistribution
// preference, falling back to registration order, and truncates to
// ReplicationFactor (at least 1).
func (s *Store) selectProviders(policy CueStoragePolicy) []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	factor := policy.ReplicationFactor
	if factor < 1 {
		factor = 1
	}

	var ordered []Provider
	seen := make(map[string]bool)
	for _, region := range policy.GeographicDistribution {
		for _, name := range s.order {
			p := s.providers[name]
			if !seen[name] && p.Region() == region {
				ordered = append(ordered, p)
				seen[name] = true
			}
		}
	}
	for _, name := range s.order {
		if !seen[name] {
			ordered = append(ordered, s.providers[name])
			seen[name] = true
		}
	}
	if len(ordered) > factor {
		ordered = ordered[:factor]
	}
	return ordered
}

// Get retrieves data for id, trying the nearest replica first (the
// record's first-placed provider) then falling back to any other
// provider holding a copy. A fallback hit schedules an asynchronous
// re-warm of the nearest provider.
func (s *Store) Get(ctx context.Context, id ContentID) ([]byte, error) {
	s.mu.RLock()
	rec, ok := s.index[id]
	s.mu.RUnlock()
	if !ok {
		s.recordMiss()
		return nil, errs.New(errs.KindNotFound, "contentstore.Get", "content id not found")
	}

	s.mu.RLock()
	providerNames := append([]string(nil), rec.providers...)
	s.mu.RUnlock()

	for i, name := range providerNames {
		s.mu.RLock()
		p, exists := s.providers[name]
		s.mu.RUnlock()
		if !exists {
			continue
		}
		data, found, err := p.Get(ctx, id)
		if err != nil || !found {
			continue
		}
		s.recordHit()
		s.touch(id)
		if i > 0 {
			s.rewarmAsync(providerNames[0], id, data)
		}
		return data, nil
	}
	s.recordMiss()
	return nil, errs.New(errs.KindNotFound, "contentstore.Get", "no provider holds a copy")
}

// rewarmAsync writes data back to the nearest provider in the
// background; failures are swallowed since re-warming is best-effort.
func (s *Store) rewarmAsync(providerName string, id ContentID, data []byte) {
	s.mu.RLock()
	p, ok := s.providers[providerName]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.stats.Rewarms++
	s.mu.Unlock()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = p.Put(ctx, id, data)
	}()
}

// Locate returns the provider names currently believed to hold id.
func (s *Store) Locate(id ContentID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.index[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "contentstore.Locate", "content id not found")
	}
	return append([]string(nil), rec.providers...), nil
}

// Stats returns a snapshot of store-wide counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Store) touch(id ContentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.index[id]; ok {
		rec.lastAccessed = time.Now()
	}
}

func (s *Store) recordHit() {
	s.mu.Lock()
	s.stats.CacheHits++
	s.mu.Unlock()
}

func (s *Store) recordMiss() {
	s.mu.Lock()
	s.stats.CacheMisses++
	s.mu.Unlock()
}
