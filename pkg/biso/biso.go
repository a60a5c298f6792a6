// Package biso implements the Block-ISO policy engine: a
// signed, jurisdiction-aware rule set evaluated against data-flow contexts
// in a fixed check order so outputs are deterministic.
package biso

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
)

// ConsentStatus is the data subject's consent state for a flow context.
type ConsentStatus string

const (
	ConsentGranted      ConsentStatus = "Granted"
	ConsentDenied       ConsentStatus = "Denied"
	ConsentNotApplicable ConsentStatus = "NotApplicable"
)

// consentRequiredRegions is the enumerated set of regions that always
// require explicit consent.
var consentRequiredRegions = map[string]bool{
	"EU": true, "UK": true, "BR": true, "CN": true,
}

// Policy is a signed, versioned data-flow rule set. The tuple
// (ID, Version) must be unique across a registry,
// and BlockedRegions ∩ AllowedRegions must be empty.
type Policy struct {
	ID                        string
	Name                      string
	Version                   uint32
	Classification            string
	AllowedRegions            []string
	BlockedRegions            []string
	AllowedPurposes           []string
	ApplicableDataTypes       []string
	RequiresConsent           bool
	RequiresEncryptionInTransit bool
	RequiresEncryptionAtRest  bool
	MaxRetentionSeconds       *uint64
	// CustomRules are evaluated as a supplemental pass after the fixed
	// built-in check order; each failing custom rule adds a violation
	// tagged source:"custom" so determinism tests evaluating only the
	// built-in checks can filter them out.
	CustomRules    []CustomRule
	Signature      []byte
	SignerPubkey   ed25519.PublicKey
}

// CustomRule is a simple predicate supplementing the fixed check order.
// Predicate must be pure and side-effect-free, matching the engine's
// determinism contract.
type CustomRule struct {
	Name      string
	Predicate func(ctx *Context) bool
	Message   string
}

// encodeSigning writes the signing pre-image. CustomRules are excluded:
// a Go func value has no canonical representation, and custom rules are
// evaluated, not hashed.
func (p *Policy) encodeSigning(e *codec.Encoder) {
	e.PutString(p.ID)
	e.PutString(p.Name)
	e.PutUint32(p.Version)
	e.PutString(p.Classification)
	e.PutStringSlice(p.AllowedRegions)
	e.PutStringSlice(p.BlockedRegions)
	e.PutStringSlice(p.AllowedPurposes)
	e.PutStringSlice(p.ApplicableDataTypes)
	e.PutBool(p.RequiresConsent)
	e.PutBool(p.RequiresEncryptionInTransit)
	e.PutBool(p.RequiresEncryptionAtRest)
	if p.MaxRetentionSeconds != nil {
		e.PutBool(true)
		e.PutUint64(*p.MaxRetentionSeconds)
	} else {
		e.PutBool(false)
	}
}

// EncodeCanonical implements codec.Encodable: the signing fields followed
// by the signature and signer pubkey, empty when unsigned.
func (p *Policy) EncodeCanonical(e *codec.Encoder) {
	p.encodeSigning(e)
	e.PutBytes(p.Signature)
	e.PutBytes(p.SignerPubkey)
}

// DecodeCanonical implements codec.Decodable. CustomRules do not travel
// on the wire; a decoded policy carries none.
func (p *Policy) DecodeCanonical(d *codec.Decoder) error {
	p.ID = d.String()
	p.Name = d.String()
	p.Version = d.Uint32()
	p.Classification = d.String()
	p.AllowedRegions = d.StringSlice()
	p.BlockedRegions = d.StringSlice()
	p.AllowedPurposes = d.StringSlice()
	p.ApplicableDataTypes = d.StringSlice()
	p.RequiresConsent = d.Bool()
	p.RequiresEncryptionInTransit = d.Bool()
	p.RequiresEncryptionAtRest = d.Bool()
	if d.Bool() {
		v := d.Uint64()
		p.MaxRetentionSeconds = &v
	} else {
		p.MaxRetentionSeconds = nil
	}
	p.Signature = d.Bytes()
	p.SignerPubkey = d.Bytes()
	return nil
}

// SigningHash hashes the policy under the stable BISO-policy domain tag
// (0x1B).
func (p *Policy) SigningHash() [32]byte {
	enc := codec.Encoder{}
	p.encodeSigning(&enc)
	return vcrypto.Sum(vcrypto.TagBisoPolicy, enc.MustBytes())
}

// Context is the data-flow instance a policy is evaluated against.
type Context struct {
	SourceRegion            string
	DestinationRegion       string
	Purpose                 string
	DataType                string
	Consent                 ConsentStatus
	EncryptedInTransit      bool
	EncryptedAtRest         bool
	DataAgeSeconds          uint64
}

// EncodeCanonical implements codec.Encodable, used to derive the
// evaluation cache key H(policy_id || canonical(ctx)).
func (c *Context) EncodeCanonical(e *codec.Encoder) {
	e.PutString(c.SourceRegion)
	e.PutString(c.DestinationRegion)
	e.PutString(c.Purpose)
	e.PutString(c.DataType)
	e.PutEnum(string(c.Consent))
	e.PutBool(c.EncryptedInTransit)
	e.PutBool(c.EncryptedAtRest)
	e.PutUint64(c.DataAgeSeconds)
}

// Decision is the evaluation's three-state outcome.
type Decision string

const (
	DecisionGreen  Decision = "Green"
	DecisionYellow Decision = "Yellow"
	DecisionRed    Decision = "Red"
)

// Violation is a hard failure: it always drives the decision to Red.
type Violation struct {
	Check   string
	Message string
	Source  string // "builtin" or "custom"
}

// Warning is a soft failure: it degrades Green to Yellow, never escalates
// Yellow to Red on its own.
type Warning struct {
	Check   string
	Message string
}

// EvaluationResult is the outcome of one policy evaluation.
type EvaluationResult struct {
	ID              string
	PolicyID        string
	Decision        Decision
	Passed          bool
	Violations      []Violation
	Warnings        []Warning
	EvaluatedAt     time.Time
	DurationMS      float64
	Signature       []byte
	EvaluatorPubkey ed25519.PublicKey
	FromCache       bool
}

// encodeSigning writes the signing pre-image, excluding the signature
// and the duration/cache fields. EvaluatedAt (whole seconds of the
// evaluation's wall-clock time) is part of the pre-image.
func (r *EvaluationResult) encodeSigning(e *codec.Encoder) {
	e.PutString(r.ID)
	e.PutString(r.PolicyID)
	e.PutEnum(string(r.Decision))
	e.PutBool(r.Passed)
	e.PutUint32(uint32(len(r.Violations)))
	for _, v := range r.Violations {
		e.PutString(v.Check)
		e.PutString(v.Message)
		e.PutString(v.Source)
	}
	e.PutUint32(uint32(len(r.Warnings)))
	for _, w := range r.Warnings {
		e.PutString(w.Check)
		e.PutString(w.Message)
	}
	e.PutInt64(r.EvaluatedAt.Unix())
}

// EncodeCanonical implements codec.Encodable: the signing fields followed
// by the signature and evaluator pubkey. DurationMS and FromCache are
// observability fields and do not travel in the canonical record.
func (r *EvaluationResult) EncodeCanonical(e *codec.Encoder) {
	r.encodeSigning(e)
	e.PutBytes(r.Signature)
	e.PutBytes(r.EvaluatorPubkey)
}

// DecodeCanonical implements codec.Decodable.
func (r *EvaluationResult) DecodeCanonical(d *codec.Decoder) error {
	r.ID = d.String()
	r.PolicyID = d.String()
	r.Decision = Decision(d.Enum())
	r.Passed = d.Bool()
	n := d.Uint32()
	if d.Err() != nil {
		return nil
	}
	r.Violations = make([]Violation, 0, n)
	for i := uint32(0); i < n; i++ {
		r.Violations = append(r.Violations, Violation{Check: d.String(), Message: d.String(), Source: d.String()})
	}
	n = d.Uint32()
	if d.Err() != nil {
		return nil
	}
	r.Warnings = make([]Warning, 0, n)
	for i := uint32(0); i < n; i++ {
		r.Warnings = append(r.Warnings, Warning{Check: d.String(), Message: d.String()})
	}
	r.EvaluatedAt = time.Unix(d.Int64(), 0).UTC()
	r.Signature = d.Bytes()
	r.EvaluatorPubkey = d.Bytes()
	return nil
}

// SigningHash hashes the result under the stable policy-evaluation domain
// tag (0x1C).
func (r *EvaluationResult) SigningHash() [32]byte {
	enc := codec.Encoder{}
	r.encodeSigning(&enc)
	return vcrypto.Sum(vcrypto.TagPolicyEvaluation, enc.MustBytes())
}

type cacheEntry struct {
	result    *EvaluationResult
	expiresAt time.Time
}

// Engine is the registry plus evaluation engine. Registered policies are
// guarded by an RWMutex and the evaluation cache by its own Mutex; cache hits
// are tracked separately from misses so determinism tests can bypass the
// cache entirely.
type Engine struct {
	policiesMu sync.RWMutex
	policies   map[string]*Policy // key: ID+"@"+Version

	cacheMu  sync.Mutex
	cache    map[[32]byte]cacheEntry
	cacheTTL time.Duration

	statsMu   sync.Mutex
	CacheHits uint64
	CacheMiss uint64
}

// NewEngine constructs an Engine. cacheTTL of zero disables caching.
func NewEngine(cacheTTL time.Duration) *Engine {
	return &Engine{
		policies: make(map[string]*Policy),
		cache:    make(map[[32]byte]cacheEntry),
		cacheTTL: cacheTTL,
	}
}

func policyKey(id string, version uint32) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// RegisterPolicy adds p to the registry. Re-registering an identical
// policy under an existing (id, version) tuple is a no-op; a differing
// policy under that tuple fails with AlreadyExists. Any policy whose
// blocked/allowed region sets overlap is rejected.
func (e *Engine) RegisterPolicy(p *Policy) error {
	e.policiesMu.Lock()
	defer e.policiesMu.Unlock()

	key := policyKey(p.ID, p.Version)
	if existing, exists := e.policies[key]; exists {
		// Re-registering the identical policy is an accepted no-op; a
		// colliding (id, version) with different content is an error.
		if existing.SigningHash() == p.SigningHash() {
			return nil
		}
		return errs.New(errs.KindAlreadyExists, "biso.RegisterPolicy", "different policy already registered for this (id, version)")
	}
	allowed := make(map[string]bool, len(p.AllowedRegions))
	for _, r := range p.AllowedRegions {
		allowed[r] = true
	}
	for _, r := range p.BlockedRegions {
		if allowed[r] {
			return errs.New(errs.KindInvalidState, "biso.RegisterPolicy", "blocked and allowed regions overlap")
		}
	}
	e.policies[key] = p
	return nil
}

// GetPolicy returns the registered policy for (id, version).
func (e *Engine) GetPolicy(id string, version uint32) (*Policy, bool) {
	e.policiesMu.RLock()
	defer e.policiesMu.RUnlock()
	p, ok := e.policies[policyKey(id, version)]
	return p, ok
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// regionAllowed checks membership in an allowed-regions list, where the
// sentinel region "Global" admits every region.
func regionAllowed(allowed []string, region string) bool {
	return contains(allowed, "Global") || contains(allowed, region)
}

// Evaluate runs ctx through policy (id, version)'s fixed check order:
// source region → destination region → purpose → consent → encryption
// in transit → encryption at rest → retention age, then a supplemental
// custom-rules pass. Evaluation is pure given (policy, ctx) except for
// the EvaluatedAt/DurationMS/Signature fields.
func (e *Engine) Evaluate(id string, version uint32, ctx *Context, evaluationID string) (*EvaluationResult, error) {
	policy, ok := e.GetPolicy(id, version)
	if !ok {
		return nil, errs.New(errs.KindNotFound, "biso.Evaluate", "policy not registered")
	}

	if e.cacheTTL > 0 {
		key := cacheKey(id, version, ctx)
		e.cacheMu.Lock()
		if entry, found := e.cache[key]; found && time.Now().Before(entry.expiresAt) {
			e.cacheMu.Unlock()
			e.statsMu.Lock()
			e.CacheHits++
			e.statsMu.Unlock()
			cached := *entry.result
			cached.FromCache = true
			return &cached, nil
		}
		e.cacheMu.Unlock()
		e.statsMu.Lock()
		e.CacheMiss++
		e.statsMu.Unlock()
	}

	start := time.Now()
	result := &EvaluationResult{
		ID:       evaluationID,
		PolicyID: policyKey(id, version),
		Decision: DecisionGreen,
		Passed:   true,
	}

	degradeWarning := func(check, msg string) {
		result.Warnings = append(result.Warnings, Warning{Check: check, Message: msg})
		if result.Decision == DecisionGreen {
			result.Decision = DecisionYellow
		}
	}
	degradeViolation := func(check, msg, source string) {
		result.Violations = append(result.Violations, Violation{Check: check, Message: msg, Source: source})
		result.Decision = DecisionRed
		result.Passed = false
	}

	// 1. source region allowed
	if len(policy.AllowedRegions) > 0 && !regionAllowed(policy.AllowedRegions, ctx.SourceRegion) {
		degradeViolation("source_region", "source region not in allowed list", "builtin")
	}
	if contains(policy.BlockedRegions, ctx.SourceRegion) {
		degradeViolation("source_region", "source region is blocked", "builtin")
	}

	// 2. destination region allowed
	if len(policy.AllowedRegions) > 0 && !regionAllowed(policy.AllowedRegions, ctx.DestinationRegion) {
		degradeViolation("destination_region", "destination region not in allowed list", "builtin")
	}
	if contains(policy.BlockedRegions, ctx.DestinationRegion) {
		degradeViolation("destination_region", "destination region is blocked", "builtin")
	}

	// 3. purpose allowed
	if len(policy.AllowedPurposes) > 0 && !contains(policy.AllowedPurposes, ctx.Purpose) {
		degradeViolation("purpose", "purpose not in allowed list", "builtin")
	}

	// 4. consent requirements. The check runs only when the policy itself
	// requires consent; the enumerated explicit-consent regions (EU, UK,
	// BR, CN) determine how a NotApplicable status is treated, upgrading
	// it from a warning to a violation.
	if policy.RequiresConsent {
		switch ctx.Consent {
		case ConsentDenied:
			degradeViolation("consent", "consent denied", "builtin")
		case ConsentNotApplicable:
			if consentRequiredRegions[ctx.SourceRegion] || consentRequiredRegions[ctx.DestinationRegion] {
				degradeViolation("consent", "consent required but not applicable in an explicit-consent region", "builtin")
			} else {
				degradeWarning("consent", "consent status not applicable")
			}
		}
	}

	// 5. encryption in transit
	if policy.RequiresEncryptionInTransit && !ctx.EncryptedInTransit {
		degradeViolation("encryption_in_transit", "encryption in transit required", "builtin")
	}

	// 6. encryption at rest
	if policy.RequiresEncryptionAtRest && !ctx.EncryptedAtRest {
		degradeViolation("encryption_at_rest", "encryption at rest required", "builtin")
	}

	// 7. retention age
	if policy.MaxRetentionSeconds != nil && ctx.DataAgeSeconds > *policy.MaxRetentionSeconds {
		degradeViolation("retention", "data age exceeds max retention", "builtin")
	}

	// Supplemental custom-rules pass.
	for _, rule := range policy.CustomRules {
		if !rule.Predicate(ctx) {
			degradeViolation(rule.Name, rule.Message, "custom")
		}
	}

	result.EvaluatedAt = time.Now()
	result.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0

	if e.cacheTTL > 0 {
		key := cacheKey(id, version, ctx)
		cached := *result
		e.cacheMu.Lock()
		e.cache[key] = cacheEntry{result: &cached, expiresAt: time.Now().Add(e.cacheTTL)}
		e.cacheMu.Unlock()
	}

	return result, nil
}

func cacheKey(id string, version uint32, ctx *Context) [32]byte {
	enc := codec.Encoder{}
	enc.PutString(id)
	enc.PutUint32(version)
	ctx.EncodeCanonical(&enc)
	return vcrypto.Sum(vcrypto.TagPolicyEvaluation, enc.MustBytes())
}

// Stats returns the current cache hit/miss counters.
func (e *Engine) Stats() (hits, misses uint64) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.CacheHits, e.CacheMiss
}
