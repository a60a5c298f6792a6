// Package nakamoto implements the continuous decentralization metric
// metric: the Nakamoto coefficient over a stake-sorted validator set,
// three non-decision-affecting contributing factors (Gini, Shannon
// entropy, Simpson diversity), and an alert state machine over a
// bounded history of samples.
package nakamoto

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/coreledger/validator-core/pkg/errs"
	"github.com/prometheus/client_golang/prometheus"
)

// StakeEntry is one validator's stake plus the attributes the
// contributing-factor metrics are computed over.
type StakeEntry struct {
	ValidatorIndex uint32
	Stake          uint64
	Location       string // geographic region/AZ, for Shannon entropy
	ValidatorType  string // node class, for Simpson diversity
}

// ContributingFactors are recorded alongside the coefficient but never
// change its value.
type ContributingFactors struct {
	GiniCoefficient   float64 // inverse Gini on stakes: 1 - Gini, higher is more decentralized
	ShannonEntropy    float64 // normalized Shannon entropy on locations, in [0,1]
	SimpsonDiversity  float64 // Simpson diversity index on validator types, in [0,1]
}

// Snapshot is one computed sample of the decentralization metric.
type Snapshot struct {
	Coefficient int
	Factors     ContributingFactors
	TotalStake  uint64
	SampledAt   time.Time
}

// AlertLevel classifies the monitor's current state.
type AlertLevel string

const (
	AlertNone             AlertLevel = "None"
	AlertWarning          AlertLevel = "Warning"
	AlertCritical         AlertLevel = "Critical"
	AlertTrendDeteriorating AlertLevel = "TrendDeteriorating"
)

// Compute returns the smallest prefix length of stakes (sorted descending)
// whose cumulative stake strictly exceeds one third of the total.
// Stakes need not
// be pre-sorted; Compute copies and sorts internally, so callers' input
// order (and the input slice itself) is untouched.
func Compute(stakes []StakeEntry) (int, error) {
	if len(stakes) == 0 {
		return 0, errs.New(errs.KindNakamotoInsuffData, "nakamoto.Compute", "stake vector must be non-empty")
	}
	var total uint64
	for _, s := range stakes {
		total += s.Stake
	}
	if total == 0 {
		return 0, errs.New(errs.KindNakamotoInsuffData, "nakamoto.Compute", "total stake must be > 0")
	}

	sorted := append([]StakeEntry(nil), stakes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Stake > sorted[j].Stake })

	// total/3 would truncate; compare against the exact fraction via 3*cum > total.
	var cum uint64
	for i, s := range sorted {
		cum += s.Stake
		if 3*cum > total {
			return i + 1, nil
		}
	}
	return len(sorted), nil
}

// ComputeFactors derives the three contributing-factor metrics. They are
// informational only and never feed Compute's coefficient.
func ComputeFactors(stakes []StakeEntry) ContributingFactors {
	return ContributingFactors{
		GiniCoefficient:  1 - gini(stakes),
		ShannonEntropy:   shannonEntropy(stakes, func(s StakeEntry) string { return s.Location }),
		SimpsonDiversity: simpsonDiversity(stakes, func(s StakeEntry) string { return s.ValidatorType }),
	}
}

// gini computes the Gini coefficient over stakes in [0,1], 0 = perfectly equal.
func gini(stakes []StakeEntry) float64 {
	n := len(stakes)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	var sum float64
	for i, s := range stakes {
		sorted[i] = float64(s.Stake)
		sum += sorted[i]
	}
	if sum == 0 {
		return 0
	}
	sort.Float64s(sorted)
	var weighted float64
	for i, v := range sorted {
		weighted += float64(i+1) * v
	}
	return (2*weighted)/(float64(n)*sum) - float64(n+1)/float64(n)
}

// shannonEntropy computes normalized Shannon entropy (in [0,1]) of the
// stake-weighted distribution over whatever category key() extracts.
func shannonEntropy(stakes []StakeEntry, key func(StakeEntry) string) float64 {
	totals := make(map[string]uint64)
	var total uint64
	for _, s := range stakes {
		k := key(s)
		totals[k] += s.Stake
		total += s.Stake
	}
	if total == 0 || len(totals) <= 1 {
		return 0
	}
	var h float64
	for _, v := range totals {
		if v == 0 {
			continue
		}
		p := float64(v) / float64(total)
		h -= p * math.Log2(p)
	}
	maxH := math.Log2(float64(len(totals)))
	if maxH == 0 {
		return 0
	}
	return h / maxH
}

// simpsonDiversity computes the Simpson diversity index (1 - sum(p_i^2))
// over whatever category key() extracts, weighted by stake.
func simpsonDiversity(stakes []StakeEntry, key func(StakeEntry) string) float64 {
	totals := make(map[string]uint64)
	var total uint64
	for _, s := range stakes {
		k := key(s)
		totals[k] += s.Stake
		total += s.Stake
	}
	if total == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range totals {
		p := float64(v) / float64(total)
		sumSq += p * p
	}
	return 1 - sumSq
}

// Config bounds the monitor's alerting thresholds and history retention.
type Config struct {
	WarningThreshold  int     // coefficient below this raises Warning
	CriticalThreshold int     // coefficient below this raises Critical
	TrendThreshold    float64 // recent-10 slope below -TrendThreshold raises TrendDeteriorating
	RetentionWindow   int     // number of historical snapshots kept
}

// prometheusMetrics are the decentralization gauges surfaced on the
// node's /metrics endpoint.
type prometheusMetrics struct {
	coefficient prometheus.Gauge
	giniInverse prometheus.Gauge
	alertLevel  *prometheus.GaugeVec
}

func newPrometheusMetrics(reg prometheus.Registerer) *prometheusMetrics {
	m := &prometheusMetrics{
		coefficient: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nakamoto_coefficient",
			Help: "Minimum number of top-staked validators whose combined stake exceeds one third of total stake.",
		}),
		giniInverse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nakamoto_stake_gini_inverse",
			Help: "1 - Gini coefficient of the validator stake distribution.",
		}),
		alertLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nakamoto_alert_level",
			Help: "1 if the monitor currently holds the named alert level, else 0.",
		}, []string{"level"}),
	}
	if reg != nil {
		reg.MustRegister(m.coefficient, m.giniInverse, m.alertLevel)
	}
	return m
}

func (m *prometheusMetrics) record(snap Snapshot, level AlertLevel) {
	if m == nil {
		return
	}
	m.coefficient.Set(float64(snap.Coefficient))
	m.giniInverse.Set(snap.Factors.GiniCoefficient)
	for _, l := range []AlertLevel{AlertNone, AlertWarning, AlertCritical, AlertTrendDeteriorating} {
		v := 0.0
		if l == level {
			v = 1.0
		}
		m.alertLevel.WithLabelValues(string(l)).Set(v)
	}
}

// Monitor tracks a bounded history of Snapshots and derives the current
// AlertLevel from it.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	history []Snapshot
	metrics *prometheusMetrics
}

// NewMonitor constructs a Monitor. reg may be nil to skip Prometheus
// registration (e.g. in unit tests that construct multiple monitors).
func NewMonitor(cfg Config, reg prometheus.Registerer) *Monitor {
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 100
	}
	return &Monitor{cfg: cfg, metrics: newPrometheusMetrics(reg)}
}

// Sample computes a fresh Snapshot from stakes, appends it to history
// (pruning beyond RetentionWindow), and returns the snapshot plus the
// resulting AlertLevel. A Critical level is additionally surfaced as a
// typed error so callers that must propagate it (rather than merely
// observe it) can do so without re-deriving the threshold comparison.
func (m *Monitor) Sample(stakes []StakeEntry, now time.Time) (Snapshot, AlertLevel, error) {
	coeff, err := Compute(stakes)
	if err != nil {
		return Snapshot{}, AlertNone, err
	}
	snap := Snapshot{
		Coefficient: coeff,
		Factors:     ComputeFactors(stakes),
		TotalStake:  totalStake(stakes),
		SampledAt:   now,
	}

	m.mu.Lock()
	m.history = append(m.history, snap)
	if len(m.history) > m.cfg.RetentionWindow {
		m.history = m.history[len(m.history)-m.cfg.RetentionWindow:]
	}
	level := m.levelLocked(snap)
	m.mu.Unlock()

	m.metrics.record(snap, level)

	if level == AlertCritical {
		return snap, level, errs.New(errs.KindNakamotoCritical, "nakamoto.Sample",
			"coefficient below critical threshold: stake concentration is dangerously high")
	}
	return snap, level, nil
}

func (m *Monitor) levelLocked(snap Snapshot) AlertLevel {
	if snap.Coefficient < m.cfg.CriticalThreshold {
		return AlertCritical
	}
	if trend := m.trendLocked(); trend < -m.cfg.TrendThreshold {
		return AlertTrendDeteriorating
	}
	if snap.Coefficient < m.cfg.WarningThreshold {
		return AlertWarning
	}
	return AlertNone
}

// trendLocked computes a simple least-recent-to-most-recent slope over
// the last 10 samples' coefficients (or fewer if history is shorter).
// Must be called with m.mu held.
func (m *Monitor) trendLocked() float64 {
	n := len(m.history)
	if n < 2 {
		return 0
	}
	window := n
	if window > 10 {
		window = 10
	}
	recent := m.history[n-window:]
	first := float64(recent[0].Coefficient)
	last := float64(recent[len(recent)-1].Coefficient)
	if first == 0 {
		return 0
	}
	return (last - first) / first
}

// History returns a copy of the retained snapshots, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

func totalStake(stakes []StakeEntry) uint64 {
	var total uint64
	for _, s := range stakes {
		total += s.Stake
	}
	return total
}
