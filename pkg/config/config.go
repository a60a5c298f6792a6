// Package config loads the root Config struct the validatord binary
// assembles its services from. Core components take plain Go structs at
// construction and consume no environment variables or files directly;
// the YAML-plus-env-substitution loading lives here, outside every
// component constructor.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration assembled from nested *Settings
// structs, one per service.
type Config struct {
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	Network    NetworkSettings    `yaml:"network"`
	Consensus  ConsensusSettings  `yaml:"consensus"`
	Policy     PolicySettings     `yaml:"policy"`
	RSDA       RSDASettings       `yaml:"rsda"`
	Oracle     OracleSettings     `yaml:"oracle"`
	Nakamoto   NakamotoSettings   `yaml:"nakamoto"`
	Database   DatabaseSettings   `yaml:"database"`
	Content    ContentSettings    `yaml:"content"`
	Monitoring MonitoringSettings `yaml:"monitoring"`
}

// NetworkSettings configures listen/metrics addresses.
type NetworkSettings struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// ConsensusSettings configures the header pipeline (C4).
type ConsensusSettings struct {
	BlockTimeMS         int  `yaml:"block_time_ms"`
	RoundTimeoutMS      int  `yaml:"round_timeout_ms"`
	MaxConcurrentRounds int  `yaml:"max_concurrent_rounds"`
	VRFEnabled          bool `yaml:"vrf_enabled"`
}

// PolicySettings configures the BISO evaluation cache (C5).
type PolicySettings struct {
	CacheTTL Duration `yaml:"cache_ttl"`
}

// RSDASettings bounds DA proof shape (C8).
type RSDASettings struct {
	MaxDegree    int `yaml:"max_degree"`
	DataShards   int `yaml:"data_shards"`
	ParityShards int `yaml:"parity_shards"`
}

// OracleSettings configures the cross-node bridge (C9).
type OracleSettings struct {
	MinConsensusNodes  int      `yaml:"min_consensus_nodes"`
	NetworkTimeoutMS   int      `yaml:"network_timeout_ms"`
	AnnouncementMaxAge Duration `yaml:"announcement_max_age"`
	ExpiryInterval     Duration `yaml:"expiry_interval"`
}

// NakamotoSettings configures the decentralization monitor (C11).
type NakamotoSettings struct {
	WarningThreshold  int      `yaml:"warning_threshold"`
	CriticalThreshold int      `yaml:"critical_threshold"`
	TrendThreshold    float64  `yaml:"trend_threshold"`
	RetentionWindow   int      `yaml:"retention_window"`
	SampleInterval    Duration `yaml:"sample_interval"`
}

// DatabaseSettings configures the audit trail store (C12).
type DatabaseSettings struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// ContentSettings configures the distributed content store (C13).
type ContentSettings struct {
	DefaultReplicationFactor int      `yaml:"default_replication_factor"`
	DefaultCacheTTL          Duration `yaml:"default_cache_ttl"`
	Providers                []string `yaml:"providers"`
}

// MonitoringSettings configures the Prometheus metrics surface.
type MonitoringSettings struct {
	Enabled bool `yaml:"enabled"`
}

// Duration wraps time.Duration so YAML values like "30s" parse
// directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-(.*?))?\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default} occurrences
// before the YAML is parsed.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads and parses a YAML config file at path, substituting
// ${VAR}/${VAR:-default} environment references before unmarshaling.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a Config populated with production-sane defaults, to be
// overridden field-by-field by whatever YAML is layered on top.
func Default() *Config {
	return &Config{
		Environment: "devnet",
		Version:     "v1",
		Network: NetworkSettings{
			ListenAddr:  ":7070",
			MetricsAddr: ":9090",
		},
		Consensus: ConsensusSettings{
			BlockTimeMS:         250,
			RoundTimeoutMS:      2000,
			MaxConcurrentRounds: 4,
			VRFEnabled:          true,
		},
		Policy: PolicySettings{CacheTTL: Duration(30 * time.Second)},
		RSDA: RSDASettings{
			// MaxDegree must stay within rsda.DegreeCap-1: the Groth16
			// circuit's coefficient array is fixed-size at compile time.
			MaxDegree:    15,
			DataShards:   16,
			ParityShards: 4,
		},
		Oracle: OracleSettings{
			MinConsensusNodes:  3,
			NetworkTimeoutMS:   5000,
			AnnouncementMaxAge: Duration(5 * time.Minute),
			ExpiryInterval:     Duration(60 * time.Second),
		},
		Nakamoto: NakamotoSettings{
			WarningThreshold:  5,
			CriticalThreshold: 2,
			TrendThreshold:    0.1,
			RetentionWindow:   100,
			SampleInterval:    Duration(time.Minute),
		},
		Database: DatabaseSettings{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: Duration(time.Hour),
		},
		Content: ContentSettings{
			DefaultReplicationFactor: 3,
			DefaultCacheTTL:          Duration(10 * time.Minute),
			Providers:                []string{"local"},
		},
		Monitoring: MonitoringSettings{Enabled: true},
	}
}
