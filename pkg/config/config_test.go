package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.Consensus.BlockTimeMS != 250 {
		t.Fatalf("default block_time_ms = %d, want 250", cfg.Consensus.BlockTimeMS)
	}
	if !cfg.Consensus.VRFEnabled {
		t.Fatal("VRF must default to enabled")
	}
	if cfg.Oracle.AnnouncementMaxAge.Std() != 5*time.Minute {
		t.Fatalf("default announcement_max_age = %v, want 5m", cfg.Oracle.AnnouncementMaxAge.Std())
	}
	if cfg.RSDA.DataShards != 16 || cfg.RSDA.ParityShards != 4 {
		t.Fatalf("default shard shape = (%d,%d), want (16,4)", cfg.RSDA.DataShards, cfg.RSDA.ParityShards)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
environment: production
consensus:
  block_time_ms: 500
  vrf_enabled: false
policy:
  cache_ttl: 2m
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "production" {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.Consensus.BlockTimeMS != 500 || cfg.Consensus.VRFEnabled {
		t.Fatalf("consensus overrides not applied: %+v", cfg.Consensus)
	}
	if cfg.Policy.CacheTTL.Std() != 2*time.Minute {
		t.Fatalf("cache_ttl = %v, want 2m", cfg.Policy.CacheTTL.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Oracle.MinConsensusNodes != 3 {
		t.Fatalf("oracle defaults lost: %+v", cfg.Oracle)
	}
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://db.internal/validator")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  url: ${TEST_DB_URL}
network:
  listen_addr: ${TEST_UNSET_ADDR:-:9999}
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://db.internal/validator" {
		t.Fatalf("env substitution failed: %q", cfg.Database.URL)
	}
	if cfg.Network.ListenAddr != ":9999" {
		t.Fatalf("default substitution failed: %q", cfg.Network.ListenAddr)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("policy:\n  cache_ttl: not-a-duration\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for an unparseable duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}
