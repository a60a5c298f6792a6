// Command validatord runs a single consensus validator node: header
// pipeline, policy engine, receipt pipeline, dual-origin audit, RSDA
// availability prover, oracle/consensus bridge, Nakamoto monitor, audit
// trail store, and content store, wired together per a loaded Config.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreledger/validator-core/pkg/auditstore"
	"github.com/coreledger/validator-core/pkg/biso"
	"github.com/coreledger/validator-core/pkg/config"
	"github.com/coreledger/validator-core/pkg/contentstore"
	"github.com/coreledger/validator-core/pkg/crypto/bls"
	"github.com/coreledger/validator-core/pkg/dualaudit"
	"github.com/coreledger/validator-core/pkg/headerpipeline"
	"github.com/coreledger/validator-core/pkg/nakamoto"
	"github.com/coreledger/validator-core/pkg/oracle"
	"github.com/coreledger/validator-core/pkg/receipt"
	"github.com/coreledger/validator-core/pkg/rsda"
	"github.com/coreledger/validator-core/pkg/validatorset"
)

// healthStatus tracks per-component status for the /health endpoint,
// set once per component during startup.
type healthStatus struct {
	mu         sync.RWMutex
	database   string
	oracleNet  string
	rsdaProver string
	startedAt  time.Time
}

func newHealthStatus() *healthStatus {
	return &healthStatus{database: "unknown", oracleNet: "unknown", rsdaProver: "unknown", startedAt: time.Now()}
}

func (h *healthStatus) set(field *string, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*field = value
}

func (h *healthStatus) snapshot() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]string{
		"database":    h.database,
		"oracle_net":  h.oracleNet,
		"rsda_prover": h.rsdaProver,
		"uptime":      time.Since(h.startedAt).String(),
	}
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configPath  = flag.String("config", "", "path to YAML config file (defaults to built-in production defaults)")
		validatorID = flag.String("validator-id", "devnet-validator-0", "validator identity, used to derive a stable BLS key when -bls-key-path is unset or absent")
		blsKeyPath  = flag.String("bls-key-path", "", "path to a persisted BLS private key (hex-encoded); generated deterministically from -validator-id if missing")
		showHelp    = flag.Bool("help", false, "show help message")
	)
	flag.Parse()
	if *showHelp {
		fmt.Println("validatord runs a single consensus validator node.")
		fmt.Println("Usage: validatord [-config path/to/config.yaml]")
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load configuration from %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	health := newHealthStatus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("[validatord] starting, environment=%s version=%s", cfg.Environment, cfg.Version)

	validators := validatorset.NewSet(cfg.Consensus.VRFEnabled)
	blsKeys, err := bls.InitializeValidatorBLSKey(*validatorID, cfg.Environment, *blsKeyPath)
	if err != nil {
		log.Fatalf("failed to load or generate BLS key for %s: %v", *validatorID, err)
	}
	blsKey := blsKeys.GetPrivateKey()
	roundTimeout := time.Duration(cfg.Consensus.RoundTimeoutMS) * time.Millisecond
	blockTime := time.Duration(cfg.Consensus.BlockTimeMS) * time.Millisecond
	pipeline := headerpipeline.NewPipeline(validators, roundTimeout, cfg.Consensus.MaxConcurrentRounds, blsKey)

	// Register this node as validator 0 and start producing. In a
	// multi-node deployment the rest of the set arrives via oracle
	// discovery announcements; a fresh devnet runs single-validator.
	vrfPub, vrfPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		log.Fatalf("failed to generate VRF key: %v", err)
	}
	self := &validatorset.Info{
		Index:     0,
		BLSPubkey: blsKeys.GetPublicKeyBytes(),
		VRFPubkey: vrfPub,
		Stake:     100,
		Address:   *validatorID,
		Metadata:  validatorset.Metadata{Status: validatorset.StatusActive, RegisteredAt: time.Now(), LastActive: time.Now()},
	}
	if err := validators.Register(self); err != nil {
		log.Fatalf("failed to register local validator: %v", err)
	}
	vrfKeys := map[uint32]ed25519.PrivateKey{0: vrfPriv}
	producer := headerpipeline.NewProducer(pipeline, blockTime, 0, vrfKeys, [32]byte{}, 0,
		log.New(log.Writer(), "[Producer] ", log.LstdFlags))
	producer.Start()

	policyEngine := biso.NewEngine(cfg.Policy.CacheTTL.Std())
	receiptGen := receipt.NewGenerator(blockTime, log.New(log.Writer(), "[Receipt] ", log.LstdFlags))
	auditor := dualaudit.NewAuditor(true, "validatord", log.New(log.Writer(), "[DualAudit] ", log.LstdFlags))

	rsdaParams := rsda.Params{MaxDegree: cfg.RSDA.MaxDegree, DataShards: cfg.RSDA.DataShards, ParityShards: cfg.RSDA.ParityShards}
	prover, err := rsda.NewProver()
	if err != nil {
		health.set(&health.rsdaProver, "unavailable")
		log.Printf("WARNING: RSDA prover unavailable, availability attestation disabled: %v", err)
	} else {
		health.set(&health.rsdaProver, "ready")
	}

	registry := oracle.NewRegistry()
	bridge := oracle.NewBridge(registry, cfg.Oracle.MinConsensusNodes)
	networkTimeout := time.Duration(cfg.Oracle.NetworkTimeoutMS) * time.Millisecond
	healthMonitor := oracle.NewHealthMonitor(registry, httpProber{timeout: networkTimeout}, oracle.HealthMonitorConfig{
		CheckInterval:  cfg.Oracle.AnnouncementMaxAge.Std() / 5,
		RequestTimeout: networkTimeout,
	})
	healthMonitor.Start()
	health.set(&health.oracleNet, "running")

	nakamotoReg := prometheus.NewRegistry()
	nakamotoMonitor := nakamoto.NewMonitor(nakamoto.Config{
		WarningThreshold:  cfg.Nakamoto.WarningThreshold,
		CriticalThreshold: cfg.Nakamoto.CriticalThreshold,
		TrendThreshold:    cfg.Nakamoto.TrendThreshold,
		RetentionWindow:   cfg.Nakamoto.RetentionWindow,
	}, nakamotoReg)

	providers := make([]contentstore.Provider, 0, len(cfg.Content.Providers))
	for _, name := range cfg.Content.Providers {
		providers = append(providers, contentstore.NewMemoryProvider(name, "default"))
	}
	if len(providers) == 0 {
		providers = append(providers, contentstore.NewMemoryProvider("local", "default"))
	}
	contentStore := contentstore.NewStore(providers...)

	var store *auditstore.Store
	if cfg.Database.URL != "" {
		store, err = auditstore.Open(auditstore.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Std(),
		})
		if err != nil {
			log.Fatalf("database unreachable: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate audit trail store: %v", err)
		}
		health.set(&health.database, "connected")
		defer store.Close()
	} else {
		health.set(&health.database, "disabled")
		log.Printf("WARNING: no database URL configured, audit trail store disabled")
	}

	srv := &node{
		pipeline:   pipeline,
		policy:     policyEngine,
		receipts:   receiptGen,
		audit:      auditor,
		rsdaParams: rsdaParams,
		prover:     prover,
		bridge:     bridge,
		nakamoto:   nakamotoMonitor,
		content:    contentStore,
		store:      store,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(nakamotoReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health.snapshot())
	})
	mux.HandleFunc("/status", srv.statusHandler)

	httpServer := &http.Server{Addr: cfg.Network.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[validatord] HTTP API listening on %s", cfg.Network.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Shutdown sequence: stop the producer and the health monitor, expire
	// oracle rounds whose voting deadline has already passed, then shut
	// the HTTP server down. Oracle rounds still inside their deadline and
	// in-flight header-pipeline rounds are not moved to a terminal state.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("[validatord] shutdown signal received, draining...")
	cancel()
	producer.Stop()
	healthMonitor.Stop()

	expired := bridge.ExpireOverdue(time.Now())
	if len(expired) > 0 {
		log.Printf("[validatord] expired %d active oracle rounds at shutdown", len(expired))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("[validatord] stopped")
}

// node bundles the wired services so future HTTP handlers and
// background loops can share them without a sprawl of globals.
type node struct {
	pipeline   *headerpipeline.Pipeline
	policy     *biso.Engine
	receipts   *receipt.Generator
	audit      *dualaudit.Auditor
	rsdaParams rsda.Params
	prover     *rsda.Prover
	bridge     *oracle.Bridge
	nakamoto   *nakamoto.Monitor
	content    *contentstore.Store
	store      *auditstore.Store
}

// statusHandler reports a lightweight snapshot of each wired service,
// distinct from /health: content-store object counts, completed oracle
// rounds, and the number of retained Nakamoto samples.
func (n *node) statusHandler(w http.ResponseWriter, r *http.Request) {
	stats := n.content.Stats()
	fmt.Fprintf(w, "blocks_produced=%d blocks_per_minute=%.1f content_objects=%d content_bytes=%d oracle_completed_rounds=%d nakamoto_samples=%d\n",
		n.pipeline.Metrics.Produced(), n.pipeline.Metrics.BlocksPerMinute(),
		stats.ObjectCount, stats.TotalBytes, len(n.bridge.CompletedRounds()), len(n.nakamoto.History()))
}

// httpProber implements oracle.Prober over plain HTTP GET, a thin
// adapter around a stdlib client.
type httpProber struct {
	timeout time.Duration
	client  http.Client
}

func (p httpProber) Probe(ctx context.Context, endpoint string) (int64, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	client := p.client
	if client.Timeout == 0 {
		client.Timeout = p.timeout
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return time.Since(start).Milliseconds(), nil
}
