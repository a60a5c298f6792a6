package auditstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/coreledger/validator-core/pkg/errs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config bounds a Store's connection pool.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the audit trail store's connection-pooled Postgres client.
// Writes are serialized by Postgres's own row locking; reads are
// concurrent.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open establishes the connection pool and verifies connectivity. A
// failure here is fatal: an unreachable database propagates to the
// caller and stops the affected service.
func Open(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errs.New(errs.KindConfiguration, "auditstore.Open", "database URL cannot be empty")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "auditstore.Open", "failed to open database", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "auditstore.Open", "database unreachable", err)
	}

	return &Store{db: db, logger: log.New(log.Writer(), "[AuditStore] ", log.LstdFlags)}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for callers that need direct access
// (migrations, transactions).
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies every embedded migration not yet recorded, in filename
// order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return errs.Wrap(errs.KindConfiguration, "auditstore.Migrate", "failed to create schema_migrations table", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "auditstore.Migrate", "failed to read applied migrations", err)
	}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return errs.Wrap(errs.KindConfiguration, "auditstore.Migrate", "failed to scan applied migration", err)
		}
		applied[f] = true
	}
	rows.Close()

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "auditstore.Migrate", "failed to list migrations", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if applied[name] {
			continue
		}
		data, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return errs.Wrap(errs.KindConfiguration, "auditstore.Migrate", fmt.Sprintf("failed to read migration %s", name), err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return errs.Wrap(errs.KindConfiguration, "auditstore.Migrate", fmt.Sprintf("failed to apply migration %s", name), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, $2)`, name, time.Now()); err != nil {
			return errs.Wrap(errs.KindConfiguration, "auditstore.Migrate", fmt.Sprintf("failed to record migration %s", name), err)
		}
		s.logger.Printf("applied migration %s", name)
	}
	return nil
}

// PutReceipt inserts or replaces a TxReceipt and its EventLogs in a
// single transaction, serializing concurrent writes at the database
// level.
func (s *Store) PutReceipt(ctx context.Context, r TxReceipt, logs []EventLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "auditstore.PutReceipt", "begin tx failed", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (tx_hash, block_hash, block_height, tx_index, from_address, to_address,
			contract_address, status, gas_limit, gas_used, gas_price, gas_fee, timestamp, receipt_data, logs_bloom)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (tx_hash) DO UPDATE SET
			block_hash=EXCLUDED.block_hash, block_height=EXCLUDED.block_height, tx_index=EXCLUDED.tx_index,
			from_address=EXCLUDED.from_address, to_address=EXCLUDED.to_address, contract_address=EXCLUDED.contract_address,
			status=EXCLUDED.status, gas_limit=EXCLUDED.gas_limit, gas_used=EXCLUDED.gas_used, gas_price=EXCLUDED.gas_price,
			gas_fee=EXCLUDED.gas_fee, timestamp=EXCLUDED.timestamp, receipt_data=EXCLUDED.receipt_data, logs_bloom=EXCLUDED.logs_bloom`,
		r.TxHash, r.BlockHash, r.BlockHeight, r.TxIndex, r.FromAddress, nullableString(r.ToAddress),
		nullableString(r.ContractAddress), r.Status, r.GasLimit, r.GasUsed, r.GasPrice, r.GasFee, r.Timestamp,
		r.ReceiptData, r.LogsBloom[:])
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "auditstore.PutReceipt", "insert receipt failed", err)
	}

	for _, l := range logs {
		topicsJSON := topicsToJSON(l.Topics)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_logs (tx_hash, address, topics, data, log_index)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (tx_hash, log_index) DO UPDATE SET address=EXCLUDED.address, topics=EXCLUDED.topics, data=EXCLUDED.data`,
			l.TxHash, l.Address, topicsJSON, l.Data, l.LogIndex)
		if err != nil {
			return errs.Wrap(errs.KindConfiguration, "auditstore.PutReceipt", "insert event log failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindConfiguration, "auditstore.PutReceipt", "commit failed", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
