// Command vaultd is the vault core's composition-root binary. It wires the
// storage backend, Barrier, Seal Manager, and every dependent manager into
// an internal/core.Core and exposes it as a Go API plus process lifecycle —
// no HTTP listener, since transport is explicitly out of scope. Grounded on
// cmd/appserver's flag/config/signal-handling layout.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vaultcore/vault/internal/audit"
	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/core"
	"github.com/vaultcore/vault/internal/hardening"
	"github.com/vaultcore/vault/internal/seal"
	"github.com/vaultcore/vault/internal/secretsengine"
	"github.com/vaultcore/vault/internal/secretsengine/kv"
	"github.com/vaultcore/vault/internal/storage"
	"github.com/vaultcore/vault/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (JSON or YAML)")
	storageBackend := flag.String("storage", "", "storage backend: memory, postgres, or redis (overrides config)")
	storageDSN := flag.String("storage-dsn", "", "storage backend connection string (overrides config/env)")
	auditFile := flag.String("audit-file", "", "path to the audit log file; empty disables the file backend")
	enableTransit := flag.Bool("enable-transit", false, "auto-mount a transit engine at startup")
	leaseScanInterval := flag.String("lease-scan-interval", "", "cron spec for the lease-expiry sweep (overrides config)")
	disableMemoryLock := flag.Bool("disable-memory-lock", false, "skip the mlockall hardening step")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	runMigrations := flag.Bool("migrate", true, "apply embedded schema migrations on startup (postgres only)")
	once := flag.Bool("once", false, "run one scripted init/unseal pass then exit, for integration tests")
	initThreshold := flag.Int("init-threshold", 0, "with -once: Shamir threshold for a fresh Initialize call")
	initShares := flag.Int("init-shares", 0, "with -once: Shamir share count for a fresh Initialize call")
	unsealShares := flag.String("unseal-shares", "", "with -once: comma-separated hex-encoded unseal shares to submit")
	rootTokenOut := flag.String("root-token-out", "", "with -once: file to write the minted root token plaintext to")
	flag.Parse()

	cfg := config.New()
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := loadConfigFile(trimmed)
		if err != nil {
			log.Fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	}

	applyFlagOverrides(cfg, *storageBackend, *storageDSN, *auditFile, *leaseScanInterval, *logLevel, *enableTransit)
	configureLogging(cfg.Vault.LogLevel)

	if err := hardening.DisableCoreDumps(); err != nil {
		logrus.WithError(err).Warn("vaultd: failed to disable core dumps")
	}
	if !cfg.Vault.DisableMemoryLock && !*disableMemoryLock {
		if err := hardening.LockMemory(); err != nil {
			logrus.WithError(err).Warn("vaultd: failed to lock memory pages")
		}
	}

	backend, closeBackend, err := buildStorageBackend(cfg, *runMigrations)
	if err != nil {
		log.Fatalf("build storage backend: %v", err)
	}
	defer closeBackend()

	auditLogger, closeAudit, err := buildAuditLogger(cfg)
	if err != nil {
		log.Fatalf("build audit logger: %v", err)
	}
	defer closeAudit()

	c := core.New(core.Config{
		Backend:         backend,
		EngineFactories: kvOnlyFactories(),
		AuditLogger:     auditLogger,
		LeaseScanSpec:   cfg.Vault.LeaseScanInterval,
	})

	if cfg.Vault.EnableTransit {
		logrus.Warn("vaultd: enable-transit requested but no transit engine is registered; engine payload semantics beyond kv are out of scope for this build")
	}

	ctx := context.Background()

	if *once {
		runOnce(ctx, c, *initThreshold, *initShares, *unsealShares, *rootTokenOut)
		return
	}

	logrus.WithField("bind_address", cfg.Vault.BindAddress).Info("vaultd: core ready (no transport listener — Go API only)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := c.Seal(); err != nil {
		logrus.WithError(err).Warn("vaultd: seal on shutdown")
	} else {
		logrus.Info("vaultd: sealed on shutdown")
	}
}

// kvOnlyFactories registers every engine type this build ships. Additional
// engine types (transit, database, PKI) are payload semantics this build
// deliberately leaves as interfaces only; registering one here is the only
// wiring a future engine package needs.
func kvOnlyFactories() map[string]core.EngineFactory {
	return map[string]core.EngineFactory{
		"kv": func(b *barrier.Barrier, mountPath string) (secretsengine.Engine, error) {
			return kv.New(b, mountPath), nil
		},
	}
}

func runOnce(ctx context.Context, c *core.Core, threshold, shares int, unsealSharesCSV, rootTokenOut string) {
	status := c.Status()

	if !status.Initialized {
		if threshold == 0 || shares == 0 {
			log.Fatal("vaultd -once: vault is uninitialized; pass -init-threshold and -init-shares")
		}
		generated, err := c.Initialize(ctx, threshold, shares)
		if err != nil {
			log.Fatalf("initialize: %v", err)
		}
		for i, s := range generated {
			fmt.Printf("unseal share %d: %s\n", i+1, seal.EncodeShare(s))
		}
		return
	}

	for _, encoded := range splitCSV(unsealSharesCSV) {
		share, err := seal.DecodeShare(encoded)
		if err != nil {
			log.Fatalf("decode unseal share: %v", err)
		}
		unsealed, err := c.Unseal(ctx, share)
		if err != nil {
			log.Fatalf("unseal: %v", err)
		}
		if unsealed {
			break
		}
	}

	if c.Sealed() {
		log.Fatal("vaultd -once: not enough shares submitted to unseal")
	}

	root, err := c.CreateRootToken(ctx)
	if err != nil {
		log.Fatalf("create root token: %v", err)
	}
	if trimmed := strings.TrimSpace(rootTokenOut); trimmed != "" {
		if err := os.WriteFile(trimmed, []byte(root), 0o600); err != nil {
			log.Fatalf("write root token: %v", err)
		}
	} else {
		fmt.Println(root)
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyFlagOverrides(cfg *config.Config, backend, dsn, auditFile, leaseScan, logLevel string, enableTransit bool) {
	if trimmed := strings.TrimSpace(backend); trimmed != "" {
		cfg.Vault.StorageBackend = trimmed
	}
	if trimmed := strings.TrimSpace(dsn); trimmed != "" {
		cfg.Vault.StorageDSN = trimmed
	}
	if trimmed := strings.TrimSpace(auditFile); trimmed != "" {
		cfg.Vault.AuditFilePath = trimmed
	}
	if trimmed := strings.TrimSpace(leaseScan); trimmed != "" {
		cfg.Vault.LeaseScanInterval = trimmed
	}
	if trimmed := strings.TrimSpace(logLevel); trimmed != "" {
		cfg.Vault.LogLevel = trimmed
	}
	if enableTransit {
		cfg.Vault.EnableTransit = true
	}
}

func configureLogging(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

func loadConfigFile(path string) (*config.Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.LoadFile(path)
	case ".json":
		return config.LoadConfig(path)
	default:
		if cfg, err := config.LoadFile(path); err == nil {
			return cfg, nil
		}
		return config.LoadConfig(path)
	}
}

func buildStorageBackend(cfg *config.Config, runMigrations bool) (storage.Backend, func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.Vault.StorageBackend)) {
	case "", "memory":
		return storage.NewMemory(), noop, nil

	case "postgres":
		dsn := strings.TrimSpace(cfg.Vault.StorageDSN)
		if dsn == "" {
			return nil, noop, fmt.Errorf("storage backend postgres requires a DSN")
		}
		sqlxDB, err := sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to postgres: %w", err)
		}
		if runMigrations {
			if err := storage.MigratePostgres(sqlDBFromSqlx(sqlxDB)); err != nil {
				sqlxDB.Close()
				return nil, noop, fmt.Errorf("apply migrations: %w", err)
			}
		}
		return storage.NewPostgres(sqlxDB), func() { sqlxDB.Close() }, nil

	case "redis":
		opts, err := redis.ParseURL(strings.TrimSpace(cfg.Vault.StorageDSN))
		if err != nil {
			return nil, noop, fmt.Errorf("parse redis DSN: %w", err)
		}
		client := redis.NewClient(opts)
		return storage.NewRedis(client), func() { client.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Vault.StorageBackend)
	}
}

func sqlDBFromSqlx(db *sqlx.DB) *sql.DB { return db.DB }

func buildAuditLogger(cfg *config.Config) (*audit.Logger, func(), error) {
	noop := func() {}

	path := strings.TrimSpace(cfg.Vault.AuditFilePath)
	if path == "" {
		return audit.New(nil, nil, nil, audit.NewMetrics(prometheus.DefaultRegisterer)), noop, nil
	}

	backend, err := audit.NewFileBackend(path)
	if err != nil {
		return nil, noop, fmt.Errorf("open audit file: %w", err)
	}

	hmacKey := []byte(strings.TrimSpace(cfg.Security.SecretEncryptionKey))
	if len(hmacKey) == 0 {
		hmacKey = []byte("vaultd-default-audit-hmac-key")
		logrus.Warn("vaultd: security.secret_encryption_key unset; using a non-secret default HMAC key for audit redaction")
	}

	sensitivePaths := []string{"$.password", "$.secret_id", "$.value", "$.token"}
	metrics := audit.NewMetrics(prometheus.DefaultRegisterer)
	logger := audit.New([]audit.Backend{backend}, hmacKey, sensitivePaths, metrics)

	return logger, func() { backend.Close() }, nil
}
