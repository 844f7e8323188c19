// Package app assembles the deployment stack shared by fleetd and fleetctl:
// datastore, control plane client, ledger, profiles and the deployer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"livefleet/internal/control"
	"livefleet/internal/deploy"
	"livefleet/internal/foundation"
	"livefleet/internal/ledger"
	"livefleet/internal/observability/logging"
	"livefleet/internal/observability/metrics"
	"livefleet/internal/profiles"
	"livefleet/internal/provision"
	"livefleet/internal/reconcile"
	"livefleet/internal/storage"
	"livefleet/internal/topology"
)

// DefaultDataPath is where the JSON datastore lives when no Postgres DSN is
// configured.
const DefaultDataPath = "data/stacks.json"

// Config gathers everything needed to build an App.
type Config struct {
	PostgresDSN            string
	PostgresMaxConns       int32
	PostgresAcquireTimeout time.Duration
	DataPath               string
	// ProfilesDir, when set, replaces the built-in encoding profiles with
	// the *.yaml templates found in the directory.
	ProfilesDir string
	Concurrency int
	Control     control.Config
	Redis       ledger.RedisConfig
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// LoadConfigFromEnv reads LIVEFLEET_* variables. The control plane settings
// are validated; everything else has a usable default.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		PostgresDSN: strings.TrimSpace(os.Getenv("LIVEFLEET_POSTGRES_DSN")),
		DataPath:    strings.TrimSpace(os.Getenv("LIVEFLEET_DATA")),
		ProfilesDir: strings.TrimSpace(os.Getenv("LIVEFLEET_PROFILES_DIR")),
		Redis:       ledger.LoadRedisConfigFromEnv(),
	}
	if cfg.DataPath == "" {
		cfg.DataPath = DefaultDataPath
	}
	if v := strings.TrimSpace(os.Getenv("LIVEFLEET_POSTGRES_MAX_CONNS")); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("parse LIVEFLEET_POSTGRES_MAX_CONNS: %w", err)
		}
		cfg.PostgresMaxConns = int32(parsed)
	}
	if v := strings.TrimSpace(os.Getenv("LIVEFLEET_POSTGRES_ACQUIRE_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse LIVEFLEET_POSTGRES_ACQUIRE_TIMEOUT: %w", err)
		}
		cfg.PostgresAcquireTimeout = parsed
	}
	if v := strings.TrimSpace(os.Getenv("LIVEFLEET_CONCURRENCY")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse LIVEFLEET_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = parsed
	}
	controlCfg, err := control.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Control = controlCfg
	return cfg, nil
}

// App holds the assembled components. Close releases the datastore and
// ledger connections.
type App struct {
	Repo       storage.Repository
	Control    *control.HTTPClient
	Ledger     ledger.Ledger
	Foundation *foundation.Manager
	Deployer   *deploy.Deployer
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Build connects to every backing service and wires the deployer.
func Build(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := metrics.OrDefault(cfg.Metrics)

	registry, err := loadProfiles(cfg.ProfilesDir)
	if err != nil {
		return nil, err
	}

	if cfg.Control.Logger == nil {
		cfg.Control.Logger = logging.WithComponent(logger, "control")
	}
	client, err := cfg.Control.NewHTTPClient()
	if err != nil {
		return nil, fmt.Errorf("control plane: %w", err)
	}

	var storeOpts []storage.Option
	if cfg.PostgresMaxConns > 0 {
		storeOpts = append(storeOpts, storage.WithPostgresPool(cfg.PostgresMaxConns, -1, 0, 0))
	}
	if cfg.PostgresAcquireTimeout > 0 {
		storeOpts = append(storeOpts, storage.WithPostgresAcquireTimeout(cfg.PostgresAcquireTimeout))
	}
	repo, err := storage.Open(ctx, cfg.PostgresDSN, cfg.DataPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}

	var led ledger.Ledger
	if cfg.Redis.Addr != "" {
		led, err = ledger.NewRedisLedger(ctx, cfg.Redis)
		if err != nil {
			_ = repo.Close(ctx)
			return nil, fmt.Errorf("open ledger: %w", err)
		}
	} else {
		logger.Warn("no redis ledger configured; previously deployed channels are only found through the remote scan")
		led = ledger.NewMemory()
	}

	manager := foundation.NewManager(client, client, repo, logging.WithComponent(logger, "foundation"))
	applier := provision.NewApplier(client, client, repo,
		provision.WithLogger(logging.WithComponent(logger, "applier")),
		provision.WithMetrics(recorder),
	)
	reconcilerOpts := []reconcile.Option{
		reconcile.WithLedger(led),
		reconcile.WithLogger(logging.WithComponent(logger, "reconciler")),
		reconcile.WithMetrics(recorder),
	}
	deployOpts := []deploy.Option{
		deploy.WithLogger(logging.WithComponent(logger, "deployer")),
		deploy.WithMetrics(recorder),
	}
	if cfg.Concurrency > 0 {
		reconcilerOpts = append(reconcilerOpts, reconcile.WithCleanupConcurrency(cfg.Concurrency))
		deployOpts = append(deployOpts, deploy.WithConcurrency(cfg.Concurrency))
	}
	deployer := deploy.New(
		manager,
		topology.NewCompiler(registry, client),
		applier,
		reconcile.New(client, reconcilerOpts...),
		deployOpts...,
	)

	return &App{
		Repo:       repo,
		Control:    client,
		Ledger:     led,
		Foundation: manager,
		Deployer:   deployer,
		Metrics:    recorder,
		Logger:     logger,
	}, nil
}

// Close releases the ledger and datastore.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close datastore: %w", err))
		}
	}
	return errors.Join(errs...)
}

func loadProfiles(dir string) (*profiles.Registry, error) {
	if dir == "" {
		return profiles.Default()
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("profiles directory: %w", err)
	}
	registry, err := profiles.NewRegistry(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("load profiles from %s: %w", dir, err)
	}
	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no profiles found in %s", dir)
	}
	return registry, nil
}
