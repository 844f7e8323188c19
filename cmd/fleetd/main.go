// Command fleetd serves the fleet admin API and, optionally, reconciles the
// fleet file on a fixed interval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"livefleet/internal/api"
	"livefleet/internal/app"
	"livefleet/internal/fleet"
	"livefleet/internal/observability/logging"
	"livefleet/internal/serverutil"
)

type options struct {
	addr              string
	fleetPath         string
	adminToken        string
	reconcileInterval time.Duration
	dataPath          string
	postgresDSN       string
	logLevel          string
	logFormat         string
	envFile           string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("fleetd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.addr, "addr", "", "HTTP listen address (env LIVEFLEET_ADDR, default :8080)")
	fs.StringVar(&opts.fleetPath, "fleet", "", "path to the fleet YAML file (env LIVEFLEET_FLEET_FILE)")
	fs.StringVar(&opts.adminToken, "admin-token", "", "bearer token required on /v1 routes (env LIVEFLEET_ADMIN_TOKEN)")
	fs.DurationVar(&opts.reconcileInterval, "reconcile-interval", 0, "interval between periodic deploy passes, 0 disables (env LIVEFLEET_RECONCILE_INTERVAL)")
	fs.StringVar(&opts.dataPath, "data", "", "path to the JSON datastore (env LIVEFLEET_DATA)")
	fs.StringVar(&opts.postgresDSN, "postgres-dsn", "", "Postgres connection string (env LIVEFLEET_POSTGRES_DSN)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", "", "log format (json or text)")
	fs.StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// resolve fills unset options from the environment. Flags win.
func (o *options) resolve() error {
	o.addr = firstNonEmpty(o.addr, os.Getenv("LIVEFLEET_ADDR"), ":8080")
	o.fleetPath = firstNonEmpty(o.fleetPath, os.Getenv("LIVEFLEET_FLEET_FILE"))
	o.adminToken = firstNonEmpty(o.adminToken, os.Getenv("LIVEFLEET_ADMIN_TOKEN"))
	if o.reconcileInterval == 0 {
		if v := strings.TrimSpace(os.Getenv("LIVEFLEET_RECONCILE_INTERVAL")); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse LIVEFLEET_RECONCILE_INTERVAL: %w", err)
			}
			o.reconcileInterval = parsed
		}
	}
	if o.reconcileInterval < 0 {
		return errors.New("reconcile interval cannot be negative")
	}
	if o.reconcileInterval > 0 && o.fleetPath == "" {
		return errors.New("periodic reconcile requires a fleet file")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// loadDotEnv loads path when it exists. Variables already set in the
// environment are left alone.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func fleetLoader(path string) api.FleetLoader {
	if path == "" {
		return nil
	}
	return func() (fleet.Fleet, error) {
		return fleet.LoadFile(path)
	}
}

func run(ctx context.Context, opts options, onListen func(net.Addr)) error {
	if err := loadDotEnv(opts.envFile); err != nil {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}
	if err := opts.resolve(); err != nil {
		return err
	}

	logCfg := logging.LoadConfigFromEnv()
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		logCfg.Format = opts.logFormat
	}
	logger := logging.Init(logCfg)

	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if opts.dataPath != "" {
		cfg.DataPath = opts.dataPath
	}
	if opts.postgresDSN != "" {
		cfg.PostgresDSN = opts.postgresDSN
	}
	cfg.Logger = logger

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}()

	if opts.adminToken == "" {
		logger.Warn("admin token not set; /v1 routes are unauthenticated")
	}
	load := fleetLoader(opts.fleetPath)
	router := api.NewRouter(&api.Handler{
		Deployer: a.Deployer,
		Fleet:    load,
		Store:    a.Repo,
		Control:  a.Control,
		Metrics:  a.Metrics,
		Logger:   logging.WithComponent(logger, "api"),
		Token:    opts.adminToken,
	})

	stopWorker := startReconcileWorker(ctx, logging.WithComponent(logger, "reconcile-worker"), a.Deployer, load, opts.reconcileInterval)
	defer stopWorker()

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serverutil.Run(ctx, serverutil.Config{
		Server:   srv,
		TLS:      serverutil.LoadTLSConfigFromEnv(),
		OnListen: onListen,
		Logger:   logger,
	})
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, nil); err != nil {
		slog.Error("fleetd stopped", "error", err)
		os.Exit(1)
	}
}
