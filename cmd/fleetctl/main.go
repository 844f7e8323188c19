// Command fleetctl compiles, deploys and operates a channel fleet from the
// command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"livefleet/internal/app"
	"livefleet/internal/deploy"
	"livefleet/internal/fleet"
	"livefleet/internal/observability/logging"
	"livefleet/internal/reconcile"
)

const (
	exitOK      = 0
	exitError   = 1
	exitUsage   = 2
	exitPartial = 3
)

const usage = `usage: fleetctl [flags] <command> [args]

commands:
  compile <channel>                      print the compiled topology of a declared channel
  deploy [-only CH01,CH02] [-skip-cleanup] deploy the fleet file and clean up undeclared channels
  cleanup                                remove channels the fleet file no longer declares
  start <channel> [-scope all|flows|channel]
  stop <channel> [-scope all|flows|channel]
  decommission                           delete the shared foundation once no channel remains

flags:
`

type globalFlags struct {
	fleetPath   string
	dataPath    string
	postgresDSN string
	envFile     string
	logLevel    string
}

type cli struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fleetctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	var g globalFlags
	fs.StringVar(&g.fleetPath, "fleet", "", "path to the fleet YAML file (env LIVEFLEET_FLEET_FILE, default fleet.yaml)")
	fs.StringVar(&g.dataPath, "data", "", "path to the JSON datastore (env LIVEFLEET_DATA)")
	fs.StringVar(&g.postgresDSN, "postgres-dsn", "", "Postgres connection string (env LIVEFLEET_POSTGRES_DSN)")
	fs.StringVar(&g.envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	fs.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitUsage
	}

	if g.envFile != "" {
		if _, err := os.Stat(g.envFile); err == nil {
			if err := godotenv.Load(g.envFile); err != nil {
				fmt.Fprintf(stderr, "load %s: %v\n", g.envFile, err)
				return exitError
			}
		}
	}
	g.fleetPath = firstNonEmpty(g.fleetPath, os.Getenv("LIVEFLEET_FLEET_FILE"), "fleet.yaml")

	c := &cli{
		flags:  g,
		stdout: stdout,
		stderr: stderr,
		logger: logging.New(logging.Config{
			Level:  firstNonEmpty(g.logLevel, os.Getenv("LIVEFLEET_LOG_LEVEL"), "warn"),
			Format: string(logging.FormatText),
			Writer: stderr,
		}),
	}

	command, cmdArgs := rest[0], rest[1:]
	var handler func(context.Context, *app.App, []string) (int, error)
	switch command {
	case "compile":
		handler = c.compile
	case "deploy":
		handler = c.deploy
	case "cleanup":
		handler = c.cleanup
	case "start":
		handler = func(ctx context.Context, a *app.App, args []string) (int, error) {
			return c.runState(ctx, a, reconcile.Start, args)
		}
	case "stop":
		handler = func(ctx context.Context, a *app.App, args []string) (int, error) {
			return c.runState(ctx, a, reconcile.Stop, args)
		}
	case "decommission":
		handler = c.decommission
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		fs.Usage()
		return exitUsage
	}

	a, err := c.build(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "fleetctl: %v\n", err)
		return exitError
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			c.logger.Warn("close failed", "error", err)
		}
	}()

	code, err := handler(ctx, a, cmdArgs)
	if err != nil {
		fmt.Fprintf(stderr, "fleetctl %s: %v\n", command, err)
	}
	return code
}

func (c *cli) build(ctx context.Context) (*app.App, error) {
	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if c.flags.dataPath != "" {
		cfg.DataPath = c.flags.dataPath
	}
	if c.flags.postgresDSN != "" {
		cfg.PostgresDSN = c.flags.postgresDSN
	}
	cfg.Logger = c.logger
	return app.Build(ctx, cfg)
}

func (c *cli) loadFleet() (fleet.Fleet, error) {
	return fleet.LoadFile(c.flags.fleetPath)
}

func (c *cli) compile(ctx context.Context, a *app.App, args []string) (int, error) {
	fs := c.subcommand("compile")
	channel, err := parseWithChannel(fs, args)
	if err != nil {
		return exitUsage, err
	}
	f, err := c.loadFleet()
	if err != nil {
		return exitError, err
	}
	top, err := a.Deployer.Preview(ctx, f, channel)
	if err != nil {
		return exitError, err
	}
	return exitOK, c.print(top)
}

func (c *cli) deploy(ctx context.Context, a *app.App, args []string) (int, error) {
	fs := c.subcommand("deploy")
	only := fs.String("only", "", "comma separated channels to deploy; cleanup is skipped")
	skipCleanup := fs.Bool("skip-cleanup", false, "leave undeclared channels in place")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	f, err := c.loadFleet()
	if err != nil {
		return exitError, err
	}
	result, err := a.Deployer.Deploy(ctx, f, deploy.Options{Only: splitList(*only), SkipCleanup: *skipCleanup})
	if err != nil {
		return exitError, err
	}
	if err := c.print(result); err != nil {
		return exitError, err
	}
	if failed := result.Failed(); len(failed) > 0 {
		return exitPartial, fmt.Errorf("channels failed: %s", strings.Join(failed, ", "))
	}
	if result.CleanupErr != "" {
		return exitPartial, errors.New(result.CleanupErr)
	}
	if result.Cleanup != nil {
		if failure := result.Cleanup.Failure(); failure != nil {
			return exitPartial, failure
		}
	}
	return exitOK, nil
}

func (c *cli) cleanup(ctx context.Context, a *app.App, args []string) (int, error) {
	fs := c.subcommand("cleanup")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	f, err := c.loadFleet()
	if err != nil {
		return exitError, err
	}
	report, err := a.Deployer.Cleanup(ctx, f)
	if err != nil {
		return exitError, err
	}
	if err := c.print(report); err != nil {
		return exitError, err
	}
	if failure := report.Failure(); failure != nil {
		return exitPartial, failure
	}
	return exitOK, nil
}

func (c *cli) runState(ctx context.Context, a *app.App, desired reconcile.RunState, args []string) (int, error) {
	fs := c.subcommand(string(desired))
	scopeFlag := fs.String("scope", "all", "resources to address: all, flows or channel")
	channel, err := parseWithChannel(fs, args)
	if err != nil {
		return exitUsage, err
	}
	scope, err := deploy.ParseScope(*scopeFlag)
	if err != nil {
		return exitUsage, err
	}
	reports, err := a.Deployer.SetRunState(ctx, channel, desired, scope)
	if err != nil {
		return exitError, err
	}
	if err := c.print(reports); err != nil {
		return exitError, err
	}
	var errs []error
	for _, report := range reports {
		if err := report.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return exitPartial, errors.Join(errs...)
	}
	return exitOK, nil
}

func (c *cli) decommission(ctx context.Context, a *app.App, args []string) (int, error) {
	fs := c.subcommand("decommission")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if err := a.Foundation.Decommission(ctx); err != nil {
		return exitError, err
	}
	fmt.Fprintln(c.stdout, "foundation decommissioned")
	return exitOK, nil
}

func (c *cli) subcommand(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) print(v any) error {
	encoder := json.NewEncoder(c.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// parseWithChannel accepts the channel name before or after the flags.
func parseWithChannel(fs *flag.FlagSet, args []string) (string, error) {
	var channel string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		channel, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if channel == "" && fs.NArg() > 0 {
		channel = fs.Arg(0)
	}
	if channel == "" {
		return "", fmt.Errorf("%s requires a channel name", fs.Name())
	}
	return channel, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
