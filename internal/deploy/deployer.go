// Package deploy runs a full fleet pass: ensure the foundation, compile and
// apply every channel in parallel, start what the channel asks for, then
// clean up channels that are no longer declared.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"livefleet/internal/fleet"
	"livefleet/internal/foundation"
	"livefleet/internal/observability/logging"
	"livefleet/internal/observability/metrics"
	"livefleet/internal/provision"
	"livefleet/internal/reconcile"
	"livefleet/internal/topology"
)

// DefaultConcurrency bounds how many channels are compiled and applied at
// once.
const DefaultConcurrency = 4

// Stage names the step a channel stopped at.
type Stage string

const (
	StageCompile Stage = "compile"
	StageApply   Stage = "apply"
	StageStart   Stage = "start"
	StageDone    Stage = "done"
)

// ChannelResult is the outcome of deploying one channel.
type ChannelResult struct {
	Channel  string                 `json:"channel"`
	Stage    Stage                  `json:"stage"`
	Error    string                 `json:"error,omitempty"`
	Err      error                  `json:"-"`
	Apply    *provision.Result      `json:"apply,omitempty"`
	Starts   []reconcile.Report     `json:"starts,omitempty"`
	Playback []topology.PlaybackURL `json:"playback,omitempty"`
}

// Failed reports whether the channel did not reach StageDone.
func (r ChannelResult) Failed() bool {
	return r.Err != nil
}

// Result is the outcome of a fleet pass.
type Result struct {
	Channels   []ChannelResult          `json:"channels"`
	Cleanup    *reconcile.CleanupReport `json:"cleanup,omitempty"`
	CleanupErr string                   `json:"cleanupError,omitempty"`
}

// Failed returns the names of channels that did not deploy.
func (r Result) Failed() []string {
	var names []string
	for _, ch := range r.Channels {
		if ch.Failed() {
			names = append(names, ch.Channel)
		}
	}
	return names
}

// Options tune a single Deploy call.
type Options struct {
	// SkipCleanup leaves undeclared channels in place.
	SkipCleanup bool
	// Only restricts the pass to the named channels. Cleanup is skipped
	// when set.
	Only []string
}

// Foundation is the part of foundation.Manager a deployer needs.
type Foundation interface {
	Ensure(ctx context.Context, settings fleet.FoundationSettings) (*foundation.Shared, error)
	Load(ctx context.Context, settings fleet.FoundationSettings) (*foundation.Shared, error)
}

// Deployer wires the compile, apply and reconcile stages together.
type Deployer struct {
	foundation  Foundation
	compiler    *topology.Compiler
	applier     *provision.Applier
	reconciler  *reconcile.Reconciler
	logger      *slog.Logger
	metrics     *metrics.Recorder
	concurrency int

	// mu serialises fleet-level operations so two calls never reconcile
	// the same channel at once.
	mu sync.Mutex
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) {
		if logger != nil {
			d.logger = logging.WithComponent(logger, "deploy")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(d *Deployer) {
		if recorder != nil {
			d.metrics = recorder
		}
	}
}

// WithConcurrency bounds parallel channel deployments.
func WithConcurrency(n int) Option {
	return func(d *Deployer) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// New builds a Deployer.
func New(f Foundation, compiler *topology.Compiler, applier *provision.Applier, reconciler *reconcile.Reconciler, opts ...Option) *Deployer {
	d := &Deployer{
		foundation:  f,
		compiler:    compiler,
		applier:     applier,
		reconciler:  reconciler,
		logger:      logging.WithComponent(nil, "deploy"),
		metrics:     metrics.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy runs one pass over the fleet. A failing channel never blocks the
// others; per-channel failures are reported in Result. The returned error is
// set only when the pass could not start: invalid fleet or a foundation that
// could not be ensured.
func (d *Deployer) Deploy(ctx context.Context, f fleet.Fleet, opts Options) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	channels := f.Channels
	if len(opts.Only) > 0 {
		selected := make([]fleet.ChannelConfig, 0, len(opts.Only))
		for _, name := range opts.Only {
			cfg, ok := f.Channel(name)
			if !ok {
				return Result{}, fmt.Errorf("%w: %s", ErrChannelNotDeclared, name)
			}
			selected = append(selected, cfg)
		}
		channels = selected
		opts.SkipCleanup = true
	}

	shared, err := d.foundation.Ensure(ctx, f.Foundation)
	if err != nil {
		return Result{}, fmt.Errorf("ensure foundation: %w", err)
	}

	result := Result{Channels: make([]ChannelResult, len(channels))}
	var group errgroup.Group
	group.SetLimit(d.concurrency)
	for i, cfg := range channels {
		i, cfg := i, cfg
		group.Go(func() error {
			result.Channels[i] = d.deployChannel(ctx, cfg, shared)
			return nil
		})
	}
	_ = group.Wait()

	if !opts.SkipCleanup {
		report, err := d.cleanup(ctx, f)
		if err != nil {
			result.CleanupErr = err.Error()
			d.logger.Error("cleanup failed", "error", err)
		} else {
			result.Cleanup = &report
		}
	}
	return result, nil
}

func (d *Deployer) deployChannel(ctx context.Context, cfg fleet.ChannelConfig, shared *foundation.Shared) ChannelResult {
	ctx = logging.ContextWithChannel(ctx, cfg.Name)
	logger := logging.WithContext(ctx, d.logger)
	result := ChannelResult{Channel: cfg.Name, Stage: StageCompile}
	fail := func(err error) ChannelResult {
		result.Err = err
		result.Error = err.Error()
		logger.Error("channel deploy failed", "stage", result.Stage, "error", err)
		return result
	}

	top, err := d.compiler.Compile(ctx, cfg, shared)
	if err != nil {
		d.metrics.ObserveCompile(compileResult(err))
		return fail(err)
	}
	d.metrics.ObserveCompile("ok")
	result.Playback = top.Playback

	result.Stage = StageApply
	applied, err := d.applier.Apply(ctx, top)
	if err != nil {
		return fail(err)
	}
	result.Apply = &applied

	result.Stage = StageStart
	var startErrs []error
	if top.AutoStart.Flows {
		report := d.reconciler.ReconcileStartStop(ctx, cfg.Name, applied.IDs(fleet.KindIngestFlow), reconcile.Start)
		result.Starts = append(result.Starts, report)
		startErrs = append(startErrs, report.Err())
	}
	if top.AutoStart.Channel {
		report := d.reconciler.ReconcileStartStop(ctx, cfg.Name, applied.IDs(fleet.KindTranscodeChannel), reconcile.Start)
		result.Starts = append(result.Starts, report)
		startErrs = append(startErrs, report.Err())
	}
	if err := errors.Join(startErrs...); err != nil {
		return fail(err)
	}

	result.Stage = StageDone
	logger.Info("channel deployed", "resources", len(applied.Resources), "pruned", len(applied.Pruned))
	return result
}

func compileResult(err error) string {
	switch {
	case fleet.IsConfigurationError(err):
		return "configuration_error"
	case fleet.IsReferenceNotFound(err):
		return "reference_not_found"
	default:
		return "error"
	}
}
