package reconcile

import (
	"log/slog"

	"livefleet/internal/control"
	"livefleet/internal/ledger"
	"livefleet/internal/observability/logging"
	"livefleet/internal/observability/metrics"
)

// DefaultCleanupConcurrency bounds how many channel subtrees are deleted at
// once.
const DefaultCleanupConcurrency = 4

// Reconciler applies start, stop and cleanup actions through a control
// client.
type Reconciler struct {
	client      control.Client
	ledger      ledger.Ledger
	logger      *slog.Logger
	metrics     *metrics.Recorder
	concurrency int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLedger records deployed channels between cleanup passes.
func WithLedger(l ledger.Ledger) Option {
	return func(r *Reconciler) { r.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logging.WithComponent(logger, "reconciler")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(r *Reconciler) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// WithCleanupConcurrency bounds parallel channel deletions. Values below one
// are ignored.
func WithCleanupConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New builds a Reconciler around client.
func New(client control.Client, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:      client,
		logger:      logging.WithComponent(nil, "reconciler"),
		metrics:     metrics.Default(),
		concurrency: DefaultCleanupConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}
