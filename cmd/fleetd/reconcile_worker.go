package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"livefleet/internal/deploy"
	"livefleet/internal/fleet"
)

type fleetDeployer interface {
	Deploy(ctx context.Context, f fleet.Fleet, opts deploy.Options) (deploy.Result, error)
}

type reconcileTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) reconcileTicker

func startReconcileWorker(ctx context.Context, logger *slog.Logger, deployer fleetDeployer, load func() (fleet.Fleet, error), interval time.Duration) func() {
	return startReconcileWorkerWithTicker(ctx, logger, deployer, load, interval, func(d time.Duration) reconcileTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

// startReconcileWorkerWithTicker runs a full deploy pass on every tick. The
// returned stop function cancels the worker and waits for the pass in
// flight to return.
func startReconcileWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	deployer fleetDeployer,
	load func() (fleet.Fleet, error),
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if deployer == nil || load == nil || interval <= 0 {
		return func() {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				reconcileOnce(workerCtx, logger, deployer, load)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func reconcileOnce(ctx context.Context, logger *slog.Logger, deployer fleetDeployer, load func() (fleet.Fleet, error)) {
	f, err := load()
	if err != nil {
		logger.Error("periodic reconcile skipped: fleet file unusable", "error", err)
		return
	}
	result, err := deployer.Deploy(ctx, f, deploy.Options{})
	if err != nil {
		logger.Error("periodic reconcile failed", "error", err)
		return
	}
	if failed := result.Failed(); len(failed) > 0 {
		logger.Warn("periodic reconcile finished with failures", "failed", failed)
		return
	}
	logger.Info("periodic reconcile finished", "channels", len(result.Channels))
}
