package deploy

import (
	"context"
	"errors"
	"fmt"

	"livefleet/internal/fleet"
	"livefleet/internal/foundation"
	"livefleet/internal/reconcile"
	"livefleet/internal/storage"
	"livefleet/internal/topology"
)

// ErrChannelNotDeployed is returned when an action targets a channel with no
// recorded resources.
var ErrChannelNotDeployed = errors.New("channel is not deployed")

// ErrChannelNotDeclared is returned when a pass names a channel the fleet
// does not declare.
var ErrChannelNotDeclared = errors.New("channel is not declared")

// Scope selects which resources of a channel a start or stop addresses.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeFlows   Scope = "flows"
	ScopeChannel Scope = "channel"
)

// ParseScope accepts all, flows or channel. An empty value means all.
func ParseScope(value string) (Scope, error) {
	switch Scope(value) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeFlows, ScopeChannel:
		return Scope(value), nil
	default:
		return "", fmt.Errorf("unknown scope %q: want all, flows or channel", value)
	}
}

// SetRunState starts or stops a deployed channel. Starting brings flows up
// before the transcode channel; stopping goes the other way round.
func (d *Deployer) SetRunState(ctx context.Context, channel string, desired reconcile.RunState, scope Scope) ([]reconcile.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stack, err := d.applier.Stack(ctx, channel)
	if errors.Is(err, storage.ErrStackNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotDeployed, channel)
	} else if err != nil {
		return nil, err
	}

	var flows, transcode []string
	for _, res := range stack.Resources {
		switch res.Kind {
		case fleet.KindIngestFlow:
			flows = append(flows, res.ID)
		case fleet.KindTranscodeChannel:
			transcode = append(transcode, res.ID)
		}
	}

	var groups [][]string
	switch scope {
	case ScopeFlows:
		groups = [][]string{flows}
	case ScopeChannel:
		groups = [][]string{transcode}
	default:
		groups = [][]string{flows, transcode}
		if desired == reconcile.Stop {
			groups = [][]string{transcode, flows}
		}
	}

	reports := make([]reconcile.Report, 0, len(groups))
	for _, ids := range groups {
		if len(ids) == 0 {
			continue
		}
		reports = append(reports, d.reconciler.ReconcileStartStop(ctx, channel, ids, desired))
	}
	return reports, nil
}

// Preview compiles one declared channel against the recorded foundation
// without applying it. Placeholder identifiers are used when the foundation
// does not exist yet.
func (d *Deployer) Preview(ctx context.Context, f fleet.Fleet, channel string) (topology.Topology, error) {
	cfg, ok := f.Channel(channel)
	if !ok {
		return topology.Topology{}, fmt.Errorf("%w: %s", ErrChannelNotDeclared, channel)
	}
	shared, err := d.foundation.Load(ctx, f.Foundation)
	if errors.Is(err, foundation.ErrNotEnsured) {
		shared, err = foundation.Placeholder(f.Foundation)
	}
	if err != nil {
		return topology.Topology{}, err
	}
	return d.compiler.Compile(ctx, cfg, shared)
}

// Cleanup removes every channel not declared in f.
func (d *Deployer) Cleanup(ctx context.Context, f fleet.Fleet) (reconcile.CleanupReport, error) {
	if err := f.Validate(); err != nil {
		return reconcile.CleanupReport{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleanup(ctx, f)
}

func (d *Deployer) cleanup(ctx context.Context, f fleet.Fleet) (reconcile.CleanupReport, error) {
	report, err := d.reconciler.ReconcileCleanup(ctx, f.Names())
	if err != nil {
		return report, err
	}
	for _, res := range report.Channels {
		if res.Outcome == reconcile.ChannelFailed {
			continue
		}
		if err := d.applier.Forget(ctx, res.Channel); err != nil {
			d.logger.Warn("forget channel stack failed", "channel", res.Channel, "error", err)
		}
	}
	return report, nil
}
