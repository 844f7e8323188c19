// Package provision applies compiled channel topologies to the control plane.
// Specs are applied in order; each spec's post-creation outputs are recorded
// in the channel's stack and bound into the specs that reference them. At
// most one apply runs per channel at a time.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"livefleet/internal/control"
	"livefleet/internal/fleet"
	"livefleet/internal/observability/logging"
	"livefleet/internal/observability/metrics"
	"livefleet/internal/storage"
	"livefleet/internal/topology"
)

// Change describes what an apply did to one resource.
type Change string

const (
	ChangeCreated   Change = "created"
	ChangeUpdated   Change = "updated"
	ChangeUnchanged Change = "unchanged"
	ChangePruned    Change = "pruned"
)

// ResourceResult is the applied state of one spec.
type ResourceResult struct {
	Name    string             `json:"name"`
	Kind    fleet.ResourceKind `json:"kind"`
	Role    fleet.Role         `json:"role"`
	ID      string             `json:"id"`
	Change  Change             `json:"change"`
	Outputs map[string]string  `json:"outputs,omitempty"`
}

// Result reports a completed apply.
type Result struct {
	Channel   string           `json:"channel"`
	Resources []ResourceResult `json:"resources"`
	Pruned    []string         `json:"pruned,omitempty"`
}

// IDs returns the identifiers of the applied resources of one kind in apply
// order.
func (r Result) IDs(kind fleet.ResourceKind) []string {
	var ids []string
	for _, res := range r.Resources {
		if res.Kind == kind {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// ApplyError reports the spec an apply stopped at. Specs before it remain
// applied and recorded.
type ApplyError struct {
	Channel string
	Spec    string
	Role    fleet.Role
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply channel %q role %s (%s): %v", e.Channel, e.Role, e.Spec, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Applier is the declarative provisioning layer.
type Applier struct {
	provisioner control.Provisioner
	client      control.Client
	repo        storage.Repository
	logger      *slog.Logger
	metrics     *metrics.Recorder
	locks       keyedLock
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Applier) {
		if logger != nil {
			a.logger = logging.WithComponent(logger, "provision")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(a *Applier) {
		if recorder != nil {
			a.metrics = recorder
		}
	}
}

// NewApplier wires an applier. client is used to prune resources a
// topology no longer declares.
func NewApplier(provisioner control.Provisioner, client control.Client, repo storage.Repository, opts ...Option) *Applier {
	a := &Applier{
		provisioner: provisioner,
		client:      client,
		repo:        repo,
		logger:      logging.WithComponent(nil, "provision"),
		metrics:     metrics.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply creates or updates every spec of the topology in order, then
// deletes resources recorded for the channel that the topology no longer
// declares. Progress is persisted after every spec so a failed apply
// resumes where it stopped.
func (a *Applier) Apply(ctx context.Context, top topology.Topology) (Result, error) {
	if top.Channel == "" {
		return Result{}, errors.New("topology has no channel name")
	}
	release, err := a.locks.acquire(ctx, top.Channel)
	if err != nil {
		return Result{}, err
	}
	defer release()

	ctx = logging.ContextWithChannel(ctx, top.Channel)
	logger := logging.WithContext(ctx, a.logger)

	result, err := a.apply(ctx, logger, top)
	if err != nil {
		a.metrics.ObserveApply("error")
		return result, err
	}
	a.metrics.ObserveApply("ok")
	return result, nil
}

func (a *Applier) apply(ctx context.Context, logger *slog.Logger, top topology.Topology) (Result, error) {
	result := Result{Channel: top.Channel}
	stack, err := a.repo.LoadStack(ctx, storage.ChannelStackName(top.Channel))
	if errors.Is(err, storage.ErrStackNotFound) {
		stack = storage.Stack{Name: storage.ChannelStackName(top.Channel), Channel: top.Channel}
	} else if err != nil {
		return result, fmt.Errorf("load stack %s: %w", top.Channel, err)
	}

	resolver := topology.ResolverFunc(func(ref topology.Ref) (string, bool) {
		res, ok := stack.Resource(ref.Spec)
		if !ok || res.ID == "" {
			return "", false
		}
		if ref.Output == topology.OutputID {
			return res.ID, true
		}
		value, ok := res.Outputs[string(ref.Output)]
		return value, ok && value != ""
	})

	for _, spec := range top.Specs {
		applied, err := a.applySpec(ctx, stack, spec, resolver)
		if err != nil {
			return result, &ApplyError{Channel: top.Channel, Spec: spec.Name, Role: spec.Role, Err: err}
		}
		stack.Upsert(storage.Resource{
			Name:    spec.Name,
			Kind:    spec.Kind,
			Role:    spec.Role,
			ID:      applied.ID,
			Digest:  applied.digest,
			Outputs: applied.Outputs,
		})
		if err := a.repo.SaveStack(ctx, stack); err != nil {
			return result, &ApplyError{Channel: top.Channel, Spec: spec.Name, Role: spec.Role, Err: fmt.Errorf("save stack: %w", err)}
		}
		result.Resources = append(result.Resources, applied.ResourceResult)
		if applied.Change != ChangeUnchanged {
			logger.Info("resource applied", "spec", spec.Name, "change", applied.Change, "id", applied.ID)
		}
	}

	pruned, err := a.prune(ctx, logger, &stack, top)
	result.Pruned = pruned
	return result, err
}

type appliedSpec struct {
	ResourceResult
	digest string
}

func (a *Applier) applySpec(ctx context.Context, stack storage.Stack, spec topology.ResourceSpec, resolver topology.Resolver) (appliedSpec, error) {
	bound, err := topology.Bind(spec, resolver)
	if err != nil {
		return appliedSpec{}, err
	}
	digest := topology.Digest(bound)
	out := appliedSpec{
		ResourceResult: ResourceResult{Name: spec.Name, Kind: spec.Kind, Role: spec.Role},
		digest:         digest,
	}

	existing, recorded := stack.Resource(spec.Name)
	if recorded && existing.ID != "" {
		if existing.Digest == digest {
			out.ID, out.Change, out.Outputs = existing.ID, ChangeUnchanged, existing.Outputs
			return out, nil
		}
		state, err := a.provisioner.Update(ctx, existing.ID, bound)
		switch {
		case err == nil:
			out.ID, out.Change, out.Outputs = existing.ID, ChangeUpdated, mergeOutputs(existing.Outputs, state.Outputs)
			return out, nil
		case !control.IsNotFound(err):
			return appliedSpec{}, err
		}
		// The recorded resource is gone remotely; create it again.
	}

	state, err := a.provisioner.Create(ctx, control.CreateRequest{
		Name:       spec.Name,
		Kind:       spec.Kind,
		Channel:    spec.Channel,
		Role:       spec.Role,
		Attributes: bound,
	})
	if err != nil {
		return appliedSpec{}, err
	}
	out.ID, out.Change, out.Outputs = state.ID, ChangeCreated, mergeOutputs(nil, state.Outputs)
	return out, nil
}

func (a *Applier) prune(ctx context.Context, logger *slog.Logger, stack *storage.Stack, top topology.Topology) ([]string, error) {
	declared := make(map[string]bool, len(top.Specs))
	for _, spec := range top.Specs {
		declared[spec.Name] = true
	}
	var stale []storage.Resource
	for _, res := range stack.Resources {
		if !declared[res.Name] {
			stale = append(stale, res)
		}
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].Kind.TeardownRank() < stale[j].Kind.TeardownRank()
	})

	var pruned []string
	for _, res := range stale {
		if a.client == nil {
			return pruned, &ApplyError{Channel: top.Channel, Spec: res.Name, Role: res.Role, Err: errors.New("pruning requires a control client")}
		}
		if err := a.client.Delete(ctx, res.ID); err != nil && !control.IsNotFound(err) {
			return pruned, &ApplyError{Channel: top.Channel, Spec: res.Name, Role: res.Role, Err: fmt.Errorf("prune: %w", err)}
		}
		stack.Remove(res.Name)
		if err := a.repo.SaveStack(ctx, *stack); err != nil {
			return pruned, &ApplyError{Channel: top.Channel, Spec: res.Name, Role: res.Role, Err: fmt.Errorf("save stack: %w", err)}
		}
		pruned = append(pruned, res.Name)
		logger.Info("resource pruned", "spec", res.Name, "id", res.ID)
	}
	return pruned, nil
}

func mergeOutputs(previous, latest map[string]string) map[string]string {
	if len(previous) == 0 && len(latest) == 0 {
		return nil
	}
	merged := make(map[string]string, len(previous)+len(latest))
	for k, v := range previous {
		merged[k] = v
	}
	for k, v := range latest {
		merged[k] = v
	}
	return merged
}

// Stack returns the recorded state of a channel.
func (a *Applier) Stack(ctx context.Context, channel string) (storage.Stack, error) {
	return a.repo.LoadStack(ctx, storage.ChannelStackName(channel))
}

// Forget drops the recorded state of a channel whose resources have been
// deleted.
func (a *Applier) Forget(ctx context.Context, channel string) error {
	release, err := a.locks.acquire(ctx, channel)
	if err != nil {
		return err
	}
	defer release()
	return a.repo.DeleteStack(ctx, storage.ChannelStackName(channel))
}
