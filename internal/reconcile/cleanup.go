package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"livefleet/internal/control"
	"livefleet/internal/fleet"
	"livefleet/internal/observability/logging"
)

// ChannelOutcome summarises the deletion of one stale channel.
type ChannelOutcome string

const (
	ChannelDeleted ChannelOutcome = "deleted"
	// ChannelAbsent means the channel had no remaining resources.
	ChannelAbsent ChannelOutcome = "absent"
	ChannelFailed ChannelOutcome = "failed"
)

// Source records why a channel was considered for cleanup.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLedger Source = "ledger"
)

// DeletedResource is one resource a cleanup acted on.
type DeletedResource struct {
	ID   string             `json:"id"`
	Kind fleet.ResourceKind `json:"kind"`
	Role fleet.Role         `json:"role,omitempty"`
	// Pending is set when the resource was already being deleted.
	Pending bool `json:"pending,omitempty"`
}

// ChannelResult is the per-channel outcome of a cleanup pass.
type ChannelResult struct {
	Channel   string            `json:"channel"`
	Source    Source            `json:"source"`
	Outcome   ChannelOutcome    `json:"outcome"`
	Resources []DeletedResource `json:"resources,omitempty"`
	Err       error             `json:"-"`
	Error     string            `json:"error,omitempty"`
}

// CleanupReport is the best-effort result of a cleanup pass.
type CleanupReport struct {
	Desired  []string        `json:"desired"`
	Stale    []string        `json:"stale"`
	Channels []ChannelResult `json:"channels"`
	// LedgerErr is set when the deployed-channel ledger could not be read or
	// written. The pass itself still ran.
	LedgerErr error  `json:"-"`
	LedgerMsg string `json:"ledgerError,omitempty"`
}

// Failure returns a PartialCleanupFailure listing the failed channels, or nil
// when every stale channel was removed.
func (r CleanupReport) Failure() *PartialCleanupFailure {
	var failed []ChannelFailure
	for _, res := range r.Channels {
		if res.Outcome == ChannelFailed {
			failed = append(failed, ChannelFailure{Channel: res.Channel, Err: res.Err})
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartialCleanupFailure{Failed: failed}
}

// ChannelFailure names a channel whose subtree could not be fully deleted.
type ChannelFailure struct {
	Channel string
	Err     error
}

// PartialCleanupFailure reports that some stale channels could not be
// deleted. The pass as a whole completed.
type PartialCleanupFailure struct {
	Failed []ChannelFailure
}

func (e *PartialCleanupFailure) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Channel, f.Err))
	}
	return fmt.Sprintf("cleanup failed for %d channel(s): %s", len(e.Failed), strings.Join(parts, "; "))
}

// Channels returns the failed channel names.
func (e *PartialCleanupFailure) Channels() []string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, f.Channel)
	}
	return names
}

// ReconcileCleanup deletes the resource subtree of every channel known
// remotely, or recorded in the ledger, that is not in desired. Channels are
// deleted in parallel; within a channel, resources go in teardown order so
// packaging is removed before transcode and transcode before ingest. A
// failing channel never stops the others.
//
// The returned error is non-nil only when the remote channel listing fails,
// in which case nothing was deleted. Per-channel failures are reported
// through CleanupReport.Failure.
func (r *Reconciler) ReconcileCleanup(ctx context.Context, desired []string) (CleanupReport, error) {
	report := CleanupReport{Desired: append([]string{}, desired...), Stale: []string{}}

	remote, err := r.client.ListChannels(ctx)
	if err != nil {
		return report, fmt.Errorf("list remote channels: %w", err)
	}
	var recorded []string
	if r.ledger != nil {
		recorded, err = r.ledger.Load(ctx)
		if err != nil {
			report.LedgerErr = fmt.Errorf("load ledger: %w", err)
			r.logger.Warn("ledger unavailable, cleaning remote channels only", "error", err)
		}
	}

	wanted := make(map[string]bool, len(desired))
	for _, name := range desired {
		wanted[name] = true
	}
	sources := make(map[string]Source)
	for _, name := range recorded {
		if !wanted[name] {
			sources[name] = SourceLedger
		}
	}
	for _, name := range remote {
		if !wanted[name] {
			sources[name] = SourceRemote
		}
	}
	for name := range sources {
		report.Stale = append(report.Stale, name)
	}
	sort.Strings(report.Stale)

	results := make([]ChannelResult, len(report.Stale))
	var group errgroup.Group
	group.SetLimit(r.concurrency)
	for i, name := range report.Stale {
		i, name := i, name
		group.Go(func() error {
			results[i] = r.deleteChannel(ctx, name, sources[name])
			return nil
		})
	}
	_ = group.Wait()
	report.Channels = results

	for _, res := range results {
		r.metrics.ObserveCleanup(string(res.Outcome))
	}

	if r.ledger != nil && report.LedgerErr == nil {
		// Failed channels stay recorded so the next pass retries them.
		keep := append([]string{}, desired...)
		if failure := report.Failure(); failure != nil {
			keep = append(keep, failure.Channels()...)
		}
		if err := r.ledger.Replace(ctx, keep); err != nil {
			report.LedgerErr = fmt.Errorf("write ledger: %w", err)
			r.metrics.LedgerWriteFailed()
			r.logger.Error("ledger write failed", "error", err)
		}
	}
	if report.LedgerErr != nil {
		report.LedgerMsg = report.LedgerErr.Error()
	}
	return report, nil
}

type describedResource struct {
	state control.ResourceState
}

func (r *Reconciler) deleteChannel(ctx context.Context, channel string, source Source) ChannelResult {
	ctx = logging.ContextWithChannel(ctx, channel)
	logger := logging.WithContext(ctx, r.logger)
	result := ChannelResult{Channel: channel, Source: source}
	fail := func(role fleet.Role, id string, err error) ChannelResult {
		result.Outcome = ChannelFailed
		result.Err = &ItemError{Channel: channel, Role: role, ID: id, Err: err}
		result.Error = result.Err.Error()
		logger.Warn("channel cleanup failed", "role", role, "id", id, "error", err)
		return result
	}

	ids, err := r.client.List(ctx, control.Scope{Channel: channel})
	if err != nil {
		return fail("", "", fmt.Errorf("list resources: %w", err))
	}

	resources, err := r.describeAll(ctx, ids)
	if err != nil {
		var itemErr *ItemError
		if errors.As(err, &itemErr) {
			return fail(itemErr.Role, itemErr.ID, itemErr.Err)
		}
		return fail("", "", err)
	}
	if len(resources) == 0 {
		result.Outcome = ChannelAbsent
		return result
	}

	for _, res := range resources {
		deleted := DeletedResource{ID: res.state.ID, Kind: res.state.Kind, Role: res.state.Role}
		if res.state.State == control.StateDeleting {
			deleted.Pending = true
			result.Resources = append(result.Resources, deleted)
			continue
		}
		if err := r.client.Delete(ctx, res.state.ID); err != nil {
			if control.IsNotFound(err) {
				continue
			}
			return fail(res.state.Role, res.state.ID, err)
		}
		result.Resources = append(result.Resources, deleted)
	}
	result.Outcome = ChannelDeleted
	logger.Info("channel deleted", "resources", len(result.Resources), "source", source)
	return result
}

// describeAll describes ids and returns the ones that still exist, sorted in
// teardown order.
func (r *Reconciler) describeAll(ctx context.Context, ids []string) ([]describedResource, error) {
	out := make([]describedResource, 0, len(ids))
	for _, id := range ids {
		state, err := r.client.Describe(ctx, id)
		if err != nil {
			return nil, &ItemError{ID: id, Err: fmt.Errorf("describe: %w", err)}
		}
		if state.State == control.StateAbsent {
			continue
		}
		if state.ID == "" {
			state.ID = id
		}
		out = append(out, describedResource{state: state})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].state.Kind.TeardownRank(), out[j].state.Kind.TeardownRank()
		if ri != rj {
			return ri < rj
		}
		return out[i].state.Name < out[j].state.Name
	})
	return out, nil
}
