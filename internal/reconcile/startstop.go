package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"livefleet/internal/control"
	"livefleet/internal/fleet"
	"livefleet/internal/observability/logging"
)

// RunState is the desired running state of a channel's resources.
type RunState string

const (
	Start RunState = "start"
	Stop  RunState = "stop"
)

// ParseRunState accepts "start" or "stop" in any case.
func ParseRunState(value string) (RunState, error) {
	switch RunState(strings.ToLower(strings.TrimSpace(value))) {
	case Start:
		return Start, nil
	case Stop:
		return Stop, nil
	default:
		return "", fmt.Errorf("unknown run state %q: want start or stop", value)
	}
}

// Target returns the lifecycle state the run state maps to.
func (s RunState) Target() control.State {
	if s == Start {
		return control.StateActive
	}
	return control.StateStopped
}

// Outcome is the result of reconciling one resource.
type Outcome string

const (
	// OutcomeRequested means the transition was accepted by the control
	// plane. It may not have converged yet.
	OutcomeRequested Outcome = "requested"
	// OutcomeNoop means the resource is already in, or already moving to,
	// the desired state.
	OutcomeNoop Outcome = "noop"
	// OutcomePending means the resource is being created or deleted and was
	// left alone.
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
)

// ItemError reports a failed reconcile of one resource.
type ItemError struct {
	Channel string
	Role    fleet.Role
	ID      string
	Err     error
}

func (e *ItemError) Error() string {
	role := string(e.Role)
	if role == "" {
		role = "unknown"
	}
	return fmt.Sprintf("channel %q role %s (%s): %v", e.Channel, role, e.ID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ErrResourceAbsent reports that a resource to start or stop does not exist.
var ErrResourceAbsent = errors.New("resource is absent")

// ItemResult is the outcome for one resource identifier.
type ItemResult struct {
	ID      string        `json:"id"`
	Role    fleet.Role    `json:"role,omitempty"`
	Before  control.State `json:"before,omitempty"`
	Outcome Outcome       `json:"outcome"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
}

// Report is the structured result of ReconcileStartStop.
type Report struct {
	Channel string       `json:"channel"`
	Desired RunState     `json:"desired"`
	Items   []ItemResult `json:"items"`
}

// Requested returns the identifiers a transition was issued for.
func (r Report) Requested() []string {
	var ids []string
	for _, item := range r.Items {
		if item.Outcome == OutcomeRequested {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// Err joins the errors of every failed item. It is nil when nothing failed.
func (r Report) Err() error {
	var errs []error
	for _, item := range r.Items {
		if item.Err != nil {
			errs = append(errs, item.Err)
		}
	}
	return errors.Join(errs...)
}

// ReconcileStartStop moves every identified resource of channel towards
// desired, in the order given. A resource already in the desired state or
// already transitioning to it is left untouched, as is one that is being
// created or deleted. Repeated calls are safe and issue no duplicate
// transitions.
func (r *Reconciler) ReconcileStartStop(ctx context.Context, channel string, ids []string, desired RunState) Report {
	ctx = logging.ContextWithChannel(ctx, channel)
	logger := logging.WithContext(ctx, r.logger)
	report := Report{Channel: channel, Desired: desired, Items: make([]ItemResult, 0, len(ids))}
	want := desired.Target()

	for _, id := range ids {
		item := r.reconcileOne(ctx, channel, id, want)
		r.metrics.ObserveTransition(string(desired), string(item.Outcome))
		switch item.Outcome {
		case OutcomeRequested:
			logger.Info("transition requested", "id", id, "role", item.Role, "from", item.Before, "target", want)
		case OutcomeFailed:
			logger.Warn("transition failed", "id", id, "role", item.Role, "error", item.Err)
		}
		report.Items = append(report.Items, item)
	}
	return report
}

func (r *Reconciler) reconcileOne(ctx context.Context, channel, id string, want control.State) ItemResult {
	item := ItemResult{ID: id}
	fail := func(err error) ItemResult {
		item.Outcome = OutcomeFailed
		item.Err = &ItemError{Channel: channel, Role: item.Role, ID: id, Err: err}
		item.Error = item.Err.Error()
		return item
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	state, err := r.client.Describe(ctx, id)
	if err != nil {
		return fail(err)
	}
	item.Role, item.Before = state.Role, state.State

	switch {
	case state.State == control.StateAbsent:
		return fail(ErrResourceAbsent)
	case state.Target == want:
		item.Outcome = OutcomeNoop
		return item
	case state.State == want && state.Target == "":
		item.Outcome = OutcomeNoop
		return item
	case state.State.Pending():
		item.Outcome = OutcomePending
		return item
	}

	// Error state is left only by retrying the transition, which is what
	// this does.
	switch err := r.client.Transition(ctx, id, want); {
	case err == nil:
		item.Outcome = OutcomeRequested
	case control.IsConflict(err):
		item.Outcome = OutcomeNoop
	default:
		return fail(err)
	}
	return item
}
