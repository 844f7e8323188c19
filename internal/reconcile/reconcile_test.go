package reconcile_test

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"livefleet/internal/control"
	"livefleet/internal/fleet"
	"livefleet/internal/ledger"
	"livefleet/internal/observability/metrics"
	"livefleet/internal/reconcile"
	"livefleet/internal/testsupport/controlstub"
)

type seeded struct {
	flows   []string
	channel string
}

// seedChannel installs a full standard channel subtree, listed in creation
// order.
func seedChannel(stub *controlstub.ControlPlane, name string) seeded {
	add := func(kind fleet.ResourceKind, role fleet.Role, state control.State) string {
		return stub.Seed(control.ResourceState{
			Name:    fleet.ResourceName(name, role),
			Kind:    kind,
			Channel: name,
			Role:    role,
			State:   state,
		})
	}
	var out seeded
	out.flows = append(out.flows, add(fleet.KindIngestFlow, fleet.RoleIngestMain, control.StateStopped))
	out.flows = append(out.flows, add(fleet.KindIngestFlow, fleet.RoleIngestBackup, control.StateStopped))
	add(fleet.KindTranscodeInput, fleet.RoleTranscodeInput, control.StateActive)
	add(fleet.KindPackagingChannel, fleet.RolePackagingChannel, control.StateActive)
	add(fleet.KindPackagingEndpoint, fleet.EndpointRole(fleet.DeliveryHLS), control.StateActive)
	add(fleet.KindPackagingEndpoint, fleet.EndpointRole(fleet.DeliveryCMAF), control.StateActive)
	out.channel = add(fleet.KindTranscodeChannel, fleet.RoleTranscodeChannel, control.StateStopped)
	return out
}

func newReconciler(t *testing.T, opts controlstub.Options, extra ...reconcile.Option) (*reconcile.Reconciler, *controlstub.ControlPlane) {
	t.Helper()
	stub := controlstub.Start(opts)
	t.Cleanup(stub.Close)
	extra = append([]reconcile.Option{reconcile.WithMetrics(metrics.New())}, extra...)
	return reconcile.New(stub.Client(), extra...), stub
}

// TestStartStopTwiceIssuesOneTransitionPerResource verifies that a second
// call with the same target observes the new state and does nothing.
func TestStartStopTwiceIssuesOneTransitionPerResource(t *testing.T) {
	r, stub := newReconciler(t, controlstub.Options{})
	ch := seedChannel(stub, "CH01")

	first := r.ReconcileStartStop(context.Background(), "CH01", ch.flows, reconcile.Start)
	if err := first.Err(); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if got := first.Requested(); !reflect.DeepEqual(got, ch.flows) {
		t.Fatalf("expected transitions for %v, got %v", ch.flows, got)
	}

	second := r.ReconcileStartStop(context.Background(), "CH01", ch.flows, reconcile.Start)
	for _, item := range second.Items {
		if item.Outcome != reconcile.OutcomeNoop {
			t.Fatalf("expected noop for %s, got %s", item.ID, item.Outcome)
		}
	}
	if got := len(stub.OperationsOfKind("transition")); got != len(ch.flows) {
		t.Fatalf("expected %d transitions in total, got %d", len(ch.flows), got)
	}
}

// TestStartStopSkipsInFlightTransition verifies that a resource already
// moving to the desired state is not asked again.
func TestStartStopSkipsInFlightTransition(t *testing.T) {
	r, stub := newReconciler(t, controlstub.Options{AsyncTransitions: true})
	ch := seedChannel(stub, "CH01")

	first := r.ReconcileStartStop(context.Background(), "CH01", []string{ch.channel}, reconcile.Start)
	if first.Items[0].Outcome != reconcile.OutcomeRequested {
		t.Fatalf("expected transition requested, got %s", first.Items[0].Outcome)
	}
	second := r.ReconcileStartStop(context.Background(), "CH01", []string{ch.channel}, reconcile.Start)
	if second.Items[0].Outcome != reconcile.OutcomeNoop {
		t.Fatalf("expected noop while transitioning, got %s", second.Items[0].Outcome)
	}
	if got := len(stub.OperationsOfKind("transition")); got != 1 {
		t.Fatalf("expected one transition, got %d", got)
	}

	stub.Settle()
	stop := r.ReconcileStartStop(context.Background(), "CH01", []string{ch.channel}, reconcile.Stop)
	if stop.Items[0].Outcome != reconcile.OutcomeRequested || stop.Items[0].Before != control.StateActive {
		t.Fatalf("expected stop requested from active, got %+v", stop.Items[0])
	}
}

func TestStartStopDecisionTable(t *testing.T) {
	testCases := []struct {
		name    string
		state   control.State
		target  control.State
		desired reconcile.RunState
		want    reconcile.Outcome
	}{
		{name: "stopped to start", state: control.StateStopped, desired: reconcile.Start, want: reconcile.OutcomeRequested},
		{name: "already active", state: control.StateActive, desired: reconcile.Start, want: reconcile.OutcomeNoop},
		{name: "already stopped", state: control.StateStopped, desired: reconcile.Stop, want: reconcile.OutcomeNoop},
		{name: "creating is pending", state: control.StateCreating, desired: reconcile.Start, want: reconcile.OutcomePending},
		{name: "deleting is pending", state: control.StateDeleting, desired: reconcile.Stop, want: reconcile.OutcomePending},
		{name: "error is retried", state: control.StateError, desired: reconcile.Start, want: reconcile.OutcomeRequested},
		{name: "stopping towards stop", state: control.StateActive, target: control.StateStopped, desired: reconcile.Stop, want: reconcile.OutcomeNoop},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r, stub := newReconciler(t, controlstub.Options{AsyncTransitions: true})
			id := stub.Seed(control.ResourceState{Name: "CH01-ingest-main", Kind: fleet.KindIngestFlow, Channel: "CH01", Role: fleet.RoleIngestMain, State: tc.state, Target: tc.target})

			report := r.ReconcileStartStop(context.Background(), "CH01", []string{id}, tc.desired)
			if got := report.Items[0].Outcome; got != tc.want {
				t.Fatalf("expected %s, got %s (err %v)", tc.want, got, report.Items[0].Err)
			}
			wantTransitions := 0
			if tc.want == reconcile.OutcomeRequested {
				wantTransitions = 1
			}
			if got := len(stub.OperationsOfKind("transition")); got != wantTransitions {
				t.Fatalf("expected %d transitions, got %d", wantTransitions, got)
			}
		})
	}
}

// TestStartStopReportsFailuresPerItem verifies that one failing resource
// does not stop the remaining ones and that errors name channel and role.
func TestStartStopReportsFailuresPerItem(t *testing.T) {
	r, stub := newReconciler(t, controlstub.Options{FailTransitions: 1})
	ch := seedChannel(stub, "CH01")
	ids := append([]string{"arn:livefleet:ingest-flow:missing"}, ch.flows...)

	report := r.ReconcileStartStop(context.Background(), "CH01", ids, reconcile.Start)
	if len(report.Items) != 3 {
		t.Fatalf("expected three items, got %d", len(report.Items))
	}
	if !errors.Is(report.Items[0].Err, reconcile.ErrResourceAbsent) {
		t.Fatalf("expected absent resource failure, got %v", report.Items[0].Err)
	}

	var itemErr *reconcile.ItemError
	if !errors.As(report.Items[1].Err, &itemErr) {
		t.Fatalf("expected ItemError, got %v", report.Items[1].Err)
	}
	if itemErr.Channel != "CH01" || itemErr.Role != fleet.RoleIngestMain {
		t.Fatalf("expected channel and role on error, got %+v", itemErr)
	}
	if !control.IsTransient(itemErr) {
		t.Fatalf("expected transient failure, got %v", itemErr.Err)
	}
	if report.Items[2].Outcome != reconcile.OutcomeRequested {
		t.Fatalf("expected backup flow to be started, got %s", report.Items[2].Outcome)
	}
	if report.Err() == nil {
		t.Fatalf("expected aggregated error")
	}
}

type conflictClient struct {
	control.Client
}

func (conflictClient) Transition(ctx context.Context, id string, target control.State) error {
	return &control.RemoteConflictError{Op: "transition", ID: id, Detail: "already " + string(target)}
}

// TestStartStopTreatsConflictAsSuccess verifies that a conflict reply is
// not reported as a failure.
func TestStartStopTreatsConflictAsSuccess(t *testing.T) {
	stub := controlstub.Start(controlstub.Options{})
	t.Cleanup(stub.Close)
	ch := seedChannel(stub, "CH01")
	r := reconcile.New(conflictClient{Client: stub.Client()}, reconcile.WithMetrics(metrics.New()))

	report := r.ReconcileStartStop(context.Background(), "CH01", ch.flows, reconcile.Start)
	if err := report.Err(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, item := range report.Items {
		if item.Outcome != reconcile.OutcomeNoop {
			t.Fatalf("expected noop, got %s", item.Outcome)
		}
	}
}

func TestParseRunState(t *testing.T) {
	if got, err := reconcile.ParseRunState(" START "); err != nil || got != reconcile.Start {
		t.Fatalf("expected start, got %q (%v)", got, err)
	}
	if got, err := reconcile.ParseRunState("stop"); err != nil || got != reconcile.Stop {
		t.Fatalf("expected stop, got %q (%v)", got, err)
	}
	if _, err := reconcile.ParseRunState("pause"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}

// TestCleanupDeletesOnlyStaleChannelInTeardownOrder verifies that with
// desired {A, B} and remote {A, B, C} only C is deleted, packaging first,
// then transcode, then ingest.
func TestCleanupDeletesOnlyStaleChannelInTeardownOrder(t *testing.T) {
	r, stub := newReconciler(t, controlstub.Options{})
	seedChannel(stub, "A")
	seedChannel(stub, "B")
	seedChannel(stub, "C")

	report, err := r.ReconcileCleanup(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("ReconcileCleanup: %v", err)
	}
	if !reflect.DeepEqual(report.Stale, []string{"C"}) {
		t.Fatalf("expected stale [C], got %v", report.Stale)
	}
	if report.Failure() != nil {
		t.Fatalf("expected no failures, got %v", report.Failure())
	}

	deletes := stub.OperationsOfKind("delete")
	var roles []fleet.Role
	for _, op := range deletes {
		if op.Channel != "C" {
			t.Fatalf("unexpected delete for channel %s", op.Channel)
		}
		roles = append(roles, op.Role)
	}
	want := []fleet.Role{
		fleet.EndpointRole(fleet.DeliveryCMAF),
		fleet.EndpointRole(fleet.DeliveryHLS),
		fleet.RolePackagingChannel,
		fleet.RoleTranscodeChannel,
		fleet.RoleTranscodeInput,
		fleet.RoleIngestBackup,
		fleet.RoleIngestMain,
	}
	if !reflect.DeepEqual(roles, want) {
		t.Fatalf("unexpected delete order:\n got %v\nwant %v", roles, want)
	}

	again, err := r.ReconcileCleanup(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("second ReconcileCleanup: %v", err)
	}
	if len(again.Stale) != 0 {
		t.Fatalf("expected nothing stale on rerun, got %v", again.Stale)
	}
}

// TestCleanupContinuesPastFailingChannel verifies that a delete failure in
// one channel is reported individually while other channels are removed.
func TestCleanupContinuesPastFailingChannel(t *testing.T) {
	r, stub := newReconciler(t, controlstub.Options{FailDeletesForChannels: []string{"C"}})
	seedChannel(stub, "A")
	seedChannel(stub, "C")
	seedChannel(stub, "D")

	report, err := r.ReconcileCleanup(context.Background(), []string{"A"})
	if err != nil {
		t.Fatalf("ReconcileCleanup: %v", err)
	}
	failure := report.Failure()
	if failure == nil || !reflect.DeepEqual(failure.Channels(), []string{"C"}) {
		t.Fatalf("expected only C to fail, got %v", failure)
	}
	var itemErr *reconcile.ItemError
	if !errors.As(failure.Failed[0].Err, &itemErr) || itemErr.Channel != "C" || itemErr.Role == "" {
		t.Fatalf("expected failure to name channel and role, got %v", failure.Failed[0].Err)
	}

	outcomes := map[string]reconcile.ChannelOutcome{}
	for _, res := range report.Channels {
		outcomes[res.Channel] = res.Outcome
	}
	if outcomes["D"] != reconcile.ChannelDeleted || outcomes["C"] != reconcile.ChannelFailed {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
	for _, op := range stub.OperationsOfKind("list") {
		if op.Channel == "A" {
			t.Fatalf("desired channel A must not be touched")
		}
	}
}

// TestCleanupLeavesPendingDeletesAlone verifies that resources already being
// deleted are not deleted again.
func TestCleanupLeavesPendingDeletesAlone(t *testing.T) {
	r, stub := newReconciler(t, controlstub.Options{AsyncTransitions: true})
	id := stub.Seed(control.ResourceState{Name: "C-endpoint-hls", Kind: fleet.KindPackagingEndpoint, Channel: "C", Role: fleet.EndpointRole(fleet.DeliveryHLS), State: control.StateDeleting})

	report, err := r.ReconcileCleanup(context.Background(), nil)
	if err != nil {
		t.Fatalf("ReconcileCleanup: %v", err)
	}
	if len(report.Channels) != 1 || report.Channels[0].Outcome != reconcile.ChannelDeleted {
		t.Fatalf("unexpected report %+v", report.Channels)
	}
	if res := report.Channels[0].Resources; len(res) != 1 || res[0].ID != id || !res[0].Pending {
		t.Fatalf("expected pending resource recorded, got %+v", res)
	}
	if deletes := stub.OperationsOfKind("delete"); len(deletes) != 0 {
		t.Fatalf("expected no delete calls, got %+v", deletes)
	}
}

func TestCleanupFailsWhenListingFails(t *testing.T) {
	r, _ := newReconciler(t, controlstub.Options{FailListChannels: true})
	if _, err := r.ReconcileCleanup(context.Background(), nil); !control.IsTransient(err) {
		t.Fatalf("expected transient listing error, got %v", err)
	}
}

// TestCleanupUsesLedger verifies that channels recorded by an earlier pass
// are cleaned up even when the remote listing no longer reports them, and
// that the ledger keeps desired and failed channels.
func TestCleanupUsesLedger(t *testing.T) {
	l := ledger.NewMemory("A", "E")
	r, stub := newReconciler(t, controlstub.Options{FailDeletesForChannels: []string{"C"}}, reconcile.WithLedger(l))
	seedChannel(stub, "A")
	seedChannel(stub, "C")

	report, err := r.ReconcileCleanup(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("ReconcileCleanup: %v", err)
	}
	if !reflect.DeepEqual(report.Stale, []string{"C", "E"}) {
		t.Fatalf("expected stale [C E], got %v", report.Stale)
	}
	for _, res := range report.Channels {
		if res.Channel == "E" && (res.Source != reconcile.SourceLedger || res.Outcome != reconcile.ChannelAbsent) {
			t.Fatalf("expected E absent via ledger, got %+v", res)
		}
	}

	names, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sort.Strings(names)
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("expected ledger %v, got %v", want, names)
	}
}

type failingLedger struct {
	ledger.Ledger
}

func (failingLedger) Replace(context.Context, []string) error {
	return errors.New("ledger offline")
}

// TestCleanupReportsLedgerWriteFailure verifies that a ledger write failure
// is reported without failing the pass.
func TestCleanupReportsLedgerWriteFailure(t *testing.T) {
	r, stub := newReconciler(t, controlstub.Options{}, reconcile.WithLedger(failingLedger{Ledger: ledger.NewMemory()}))
	seedChannel(stub, "C")

	report, err := r.ReconcileCleanup(context.Background(), nil)
	if err != nil {
		t.Fatalf("ReconcileCleanup: %v", err)
	}
	if report.LedgerErr == nil || report.LedgerMsg == "" {
		t.Fatalf("expected ledger error to be reported")
	}
	if len(report.Channels) != 1 || report.Channels[0].Outcome != reconcile.ChannelDeleted {
		t.Fatalf("expected C deleted despite ledger failure, got %+v", report.Channels)
	}
}
