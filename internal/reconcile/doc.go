// Package reconcile drives remote resources towards a desired lifecycle
// state. It exposes two independent operations: ReconcileStartStop moves the
// resources of one channel to running or stopped, and ReconcileCleanup
// deletes every channel that is no longer desired.
//
// # Concurrency
//
// A Reconciler holds no state between calls and starts no goroutine that
// outlives a call. Calls addressing different channels may run concurrently.
// Two calls addressing the same channel must be serialised by the caller;
// the reconciler performs no mutual exclusion of its own.
//
// # Remote calls
//
// Every remote call is a single bounded operation. The reconciler never
// retries: transient failures are reported per item so the caller can invoke
// the operation again. Cancelling the context stops waiting for further
// calls; a transition or delete the control plane already accepted is not
// undone.
package reconcile
