// Package control is the client side of the resource control plane that
// fronts the external video services.
//
// # Overview
//
// Every managed resource (ingest flow, transcode input, transcode channel,
// packaging channel, packaging endpoint and the shared foundation objects)
// is addressed by an opaque identifier handed out at creation time. The
// control plane exposes:
//
//   - Describe: current lifecycle state, the target of any in-flight
//     transition and post-creation outputs such as endpoint URLs.
//   - Transition: request a move to active or stopped. Transitions are
//     asynchronous; success means the request was accepted.
//   - List / ListChannels: enumerate resources of one channel, or the
//     channels that still own resources.
//   - Delete: request deletion.
//   - Create: idempotent by resource name.
//   - Identity resolution of role and secret names.
//
// # Error Classification
//
// HTTPClient maps responses onto typed errors:
//
//   - 404: NotFoundError (Describe reports StateAbsent instead).
//   - 409: RemoteConflictError, which reconciliation treats as success.
//   - 429, 5xx and network failures: RemoteTransientError.
//   - Any other non-2xx: RemoteError, a permanent rejection.
//
// The client makes a single attempt per call unless HTTPMaxAttempts is
// raised, in which case only transient failures are retried.
package control
