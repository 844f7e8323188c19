// Package controlstub hosts a deterministic in-memory control plane behind an
// httptest.Server. It implements the resource, transition, listing, deletion
// and identity endpoints consumed by control.HTTPClient, records every call,
// and can inject failures or hold transitions pending so reconciliation and
// provisioning tests can assert exact remote interactions.
package controlstub
