// Package api serves the livefleet admin surface.
//
// NewRouter assembles a chi router with request IDs, access logging and
// metrics middleware. The fleet description is re-read through the injected
// FleetLoader on every request so edits to the fleet file take effect on the
// next call. When a token is configured, every /v1 route requires it as a
// bearer token; /healthz and /metrics stay open.
package api
