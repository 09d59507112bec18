// Package api defines wire-format types, converters and the HTTP client for
// the daemon API. It translates store models into transport-friendly DTOs so
// the CLI and other consumers render executions, workflows and schedules
// without importing internal types.
//
// # Key Types
//
// Execution/Step: an execution record with per-step counts.
//
// Workflow: a definition as submitted by `curator workflow apply`.
//
// Schedule: a recurring trigger.
//
// DaemonStatus: lock, database, scheduler and preflight state.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as their upper-case store
// values. Timestamps use RFC3339 with milliseconds. Errors travel as
// ErrorResponse carrying a stable kind which the Client maps back onto the
// services sentinels, so callers keep using errors.Is across the wire.
package api
