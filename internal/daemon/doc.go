// Package daemon coordinates the long-running curator process.
//
// It wires configuration, the execution store, the scheduler, the trigger
// sweeper and the HTTP API into a single lifecycle with flock-based locking
// to prevent multiple instances. Preflight checks run before anything is
// started; their results are kept for status reporting.
//
// Keep orchestration logic here: scheduling semantics live in the scheduler
// package while the daemon focuses on startup, shutdown and the transport
// surface.
package daemon
