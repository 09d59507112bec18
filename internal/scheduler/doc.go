// Package scheduler owns execution orchestration: submission with the one
// active execution per dataset guarantee, cancellation, the consumer pool
// that dispatches queued executions to the backend, recovery on start, and
// recurring triggers.
//
// Orchestrator is the public entry point. Consumer and Sweeper are started by
// the daemon but are usable on their own in tests. Nothing in this package is
// global; every collaborator is injected through Dependencies.
package scheduler
