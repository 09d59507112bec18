// Package store persists workflow definitions, execution records, scheduled
// triggers, and the dataset registry in SQLite.
//
// Execution rows are the source of truth for scheduling state. The schema
// carries a partial unique index that admits at most one INQUEUE or RUNNING
// execution per dataset, and another that admits one active trigger per
// dataset; constraint violations surface as the matching services sentinel.
//
// Writers use targeted updates (MarkRunning, RequestCancel, SaveProgress,
// FinishExecution) so that the consumer and cancellation requests never
// overwrite each other's columns. Schema changes bump the version in
// schema.go; operators delete the database to adopt a new schema.
package store
