// Package preflight provides readiness checks for filesystem paths and
// external services curator depends on.
//
// The daemon runs RunAll before opening the store and refuses to start when a
// required check fails. The CLI "curator status" command renders the same
// results so operators see why a daemon will not come up.
//
// Optional checks are gated by their config toggle; disabled features are skipped.
package preflight
