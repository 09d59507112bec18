// Package workflows manages named, owned workflow definitions on top of the
// store and exposes the step-ordering check callers use to validate
// dependencies between steps.
package workflows
