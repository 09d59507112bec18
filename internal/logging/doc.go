// Package logging assembles the structured slog loggers used by curator.
//
// The console handler renders a compact single-line format for operators,
// the JSON handler feeds the on-disk log, and the fanout handler lets the
// daemon write both at once. Context helpers tag lines with execution,
// dataset, and step identifiers so consumer and orchestrator output can be
// correlated without threading attributes by hand.
package logging
