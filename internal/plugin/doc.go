// Package plugin defines the closed set of workflow step kinds and the
// handler registry that resolves each kind to its implementation.
//
// A kind's group and order hint are descriptive metadata for tooling. The
// position of a step inside a workflow definition is what decides execution
// order; nothing in this package reorders steps.
package plugin
