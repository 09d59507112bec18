// Package execqueue holds references to pending executions in priority order.
//
// Lower priority values are served first, then older createdAt, then
// insertion order. Entries can be removed by id at any time, which is how a
// queued execution is cancelled before it is dispatched.
package execqueue
