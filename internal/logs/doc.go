// Package logs reads the daemon's JSON log file for the CLI.
//
// Tail returns the last lines of the file (or everything after a byte offset)
// and, in follow mode, polls until new records arrive. Records are decoded
// into Entry values so callers can filter by execution or level and render
// them in a compact console form without talking to the daemon.
package logs
