// Package services defines the error kinds and context helpers shared by the
// scheduler, the store and the transport layers.
//
// Key responsibilities:
//   - Sentinel error kinds (dataset/workflow/execution/trigger not found or
//     already existing, invalid trigger) that every layer wraps with %w so
//     callers can classify failures with errors.Is.
//   - The Wrap helper that adds operation context while keeping the marker.
//   - Context helpers that stamp execution IDs, dataset IDs, step names and
//     correlation identifiers for logging.
//
// This package must stay a leaf: it imports nothing from the rest of the
// module so the store can return the same kinds the orchestrator does.
package services
