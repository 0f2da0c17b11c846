// Package storage persists ferry's durable state.
//
// It currently holds:
//   - Scheduled job records (snapshot, rewritten on every mutation)
//   - Transfer profile records (snapshot)
//   - Run log appends (one record per executed/skipped job)
//
// Persisted next-run values are advisory only: registries recalculate all
// next-run instants on load and never trust what was stored.
package storage
