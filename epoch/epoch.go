// Package epoch tracks per-partition invalidation counters. A partition's
// epoch is bumped on every explicit invalidate; snapshot restores compare the
// epoch recorded at save time against the current one and drop partitions
// that were invalidated in between.
//
// Use Local (default) for in-process epochs, or Redis when epochs must
// survive restarts or be shared across replicas.
package epoch

import "context"

// Store abstracts where epochs live.
type Store interface {
	// Current returns the partition's epoch; missing => 0.
	Current(ctx context.Context, partition string) (uint64, error)
	// Bump atomically increments and returns the new epoch.
	Bump(ctx context.Context, partition string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
