package swrcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The store calls them on hot paths.
type Hooks interface {
	// A partition hit its entry bound and the oldest entry was dropped.
	EntryEvicted(resource, partition, key string)

	// An explicit Invalidate dropped a whole partition.
	// dropped is the number of entries removed.
	PartitionInvalidated(resource, partition string, dropped int)

	// The coordinator force-dropped an in-flight entry.
	// reason ∈ {"overflow", "timeout"}
	FlightDropped(key, reason string)

	// The transport answered 429. The store never retries these.
	RateLimited(resource, partition string)

	// A failed mutation was rolled back to the pre-mutation snapshot.
	RollbackApplied(resource, partition string)

	// A Mutate arrived while another write for the partition was outstanding.
	ConflictRejected(resource, partition string)

	// A persisted snapshot (or one of its partitions) was not restored.
	// reason ∈ {"corrupt", "epoch_mismatch", "epoch_error"}
	SnapshotSkipped(resource, partition, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) EntryEvicted(string, string, string)        {}
func (NopHooks) PartitionInvalidated(string, string, int)   {}
func (NopHooks) FlightDropped(string, string)               {}
func (NopHooks) RateLimited(string, string)                 {}
func (NopHooks) RollbackApplied(string, string)             {}
func (NopHooks) ConflictRejected(string, string)            {}
func (NopHooks) SnapshotSkipped(string, string, string)     {}
