// Package swrcache implements a generic stale-while-revalidate resource store
// with request coalescing, bounded per-partition eviction, and optimistic
// mutation with rollback. A cached value is served immediately; if it has
// exceeded its class TTL, exactly one refresh is coordinated no matter how
// many consumers ask at once.
//
// Components:
//   - Store[V]: per-resource cache table + TTL policy + fetch orchestration.
//   - Mutable[V, P]: Store[V] plus optimistic writes and draft-edit sessions.
//   - flight.Coordinator: in-flight request dedup with bound and stale sweep.
//   - epoch.Store: per-partition invalidation counters. Local (in-process) by
//     default, optional Redis implementation for restart persistence.
//   - Provider / Codec[V]: byte store + serializer for snapshot persistence.
//
// Keys:
//
//	<resource>:<partition>:<canonical-query>  - cache table entries
//	GET <resource>/<partition>?<query>        - in-flight request keys
//	snap:<resource>                           - persisted snapshots
//
// SWR pattern:
//
//	res, ok := store.Read("G1", q)             // synchronous, never fetches
//	go store.EnsureFresh(ctx, "G1", q, false)  // fetches only if stale/absent
package swrcache
