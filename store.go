package swrcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/swrcache/epoch"
	"github.com/unkn0wn-root/swrcache/flight"
	"github.com/unkn0wn-root/swrcache/internal/keys"
)

const (
	defaultListTTL    = 5 * time.Minute
	defaultSearchTTL  = 30 * time.Second
	defaultMaxEntries = 25
)

// Store is a per-resource stale-while-revalidate cache. All state is owned
// by the instance; there are no package-level tables. Safe for concurrent
// use.
type Store[V any] struct {
	resource      string
	fetch         FetchFunc[V]
	listTTL       time.Duration
	searchTTL     time.Duration
	classifyQuery func(Query) QueryClass
	emptyOn404    bool
	enabled       bool

	fl        *flight.Coordinator
	epochs    epoch.Store
	ownEpochs bool
	log       Logger
	hooks     Hooks
	now       func() time.Time
	snap      *SnapshotConfig[V]

	mu      sync.Mutex
	table   *partitionTable[V]
	errs    map[string]*ResourceError
	loading map[string]int // entry key -> callers waiting with nothing cached
}

func newStore[V any](opts Options[V]) (*Store[V], error) {
	if opts.Resource == "" {
		return nil, fmt.Errorf("swrcache: resource is required")
	}
	if opts.Fetch == nil {
		return nil, fmt.Errorf("swrcache: fetch is required")
	}

	s := &Store[V]{
		resource:   opts.Resource,
		fetch:      opts.Fetch,
		emptyOn404: opts.EmptyOnNotFound,
		enabled:    !opts.Disabled,
		snap:       opts.Snapshot,
		errs:       make(map[string]*ResourceError),
		loading:    make(map[string]int),
	}

	// defaults
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.listTTL = coalesce[time.Duration](opts.ListTTL, defaultListTTL)
	s.searchTTL = coalesce[time.Duration](opts.SearchTTL, defaultSearchTTL)

	max := opts.MaxEntriesPerPartition
	if max <= 0 {
		max = defaultMaxEntries
	}
	s.table = newPartitionTable[V](max)

	if opts.Classify != nil {
		s.classifyQuery = opts.Classify
	} else {
		s.classifyQuery = func(q Query) QueryClass {
			if q["search"] != "" {
				return QuerySearch
			}
			return QueryList
		}
	}

	if opts.Clock != nil {
		s.now = opts.Clock
	} else {
		s.now = time.Now
	}

	if opts.Flight != nil {
		s.fl = opts.Flight
	} else {
		s.fl = flight.New(flight.Options{
			OnDrop: func(key, reason string) { s.hooks.FlightDropped(key, reason) },
			Clock:  opts.Clock,
		})
	}

	if opts.Epochs != nil {
		s.epochs = opts.Epochs
	} else {
		s.epochs = epoch.NewLocal(0, 0)
		s.ownEpochs = true
	}

	return s, nil
}

func (s *Store[V]) Resource() string { return s.resource }

func (s *Store[V]) Enabled() bool { return s.enabled }

func (s *Store[V]) Close(ctx context.Context) error {
	if s.ownEpochs {
		return s.epochs.Close(ctx)
	}
	return nil
}

// Read is the synchronous, cache-only view. It never triggers network
// activity; consumers render from it and fire EnsureFresh as a side effect.
func (s *Store[V]) Read(partition string, q Query) (ReadResult[V], bool) {
	var zero ReadResult[V]
	if partition == "" {
		s.log.Warn("read with empty partition ignored", Fields{"resource": s.resource})
		return zero, false
	}
	key := s.entryKey(partition, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table.get(partition, key)
	if !ok {
		return zero, false
	}
	return ReadResult[V]{Value: e.value, Page: e.page, Stale: s.staleLocked(e)}, true
}

// Loading reports whether a fetch for (partition, q) is underway with no
// cached value to show. While a stale value exists this stays false - the
// old value remains visible and revalidation happens in the background.
func (s *Store[V]) Loading(partition string, q Query) bool {
	key := s.entryKey(partition, q)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[key] > 0
}

// Err returns the last classified fetch/mutation failure for the partition,
// or nil. It is cleared by the next successful fetch or an Invalidate.
func (s *Store[V]) Err(partition string) *ResourceError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[partition]
}

// EnsureFresh is the stale-while-revalidate entry point. With force=false a
// fresh cached entry resolves immediately with no transport call; otherwise
// exactly one fetch per request key is coordinated and its result written to
// the cache table. Concurrent callers for the same key share one fetch and
// one outcome.
func (s *Store[V]) EnsureFresh(ctx context.Context, partition string, q Query, force bool) error {
	if partition == "" {
		s.log.Warn("refresh with empty partition ignored", Fields{"resource": s.resource})
		return nil
	}
	key := s.entryKey(partition, q)

	s.mu.Lock()
	e, cached := s.table.get(partition, key)
	if cached && !force && s.enabled && !s.staleLocked(e) {
		s.mu.Unlock()
		return nil
	}
	if !cached {
		s.loading[key]++
	}
	s.mu.Unlock()

	err := s.revalidate(ctx, partition, key, q)

	if !cached {
		s.mu.Lock()
		if s.loading[key] <= 1 {
			delete(s.loading, key)
		} else {
			s.loading[key]--
		}
		s.mu.Unlock()
	}
	return err
}

// Invalidate drops all entries for the partition and bumps its epoch so
// stale snapshots of it are rejected on restore. Used after destructive
// server-side operations (e.g. a settings reset).
func (s *Store[V]) Invalidate(ctx context.Context, partition string) error {
	if partition == "" {
		s.log.Warn("invalidate with empty partition ignored", Fields{"resource": s.resource})
		return nil
	}

	s.mu.Lock()
	dropped := s.table.invalidatePartition(partition)
	delete(s.errs, partition)
	s.mu.Unlock()

	if _, err := s.epochs.Bump(ctx, partition); err != nil {
		// cache is already dropped; a missed bump only weakens snapshot
		// validation, so log instead of failing the invalidate
		s.log.Error("epoch bump failed", Fields{"resource": s.resource, "partition": partition, "err": err})
	}

	s.hooks.PartitionInvalidated(s.resource, partition, dropped)
	s.log.Debug("partition invalidated", Fields{"resource": s.resource, "partition": partition, "dropped": dropped})
	return nil
}

func (s *Store[V]) revalidate(ctx context.Context, partition, key string, q Query) error {
	op := func() (any, error) {
		// detached ctx: once issued, the fetch runs to completion and its
		// result is cached even if the triggering caller went away
		res, ferr := s.fetch(context.WithoutCancel(ctx), partition, q)
		if ferr != nil {
			if s.emptyOn404 && ClassOf(ferr) == ClassNotFound {
				res = Result[V]{} // absence is a normal state for this store
			} else {
				return nil, ferr
			}
		}
		s.commit(partition, key, q, res)
		return res, nil
	}

	var err error
	if s.enabled {
		rk := keys.Request("GET", s.resource+"/"+partition, keys.Canonical(q))
		_, err, _ = s.fl.Do(ctx, rk, op)
	} else {
		_, err = op()
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// the caller stopped waiting; the shared fetch is still running and
		// will settle the store state itself
		return err
	}

	rerr := s.resourceError(partition, err)
	s.mu.Lock()
	s.errs[partition] = rerr
	s.mu.Unlock()

	if rerr.Class == ClassRateLimited {
		s.hooks.RateLimited(s.resource, partition)
	}
	s.log.Warn("fetch failed", Fields{
		"resource":  s.resource,
		"partition": partition,
		"class":     rerr.Class.String(),
		"err":       err,
	})
	return rerr
}

// commit writes a fetch result into the cache table, evicting the oldest
// entry if the partition is at capacity.
func (s *Store[V]) commit(partition, key string, q Query, res Result[V]) {
	e := &tableEntry[V]{
		value:    res.Value,
		page:     res.Page,
		class:    s.classifyQuery(q),
		storedAt: s.now(),
	}

	s.mu.Lock()
	evicted, didEvict := s.table.put(partition, key, e)
	delete(s.errs, partition)
	s.mu.Unlock()

	if didEvict {
		s.hooks.EntryEvicted(s.resource, partition, evicted)
		s.log.Debug("evicted oldest entry", Fields{"resource": s.resource, "partition": partition, "key": evicted})
	}
}

func (s *Store[V]) resourceError(partition string, err error) *ResourceError {
	class := ClassOf(err)
	return &ResourceError{
		Resource:  s.resource,
		Partition: partition,
		Class:     class,
		Message:   messageFor(class),
		Err:       err,
	}
}

func (s *Store[V]) entryKey(partition string, q Query) string {
	return keys.Entry(s.resource, partition, keys.Canonical(q))
}

func (s *Store[V]) staleLocked(e *tableEntry[V]) bool {
	ttl := s.listTTL
	if e.class == QuerySearch {
		ttl = s.searchTTL
	}
	return s.now().Sub(e.storedAt) > ttl
}
