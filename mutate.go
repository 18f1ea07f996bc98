package swrcache

import (
	"context"
	"fmt"
	"sync"
)

// WriteFunc sends a partial patch to the external transport.
type WriteFunc[P any] func(ctx context.Context, partition string, patch P) error

// CommitFunc sends a full value to the external transport. Used by the
// draft-edit protocol, which batches many field edits into one round trip.
type CommitFunc[V any] func(ctx context.Context, partition string, value V) error

// MergeFunc applies a patch to a value and returns the result. It must be
// pure: no mutation of current, no I/O. The returned value is published to
// consumers before the server has confirmed anything.
type MergeFunc[V, P any] func(current V, patch P) V

// MutableConfig wires the write side of a mutable resource.
type MutableConfig[V, P any] struct {
	Write WriteFunc[P]    // required
	Merge MergeFunc[V, P] // required
	// Commit enables the draft-edit protocol (BeginEdit/UpdateDraft/
	// CommitDraft/CancelEdit). Optional for per-toggle resources.
	Commit CommitFunc[V]
}

// Mutable extends Store with optimistic mutation and draft-edit sessions.
// Mutable resources hold one value per partition (the empty query).
type Mutable[V, P any] struct {
	*Store[V]
	write  WriteFunc[P]
	merge  MergeFunc[V, P]
	commit CommitFunc[V]

	wmu     sync.Mutex
	pending map[string]bool // partition -> write outstanding
	drafts  map[string]*V
}

// NewMutable constructs a store for a resource that accepts writes.
func NewMutable[V, P any](opts Options[V], cfg MutableConfig[V, P]) (*Mutable[V, P], error) {
	if cfg.Write == nil {
		return nil, fmt.Errorf("swrcache: write func is required")
	}
	if cfg.Merge == nil {
		return nil, fmt.Errorf("swrcache: merge func is required")
	}
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	return &Mutable[V, P]{
		Store:   s,
		write:   cfg.Write,
		merge:   cfg.Merge,
		commit:  cfg.Commit,
		pending: make(map[string]bool),
		drafts:  make(map[string]*V),
	}, nil
}

// Mutate applies patch optimistically - consumers see the merged value
// immediately - then issues the write. On failure the pre-mutation snapshot
// is restored, truth is re-synced from the transport, and the classified
// error is surfaced. A second Mutate for the same partition while one is
// outstanding fails fast with ErrConflict; writes are never interleaved.
func (m *Mutable[V, P]) Mutate(ctx context.Context, partition string, patch P) error {
	if partition == "" {
		m.log.Warn("mutate with empty partition ignored", Fields{"resource": m.resource})
		return nil
	}
	if err := m.acquire(partition); err != nil {
		return err
	}
	defer m.release(partition)

	key := m.entryKey(partition, nil)

	m.mu.Lock()
	snap, had := m.table.get(partition, key)
	if had {
		m.table.put(partition, key, &tableEntry[V]{
			value:    m.merge(snap.value, patch),
			page:     snap.page,
			class:    snap.class,
			storedAt: snap.storedAt, // optimistic publish, not a fetch
		})
	}
	m.mu.Unlock()

	err := m.write(ctx, partition, patch)
	if err == nil {
		// the optimistic value is now authoritative
		m.mu.Lock()
		delete(m.errs, partition)
		m.mu.Unlock()
		return nil
	}
	return m.rollback(ctx, partition, key, snap, had, err)
}

// BeginEdit seeds a draft copy of the partition's cached value. Repeated
// UpdateDraft calls merge into it in call order without touching the
// network; CommitDraft or CancelEdit ends the session.
func (m *Mutable[V, P]) BeginEdit(partition string) error {
	if partition == "" {
		m.log.Warn("begin edit with empty partition ignored", Fields{"resource": m.resource})
		return ErrNoValue
	}
	key := m.entryKey(partition, nil)

	m.wmu.Lock()
	defer m.wmu.Unlock()
	if _, ok := m.drafts[partition]; ok {
		return ErrEditPending
	}

	m.mu.Lock()
	e, ok := m.table.get(partition, key)
	m.mu.Unlock()
	if !ok {
		return ErrNoValue
	}

	v := e.value
	m.drafts[partition] = &v
	return nil
}

// UpdateDraft merges a patch into the draft. Pure in-memory; last writer
// wins per field.
func (m *Mutable[V, P]) UpdateDraft(partition string, patch P) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	d, ok := m.drafts[partition]
	if !ok {
		return ErrNoDraft
	}
	*d = m.merge(*d, patch)
	return nil
}

// Draft returns the working copy, if an edit session is open.
func (m *Mutable[V, P]) Draft(partition string) (V, bool) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if d, ok := m.drafts[partition]; ok {
		return *d, true
	}
	var zero V
	return zero, false
}

// CancelEdit discards the draft without any network activity.
func (m *Mutable[V, P]) CancelEdit(partition string) {
	m.wmu.Lock()
	delete(m.drafts, partition)
	m.wmu.Unlock()
}

// CommitDraft publishes the draft optimistically and writes it as a full
// value. On success the draft is discarded; on failure it is kept so the
// user can retry, while the visible value rolls back.
func (m *Mutable[V, P]) CommitDraft(ctx context.Context, partition string) error {
	if m.commit == nil {
		return fmt.Errorf("swrcache: commit writer not configured for %s", m.resource)
	}

	m.wmu.Lock()
	d, ok := m.drafts[partition]
	if !ok {
		m.wmu.Unlock()
		return ErrNoDraft
	}
	if m.pending[partition] {
		m.wmu.Unlock()
		m.hooks.ConflictRejected(m.resource, partition)
		return ErrConflict
	}
	m.pending[partition] = true
	value := *d
	m.wmu.Unlock()
	defer m.release(partition)

	key := m.entryKey(partition, nil)

	m.mu.Lock()
	snap, had := m.table.get(partition, key)
	e := &tableEntry[V]{value: value, class: QueryList, storedAt: m.now()}
	if had {
		e.page = snap.page
		e.class = snap.class
		e.storedAt = snap.storedAt
	}
	m.table.put(partition, key, e)
	m.mu.Unlock()

	err := m.commit(ctx, partition, value)
	if err == nil {
		m.wmu.Lock()
		delete(m.drafts, partition) // discarded on successful commit
		m.wmu.Unlock()

		m.mu.Lock()
		delete(m.errs, partition)
		m.mu.Unlock()
		return nil
	}
	return m.rollback(ctx, partition, key, snap, had, err)
}

func (m *Mutable[V, P]) acquire(partition string) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if m.pending[partition] {
		m.hooks.ConflictRejected(m.resource, partition)
		return ErrConflict
	}
	m.pending[partition] = true
	return nil
}

func (m *Mutable[V, P]) release(partition string) {
	m.wmu.Lock()
	delete(m.pending, partition)
	m.wmu.Unlock()
}

// rollback discards the optimistic value, re-syncs truth from the transport,
// and records the classified error. The store never ends up believing a
// rejected write succeeded.
func (m *Mutable[V, P]) rollback(ctx context.Context, partition, key string, snap *tableEntry[V], had bool, werr error) error {
	m.mu.Lock()
	if had {
		m.table.put(partition, key, snap)
	} else {
		m.table.del(partition, key)
	}
	m.mu.Unlock()
	m.hooks.RollbackApplied(m.resource, partition)

	rerr := m.resourceError(partition, werr)
	if rerr.Class == ClassRateLimited {
		// no resync either: a 429 must not produce another transport call
		// from the same failed operation
		m.hooks.RateLimited(m.resource, partition)
	} else if err := m.EnsureFresh(context.WithoutCancel(ctx), partition, nil, true); err != nil {
		m.log.Warn("post-rollback resync failed", Fields{
			"resource":  m.resource,
			"partition": partition,
			"err":       err,
		})
	}

	// recorded after the resync so the mutation failure stays visible
	m.mu.Lock()
	m.errs[partition] = rerr
	m.mu.Unlock()

	m.log.Warn("mutation rolled back", Fields{
		"resource":  m.resource,
		"partition": partition,
		"class":     rerr.Class.String(),
		"err":       werr,
	})
	return rerr
}
