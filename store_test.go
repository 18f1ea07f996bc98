package swrcache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/swrcache/epoch"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, fetch FetchFunc[[]string], optsOpt func(*Options[[]string])) *Store[[]string] {
	t.Helper()
	opts := Options[[]string]{
		Resource: "members",
		Fetch:    fetch,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func pageQuery(page int) Query {
	return Query{"page": strconv.Itoa(page), "limit": "20"}
}

// ==============================
// Dedup / coalescing
// ==============================

// Five near-simultaneous EnsureFresh calls for the same key must produce
// exactly one transport call, and every caller must observe the same outcome.
func TestEnsureFreshCoalescesConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})

	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		calls.Add(1)
		<-release
		return Result[[]string]{Value: []string{"ada", "grace"}}, nil
	}
	s := newTestStore(t, fetch, nil)

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = s.EnsureFresh(ctx, "G1", pageQuery(1), false)
		}(i)
	}

	// let everyone join the in-flight fetch, then let it resolve
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 transport call, got %d", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: unexpected error %v", i, err)
		}
	}
	res, ok := s.Read("G1", pageQuery(1))
	if !ok || len(res.Value) != 2 {
		t.Fatalf("expected cached roster after coalesced fetch, ok=%v res=%v", ok, res)
	}
	if s.table.size("G1") != 1 {
		t.Fatalf("expected 1 cache entry, got %d", s.table.size("G1"))
	}
}

// A failed coalesced fetch must reject every caller with the same error and
// must not leave a lingering in-flight entry blocking retries.
func TestEnsureFreshSharedFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		calls.Add(1)
		return Result[[]string]{}, &APIError{Status: 500, Message: "boom"}
	}
	s := newTestStore(t, fetch, nil)

	err1 := s.EnsureFresh(ctx, "G1", pageQuery(1), false)
	if err1 == nil {
		t.Fatal("expected error from failing fetch")
	}
	err2 := s.EnsureFresh(ctx, "G1", pageQuery(1), false)
	if err2 == nil {
		t.Fatal("expected error on retry")
	}
	if calls.Load() != 2 {
		t.Fatalf("retry should issue a new fetch, calls=%d", calls.Load())
	}
}

// ==============================
// TTL policy
// ==============================

func TestTTLGovernsRevalidation(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		calls.Add(1)
		return Result[[]string]{Value: []string{"x"}}, nil
	}
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.ListTTL = 30 * time.Second
		o.Clock = clock.Now
	})

	if err := s.EnsureFresh(ctx, "G1", pageQuery(1), false); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d", calls.Load())
	}

	// fresh: no transport call
	clock.Advance(10 * time.Second)
	if err := s.EnsureFresh(ctx, "G1", pageQuery(1), false); err != nil {
		t.Fatalf("EnsureFresh (fresh): %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("fresh entry must not refetch, calls=%d", calls.Load())
	}
	if res, _ := s.Read("G1", pageQuery(1)); res.Stale {
		t.Fatal("entry should not be stale yet")
	}

	// past threshold: always refetches
	clock.Advance(21 * time.Second)
	if res, _ := s.Read("G1", pageQuery(1)); !res.Stale {
		t.Fatal("entry should be stale past TTL")
	}
	if err := s.EnsureFresh(ctx, "G1", pageQuery(1), false); err != nil {
		t.Fatalf("EnsureFresh (stale): %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("stale entry must refetch, calls=%d", calls.Load())
	}

	// force ignores freshness
	if err := s.EnsureFresh(ctx, "G1", pageQuery(1), true); err != nil {
		t.Fatalf("EnsureFresh (force): %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("force must refetch, calls=%d", calls.Load())
	}
}

func TestSearchClassUsesShortTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		calls.Add(1)
		return Result[[]string]{Value: []string{"x"}}, nil
	}
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.ListTTL = 5 * time.Minute
		o.SearchTTL = 30 * time.Second
		o.Clock = clock.Now
	})

	q := Query{"page": "1", "limit": "20", "search": "ada"}
	if err := s.EnsureFresh(ctx, "G1", q, false); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	clock.Advance(45 * time.Second)
	res, ok := s.Read("G1", q)
	if !ok || !res.Stale {
		t.Fatalf("search entry should be stale after 45s, ok=%v stale=%v", ok, res.Stale)
	}
	if err := s.EnsureFresh(ctx, "G1", q, false); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("search entry past its TTL must refetch, calls=%d", calls.Load())
	}
}

// ==============================
// Eviction
// ==============================

func TestEvictionDropsOldestByInsertion(t *testing.T) {
	ctx := context.Background()
	fetch := func(_ context.Context, _ string, q Query) (Result[[]string], error) {
		return Result[[]string]{Value: []string{q["page"]}}, nil
	}

	var evicted []string
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.MaxEntriesPerPartition = 2
		o.Hooks = &recordingHooks{onEvict: func(key string) { evicted = append(evicted, key) }}
	})

	for page := 1; page <= 3; page++ {
		if err := s.EnsureFresh(ctx, "G1", pageQuery(page), false); err != nil {
			t.Fatalf("EnsureFresh page %d: %v", page, err)
		}
	}

	if _, ok := s.Read("G1", pageQuery(1)); ok {
		t.Fatal("oldest entry (page 1) should have been evicted")
	}
	for page := 2; page <= 3; page++ {
		if _, ok := s.Read("G1", pageQuery(page)); !ok {
			t.Fatalf("page %d should be present", page)
		}
	}
	if got := s.table.size("G1"); got != 2 {
		t.Fatalf("partition size must never exceed bound, got %d", got)
	}
	if len(evicted) != 1 {
		t.Fatalf("exactly one eviction expected, got %v", evicted)
	}
}

// Re-fetching an existing key keeps its original insertion slot; it is not
// promoted, so it is still the next to go. Documented behavior, not a bug.
func TestRefetchDoesNotPromote(t *testing.T) {
	ctx := context.Background()
	fetch := func(_ context.Context, _ string, q Query) (Result[[]string], error) {
		return Result[[]string]{Value: []string{q["page"]}}, nil
	}
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.MaxEntriesPerPartition = 2
	})

	for page := 1; page <= 2; page++ {
		if err := s.EnsureFresh(ctx, "G1", pageQuery(page), false); err != nil {
			t.Fatalf("EnsureFresh: %v", err)
		}
	}
	// refresh page 1; its insertion-order position must not change
	if err := s.EnsureFresh(ctx, "G1", pageQuery(1), true); err != nil {
		t.Fatalf("EnsureFresh force: %v", err)
	}
	if err := s.EnsureFresh(ctx, "G1", pageQuery(3), false); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	if _, ok := s.Read("G1", pageQuery(1)); ok {
		t.Fatal("page 1 should still be the eviction candidate after re-fetch")
	}
	if _, ok := s.Read("G1", pageQuery(2)); !ok {
		t.Fatal("page 2 should survive")
	}
}

// ==============================
// Error handling
// ==============================

func TestStaleValueRemainsVisibleOnFailedRevalidate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var fail atomic.Bool
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		if fail.Load() {
			return Result[[]string]{}, &APIError{Status: 502, Message: "bad gateway"}
		}
		return Result[[]string]{Value: []string{"kept"}}, nil
	}
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.ListTTL = 30 * time.Second
		o.Clock = clock.Now
	})

	if err := s.EnsureFresh(ctx, "G1", pageQuery(1), false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fail.Store(true)
	clock.Advance(time.Minute)
	err := s.EnsureFresh(ctx, "G1", pageQuery(1), false)
	if err == nil {
		t.Fatal("expected revalidation failure")
	}

	var rerr *ResourceError
	if !errors.As(err, &rerr) || rerr.Class != ClassServer {
		t.Fatalf("expected server-class ResourceError, got %v", err)
	}
	if rerr.Message != MsgServer {
		t.Fatalf("message = %q, want %q", rerr.Message, MsgServer)
	}

	// stale data stays visible alongside the error
	res, ok := s.Read("G1", pageQuery(1))
	if !ok || res.Value[0] != "kept" || !res.Stale {
		t.Fatalf("stale value should remain visible, ok=%v res=%v", ok, res)
	}
	if s.Err("G1") == nil {
		t.Fatal("store error should be set for consumers")
	}

	// recovery clears the error
	fail.Store(false)
	if err := s.EnsureFresh(ctx, "G1", pageQuery(1), true); err != nil {
		t.Fatalf("recovery fetch: %v", err)
	}
	if s.Err("G1") != nil {
		t.Fatal("error should clear after successful fetch")
	}
}

func TestRateLimitSurfacedDistinctlyAndNeverRetried(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		calls.Add(1)
		return Result[[]string]{}, &APIError{Status: 429, Message: "slow down"}
	}
	var limited atomic.Int32
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.Hooks = &recordingHooks{onRateLimited: func() { limited.Add(1) }}
	})

	err := s.EnsureFresh(ctx, "G1", pageQuery(1), false)
	var rerr *ResourceError
	if !errors.As(err, &rerr) || rerr.Class != ClassRateLimited {
		t.Fatalf("expected rate-limit class, got %v", err)
	}
	if rerr.Message != MsgRateLimited {
		t.Fatalf("message = %q, want %q", rerr.Message, MsgRateLimited)
	}
	if calls.Load() != 1 {
		t.Fatalf("a 429 must not trigger an automatic second call, calls=%d", calls.Load())
	}
	if limited.Load() != 1 {
		t.Fatalf("rate-limit hook should fire once, got %d", limited.Load())
	}

	// an explicit later attempt is permitted (no lingering in-flight block)
	_ = s.EnsureFresh(ctx, "G1", pageQuery(1), false)
	if calls.Load() != 2 {
		t.Fatalf("explicit retry should reach the transport, calls=%d", calls.Load())
	}
}

func TestNotFoundCachedAsEmptyWhenConfigured(t *testing.T) {
	ctx := context.Background()
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		return Result[[]string]{}, &APIError{Status: 404, Message: "no tracker"}
	}
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.EmptyOnNotFound = true
	})

	if err := s.EnsureFresh(ctx, "U1", nil, false); err != nil {
		t.Fatalf("404 should read as empty, got %v", err)
	}
	res, ok := s.Read("U1", nil)
	if !ok || len(res.Value) != 0 {
		t.Fatalf("expected cached empty result, ok=%v res=%v", ok, res)
	}
	if s.Err("U1") != nil {
		t.Fatal("404-as-empty must not record an error")
	}
}

// ==============================
// Loading signal
// ==============================

func TestLoadingOnlyWhenNothingCached(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		<-release
		return Result[[]string]{Value: []string{"v"}}, nil
	}
	clock := newFakeClock()
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.ListTTL = 30 * time.Second
		o.Clock = clock.Now
	})

	done := make(chan error, 1)
	go func() { done <- s.EnsureFresh(ctx, "G1", pageQuery(1), false) }()

	time.Sleep(30 * time.Millisecond)
	if !s.Loading("G1", pageQuery(1)) {
		t.Fatal("first fetch with empty cache should expose loading")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if s.Loading("G1", pageQuery(1)) {
		t.Fatal("loading must clear once the fetch settles")
	}

	// with a (stale) value cached, revalidation must not flip to loading
	release = make(chan struct{})
	fetchHold := release
	clock.Advance(time.Minute)
	go func() { done <- s.EnsureFresh(ctx, "G1", pageQuery(1), false) }()
	time.Sleep(30 * time.Millisecond)
	if s.Loading("G1", pageQuery(1)) {
		t.Fatal("background revalidation must not expose a blocking-loading signal")
	}
	close(fetchHold)
	<-done
}

// ==============================
// Input guards / invalidate / disabled
// ==============================

func TestEmptyPartitionIsNoop(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		calls.Add(1)
		return Result[[]string]{}, nil
	}
	s := newTestStore(t, fetch, nil)

	if _, ok := s.Read("", nil); ok {
		t.Fatal("read with empty partition should miss")
	}
	if err := s.EnsureFresh(ctx, "", nil, false); err != nil {
		t.Fatalf("empty-partition refresh should no-op, got %v", err)
	}
	if err := s.Invalidate(ctx, ""); err != nil {
		t.Fatalf("empty-partition invalidate should no-op, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("no transport calls expected, got %d", calls.Load())
	}
}

func TestInvalidateDropsPartitionAndBumpsEpoch(t *testing.T) {
	ctx := context.Background()
	eps := epoch.NewLocal(0, 0)
	t.Cleanup(func() { _ = eps.Close(ctx) })

	fetch := func(_ context.Context, _ string, q Query) (Result[[]string], error) {
		return Result[[]string]{Value: []string{q["page"]}}, nil
	}
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.Epochs = eps
	})

	for page := 1; page <= 2; page++ {
		if err := s.EnsureFresh(ctx, "G1", pageQuery(page), false); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := s.EnsureFresh(ctx, "G2", pageQuery(1), false); err != nil {
		t.Fatalf("seed G2: %v", err)
	}

	if err := s.Invalidate(ctx, "G1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if s.table.size("G1") != 0 {
		t.Fatal("G1 should be empty after invalidate")
	}
	if s.table.size("G2") != 1 {
		t.Fatal("other partitions must be untouched")
	}
	if ep, _ := eps.Current(ctx, "G1"); ep != 1 {
		t.Fatalf("epoch should bump on invalidate, got %d", ep)
	}
}

func TestDisabledStoreAlwaysFetches(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		n := calls.Add(1)
		return Result[[]string]{Value: []string{strconv.Itoa(int(n))}}, nil
	}
	s := newTestStore(t, fetch, func(o *Options[[]string]) {
		o.Disabled = true
	})

	for i := 0; i < 2; i++ {
		if err := s.EnsureFresh(ctx, "G1", pageQuery(1), false); err != nil {
			t.Fatalf("EnsureFresh: %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("disabled store must bypass TTL, calls=%d", calls.Load())
	}
	res, ok := s.Read("G1", pageQuery(1))
	if !ok || res.Value[0] != "2" {
		t.Fatalf("disabled store should still serve the latest value, got %v", res)
	}
}

// A canceled caller stops waiting, but the issued fetch runs to completion
// and its result is cached for everyone else.
func TestCanceledCallerDoesNotAbortFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		calls.Add(1)
		<-release
		return Result[[]string]{Value: []string{"late"}}, nil
	}
	s := newTestStore(t, fetch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.EnsureFresh(ctx, "G1", pageQuery(1), false) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller should observe its ctx error, got %v", err)
	}
	close(release)

	// give the detached fetch a moment to settle and commit
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.Read("G1", pageQuery(1)); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fetch result should be cached even after caller cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

// recordingHooks implements Hooks with optional callbacks.
type recordingHooks struct {
	NopHooks
	onEvict       func(key string)
	onRateLimited func()
	onRollback    func()
	onConflict    func()
	onSnapSkip    func(partition, reason string)
}

func (h *recordingHooks) EntryEvicted(_, _, key string) {
	if h.onEvict != nil {
		h.onEvict(key)
	}
}

func (h *recordingHooks) RateLimited(_, _ string) {
	if h.onRateLimited != nil {
		h.onRateLimited()
	}
}

func (h *recordingHooks) RollbackApplied(_, _ string) {
	if h.onRollback != nil {
		h.onRollback()
	}
}

func (h *recordingHooks) ConflictRejected(_, _ string) {
	if h.onConflict != nil {
		h.onConflict()
	}
}

func (h *recordingHooks) SnapshotSkipped(_, partition, reason string) {
	if h.onSnapSkip != nil {
		h.onSnapSkip(partition, reason)
	}
}
