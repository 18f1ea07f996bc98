package swrcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/epoch"
	"github.com/unkn0wn-root/swrcache/provider"
)

// memProvider is an in-memory byte store for snapshot tests.
type memProvider struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemProvider() *memProvider {
	return &memProvider{data: make(map[string][]byte)}
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	p.data[key] = cp
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

var _ provider.Provider = (*memProvider)(nil)

func newSnapshotStore(t *testing.T, p provider.Provider, eps epoch.Store, clock func() time.Time, fetch FetchFunc[[]string]) *Store[[]string] {
	t.Helper()
	if fetch == nil {
		fetch = func(_ context.Context, _ string, q Query) (Result[[]string], error) {
			return Result[[]string]{
				Value: []string{"p" + q["page"]},
				Page:  &Page{Page: 1, Limit: 20, Total: 41, Pages: 3},
			}, nil
		}
	}
	s, err := New(Options[[]string]{
		Resource: "members",
		Fetch:    fetch,
		Epochs:   eps,
		Clock:    clock,
		Snapshot: &SnapshotConfig[[]string]{
			Provider: p,
			Codec:    codec.JSON[[]string]{},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	prov := newMemProvider()
	eps := epoch.NewLocal(0, 0)
	t.Cleanup(func() { _ = eps.Close(ctx) })
	clock := newFakeClock()

	src := newSnapshotStore(t, prov, eps, clock.Now, nil)
	for _, part := range []string{"G1", "G2"} {
		if err := src.EnsureFresh(ctx, part, pageQuery(1), false); err != nil {
			t.Fatalf("seed %s: %v", part, err)
		}
	}
	if err := src.SaveSnapshot(ctx); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// a fresh instance, same epochs, restores everything
	dst := newSnapshotStore(t, prov, eps, clock.Now, nil)
	if err := dst.RestoreSnapshot(ctx); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	for _, part := range []string{"G1", "G2"} {
		res, ok := dst.Read(part, pageQuery(1))
		if !ok {
			t.Fatalf("%s missing after restore", part)
		}
		if res.Value[0] != "p1" {
			t.Fatalf("%s value = %v", part, res.Value)
		}
		if res.Page == nil || res.Page.Total != 41 || res.Page.Pages != 3 {
			t.Fatalf("%s pagination lost in restore: %+v", part, res.Page)
		}
		if res.Stale {
			t.Fatalf("%s should still be within TTL", part)
		}
	}
}

// A restored entry keeps its original timestamp: if it was past its TTL at
// restore time it is stale immediately and revalidates on first use.
func TestRestoredEntriesKeepAge(t *testing.T) {
	ctx := context.Background()
	prov := newMemProvider()
	eps := epoch.NewLocal(0, 0)
	t.Cleanup(func() { _ = eps.Close(ctx) })
	clock := newFakeClock()

	src := newSnapshotStore(t, prov, eps, clock.Now, nil)
	if err := src.EnsureFresh(ctx, "G1", pageQuery(1), false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := src.SaveSnapshot(ctx); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// "restart" happens well past the list TTL
	clock.Advance(10 * time.Minute)
	dst := newSnapshotStore(t, prov, eps, clock.Now, nil)
	if err := dst.RestoreSnapshot(ctx); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	res, ok := dst.Read("G1", pageQuery(1))
	if !ok || !res.Stale {
		t.Fatalf("restored entry should be stale from tick one, ok=%v stale=%v", ok, res.Stale)
	}
}

func TestRestoreSkipsInvalidatedPartitions(t *testing.T) {
	ctx := context.Background()
	prov := newMemProvider()
	eps := epoch.NewLocal(0, 0)
	t.Cleanup(func() { _ = eps.Close(ctx) })
	clock := newFakeClock()

	src := newSnapshotStore(t, prov, eps, clock.Now, nil)
	for _, part := range []string{"G1", "G2"} {
		if err := src.EnsureFresh(ctx, part, pageQuery(1), false); err != nil {
			t.Fatalf("seed %s: %v", part, err)
		}
	}
	if err := src.SaveSnapshot(ctx); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// G1 is invalidated after the save; its saved epoch no longer matches
	if err := src.Invalidate(ctx, "G1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	var skipped []string
	dst := newSnapshotStore(t, prov, eps, clock.Now, nil)
	dst.hooks = &recordingHooks{onSnapSkip: func(partition, reason string) {
		skipped = append(skipped, partition+"/"+reason)
	}}
	if err := dst.RestoreSnapshot(ctx); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	if _, ok := dst.Read("G1", pageQuery(1)); ok {
		t.Fatal("invalidated partition must not restore")
	}
	if _, ok := dst.Read("G2", pageQuery(1)); !ok {
		t.Fatal("untouched partition should restore")
	}
	if len(skipped) != 1 || skipped[0] != "G1/epoch_mismatch" {
		t.Fatalf("skipped = %v", skipped)
	}
}

func TestRestoreNeverOverwritesFreshData(t *testing.T) {
	ctx := context.Background()
	prov := newMemProvider()
	eps := epoch.NewLocal(0, 0)
	t.Cleanup(func() { _ = eps.Close(ctx) })
	clock := newFakeClock()

	src := newSnapshotStore(t, prov, eps, clock.Now, nil)
	if err := src.EnsureFresh(ctx, "G1", pageQuery(1), false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := src.SaveSnapshot(ctx); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	fetchNew := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		return Result[[]string]{Value: []string{"fresh"}}, nil
	}
	dst := newSnapshotStore(t, prov, eps, clock.Now, fetchNew)
	if err := dst.EnsureFresh(ctx, "G1", pageQuery(1), false); err != nil {
		t.Fatalf("fetch before restore: %v", err)
	}
	if err := dst.RestoreSnapshot(ctx); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	res, _ := dst.Read("G1", pageQuery(1))
	if res.Value[0] != "fresh" {
		t.Fatalf("restore must not clobber data fetched since startup, got %v", res.Value)
	}
}

func TestCorruptSnapshotSelfHeals(t *testing.T) {
	ctx := context.Background()
	prov := newMemProvider()
	eps := epoch.NewLocal(0, 0)
	t.Cleanup(func() { _ = eps.Close(ctx) })

	s := newSnapshotStore(t, prov, eps, nil, nil)
	if _, err := prov.Set(ctx, s.snapshotKey(), []byte("not a snapshot"), 1, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var skipped []string
	s.hooks = &recordingHooks{onSnapSkip: func(partition, reason string) {
		skipped = append(skipped, reason)
	}}
	if err := s.RestoreSnapshot(ctx); err != nil {
		t.Fatalf("corrupt snapshot should be ignored, got %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "corrupt" {
		t.Fatalf("skipped = %v", skipped)
	}
	if _, ok, _ := prov.Get(ctx, s.snapshotKey()); ok {
		t.Fatal("corrupt snapshot should be deleted")
	}
}

func TestSnapshotUnconfigured(t *testing.T) {
	ctx := context.Background()
	fetch := func(_ context.Context, _ string, _ Query) (Result[[]string], error) {
		return Result[[]string]{}, nil
	}
	s := newTestStore(t, fetch, nil)
	if err := s.SaveSnapshot(ctx); err != ErrNoSnapshot {
		t.Fatalf("SaveSnapshot = %v, want ErrNoSnapshot", err)
	}
	if err := s.RestoreSnapshot(ctx); err != ErrNoSnapshot {
		t.Fatalf("RestoreSnapshot = %v, want ErrNoSnapshot", err)
	}
}
