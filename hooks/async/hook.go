// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/swrcache"
//	"github.com/unkn0wn-root/swrcache/hooks/async"
//	sloghook "github.com/unkn0wn-root/swrcache/sloghooks"
//
// )
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{
//	    EvictEvery:     10, // sample logs: ~every 10th eviction
//	    RateLimitEvery: 1,  // log every rate limit
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	store, _ := swrcache.New[[]Guild](swrcache.Options[[]Guild]{
//	    Resource: "guilds",
//	    Fetch:    fetchGuilds,
//	    Hooks:    hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/swrcache"
)

type Hooks struct {
	inner swrcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(inner swrcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) EntryEvicted(r, p, k string) { h.try(func() { h.inner.EntryEvicted(r, p, k) }) }
func (h *Hooks) FlightDropped(k, reason string) {
	h.try(func() { h.inner.FlightDropped(k, reason) })
}
func (h *Hooks) PartitionInvalidated(r, p string, n int) {
	h.try(func() { h.inner.PartitionInvalidated(r, p, n) })
}
func (h *Hooks) RateLimited(r, p string)      { h.try(func() { h.inner.RateLimited(r, p) }) }
func (h *Hooks) RollbackApplied(r, p string)  { h.try(func() { h.inner.RollbackApplied(r, p) }) }
func (h *Hooks) ConflictRejected(r, p string) { h.try(func() { h.inner.ConflictRejected(r, p) }) }
func (h *Hooks) SnapshotSkipped(r, p, reason string) {
	h.try(func() { h.inner.SnapshotSkipped(r, p, reason) })
}
