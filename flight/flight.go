// Package flight deduplicates concurrent operations that share a request
// key: the first caller executes, everyone else joins and observes the same
// result or error. This is what keeps N simultaneously-mounting consumers
// from issuing N identical fetches.
//
// Entry lifetime is exactly the duration of the underlying operation -
// registered before the operation starts, removed when it settles, success
// or failure - so a failed fetch never blocks a retry. A bound on total
// in-flight entries plus a stale-entry sweep keeps the table from growing
// without limit when operations hang; dropping a hung entry only unlinks
// future callers from it, it does not abort the underlying call.
package flight

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxInFlight = 100
	defaultStaleAfter  = 60 * time.Second
)

// Drop reasons passed to OnDrop.
const (
	DropOverflow = "overflow"
	DropTimeout  = "timeout"
)

// Options tune a Coordinator. The zero value is usable.
type Options struct {
	MaxInFlight int           // 0 => 100
	StaleAfter  time.Duration // forced-drop age for hung entries; 0 => 60s, <0 disables
	OnDrop      func(key, reason string)
	Clock       func() time.Time // tests override; nil => time.Now
}

// Coordinator shares one in-flight operation among all callers of the same
// key. Safe for concurrent use.
type Coordinator struct {
	g          singleflight.Group
	max        int
	staleAfter time.Duration
	onDrop     func(key, reason string)
	now        func() time.Time

	mu      sync.Mutex
	started map[string]time.Time
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		max:        opts.MaxInFlight,
		staleAfter: opts.StaleAfter,
		onDrop:     opts.OnDrop,
		now:        opts.Clock,
		started:    make(map[string]time.Time),
	}
	if c.max <= 0 {
		c.max = defaultMaxInFlight
	}
	if c.staleAfter == 0 {
		c.staleAfter = defaultStaleAfter
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.onDrop == nil {
		c.onDrop = func(string, string) {}
	}
	return c
}

// Do executes fn for key unless an identical operation is already in flight,
// in which case the caller joins it. All joined callers receive the same
// value/error; shared reports whether the result was given to more than one
// caller.
//
// A caller whose ctx is done stops waiting and gets ctx.Err(), but the
// operation itself runs to completion for everyone else.
func (c *Coordinator) Do(ctx context.Context, key string, fn func() (any, error)) (v any, err error, shared bool) {
	c.admit(key)
	ch := c.g.DoChan(key, func() (any, error) {
		defer c.settle(key)
		return fn()
	})
	select {
	case r := <-ch:
		return r.Val, r.Err, r.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

// InFlight returns the number of tracked in-flight entries.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.started)
}

// Forget detaches future callers from an in-flight key. The running
// operation still completes for callers already joined to it.
func (c *Coordinator) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgetLocked(key, DropTimeout)
}

func (c *Coordinator) admit(key string) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.started[key]; ok {
		return
	}
	if len(c.started) >= c.max {
		c.sweepLocked(now)
	}
	if len(c.started) >= c.max {
		// still full after the sweep; drop the oldest entry outright
		var oldest string
		var oldestAt time.Time
		for k, at := range c.started {
			if oldest == "" || at.Before(oldestAt) {
				oldest, oldestAt = k, at
			}
		}
		c.forgetLocked(oldest, DropOverflow)
	}
	c.started[key] = now
}

func (c *Coordinator) settle(key string) {
	c.mu.Lock()
	delete(c.started, key)
	c.mu.Unlock()
}

func (c *Coordinator) sweepLocked(now time.Time) {
	if c.staleAfter <= 0 {
		return
	}
	for k, at := range c.started {
		if now.Sub(at) > c.staleAfter {
			c.forgetLocked(k, DropTimeout)
		}
	}
}

func (c *Coordinator) forgetLocked(key, reason string) {
	if _, ok := c.started[key]; !ok {
		return
	}
	c.g.Forget(key)
	delete(c.started, key)
	c.onDrop(key, reason)
}
