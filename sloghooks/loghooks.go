package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/swrcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	EvictEvery     uint64
	RateLimitEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

// Hooks logs high-signal store events through slog, with sampling on the
// two that can fire at high rates (evictions, rate limits).
type Hooks struct {
	l    *slog.Logger
	opts Options

	evictCtr     atomic.Uint64
	rateLimitCtr atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) EntryEvicted(resource, partition, key string) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("swrcache.entry_evicted",
		"resource", resource,
		"partition", h.redact(partition),
		"key", h.redact(key))
}

func (h *Hooks) PartitionInvalidated(resource, partition string, dropped int) {
	if h.l == nil {
		return
	}
	h.l.Info("swrcache.partition_invalidated",
		"resource", resource,
		"partition", h.redact(partition),
		"dropped", dropped)
}

func (h *Hooks) FlightDropped(key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.flight_dropped",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) RateLimited(resource, partition string) {
	if h.l == nil || !sample(h.opts.RateLimitEvery, &h.rateLimitCtr) {
		return
	}
	h.l.Warn("swrcache.rate_limited",
		"resource", resource,
		"partition", h.redact(partition))
}

func (h *Hooks) RollbackApplied(resource, partition string) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.rollback_applied",
		"resource", resource,
		"partition", h.redact(partition))
}

func (h *Hooks) ConflictRejected(resource, partition string) {
	if h.l == nil {
		return
	}
	h.l.Info("swrcache.conflict_rejected",
		"resource", resource,
		"partition", h.redact(partition))
}

func (h *Hooks) SnapshotSkipped(resource, partition, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.snapshot_skipped",
		"resource", resource,
		"partition", h.redact(partition),
		"reason", reason)
}
