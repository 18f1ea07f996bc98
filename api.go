package swrcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/epoch"
	"github.com/unkn0wn-root/swrcache/flight"
	"github.com/unkn0wn-root/swrcache/provider"
)

// QueryClass selects the staleness threshold applied to a cache entry.
type QueryClass string

const (
	// QueryList covers roster pages, settings, and other reusable listings.
	QueryList QueryClass = "list"
	// QuerySearch covers search results, which are more volatile and less
	// reused, so they get a shorter threshold.
	QuerySearch QueryClass = "search"
)

// Query holds the semantic parameters of a read (page, limit, search term...).
// Two queries with the same key/value pairs address the same cache entry
// regardless of construction order.
type Query map[string]string

// Page describes the pagination of a fetched listing.
type Page struct {
	Page  int
	Limit int
	Total int
	Pages int
}

// Result is what a FetchFunc produces on success.
type Result[V any] struct {
	Value V
	Page  *Page
}

// ReadResult is the synchronous, cache-only view a consumer renders from.
type ReadResult[V any] struct {
	Value V
	Page  *Page
	// Stale reports that the entry has exceeded its class TTL. The value is
	// still usable; a revalidation should be (or already is) underway.
	Stale bool
}

// FetchFunc loads a resource from the external transport. It is invoked at
// most once per in-flight request key; concurrent callers share its result.
type FetchFunc[V any] func(ctx context.Context, partition string, q Query) (Result[V], error)

// Options tune a Store instance. Only Resource and Fetch are required;
// others have sensible defaults.
type Options[V any] struct {
	// Required
	Resource string       // logical resource kind, e.g. "guilds", "members"
	Fetch    FetchFunc[V] // transport-backed loader

	ListTTL                time.Duration // list-class staleness; 0 => 5m
	SearchTTL              time.Duration // search-class staleness; 0 => 30s
	MaxEntriesPerPartition int           // 0 => 25
	Classify               func(Query) QueryClass // nil => search iff q["search"] != ""

	// EmptyOnNotFound caches the zero value on a 404 instead of surfacing an
	// error. Meant for read paths where absence is a normal state
	// ("no tracker yet").
	EmptyOnNotFound bool

	Flight *flight.Coordinator // nil => private coordinator with defaults
	Epochs epoch.Store         // nil => in-process epochs
	Logger Logger              // nil => NopLogger
	Hooks  Hooks               // nil => NopHooks
	Clock  func() time.Time    // nil => time.Now

	// Disabled bypasses TTL checks and coalescing: every EnsureFresh hits the
	// transport. Read still serves the latest fetched value. Useful when the
	// cache itself is under suspicion.
	Disabled bool

	// Snapshot enables SaveSnapshot/RestoreSnapshot persistence.
	Snapshot *SnapshotConfig[V]
}

// SnapshotConfig wires a byte store and a serializer for persisting the
// cache table across process restarts. Only public entry fields are
// persisted; in-flight state never is.
type SnapshotConfig[V any] struct {
	Provider provider.Provider
	Codec    codec.Codec[V]
	Key      string        // storage key; "" => "snap:<resource>"
	TTL      time.Duration // snapshot expiry; 0 => provider default / none
}

// New constructs a read-only resource store. For resources that accept
// writes, see NewMutable.
func New[V any](opts Options[V]) (*Store[V], error) {
	return newStore(opts)
}
