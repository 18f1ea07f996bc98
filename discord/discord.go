// Package discord instantiates the concrete resource stores a guild
// dashboard needs: the account's guild list, per-guild settings (mutable,
// with draft editing), the channel/role directory, the paged member roster,
// and per-user trackers. Each store is one swrcache instance with its own
// TTLs, eviction bound, and error mapping; none of them share hidden state.
package discord

import (
	"time"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/epoch"
	"github.com/unkn0wn-root/swrcache/flight"
)

// Reference staleness thresholds and bounds.
const (
	guildListTTL  = 5 * time.Minute
	settingsTTL   = 5 * time.Minute
	directoryTTL  = 5 * time.Minute
	memberTTL     = 30 * time.Second
	searchTTL     = 30 * time.Second
	trackerTTL    = 5 * time.Minute
	memberPages   = 20 // distinct (page, limit, search) entries kept per guild
	trackerBound  = 8
	singletonSize = 1 // settings/directory hold one value per partition
)

// Config carries the shared collaborators for all dashboard stores.
// Only Transport is required.
type Config struct {
	Transport swrcache.Transport
	Logger    swrcache.Logger
	Hooks     swrcache.Hooks
	// Epochs, if set, is shared by the stores so snapshot validation
	// survives restarts (e.g. epoch.NewRedis). Nil keeps epochs in-process.
	Epochs epoch.Store
	// Flight, if set, dedups requests across stores through one coordinator.
	Flight *flight.Coordinator
	Clock  func() time.Time
}

// base pre-fills the fields every store shares.
func base[V any](c Config, resource string) swrcache.Options[V] {
	return swrcache.Options[V]{
		Resource: resource,
		Logger:   c.Logger,
		Hooks:    c.Hooks,
		Epochs:   c.Epochs,
		Flight:   c.Flight,
		Clock:    c.Clock,
	}
}
