package discord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/swrcache"
)

// NewGuildStore caches the signed-in account's manageable guild list.
// Partition by account ID ("@me" works when the transport is session-bound).
// The guild list is the one resource worth snapshotting to disk - it is the
// first thing the dashboard renders after login - so pass Options.Snapshot
// through snap if persistence is wanted.
func NewGuildStore(cfg Config, snap *swrcache.SnapshotConfig[[]Guild]) (*swrcache.Store[[]Guild], error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("discord: transport is required")
	}
	opts := base[[]Guild](cfg, "guilds")
	opts.ListTTL = guildListTTL
	opts.MaxEntriesPerPartition = 4
	opts.Snapshot = snap
	opts.Fetch = func(ctx context.Context, _ string, q swrcache.Query) (swrcache.Result[[]Guild], error) {
		body, err := cfg.Transport.Fetch(ctx, "/users/@me/guilds", q)
		if err != nil {
			return swrcache.Result[[]Guild]{}, err
		}
		var guilds []Guild
		if err := json.Unmarshal(body, &guilds); err != nil {
			return swrcache.Result[[]Guild]{}, fmt.Errorf("decode guild list: %w", err)
		}
		return swrcache.Result[[]Guild]{Value: guilds}, nil
	}
	return swrcache.New(opts)
}
