package discord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/swrcache"
)

// NewTrackerStore caches per-user trackers (partition = user ID). A 404 from
// the backend means "no tracker yet" and is cached as an empty list instead
// of surfacing an error.
func NewTrackerStore(cfg Config) (*swrcache.Store[[]Tracker], error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("discord: transport is required")
	}
	opts := base[[]Tracker](cfg, "trackers")
	opts.ListTTL = trackerTTL
	opts.MaxEntriesPerPartition = trackerBound
	opts.EmptyOnNotFound = true
	opts.Fetch = func(ctx context.Context, userID string, q swrcache.Query) (swrcache.Result[[]Tracker], error) {
		body, err := cfg.Transport.Fetch(ctx, "/users/"+userID+"/trackers", q)
		if err != nil {
			return swrcache.Result[[]Tracker]{}, err
		}
		var ts []Tracker
		if err := json.Unmarshal(body, &ts); err != nil {
			return swrcache.Result[[]Tracker]{}, fmt.Errorf("decode trackers: %w", err)
		}
		return swrcache.Result[[]Tracker]{Value: ts}, nil
	}
	return swrcache.New(opts)
}
