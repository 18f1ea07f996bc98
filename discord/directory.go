package discord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/swrcache"
)

// NewDirectoryStore caches the channel/role snapshot per guild, used to
// populate channel and role pickers in the settings editor.
func NewDirectoryStore(cfg Config) (*swrcache.Store[Directory], error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("discord: transport is required")
	}
	opts := base[Directory](cfg, "directory")
	opts.ListTTL = directoryTTL
	opts.MaxEntriesPerPartition = singletonSize
	opts.Fetch = func(ctx context.Context, guildID string, q swrcache.Query) (swrcache.Result[Directory], error) {
		body, err := cfg.Transport.Fetch(ctx, "/guilds/"+guildID+"/directory", q)
		if err != nil {
			return swrcache.Result[Directory]{}, err
		}
		var d Directory
		if err := json.Unmarshal(body, &d); err != nil {
			return swrcache.Result[Directory]{}, fmt.Errorf("decode directory: %w", err)
		}
		return swrcache.Result[Directory]{Value: d}, nil
	}
	return swrcache.New(opts)
}
