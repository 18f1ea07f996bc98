package discord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/swrcache"
)

// NewSettingsStore caches per-guild bot settings (partition = guild ID) and
// accepts writes: Mutate for single-toggle updates, the draft protocol
// (BeginEdit/UpdateDraft/CommitDraft) for the settings editor, which batches
// many field edits into one round trip.
func NewSettingsStore(cfg Config) (*swrcache.Mutable[GuildSettings, SettingsPatch], error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("discord: transport is required")
	}

	opts := base[GuildSettings](cfg, "settings")
	opts.ListTTL = settingsTTL
	opts.MaxEntriesPerPartition = singletonSize
	opts.Fetch = func(ctx context.Context, guildID string, q swrcache.Query) (swrcache.Result[GuildSettings], error) {
		body, err := cfg.Transport.Fetch(ctx, settingsPath(guildID), q)
		if err != nil {
			return swrcache.Result[GuildSettings]{}, err
		}
		var s GuildSettings
		if err := json.Unmarshal(body, &s); err != nil {
			return swrcache.Result[GuildSettings]{}, fmt.Errorf("decode settings: %w", err)
		}
		return swrcache.Result[GuildSettings]{Value: s}, nil
	}

	return swrcache.NewMutable(opts, swrcache.MutableConfig[GuildSettings, SettingsPatch]{
		Merge: MergeSettings,
		Write: func(ctx context.Context, guildID string, patch SettingsPatch) error {
			_, err := cfg.Transport.Write(ctx, settingsPath(guildID), patch)
			return err
		},
		Commit: func(ctx context.Context, guildID string, value GuildSettings) error {
			_, err := cfg.Transport.Write(ctx, settingsPath(guildID), value)
			return err
		},
	})
}

// ResetSettings performs the destructive server-side reset and drops the
// guild's cached settings so the next read revalidates from scratch.
func ResetSettings(ctx context.Context, cfg Config, store *swrcache.Mutable[GuildSettings, SettingsPatch], guildID string) error {
	if _, err := cfg.Transport.Write(ctx, settingsPath(guildID)+"/reset", struct{}{}); err != nil {
		return err
	}
	return store.Invalidate(ctx, guildID)
}

func settingsPath(guildID string) string { return "/guilds/" + guildID + "/settings" }
