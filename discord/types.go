package discord

import "time"

// Guild is one server the signed-in account can manage.
type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Owner       bool   `json:"owner"`
	Permissions string `json:"permissions"`
}

// GuildSettings is the bot configuration for one guild.
type GuildSettings struct {
	GuildID      string          `json:"guild_id"`
	Prefix       string          `json:"prefix"`
	Locale       string          `json:"locale"`
	LogChannelID string          `json:"log_channel_id,omitempty"`
	Features     map[string]bool `json:"features"`
}

// SettingsPatch is a partial update. Nil pointer fields are left untouched;
// Features entries are merged key-wise.
type SettingsPatch struct {
	Prefix       *string         `json:"prefix,omitempty"`
	Locale       *string         `json:"locale,omitempty"`
	LogChannelID *string         `json:"log_channel_id,omitempty"`
	Features     map[string]bool `json:"features,omitempty"`
}

// MergeSettings applies a patch to a settings value and returns the result.
// The Features map is copied before merging so the input value is never
// mutated; rollback can then restore the original by reference.
func MergeSettings(cur GuildSettings, p SettingsPatch) GuildSettings {
	out := cur
	out.Features = make(map[string]bool, len(cur.Features)+len(p.Features))
	for k, v := range cur.Features {
		out.Features[k] = v
	}
	for k, v := range p.Features {
		out.Features[k] = v
	}
	if p.Prefix != nil {
		out.Prefix = *p.Prefix
	}
	if p.Locale != nil {
		out.Locale = *p.Locale
	}
	if p.LogChannelID != nil {
		out.LogChannelID = *p.LogChannelID
	}
	return out
}

// Channel is a text/voice/category channel in the guild.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
	Position int    `json:"position"`
}

// Role is a guild role.
type Role struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    int    `json:"color"`
	Position int    `json:"position"`
	Managed  bool   `json:"managed"`
}

// Directory is the channel/role snapshot used to populate pickers.
type Directory struct {
	Channels []Channel `json:"channels"`
	Roles    []Role    `json:"roles"`
}

// Member is one row of the guild roster.
type Member struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Nickname string    `json:"nickname,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
	Roles    []string  `json:"roles"`
	JoinedAt time.Time `json:"joined_at"`
}

// Tracker is a per-user activity tracker managed through the dashboard.
type Tracker struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GuildID   string    `json:"guild_id"`
	Kind      string    `json:"kind"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}
