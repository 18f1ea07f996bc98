package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/unkn0wn-root/swrcache"
)

// MemberQuery addresses one roster page. The same page/limit/search always
// maps to the same cache entry.
type MemberQuery struct {
	Page   int
	Limit  int
	Search string
}

func (q MemberQuery) valid() bool { return q.Page > 0 && q.Limit > 0 }

func (q MemberQuery) query() swrcache.Query {
	out := swrcache.Query{
		"page":  strconv.Itoa(q.Page),
		"limit": strconv.Itoa(q.Limit),
	}
	if q.Search != "" {
		out["search"] = q.Search
	}
	return out
}

// MemberStore caches the paged guild roster (partition = guild ID). Entries
// with a search term get the shorter search-class TTL. Invalid queries
// (non-positive page or limit) are ignored with a diagnostic instead of
// erroring, so a bad prop can't take down a render pass.
type MemberStore struct {
	store *swrcache.Store[[]Member]
	log   swrcache.Logger
}

func NewMemberStore(cfg Config) (*MemberStore, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("discord: transport is required")
	}
	opts := base[[]Member](cfg, "members")
	opts.ListTTL = memberTTL
	opts.SearchTTL = searchTTL
	opts.MaxEntriesPerPartition = memberPages
	opts.Fetch = func(ctx context.Context, guildID string, q swrcache.Query) (swrcache.Result[[]Member], error) {
		body, err := cfg.Transport.Fetch(ctx, "/guilds/"+guildID+"/members", q)
		if err != nil {
			return swrcache.Result[[]Member]{}, err
		}
		var resp struct {
			Members []Member `json:"members"`
			Total   int      `json:"total"`
			Page    int      `json:"page"`
			Limit   int      `json:"limit"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return swrcache.Result[[]Member]{}, fmt.Errorf("decode member page: %w", err)
		}
		pages := 0
		if resp.Limit > 0 {
			pages = (resp.Total + resp.Limit - 1) / resp.Limit
		}
		return swrcache.Result[[]Member]{
			Value: resp.Members,
			Page: &swrcache.Page{
				Page:  resp.Page,
				Limit: resp.Limit,
				Total: resp.Total,
				Pages: pages,
			},
		}, nil
	}

	s, err := swrcache.New(opts)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = swrcache.NopLogger{}
	}
	return &MemberStore{store: s, log: log}, nil
}

func (m *MemberStore) Read(guildID string, q MemberQuery) (swrcache.ReadResult[[]Member], bool) {
	if !q.valid() {
		m.log.Warn("member read with invalid query ignored", swrcache.Fields{"guild": guildID, "page": q.Page, "limit": q.Limit})
		return swrcache.ReadResult[[]Member]{}, false
	}
	return m.store.Read(guildID, q.query())
}

func (m *MemberStore) EnsureFresh(ctx context.Context, guildID string, q MemberQuery, force bool) error {
	if !q.valid() {
		m.log.Warn("member refresh with invalid query ignored", swrcache.Fields{"guild": guildID, "page": q.Page, "limit": q.Limit})
		return nil
	}
	return m.store.EnsureFresh(ctx, guildID, q.query(), force)
}

func (m *MemberStore) Loading(guildID string, q MemberQuery) bool {
	if !q.valid() {
		return false
	}
	return m.store.Loading(guildID, q.query())
}

func (m *MemberStore) Err(guildID string) *swrcache.ResourceError { return m.store.Err(guildID) }

func (m *MemberStore) Invalidate(ctx context.Context, guildID string) error {
	return m.store.Invalidate(ctx, guildID)
}

func (m *MemberStore) Close(ctx context.Context) error { return m.store.Close(ctx) }
