package swrcache

import (
	"context"
	"sort"
	"time"

	"github.com/unkn0wn-root/swrcache/internal/wire"
)

const (
	classByteList   byte = 1
	classByteSearch byte = 2
)

func classToByte(c QueryClass) byte {
	if c == QuerySearch {
		return classByteSearch
	}
	return classByteList
}

func classFromByte(b byte) QueryClass {
	if b == classByteSearch {
		return QuerySearch
	}
	return QueryList
}

func (s *Store[V]) snapshotKey() string {
	if s.snap.Key != "" {
		return s.snap.Key
	}
	return "snap:" + s.resource
}

// SaveSnapshot persists the cache table's public-facing fields through the
// configured provider. The in-flight table, loading markers, and errors are
// never persisted. Each partition records its current epoch so a restore
// after an intervening Invalidate rejects it.
func (s *Store[V]) SaveSnapshot(ctx context.Context) error {
	if s.snap == nil {
		return ErrNoSnapshot
	}

	type flat struct {
		partition string
		key       string
		e         *tableEntry[V]
	}
	var flats []flat

	s.mu.Lock()
	s.table.each(func(partition, key string, e *tableEntry[V]) {
		flats = append(flats, flat{partition, key, e})
	})
	s.mu.Unlock()

	byPart := make(map[string][]wire.Entry)
	var order []string
	for _, f := range flats {
		payload, err := s.snap.Codec.Encode(f.e.value)
		if err != nil {
			return err
		}
		if _, seen := byPart[f.partition]; !seen {
			order = append(order, f.partition)
		}
		we := wire.Entry{
			Key:      f.key,
			Class:    classToByte(f.e.class),
			StoredAt: f.e.storedAt.UnixNano(),
			Payload:  payload,
		}
		if pg := f.e.page; pg != nil {
			we.HasPage = true
			we.Page = [4]int32{int32(pg.Page), int32(pg.Limit), int32(pg.Total), int32(pg.Pages)}
		}
		byPart[f.partition] = append(byPart[f.partition], we)
	}
	sort.Strings(order)

	parts := make([]wire.Partition, 0, len(order))
	for _, name := range order {
		ep, err := s.epochs.Current(ctx, name)
		if err != nil {
			return err
		}
		parts = append(parts, wire.Partition{Name: name, Epoch: ep, Entries: byPart[name]})
	}

	b, err := wire.EncodeSnapshot(parts)
	if err != nil {
		return err
	}
	ok, err := s.snap.Provider.Set(ctx, s.snapshotKey(), b, 1, s.snap.TTL)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("snapshot rejected by provider (pressure)", Fields{"resource": s.resource})
	}
	return nil
}

// RestoreSnapshot loads a previously saved snapshot at process start.
// Restored entries keep their original storedAt, so anything past its TTL is
// stale from tick one and revalidates on first use. Entries never overwrite
// values fetched since startup, and partitions invalidated after the save
// (epoch mismatch) are skipped. A corrupt snapshot is deleted and ignored.
func (s *Store[V]) RestoreSnapshot(ctx context.Context) error {
	if s.snap == nil {
		return ErrNoSnapshot
	}

	raw, ok, err := s.snap.Provider.Get(ctx, s.snapshotKey())
	if err != nil || !ok {
		return err
	}

	parts, err := wire.DecodeSnapshot(raw)
	if err != nil {
		_ = s.snap.Provider.Del(ctx, s.snapshotKey()) // self-heal corrupt
		s.hooks.SnapshotSkipped(s.resource, "", "corrupt")
		s.log.Warn("corrupt snapshot dropped", Fields{"resource": s.resource})
		return nil
	}

	for _, p := range parts {
		cur, err := s.epochs.Current(ctx, p.Name)
		if err != nil {
			s.hooks.SnapshotSkipped(s.resource, p.Name, "epoch_error")
			s.log.Warn("snapshot partition skipped", Fields{"resource": s.resource, "partition": p.Name, "err": err})
			continue
		}
		if cur != p.Epoch {
			s.hooks.SnapshotSkipped(s.resource, p.Name, "epoch_mismatch")
			s.log.Debug("snapshot partition stale", Fields{
				"resource":  s.resource,
				"partition": p.Name,
				"saved":     p.Epoch,
				"current":   cur,
			})
			continue
		}

		for _, e := range p.Entries {
			v, err := s.snap.Codec.Decode(e.Payload)
			if err != nil {
				s.hooks.SnapshotSkipped(s.resource, p.Name, "corrupt")
				continue
			}
			te := &tableEntry[V]{
				value:    v,
				class:    classFromByte(e.Class),
				storedAt: time.Unix(0, e.StoredAt),
			}
			if e.HasPage {
				te.page = &Page{
					Page:  int(e.Page[0]),
					Limit: int(e.Page[1]),
					Total: int(e.Page[2]),
					Pages: int(e.Page[3]),
				}
			}
			s.mu.Lock()
			if _, exists := s.table.get(p.Name, e.Key); !exists {
				s.table.put(p.Name, e.Key, te)
			}
			s.mu.Unlock()
		}
	}
	return nil
}
