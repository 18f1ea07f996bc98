package swrcache

import (
	"container/list"
	"time"
)

// tableEntry is a cache entry. storedAt is set when a fetch resolves and the
// entry is replaced wholesale on every successful re-fetch; it is never
// mutated in place.
type tableEntry[V any] struct {
	value    V
	page     *Page
	class    QueryClass
	storedAt time.Time
}

type partitionState[V any] struct {
	entries map[string]*tableEntry[V]
	order   *list.List // element values are entry keys, oldest at front
	elems   map[string]*list.Element
}

// partitionTable is the ordered key->entry mapping per partition. Ordering is
// insertion order and serves as the eviction proxy: replacing an existing key
// keeps its original position, so a re-fetched hot key is not promoted.
// Not safe for concurrent use; the owning Store serializes access.
type partitionTable[V any] struct {
	max   int
	parts map[string]*partitionState[V]
}

func newPartitionTable[V any](max int) *partitionTable[V] {
	return &partitionTable[V]{
		max:   max,
		parts: make(map[string]*partitionState[V]),
	}
}

func (t *partitionTable[V]) get(partition, key string) (*tableEntry[V], bool) {
	p, ok := t.parts[partition]
	if !ok {
		return nil, false
	}
	e, ok := p.entries[key]
	return e, ok
}

// put inserts or replaces an entry. If the key is new and the partition is at
// capacity, the single oldest key is evicted first; the evicted key is
// returned so the store can report it.
func (t *partitionTable[V]) put(partition, key string, e *tableEntry[V]) (evicted string, didEvict bool) {
	p, ok := t.parts[partition]
	if !ok {
		p = &partitionState[V]{
			entries: make(map[string]*tableEntry[V]),
			order:   list.New(),
			elems:   make(map[string]*list.Element),
		}
		t.parts[partition] = p
	}

	if _, exists := p.entries[key]; exists {
		p.entries[key] = e // replace wholesale, keep insertion order
		return "", false
	}

	if t.max > 0 && len(p.entries) >= t.max {
		front := p.order.Front()
		if front != nil {
			evicted = front.Value.(string)
			p.order.Remove(front)
			delete(p.entries, evicted)
			delete(p.elems, evicted)
			didEvict = true
		}
	}

	p.entries[key] = e
	p.elems[key] = p.order.PushBack(key)
	return evicted, didEvict
}

// del removes a single entry if present.
func (t *partitionTable[V]) del(partition, key string) {
	p, ok := t.parts[partition]
	if !ok {
		return
	}
	if el, ok := p.elems[key]; ok {
		p.order.Remove(el)
		delete(p.elems, key)
		delete(p.entries, key)
	}
}

// invalidatePartition drops every entry of the partition and reports how many
// were removed.
func (t *partitionTable[V]) invalidatePartition(partition string) int {
	p, ok := t.parts[partition]
	if !ok {
		return 0
	}
	n := len(p.entries)
	delete(t.parts, partition)
	return n
}

func (t *partitionTable[V]) size(partition string) int {
	p, ok := t.parts[partition]
	if !ok {
		return 0
	}
	return len(p.entries)
}

// each visits partitions and, within a partition, entries in insertion order.
func (t *partitionTable[V]) each(fn func(partition, key string, e *tableEntry[V])) {
	for name, p := range t.parts {
		for el := p.order.Front(); el != nil; el = el.Next() {
			k := el.Value.(string)
			fn(name, k, p.entries[k])
		}
	}
}
