// Package wire frames cache-table snapshots for persistence. Framing is
// strict: unknown magic/version, truncated sections, and trailing bytes are
// all rejected as corrupt so a damaged snapshot degrades to a cold start,
// never to bad data.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version      byte = 1
	kindSnapshot byte = 1
)

var (
	ErrCorrupt = errors.New("wire: corrupt snapshot")
	magic4     = [...]byte{'S', 'W', 'R', 'C'}
)

// Entry is one persisted cache entry. Only public-facing fields are framed;
// in-flight state is never persisted.
type Entry struct {
	Key      string
	Class    byte
	StoredAt int64 // unix nanoseconds of the original fetch
	HasPage  bool
	Page     [4]int32 // page, limit, total, pages
	Payload  []byte
}

// Partition is one partition's entries in insertion order, plus the epoch
// observed at save time.
type Partition struct {
	Name    string
	Epoch   uint64
	Entries []Entry
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Snapshot layout:
//
//	magic(4) | ver(1) | kind(1) | nparts(u32 be)
//	per partition:
//	  nlen(u16 be) | name | epoch(u64 be) | nentries(u32 be)
//	  per entry:
//	    klen(u16 be) | key | class(1) | storedAt(i64 be) |
//	    hasPage(1) | page(4 x i32 be, only when hasPage=1) |
//	    vlen(u32 be) | payload
func EncodeSnapshot(parts []Partition) ([]byte, error) {
	total := 4 + 1 + 1 + 4
	for _, p := range parts {
		total += 2 + len(p.Name) + 8 + 4
		for _, e := range p.Entries {
			total += 2 + len(e.Key) + 1 + 8 + 1 + 16 + 4 + len(e.Payload)
		}
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindSnapshot)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(parts)))
	buf.Write(u4[:])

	for _, p := range parts {
		if l := len(p.Name); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("wire: invalid partition name length %d", l)
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(p.Name)))
		buf.Write(u2[:])
		buf.WriteString(p.Name)

		binary.BigEndian.PutUint64(u8[:], p.Epoch)
		buf.Write(u8[:])

		binary.BigEndian.PutUint32(u4[:], uint32(len(p.Entries)))
		buf.Write(u4[:])

		for _, e := range p.Entries {
			if l := len(e.Key); l == 0 || l > 0xFFFF {
				return nil, fmt.Errorf("wire: invalid entry key length %d", l)
			}
			binary.BigEndian.PutUint16(u2[:], uint16(len(e.Key)))
			buf.Write(u2[:])
			buf.WriteString(e.Key)

			buf.WriteByte(e.Class)

			binary.BigEndian.PutUint64(u8[:], uint64(e.StoredAt))
			buf.Write(u8[:])

			if e.HasPage {
				buf.WriteByte(1)
				for _, n := range e.Page {
					binary.BigEndian.PutUint32(u4[:], uint32(n))
					buf.Write(u4[:])
				}
			} else {
				buf.WriteByte(0)
			}

			binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
			buf.Write(u4[:])
			buf.Write(e.Payload)
		}
	}

	return buf.Bytes(), nil
}

func DecodeSnapshot(b []byte) ([]Partition, error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindSnapshot {
		return nil, ErrCorrupt
	}

	off := 6
	nparts := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if nparts < 0 {
		return nil, ErrCorrupt
	}

	parts := make([]Partition, 0, min(nparts, 64)) // cap prealloc; nparts is attacker-controlled
	for i := 0; i < nparts; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		nlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if nlen <= 0 || nlen > len(b)-off {
			return nil, ErrCorrupt
		}
		name := string(b[off : off+nlen])
		off += nlen

		if off+8+4 > len(b) {
			return nil, ErrCorrupt
		}
		epoch := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		nentries := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if nentries < 0 {
			return nil, ErrCorrupt
		}

		entries := make([]Entry, 0, min(nentries, 256))
		for j := 0; j < nentries; j++ {
			if off+2 > len(b) {
				return nil, ErrCorrupt
			}
			klen := int(binary.BigEndian.Uint16(b[off : off+2]))
			off += 2
			if klen <= 0 || klen > len(b)-off {
				return nil, ErrCorrupt
			}
			key := string(b[off : off+klen])
			off += klen

			if off+1+8+1 > len(b) {
				return nil, ErrCorrupt
			}
			class := b[off]
			off++
			storedAt := int64(binary.BigEndian.Uint64(b[off : off+8]))
			off += 8

			hasPage := b[off] == 1
			off++
			var page [4]int32
			if hasPage {
				if off+16 > len(b) {
					return nil, ErrCorrupt
				}
				for i := range page {
					page[i] = int32(binary.BigEndian.Uint32(b[off : off+4]))
					off += 4
				}
			}

			if off+4 > len(b) {
				return nil, ErrCorrupt
			}
			vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
			off += 4
			if vlen < 0 || vlen > len(b)-off {
				return nil, ErrCorrupt
			}
			payload := b[off : off+vlen]
			off += vlen

			entries = append(entries, Entry{
				Key:      key,
				Class:    class,
				StoredAt: storedAt,
				HasPage:  hasPage,
				Page:     page,
				Payload:  payload,
			})
		}

		parts = append(parts, Partition{Name: name, Epoch: epoch, Entries: entries})
	}

	if off != len(b) {
		return nil, ErrCorrupt // trailing bytes
	}
	return parts, nil
}
