// Package keys builds the deterministic cache and request keys used by the
// store. Two semantically identical queries must map to identical keys no
// matter the construction order of their parameter maps.
package keys

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Canonical serializes params as "k=v&..." with keys sorted ascending.
// Empty values are kept; a nil or empty map yields "".
func Canonical(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	ks := make([]string, 0, len(params))
	for k := range params {
		ks = append(ks, k)
	}
	sort.Strings(ks)

	var b strings.Builder
	for i, k := range ks {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Entry returns the cache-table key for (resource, partition, query).
// Long query strings are replaced by a short hash so search terms cannot
// blow up key sizes.
func Entry(resource, partition, canonicalQuery string) string {
	return resource + ":" + partition + ":" + shorten(canonicalQuery)
}

// Request returns the in-flight dedup key for an operation.
func Request(method, path, canonicalQuery string) string {
	if canonicalQuery == "" {
		return method + " " + path
	}
	return method + " " + path + "?" + shorten(canonicalQuery)
}

const maxInlineQuery = 64

func shorten(q string) string {
	if len(q) <= maxInlineQuery {
		return q
	}
	sum := sha256.Sum256([]byte(q))
	return fmt.Sprintf("%x", sum)[:16]
}
