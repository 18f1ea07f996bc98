// Package codec provides pluggable (de)serialization of cached values for
// snapshot persistence. A Codec must round-trip: Decode(Encode(v)) == v for
// the fields a store cares about.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
