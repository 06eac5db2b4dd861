// Package prefixed implements a store that isolates the keys of a component
// behind a prefix, so that several components can share one bucket.
package prefixed

import (
	"go.dedis.ch/fedchain/core/store"
)

type readable struct {
	store.Readable
	prefix []byte
}

type writable struct {
	store.Writable
	prefix []byte
}

type snapshot struct {
	*writable
	*readable
}

// NewSnapshot creates a new prefixed Snapshot.
func NewSnapshot(prefix string, snap store.Snapshot) store.Snapshot {
	p := []byte(prefix)
	return &snapshot{
		&writable{snap, p},
		&readable{snap, p},
	}
}

// NewReadable creates a new prefixed Readable.
func NewReadable(prefix string, r store.Readable) store.Readable {
	return &readable{r, []byte(prefix)}
}

// NewWritable creates a new prefixed Writable.
func NewWritable(prefix string, w store.Writable) store.Writable {
	return &writable{w, []byte(prefix)}
}

// Get implements store.Readable.
func (s *readable) Get(key []byte) ([]byte, error) {
	return s.Readable.Get(Key(s.prefix, key))
}

// Set implements store.Writable.
func (s *writable) Set(key []byte, value []byte) error {
	return s.Writable.Set(Key(s.prefix, key), value)
}

// Delete implements store.Writable.
func (s *writable) Delete(key []byte) error {
	return s.Writable.Delete(Key(s.prefix, key))
}

// Key returns the key concatenated to the prefix. The keys stay in the same
// order so that a prefix scan lists the keys of a component.
func Key(prefix, key []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(key))
	k = append(k, prefix...)

	return append(k, key...)
}
