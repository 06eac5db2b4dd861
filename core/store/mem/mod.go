// Package mem implements an in-memory snapshot that stages the updates on top
// of a parent store. The ledger executes every transaction in such a snapshot
// and only applies it to the database when the transaction is accepted.
package mem

import (
	"sort"

	"go.dedis.ch/fedchain/core/store"
	"golang.org/x/xerrors"
)

// Snapshot is an in-memory snapshot. It saves the updates in an internal store
// and looks up the parent when a key has not been touched.
//
// - implements store.Snapshot
type Snapshot struct {
	parent  store.Readable
	updates map[string][]byte
	deleted map[string]struct{}
}

// NewSnapshot returns a new empty snapshot on top of the parent. The parent can
// be nil.
func NewSnapshot(parent store.Readable) *Snapshot {
	return &Snapshot{
		parent:  parent,
		updates: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Get implements store.Readable.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	str := string(key)

	if _, found := s.deleted[str]; found {
		return nil, nil
	}

	value, found := s.updates[str]
	if found {
		return value, nil
	}

	if s.parent == nil {
		return nil, nil
	}

	value, err := s.parent.Get(key)
	if err != nil {
		return nil, xerrors.Errorf("parent: %v", err)
	}

	return value, nil
}

// Set implements store.Writable.
func (s *Snapshot) Set(key, value []byte) error {
	str := string(key)

	delete(s.deleted, str)
	s.updates[str] = append([]byte{}, value...)

	return nil
}

// Delete implements store.Writable.
func (s *Snapshot) Delete(key []byte) error {
	str := string(key)

	delete(s.updates, str)
	s.deleted[str] = struct{}{}

	return nil
}

// Len returns the number of keys touched by the snapshot.
func (s *Snapshot) Len() int {
	return len(s.updates) + len(s.deleted)
}

// Apply writes the staged updates to the store in a deterministic order.
func (s *Snapshot) Apply(w store.Writable) error {
	keys := make([]string, 0, len(s.updates))
	for key := range s.updates {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		err := w.Set([]byte(key), s.updates[key])
		if err != nil {
			return xerrors.Errorf("failed to set '%s': %v", key, err)
		}
	}

	for key := range s.deleted {
		err := w.Delete([]byte(key))
		if err != nil {
			return xerrors.Errorf("failed to delete '%s': %v", key, err)
		}
	}

	return nil
}
