// Package store defines the key/value state that the contracts read and
// write. Each block of the ledger applies its transaction to a snapshot of the
// state.
package store

// Readable returns a nil value without error for a missing key.
type Readable interface {
	Get(key []byte) ([]byte, error)
}

// Writable is a state that can be changed.
type Writable interface {
	Set(key []byte, value []byte) error

	Delete(key []byte) error
}

// Snapshot is the state seen by a single execution. Its writes are visible to
// the next reads of the same snapshot only.
type Snapshot interface {
	Readable
	Writable
}

// Transaction is implemented by the stores that write atomically.
type Transaction interface {
	// OnCommit registers a callback run once the writes are persisted.
	OnCommit(func())
}
