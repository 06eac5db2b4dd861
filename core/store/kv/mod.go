// Package kv defines the key/value database of a process and implements it on
// top of bbolt (https://github.com/etcd-io/bbolt).
//
// The ledger node keeps its blocks and the state of the contracts in one
// bucket each. A domain keeps the nonce of its account so that it survives a
// restart of the daemon.
package kv

import "go.dedis.ch/fedchain/core/store"

// Bucket is a namespace of keys inside the database.
type Bucket interface {
	// Get returns a copy of the value of the key, or nil when it is missing.
	Get(key []byte) []byte

	Set(key, value []byte) error

	Delete(key []byte) error
}

// ReadableTx is a read-only transaction.
type ReadableTx interface {
	// GetBucket returns the bucket, or nil when it was never created.
	GetBucket(name []byte) Bucket
}

// WritableTx is a read-write transaction, committed atomically when the
// update function returns without error.
type WritableTx interface {
	store.Transaction
	ReadableTx

	GetBucketOrCreate(name []byte) (Bucket, error)
}

// DB is a key/value database.
type DB interface {
	View(fn func(ReadableTx) error) error

	// Update runs the function in a transaction that is rolled back when the
	// function fails.
	Update(fn func(WritableTx) error) error

	Close() error
}
