package local

import (
	"go.dedis.ch/fedchain/core/store"
	"go.dedis.ch/fedchain/core/store/kv"
)

// bucketStore is an adapter of a database bucket to the store abstraction so
// that the contracts can run on top of it.
//
// - implements store.Snapshot
type bucketStore struct {
	bucket kv.Bucket
}

func newBucketStore(bucket kv.Bucket) store.Snapshot {
	return bucketStore{bucket: bucket}
}

// Get implements store.Readable.
func (s bucketStore) Get(key []byte) ([]byte, error) {
	return s.bucket.Get(key), nil
}

// Set implements store.Writable.
func (s bucketStore) Set(key, value []byte) error {
	return s.bucket.Set(key, value)
}

// Delete implements store.Writable.
func (s bucketStore) Delete(key []byte) error {
	return s.bucket.Delete(key)
}

// emptyStore is the state before the first block.
//
// - implements store.Readable
type emptyStore struct{}

func (emptyStore) Get([]byte) ([]byte, error) {
	return nil, nil
}
