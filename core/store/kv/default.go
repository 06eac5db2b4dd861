package kv

import (
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// openTimeout bounds the wait for the file lock when another process holds
// the database.
const openTimeout = 5 * time.Second

// boltDB is an adapter of the KV store using bboltdb.
//
// - implements kv.DB
type boltDB struct {
	bolt *bbolt.DB
}

// New opens a new database to the given file.
func New(path string) (DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	return boltDB{bolt: db}, nil
}

// View implements kv.DB. It executes the read-only function in the context of
// a bbolt transaction.
func (db boltDB) View(fn func(ReadableTx) error) error {
	return db.bolt.View(func(txn *bbolt.Tx) error {
		return fn(boltTx{txn: txn})
	})
}

// Update implements kv.DB. It executes the read-write function in the context
// of a bbolt transaction. The callbacks registered with OnCommit are called
// after the transaction is persisted.
func (db boltDB) Update(fn func(WritableTx) error) error {
	tx := boltTx{}

	err := db.bolt.Update(func(txn *bbolt.Tx) error {
		tx.txn = txn
		txn.OnCommit(func() {
			for _, cb := range tx.callbacks {
				cb()
			}
		})

		return fn(&tx)
	})

	return err
}

// Close implements kv.DB. It closes the database. Any view or update call will
// result in an error after this function is called.
func (db boltDB) Close() error {
	return db.bolt.Close()
}

// boltTx is the adapter of a bbolt transaction.
//
// - implements kv.ReadableTx
// - implements kv.WritableTx
type boltTx struct {
	txn       *bbolt.Tx
	callbacks []func()
}

// GetBucket implements kv.ReadableTx. It returns the bucket with the given name
// or nil if it does not exist.
func (tx boltTx) GetBucket(name []byte) Bucket {
	bucket := tx.txn.Bucket(name)
	if bucket == nil {
		return nil
	}

	return boltBucket{bucket: bucket}
}

// GetBucketOrCreate implements kv.WritableTx. It creates the bucket if it does
// not exist and then return it.
func (tx *boltTx) GetBucketOrCreate(name []byte) (Bucket, error) {
	bucket, err := tx.txn.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, xerrors.Errorf("failed to create bucket: %v", err)
	}

	return boltBucket{bucket: bucket}, nil
}

// OnCommit implements store.Transaction. It registers a callback that is
// called after the transaction is successfully committed.
func (tx *boltTx) OnCommit(fn func()) {
	tx.callbacks = append(tx.callbacks, fn)
}

// boltBucket is the adapter of a bbolt bucket to the kv.Bucket interface.
//
// - implements kv.Bucket
type boltBucket struct {
	bucket *bbolt.Bucket
}

// Get implements kv.Bucket. It returns the value associated to the key. The
// value is copied as bbolt memory is only valid during the transaction.
func (b boltBucket) Get(key []byte) []byte {
	value := b.bucket.Get(key)
	if value == nil {
		return nil
	}

	return append([]byte{}, value...)
}

// Set implements kv.Bucket. It sets the provided key to the value.
func (b boltBucket) Set(key, value []byte) error {
	return b.bucket.Put(key, value)
}

// Delete implements kv.Bucket. It deletes the key from the bucket.
func (b boltBucket) Delete(key []byte) error {
	return b.bucket.Delete(key)
}
