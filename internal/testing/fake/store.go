package fake

import (
	"sync"

	"go.dedis.ch/fedchain/core/store"
	"go.dedis.ch/fedchain/core/store/kv"
)

// InMemorySnapshot is a fake implementation of a store snapshot.
//
// - implements store.Snapshot
type InMemorySnapshot struct {
	store.Snapshot

	values    map[string][]byte
	ErrRead   error
	ErrWrite  error
	ErrDelete error
}

// NewSnapshot creates a new empty snapshot.
func NewSnapshot() *InMemorySnapshot {
	return &InMemorySnapshot{
		values: make(map[string][]byte),
	}
}

// NewBadSnapshot creates a new empty snapshot that will always return an error.
func NewBadSnapshot() *InMemorySnapshot {
	return &InMemorySnapshot{
		values:    make(map[string][]byte),
		ErrRead:   fakeErr,
		ErrWrite:  fakeErr,
		ErrDelete: fakeErr,
	}
}

// Get implements store.Snapshot.
func (snap *InMemorySnapshot) Get(key []byte) ([]byte, error) {
	return snap.values[string(key)], snap.ErrRead
}

// Set implements store.Snapshot.
func (snap *InMemorySnapshot) Set(key, value []byte) error {
	snap.values[string(key)] = value

	return snap.ErrWrite
}

// Delete implements store.Snapshot.
func (snap *InMemorySnapshot) Delete(key []byte) error {
	delete(snap.values, string(key))

	return snap.ErrDelete
}

// InMemoryDB is a fake implementation of a key/value database. The
// transactions are not isolated.
//
// - implements kv.DB
type InMemoryDB struct {
	sync.Mutex
	buckets map[string]*Bucket
	err     error
}

// NewInMemoryDB returns a new empty database.
func NewInMemoryDB() *InMemoryDB {
	return &InMemoryDB{
		buckets: make(map[string]*Bucket),
	}
}

// NewBadDB returns a database that returns an error for every transaction.
func NewBadDB() *InMemoryDB {
	return &InMemoryDB{
		buckets: make(map[string]*Bucket),
		err:     fakeErr,
	}
}

// View implements kv.DB.
func (db *InMemoryDB) View(fn func(kv.ReadableTx) error) error {
	if db.err != nil {
		return db.err
	}

	db.Lock()
	defer db.Unlock()

	return fn(dbTx{db: db})
}

// Update implements kv.DB.
func (db *InMemoryDB) Update(fn func(kv.WritableTx) error) error {
	if db.err != nil {
		return db.err
	}

	db.Lock()
	defer db.Unlock()

	tx := &dbTx{db: db}

	err := fn(tx)
	if err != nil {
		return err
	}

	for _, cb := range tx.callbacks {
		cb()
	}

	return nil
}

// Close implements kv.DB.
func (db *InMemoryDB) Close() error {
	return nil
}

type dbTx struct {
	db        *InMemoryDB
	callbacks []func()
}

func (tx dbTx) GetBucket(name []byte) kv.Bucket {
	bucket, found := tx.db.buckets[string(name)]
	if !found {
		return nil
	}

	return bucket
}

func (tx *dbTx) GetBucketOrCreate(name []byte) (kv.Bucket, error) {
	bucket, found := tx.db.buckets[string(name)]
	if !found {
		bucket = &Bucket{values: make(map[string][]byte)}
		tx.db.buckets[string(name)] = bucket
	}

	return bucket, nil
}

func (tx *dbTx) OnCommit(fn func()) {
	tx.callbacks = append(tx.callbacks, fn)
}

// Bucket is a fake implementation of a database bucket. The scan does not
// respect the key order.
//
// - implements kv.Bucket
type Bucket struct {
	kv.Bucket
	values map[string][]byte
}

// Get implements kv.Bucket.
func (b *Bucket) Get(key []byte) []byte {
	return b.values[string(key)]
}

// Set implements kv.Bucket.
func (b *Bucket) Set(key, value []byte) error {
	b.values[string(key)] = append([]byte{}, value...)
	return nil
}

// Delete implements kv.Bucket.
func (b *Bucket) Delete(key []byte) error {
	delete(b.values, string(key))
	return nil
}
