package signed

import (
	"encoding/binary"

	"go.dedis.ch/fedchain/core/store/kv"
	"golang.org/x/xerrors"
)

var nonceBucket = []byte("nonces")

// kvNonceStore persists the nonce of an identity in a key/value database.
//
// - implements signed.NonceStore
type kvNonceStore struct {
	db  kv.DB
	key []byte
}

// NewNonceStore returns a nonce store that saves the nonce under the key, for
// instance the address of the identity.
func NewNonceStore(db kv.DB, key string) NonceStore {
	return kvNonceStore{
		db:  db,
		key: []byte(key),
	}
}

// Load implements signed.NonceStore.
func (s kvNonceStore) Load() (uint64, bool, error) {
	var nonce uint64
	found := false

	err := s.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(nonceBucket)
		if bucket == nil {
			return nil
		}

		value := bucket.Get(s.key)
		if value == nil {
			return nil
		}

		if len(value) != 8 {
			return xerrors.Errorf("invalid nonce length %d", len(value))
		}

		nonce = binary.BigEndian.Uint64(value)
		found = true

		return nil
	})
	if err != nil {
		return 0, false, xerrors.Errorf("failed to read db: %v", err)
	}

	return nonce, found, nil
}

// Store implements signed.NonceStore.
func (s kvNonceStore) Store(nonce uint64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, nonce)

	err := s.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(nonceBucket)
		if err != nil {
			return err
		}

		return bucket.Set(s.key, value)
	})
	if err != nil {
		return xerrors.Errorf("failed to write db: %v", err)
	}

	return nil
}
