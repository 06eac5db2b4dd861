package signed

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/fedchain/core/store/kv"
)

func TestNonceStore_Bolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce.db")

	db, err := kv.New(path)
	require.NoError(t, err)

	store := NewNonceStore(db, "0xabc")

	_, found, err := store.Load()
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Store(12))
	require.NoError(t, db.Close())

	// The nonce survives a restart of the process.
	db, err = kv.New(path)
	require.NoError(t, err)

	defer db.Close()

	nonce, found, err := NewNonceStore(db, "0xabc").Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(12), nonce)

	_, found, err = NewNonceStore(db, "0xdef").Load()
	require.NoError(t, err)
	require.False(t, found)
}

func TestNonceStore_Corrupted(t *testing.T) {
	db, err := kv.New(filepath.Join(t.TempDir(), "nonce.db"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(nonceBucket)
		require.NoError(t, err)

		return bucket.Set([]byte("A"), []byte{1})
	})
	require.NoError(t, err)

	_, _, err = NewNonceStore(db, "A").Load()
	require.EqualError(t, err, "failed to read db: invalid nonce length 1")
}
