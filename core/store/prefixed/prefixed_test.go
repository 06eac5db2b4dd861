package prefixed

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/fedchain/core/store/mem"
)

func TestSnapshot(t *testing.T) {
	base := mem.NewSnapshot(nil)

	snap := NewSnapshot("svc/", base)
	require.NoError(t, snap.Set([]byte("A"), []byte{1}))

	value, err := base.Get([]byte("svc/A"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, value)

	value, err = snap.Get([]byte("A"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, value)

	value, err = NewReadable("op/", base).Get([]byte("A"))
	require.NoError(t, err)
	require.Nil(t, value)

	require.NoError(t, NewWritable("svc/", base).Delete([]byte("A")))

	value, err = base.Get([]byte("svc/A"))
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestKey(t *testing.T) {
	require.Equal(t, []byte("ab"), Key([]byte("a"), []byte("b")))
	require.Equal(t, []byte("b"), Key(nil, []byte("b")))
}
