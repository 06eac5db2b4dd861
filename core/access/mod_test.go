package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressOf(t *testing.T) {
	addr, err := AddressOf(fakeIdentity{data: []byte("A")})
	require.NoError(t, err)
	require.Len(t, addr, 2+2*AddressSize)
	require.Regexp(t, "^0x[0-9a-f]+$", addr)

	other, err := AddressOf(fakeIdentity{data: []byte("B")})
	require.NoError(t, err)
	require.NotEqual(t, addr, other)

	_, err = AddressOf(nil)
	require.EqualError(t, err, "missing identity")

	_, err = AddressOf(fakeIdentity{err: errors.New("oops")})
	require.EqualError(t, err, "failed to marshal identity: oops")
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeIdentity struct {
	data []byte
	err  error
}

func (i fakeIdentity) MarshalBinary() ([]byte, error) {
	return i.data, i.err
}

func (i fakeIdentity) MarshalText() ([]byte, error) {
	return i.data, i.err
}

func (i fakeIdentity) Equal(other interface{}) bool {
	return false
}
