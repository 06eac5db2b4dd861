// Package access defines the identity of a ledger account and how its
// address is derived.
package access

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"

	"golang.org/x/xerrors"
)

// AddressSize is the number of bytes of the public key digest kept to build
// the address of an account.
const AddressSize = 20

// Identity is an abstraction to uniquely identify a signer.
type Identity interface {
	encoding.BinaryMarshaler
	encoding.TextMarshaler

	Equal(other interface{}) bool
}

// AddressOf returns the account address of the identity. It is the hex
// encoding of the first bytes of the digest of the public key, prefixed with
// 0x.
func AddressOf(ident Identity) (string, error) {
	if ident == nil {
		return "", xerrors.New("missing identity")
	}

	data, err := ident.MarshalBinary()
	if err != nil {
		return "", xerrors.Errorf("failed to marshal identity: %v", err)
	}

	digest := sha256.Sum256(data)

	return "0x" + hex.EncodeToString(digest[:AddressSize]), nil
}
