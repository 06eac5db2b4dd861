// Package crypto defines the cryptographic primitives used to identify the
// administrative domains on the ledger and to sign their transactions.
package crypto

import (
	"encoding"
	"hash"
)

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// PublicKey is a public identity that can be used to verify a signature.
type PublicKey interface {
	encoding.BinaryMarshaler
	encoding.TextMarshaler

	// Verify returns nil if the signature matches the message, otherwise an
	// error.
	Verify(msg []byte, sig Signature) error

	// Equal returns true when both keys are the same.
	Equal(other interface{}) bool
}

// Signature is a verifiable element for a unique message.
type Signature interface {
	encoding.BinaryMarshaler

	// Equal returns true when both signatures are the same.
	Equal(other Signature) bool
}

// PublicKeyFactory is a factory to create public keys from their binary form.
type PublicKeyFactory interface {
	FromBytes(data []byte) (PublicKey, error)
}

// SignatureFactory is a factory to create signatures from their binary form.
type SignatureFactory interface {
	SignatureOf(data []byte) (Signature, error)
}

// Signer provides the primitives to sign messages and to expose the public
// key that verifies them.
type Signer interface {
	encoding.BinaryMarshaler

	GetPublicKeyFactory() PublicKeyFactory

	GetSignatureFactory() SignatureFactory

	GetPublicKey() PublicKey

	Sign(msg []byte) (Signature, error)
}
