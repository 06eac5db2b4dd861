// Package fake provides fake implementations for interfaces commonly used in
// the repository.
//
// The implementations offer configuration to return errors when it is needed by
// the unit test and it is also possible to record the call of functions of an
// object in some cases.
package fake

import (
	"bytes"
	"hash"
	"sync"

	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain/crypto"
	"golang.org/x/xerrors"
)

var fakeErr = xerrors.New("fake error")

// GetError returns the fake error used by the fake implementations.
func GetError() error {
	return fakeErr
}

// Err returns the expected message of an error wrapping the fake error with the
// given prefix.
func Err(msg string) string {
	return msg + ": " + fakeErr.Error()
}

// Call is a tool to keep track of a function calls.
type Call struct {
	sync.Mutex
	calls [][]interface{}
}

// Get returns the nth call ith parameter.
func (c *Call) Get(n, i int) interface{} {
	c.Lock()
	defer c.Unlock()

	return c.calls[n][i]
}

// Len returns the number of calls.
func (c *Call) Len() int {
	if c == nil {
		return 0
	}

	c.Lock()
	defer c.Unlock()

	return len(c.calls)
}

// Add adds a call to the list.
func (c *Call) Add(args ...interface{}) {
	if c == nil {
		return
	}

	c.Lock()
	c.calls = append(c.calls, args)
	c.Unlock()
}

// PublicKey is a fake implementation of crypto.PublicKey.
//
// - implements crypto.PublicKey
type PublicKey struct {
	crypto.PublicKey
	err       error
	verifyErr error
}

// NewBadPublicKey returns a new fake public key that returns error when
// appropriate.
func NewBadPublicKey() PublicKey {
	return PublicKey{err: fakeErr, verifyErr: fakeErr}
}

// NewInvalidPublicKey returns a fake public key that never verifies a
// signature.
func NewInvalidPublicKey() PublicKey {
	return PublicKey{verifyErr: fakeErr}
}

// Verify implements crypto.PublicKey.
func (pk PublicKey) Verify([]byte, crypto.Signature) error {
	return pk.verifyErr
}

// Equal implements crypto.PublicKey.
func (pk PublicKey) Equal(other interface{}) bool {
	_, ok := other.(PublicKey)
	return ok
}

// MarshalBinary implements crypto.PublicKey.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	return []byte("PK"), pk.err
}

// MarshalText implements crypto.PublicKey.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte("fake:PK"), pk.err
}

// PublicKeyFactory is a fake implementation of a public key factory.
//
// - implements crypto.PublicKeyFactory
type PublicKeyFactory struct {
	pubkey PublicKey
	err    error
}

// NewBadPublicKeyFactory returns a new fake public key factory that returns an
// error.
func NewBadPublicKeyFactory() PublicKeyFactory {
	return PublicKeyFactory{err: fakeErr}
}

// FromBytes implements crypto.PublicKeyFactory.
func (f PublicKeyFactory) FromBytes([]byte) (crypto.PublicKey, error) {
	return f.pubkey, f.err
}

// Signature is a fake implementation of the signature.
//
// - implements crypto.Signature
type Signature struct {
	crypto.Signature
	err error
}

// NewBadSignature returns a signature that will return error when appropriate.
func NewBadSignature() Signature {
	return Signature{err: fakeErr}
}

// Equal implements crypto.Signature.
func (s Signature) Equal(o crypto.Signature) bool {
	_, ok := o.(Signature)
	return ok
}

// MarshalBinary implements crypto.Signature.
func (s Signature) MarshalBinary() ([]byte, error) {
	return []byte("SIG"), s.err
}

// SignatureFactory is a fake implementation of the signature factory.
//
// - implements crypto.SignatureFactory
type SignatureFactory struct {
	signature Signature
	err       error
}

// NewBadSignatureFactory returns a signature factory that will return an error
// when appropriate.
func NewBadSignatureFactory() SignatureFactory {
	return SignatureFactory{err: fakeErr}
}

// SignatureOf implements crypto.SignatureFactory.
func (f SignatureFactory) SignatureOf([]byte) (crypto.Signature, error) {
	return f.signature, f.err
}

// Signer is a fake implementation of the crypto.Signer interface.
//
// - implements crypto.Signer
type Signer struct {
	crypto.Signer
	err error
}

// NewSigner returns a new signer.
func NewSigner() Signer {
	return Signer{}
}

// NewBadSigner returns a signer that will return an error when appropriate.
func NewBadSigner() Signer {
	return Signer{err: fakeErr}
}

// GetPublicKeyFactory implements crypto.Signer.
func (s Signer) GetPublicKeyFactory() crypto.PublicKeyFactory {
	return PublicKeyFactory{}
}

// GetSignatureFactory implements crypto.Signer.
func (s Signer) GetSignatureFactory() crypto.SignatureFactory {
	return SignatureFactory{}
}

// GetPublicKey implements crypto.Signer.
func (s Signer) GetPublicKey() crypto.PublicKey {
	return PublicKey{}
}

// Sign implements crypto.Signer.
func (s Signer) Sign([]byte) (crypto.Signature, error) {
	return Signature{}, s.err
}

// MarshalBinary implements crypto.Signer.
func (s Signer) MarshalBinary() ([]byte, error) {
	return []byte("SIGNER"), s.err
}

// Hash is a fake implementation of the hash.Hash interface.
//
// - implements hash.Hash
type Hash struct {
	hash.Hash
	delay int
	err   error
}

// NewBadHash returns a fake hash that returns an error when appropriate.
func NewBadHash() *Hash {
	return &Hash{err: fakeErr}
}

// NewBadHashWithDelay returns a fake hash that returns an error after a certain
// amount of calls.
func NewBadHashWithDelay(delay int) *Hash {
	return &Hash{err: fakeErr, delay: delay}
}

// Write implements hash.Hash.
func (h *Hash) Write([]byte) (int, error) {
	if h.delay > 0 {
		h.delay--
		return 0, nil
	}

	return 0, h.err
}

// Sum implements hash.Hash.
func (h *Hash) Sum([]byte) []byte {
	return []byte{}
}

// HashFactory is a fake implementation of a hash factory.
//
// - implements crypto.HashFactory
type HashFactory struct {
	hash *Hash
}

// NewHashFactory returns a fake hash factory.
func NewHashFactory(h *Hash) HashFactory {
	return HashFactory{hash: h}
}

// New implements crypto.HashFactory.
func (f HashFactory) New() hash.Hash {
	return f.hash
}

// NewBufferLogger returns a logger that writes JSON lines into the buffer so
// that a test can check the logs of a component.
func NewBufferLogger() (zerolog.Logger, *bytes.Buffer) {
	buffer := new(bytes.Buffer)

	return zerolog.New(buffer), buffer
}
