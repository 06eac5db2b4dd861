// Package signed implements the transactions of the federation accounts.
//
// A transaction carries the arguments of a contract command, the public key
// of the domain and a signature of its digest. The nonce is the sequence
// number of the account: the ledger accepts only the next one, which rules out
// the replay of a transaction.
package signed

import (
	"encoding/binary"
	"io"
	"sort"

	"go.dedis.ch/fedchain/core/access"
	"go.dedis.ch/fedchain/crypto"
	"golang.org/x/xerrors"
)

// Transaction is a transaction of an account, signed by its key.
//
// - implements txn.Transaction
type Transaction struct {
	nonce  uint64
	args   map[string][]byte
	pubkey crypto.PublicKey
	sig    crypto.Signature
	hash   []byte
}

type options struct {
	args    map[string][]byte
	sig     crypto.Signature
	hashFac crypto.HashFactory
}

// TransactionOption is the type of options to create a transaction.
type TransactionOption func(*options)

// WithArg sets the value of an argument.
func WithArg(key string, value []byte) TransactionOption {
	return func(opts *options) {
		opts.args[key] = value
	}
}

// WithSignature sets the signature of a transaction received from another
// process. It must match the digest and the public key.
func WithSignature(sig crypto.Signature) TransactionOption {
	return func(opts *options) {
		opts.sig = sig
	}
}

// WithHashFactory replaces the SHA-256 digest of the transaction.
func WithHashFactory(f crypto.HashFactory) TransactionOption {
	return func(opts *options) {
		opts.hashFac = f
	}
}

// NewTransaction returns the transaction of the nonce for the public key. Its
// identifier is the digest of its fingerprint.
func NewTransaction(nonce uint64, pk crypto.PublicKey, opts ...TransactionOption) (*Transaction, error) {
	o := options{
		args:    make(map[string][]byte),
		hashFac: crypto.NewSha256Factory(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	tx := &Transaction{
		nonce:  nonce,
		args:   o.args,
		pubkey: pk,
		sig:    o.sig,
	}

	h := o.hashFac.New()

	err := tx.Fingerprint(h)
	if err != nil {
		return nil, xerrors.Errorf("couldn't fingerprint tx: %v", err)
	}

	tx.hash = h.Sum(nil)

	if tx.sig == nil {
		return tx, nil
	}

	err = tx.pubkey.Verify(tx.hash, tx.sig)
	if err != nil {
		return nil, xerrors.Errorf("invalid signature: %v", err)
	}

	return tx, nil
}

// GetID implements txn.Transaction.
func (t *Transaction) GetID() []byte {
	return t.hash
}

// GetNonce implements txn.Transaction.
func (t *Transaction) GetNonce() uint64 {
	return t.nonce
}

// GetIdentity implements txn.Transaction. The identity is the public key of
// the account, from which the ledger derives its address.
func (t *Transaction) GetIdentity() access.Identity {
	return t.pubkey
}

// GetSignature returns the signature, or nil when the transaction is not
// signed yet.
func (t *Transaction) GetSignature() crypto.Signature {
	return t.sig
}

// GetArgs returns the keys of the arguments in lexicographic order.
func (t *Transaction) GetArgs() []string {
	keys := make([]string, 0, len(t.args))
	for key := range t.args {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// GetArg implements txn.Transaction. It returns nil for a missing argument.
func (t *Transaction) GetArg(key string) []byte {
	return t.args[key]
}

// Sign signs the digest with the key of the account.
func (t *Transaction) Sign(signer crypto.Signer) error {
	if len(t.hash) == 0 {
		return xerrors.New("missing digest in transaction")
	}

	if !signer.GetPublicKey().Equal(t.pubkey) {
		return xerrors.New("mismatch signer and identity")
	}

	sig, err := signer.Sign(t.hash)
	if err != nil {
		return xerrors.Errorf("signer: %v", err)
	}

	t.sig = sig

	return nil
}

// Fingerprint writes the nonce in little-endian, then every argument in the
// order of the keys, and finally the public key. The key and the value of an
// argument are both prefixed by their length.
func (t *Transaction) Fingerprint(w io.Writer) error {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], t.nonce)

	_, err := w.Write(nonce[:])
	if err != nil {
		return xerrors.Errorf("couldn't write nonce: %v", err)
	}

	for _, key := range t.GetArgs() {
		_, err = w.Write(lengthPrefixed([]byte(key), t.args[key]))
		if err != nil {
			return xerrors.Errorf("couldn't write arg: %v", err)
		}
	}

	pubkey, err := t.pubkey.MarshalBinary()
	if err != nil {
		return xerrors.Errorf("failed to marshal public key: %v", err)
	}

	_, err = w.Write(pubkey)
	if err != nil {
		return xerrors.Errorf("couldn't write public key: %v", err)
	}

	return nil
}

func lengthPrefixed(parts ...[]byte) []byte {
	size := 0
	for _, part := range parts {
		size += 4 + len(part)
	}

	out := make([]byte, 0, size)

	for _, part := range parts {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(part)))
		out = append(out, part...)
	}

	return out
}
