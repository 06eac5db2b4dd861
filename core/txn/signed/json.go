package signed

import (
	"encoding/json"

	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/crypto"
	"go.dedis.ch/fedchain/crypto/ed25519"
	"golang.org/x/xerrors"
)

// TransactionJSON is the JSON message of a transaction as it travels between
// the domains and the ledger node.
type TransactionJSON struct {
	Nonce     uint64
	Args      map[string][]byte
	PublicKey []byte
	Signature []byte
}

// MarshalJSON implements json.Marshaler. It returns the JSON data of a signed
// transaction.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	if t.sig == nil {
		return nil, xerrors.New("signature is missing")
	}

	pubkey, err := t.pubkey.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to encode public key: %v", err)
	}

	sig, err := t.sig.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to encode signature: %v", err)
	}

	m := TransactionJSON{
		Nonce:     t.nonce,
		Args:      t.args,
		PublicKey: pubkey,
		Signature: sig,
	}

	return json.Marshal(m)
}

// TransactionFactory is a factory to deserialize transactions.
//
// - implements txn.Factory
type TransactionFactory struct {
	pubkeyFac crypto.PublicKeyFactory
	sigFac    crypto.SignatureFactory
}

// NewTransactionFactory returns a new factory for transactions signed with
// Ed25519 keys.
func NewTransactionFactory() TransactionFactory {
	return TransactionFactory{
		pubkeyFac: ed25519.NewPublicKeyFactory(),
		sigFac:    ed25519.NewSignatureFactory(),
	}
}

// TransactionOf implements txn.Factory. It populates the transaction from the
// data if appropriate, otherwise it returns an error. The signature is verified
// against the identity.
func (f TransactionFactory) TransactionOf(data []byte) (txn.Transaction, error) {
	m := TransactionJSON{}

	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal: %v", err)
	}

	pubkey, err := f.pubkeyFac.FromBytes(m.PublicKey)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode public key: %v", err)
	}

	sig, err := f.sigFac.SignatureOf(m.Signature)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode signature: %v", err)
	}

	opts := []TransactionOption{WithSignature(sig)}

	for key, value := range m.Args {
		opts = append(opts, WithArg(key, value))
	}

	tx, err := NewTransaction(m.Nonce, pubkey, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to create tx: %v", err)
	}

	return tx, nil
}
