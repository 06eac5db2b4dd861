package signed

import (
	"sync"

	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/core/access"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/crypto"
	"golang.org/x/xerrors"
)

// Client is the interface the manager is using to get the nonce of an identity.
// It allows a local implementation, or through a network client.
type Client interface {
	GetNonce(access.Identity) (uint64, error)
}

// NonceStore persists the next unused nonce of the local identity so that a
// restarted process does not reuse a sequence number.
type NonceStore interface {
	// Load returns the stored nonce and true, or false if nothing is stored.
	Load() (uint64, bool, error)

	Store(nonce uint64) error
}

// TransactionManager is a manager to create signed transactions. It manages the
// nonce by itself, except if the transaction is refused by the ledger. In that
// case the manager should be synchronized before creating a new one.
type TransactionManager struct {
	sync.Mutex

	client  Client
	signer  crypto.Signer
	store   NonceStore
	nonce   uint64
	hashFac crypto.HashFactory
}

// ManagerOption is the type of options to create a manager.
type ManagerOption func(*TransactionManager)

// WithNonceStore is an option to persist the nonce after every change.
func WithNonceStore(store NonceStore) ManagerOption {
	return func(mgr *TransactionManager) {
		mgr.store = store
	}
}

// WithManagerHashFactory is an option to set the hash factory of the
// transactions created by the manager.
func WithManagerHashFactory(f crypto.HashFactory) ManagerOption {
	return func(mgr *TransactionManager) {
		mgr.hashFac = f
	}
}

// NewManager creates a new transaction manager starting at nonce zero.
func NewManager(signer crypto.Signer, client Client, opts ...ManagerOption) *TransactionManager {
	mgr := &TransactionManager{
		client:  client,
		signer:  signer,
		nonce:   0,
		hashFac: crypto.NewSha256Factory(),
	}

	for _, opt := range opts {
		opt(mgr)
	}

	return mgr
}

// Nonce returns the next nonce the manager will use.
func (mgr *TransactionManager) Nonce() uint64 {
	mgr.Lock()
	defer mgr.Unlock()

	return mgr.nonce
}

// Restore loads the nonce from the store, if any. It is used when the ledger
// cannot be reached at start-up.
func (mgr *TransactionManager) Restore() error {
	if mgr.store == nil {
		return nil
	}

	mgr.Lock()
	defer mgr.Unlock()

	nonce, found, err := mgr.store.Load()
	if err != nil {
		return xerrors.Errorf("store: %v", err)
	}

	if found {
		mgr.nonce = nonce
	}

	return nil
}

// Make creates a transaction populated with the
// arguments. The lock is held across the creation, the signature and the
// increment so that two concurrent calls never share a nonce.
func (mgr *TransactionManager) Make(args ...txn.Arg) (txn.Transaction, error) {
	mgr.Lock()
	defer mgr.Unlock()

	opts := make([]TransactionOption, len(args), len(args)+1)
	for i, arg := range args {
		opts[i] = WithArg(arg.Key, arg.Value)
	}

	opts = append(opts, WithHashFactory(mgr.hashFac))

	tx, err := NewTransaction(mgr.nonce, mgr.signer.GetPublicKey(), opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to create tx: %v", err)
	}

	err = tx.Sign(mgr.signer)
	if err != nil {
		return nil, xerrors.Errorf("failed to sign: %v", err)
	}

	mgr.nonce++

	err = mgr.persist()
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// Sync fetches the nonce of the account from the ledger, after a transaction
// was rejected for instance.
func (mgr *TransactionManager) Sync() error {
	nonce, err := mgr.client.GetNonce(mgr.signer.GetPublicKey())
	if err != nil {
		return xerrors.Errorf("client: %w", err)
	}

	mgr.Lock()
	defer mgr.Unlock()

	mgr.nonce = nonce

	fedchain.Logger.Debug().Uint64("nonce", nonce).Msg("manager synchronized")

	return mgr.persist()
}

func (mgr *TransactionManager) persist() error {
	if mgr.store == nil {
		return nil
	}

	err := mgr.store.Store(mgr.nonce)
	if err != nil {
		return xerrors.Errorf("failed to persist nonce: %v", err)
	}

	return nil
}
