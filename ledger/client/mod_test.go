package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/execution/native"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/ordering/local"
	"go.dedis.ch/fedchain/core/store/kv"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/core/txn/signed"
	"go.dedis.ch/fedchain/crypto/ed25519"
	"go.dedis.ch/fedchain/internal/testing/fake"
	"golang.org/x/xerrors"
)

func TestClient_Submit(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	cl, err := New(node, ed25519.NewSigner(), fastRetry())
	require.NoError(t, err)
	require.Regexp(t, "^0x[0-9a-f]{40}$", cl.Address())

	require.NoError(t, cl.Sync())
	require.Equal(t, uint64(0), cl.Nonce())

	receipt, err := cl.Submit(ctx, operatorArgs("alice")...)
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	require.Equal(t, uint64(1), receipt.Height)
	require.Equal(t, uint64(1), cl.Nonce())

	value, err := cl.Call(ctx, execution.Query{
		Contract: federation.ContractName,
		Method:   federation.QueryOperator,
		Args:     map[string][]byte{federation.CallerArg: []byte(cl.Address())},
	})
	require.NoError(t, err)
	require.Equal(t, "alice", string(value))

	height, err := cl.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)

	logs, err := cl.Logs(ctx, ordering.Filter{Name: federation.EventNewBid})
	require.NoError(t, err)
	require.Empty(t, logs)

	// A call never consumes a nonce.
	require.Equal(t, uint64(1), cl.Nonce())
}

func TestClient_Submit_Refused(t *testing.T) {
	node := makeNode(t)
	ledger := fake.NewLedger(node)

	cl, err := New(ledger, ed25519.NewSigner(), fastRetry())
	require.NoError(t, err)

	_, err = cl.Submit(context.Background(), operatorArgs("alice")...)
	require.NoError(t, err)

	// The contract refuses a second registration, which is final and sent
	// only once.
	receipt, err := cl.Submit(context.Background(), operatorArgs("alice")...)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, ErrReverted))
	require.False(t, xerrors.Is(err, ErrRejected))
	require.Contains(t, err.Error(), "transaction refused: ")
	require.Contains(t, err.Error(), "already registered")
	require.NotContains(t, err.Error(), "retry failed")
	require.False(t, receipt.Accepted)
	require.Equal(t, 2, ledger.SubmitCount())

	// The refused transaction is included and consumes its nonce.
	nonce, err := node.GetNonce(context.Background(), cl.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)
	require.Equal(t, uint64(2), cl.Nonce())

	height, err := node.Height(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), height)
}

func TestClient_Submit_StaleNonce(t *testing.T) {
	node := makeNode(t)
	signer := ed25519.NewSigner()

	first, err := New(node, signer, fastRetry())
	require.NoError(t, err)

	second, err := New(node, signer, fastRetry())
	require.NoError(t, err)

	_, err = first.Submit(context.Background(), operatorArgs("alice")...)
	require.NoError(t, err)

	// The second client is behind the ledger and recovers with a single
	// synchronization.
	receipt, err := second.Submit(context.Background(), announceArgs("svc")...)
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	require.Equal(t, uint64(2), second.Nonce())

	nonce, err := node.GetNonce(context.Background(), second.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)
}

func TestClient_Submit_Unavailable(t *testing.T) {
	node := makeNode(t)
	ledger := fake.NewLedger(node)
	ledger.Unavailable = 2

	cl, err := New(ledger, ed25519.NewSigner(), fastRetry())
	require.NoError(t, err)

	receipt, err := cl.Submit(context.Background(), operatorArgs("alice")...)
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	require.Equal(t, uint64(1), cl.Nonce())

	// The same transaction is sent until the ledger answers.
	require.Equal(t, 3, ledger.SubmitCount())
	for _, tx := range ledger.Submitted {
		require.Equal(t, receipt.TxID, tx.GetID())
	}
}

func TestClient_Submit_UnavailableExhausted(t *testing.T) {
	node := makeNode(t)
	ledger := fake.NewLedger(node)
	ledger.Unavailable = 10

	cl, err := New(ledger, ed25519.NewSigner(), fastRetry(), WithMaxTries(3))
	require.NoError(t, err)

	_, err = cl.Submit(context.Background(), operatorArgs("alice")...)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, ErrUnavailable))
	require.Equal(t, 3, ledger.SubmitCount())

	// The nonce is consumed even though the transaction never reached the
	// ledger.
	require.Equal(t, uint64(1), cl.Nonce())
}

func TestClient_Submit_Canceled(t *testing.T) {
	ledger := fake.NewLedger(makeNode(t))
	ledger.Unavailable = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cl, err := New(ledger, ed25519.NewSigner(), fastRetry())
	require.NoError(t, err)

	_, err = cl.Submit(ctx, operatorArgs("alice")...)
	require.Error(t, err)
	require.LessOrEqual(t, ledger.SubmitCount(), 1)
}

func TestClient_Submit_Failures(t *testing.T) {
	ledger := fake.NewBadLedger()

	cl, err := New(ledger, ed25519.NewSigner(), fastRetry())
	require.NoError(t, err)

	_, err = cl.Submit(context.Background(), operatorArgs("alice")...)
	require.EqualError(t, err, fake.GetError().Error())
	require.Equal(t, 1, ledger.SubmitCount())

	cl, err = New(fake.NewLedger(makeNode(t)), fake.NewBadSigner(), fastRetry())
	require.NoError(t, err)

	_, err = cl.Submit(context.Background(), operatorArgs("alice")...)
	require.EqualError(t, err, fake.Err("failed to make tx: failed to sign: signer"))
}

func TestClient_Sync(t *testing.T) {
	db := fake.NewInMemoryDB()
	store := signed.NewNonceStore(db, "nonce")
	require.NoError(t, store.Store(5))

	ledger := fake.NewLedger(makeNode(t))
	ledger.Unavailable = 1

	cl, err := New(ledger, ed25519.NewSigner(), WithNonceStore(store))
	require.NoError(t, err)

	// The ledger is unavailable so the nonce is restored from the store.
	require.NoError(t, cl.Sync())
	require.Equal(t, uint64(5), cl.Nonce())

	require.NoError(t, cl.Sync())
	require.Equal(t, uint64(0), cl.Nonce())

	nonce, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(0), nonce)

	cl, err = New(fake.NewBadLedger(), ed25519.NewSigner())
	require.NoError(t, err)

	err = cl.Sync()
	require.EqualError(t, err, fake.Err("failed to sync: client"))
}

func TestClient_Call_Unavailable(t *testing.T) {
	ledger := fake.NewLedger(makeNode(t))
	ledger.Unavailable = 2

	cl, err := New(ledger, ed25519.NewSigner(), fastRetry())
	require.NoError(t, err)

	height, err := cl.Height(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), height)

	_, err = cl.Call(context.Background(), execution.Query{Contract: "unknown"})
	require.Error(t, err)
	require.False(t, xerrors.Is(err, ErrUnavailable))
}

// -----------------------------------------------------------------------------
// Utility functions

func makeNode(t *testing.T) *local.Node {
	db, err := kv.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	exec := native.NewExecution()
	federation.RegisterContract(exec, federation.NewContract())

	node, err := local.NewNode(db, exec)
	require.NoError(t, err)

	return node
}

func fastRetry() Option {
	return WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	})
}

func operatorArgs(name string) []txn.Arg {
	return []txn.Arg{
		{Key: native.ContractArg, Value: []byte(federation.ContractName)},
		{Key: federation.CmdArg, Value: []byte(federation.CmdAddOperator)},
		{Key: federation.NameArg, Value: []byte(name)},
	}
}

func announceArgs(id string) []txn.Arg {
	return []txn.Arg{
		{Key: native.ContractArg, Value: []byte(federation.ContractName)},
		{Key: federation.CmdArg, Value: []byte(federation.CmdAnnounceService)},
		{Key: federation.IDArg, Value: []byte(id)},
		{Key: federation.RequirementsArg, Value: []byte("service=detector;replicas=1")},
	}
}
