package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/fedchain/core/access"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/execution/native"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/ordering/local"
	"go.dedis.ch/fedchain/core/store"
	"go.dedis.ch/fedchain/core/store/kv"
	"go.dedis.ch/fedchain/core/txn/signed"
	"go.dedis.ch/fedchain/crypto/ed25519"
	"golang.org/x/xerrors"
)

func TestClient_Submit(t *testing.T) {
	srv, _ := makeServer(t)
	client := NewClient(srv.URL + "/")
	signer := ed25519.NewSigner()
	ctx := context.Background()

	receipt, err := client.Submit(ctx, makeTx(t, signer, 0, "A", "1"))
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	require.Equal(t, uint64(1), receipt.Height)
	require.Len(t, receipt.Logs, 1)
	require.Equal(t, []byte("A"), receipt.Logs[0].Get("key"))

	_, err = client.Submit(ctx, makeTx(t, signer, 5, "A", "1"))
	require.EqualError(t, err, "invalid nonce 5, expected 1: transaction rejected")
	require.True(t, xerrors.Is(err, ordering.ErrRejected))

	unsigned, err := signed.NewTransaction(1, signer.GetPublicKey())
	require.NoError(t, err)

	_, err = client.Submit(ctx, unsigned)
	require.EqualError(t, err, "failed to encode tx: json: error calling MarshalJSON "+
		"for type *signed.Transaction: signature is missing")

	addr, err := access.AddressOf(signer.GetPublicKey())
	require.NoError(t, err)

	nonce, err := client.GetNonce(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	height, err := client.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)
}

func TestClient_Call(t *testing.T) {
	srv, node := makeServer(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	_, err := node.Submit(ctx, makeTx(t, ed25519.NewSigner(), 0, "A", "1"))
	require.NoError(t, err)

	value, err := client.Call(ctx, execution.Query{
		Contract: "kv",
		Args:     map[string][]byte{"key": []byte("A")},
	})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	_, err = client.Call(ctx, execution.Query{Contract: "unknown"})
	require.EqualError(t, err, "request failed with status 400: "+
		"call failed: unknown contract 'unknown'")
}

func TestClient_Logs(t *testing.T) {
	srv, node := makeServer(t)
	client := NewClient(srv.URL)
	signer := ed25519.NewSigner()
	ctx := context.Background()

	logs, err := client.Logs(ctx, ordering.Filter{Name: "Set"})
	require.NoError(t, err)
	require.Empty(t, logs)

	for i, key := range []string{"A", "B"} {
		_, err := node.Submit(ctx, makeTx(t, signer, uint64(i), key, "x"))
		require.NoError(t, err)
	}

	logs, err = client.Logs(ctx, ordering.Filter{Name: "Set", From: 2})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, []byte("B"), logs[0].Get("key"))
	require.Equal(t, uint64(2), logs[0].Height)
}

func TestClient_Logs_LongPoll(t *testing.T) {
	srv, node := makeServer(t)
	client := NewClient(srv.URL, WithLongPoll(5*time.Second))
	ctx := context.Background()

	go func() {
		time.Sleep(100 * time.Millisecond)
		node.Submit(ctx, makeTx(t, ed25519.NewSigner(), 0, "A", "1"))
	}()

	start := time.Now()

	logs, err := client.Logs(ctx, ordering.Filter{Name: "Set", From: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Less(t, time.Since(start), 5*time.Second)

	client = NewClient(srv.URL, WithLongPoll(50*time.Millisecond))

	logs, err = client.Logs(ctx, ordering.Filter{Name: "Set", From: 2})
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestClient_Unavailable(t *testing.T) {
	srv, node := makeServer(t)
	client := NewClient(srv.URL)

	require.NoError(t, node.Close())

	_, err := client.Submit(context.Background(), makeTx(t, ed25519.NewSigner(), 0, "A", "1"))
	require.True(t, xerrors.Is(err, ordering.ErrUnavailable))
	require.EqualError(t, err, "node is closed: ledger unavailable")

	srv.Close()

	_, err = client.Height(context.Background())
	require.True(t, xerrors.Is(err, ordering.ErrUnavailable))
}

func TestServer_BadRequests(t *testing.T) {
	srv, _ := makeServer(t)

	res, err := http.Get(srv.URL + PathTx)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	client := NewClient(srv.URL)

	err = client.do(context.Background(), http.MethodGet, PathNonce, nil, nil, nil)
	require.EqualError(t, err, "request failed with status 400: missing address")

	err = client.do(context.Background(), http.MethodGet, PathLogs,
		map[string][]string{"from": {"abc"}}, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid from: ")

	err = client.do(context.Background(), http.MethodGet, PathLogs,
		map[string][]string{"wait": {"abc"}}, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid wait: ")

	err = client.do(context.Background(), http.MethodPost, PathTx, nil, []byte("{}"), nil)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, ordering.ErrRejected))
	require.Contains(t, err.Error(), "invalid transaction: ")

	err = client.do(context.Background(), http.MethodPost, PathCall, nil, []byte("["), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode query: ")
}

func TestClient_Tracing(t *testing.T) {
	tracer := mocktracer.New()

	srv, _ := makeServer(t, WithServerTracer(tracer))
	client := NewClient(srv.URL, WithClientTracer(tracer))

	_, err := client.Height(context.Background())
	require.NoError(t, err)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)

	// The server span finishes first.
	require.Equal(t, "ledger/height", spans[0].OperationName)
	require.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)
}

// -----------------------------------------------------------------------------
// Utility functions

type muxRegistrar struct {
	*http.ServeMux
}

func (r muxRegistrar) RegisterHandler(path string, h func(http.ResponseWriter, *http.Request)) {
	r.HandleFunc(path, h)
}

func makeServer(t *testing.T, opts ...ServerOption) (*httptest.Server, *local.Node) {
	db, err := kv.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	exec := native.NewExecution()
	exec.Set("kv", kvContract{})

	node, err := local.NewNode(db, exec)
	require.NoError(t, err)

	mux := muxRegistrar{ServeMux: http.NewServeMux()}

	NewServer(node, signed.NewTransactionFactory(), opts...).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, node
}

func makeTx(t *testing.T, signer ed25519.Signer, nonce uint64, key, value string) *signed.Transaction {
	tx, err := signed.NewTransaction(nonce, signer.GetPublicKey(),
		signed.WithArg(native.ContractArg, []byte("kv")),
		signed.WithArg("key", []byte(key)),
		signed.WithArg("value", []byte(value)),
	)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(signer))

	return tx
}

type kvContract struct{}

func (kvContract) Execute(snap store.Snapshot, step execution.Step) error {
	key := step.Current.GetArg("key")

	err := snap.Set(key, step.Current.GetArg("value"))
	if err != nil {
		return err
	}

	step.Events.Emit("Set", execution.Attribute{Key: "key", Value: key})

	return nil
}

func (kvContract) Query(state store.Readable, q execution.Query) ([]byte, error) {
	return state.Get(q.Args["key"])
}
