package controller

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/execution/native"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/store/kv"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/crypto/ed25519"
	"go.dedis.ch/fedchain/internal/testing/fake"
	"go.dedis.ch/fedchain/ledger/client"
	"go.dedis.ch/fedchain/ledger/remote"
	"go.dedis.ch/fedchain/proxy"
)

func TestController_SetCommands(t *testing.T) {
	builder := &fakeBuilder{}

	NewController().SetCommands(builder)

	require.Equal(t, []string{"ledger"}, builder.commands)
	require.Equal(t, 3, builder.actions)
}

func TestController_Lifecycle(t *testing.T) {
	defer func(fn func(string) (opentracing.Tracer, error)) { getTracer = fn }(getTracer)

	getTracer = func(string) (opentracing.Tracer, error) {
		return nil, fake.GetError()
	}

	ctrl := NewController()
	inj := node.NewInjector()

	err := ctrl.OnStart(node.FlagSet{}, inj)
	require.EqualError(t, err, "failed to resolve db: couldn't find dependency for 'kv.DB'")

	db, err := kv.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	defer db.Close()

	inj.Inject(db)

	err = ctrl.OnStart(node.FlagSet{}, inj)
	require.EqualError(t, err, "failed to resolve proxy: couldn't find dependency for 'proxy.Proxy'")

	srv := &fakeProxy{}
	inj.Inject(srv)

	err = ctrl.OnStart(node.FlagSet{}, inj)
	require.NoError(t, err)
	require.Equal(t, []string{
		remote.PathTx, remote.PathCall, remote.PathNonce, remote.PathHeight, remote.PathLogs,
	}, srv.paths)

	var ledger ordering.Service
	require.NoError(t, inj.Resolve(&ledger))

	cl, err := client.New(ledger, ed25519.NewSigner())
	require.NoError(t, err)

	_, err = cl.Submit(context.Background(), contractArgs(federation.CmdAddOperator,
		txn.Arg{Key: federation.NameArg, Value: []byte("consumer")})...)
	require.NoError(t, err)

	_, err = cl.Submit(context.Background(), contractArgs(federation.CmdAnnounceService,
		txn.Arg{Key: federation.IDArg, Value: []byte("service1")},
		txn.Arg{Key: federation.RequirementsArg, Value: []byte("service=detector;replicas=1")})...)
	require.NoError(t, err)

	out := new(bytes.Buffer)
	ctx := node.Context{Injector: inj, Flags: node.FlagSet{}, Out: out}

	require.NoError(t, heightAction{}.Execute(ctx))
	require.Equal(t, "2\n", out.String())

	out.Reset()
	ctx.Flags = node.FlagSet{"name": federation.EventServiceAnnouncement, "from": 1}

	require.NoError(t, logsAction{}.Execute(ctx))
	require.Equal(t, "2 ServiceAnnouncement requirements=service=detector;replicas=1 _id=service1\n", out.String())

	ctx.Flags = node.FlagSet{"from": -1}

	err = logsAction{}.Execute(ctx)
	require.EqualError(t, err, "invalid height -1")

	require.NoError(t, ctrl.OnStop(inj))
}

func TestWatchAction_Execute(t *testing.T) {
	out := new(bytes.Buffer)
	inj := node.NewInjector()
	ctx := node.Context{
		Injector: inj,
		Flags:    node.FlagSet{"duration": 50 * time.Millisecond},
		Out:      out,
	}

	err := watchAction{}.Execute(ctx)
	require.EqualError(t, err, "failed to resolve ledger: couldn't find dependency for 'ordering.Service'")

	events := make(chan ordering.Event, 2)
	events <- ordering.Event{Height: 3}
	events <- ordering.Event{Height: 4}
	close(events)

	inj.Inject(fakeService{events: events})

	require.NoError(t, watchAction{}.Execute(ctx))
	require.Equal(t, "block 3\nblock 4\n", out.String())
}

func TestActions_MissingLedger(t *testing.T) {
	ctx := node.Context{Injector: node.NewInjector(), Flags: node.FlagSet{}, Out: new(bytes.Buffer)}

	err := heightAction{}.Execute(ctx)
	require.EqualError(t, err, "failed to resolve ledger: couldn't find dependency for 'ordering.Service'")

	err = logsAction{}.Execute(ctx)
	require.EqualError(t, err, "failed to resolve ledger: couldn't find dependency for 'ordering.Service'")

	err = NewController().OnStop(node.NewInjector())
	require.EqualError(t, err, "failed to resolve ledger: couldn't find dependency for 'ordering.Service'")
}

func TestFormatLog(t *testing.T) {
	log := ordering.Log{
		Name:   federation.EventNewBid,
		Height: 7,
		Attributes: []execution.Attribute{
			{Key: federation.AttrID, Value: []byte("service1\x00\x00")},
			{Key: federation.AttrMaxBidIndex, Value: federation.EncodeUint(1)},
		},
	}

	require.Equal(t, "7 NewBid _id=service1 max_bid_index=0x0000000000000001", formatLog(log))
}

// -----------------------------------------------------------------------------
// Utility functions

func contractArgs(cmd federation.Command, args ...txn.Arg) []txn.Arg {
	return append([]txn.Arg{
		{Key: native.ContractArg, Value: []byte(federation.ContractName)},
		{Key: federation.CmdArg, Value: []byte(cmd)},
	}, args...)
}

type fakeProxy struct {
	proxy.Proxy
	paths []string
}

func (p *fakeProxy) GetAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func (p *fakeProxy) RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	p.paths = append(p.paths, path)
}

type fakeService struct {
	ordering.Service
	events chan ordering.Event
}

func (s fakeService) Watch(ctx context.Context) <-chan ordering.Event {
	return s.events
}

type fakeBuilder struct {
	commands []string
	actions  int
}

func (b *fakeBuilder) SetCommand(name string) cli.CommandBuilder {
	b.commands = append(b.commands, name)
	return fakeCommandBuilder{}
}

func (b *fakeBuilder) SetStartFlags(...cli.Flag) {}

func (b *fakeBuilder) MakeAction(node.ActionTemplate) cli.Action {
	b.actions++
	return nil
}

type fakeCommandBuilder struct{}

func (fakeCommandBuilder) SetDescription(string) {}

func (fakeCommandBuilder) SetFlags(...cli.Flag) {}

func (fakeCommandBuilder) SetAction(cli.Action) {}

func (fakeCommandBuilder) SetSubCommand(string) cli.CommandBuilder {
	return fakeCommandBuilder{}
}
