// Package controller implements the initializer of the ledger node. It starts
// the single-sequencer ordering service on the database of the process and
// serves it on the HTTP proxy.
//
//	ledgerd --config /tmp/ledger start --listen 127.0.0.1:8080
//	ledgerd --config /tmp/ledger ledger height
package controller

import (
	opentracing "github.com/opentracing/opentracing-go"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/core/execution/native"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/ordering/local"
	"go.dedis.ch/fedchain/core/store/kv"
	"go.dedis.ch/fedchain/core/txn/signed"
	"go.dedis.ch/fedchain/internal/tracing"
	"go.dedis.ch/fedchain/ledger/remote"
	"go.dedis.ch/fedchain/proxy"
	"golang.org/x/xerrors"
)

// TracerName is the name of the service in the traces of the node.
const TracerName = "ledgerd"

var getTracer = tracing.GetTracer

// NewController returns the initializer of the ledger node.
func NewController() node.Initializer {
	return controller{}
}

// controller creates the ledger node and registers its routes.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer.
func (controller) SetCommands(builder node.Builder) {
	cmd := builder.SetCommand("ledger")
	cmd.SetDescription("inspect the ledger")

	sub := cmd.SetSubCommand("height")
	sub.SetDescription("print the height of the latest block")
	sub.SetAction(builder.MakeAction(heightAction{}))

	sub = cmd.SetSubCommand("logs")
	sub.SetDescription("print the events of the blocks")
	sub.SetFlags(
		cli.StringFlag{
			Name:  "name",
			Usage: "the name of the events, or every event if empty",
		},
		cli.IntFlag{
			Name:  "from",
			Usage: "the height of the first block",
		},
	)
	sub.SetAction(builder.MakeAction(logsAction{}))

	sub = cmd.SetSubCommand("watch")
	sub.SetDescription("print the new blocks for a while")
	sub.SetFlags(cli.DurationFlag{
		Name:  "duration",
		Usage: "how long to watch",
		Value: defaultWatch,
	})
	sub.SetAction(builder.MakeAction(watchAction{}))
}

// OnStart implements node.Initializer. It creates the node on the database and
// serves it on the proxy.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	var db kv.DB

	err := inj.Resolve(&db)
	if err != nil {
		return xerrors.Errorf("failed to resolve db: %v", err)
	}

	var srv proxy.Proxy

	err = inj.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("failed to resolve proxy: %v", err)
	}

	exec := native.NewExecution()
	federation.RegisterContract(exec, federation.NewContract())

	n, err := local.NewNode(db, exec)
	if err != nil {
		return xerrors.Errorf("failed to create node: %v", err)
	}

	tracer, err := getTracer(TracerName)
	if err != nil {
		fedchain.Logger.Warn().Err(err).Msg("tracing disabled")
		tracer = opentracing.NoopTracer{}
	}

	remote.NewServer(n, signed.NewTransactionFactory(), remote.WithServerTracer(tracer)).Register(srv)

	inj.Inject(n)

	fedchain.Logger.Info().Str("addr", srv.GetAddr().String()).Msg("ledger node started")

	return nil
}

// OnStop implements node.Initializer. It closes the node and flushes the
// traces.
func (controller) OnStop(inj node.Injector) error {
	var n ordering.Service

	err := inj.Resolve(&n)
	if err != nil {
		return xerrors.Errorf("failed to resolve ledger: %v", err)
	}

	err = n.Close()
	if err != nil {
		return xerrors.Errorf("failed to close ledger: %v", err)
	}

	err = tracing.CloseAll()
	if err != nil {
		return xerrors.Errorf("failed to close tracers: %v", err)
	}

	return nil
}
