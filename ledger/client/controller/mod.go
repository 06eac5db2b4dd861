// Package controller implements the initializer of the ledger client of a
// domain. The client signs with the key of the configuration folder, which is
// generated on the first start, and persists its nonce in the database of the
// process.
//
//	fedchain --config /tmp/consumer start --ledger http://127.0.0.1:8080
//	fedchain --config /tmp/consumer key show
package controller

import (
	opentracing "github.com/opentracing/opentracing-go"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/config"
	"go.dedis.ch/fedchain/core/access"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/store/kv"
	"go.dedis.ch/fedchain/core/txn/signed"
	"go.dedis.ch/fedchain/crypto/loader"
	"go.dedis.ch/fedchain/internal/tracing"
	"go.dedis.ch/fedchain/ledger/client"
	"go.dedis.ch/fedchain/ledger/remote"
	"golang.org/x/xerrors"
)

// TracerName is the name of the service in the traces of the client.
const TracerName = "fedchain"

var (
	getTracer = tracing.GetTracer

	dialLedger = func(url string, tracer opentracing.Tracer) ordering.Ledger {
		return remote.NewClient(url, remote.WithClientTracer(tracer))
	}
)

// NewController returns the initializer of the ledger client.
func NewController() node.Initializer {
	return controller{}
}

// controller creates the client of the ledger and injects it.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:  config.LedgerFlag,
			Usage: "the URL of the ledger node",
		},
		cli.StringFlag{
			Name:  config.KeyFlag,
			Usage: "the private key of the domain, relative to the config folder",
		},
	)

	cmd := builder.SetCommand("key")
	cmd.SetDescription("manage the identity of the domain")

	sub := cmd.SetSubCommand("show")
	sub.SetDescription("print the account and the public key")
	sub.SetAction(builder.MakeAction(showAction{}))

	cmd = builder.SetCommand("nonce")
	cmd.SetDescription("manage the nonce of the account")

	sub = cmd.SetSubCommand("sync")
	sub.SetDescription("fetch the nonce from the ledger")
	sub.SetAction(builder.MakeAction(syncAction{}))
}

// OnStart implements node.Initializer. It loads or generates the key, creates
// the client and synchronizes its nonce.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	domain, err := config.FromFlags(flags)
	if err != nil {
		return xerrors.Errorf("failed to read config: %v", err)
	}

	if domain.Ledger == "" {
		return xerrors.New("missing ledger url")
	}

	var db kv.DB

	err = inj.Resolve(&db)
	if err != nil {
		return xerrors.Errorf("failed to resolve db: %v", err)
	}

	keyPath := domain.Key
	if keyPath == "" {
		keyPath = config.DefaultKey
	}

	signer, err := loader.LoadSigner(loader.NewFileLoader(config.Resolve(flags.Path(node.ConfigFlag), keyPath)), true)
	if err != nil {
		return xerrors.Errorf("failed to load signer: %v", err)
	}

	addr, err := access.AddressOf(signer.GetPublicKey())
	if err != nil {
		return xerrors.Errorf("failed to compute address: %v", err)
	}

	tracer, err := getTracer(TracerName)
	if err != nil {
		fedchain.Logger.Warn().Err(err).Msg("tracing disabled")
		tracer = opentracing.NoopTracer{}
	}

	cl, err := client.New(dialLedger(domain.Ledger, tracer), signer,
		client.WithNonceStore(signed.NewNonceStore(db, addr)))
	if err != nil {
		return xerrors.Errorf("failed to create client: %v", err)
	}

	err = cl.Sync()
	if err != nil {
		return xerrors.Errorf("failed to sync: %v", err)
	}

	inj.Inject(cl)

	fedchain.Logger.Info().
		Str("addr", addr).
		Str("ledger", domain.Ledger).
		Uint64("nonce", cl.Nonce()).
		Msg("ledger client ready")

	return nil
}

// OnStop implements node.Initializer. It flushes the traces.
func (controller) OnStop(node.Injector) error {
	err := tracing.CloseAll()
	if err != nil {
		return xerrors.Errorf("failed to close tracers: %v", err)
	}

	return nil
}
