// Package controller implements the initializer of the federation protocol of
// a domain. The domain file sets the role, the name and the parameters of the
// runs; the daemon registers the domain on the ledger when it starts.
//
//	fedchain --config /tmp/consumer start --domain consumer.yaml \
//		--ledger http://127.0.0.1:8080
//	fedchain --config /tmp/consumer federation run
package controller

import (
	"context"
	"time"

	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/config"
	"go.dedis.ch/fedchain/federation"
	"go.dedis.ch/fedchain/internal/timing"
	"golang.org/x/xerrors"
)

const (
	defaultTimeout = 5 * time.Minute
	startTimeout   = 30 * time.Second
)

// settings are the parameters of the actions, read from the domain file when
// the daemon starts.
type settings struct {
	config.Domain

	folder string
}

// NewController returns the initializer of the federation.
func NewController() node.Initializer {
	return controller{}
}

// controller creates the session of the domain and injects it.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:  config.DomainFlag,
			Usage: "the YAML file of the domain",
		},
		cli.StringFlag{
			Name:  config.RoleFlag,
			Usage: "consumer or provider, overrides the domain file",
		},
	)

	cmd := builder.SetCommand("federation")
	cmd.SetDescription("take part in the federation of services")

	service := cli.StringFlag{
		Name:     "service",
		Usage:    "the identifier of the service",
		Required: true,
	}

	sub := cmd.SetSubCommand("register")
	sub.SetDescription("register the domain as an operator")
	sub.SetFlags(cli.StringFlag{
		Name:  "name",
		Usage: "the name of the domain, or the one of the domain file",
	})
	sub.SetAction(builder.MakeAction(registerAction{}))

	sub = cmd.SetSubCommand("announce")
	sub.SetDescription("announce a service and print its identifier")
	sub.SetFlags(cli.StringFlag{
		Name:  "requirements",
		Usage: "the requirements, in the form service=<name>;replicas=<n>",
	})
	sub.SetAction(builder.MakeAction(announceAction{}))

	sub = cmd.SetSubCommand("bids")
	sub.SetDescription("print the new bids of the announced service")
	sub.SetAction(builder.MakeAction(bidsAction{}))

	sub = cmd.SetSubCommand("choose")
	sub.SetDescription("choose the provider of a bid")
	sub.SetFlags(cli.IntFlag{
		Name:     "index",
		Usage:    "the index of the bid, starting at 1",
		Required: true,
	})
	sub.SetAction(builder.MakeAction(chooseAction{}))

	sub = cmd.SetSubCommand("services")
	sub.SetDescription("print the services open to bids")
	sub.SetFlags(cli.IntFlag{
		Name:  "from",
		Usage: "the height of the first block",
		Value: 1,
	})
	sub.SetAction(builder.MakeAction(servicesAction{}))

	sub = cmd.SetSubCommand("bid")
	sub.SetDescription("place a bid on a service")
	sub.SetFlags(service, cli.IntFlag{
		Name:  "price",
		Usage: "the price of the bid, or the one of the domain file",
	})
	sub.SetAction(builder.MakeAction(bidAction{}))

	sub = cmd.SetSubCommand("winner")
	sub.SetDescription("print whether the domain won a service")
	sub.SetFlags(service)
	sub.SetAction(builder.MakeAction(winnerAction{}))

	sub = cmd.SetSubCommand("deployed")
	sub.SetDescription("report the deployment of a won service")
	sub.SetFlags(service, cli.StringFlag{
		Name:     "address",
		Usage:    "the external address of the workload",
		Required: true,
	})
	sub.SetAction(builder.MakeAction(deployedAction{}))

	sub = cmd.SetSubCommand("state")
	sub.SetDescription("print the state of a service")
	sub.SetFlags(service)
	sub.SetAction(builder.MakeAction(stateAction{}))

	sub = cmd.SetSubCommand("info")
	sub.SetDescription("print the endpoints of a deployed service")
	sub.SetFlags(service)
	sub.SetAction(builder.MakeAction(infoAction{}))

	sub = cmd.SetSubCommand("run")
	sub.SetDescription("run a whole federation in the role of the domain")
	sub.SetFlags(
		cli.StringFlag{
			Name:  "requirements",
			Usage: "the requirements of a consumer, or the ones of the domain file",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "the maximum duration of the run, or the one of the domain file",
		},
	)
	sub.SetAction(builder.MakeAction(runAction{}))
}

// OnStart implements node.Initializer. It creates the session of the domain
// and registers it. A provider starts watching the announcements right away.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	domain, err := config.FromFlags(flags)
	if err != nil {
		return xerrors.Errorf("failed to read config: %v", err)
	}

	role, err := federation.ParseRole(domain.Role)
	if err != nil {
		return xerrors.Errorf("invalid role: %v", err)
	}

	strategy, err := federation.ParseStrategy(domain.Strategy)
	if err != nil {
		return xerrors.Errorf("invalid strategy: %v", err)
	}

	var ledger federation.Ledger

	err = inj.Resolve(&ledger)
	if err != nil {
		return xerrors.Errorf("failed to resolve ledger: %v", err)
	}

	opts := []federation.SessionOption{
		federation.WithEndpoint(domain.Endpoint),
		federation.WithStrategy(strategy),
		federation.WithRecorder(timing.NewRecorder()),
	}

	if domain.Interval > 0 {
		opts = append(opts, federation.WithInterval(domain.Interval))
	}

	session := federation.NewSession(role, ledger, opts...)

	if domain.Name == "" {
		domain.Name = string(role)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	err = session.EnsureRegistered(ctx, domain.Name)
	if err != nil {
		return xerrors.Errorf("failed to register: %v", err)
	}

	if role == federation.RoleProvider {
		_, err = session.WatchAnnouncements(ctx)
		if err != nil {
			return xerrors.Errorf("failed to watch: %v", err)
		}
	}

	inj.Inject(session)
	inj.Inject(&settings{Domain: domain, folder: flags.Path(node.ConfigFlag)})

	fedchain.Logger.Info().
		Str("role", string(role)).
		Str("name", domain.Name).
		Str("addr", session.Address()).
		Str("strategy", strategy.Name()).
		Msg("federation ready")

	return nil
}

// OnStop implements node.Initializer.
func (controller) OnStop(node.Injector) error {
	return nil
}
