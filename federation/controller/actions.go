package controller

import (
	"context"
	"fmt"
	"time"

	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/config"
	contract "go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/federation"
	"go.dedis.ch/fedchain/ledger/events"
	"go.dedis.ch/fedchain/prober"
	"golang.org/x/xerrors"
)

const requestTimeout = 30 * time.Second

type registerAction struct{}

// Execute implements node.ActionTemplate. It registers the domain under the
// name of the flag, or of the domain file.
func (registerAction) Execute(ctx node.Context) error {
	session, cfg, err := resolve(ctx)
	if err != nil {
		return err
	}

	name := ctx.Flags.String("name")
	if name == "" {
		name = cfg.Name
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err = session.RegisterDomain(rctx, name)
	if err != nil {
		return xerrors.Errorf("failed to register: %v", err)
	}

	fmt.Fprintf(ctx.Out, "registered as %s\n", name)

	return nil
}

type announceAction struct{}

// Execute implements node.ActionTemplate. It prints the identifier of the
// announced service.
func (announceAction) Execute(ctx node.Context) error {
	session, cfg, err := resolve(ctx)
	if err != nil {
		return err
	}

	req, err := requirements(ctx, cfg)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	id, _, err := session.AnnounceService(rctx, req)
	if err != nil {
		return xerrors.Errorf("failed to announce: %v", err)
	}

	fmt.Fprintln(ctx.Out, id)

	return nil
}

type bidsAction struct{}

// Execute implements node.ActionTemplate. It prints one line per bid received
// since the last call.
func (bidsAction) Execute(ctx node.Context) error {
	session, _, err := resolve(ctx)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	bids, err := session.CollectBids(rctx, session.Bids())
	if err != nil {
		return xerrors.Errorf("failed to collect bids: %v", err)
	}

	for _, bid := range bids {
		fmt.Fprintf(ctx.Out, "%d %s %d\n", bid.Index, bid.Provider, bid.Price)
	}

	return nil
}

type chooseAction struct{}

// Execute implements node.ActionTemplate.
func (chooseAction) Execute(ctx node.Context) error {
	session, _, err := resolve(ctx)
	if err != nil {
		return err
	}

	index := ctx.Flags.Int("index")
	if index < 0 {
		return xerrors.Errorf("invalid index %d", index)
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err = session.ChooseProvider(rctx, uint64(index))
	if err != nil {
		return xerrors.Errorf("failed to choose: %v", err)
	}

	fmt.Fprintf(ctx.Out, "provider of bid %d chosen for %s\n", index, session.ServiceID())

	return nil
}

type servicesAction struct{}

// Execute implements node.ActionTemplate. It reads the announcements from the
// height of the flag with a cursor of its own, so that the runs of the domain
// still see them.
func (servicesAction) Execute(ctx node.Context) error {
	session, _, err := resolve(ctx)
	if err != nil {
		return err
	}

	var ledger federation.Ledger

	err = ctx.Injector.Resolve(&ledger)
	if err != nil {
		return xerrors.Errorf("failed to resolve ledger: %v", err)
	}

	from := ctx.Flags.Int("from")
	if from < 0 {
		return xerrors.Errorf("invalid height %d", from)
	}

	cursor := events.NewSubscriber(ledger).Watch(contract.EventServiceAnnouncement, uint64(from))

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	open, err := session.OpenServices(rctx, cursor)
	if err != nil {
		return xerrors.Errorf("failed to read services: %v", err)
	}

	for _, ann := range open {
		fmt.Fprintf(ctx.Out, "%s %s\n", ann.ID, ann.Requirements)
	}

	return nil
}

type bidAction struct{}

// Execute implements node.ActionTemplate.
func (bidAction) Execute(ctx node.Context) error {
	session, cfg, err := resolve(ctx)
	if err != nil {
		return err
	}

	price := cfg.Price
	if ctx.Flags.Int("price") > 0 {
		price = uint64(ctx.Flags.Int("price"))
	}

	if price == 0 {
		return xerrors.New("missing price")
	}

	id := ctx.Flags.String("service")

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	_, err = session.PlaceBid(rctx, id, price)
	if err != nil {
		return xerrors.Errorf("failed to bid: %v", err)
	}

	fmt.Fprintf(ctx.Out, "bid of %d placed on %s\n", price, id)

	return nil
}

type winnerAction struct{}

// Execute implements node.ActionTemplate. It prints true when the domain won
// the service.
func (winnerAction) Execute(ctx node.Context) error {
	session, _, err := resolve(ctx)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	won, err := session.CheckWinner(rctx, ctx.Flags.String("service"))
	if err != nil {
		return xerrors.Errorf("failed to check winner: %v", err)
	}

	fmt.Fprintln(ctx.Out, won)

	return nil
}

type deployedAction struct{}

// Execute implements node.ActionTemplate.
func (deployedAction) Execute(ctx node.Context) error {
	session, _, err := resolve(ctx)
	if err != nil {
		return err
	}

	id := ctx.Flags.String("service")

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err = session.ServiceDeployed(rctx, id, ctx.Flags.String("address"))
	if err != nil {
		return xerrors.Errorf("failed to report: %v", err)
	}

	fmt.Fprintf(ctx.Out, "service %s deployed\n", id)

	return nil
}

type stateAction struct{}

// Execute implements node.ActionTemplate.
func (stateAction) Execute(ctx node.Context) error {
	session, _, err := resolve(ctx)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	state, err := session.ServiceState(rctx, ctx.Flags.String("service"))
	if err != nil {
		return xerrors.Errorf("failed to read state: %v", err)
	}

	fmt.Fprintln(ctx.Out, state)

	return nil
}

type infoAction struct{}

// Execute implements node.ActionTemplate.
func (infoAction) Execute(ctx node.Context) error {
	session, _, err := resolve(ctx)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	info, err := session.DeployedInfo(rctx, ctx.Flags.String("service"))
	if err != nil {
		return xerrors.Errorf("failed to read info: %v", err)
	}

	fmt.Fprintf(ctx.Out, "endpoint: %s\nexternal ip: %s\n", info.Endpoint, info.ExternalIP)

	return nil
}

type runAction struct{}

// Execute implements node.ActionTemplate. It runs a whole federation in the
// role of the domain and saves the timing of the steps when the domain file
// names a file for them.
func (runAction) Execute(ctx node.Context) error {
	session, cfg, err := resolve(ctx)
	if err != nil {
		return err
	}

	timeout := ctx.Flags.Duration("timeout")
	if timeout <= 0 {
		timeout = cfg.Timeout
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch session.Role() {
	case federation.RoleConsumer:
		err = runConsumer(rctx, ctx, session, cfg)
	default:
		err = runProvider(rctx, ctx, session, cfg)
	}

	saveErr := saveTiming(session, cfg)

	if err != nil {
		return xerrors.Errorf("run failed: %v", err)
	}

	return saveErr
}

func runConsumer(rctx context.Context, ctx node.Context, session *federation.DomainSession,
	cfg *settings) error {

	req, err := requirements(ctx, cfg)
	if err != nil {
		return err
	}

	var opts []prober.Option

	if cfg.Probe.Port != "" {
		opts = append(opts, prober.WithPort(cfg.Probe.Port))
	}

	if cfg.Probe.Path != "" {
		opts = append(opts, prober.WithPath(cfg.Probe.Path))
	}

	res, err := federation.RunConsumer(rctx, session, federation.ConsumerConfig{
		Requirements:  req,
		Prober:        prober.NewHTTPProber(opts...),
		ProbeAttempts: cfg.Probe.Attempts,
		ProbeWait:     cfg.Probe.Wait,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "service %s\n", res.ServiceID)
	fmt.Fprintf(ctx.Out, "winner %d %s price %d\n", res.Winner.Index, res.Winner.Provider, res.Winner.Price)
	fmt.Fprintf(ctx.Out, "provider endpoint %s\n", res.Endpoint)
	fmt.Fprintf(ctx.Out, "external ip %s\n", res.ExternalIP)
	fmt.Fprintf(ctx.Out, "reachable %v\n", res.Reachable)

	return nil
}

func runProvider(rctx context.Context, ctx node.Context, session *federation.DomainSession,
	cfg *settings) error {

	var deployer federation.Deployer

	err := ctx.Injector.Resolve(&deployer)
	if err != nil {
		return xerrors.Errorf("failed to resolve deployer: %v", err)
	}

	res, err := federation.RunProvider(rctx, session, federation.ProviderConfig{
		Price:    cfg.Price,
		Deployer: deployer,
	})
	if err != nil {
		return err
	}

	if !res.Won {
		fmt.Fprintf(ctx.Out, "service %s lost\n", res.ServiceID)
		return nil
	}

	fmt.Fprintf(ctx.Out, "service %s\n", res.ServiceID)
	fmt.Fprintf(ctx.Out, "consumer endpoint %s\n", res.Endpoint)
	fmt.Fprintf(ctx.Out, "external ip %s\n", res.ExternalIP)

	return nil
}

func saveTiming(session *federation.DomainSession, cfg *settings) error {
	if cfg.Timing == "" {
		return nil
	}

	err := session.Recorder().Save(config.Resolve(cfg.folder, cfg.Timing))
	if err != nil {
		return xerrors.Errorf("failed to save timing: %v", err)
	}

	return nil
}

func requirements(ctx node.Context, cfg *settings) (federation.Requirements, error) {
	text := ctx.Flags.String("requirements")
	if text == "" {
		text = cfg.Requirements
	}

	req, err := federation.ParseRequirements(text)
	if err != nil {
		return req, xerrors.Errorf("invalid requirements: %v", err)
	}

	return req, nil
}

func resolve(ctx node.Context) (*federation.DomainSession, *settings, error) {
	var session *federation.DomainSession

	err := ctx.Injector.Resolve(&session)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to resolve session: %v", err)
	}

	var cfg *settings

	err = ctx.Injector.Resolve(&cfg)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to resolve settings: %v", err)
	}

	return session, cfg, nil
}
