package federation

import (
	"context"
	"time"

	contract "go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/internal/timing"
	"go.dedis.ch/fedchain/prober"
	"golang.org/x/xerrors"
)

const (
	defaultProbeAttempts = 5
	defaultProbeWait     = time.Second
	defaultPrice         = 10
)

// ConsumerConfig is the configuration of a run of the consumer.
type ConsumerConfig struct {
	Requirements Requirements

	// Prober checks the external address of the service once deployed. The
	// check is skipped when it is nil.
	Prober        prober.Prober
	ProbeAttempts int
	ProbeWait     time.Duration
}

// ConsumerResult is the outcome of a run of the consumer.
type ConsumerResult struct {
	ServiceID  string
	Winner     Bid
	Bids       []Bid
	ExternalIP string
	Endpoint   string
	Reachable  bool
	Payload    []byte
	Steps      []timing.Step
}

// RunConsumer announces a service, waits for the bids until the strategy
// selects one, chooses its provider and waits for the deployment. The
// external address is then probed a bounded number of times. The context
// bounds the whole run.
func RunConsumer(ctx context.Context, s *DomainSession, cfg ConsumerConfig) (ConsumerResult, error) {
	var res ConsumerResult

	err := s.requireRole(RoleConsumer)
	if err != nil {
		return res, err
	}

	s.recorder.Reset()

	id, cursor, err := s.AnnounceService(ctx, cfg.Requirements)
	if err != nil {
		return res, err
	}

	res.ServiceID = id
	s.record(StepServiceAnnouncementSent)

	for {
		bids, err := s.CollectBids(ctx, cursor)
		if err != nil {
			return res, err
		}

		if len(bids) > 0 {
			if len(res.Bids) == 0 {
				s.record(StepBidOfferReceived)
				s.record(StepChoosingProvider)
			}

			res.Bids = append(res.Bids, bids...)

			winner, found := s.strategy.Select(res.Bids)
			if found {
				res.Winner = winner
				break
			}
		}

		err = s.wait(ctx)
		if err != nil {
			return res, xerrors.Errorf("waiting for bids: %w", err)
		}
	}

	s.record(StepProviderChosen)

	err = s.ChooseProvider(ctx, res.Winner.Index)
	if err != nil {
		return res, err
	}

	s.record(StepWinnerChosenSent)

	err = s.WaitState(ctx, id, contract.StateDeployed)
	if err != nil {
		return res, xerrors.Errorf("waiting for deployment: %w", err)
	}

	s.record(StepConfirmDeploymentReceived)

	info, err := s.DeployedInfo(ctx, id)
	if err != nil {
		return res, err
	}

	res.ExternalIP = info.ExternalIP
	res.Endpoint = info.Endpoint

	if cfg.Prober != nil {
		attempts := cfg.ProbeAttempts
		if attempts <= 0 {
			attempts = defaultProbeAttempts
		}

		wait := cfg.ProbeWait
		if wait <= 0 {
			wait = defaultProbeWait
		}

		s.record(StepConnectivityStart)

		payload, err := prober.Retry(ctx, cfg.Prober, info.ExternalIP, attempts, wait)
		if err != nil {
			res.Steps = s.recorder.Steps()
			return res, xerrors.Errorf("connectivity: %w", err)
		}

		s.record(StepConnectivityFinished)

		res.Reachable = true
		res.Payload = payload
	}

	res.Steps = s.recorder.Steps()

	s.logger.Info().
		Str("service", id).
		Str("provider", res.Winner.Provider).
		Str("address", res.ExternalIP).
		Bool("reachable", res.Reachable).
		Msg("service federated")

	return res, nil
}

// ProviderConfig is the configuration of a run of the provider.
type ProviderConfig struct {
	Price    uint64
	Deployer Deployer
}

// ProviderResult is the outcome of a run of the provider.
type ProviderResult struct {
	ServiceID    string
	Requirements Requirements
	Won          bool
	ExternalIP   string
	Endpoint     string
	Steps        []timing.Step
}

// RunProvider waits for an open service it can deploy, bids on the latest one
// and waits for the decision of the consumer. When it wins, the workload is
// deployed and its external address reported. A failed deployment leaves the
// service closed on the ledger.
func RunProvider(ctx context.Context, s *DomainSession, cfg ProviderConfig) (ProviderResult, error) {
	var res ProviderResult

	err := s.requireRole(RoleProvider)
	if err != nil {
		return res, err
	}

	if cfg.Deployer == nil {
		return res, xerrors.New("missing deployer")
	}

	price := cfg.Price
	if price == 0 {
		price = defaultPrice
	}

	s.recorder.Reset()

	cursor := s.Announcements()
	if cursor == nil {
		cursor, err = s.WatchAnnouncements(ctx)
		if err != nil {
			return res, err
		}
	}

	var target Announcement

	for {
		open, err := s.OpenServices(ctx, cursor)
		if err != nil {
			return res, err
		}

		candidates := supported(s, cfg.Deployer, open)
		if len(candidates) > 0 {
			target = candidates[len(candidates)-1]
			break
		}

		err = s.wait(ctx)
		if err != nil {
			return res, xerrors.Errorf("waiting for services: %w", err)
		}
	}

	s.record(StepServiceAnnouncementReceived)

	req, _ := ParseRequirements(target.Requirements)

	res.ServiceID = target.ID
	res.Requirements = req

	closing, err := s.PlaceBid(ctx, target.ID, price)
	if err != nil {
		return res, err
	}

	s.record(StepBidOfferSent)

	err = s.WaitClosed(ctx, closing, target.ID)
	if err != nil {
		return res, xerrors.Errorf("waiting for the decision: %w", err)
	}

	s.record(StepWinnerChosenReceived)

	won, err := s.CheckWinner(ctx, target.ID)
	if err != nil {
		return res, err
	}

	res.Won = won

	if !won {
		s.logger.Info().Str("service", target.ID).Msg("bid lost")

		res.Steps = s.recorder.Steps()
		return res, nil
	}

	info, err := s.DeployedInfo(ctx, target.ID)
	if err != nil {
		return res, err
	}

	res.Endpoint = info.Endpoint

	s.record(StepDeploymentStart)

	addr, err := cfg.Deployer.Deploy(ctx, req.Service, req.Replicas)
	if err != nil {
		s.logger.Error().Err(err).
			Str("service", target.ID).
			Msg("deployment failed, the service remains closed")

		return res, xerrors.Errorf("failed to deploy: %v", err)
	}

	s.record(StepDeploymentFinished)

	res.ExternalIP = addr

	err = s.ServiceDeployed(ctx, target.ID, addr)
	if err != nil {
		return res, err
	}

	s.record(StepConfirmDeploymentSent)

	res.Steps = s.recorder.Steps()

	return res, nil
}

// supported returns the announcements whose requirements are valid and, when
// the deployer can tell, whose workload is available.
func supported(s *DomainSession, deployer Deployer, open []Announcement) []Announcement {
	checker, canCheck := deployer.(interface{ Supports(string) bool })

	var candidates []Announcement

	for _, ann := range open {
		req, err := ParseRequirements(ann.Requirements)
		if err != nil {
			s.logger.Warn().Err(err).Str("service", ann.ID).Msg("invalid requirements")
			continue
		}

		if canCheck && !checker.Supports(req.Service) {
			s.logger.Info().Str("service", ann.ID).Str("workload", req.Service).Msg("unsupported workload")
			continue
		}

		candidates = append(candidates, ann)
	}

	return candidates
}
