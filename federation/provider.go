package federation

import (
	"context"

	contract "go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/ledger/events"
	"golang.org/x/xerrors"
)

// WatchAnnouncements opens the cursor of the services announced after the
// current height. The session keeps it for the next runs.
func (s *DomainSession) WatchAnnouncements(ctx context.Context) (*events.Cursor, error) {
	err := s.requireRole(RoleProvider)
	if err != nil {
		return nil, err
	}

	height, err := s.ledger.Height(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to read height: %w", err)
	}

	cursor := s.subscriber.Watch(contract.EventServiceAnnouncement, height+1)

	s.Lock()
	s.announcements = cursor
	s.Unlock()

	return cursor, nil
}

// Announcements returns the cursor of the announcements, or nil.
func (s *DomainSession) Announcements() *events.Cursor {
	s.Lock()
	defer s.Unlock()

	return s.announcements
}

// OpenServices polls the cursor once and returns the new announcements whose
// service is still open.
func (s *DomainSession) OpenServices(ctx context.Context, cursor *events.Cursor) ([]Announcement, error) {
	logs, err := cursor.Poll(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to poll announcements: %w", err)
	}

	var open []Announcement

	for _, log := range logs {
		id := events.Str(log, contract.AttrID)

		state, err := s.ServiceState(ctx, id)
		if err != nil {
			return open, err
		}

		if state != contract.StateOpen {
			s.logger.Debug().Str("service", id).Stringer("state", state).Msg("skip service")
			continue
		}

		open = append(open, Announcement{
			ID:           id,
			Requirements: string(log.Get(contract.AttrRequirements)),
			Height:       log.Height,
		})
	}

	return open, nil
}

// PlaceBid offers to deploy the service for the price. It returns the cursor
// of the closing of the service.
func (s *DomainSession) PlaceBid(ctx context.Context, id string, price uint64) (*events.Cursor, error) {
	err := s.requireRole(RoleProvider)
	if err != nil {
		return nil, err
	}

	err = s.requireState(ctx, id, contract.StateOpen)
	if err != nil {
		return nil, err
	}

	height, err := s.ledger.Height(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to read height: %w", err)
	}

	args, err := fields(map[string]string{
		contract.IDArg:       id,
		contract.EndpointArg: s.endpoint,
	})
	if err != nil {
		return nil, err
	}

	args = append(args, txn.Arg{Key: contract.PriceArg, Value: contract.EncodeUint(price)})

	_, err = s.ledger.Submit(ctx, s.args(contract.CmdPlaceBid, args...)...)
	if err != nil {
		return nil, xerrors.Errorf("failed to bid: %w", err)
	}

	cursor := s.subscriber.Watch(contract.EventServiceAnnouncementClosed, height+1)

	s.Lock()
	s.closed[id] = cursor
	s.Unlock()

	s.logger.Info().Str("service", id).Uint64("price", price).Msg("bid placed")

	return cursor, nil
}

// Closing returns the cursor opened by the bid on the service, or nil.
func (s *DomainSession) Closing(id string) *events.Cursor {
	s.Lock()
	defer s.Unlock()

	return s.closed[id]
}

// WaitClosed waits for the closing event of the service on the cursor.
func (s *DomainSession) WaitClosed(ctx context.Context, cursor *events.Cursor, id string) error {
	for {
		logs, err := cursor.Next(ctx, s.interval)
		if err != nil {
			return err
		}

		for _, log := range logs {
			if events.Str(log, contract.AttrID) == id {
				return nil
			}
		}
	}
}

// CheckWinner returns true if the domain won the service. The provider must
// have been chosen.
func (s *DomainSession) CheckWinner(ctx context.Context, id string) (bool, error) {
	state, err := s.ServiceState(ctx, id)
	if err != nil {
		return false, err
	}

	if state < contract.StateClosed {
		return false, xerrors.Errorf("service '%s' is %v: %w", id, state, ErrProtocolState)
	}

	value, err := s.query(ctx, contract.QueryIsWinner, map[string][]byte{
		contract.IDArg: []byte(id),
	})
	if err != nil {
		return false, xerrors.Errorf("failed to read winner: %w", err)
	}

	return contract.DecodeBool(value), nil
}

// ServiceDeployed reports the external address of the service deployed by
// the winner.
func (s *DomainSession) ServiceDeployed(ctx context.Context, id, address string) error {
	err := s.requireRole(RoleProvider)
	if err != nil {
		return err
	}

	err = s.requireState(ctx, id, contract.StateClosed)
	if err != nil {
		return err
	}

	won, err := s.CheckWinner(ctx, id)
	if err != nil {
		return err
	}

	if !won {
		return xerrors.Errorf("service '%s': %w", id, ErrNotWinner)
	}

	args, err := fields(map[string]string{
		contract.IDArg:   id,
		contract.InfoArg: address,
	})
	if err != nil {
		return err
	}

	_, err = s.ledger.Submit(ctx, s.args(contract.CmdServiceDeployed, args...)...)
	if err != nil {
		return xerrors.Errorf("failed to report deployment: %w", err)
	}

	s.logger.Info().Str("service", id).Str("address", address).Msg("service deployed")

	return nil
}
