package federation

import (
	"context"
	"encoding/json"

	contract "go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/ledger/events"
	"golang.org/x/xerrors"
)

// AnnounceService announces a new service with the requirements and returns
// its identifier with the cursor of its bids. The cursor starts after the
// current height so that no bid of the service can be missed.
func (s *DomainSession) AnnounceService(ctx context.Context, req Requirements) (string, *events.Cursor, error) {
	err := s.requireRole(RoleConsumer)
	if err != nil {
		return "", nil, err
	}

	height, err := s.ledger.Height(ctx)
	if err != nil {
		return "", nil, xerrors.Errorf("failed to read height: %w", err)
	}

	id := newServiceID()

	args, err := fields(map[string]string{
		contract.IDArg:       id,
		contract.EndpointArg: s.endpoint,
	})
	if err != nil {
		return "", nil, err
	}

	args = append(args, txn.Arg{Key: contract.RequirementsArg, Value: []byte(req.String())})

	_, err = s.ledger.Submit(ctx, s.args(contract.CmdAnnounceService, args...)...)
	if err != nil {
		return "", nil, xerrors.Errorf("failed to announce: %w", err)
	}

	cursor := s.subscriber.Watch(contract.EventNewBid, height+1)

	s.Lock()
	s.serviceID = id
	s.lastBid = 0
	s.missedBids = nil
	s.bids = cursor
	s.Unlock()

	s.logger.Info().Str("service", id).Str("requirements", req.String()).Msg("service announced")

	return id, cursor, nil
}

// Bids returns the cursor of the bids of the current service, or nil.
func (s *DomainSession) Bids() *events.Cursor {
	s.Lock()
	defer s.Unlock()

	return s.bids
}

// CollectBids polls the cursor once and returns the new bids of the current
// service. The events carry the number of bids placed so far, which must grow
// from one event to the next. A bid that cannot be read is returned by a later
// call, and the bids read so far are returned along with the error.
func (s *DomainSession) CollectBids(ctx context.Context, cursor *events.Cursor) ([]Bid, error) {
	err := s.requireRole(RoleConsumer)
	if err != nil {
		return nil, err
	}

	id := s.ServiceID()
	if id == "" {
		return nil, xerrors.Errorf("no service announced: %w", ErrProtocolState)
	}

	logs, err := cursor.Poll(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to poll bids: %w", err)
	}

	s.Lock()
	missed := s.missedBids
	s.missedBids = nil
	s.Unlock()

	var bids []Bid
	var failed error

	// Bids that could not be read on a previous poll come first as their
	// indices are below the ones of the new events.
	for _, index := range missed {
		bid, err := s.fetchBid(ctx, id, index)
		if err != nil {
			s.missBid(index)
			failed = firstErr(failed, err)
			continue
		}

		bids = append(bids, s.received(id, bid))
	}

	for _, log := range logs {
		if events.Str(log, contract.AttrID) != id {
			continue
		}

		index, err := events.Uint(log, contract.AttrMaxBidIndex)
		if err != nil {
			return bids, xerrors.Errorf("%v: %w", err, ErrInvalidBid)
		}

		s.Lock()
		last := s.lastBid
		if index > last {
			s.lastBid = index
		}
		s.Unlock()

		if index <= last {
			return bids, xerrors.Errorf("bid index %d after %d: %w", index, last, ErrInvalidBid)
		}

		bid, err := s.fetchBid(ctx, id, index)
		if err != nil {
			s.missBid(index)
			failed = firstErr(failed, err)
			continue
		}

		bids = append(bids, s.received(id, bid))
	}

	return bids, failed
}

// missBid remembers a bid that could not be read so that the next poll tries
// again.
func (s *DomainSession) missBid(index uint64) {
	s.Lock()
	s.missedBids = append(s.missedBids, index)
	s.Unlock()
}

func (s *DomainSession) received(id string, bid Bid) Bid {
	s.logger.Info().
		Str("service", id).
		Uint64("index", bid.Index).
		Str("provider", bid.Provider).
		Uint64("price", bid.Price).
		Msg("bid received")

	return bid
}

func firstErr(prev, err error) error {
	if prev != nil {
		return prev
	}

	return err
}

func (s *DomainSession) fetchBid(ctx context.Context, id string, index uint64) (Bid, error) {
	value, err := s.query(ctx, contract.QueryBid, map[string][]byte{
		contract.IDArg:    []byte(id),
		contract.IndexArg: contract.EncodeUint(index - 1),
	})
	if err != nil {
		return Bid{}, xerrors.Errorf("failed to read bid %d: %w", index, err)
	}

	var info contract.BidInfo

	err = json.Unmarshal(value, &info)
	if err != nil {
		return Bid{}, xerrors.Errorf("bid %d: %v: %w", index, err, ErrInvalidBid)
	}

	return Bid{
		Index:    index,
		Provider: info.Provider,
		Price:    info.Price,
	}, nil
}

// ChooseProvider closes the current service with the bid of the given index
// as the winner. The service must still be open and the index must be one of
// the bids announced to the consumer so far.
func (s *DomainSession) ChooseProvider(ctx context.Context, index uint64) error {
	err := s.requireRole(RoleConsumer)
	if err != nil {
		return err
	}

	id := s.ServiceID()
	if id == "" {
		return xerrors.Errorf("no service announced: %w", ErrProtocolState)
	}

	s.Lock()
	last := s.lastBid
	s.Unlock()

	if index == 0 || index > last {
		return xerrors.Errorf("bid index %d out of range [1, %d]: %w", index, last, ErrInvalidBid)
	}

	err = s.requireState(ctx, id, contract.StateOpen)
	if err != nil {
		return err
	}

	args, err := fields(map[string]string{contract.IDArg: id})
	if err != nil {
		return err
	}

	args = append(args, txn.Arg{Key: contract.IndexArg, Value: contract.EncodeUint(index - 1)})

	_, err = s.ledger.Submit(ctx, s.args(contract.CmdChooseProvider, args...)...)
	if err != nil {
		return xerrors.Errorf("failed to choose provider: %w", err)
	}

	s.logger.Info().Str("service", id).Uint64("index", index).Msg("provider chosen")

	return nil
}

// fields returns the arguments of the string values padded to the width of
// the contract fields.
func fields(values map[string]string) ([]txn.Arg, error) {
	args := make([]txn.Arg, 0, len(values))

	for key, value := range values {
		field, err := contract.EncodeField(value)
		if err != nil {
			return nil, xerrors.Errorf("invalid '%s': %v", key, err)
		}

		args = append(args, txn.Arg{Key: key, Value: field})
	}

	return args, nil
}
