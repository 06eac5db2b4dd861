package federation

import (
	"encoding/json"

	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/store"
	"golang.org/x/xerrors"
)

// Query implements native.Querier. It answers the read-only calls of the
// contract. The caller of a query is given by its address in the arguments.
func (c Contract) Query(state store.Readable, q execution.Query) ([]byte, error) {
	switch q.Method {
	case QueryServiceState:
		return queryServiceState(state, q)
	case QueryBid:
		return queryBid(state, q)
	case QueryServiceInfo:
		return queryServiceInfo(state, q)
	case QueryIsWinner:
		return queryIsWinner(state, q)
	case QueryOperator:
		return queryOperator(state, q)
	default:
		return nil, xerrors.Errorf("unknown query: %s", q.Method)
	}
}

func queryServiceState(state store.Readable, q execution.Query) ([]byte, error) {
	svc, err := loadService(state, DecodeField(q.Args[IDArg]))
	if err != nil {
		return nil, err
	}

	return EncodeUint(uint64(svc.State)), nil
}

// queryBid returns the bid at the given position. Only the consumer of the
// service can read the bids.
func queryBid(state store.Readable, q execution.Query) ([]byte, error) {
	svc, err := loadService(state, DecodeField(q.Args[IDArg]))
	if err != nil {
		return nil, err
	}

	if svc.Consumer != string(q.Args[CallerArg]) {
		return nil, xerrors.New("only the consumer can read the bids")
	}

	index, err := DecodeUint(q.Args[IndexArg])
	if err != nil {
		return nil, xerrors.Errorf("invalid index: %v", err)
	}

	if index >= uint64(len(svc.Bids)) {
		return nil, xerrors.Errorf("bid index %d out of range", index)
	}

	bid := svc.Bids[index]

	return json.Marshal(BidInfo{
		Provider: bid.Provider,
		Price:    bid.Price,
		Index:    index,
	})
}

// queryServiceInfo returns the information of a service once a provider has
// been chosen. The consumer learns the endpoint of the provider and the
// provider learns the endpoint of the consumer.
func queryServiceInfo(state store.Readable, q execution.Query) ([]byte, error) {
	svc, err := loadService(state, DecodeField(q.Args[IDArg]))
	if err != nil {
		return nil, err
	}

	if svc.State < StateClosed {
		return nil, xerrors.Errorf("service '%s' is %v", svc.ID, svc.State)
	}

	caller := string(q.Args[CallerArg])

	info := ServiceInfo{
		ID:         svc.ID,
		ExternalIP: svc.ExternalIP,
	}

	if DecodeBool(q.Args[ProviderArg]) {
		if svc.Bids[svc.Winner].Provider != caller {
			return nil, xerrors.New("only the winner can read the service info")
		}

		info.Endpoint = svc.ConsumerEndpoint
	} else {
		if svc.Consumer != caller {
			return nil, xerrors.New("only the consumer can read the service info")
		}

		info.Endpoint = svc.ProviderEndpoint
	}

	return json.Marshal(info)
}

func queryIsWinner(state store.Readable, q execution.Query) ([]byte, error) {
	svc, err := loadService(state, DecodeField(q.Args[IDArg]))
	if err != nil {
		return nil, err
	}

	winner := svc.State >= StateClosed &&
		svc.Bids[svc.Winner].Provider == string(q.Args[CallerArg])

	return EncodeBool(winner), nil
}

// queryOperator returns the name of the operator, or nothing if the address is
// not registered.
func queryOperator(state store.Readable, q execution.Query) ([]byte, error) {
	value, err := state.Get([]byte(operatorPrefix + string(q.Args[CallerArg])))
	if err != nil {
		return nil, xerrors.Errorf("failed to read operator: %v", err)
	}

	return value, nil
}
