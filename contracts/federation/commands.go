package federation

import (
	"encoding/json"

	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/store"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned when a service or an operator does not exist.
var ErrNotFound = xerrors.New("not found")

// federationCommand implements the commands of the federation contract.
//
// - implements commands
type federationCommand struct{}

// addOperator implements commands. It registers the caller under the given
// name. An operator registers only once.
func (federationCommand) addOperator(snap store.Snapshot, step execution.Step, caller string) error {
	name, err := readField(step, NameArg, true)
	if err != nil {
		return err
	}

	key := []byte(operatorPrefix + caller)

	value, err := snap.Get(key)
	if err != nil {
		return xerrors.Errorf("failed to read operator: %v", err)
	}

	if value != nil {
		return xerrors.Errorf("operator '%s' already registered", caller)
	}

	err = snap.Set(key, []byte(name))
	if err != nil {
		return xerrors.Errorf("failed to set operator: %v", err)
	}

	return nil
}

// announceService implements commands. It opens a new service with the caller
// as the consumer.
func (federationCommand) announceService(snap store.Snapshot, step execution.Step, caller string) error {
	err := checkOperator(snap, caller)
	if err != nil {
		return err
	}

	id, err := readField(step, IDArg, true)
	if err != nil {
		return err
	}

	requirements := step.Current.GetArg(RequirementsArg)
	if len(requirements) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", RequirementsArg)
	}

	endpoint, err := readField(step, EndpointArg, false)
	if err != nil {
		return err
	}

	_, err = loadService(snap, id)
	if err == nil {
		return xerrors.Errorf("service '%s' already exists", id)
	}

	if !xerrors.Is(err, ErrNotFound) {
		return err
	}

	svc := Service{
		ID:               id,
		Requirements:     string(requirements),
		Consumer:         caller,
		ConsumerEndpoint: endpoint,
		State:            StateOpen,
		Winner:           -1,
	}

	err = storeService(snap, svc)
	if err != nil {
		return err
	}

	padded, _ := EncodeField(id)

	step.Events.Emit(EventServiceAnnouncement,
		execution.Attribute{Key: AttrRequirements, Value: requirements},
		execution.Attribute{Key: AttrID, Value: padded},
	)

	return nil
}

// placeBid implements commands. It appends the bid of the caller to an open
// service. The event carries the number of bids so far.
func (federationCommand) placeBid(snap store.Snapshot, step execution.Step, caller string) error {
	err := checkOperator(snap, caller)
	if err != nil {
		return err
	}

	svc, err := loadServiceArg(snap, step)
	if err != nil {
		return err
	}

	if svc.State != StateOpen {
		return xerrors.Errorf("service '%s' is %v", svc.ID, svc.State)
	}

	if svc.Consumer == caller {
		return xerrors.New("consumer cannot bid on its own service")
	}

	price, err := DecodeUint(step.Current.GetArg(PriceArg))
	if err != nil {
		return xerrors.Errorf("invalid price: %v", err)
	}

	endpoint, err := readField(step, EndpointArg, false)
	if err != nil {
		return err
	}

	svc.Bids = append(svc.Bids, Bid{
		Provider: caller,
		Price:    price,
		Endpoint: endpoint,
	})

	err = storeService(snap, svc)
	if err != nil {
		return err
	}

	padded, _ := EncodeField(svc.ID)

	step.Events.Emit(EventNewBid,
		execution.Attribute{Key: AttrID, Value: padded},
		execution.Attribute{Key: AttrMaxBidIndex, Value: EncodeUint(uint64(len(svc.Bids)))},
	)

	return nil
}

// chooseProvider implements commands. It closes the service with the bid at
// the given position as the winner.
func (federationCommand) chooseProvider(snap store.Snapshot, step execution.Step, caller string) error {
	svc, err := loadServiceArg(snap, step)
	if err != nil {
		return err
	}

	if svc.Consumer != caller {
		return xerrors.New("only the consumer can choose a provider")
	}

	if svc.State != StateOpen {
		return xerrors.Errorf("service '%s' is %v", svc.ID, svc.State)
	}

	index, err := DecodeUint(step.Current.GetArg(IndexArg))
	if err != nil {
		return xerrors.Errorf("invalid index: %v", err)
	}

	if index >= uint64(len(svc.Bids)) {
		return xerrors.Errorf("bid index %d out of range", index)
	}

	svc.Winner = int(index)
	svc.State = StateClosed
	svc.ProviderEndpoint = svc.Bids[index].Endpoint

	err = storeService(snap, svc)
	if err != nil {
		return err
	}

	padded, _ := EncodeField(svc.ID)

	step.Events.Emit(EventServiceAnnouncementClosed,
		execution.Attribute{Key: AttrID, Value: padded},
	)

	return nil
}

// serviceDeployed implements commands. It records the external address of the
// service reported by the winner.
func (federationCommand) serviceDeployed(snap store.Snapshot, step execution.Step, caller string) error {
	svc, err := loadServiceArg(snap, step)
	if err != nil {
		return err
	}

	if svc.State != StateClosed {
		return xerrors.Errorf("service '%s' is %v", svc.ID, svc.State)
	}

	if svc.Bids[svc.Winner].Provider != caller {
		return xerrors.New("only the winner can deploy the service")
	}

	info, err := readField(step, InfoArg, true)
	if err != nil {
		return err
	}

	svc.ExternalIP = info
	svc.State = StateDeployed

	err = storeService(snap, svc)
	if err != nil {
		return err
	}

	padded, _ := EncodeField(svc.ID)
	external, _ := EncodeField(info)

	step.Events.Emit(EventServiceDeployed,
		execution.Attribute{Key: AttrID, Value: padded},
		execution.Attribute{Key: AttrExternalIP, Value: external},
	)

	return nil
}

func checkOperator(snap store.Readable, caller string) error {
	value, err := snap.Get([]byte(operatorPrefix + caller))
	if err != nil {
		return xerrors.Errorf("failed to read operator: %v", err)
	}

	if value == nil {
		return xerrors.Errorf("'%s' is not an operator", caller)
	}

	return nil
}

// readField reads a string argument which is optionally padded.
func readField(step execution.Step, key string, required bool) (string, error) {
	raw := step.Current.GetArg(key)
	if len(raw) > FieldSize {
		return "", xerrors.Errorf("'%s' is longer than %d bytes", key, FieldSize)
	}

	value := DecodeField(raw)
	if required && value == "" {
		return "", xerrors.Errorf("'%s' not found in tx arg", key)
	}

	return value, nil
}

func loadServiceArg(snap store.Readable, step execution.Step) (Service, error) {
	id, err := readField(step, IDArg, true)
	if err != nil {
		return Service{}, err
	}

	return loadService(snap, id)
}

func loadService(snap store.Readable, id string) (Service, error) {
	var svc Service

	data, err := snap.Get([]byte(servicePrefix + id))
	if err != nil {
		return svc, xerrors.Errorf("failed to read service: %v", err)
	}

	if data == nil {
		return svc, xerrors.Errorf("service '%s': %w", id, ErrNotFound)
	}

	err = json.Unmarshal(data, &svc)
	if err != nil {
		return svc, xerrors.Errorf("failed to unmarshal service: %v", err)
	}

	return svc, nil
}

func storeService(snap store.Writable, svc Service) error {
	data, err := json.Marshal(svc)
	if err != nil {
		return xerrors.Errorf("failed to marshal service: %v", err)
	}

	err = snap.Set([]byte(servicePrefix+svc.ID), data)
	if err != nil {
		return xerrors.Errorf("failed to store service: %v", err)
	}

	return nil
}
