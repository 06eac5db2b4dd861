// Package federation implements the native contract that mediates the
// federation of services between administrative domains.
//
// A consumer announces a service, the providers place bids, the consumer
// chooses one of them and the winner reports the deployment. Every step is a
// transaction and emits an event the other party watches:
//
//	AnnounceService  -> ServiceAnnouncement
//	PlaceBid         -> NewBid
//	ChooseProvider   -> ServiceAnnouncementClosed
//	ServiceDeployed  -> ServiceDeployed
//
// The string fields of the events are padded with null bytes to FieldSize.
package federation

import (
	"go.dedis.ch/fedchain/core/access"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/execution/native"
	"go.dedis.ch/fedchain/core/store"
	"golang.org/x/xerrors"
)

const (
	// ContractName is the name of the contract.
	ContractName = "go.dedis.ch/fedchain.Federation"

	// CmdArg is the argument's name to indicate the kind of command we want to
	// run on the contract. Should be one of the Command type.
	CmdArg = "federation:command"

	// IDArg is the argument's name of the service identifier.
	IDArg = "federation:id"

	// NameArg is the argument's name of the operator name.
	NameArg = "federation:name"

	// RequirementsArg is the argument's name of the requirements of a
	// service.
	RequirementsArg = "federation:requirements"

	// EndpointArg is the argument's name of the endpoint of a domain.
	EndpointArg = "federation:endpoint"

	// PriceArg is the argument's name of the price of a bid.
	PriceArg = "federation:price"

	// IndexArg is the argument's name of the index of a bid.
	IndexArg = "federation:index"

	// InfoArg is the argument's name of the external address of a deployed
	// service.
	InfoArg = "federation:info"

	// ProviderArg is the argument's name of the flag that selects the view of
	// the provider in a GetServiceInfo query.
	ProviderArg = "federation:provider"

	// CallerArg is the argument's name of the address of the caller of a
	// query.
	CallerArg = "federation:caller"
)

// Command defines a type of command for the federation contract.
type Command string

const (
	// CmdAddOperator registers the caller as an operator.
	CmdAddOperator Command = "addOperator"

	// CmdAnnounceService opens a new service.
	CmdAnnounceService Command = "AnnounceService"

	// CmdPlaceBid places a bid on an open service.
	CmdPlaceBid Command = "PlaceBid"

	// CmdChooseProvider closes a service with the winner.
	CmdChooseProvider Command = "ChooseProvider"

	// CmdServiceDeployed marks a service as deployed.
	CmdServiceDeployed Command = "ServiceDeployed"
)

// Names of the queries.
const (
	QueryServiceState = "GetServiceState"
	QueryBid          = "GetBid"
	QueryServiceInfo  = "GetServiceInfo"
	QueryIsWinner     = "isWinner"
	QueryOperator     = "GetOperator"
)

// Names of the events.
const (
	EventServiceAnnouncement       = "ServiceAnnouncement"
	EventNewBid                    = "NewBid"
	EventServiceAnnouncementClosed = "ServiceAnnouncementClosed"
	EventServiceDeployed           = "ServiceDeployed"
)

// Attributes of the events.
const (
	AttrID           = "_id"
	AttrRequirements = "requirements"
	AttrMaxBidIndex  = "max_bid_index"
	AttrExternalIP   = "external_ip"
)

const (
	servicePrefix  = "svc:"
	operatorPrefix = "op:"
)

// commands defines the commands of the federation contract. This interface
// helps in testing the contract.
type commands interface {
	addOperator(snap store.Snapshot, step execution.Step, caller string) error
	announceService(snap store.Snapshot, step execution.Step, caller string) error
	placeBid(snap store.Snapshot, step execution.Step, caller string) error
	chooseProvider(snap store.Snapshot, step execution.Step, caller string) error
	serviceDeployed(snap store.Snapshot, step execution.Step, caller string) error
}

// RegisterContract registers the federation contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is the federation smart contract.
//
// - implements native.Contract
// - implements native.Querier
type Contract struct {
	cmd commands
}

// NewContract creates a new federation contract.
func NewContract() Contract {
	return Contract{
		cmd: federationCommand{},
	}
}

// Execute implements native.Contract. It runs the appropriate command with the
// address of the transaction identity as the caller.
func (c Contract) Execute(snap store.Snapshot, step execution.Step) error {
	caller, err := access.AddressOf(step.Current.GetIdentity())
	if err != nil {
		return xerrors.Errorf("invalid caller: %v", err)
	}

	cmd := step.Current.GetArg(CmdArg)
	if len(cmd) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	switch Command(cmd) {
	case CmdAddOperator:
		err = c.cmd.addOperator(snap, step, caller)
	case CmdAnnounceService:
		err = c.cmd.announceService(snap, step, caller)
	case CmdPlaceBid:
		err = c.cmd.placeBid(snap, step, caller)
	case CmdChooseProvider:
		err = c.cmd.chooseProvider(snap, step, caller)
	case CmdServiceDeployed:
		err = c.cmd.serviceDeployed(snap, step, caller)
	default:
		return xerrors.Errorf("unknown command: %s", cmd)
	}

	if err != nil {
		return xerrors.Errorf("failed to %s: %v", cmd, err)
	}

	return nil
}
