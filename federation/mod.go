// Package federation implements the protocol the administrative domains
// follow to federate a service through the ledger.
//
// The consumer announces a service with its requirements, collects the bids
// of the providers and chooses one of them. The winner deploys the workload
// and reports its external address, which the consumer probes. The domains
// never talk to each other: every step is a transaction on the ledger and the
// other party learns about it from the events.
//
// A service goes through the states Open, Closed and Deployed, in this order.
// An operation attempted in the wrong state fails with ErrProtocolState and is
// never retried.
package federation

import (
	"context"
	"strconv"
	"strings"

	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/txn"
	"golang.org/x/xerrors"
)

var (
	// ErrProtocolState is returned when an operation is not allowed by the
	// state of the service or the role of the domain.
	ErrProtocolState = xerrors.New("invalid protocol state")

	// ErrNotWinner is returned when a provider reports the deployment of a
	// service it did not win.
	ErrNotWinner = xerrors.New("not the winner")

	// ErrInvalidBid is returned when a bid event is malformed or out of order.
	ErrInvalidBid = xerrors.New("invalid bid")

	// ErrAlreadyRegistered is returned when a domain registers twice.
	ErrAlreadyRegistered = xerrors.New("domain already registered")
)

// Role is the part a domain plays in the federation.
type Role string

const (
	// RoleConsumer is the role of the domain requesting a service.
	RoleConsumer Role = "consumer"

	// RoleProvider is the role of the domains offering to deploy it.
	RoleProvider Role = "provider"
)

// ParseRole returns the role of the text.
func ParseRole(text string) (Role, error) {
	switch Role(text) {
	case RoleConsumer, RoleProvider:
		return Role(text), nil
	default:
		return "", xerrors.Errorf("unknown role '%s'", text)
	}
}

// Requirements is what a consumer asks for, in the form
// "service=<name>;replicas=<n>".
type Requirements struct {
	Service  string
	Replicas int
}

// ParseRequirements returns the requirements of the text. The replicas
// default to one.
func ParseRequirements(text string) (Requirements, error) {
	req := Requirements{Replicas: 1}

	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, found := strings.Cut(part, "=")
		if !found {
			return req, xerrors.Errorf("malformed requirement '%s'", part)
		}

		switch strings.TrimSpace(key) {
		case "service":
			req.Service = strings.TrimSpace(value)
		case "replicas":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 1 {
				return req, xerrors.Errorf("invalid replicas '%s'", value)
			}

			req.Replicas = n
		default:
			return req, xerrors.Errorf("unknown requirement '%s'", key)
		}
	}

	if req.Service == "" {
		return req, xerrors.New("missing service")
	}

	return req, nil
}

// String returns the text form of the requirements.
func (r Requirements) String() string {
	return "service=" + r.Service + ";replicas=" + strconv.Itoa(r.Replicas)
}

// Bid is an offer collected by the consumer. The index is the number of bids
// of the service when it was placed, starting at one.
type Bid struct {
	Index    uint64
	Provider string
	Price    uint64
}

// Announcement is an open service seen by a provider.
type Announcement struct {
	ID           string
	Requirements string
	Height       uint64
}

// Ledger is the access of a domain to the ledger.
type Ledger interface {
	// Submit signs and submits a transaction with the arguments.
	Submit(ctx context.Context, args ...txn.Arg) (ordering.Receipt, error)

	Call(ctx context.Context, query execution.Query) ([]byte, error)

	Height(ctx context.Context) (uint64, error)

	Logs(ctx context.Context, filter ordering.Filter) ([]ordering.Log, error)

	// Address returns the account of the domain.
	Address() string
}

// Deployer stands up the workload of a service and returns its external
// address.
type Deployer interface {
	Deploy(ctx context.Context, service string, replicas int) (string, error)
}

// Names of the steps recorded during a run.
const (
	StepServiceAnnouncementSent     = "serviceAnnouncementSent"
	StepBidOfferReceived            = "bidOfferReceived"
	StepChoosingProvider            = "choosingProvider"
	StepProviderChosen              = "providerChoosen"
	StepWinnerChosenSent            = "winnerChoosenSent"
	StepConfirmDeploymentReceived   = "confirmDeploymentReceived"
	StepConnectivityStart           = "checkConnectivityFederatedServiceStart"
	StepConnectivityFinished        = "checkConnectivityFederatedServiceFinished"
	StepServiceAnnouncementReceived = "serviceAnnouncementReceived"
	StepBidOfferSent                = "bidOfferSent"
	StepWinnerChosenReceived        = "winnerChoosenReceived"
	StepDeploymentStart             = "deploymentStart"
	StepDeploymentFinished          = "deploymentFinished"
	StepConfirmDeploymentSent       = "confirmDeploymentSent"
)
