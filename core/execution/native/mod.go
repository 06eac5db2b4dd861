// Package native implements an execution service to run native smart contracts.
//
// A native smart contract is written in Go and packaged with the application.
// The federation contract is one of them.
package native

import (
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/store"
	"golang.org/x/xerrors"
)

const (
	// ContractArg is the argument key in the transaction to look up a contract.
	ContractArg = "go.dedis.ch/fedchain.ContractArg"
)

// Contract is the interface to implement to register a smart contract that will
// be executed natively.
type Contract interface {
	Execute(store.Snapshot, execution.Step) error
}

// Querier is the interface a contract can implement to answer read-only
// calls.
type Querier interface {
	Query(store.Readable, execution.Query) ([]byte, error)
}

// Service is an execution service for packaged applications. Those
// applications have complete access to the state and can directly update it.
//
// - implements execution.Service
type Service struct {
	contracts map[string]Contract
}

// NewExecution returns a new native execution. The given service will be
// executed for every incoming transaction.
func NewExecution() *Service {
	return &Service{
		contracts: map[string]Contract{},
	}
}

// Set stores the contract using the name as the key. A transaction can trigger
// this contract by using the same name as the contract argument.
func (ns *Service) Set(name string, contract Contract) {
	ns.contracts[name] = contract
}

// Execute implements execution.Service. It uses the executor to process the
// incoming transaction and return the result. A contract error rejects the
// transaction and the events of the step are discarded.
func (ns *Service) Execute(snap store.Snapshot, step execution.Step) (execution.Result, error) {
	name := string(step.Current.GetArg(ContractArg))

	contract := ns.contracts[name]
	if contract == nil {
		return execution.Result{}, xerrors.Errorf("unknown contract '%s'", name)
	}

	if step.Events == nil {
		step.Events = &execution.Events{}
	}

	res := execution.Result{
		Accepted: true,
	}

	err := contract.Execute(snap, step)
	if err != nil {
		res.Accepted = false
		res.Message = err.Error()

		return res, nil
	}

	res.Events = step.Events.List()

	return res, nil
}

// Query implements execution.Service. It forwards the query to the contract if
// it supports read-only calls.
func (ns *Service) Query(state store.Readable, query execution.Query) ([]byte, error) {
	contract := ns.contracts[query.Contract]
	if contract == nil {
		return nil, xerrors.Errorf("unknown contract '%s'", query.Contract)
	}

	querier, ok := contract.(Querier)
	if !ok {
		return nil, xerrors.Errorf("contract '%s' does not support queries", query.Contract)
	}

	value, err := querier.Query(state, query)
	if err != nil {
		return nil, xerrors.Errorf("query '%s' failed: %w", query.Method, err)
	}

	return value, nil
}
