// Package execution defines the inputs and outputs of a smart contract
// execution.
//
// A transaction is executed in a step that gives the contract access to the
// height of the block and to an event log. The events emitted by an accepted
// transaction are stored alongside its receipt so that the domains can follow
// the progress of a negotiation without polling the contract state.
package execution

import (
	"go.dedis.ch/fedchain/core/store"
	"go.dedis.ch/fedchain/core/txn"
)

// Step is a context of execution. It contains the transaction to process and
// the position in the ledger.
type Step struct {
	Current txn.Transaction

	// Height is the height of the block that will include the transaction.
	Height uint64

	// Events collects the events emitted by the contract. It can be nil, in
	// which case the events are dropped.
	Events *Events
}

// Attribute is a named value of an event.
type Attribute struct {
	Key   string
	Value []byte
}

// Event is a named notification emitted by a contract.
type Event struct {
	Name       string
	Attributes []Attribute
}

// Get returns the value of the attribute, or nil if it is not set.
func (e Event) Get(key string) []byte {
	for _, attr := range e.Attributes {
		if attr.Key == key {
			return attr.Value
		}
	}

	return nil
}

// Events is the ordered list of events emitted during a step.
type Events struct {
	list []Event
}

// Emit appends an event to the list.
func (e *Events) Emit(name string, attrs ...Attribute) {
	if e == nil {
		return
	}

	e.list = append(e.list, Event{Name: name, Attributes: attrs})
}

// List returns the events in the order they were emitted.
func (e *Events) List() []Event {
	if e == nil {
		return nil
	}

	return append([]Event{}, e.list...)
}

// Result is the result of a transaction execution.
type Result struct {
	// Accepted is the success state of the transaction.
	Accepted bool

	// Message gives a change to the execution to explain why a transaction has
	// failed.
	Message string

	// Events is the list of events emitted by an accepted transaction.
	Events []Event
}

// Query is a read-only call to a contract.
type Query struct {
	Contract string
	Method   string
	Args     map[string][]byte
}

// Service is the execution service that defines the primitives to execute a
// transaction.
type Service interface {
	// Execute must apply the transaction to the snapshot and return the result
	// of it. An error means the transaction could not be processed at all.
	Execute(snap store.Snapshot, step Step) (Result, error)

	// Query runs a read-only call against the state.
	Query(state store.Readable, query Query) ([]byte, error)
}
