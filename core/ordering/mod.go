// Package ordering defines the interface of the ordering service. The
// high-level purpose of this service is to order the transactions of the
// domains, to execute them and to keep the receipts and the events of every
// block.
//
// The domains only ever talk to the ledger through the Ledger interface, be it
// an in-process node or a remote one.
package ordering

import (
	"context"
	"encoding/hex"
	"strconv"

	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/txn"
	"golang.org/x/xerrors"
)

var (
	// ErrRejected is returned when the ledger refuses to order a transaction,
	// because of a stale nonce or an invalid signature.
	ErrRejected = xerrors.New("transaction rejected")

	// ErrReverted is returned when a transaction is ordered but refused by its
	// contract. Its nonce is consumed.
	ErrReverted = xerrors.New("transaction reverted")

	// ErrUnavailable is returned when the ledger cannot be reached.
	ErrUnavailable = xerrors.New("ledger unavailable")
)

// Log is an event emitted by an accepted transaction, located in the ledger.
// The pair (TxID, Index) uniquely identifies it.
type Log struct {
	Name       string
	Attributes []execution.Attribute
	Height     uint64
	TxID       []byte
	Index      uint32
}

// Key returns a unique identifier of the log.
func (l Log) Key() string {
	return hex.EncodeToString(l.TxID) + ":" + strconv.FormatUint(uint64(l.Index), 10)
}

// Get returns the value of the attribute, or nil if it is not set.
func (l Log) Get(key string) []byte {
	return execution.Event{Name: l.Name, Attributes: l.Attributes}.Get(key)
}

// Receipt is the outcome of a transaction included in a block. A transaction
// refused by its contract is included and consumes its nonce, but it has no
// logs.
type Receipt struct {
	TxID     []byte
	Height   uint64
	Accepted bool
	Message  string
	Logs     []Log
}

// Filter selects the logs of a given name, emitted at a height greater or equal
// to From.
type Filter struct {
	Name string
	From uint64
}

// Event is the notification of a new block.
type Event struct {
	Height uint64
}

// Ledger is the set of primitives a domain needs from the ledger.
type Ledger interface {
	// Submit orders and executes the transaction and returns its receipt. A
	// transaction submitted twice returns the same receipt.
	Submit(ctx context.Context, tx txn.Transaction) (Receipt, error)

	// Call runs a read-only query against the latest state.
	Call(ctx context.Context, query execution.Query) ([]byte, error)

	// GetNonce returns the next nonce expected for the address.
	GetNonce(ctx context.Context, address string) (uint64, error)

	// Height returns the height of the latest block.
	Height(ctx context.Context) (uint64, error)

	// Logs returns the logs matching the filter in the order of the ledger.
	Logs(ctx context.Context, filter Filter) ([]Log, error)
}

// Service is the interface of an ordering service that hosts the ledger.
type Service interface {
	Ledger

	// Watch returns a channel populated with the new blocks until the context
	// is done.
	Watch(ctx context.Context) <-chan Event

	Close() error
}
