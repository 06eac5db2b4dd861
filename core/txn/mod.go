// Package txn defines the transactions that the domains submit to the ledger.
//
// Every command of a contract is a transaction: its arguments name the
// contract and the command, and its identity is the account of the domain
// that the contract checks before changing the state of a service.
package txn

import "go.dedis.ch/fedchain/core/access"

// Transaction is the input of a contract execution.
type Transaction interface {
	// GetID returns the digest of the transaction.
	GetID() []byte

	// GetNonce returns the sequence number of the transaction in the history
	// of its account.
	GetNonce() uint64

	GetIdentity() access.Identity

	// GetArg returns the value of the argument, or nil when it is not set.
	GetArg(key string) []byte
}

// Factory decodes the transactions received by the ledger node.
type Factory interface {
	TransactionOf(data []byte) (Transaction, error)
}

// Arg is an argument of a transaction.
type Arg struct {
	Key   string
	Value []byte
}
