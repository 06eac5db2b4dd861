package fake

import (
	"context"
	"sync"

	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/txn"
	"golang.org/x/xerrors"
)

// Ledger is a fake ledger that forwards the requests to another one. It can be
// configured to fail a number of requests before forwarding them, and it
// records the submitted transactions.
//
// - implements ordering.Ledger
type Ledger struct {
	sync.Mutex
	ordering.Ledger

	// Unavailable is the number of the next requests failing with
	// ordering.ErrUnavailable.
	Unavailable int

	// Err is returned by every request when it is set.
	Err error

	Submitted []txn.Transaction
}

// NewLedger returns a fake ledger forwarding the requests to the given one.
func NewLedger(inner ordering.Ledger) *Ledger {
	return &Ledger{Ledger: inner}
}

// NewBadLedger returns a fake ledger that always fails with the fake error.
func NewBadLedger() *Ledger {
	return &Ledger{Err: fakeErr}
}

// Submit implements ordering.Ledger.
func (l *Ledger) Submit(ctx context.Context, tx txn.Transaction) (ordering.Receipt, error) {
	l.Lock()
	l.Submitted = append(l.Submitted, tx)
	l.Unlock()

	err := l.fail()
	if err != nil {
		return ordering.Receipt{}, err
	}

	return l.Ledger.Submit(ctx, tx)
}

// Call implements ordering.Ledger.
func (l *Ledger) Call(ctx context.Context, query execution.Query) ([]byte, error) {
	err := l.fail()
	if err != nil {
		return nil, err
	}

	return l.Ledger.Call(ctx, query)
}

// GetNonce implements ordering.Ledger.
func (l *Ledger) GetNonce(ctx context.Context, address string) (uint64, error) {
	err := l.fail()
	if err != nil {
		return 0, err
	}

	return l.Ledger.GetNonce(ctx, address)
}

// Height implements ordering.Ledger.
func (l *Ledger) Height(ctx context.Context) (uint64, error) {
	err := l.fail()
	if err != nil {
		return 0, err
	}

	return l.Ledger.Height(ctx)
}

// Logs implements ordering.Ledger.
func (l *Ledger) Logs(ctx context.Context, filter ordering.Filter) ([]ordering.Log, error) {
	err := l.fail()
	if err != nil {
		return nil, err
	}

	return l.Ledger.Logs(ctx, filter)
}

// SubmitCount returns the number of submitted transactions.
func (l *Ledger) SubmitCount() int {
	l.Lock()
	defer l.Unlock()

	return len(l.Submitted)
}

func (l *Ledger) fail() error {
	l.Lock()
	defer l.Unlock()

	if l.Err != nil {
		return l.Err
	}

	if l.Unavailable > 0 {
		l.Unavailable--
		return xerrors.Errorf("fake: %w", ordering.ErrUnavailable)
	}

	return nil
}
