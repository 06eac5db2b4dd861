// Package client implements the ledger client of a domain. It signs the
// transactions with the identity of the domain, keeps the nonce of the account
// and applies the retry policy of the federation:
//
//   - an unavailable ledger is retried with an exponential backoff using the
//     same transaction, which the ledger orders only once;
//   - a rejected transaction triggers a synchronization of the nonce and
//     exactly one more attempt with a new transaction before the error is
//     returned;
//   - a transaction reverted by its contract is final and returned as is.
package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/core/access"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/core/txn/signed"
	"go.dedis.ch/fedchain/crypto"
	"golang.org/x/xerrors"
)

var (
	// ErrRejected is returned when the ledger refuses a transaction after the
	// retry.
	ErrRejected = ordering.ErrRejected

	// ErrReverted is returned when the contract refuses a transaction.
	ErrReverted = ordering.ErrReverted

	// ErrUnavailable is returned when the ledger cannot be reached after the
	// retries.
	ErrUnavailable = ordering.ErrUnavailable
)

const (
	defaultMaxTries    = 8
	defaultSyncTimeout = 10 * time.Second
)

var promSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "fedchain_client_submissions_total",
	Help: "total number of transactions submitted by the domain per outcome",
}, []string{"outcome"})

func init() {
	fedchain.PromCollectors = append(fedchain.PromCollectors, promSubmissions)
}

// Client is the access of a domain to the ledger.
type Client struct {
	ledger  ordering.Ledger
	mgr     *signed.TransactionManager
	pubkey  crypto.PublicKey
	address string
	logger  zerolog.Logger

	maxTries   uint
	newBackOff func() backoff.BackOff
	store      signed.NonceStore
}

// Option is the type of option to set some fields of the client.
type Option func(*Client)

// WithNonceStore persists the nonce of the account in the store.
func WithNonceStore(store signed.NonceStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithMaxTries sets the maximum number of attempts of a request when the
// ledger is unavailable.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		c.maxTries = n
	}
}

// WithBackOff sets the function that creates the backoff policy of a request.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = fn
	}
}

// New returns a client of the ledger that signs with the given signer. The
// nonce starts at zero until the client is synchronized.
func New(ledger ordering.Ledger, signer crypto.Signer, opts ...Option) (*Client, error) {
	addr, err := access.AddressOf(signer.GetPublicKey())
	if err != nil {
		return nil, xerrors.Errorf("failed to compute address: %v", err)
	}

	c := &Client{
		ledger:   ledger,
		pubkey:   signer.GetPublicKey(),
		address:  addr,
		logger:   fedchain.Logger.With().Str("addr", addr).Logger(),
		maxTries: defaultMaxTries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	mgrOpts := []signed.ManagerOption{}
	if c.store != nil {
		mgrOpts = append(mgrOpts, signed.WithNonceStore(c.store))
	}

	c.mgr = signed.NewManager(signer, nonceClient{ledger: ledger}, mgrOpts...)

	return c, nil
}

// Address returns the account address of the domain.
func (c *Client) Address() string {
	return c.address
}

// PublicKey returns the public key of the signer.
func (c *Client) PublicKey() crypto.PublicKey {
	return c.pubkey
}

// Nonce returns the next nonce the client will use.
func (c *Client) Nonce() uint64 {
	return c.mgr.Nonce()
}

// Sync fetches the nonce of the account from the ledger. When the ledger is
// unavailable, the nonce falls back to the persisted one, if any.
func (c *Client) Sync() error {
	err := c.mgr.Sync()
	if err == nil {
		return nil
	}

	if !xerrors.Is(err, ErrUnavailable) {
		return xerrors.Errorf("failed to sync: %v", err)
	}

	c.logger.Warn().Err(err).Msg("ledger unavailable, restoring the nonce")

	err = c.mgr.Restore()
	if err != nil {
		return xerrors.Errorf("failed to restore: %v", err)
	}

	return nil
}

// Submit creates a transaction with the arguments and submits it to the
// ledger. It returns the receipt of an accepted transaction. A transaction
// refused by its contract is reported as ErrReverted without any retry.
func (c *Client) Submit(ctx context.Context, args ...txn.Arg) (ordering.Receipt, error) {
	receipt, err := c.submit(ctx, args)
	if err == nil {
		promSubmissions.WithLabelValues("accepted").Inc()
		return receipt, nil
	}

	if xerrors.Is(err, ErrReverted) {
		promSubmissions.WithLabelValues("reverted").Inc()
		return receipt, err
	}

	if !xerrors.Is(err, ErrRejected) {
		promSubmissions.WithLabelValues("failed").Inc()
		return receipt, err
	}

	c.logger.Warn().Err(err).Msg("transaction rejected, synchronizing the nonce")

	err = c.mgr.Sync()
	if err != nil {
		promSubmissions.WithLabelValues("failed").Inc()
		return receipt, xerrors.Errorf("failed to sync nonce: %v", err)
	}

	receipt, err = c.submit(ctx, args)
	if xerrors.Is(err, ErrReverted) {
		promSubmissions.WithLabelValues("reverted").Inc()
		return receipt, err
	}

	if err != nil {
		promSubmissions.WithLabelValues("rejected").Inc()
		return receipt, xerrors.Errorf("retry failed: %w", err)
	}

	promSubmissions.WithLabelValues("accepted").Inc()

	return receipt, nil
}

// Call runs a read-only query. It never consumes a nonce.
func (c *Client) Call(ctx context.Context, query execution.Query) ([]byte, error) {
	return retry(ctx, c, func() ([]byte, error) {
		return c.ledger.Call(ctx, query)
	})
}

// Height returns the height of the latest block.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	return retry(ctx, c, func() (uint64, error) {
		return c.ledger.Height(ctx)
	})
}

// Logs returns the logs matching the filter.
func (c *Client) Logs(ctx context.Context, filter ordering.Filter) ([]ordering.Log, error) {
	return retry(ctx, c, func() ([]ordering.Log, error) {
		return c.ledger.Logs(ctx, filter)
	})
}

// submit makes a new transaction, which consumes a nonce, and sends it until
// the ledger answers.
func (c *Client) submit(ctx context.Context, args []txn.Arg) (ordering.Receipt, error) {
	tx, err := c.mgr.Make(args...)
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("failed to make tx: %v", err)
	}

	receipt, err := retry(ctx, c, func() (ordering.Receipt, error) {
		return c.ledger.Submit(ctx, tx)
	})
	if err != nil {
		return receipt, err
	}

	if !receipt.Accepted {
		return receipt, xerrors.Errorf("transaction refused: %s: %w", receipt.Message, ErrReverted)
	}

	c.logger.Debug().
		Uint64("height", receipt.Height).
		Uint64("nonce", tx.GetNonce()).
		Msg("transaction accepted")

	return receipt, nil
}

// retry runs the operation until it succeeds or fails with an error other
// than ErrUnavailable.
func retry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	operation := func() (T, error) {
		res, err := op()
		if err != nil && !xerrors.Is(err, ErrUnavailable) {
			return res, backoff.Permanent(err)
		}

		return res, err
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn().Err(err).Dur("next", next).Msg("ledger unavailable")
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify))
}

// nonceClient is the adapter of the ledger for the transaction manager.
//
// - implements signed.Client
type nonceClient struct {
	ledger ordering.Ledger
}

// GetNonce implements signed.Client.
func (c nonceClient) GetNonce(ident access.Identity) (uint64, error) {
	addr, err := access.AddressOf(ident)
	if err != nil {
		return 0, xerrors.Errorf("failed to compute address: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSyncTimeout)
	defer cancel()

	return c.ledger.GetNonce(ctx, addr)
}
