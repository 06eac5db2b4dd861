// Package local implements an ordering service run by a single sequencer.
//
// The node orders the transactions in the order they are submitted, executes
// them against the state and appends one block per transaction. The blocks are
// linked by their digest, and the state, the nonces and the blocks live in a
// single bucket of the database. A transaction refused by its contract is still
// included so that its nonce is consumed, while a transaction with a wrong
// nonce or signature is refused before ordering.
package local

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/core"
	"go.dedis.ch/fedchain/core/access"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/store"
	"go.dedis.ch/fedchain/core/store/kv"
	"go.dedis.ch/fedchain/core/store/mem"
	"go.dedis.ch/fedchain/core/store/prefixed"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/crypto"
	"golang.org/x/xerrors"
)

var bucketName = []byte("ledger")

const (
	statePrefix   = "s/"
	noncePrefix   = "n/"
	blockPrefix   = "b/"
	receiptPrefix = "r/"
)

var heightKey = []byte("m/height")

var (
	promBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fedchain_ledger_blocks_total",
		Help: "total number of blocks",
	})

	promRejectedTxs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fedchain_ledger_transactions_rejected_total",
		Help: "total number of transactions refused before ordering",
	})

	promRevertedTxs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fedchain_ledger_transactions_reverted_total",
		Help: "total number of transactions refused by their contract",
	})
)

func init() {
	fedchain.PromCollectors = append(fedchain.PromCollectors, promBlocks,
		promRejectedTxs, promRevertedTxs)
}

type signedTx interface {
	GetSignature() crypto.Signature
}

// Node is an ordering service with a single sequencer.
//
// - implements ordering.Service
type Node struct {
	sync.Mutex

	db      kv.DB
	exec    execution.Service
	hashFac crypto.HashFactory
	watcher *core.Watcher
	logger  zerolog.Logger
	closed  bool
}

// NewNode creates a new node on top of the database. The chain continues from
// the last block stored in the database, if any.
func NewNode(db kv.DB, exec execution.Service) (*Node, error) {
	err := db.Update(func(tx kv.WritableTx) error {
		_, err := tx.GetBucketOrCreate(bucketName)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to init db: %v", err)
	}

	n := &Node{
		db:      db,
		exec:    exec,
		hashFac: crypto.NewSha256Factory(),
		watcher: core.NewWatcher(),
		logger:  fedchain.Logger.With().Str("component", "ledger").Logger(),
	}

	height, err := n.Height(context.Background())
	if err != nil {
		return nil, xerrors.Errorf("failed to read height: %v", err)
	}

	promBlocks.Set(float64(height))

	return n, nil
}

// Submit implements ordering.Ledger. It verifies the transaction, executes it
// and appends a new block. The transaction is refused with ErrRejected when the
// signature or the nonce is invalid.
func (n *Node) Submit(ctx context.Context, tx txn.Transaction) (ordering.Receipt, error) {
	if ctx.Err() != nil {
		return ordering.Receipt{}, xerrors.Errorf("context: %v", ctx.Err())
	}

	n.Lock()
	defer n.Unlock()

	if n.closed {
		return ordering.Receipt{}, xerrors.Errorf("node is closed: %w", ordering.ErrUnavailable)
	}

	err := verify(tx)
	if err != nil {
		promRejectedTxs.Inc()
		return ordering.Receipt{}, err
	}

	var receipt ordering.Receipt

	err = n.db.Update(func(wtx kv.WritableTx) error {
		bucket, err := wtx.GetBucketOrCreate(bucketName)
		if err != nil {
			return err
		}

		height := bucket.Get(receiptKey(tx.GetID()))
		if height != nil {
			// The transaction has already been ordered, which happens when a
			// domain retries after a transport failure.
			block, err := readBlock(bucket, readUint(height))
			if err != nil {
				return err
			}

			receipt = block.Receipt

			return nil
		}

		receipt, err = n.order(bucket, tx)
		if err != nil {
			return err
		}

		wtx.OnCommit(func() {
			promBlocks.Set(float64(receipt.Height))

			if !receipt.Accepted {
				promRevertedTxs.Inc()
			}

			n.watcher.Notify(ordering.Event{Height: receipt.Height})
		})

		return nil
	})
	if err != nil {
		if xerrors.Is(err, ordering.ErrRejected) {
			promRejectedTxs.Inc()
			n.logger.Debug().Err(err).Msg("transaction rejected")

			return ordering.Receipt{}, err
		}

		return ordering.Receipt{}, xerrors.Errorf("failed to update db: %v", err)
	}

	n.logger.Debug().
		Uint64("height", receipt.Height).
		Bool("accepted", receipt.Accepted).
		Str("tx", hex.EncodeToString(receipt.TxID)).
		Msg("new block")

	return receipt, nil
}

func (n *Node) order(bucket kv.Bucket, tx txn.Transaction) (ordering.Receipt, error) {
	addr, err := access.AddressOf(tx.GetIdentity())
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("invalid identity: %v: %w", err, ordering.ErrRejected)
	}

	expected := readUint(bucket.Get(nonceKey(addr)))
	if tx.GetNonce() != expected {
		return ordering.Receipt{}, xerrors.Errorf("invalid nonce %d, expected %d: %w",
			tx.GetNonce(), expected, ordering.ErrRejected)
	}

	height := readUint(bucket.Get(heightKey)) + 1

	state := prefixed.NewSnapshot(statePrefix, newBucketStore(bucket))
	snap := mem.NewSnapshot(state)

	step := execution.Step{
		Current: tx,
		Height:  height,
		Events:  &execution.Events{},
	}

	res, err := n.exec.Execute(snap, step)
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("execution failed: %v: %w", err, ordering.ErrRejected)
	}

	if res.Accepted {
		err = snap.Apply(state)
		if err != nil {
			return ordering.Receipt{}, xerrors.Errorf("failed to apply state: %v", err)
		}
	}

	receipt := ordering.Receipt{
		TxID:     tx.GetID(),
		Height:   height,
		Accepted: res.Accepted,
		Message:  res.Message,
	}

	for i, event := range res.Events {
		receipt.Logs = append(receipt.Logs, ordering.Log{
			Name:       event.Name,
			Attributes: event.Attributes,
			Height:     height,
			TxID:       tx.GetID(),
			Index:      uint32(i),
		})
	}

	var previous []byte
	if height > 1 {
		prev, err := readBlock(bucket, height-1)
		if err != nil {
			return ordering.Receipt{}, err
		}

		previous = prev.Hash
	}

	block, err := NewBlock(height, previous, receipt, n.hashFac)
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("failed to create block: %v", err)
	}

	data, err := json.Marshal(block)
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("failed to marshal block: %v", err)
	}

	err = bucket.Set(blockKey(height), data)
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("failed to store block: %v", err)
	}

	err = bucket.Set(receiptKey(tx.GetID()), writeUint(height))
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("failed to store receipt: %v", err)
	}

	err = bucket.Set(nonceKey(addr), writeUint(expected+1))
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("failed to store nonce: %v", err)
	}

	err = bucket.Set(heightKey, writeUint(height))
	if err != nil {
		return ordering.Receipt{}, xerrors.Errorf("failed to store height: %v", err)
	}

	return receipt, nil
}

// Call implements ordering.Ledger. It runs the query against the latest state.
func (n *Node) Call(ctx context.Context, query execution.Query) ([]byte, error) {
	var value []byte

	err := n.db.View(func(tx kv.ReadableTx) error {
		var state store.Readable = emptyStore{}

		bucket := tx.GetBucket(bucketName)
		if bucket != nil {
			state = prefixed.NewReadable(statePrefix, newBucketStore(bucket))
		}

		var err error
		value, err = n.exec.Query(state, query)

		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("call failed: %w", err)
	}

	return value, nil
}

// GetNonce implements ordering.Ledger. It returns the next nonce expected for
// the address.
func (n *Node) GetNonce(ctx context.Context, address string) (uint64, error) {
	var nonce uint64

	err := n.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket != nil {
			nonce = readUint(bucket.Get(nonceKey(address)))
		}

		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("failed to read db: %v", err)
	}

	return nonce, nil
}

// Height implements ordering.Ledger. It returns the index of the latest block,
// or zero when the chain is empty.
func (n *Node) Height(ctx context.Context) (uint64, error) {
	var height uint64

	err := n.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket != nil {
			height = readUint(bucket.Get(heightKey))
		}

		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("failed to read db: %v", err)
	}

	return height, nil
}

// Logs implements ordering.Ledger. It returns the logs of the blocks starting
// at the height of the filter. An empty name matches every log.
func (n *Node) Logs(ctx context.Context, filter ordering.Filter) ([]ordering.Log, error) {
	var logs []ordering.Log

	err := n.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		height := readUint(bucket.Get(heightKey))

		from := filter.From
		if from == 0 {
			from = 1
		}

		for index := from; index <= height; index++ {
			block, err := readBlock(bucket, index)
			if err != nil {
				return err
			}

			for _, log := range block.Receipt.Logs {
				if filter.Name == "" || log.Name == filter.Name {
					logs = append(logs, log)
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to read logs: %v", err)
	}

	return logs, nil
}

// GetBlock returns the block at the given height.
func (n *Node) GetBlock(height uint64) (Block, error) {
	var block Block

	err := n.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return xerrors.Errorf("block %d not found", height)
		}

		var err error
		block, err = readBlock(bucket, height)

		return err
	})
	if err != nil {
		return block, xerrors.Errorf("failed to read block: %v", err)
	}

	return block, nil
}

// Watch implements ordering.Service. It returns a channel populated with the
// new blocks until the context is done. Events are dropped if the channel is
// not read fast enough.
func (n *Node) Watch(ctx context.Context) <-chan ordering.Event {
	ch := make(chan ordering.Event, 1)

	obs := observer{ch: ch}
	n.watcher.Add(obs)

	go func() {
		<-ctx.Done()
		n.watcher.Remove(obs)
		close(ch)
	}()

	return ch
}

// Close implements ordering.Service. It refuses any new transaction. The
// database is owned by the caller.
func (n *Node) Close() error {
	n.Lock()
	n.closed = true
	n.Unlock()

	return nil
}

func verify(tx txn.Transaction) error {
	stx, ok := tx.(signedTx)
	if !ok || stx.GetSignature() == nil {
		return xerrors.Errorf("missing signature: %w", ordering.ErrRejected)
	}

	pubkey, ok := tx.GetIdentity().(crypto.PublicKey)
	if !ok {
		return xerrors.Errorf("invalid identity '%T': %w", tx.GetIdentity(), ordering.ErrRejected)
	}

	err := pubkey.Verify(tx.GetID(), stx.GetSignature())
	if err != nil {
		return xerrors.Errorf("invalid signature: %v: %w", err, ordering.ErrRejected)
	}

	return nil
}

func readBlock(bucket kv.Bucket, height uint64) (Block, error) {
	var block Block

	data := bucket.Get(blockKey(height))
	if data == nil {
		return block, xerrors.Errorf("block %d not found", height)
	}

	err := json.Unmarshal(data, &block)
	if err != nil {
		return block, xerrors.Errorf("failed to unmarshal block %d: %v", height, err)
	}

	return block, nil
}

func blockKey(height uint64) []byte {
	return prefixed.Key([]byte(blockPrefix), writeUint(height))
}

func receiptKey(id []byte) []byte {
	return prefixed.Key([]byte(receiptPrefix), id)
}

func nonceKey(addr string) []byte {
	return prefixed.Key([]byte(noncePrefix), []byte(addr))
}

func readUint(data []byte) uint64 {
	if len(data) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(data)
}

func writeUint(value uint64) []byte {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value)

	return buffer
}

// observer forwards the notifications of the watcher to a channel.
//
// - implements core.Observer
type observer struct {
	ch chan ordering.Event
}

func (o observer) NotifyCallback(event interface{}) {
	select {
	case o.ch <- event.(ordering.Event):
	default:
	}
}
