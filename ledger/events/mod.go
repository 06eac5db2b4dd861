// Package events implements the subscriber of the ledger events. A cursor
// follows the logs of one event type from a given height and returns every
// log exactly once, in the order of the ledger.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/core/ordering"
	"golang.org/x/xerrors"
)

// DefaultInterval is the default interval between two polls of a cursor
// waiting for the next events.
const DefaultInterval = time.Second

// Source is the part of the ledger the subscriber reads from.
type Source interface {
	Logs(ctx context.Context, filter ordering.Filter) ([]ordering.Log, error)
}

// Subscriber opens cursors on a ledger.
type Subscriber struct {
	source Source
	logger zerolog.Logger
}

// NewSubscriber returns a subscriber of the ledger.
func NewSubscriber(source Source) Subscriber {
	return Subscriber{
		source: source,
		logger: fedchain.Logger.With().Str("component", "events").Logger(),
	}
}

// Watch returns a cursor on the logs of the given name emitted at a height
// greater or equal to the given one. The cursor is lazy and reads the ledger
// only when polled.
func (s Subscriber) Watch(name string, from uint64) *Cursor {
	return &Cursor{
		source: s.source,
		name:   name,
		height: from,
		seen:   make(map[string]uint64),
		logger: s.logger.With().Str("event", name).Logger(),
	}
}

// Cursor is a position in the logs of one event type.
type Cursor struct {
	sync.Mutex

	source Source
	name   string
	height uint64
	seen   map[string]uint64
	logger zerolog.Logger
}

// Name returns the name of the events of the cursor.
func (c *Cursor) Name() string {
	return c.name
}

// Height returns the height the next poll starts from.
func (c *Cursor) Height() uint64 {
	c.Lock()
	defer c.Unlock()

	return c.height
}

// Poll returns the logs that have not been returned yet by this cursor. A log
// is identified by its transaction and its position, so that a log is never
// returned twice even if the blocks are read again.
func (c *Cursor) Poll(ctx context.Context) ([]ordering.Log, error) {
	c.Lock()
	defer c.Unlock()

	logs, err := c.source.Logs(ctx, ordering.Filter{Name: c.name, From: c.height})
	if err != nil {
		return nil, xerrors.Errorf("failed to read logs: %w", err)
	}

	fresh := make([]ordering.Log, 0, len(logs))
	height := c.height

	for _, log := range logs {
		if log.Name != c.name {
			continue
		}

		if log.Height > height {
			height = log.Height
		}

		_, found := c.seen[log.Key()]
		if found {
			continue
		}

		c.seen[log.Key()] = log.Height
		fresh = append(fresh, log)
	}

	if height > c.height {
		// The logs of the blocks below the highest one are final, so only the
		// identifiers of the latest block are needed for the deduplication.
		c.height = height
		c.prune()
	}

	if len(fresh) > 0 {
		c.logger.Debug().
			Int("count", len(fresh)).
			Uint64("height", c.height).
			Msg("new events")
	}

	return fresh, nil
}

// Next polls the cursor at the given interval until at least one new log is
// available or the context is done.
func (c *Cursor) Next(ctx context.Context, interval time.Duration) ([]ordering.Log, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		logs, err := c.Poll(ctx)
		if err != nil {
			return nil, err
		}

		if len(logs) > 0 {
			return logs, nil
		}

		select {
		case <-ctx.Done():
			return nil, xerrors.Errorf("waiting for '%s': %w", c.name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// prune drops the identifiers of the logs below the height of the cursor.
func (c *Cursor) prune() {
	for key, height := range c.seen {
		if height < c.height {
			delete(c.seen, key)
		}
	}
}

// Str returns the value of a string attribute without the padding.
func Str(log ordering.Log, key string) string {
	return federation.DecodeField(log.Get(key))
}

// Uint returns the value of an integer attribute.
func Uint(log ordering.Log, key string) (uint64, error) {
	value, err := federation.DecodeUint(log.Get(key))
	if err != nil {
		return 0, xerrors.Errorf("attribute '%s': %v", key, err)
	}

	return value, nil
}
