package federation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"
	contract "go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/execution/native"
	"go.dedis.ch/fedchain/core/ordering"
	"go.dedis.ch/fedchain/core/ordering/local"
	"go.dedis.ch/fedchain/core/store/kv"
	"go.dedis.ch/fedchain/crypto/ed25519"
	"go.dedis.ch/fedchain/internal/testing/fake"
	"go.dedis.ch/fedchain/ledger/client"
	"go.dedis.ch/fedchain/ledger/events"
	"golang.org/x/xerrors"
	"pgregory.net/rapid"
)

func TestSession_RegisterDomain(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	cl := makeClient(t, node)

	session := NewSession(RoleConsumer, cl)
	require.Equal(t, RoleConsumer, session.Role())
	require.Equal(t, cl.Address(), session.Address())

	err := session.RegisterDomain(ctx, "consumer")
	require.NoError(t, err)

	err = session.RegisterDomain(ctx, "consumer")
	require.True(t, xerrors.Is(err, ErrAlreadyRegistered))

	// A new session learns the registration from the ledger.
	other := NewSession(RoleConsumer, cl)

	err = other.RegisterDomain(ctx, "again")
	require.True(t, xerrors.Is(err, ErrAlreadyRegistered))
	require.Contains(t, err.Error(), "as 'consumer'")

	require.NoError(t, NewSession(RoleConsumer, cl).EnsureRegistered(ctx, "consumer"))

	err = NewSession(RoleProvider, makeClient(t, node)).RegisterDomain(ctx, strings.Repeat("a", 33))
	require.EqualError(t, err, "invalid name: field '"+strings.Repeat("a", 33)+"' is longer than 32 bytes")
}

func TestSession_AnnounceService(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)

	id, cursor, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, ServicePrefix))
	require.LessOrEqual(t, len(id), contract.FieldSize)
	require.Equal(t, id, consumer.ServiceID())
	require.Equal(t, contract.EventNewBid, cursor.Name())
	require.Same(t, cursor, consumer.Bids())

	state, err := consumer.ServiceState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contract.StateOpen, state)

	next, _, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)
	require.NotEqual(t, id, next)

	provider := makeSession(t, node, RoleProvider)

	_, _, err = provider.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.True(t, xerrors.Is(err, ErrProtocolState))
}

func TestSession_CollectBids(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)
	alice := makeSession(t, node, RoleProvider)
	bob := makeSession(t, node, RoleProvider)

	id, cursor, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	bids, err := consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Empty(t, bids)

	_, err = alice.PlaceBid(ctx, id, 20)
	require.NoError(t, err)

	bids, err = consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Equal(t, []Bid{{Index: 1, Provider: alice.Address(), Price: 20}}, bids)

	// A second poll without new bids returns nothing.
	bids, err = consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Empty(t, bids)

	_, err = bob.PlaceBid(ctx, id, 10)
	require.NoError(t, err)

	bids, err = consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Equal(t, []Bid{{Index: 2, Provider: bob.Address(), Price: 10}}, bids)

	_, err = alice.CollectBids(ctx, cursor)
	require.True(t, xerrors.Is(err, ErrProtocolState))
}

func TestSession_CollectBids_OtherService(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)
	other := makeSession(t, node, RoleConsumer)
	provider := makeSession(t, node, RoleProvider)

	_, cursor, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	otherID, _, err := other.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	_, err = provider.PlaceBid(ctx, otherID, 10)
	require.NoError(t, err)

	bids, err := consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Empty(t, bids)
}

func TestSession_CollectBids_InvalidIndex(t *testing.T) {
	session := NewSession(RoleConsumer, fakeLedger{})
	session.serviceID = "service1"
	session.lastBid = 2

	source := &staticSource{
		logs: []ordering.Log{makeBidLog(t, "service1", 1, 2)},
	}

	cursor := events.NewSubscriber(source).Watch(contract.EventNewBid, 0)

	_, err := session.CollectBids(context.Background(), cursor)
	require.True(t, xerrors.Is(err, ErrInvalidBid))
	require.Contains(t, err.Error(), "bid index 2 after 2")

	source.logs = []ordering.Log{{
		Name:       contract.EventNewBid,
		Height:     2,
		TxID:       []byte{2},
		Attributes: []execution.Attribute{{Key: contract.AttrID, Value: []byte("service1")}},
	}}

	_, err = session.CollectBids(context.Background(), cursor)
	require.True(t, xerrors.Is(err, ErrInvalidBid))

	source.err = xerrors.New("oops")

	_, err = session.CollectBids(context.Background(), cursor)
	require.EqualError(t, err, "failed to poll bids: failed to read logs: oops")
}

func TestSession_CollectBids_Missed(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	ledger := &flakyLedger{Ledger: makeClient(t, node)}

	consumer := NewSession(RoleConsumer, ledger, WithEndpoint(endpoints[RoleConsumer]))
	require.NoError(t, consumer.RegisterDomain(ctx, "consumer"))

	alice := makeSession(t, node, RoleProvider)
	bob := makeSession(t, node, RoleProvider)

	id, cursor, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	_, err = alice.PlaceBid(ctx, id, 20)
	require.NoError(t, err)

	ledger.failures = 1

	bids, err := consumer.CollectBids(ctx, cursor)
	require.EqualError(t, err, fake.Err("failed to read bid 1"))
	require.Empty(t, bids)

	_, err = bob.PlaceBid(ctx, id, 10)
	require.NoError(t, err)

	bids, err = consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Equal(t, []Bid{
		{Index: 1, Provider: alice.Address(), Price: 20},
		{Index: 2, Provider: bob.Address(), Price: 10},
	}, bids)

	bids, err = consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Empty(t, bids)
}

func TestSession_ChooseProvider(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)
	provider := makeSession(t, node, RoleProvider)

	err := consumer.ChooseProvider(ctx, 1)
	require.True(t, xerrors.Is(err, ErrProtocolState))

	id, cursor, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	_, err = provider.PlaceBid(ctx, id, 10)
	require.NoError(t, err)

	bids, err := consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Len(t, bids, 1)

	err = consumer.ChooseProvider(ctx, 0)
	require.True(t, xerrors.Is(err, ErrInvalidBid))

	height, err := consumer.ledger.Height(ctx)
	require.NoError(t, err)

	// An index beyond the bids received is refused before reaching the ledger.
	err = consumer.ChooseProvider(ctx, 7)
	require.True(t, xerrors.Is(err, ErrInvalidBid))
	require.EqualError(t, err, "bid index 7 out of range [1, 1]: "+ErrInvalidBid.Error())

	after, err := consumer.ledger.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, height, after)

	err = consumer.ChooseProvider(ctx, bids[0].Index)
	require.NoError(t, err)

	state, err := consumer.ServiceState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contract.StateClosed, state)

	// Choosing again fails and leaves the service closed.
	err = consumer.ChooseProvider(ctx, bids[0].Index)
	require.True(t, xerrors.Is(err, ErrProtocolState))

	state, err = consumer.ServiceState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contract.StateClosed, state)

	err = provider.ServiceDeployed(ctx, id, "10.0.0.5")
	require.NoError(t, err)

	err = consumer.ChooseProvider(ctx, bids[0].Index)
	require.True(t, xerrors.Is(err, ErrProtocolState))

	state, err = consumer.ServiceState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contract.StateDeployed, state)

	err = provider.ChooseProvider(ctx, 1)
	require.True(t, xerrors.Is(err, ErrProtocolState))
}

func TestSession_PlaceBid(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)
	provider := makeSession(t, node, RoleProvider, WithEndpoint("192.168.1.2:8080"))

	id, cursor, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	closing, err := provider.PlaceBid(ctx, id, 10)
	require.NoError(t, err)
	require.Equal(t, contract.EventServiceAnnouncementClosed, closing.Name())
	require.Same(t, closing, provider.Closing(id))

	_, err = consumer.PlaceBid(ctx, id, 10)
	require.True(t, xerrors.Is(err, ErrProtocolState))

	_, err = consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)

	require.NoError(t, consumer.ChooseProvider(ctx, 1))

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	require.NoError(t, provider.WaitClosed(ctx2, closing, id))

	// Bidding on a closed service fails fast.
	_, err = makeSession(t, node, RoleProvider).PlaceBid(ctx, id, 5)
	require.True(t, xerrors.Is(err, ErrProtocolState))

	info, err := provider.DeployedInfo(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, info.ID)
	require.Equal(t, "192.168.1.1:8080", info.Endpoint)
}

func TestSession_CheckWinner(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)
	alice := makeSession(t, node, RoleProvider)
	bob := makeSession(t, node, RoleProvider)

	id, cursor, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	_, err = alice.PlaceBid(ctx, id, 10)
	require.NoError(t, err)

	_, err = bob.PlaceBid(ctx, id, 10)
	require.NoError(t, err)

	_, err = alice.CheckWinner(ctx, id)
	require.True(t, xerrors.Is(err, ErrProtocolState))

	bids, err := consumer.CollectBids(ctx, cursor)
	require.NoError(t, err)
	require.Len(t, bids, 2)

	require.NoError(t, consumer.ChooseProvider(ctx, 2))

	won, err := alice.CheckWinner(ctx, id)
	require.NoError(t, err)
	require.False(t, won)

	won, err = bob.CheckWinner(ctx, id)
	require.NoError(t, err)
	require.True(t, won)

	err = alice.ServiceDeployed(ctx, id, "10.0.0.6")
	require.True(t, xerrors.Is(err, ErrNotWinner))

	err = bob.ServiceDeployed(ctx, id, "10.0.0.5")
	require.NoError(t, err)

	err = bob.ServiceDeployed(ctx, id, "10.0.0.5")
	require.True(t, xerrors.Is(err, ErrProtocolState))

	info, err := consumer.DeployedInfo(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", info.ExternalIP)
	require.Equal(t, "192.168.1.2:8080", info.Endpoint)

	err = consumer.ServiceDeployed(ctx, id, "10.0.0.5")
	require.True(t, xerrors.Is(err, ErrProtocolState))
}

func TestSession_OpenServices(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)
	provider := makeSession(t, node, RoleProvider)
	winner := makeSession(t, node, RoleProvider)

	_, err := consumer.WatchAnnouncements(ctx)
	require.True(t, xerrors.Is(err, ErrProtocolState))

	cursor, err := provider.WatchAnnouncements(ctx)
	require.NoError(t, err)
	require.Same(t, cursor, provider.Announcements())

	first, bids, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 2})
	require.NoError(t, err)

	_, err = winner.PlaceBid(ctx, first, 10)
	require.NoError(t, err)

	_, err = consumer.CollectBids(ctx, bids)
	require.NoError(t, err)
	require.NoError(t, consumer.ChooseProvider(ctx, 1))

	second, _, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	open, err := provider.OpenServices(ctx, cursor)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, second, open[0].ID)
	require.Equal(t, "service=detector;replicas=1", open[0].Requirements)

	open, err = provider.OpenServices(ctx, cursor)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestSession_WaitState(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)

	id, _, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	require.NoError(t, consumer.WaitState(ctx, id, contract.StateOpen))

	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err = consumer.WaitState(ctx2, id, contract.StateDeployed)
	require.True(t, xerrors.Is(err, context.DeadlineExceeded))

	_, err = consumer.ServiceState(ctx, "service-unknown")
	require.Error(t, err)
}

func TestSession_ServiceState_Regression(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)

	id, _, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
	require.NoError(t, err)

	consumer.observed[id] = contract.StateDeployed

	_, err = consumer.ServiceState(ctx, id)
	require.True(t, xerrors.Is(err, ErrProtocolState))
}

func TestSession_StateMonotonic(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)
	providers := []*DomainSession{
		makeSession(t, node, RoleProvider),
		makeSession(t, node, RoleProvider),
	}

	rapid.Check(t, func(t *rapid.T) {
		id, cursor, err := consumer.AnnounceService(ctx, Requirements{Service: "detector", Replicas: 1})
		require.NoError(t, err)

		observer := NewSession(RoleConsumer, consumer.ledger)
		previous := contract.StateOpen

		steps := rapid.IntRange(1, 8).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			provider := providers[rapid.IntRange(0, 1).Draw(t, "provider")]

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				_, _ = provider.PlaceBid(ctx, id, 10)
			case 1:
				_, _ = consumer.CollectBids(ctx, cursor)
				_ = consumer.ChooseProvider(ctx, rapid.Uint64Range(0, 3).Draw(t, "index"))
			case 2:
				_ = provider.ServiceDeployed(ctx, id, "10.0.0.5")
			}

			state, err := observer.ServiceState(ctx, id)
			require.NoError(t, err)
			require.GreaterOrEqual(t, state, previous)
			require.LessOrEqual(t, state-previous, contract.State(1))

			previous = state
		}
	})
}

// -----------------------------------------------------------------------------
// Utility functions

func makeNode(t *testing.T) *local.Node {
	db, err := kv.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	exec := native.NewExecution()
	contract.RegisterContract(exec, contract.NewContract())

	node, err := local.NewNode(db, exec)
	require.NoError(t, err)

	return node
}

func makeClient(t *testing.T, node *local.Node) *client.Client {
	cl, err := client.New(node, ed25519.NewSigner(),
		client.WithMaxTries(3),
		client.WithBackOff(func() backoff.BackOff {
			return backoff.NewConstantBackOff(time.Millisecond)
		}))
	require.NoError(t, err)

	return cl
}

var endpoints = map[Role]string{
	RoleConsumer: "192.168.1.1:8080",
	RoleProvider: "192.168.1.2:8080",
}

func makeSession(t *testing.T, node *local.Node, role Role, opts ...SessionOption) *DomainSession {
	opts = append([]SessionOption{
		WithEndpoint(endpoints[role]),
		WithInterval(time.Millisecond),
	}, opts...)

	session := NewSession(role, makeClient(t, node), opts...)

	err := session.RegisterDomain(context.Background(), string(role))
	require.NoError(t, err)

	return session
}

func makeBidLog(t require.TestingT, id string, height, index uint64) ordering.Log {
	field, err := contract.EncodeField(id)
	require.NoError(t, err)

	return ordering.Log{
		Name:   contract.EventNewBid,
		Height: height,
		TxID:   []byte{byte(height)},
		Attributes: []execution.Attribute{
			{Key: contract.AttrID, Value: field},
			{Key: contract.AttrMaxBidIndex, Value: contract.EncodeUint(index)},
		},
	}
}

type staticSource struct {
	logs []ordering.Log
	err  error
}

func (s *staticSource) Logs(ctx context.Context, filter ordering.Filter) ([]ordering.Log, error) {
	return s.logs, s.err
}

type fakeLedger struct {
	Ledger
}

func (fakeLedger) Address() string {
	return "0xfake"
}

// flakyLedger fails the given number of queries before forwarding them.
type flakyLedger struct {
	Ledger

	failures int
}

func (l *flakyLedger) Call(ctx context.Context, query execution.Query) ([]byte, error) {
	if l.failures > 0 {
		l.failures--
		return nil, fake.GetError()
	}

	return l.Ledger.Call(ctx, query)
}
