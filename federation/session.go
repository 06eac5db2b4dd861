package federation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	contract "go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/core/execution"
	"go.dedis.ch/fedchain/core/execution/native"
	"go.dedis.ch/fedchain/core/txn"
	"go.dedis.ch/fedchain/internal/timing"
	"go.dedis.ch/fedchain/ledger/events"
	"golang.org/x/xerrors"
)

// DefaultInterval is the default interval between two polls of the ledger.
const DefaultInterval = time.Second

// ServicePrefix is the prefix of the identifiers of the services.
const ServicePrefix = "service"

var promSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "fedchain_federation_steps_total",
	Help: "total number of federation steps reached per role",
}, []string{"role", "step"})

func init() {
	fedchain.PromCollectors = append(fedchain.PromCollectors, promSteps)
}

// DomainSession is the state of a domain taking part in the federation. It
// owns the cursors of the events it follows and the current service of a
// consumer. A session is meant to be driven by one task at a time.
type DomainSession struct {
	sync.Mutex

	role       Role
	ledger     Ledger
	subscriber events.Subscriber
	endpoint   string
	interval   time.Duration
	strategy   Strategy
	recorder   *timing.Recorder
	logger     zerolog.Logger

	registered    bool
	serviceID     string
	lastBid       uint64
	missedBids    []uint64
	bids          *events.Cursor
	announcements *events.Cursor
	closed        map[string]*events.Cursor
	observed      map[string]contract.State
}

// SessionOption is the type of option to set some fields of a session.
type SessionOption func(*DomainSession)

// WithEndpoint sets the endpoint of the domain published in the transactions.
func WithEndpoint(endpoint string) SessionOption {
	return func(s *DomainSession) {
		s.endpoint = endpoint
	}
}

// WithInterval sets the interval between two polls of the ledger.
func WithInterval(interval time.Duration) SessionOption {
	return func(s *DomainSession) {
		s.interval = interval
	}
}

// WithStrategy sets the strategy a consumer selects the winner with.
func WithStrategy(strategy Strategy) SessionOption {
	return func(s *DomainSession) {
		s.strategy = strategy
	}
}

// WithRecorder sets the recorder of the steps of the runs.
func WithRecorder(rec *timing.Recorder) SessionOption {
	return func(s *DomainSession) {
		s.recorder = rec
	}
}

// NewSession returns a session of a domain with the given role.
func NewSession(role Role, ledger Ledger, opts ...SessionOption) *DomainSession {
	s := &DomainSession{
		role:       role,
		ledger:     ledger,
		subscriber: events.NewSubscriber(ledger),
		interval:   DefaultInterval,
		strategy:   FirstQualifying{Threshold: DefaultThreshold},
		logger: fedchain.Logger.With().
			Str("role", string(role)).
			Str("addr", ledger.Address()).
			Logger(),
		closed:   make(map[string]*events.Cursor),
		observed: make(map[string]contract.State),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Role returns the role of the domain.
func (s *DomainSession) Role() Role {
	return s.role
}

// Address returns the ledger account of the domain.
func (s *DomainSession) Address() string {
	return s.ledger.Address()
}

// ServiceID returns the service announced by the consumer, if any.
func (s *DomainSession) ServiceID() string {
	s.Lock()
	defer s.Unlock()

	return s.serviceID
}

// Strategy returns the selection strategy of the session.
func (s *DomainSession) Strategy() Strategy {
	return s.strategy
}

// Recorder returns the recorder of the steps, which can be nil.
func (s *DomainSession) Recorder() *timing.Recorder {
	return s.recorder
}

// RegisterDomain registers the domain as an operator of the federation under
// the given name. It fails with ErrAlreadyRegistered if the account is
// already known to the ledger.
func (s *DomainSession) RegisterDomain(ctx context.Context, name string) error {
	s.Lock()
	registered := s.registered
	s.Unlock()

	if registered {
		return xerrors.Errorf("'%s': %w", s.Address(), ErrAlreadyRegistered)
	}

	value, err := s.query(ctx, contract.QueryOperator, nil)
	if err != nil {
		return xerrors.Errorf("failed to read operator: %v", err)
	}

	if value != nil {
		s.setRegistered()

		return xerrors.Errorf("'%s' as '%s': %w", s.Address(), value, ErrAlreadyRegistered)
	}

	field, err := contract.EncodeField(name)
	if err != nil {
		return xerrors.Errorf("invalid name: %v", err)
	}

	_, err = s.ledger.Submit(ctx, s.args(contract.CmdAddOperator,
		txn.Arg{Key: contract.NameArg, Value: field})...)
	if err != nil {
		return xerrors.Errorf("failed to register: %w", err)
	}

	s.setRegistered()

	s.logger.Info().Str("name", name).Msg("domain registered")

	return nil
}

// EnsureRegistered registers the domain unless it is already registered.
func (s *DomainSession) EnsureRegistered(ctx context.Context, name string) error {
	err := s.RegisterDomain(ctx, name)
	if err != nil && !xerrors.Is(err, ErrAlreadyRegistered) {
		return err
	}

	return nil
}

func (s *DomainSession) setRegistered() {
	s.Lock()
	s.registered = true
	s.Unlock()
}

// ServiceState returns the state of the service on the ledger. The state
// observed by the session never goes backward.
func (s *DomainSession) ServiceState(ctx context.Context, id string) (contract.State, error) {
	value, err := s.query(ctx, contract.QueryServiceState, map[string][]byte{
		contract.IDArg: []byte(id),
	})
	if err != nil {
		return 0, xerrors.Errorf("failed to read state: %w", err)
	}

	raw, err := contract.DecodeUint(value)
	if err != nil {
		return 0, xerrors.Errorf("invalid state: %v", err)
	}

	state := contract.State(raw)

	s.Lock()
	defer s.Unlock()

	previous, found := s.observed[id]
	if found && state < previous {
		return state, xerrors.Errorf("service '%s' went from %v to %v: %w",
			id, previous, state, ErrProtocolState)
	}

	s.observed[id] = state

	return state, nil
}

// WaitState polls the state of the service until it reaches the given one or
// the context is done.
func (s *DomainSession) WaitState(ctx context.Context, id string, state contract.State) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		current, err := s.ServiceState(ctx, id)
		if err != nil {
			return err
		}

		if current >= state {
			return nil
		}

		select {
		case <-ctx.Done():
			return xerrors.Errorf("service '%s' still %v: %w", id, current, ctx.Err())
		case <-ticker.C:
		}
	}
}

// DeployedInfo returns the information of a service once a provider has been
// chosen. The consumer reads the endpoint of the provider and the provider
// reads the endpoint of the consumer.
func (s *DomainSession) DeployedInfo(ctx context.Context, id string) (contract.ServiceInfo, error) {
	var info contract.ServiceInfo

	value, err := s.query(ctx, contract.QueryServiceInfo, map[string][]byte{
		contract.IDArg:       []byte(id),
		contract.ProviderArg: contract.EncodeBool(s.role == RoleProvider),
	})
	if err != nil {
		return info, xerrors.Errorf("failed to read service info: %w", err)
	}

	err = json.Unmarshal(value, &info)
	if err != nil {
		return info, xerrors.Errorf("invalid service info: %v", err)
	}

	return info, nil
}

func (s *DomainSession) requireRole(role Role) error {
	if s.role != role {
		return xerrors.Errorf("reserved to the %s: %w", role, ErrProtocolState)
	}

	return nil
}

func (s *DomainSession) requireState(ctx context.Context, id string, state contract.State) error {
	current, err := s.ServiceState(ctx, id)
	if err != nil {
		return err
	}

	if current != state {
		return xerrors.Errorf("service '%s' is %v: %w", id, current, ErrProtocolState)
	}

	return nil
}

// args returns the arguments of a transaction of the federation contract.
func (s *DomainSession) args(cmd contract.Command, extra ...txn.Arg) []txn.Arg {
	args := []txn.Arg{
		{Key: native.ContractArg, Value: []byte(contract.ContractName)},
		{Key: contract.CmdArg, Value: []byte(cmd)},
	}

	return append(args, extra...)
}

func (s *DomainSession) query(ctx context.Context, method string, args map[string][]byte) ([]byte, error) {
	if args == nil {
		args = make(map[string][]byte)
	}

	args[contract.CallerArg] = []byte(s.Address())

	return s.ledger.Call(ctx, execution.Query{
		Contract: contract.ContractName,
		Method:   method,
		Args:     args,
	})
}

func (s *DomainSession) record(step string) {
	s.recorder.Record(step)

	promSteps.WithLabelValues(string(s.role), step).Inc()

	s.logger.Debug().Str("step", step).Msg("federation step")
}

func (s *DomainSession) wait(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// newServiceID returns a fresh identifier built from a time-ordered unique id.
func newServiceID() string {
	return ServicePrefix + xid.New().String()
}
