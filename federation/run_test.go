package federation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	contract "go.dedis.ch/fedchain/contracts/federation"
	"go.dedis.ch/fedchain/internal/timing"
	"go.dedis.ch/fedchain/orchestrator"
	"go.dedis.ch/fedchain/prober"
	"golang.org/x/xerrors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

const detectorManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: detector
spec:
  replicas: 2
  selector:
    matchLabels:
      app: detector
  template:
    metadata:
      labels:
        app: detector
    spec:
      containers:
      - name: detector
        image: detector:latest
---
apiVersion: v1
kind: Service
metadata:
  name: detector-service
spec:
  type: LoadBalancer
  selector:
    app: detector
  ports:
  - port: 80
`

func TestRun_Federation(t *testing.T) {
	node := makeNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	consumer := makeSession(t, node, RoleConsumer, WithRecorder(timing.NewRecorder()))
	provider := makeSession(t, node, RoleProvider, WithRecorder(timing.NewRecorder()))

	// The provider must follow the announcements before the consumer makes
	// one.
	_, err := provider.WatchAnnouncements(ctx)
	require.NoError(t, err)

	k8s := k8sfake.NewSimpleClientset()
	k8s.PrependReactor("create", "services", func(action k8stesting.Action) (bool, runtime.Object, error) {
		svc := action.(k8stesting.CreateAction).GetObject().(*corev1.Service)
		svc.Status.LoadBalancer.Ingress = []corev1.LoadBalancerIngress{{IP: "10.0.0.5"}}

		return false, nil, nil
	})

	spec, err := orchestrator.ParseManifest("detector", []byte(detectorManifest))
	require.NoError(t, err)

	orch := orchestrator.NewOrchestrator(k8s, "fed", orchestrator.WithInterval(time.Millisecond))
	deployer := orchestrator.NewDeployer(orch, orchestrator.Catalog{"detector": spec}, time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("detector ready"))
	}))
	defer srv.Close()

	probe := &routedProber{
		inner:    prober.NewHTTPProber(),
		routes:   map[string]string{"10.0.0.5": srv.URL},
		failures: 2,
	}

	var wg sync.WaitGroup
	var provRes ProviderResult
	var provErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		provRes, provErr = RunProvider(ctx, provider, ProviderConfig{Price: 10, Deployer: deployer})
	}()

	res, err := RunConsumer(ctx, consumer, ConsumerConfig{
		Requirements:  Requirements{Service: "detector", Replicas: 1},
		Prober:        probe,
		ProbeAttempts: 5,
		ProbeWait:     time.Millisecond,
	})
	require.NoError(t, err)

	wg.Wait()
	require.NoError(t, provErr)

	require.Equal(t, uint64(1), res.Winner.Index)
	require.Equal(t, provider.Address(), res.Winner.Provider)
	require.Equal(t, uint64(10), res.Winner.Price)
	require.Equal(t, "10.0.0.5", res.ExternalIP)
	require.Equal(t, "192.168.1.2:8080", res.Endpoint)
	require.True(t, res.Reachable)
	require.Equal(t, []byte("detector ready"), res.Payload)
	require.Equal(t, int32(3), probe.calls.Load())

	require.Equal(t, []string{
		StepServiceAnnouncementSent,
		StepBidOfferReceived,
		StepChoosingProvider,
		StepProviderChosen,
		StepWinnerChosenSent,
		StepConfirmDeploymentReceived,
		StepConnectivityStart,
		StepConnectivityFinished,
	}, stepNames(res.Steps))

	require.Equal(t, res.ServiceID, provRes.ServiceID)
	require.True(t, provRes.Won)
	require.Equal(t, "10.0.0.5", provRes.ExternalIP)
	require.Equal(t, "192.168.1.1:8080", provRes.Endpoint)
	require.Equal(t, Requirements{Service: "detector", Replicas: 1}, provRes.Requirements)
	require.Equal(t, []string{
		StepServiceAnnouncementReceived,
		StepBidOfferSent,
		StepWinnerChosenReceived,
		StepDeploymentStart,
		StepDeploymentFinished,
		StepConfirmDeploymentSent,
	}, stepNames(provRes.Steps))

	state, err := consumer.ServiceState(ctx, res.ServiceID)
	require.NoError(t, err)
	require.Equal(t, contract.StateDeployed, state)

	dep, err := k8s.AppsV1().Deployments("fed").Get(ctx, "detector", metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(1), *dep.Spec.Replicas)
}

func TestRun_DeploymentFailure(t *testing.T) {
	node := makeNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	consumer := makeSession(t, node, RoleConsumer)
	provider := makeSession(t, node, RoleProvider)

	_, err := provider.WatchAnnouncements(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var provErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, provErr = RunProvider(ctx, provider, ProviderConfig{
			Deployer: fakeDeployer{err: xerrors.New("oops")},
		})
	}()

	consumerCtx, stop := context.WithTimeout(ctx, 200*time.Millisecond)
	defer stop()

	res, err := RunConsumer(consumerCtx, consumer, ConsumerConfig{
		Requirements: Requirements{Service: "detector", Replicas: 1},
	})
	require.True(t, xerrors.Is(err, context.DeadlineExceeded))

	wg.Wait()
	require.EqualError(t, provErr, "failed to deploy: oops")

	// The service stays closed on the ledger.
	state, err := provider.ServiceState(ctx, res.ServiceID)
	require.NoError(t, err)
	require.Equal(t, contract.StateClosed, state)
}

func TestRun_Unreachable(t *testing.T) {
	node := makeNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	consumer := makeSession(t, node, RoleConsumer)
	provider := makeSession(t, node, RoleProvider)

	_, err := provider.WatchAnnouncements(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var provErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, provErr = RunProvider(ctx, provider, ProviderConfig{
			Deployer: fakeDeployer{addr: "10.0.0.9"},
		})
	}()

	probe := &routedProber{inner: prober.NewHTTPProber(), failures: 10}

	res, err := RunConsumer(ctx, consumer, ConsumerConfig{
		Requirements:  Requirements{Service: "detector", Replicas: 1},
		Prober:        probe,
		ProbeAttempts: 3,
		ProbeWait:     time.Millisecond,
	})
	require.True(t, xerrors.Is(err, prober.ErrUnreachable))
	require.Equal(t, "10.0.0.9", res.ExternalIP)
	require.False(t, res.Reachable)
	require.Equal(t, int32(3), probe.calls.Load())

	wg.Wait()
	require.NoError(t, provErr)
}

func TestRun_WrongRole(t *testing.T) {
	node := makeNode(t)
	ctx := context.Background()

	consumer := makeSession(t, node, RoleConsumer)
	provider := makeSession(t, node, RoleProvider)

	_, err := RunConsumer(ctx, provider, ConsumerConfig{})
	require.True(t, xerrors.Is(err, ErrProtocolState))

	_, err = RunProvider(ctx, consumer, ProviderConfig{Deployer: fakeDeployer{}})
	require.True(t, xerrors.Is(err, ErrProtocolState))

	_, err = RunProvider(ctx, provider, ProviderConfig{})
	require.EqualError(t, err, "missing deployer")
}

func TestRun_Provider_Unsupported(t *testing.T) {
	node := makeNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	consumer := makeSession(t, node, RoleConsumer)
	provider := makeSession(t, node, RoleProvider)

	_, err := provider.WatchAnnouncements(ctx)
	require.NoError(t, err)

	_, _, err = consumer.AnnounceService(ctx, Requirements{Service: "transcoder", Replicas: 1})
	require.NoError(t, err)

	deployer := orchestrator.NewDeployer(nil, orchestrator.Catalog{}, time.Second)

	_, err = RunProvider(ctx, provider, ProviderConfig{Deployer: deployer})
	require.True(t, xerrors.Is(err, context.DeadlineExceeded))
}

// -----------------------------------------------------------------------------
// Utility functions

func stepNames(steps []timing.Step) []string {
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = step.Name
	}

	return names
}

// routedProber probes the external addresses through local servers and fails
// the first attempts.
type routedProber struct {
	inner    prober.HTTPProber
	routes   map[string]string
	failures int32
	calls    atomic.Int32
}

func (p *routedProber) Probe(ctx context.Context, address string) (bool, []byte) {
	if p.calls.Add(1) <= p.failures {
		return false, nil
	}

	url, found := p.routes[address]
	if !found {
		return false, nil
	}

	return p.inner.Probe(ctx, url)
}

type fakeDeployer struct {
	addr string
	err  error
}

func (d fakeDeployer) Deploy(ctx context.Context, service string, replicas int) (string, error) {
	return d.addr, d.err
}
