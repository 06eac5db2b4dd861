// Package orchestrator deploys the workloads of the federated services on a
// Kubernetes cluster.
//
// A workload is a list of resources of a closed set of kinds: pods, services
// and deployments. The readiness of a workload is polled at a bounded interval
// until its service is given an external address by the platform.
package orchestrator

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	"golang.org/x/xerrors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// ErrTimedOut is returned when a workload is not ready in time.
var ErrTimedOut = xerrors.New("timed out")

const (
	// DefaultInterval is the default interval between two readiness checks.
	DefaultInterval = 2 * time.Second

	// DefaultTimeout is the default time to wait for a workload.
	DefaultTimeout = 300 * time.Second

	// WorkloadLabel is the label set on every resource of a workload.
	WorkloadLabel = "fedchain.dedis.ch/workload"
)

var promWorkloads = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "fedchain_orchestrator_replicas",
	Help: "replicas of the deployments of a workload",
}, []string{"workload"})

func init() {
	fedchain.PromCollectors = append(fedchain.PromCollectors, promWorkloads)
}

// Resource is a resource of a workload. The implementations are Pod, Service
// and Deployment.
type Resource interface {
	// Name returns the name of the resource.
	Name() string

	resource()
}

// Pod is a single pod.
type Pod struct {
	*corev1.Pod
}

// Name implements Resource.
func (r Pod) Name() string { return r.Pod.Name }

func (Pod) resource() {}

// Service exposes the pods of a workload.
type Service struct {
	*corev1.Service
}

// Name implements Resource.
func (r Service) Name() string { return r.Service.Name }

func (Service) resource() {}

// Deployment is a replicated set of pods.
type Deployment struct {
	*appsv1.Deployment
}

// Name implements Resource.
func (r Deployment) Name() string { return r.Deployment.Name }

func (Deployment) resource() {}

// Spec describes a workload.
type Spec struct {
	Name      string
	Resources []Resource

	// Replicas overrides the replicas of the deployments when positive.
	Replicas int32
}

// Handle is a workload created on the cluster.
type Handle struct {
	Name      string
	Namespace string
	Resources []Resource

	// Address is the external address observed for the workload.
	Address string

	// Deadline is the time limit of the last readiness wait.
	Deadline time.Time
}

// Direction is the direction of a scaling.
type Direction string

const (
	// Up adds replicas.
	Up Direction = "up"

	// Down removes replicas.
	Down Direction = "down"
)

// ParseDirection returns the direction of the text.
func ParseDirection(text string) (Direction, error) {
	switch Direction(text) {
	case Up, Down:
		return Direction(text), nil
	default:
		return "", xerrors.Errorf("unknown direction '%s'", text)
	}
}

// Orchestrator manages the workloads in a namespace of the cluster.
type Orchestrator struct {
	client    kubernetes.Interface
	namespace string
	interval  time.Duration
	logger    zerolog.Logger
}

// Option is the type of option to set some fields of the orchestrator.
type Option func(*Orchestrator)

// WithInterval sets the interval between two readiness checks.
func WithInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.interval = interval
	}
}

// NewOrchestrator returns an orchestrator of the namespace.
func NewOrchestrator(client kubernetes.Interface, namespace string, opts ...Option) *Orchestrator {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}

	o := &Orchestrator{
		client:    client,
		namespace: namespace,
		interval:  DefaultInterval,
		logger: fedchain.Logger.With().
			Str("component", "orchestrator").
			Str("namespace", namespace).
			Logger(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// CreateWorkload creates the resources of the workload in order. The
// resources already created are deleted when one of them fails.
func (o *Orchestrator) CreateWorkload(ctx context.Context, spec Spec) (*Handle, error) {
	handle := &Handle{
		Name:      spec.Name,
		Namespace: o.namespace,
	}

	for _, res := range spec.Resources {
		created, err := o.create(ctx, spec, res)
		if err != nil {
			o.logger.Error().Err(err).Str("workload", spec.Name).Msg("creation failed")

			cleanErr := o.DeleteWorkload(ctx, handle)
			if cleanErr != nil {
				o.logger.Warn().Err(cleanErr).Msg("failed to clean workload")
			}

			return nil, xerrors.Errorf("failed to create '%s': %v", res.Name(), err)
		}

		handle.Resources = append(handle.Resources, created)
	}

	o.logger.Info().
		Str("workload", spec.Name).
		Int("resources", len(handle.Resources)).
		Msg("workload created")

	return handle, nil
}

func (o *Orchestrator) create(ctx context.Context, spec Spec, res Resource) (Resource, error) {
	opts := metav1.CreateOptions{}

	switch r := res.(type) {
	case Pod:
		obj := r.Pod.DeepCopy()
		o.prepare(&obj.ObjectMeta, spec.Name)

		created, err := o.client.CoreV1().Pods(o.namespace).Create(ctx, obj, opts)
		if err != nil {
			return nil, err
		}

		return Pod{Pod: created}, nil
	case Service:
		obj := r.Service.DeepCopy()
		o.prepare(&obj.ObjectMeta, spec.Name)

		created, err := o.client.CoreV1().Services(o.namespace).Create(ctx, obj, opts)
		if err != nil {
			return nil, err
		}

		return Service{Service: created}, nil
	case Deployment:
		obj := r.Deployment.DeepCopy()
		o.prepare(&obj.ObjectMeta, spec.Name)

		if spec.Replicas > 0 {
			replicas := spec.Replicas
			obj.Spec.Replicas = &replicas
		}

		created, err := o.client.AppsV1().Deployments(o.namespace).Create(ctx, obj, opts)
		if err != nil {
			return nil, err
		}

		promWorkloads.WithLabelValues(spec.Name).Set(float64(replicasOf(created)))

		return Deployment{Deployment: created}, nil
	default:
		return nil, xerrors.Errorf("unsupported resource %T", res)
	}
}

func (o *Orchestrator) prepare(meta *metav1.ObjectMeta, workload string) {
	meta.Namespace = o.namespace

	if meta.Labels == nil {
		meta.Labels = make(map[string]string)
	}

	meta.Labels[WorkloadLabel] = workload
}

// DeleteWorkload deletes the resources of the workload in the reverse order
// of their creation. A resource already gone is ignored.
func (o *Orchestrator) DeleteWorkload(ctx context.Context, handle *Handle) error {
	for i := len(handle.Resources) - 1; i >= 0; i-- {
		res := handle.Resources[i]

		err := o.delete(ctx, res)
		if err != nil && !apierrors.IsNotFound(err) {
			return xerrors.Errorf("failed to delete '%s': %v", res.Name(), err)
		}
	}

	promWorkloads.DeleteLabelValues(handle.Name)

	o.logger.Info().Str("workload", handle.Name).Msg("workload deleted")

	return nil
}

func (o *Orchestrator) delete(ctx context.Context, res Resource) error {
	opts := metav1.DeleteOptions{}

	switch r := res.(type) {
	case Pod:
		return o.client.CoreV1().Pods(o.namespace).Delete(ctx, r.Name(), opts)
	case Service:
		return o.client.CoreV1().Services(o.namespace).Delete(ctx, r.Name(), opts)
	case Deployment:
		return o.client.AppsV1().Deployments(o.namespace).Delete(ctx, r.Name(), opts)
	default:
		return xerrors.Errorf("unsupported resource %T", res)
	}
}

// ScaleWorkload adds or removes replicas to the deployments of the workload
// and returns the new number of replicas of the last one. The current number
// is read right before the update, which is retried on conflicts, and the
// result is never below zero.
func (o *Orchestrator) ScaleWorkload(ctx context.Context, handle *Handle, delta int32,
	dir Direction) (int32, error) {

	if delta < 0 {
		return 0, xerrors.Errorf("negative delta %d", delta)
	}

	if dir != Up && dir != Down {
		return 0, xerrors.Errorf("unknown direction '%s'", dir)
	}

	target := int32(-1)

	for _, res := range handle.Resources {
		deployment, ok := res.(Deployment)
		if !ok {
			continue
		}

		deployments := o.client.AppsV1().Deployments(o.namespace)

		err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
			current, err := deployments.Get(ctx, deployment.Name(), metav1.GetOptions{})
			if err != nil {
				return err
			}

			target = scale(replicasOf(current), delta, dir)
			current.Spec.Replicas = &target

			_, err = deployments.Update(ctx, current, metav1.UpdateOptions{})

			return err
		})
		if err != nil {
			return 0, xerrors.Errorf("failed to scale '%s': %v", deployment.Name(), err)
		}

		promWorkloads.WithLabelValues(handle.Name).Set(float64(target))

		o.logger.Info().
			Str("workload", handle.Name).
			Str("deployment", deployment.Name()).
			Int32("replicas", target).
			Msg("workload scaled")
	}

	if target < 0 {
		return 0, xerrors.Errorf("workload '%s' has no deployment", handle.Name)
	}

	return target, nil
}

// scale returns the replicas after the change, bounded to [0, MaxInt32].
func scale(current, delta int32, dir Direction) int32 {
	if dir == Up {
		if int64(current)+int64(delta) > math.MaxInt32 {
			return math.MaxInt32
		}

		return current + delta
	}

	if delta >= current {
		return 0
	}

	return current - delta
}

// replicasOf returns the replicas of a deployment, which defaults to one.
func replicasOf(d *appsv1.Deployment) int32 {
	if d.Spec.Replicas == nil {
		return 1
	}

	return *d.Spec.Replicas
}

// WaitForExternalAddress polls the services of the workload until one of them
// has an ingress address, either an IP or a hostname. It returns ErrTimedOut
// when the timeout expires first.
func (o *Orchestrator) WaitForExternalAddress(ctx context.Context, handle *Handle,
	timeout time.Duration) (string, error) {

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var services []string
	for _, res := range handle.Resources {
		svc, ok := res.(Service)
		if ok {
			services = append(services, svc.Name())
		}
	}

	if len(services) == 0 {
		return "", xerrors.Errorf("workload '%s' has no service", handle.Name)
	}

	handle.Deadline = time.Now().Add(timeout)

	var address string

	condition := func(ctx context.Context) (bool, error) {
		for _, name := range services {
			svc, err := o.client.CoreV1().Services(o.namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return false, err
			}

			address = IngressAddress(svc)
			if address != "" {
				return true, nil
			}
		}

		o.logger.Debug().Str("workload", handle.Name).Msg("waiting for external address")

		return false, nil
	}

	err := wait.PollUntilContextTimeout(ctx, o.interval, timeout, true, condition)
	if err != nil {
		if ctx.Err() != nil {
			return "", xerrors.Errorf("interrupted: %w", ctx.Err())
		}

		if wait.Interrupted(err) {
			return "", xerrors.Errorf("no address for '%s' after %v: %w", handle.Name, timeout, ErrTimedOut)
		}

		return "", xerrors.Errorf("failed to read service: %v", err)
	}

	handle.Address = address

	o.logger.Info().
		Str("workload", handle.Name).
		Str("address", address).
		Msg("workload ready")

	return address, nil
}

// WaitForDeletion polls the resources of the workload until they are all
// gone. It returns ErrTimedOut when the timeout expires first.
func (o *Orchestrator) WaitForDeletion(ctx context.Context, handle *Handle, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	condition := func(ctx context.Context) (bool, error) {
		for _, res := range handle.Resources {
			err := o.get(ctx, res)
			if err == nil {
				return false, nil
			}

			if !apierrors.IsNotFound(err) {
				return false, err
			}
		}

		return true, nil
	}

	err := wait.PollUntilContextTimeout(ctx, o.interval, timeout, true, condition)
	if err != nil {
		if ctx.Err() != nil {
			return xerrors.Errorf("interrupted: %w", ctx.Err())
		}

		if wait.Interrupted(err) {
			return xerrors.Errorf("'%s' still present after %v: %w", handle.Name, timeout, ErrTimedOut)
		}

		return xerrors.Errorf("failed to read resource: %v", err)
	}

	return nil
}

func (o *Orchestrator) get(ctx context.Context, res Resource) error {
	opts := metav1.GetOptions{}

	var err error

	switch r := res.(type) {
	case Pod:
		_, err = o.client.CoreV1().Pods(o.namespace).Get(ctx, r.Name(), opts)
	case Service:
		_, err = o.client.CoreV1().Services(o.namespace).Get(ctx, r.Name(), opts)
	case Deployment:
		_, err = o.client.AppsV1().Deployments(o.namespace).Get(ctx, r.Name(), opts)
	default:
		err = xerrors.Errorf("unsupported resource %T", res)
	}

	return err
}

// IngressAddress returns the first ingress address of the load balancer of
// the service, or an empty string.
func IngressAddress(svc *corev1.Service) string {
	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		if ingress.IP != "" {
			return ingress.IP
		}

		if ingress.Hostname != "" {
			return ingress.Hostname
		}
	}

	return ""
}
