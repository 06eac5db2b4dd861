package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// Deployer stands up the workloads of the catalog for the federated services
// won by the domain.
type Deployer struct {
	sync.Mutex

	orch    *Orchestrator
	catalog Catalog
	timeout time.Duration
	handles map[string]*Handle
}

// NewDeployer returns a deployer of the catalog. The timeout bounds the wait
// for the external address of a workload.
func NewDeployer(orch *Orchestrator, catalog Catalog, timeout time.Duration) *Deployer {
	return &Deployer{
		orch:    orch,
		catalog: catalog,
		timeout: timeout,
		handles: make(map[string]*Handle),
	}
}

// Supports returns true if the catalog has a workload for the service.
func (d *Deployer) Supports(service string) bool {
	_, found := d.catalog.Get(service)
	return found
}

// Deploy creates the workload of the service with the given number of
// replicas and returns its external address once it is ready. A workload that
// does not become ready is deleted.
func (d *Deployer) Deploy(ctx context.Context, service string, replicas int) (string, error) {
	spec, found := d.catalog.Get(service)
	if !found {
		return "", xerrors.Errorf("unknown workload '%s'", service)
	}

	spec.Replicas = int32(replicas)

	handle, err := d.orch.CreateWorkload(ctx, spec)
	if err != nil {
		return "", xerrors.Errorf("failed to create workload: %v", err)
	}

	addr, err := d.orch.WaitForExternalAddress(ctx, handle, d.timeout)
	if err != nil {
		d.orch.logger.Error().Err(err).Str("workload", service).Msg("deployment failed")

		delErr := d.orch.DeleteWorkload(context.Background(), handle)
		if delErr != nil {
			d.orch.logger.Warn().Err(delErr).Msg("failed to clean workload")
		}

		return "", xerrors.Errorf("workload not ready: %w", err)
	}

	d.Lock()
	d.handles[service] = handle
	d.Unlock()

	return addr, nil
}

// Handle returns the handle of a workload deployed by this deployer.
func (d *Deployer) Handle(service string) (*Handle, bool) {
	d.Lock()
	defer d.Unlock()

	handle, found := d.handles[service]

	return handle, found
}

// Remove deletes the workload of the service and waits until it is gone.
func (d *Deployer) Remove(ctx context.Context, service string) error {
	handle, found := d.Handle(service)
	if !found {
		return xerrors.Errorf("workload '%s' not deployed", service)
	}

	err := d.orch.DeleteWorkload(ctx, handle)
	if err != nil {
		return err
	}

	err = d.orch.WaitForDeletion(ctx, handle, d.timeout)
	if err != nil {
		return err
	}

	d.Lock()
	delete(d.handles, service)
	d.Unlock()

	return nil
}
