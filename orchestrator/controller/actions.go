package controller

import (
	"context"
	"fmt"

	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/orchestrator"
	"golang.org/x/xerrors"
)

type listAction struct{}

// Execute implements node.ActionTemplate. It prints one workload per line.
func (listAction) Execute(ctx node.Context) error {
	var catalog orchestrator.Catalog

	err := ctx.Injector.Resolve(&catalog)
	if err != nil {
		return xerrors.Errorf("failed to resolve catalog: %v", err)
	}

	for _, name := range catalog.Names() {
		fmt.Fprintln(ctx.Out, name)
	}

	return nil
}

type deployAction struct{}

// Execute implements node.ActionTemplate. It deploys the workload and prints
// its external address once it is ready.
func (deployAction) Execute(ctx node.Context) error {
	deployer, err := resolveDeployer(ctx)
	if err != nil {
		return err
	}

	replicas := ctx.Flags.Int("replicas")
	if replicas < 1 {
		return xerrors.Errorf("invalid replicas %d", replicas)
	}

	addr, err := deployer.Deploy(context.Background(), ctx.Flags.String("service"), replicas)
	if err != nil {
		return xerrors.Errorf("failed to deploy: %v", err)
	}

	fmt.Fprintln(ctx.Out, addr)

	return nil
}

type deleteAction struct{}

// Execute implements node.ActionTemplate. It deletes the workload and waits
// until its resources are gone.
func (deleteAction) Execute(ctx node.Context) error {
	deployer, err := resolveDeployer(ctx)
	if err != nil {
		return err
	}

	service := ctx.Flags.String("service")

	err = deployer.Remove(context.Background(), service)
	if err != nil {
		return xerrors.Errorf("failed to delete: %v", err)
	}

	fmt.Fprintf(ctx.Out, "workload %s deleted\n", service)

	return nil
}

type scaleAction struct{}

// Execute implements node.ActionTemplate. It prints the new number of
// replicas.
func (scaleAction) Execute(ctx node.Context) error {
	var orch *orchestrator.Orchestrator

	err := ctx.Injector.Resolve(&orch)
	if err != nil {
		return xerrors.Errorf("failed to resolve orchestrator: %v", err)
	}

	handle, err := resolveHandle(ctx)
	if err != nil {
		return err
	}

	dir, err := orchestrator.ParseDirection(ctx.Flags.String("direction"))
	if err != nil {
		return xerrors.Errorf("invalid direction: %v", err)
	}

	replicas, err := orch.ScaleWorkload(context.Background(), handle, int32(ctx.Flags.Int("delta")), dir)
	if err != nil {
		return xerrors.Errorf("failed to scale: %v", err)
	}

	fmt.Fprintf(ctx.Out, "replicas: %d\n", replicas)

	return nil
}

type addressAction struct{}

// Execute implements node.ActionTemplate. It waits for the external address of
// the workload and prints it.
func (addressAction) Execute(ctx node.Context) error {
	var orch *orchestrator.Orchestrator

	err := ctx.Injector.Resolve(&orch)
	if err != nil {
		return xerrors.Errorf("failed to resolve orchestrator: %v", err)
	}

	handle, err := resolveHandle(ctx)
	if err != nil {
		return err
	}

	addr, err := orch.WaitForExternalAddress(context.Background(), handle, ctx.Flags.Duration("timeout"))
	if err != nil {
		return xerrors.Errorf("failed to wait: %v", err)
	}

	fmt.Fprintln(ctx.Out, addr)

	return nil
}

func resolveDeployer(ctx node.Context) (*orchestrator.Deployer, error) {
	var deployer *orchestrator.Deployer

	err := ctx.Injector.Resolve(&deployer)
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve deployer: %v", err)
	}

	return deployer, nil
}

func resolveHandle(ctx node.Context) (*orchestrator.Handle, error) {
	deployer, err := resolveDeployer(ctx)
	if err != nil {
		return nil, err
	}

	service := ctx.Flags.String("service")

	handle, found := deployer.Handle(service)
	if !found {
		return nil, xerrors.Errorf("workload '%s' not deployed", service)
	}

	return handle, nil
}
