// Package controller implements the initializer of the orchestrator of a
// provider domain. It connects to the cluster of the kubeconfig and loads the
// catalog of workloads the domain is able to deploy.
//
//	fedchain --config /tmp/provider start --kubeconfig ~/.kube/config \
//		--namespace federation --catalog /etc/fedchain/workloads
//	fedchain --config /tmp/provider workload deploy --service detector
package controller

import (
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/config"
	"go.dedis.ch/fedchain/orchestrator"
	"golang.org/x/xerrors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

var newClientset = func(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, xerrors.Errorf("failed to read kubeconfig: %v", err)
	}

	return kubernetes.NewForConfig(cfg)
}

// NewController returns the initializer of the orchestrator.
func NewController() node.Initializer {
	return controller{}
}

// controller creates the deployer of the catalog and injects it.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:  config.KubeconfigFlag,
			Usage: "the kubeconfig of the cluster, or the in-cluster config if empty",
		},
		cli.StringFlag{
			Name:  config.NamespaceFlag,
			Usage: "the namespace of the workloads",
		},
		cli.StringFlag{
			Name:  config.CatalogFlag,
			Usage: "the folder of the workload manifests, the orchestrator is disabled if empty",
		},
	)

	cmd := builder.SetCommand("workload")
	cmd.SetDescription("manage the workloads of the domain")

	service := cli.StringFlag{
		Name:     "service",
		Usage:    "the name of the workload in the catalog",
		Required: true,
	}

	sub := cmd.SetSubCommand("list")
	sub.SetDescription("print the workloads of the catalog")
	sub.SetAction(builder.MakeAction(listAction{}))

	sub = cmd.SetSubCommand("deploy")
	sub.SetDescription("deploy a workload and print its external address")
	sub.SetFlags(service, cli.IntFlag{
		Name:  "replicas",
		Usage: "the number of replicas",
		Value: 1,
	})
	sub.SetAction(builder.MakeAction(deployAction{}))

	sub = cmd.SetSubCommand("delete")
	sub.SetDescription("delete a deployed workload")
	sub.SetFlags(service)
	sub.SetAction(builder.MakeAction(deleteAction{}))

	sub = cmd.SetSubCommand("scale")
	sub.SetDescription("add or remove replicas to a deployed workload")
	sub.SetFlags(service,
		cli.IntFlag{
			Name:  "delta",
			Usage: "the number of replicas to add or remove",
			Value: 1,
		},
		cli.StringFlag{
			Name:  "direction",
			Usage: "up or down",
			Value: string(orchestrator.Up),
		},
	)
	sub.SetAction(builder.MakeAction(scaleAction{}))

	sub = cmd.SetSubCommand("address")
	sub.SetDescription("wait for the external address of a deployed workload")
	sub.SetFlags(service, cli.DurationFlag{
		Name:  "timeout",
		Usage: "the maximum time to wait",
		Value: orchestrator.DefaultTimeout,
	})
	sub.SetAction(builder.MakeAction(addressAction{}))
}

// OnStart implements node.Initializer. A domain without a catalog does not
// deploy anything and nothing is injected.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	domain, err := config.FromFlags(flags)
	if err != nil {
		return xerrors.Errorf("failed to read config: %v", err)
	}

	if domain.Catalog == "" {
		fedchain.Logger.Info().Msg("no catalog, orchestrator disabled")
		return nil
	}

	folder := flags.Path(node.ConfigFlag)

	catalog, err := orchestrator.LoadCatalog(config.Resolve(folder, domain.Catalog))
	if err != nil {
		return xerrors.Errorf("failed to load catalog: %v", err)
	}

	clientset, err := newClientset(config.Resolve(folder, domain.Kubeconfig))
	if err != nil {
		return xerrors.Errorf("failed to create clientset: %v", err)
	}

	orch := orchestrator.NewOrchestrator(clientset, domain.Namespace)

	inj.Inject(catalog)
	inj.Inject(orch)
	inj.Inject(orchestrator.NewDeployer(orch, catalog, domain.Ready))

	fedchain.Logger.Info().
		Strs("workloads", catalog.Names()).
		Str("namespace", domain.Namespace).
		Msg("orchestrator ready")

	return nil
}

// OnStop implements node.Initializer. The workloads are left running.
func (controller) OnStop(node.Injector) error {
	return nil
}
