package controller

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/proxy"
	"golang.org/x/xerrors"
)

// The collectors are registered once per process and a path can only be
// served once.
var (
	registerOnce sync.Once
	pathsLock    sync.Mutex
	promPaths    = map[string]struct{}{}
)

type addrAction struct{}

// Execute implements node.ActionTemplate. It prints the address of the proxy.
func (addrAction) Execute(ctx node.Context) error {
	var srv proxy.Proxy

	err := ctx.Injector.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("failed to resolve proxy: %v", err)
	}

	fmt.Fprintln(ctx.Out, srv.GetAddr().String())

	return nil
}

type promAction struct{}

// Execute implements node.ActionTemplate. It registers the collectors of the
// components and the Prometheus handler on the proxy.
func (a promAction) Execute(ctx node.Context) error {
	var srv proxy.Proxy

	err := ctx.Injector.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("failed to resolve proxy: %v", err)
	}

	path := ctx.Flags.String("path")

	pathsLock.Lock()
	_, found := promPaths[path]
	promPaths[path] = struct{}{}
	pathsLock.Unlock()

	if found {
		return xerrors.Errorf("path %q already registered", path)
	}

	registerOnce.Do(func() {
		for _, c := range fedchain.PromCollectors {
			err := prometheus.DefaultRegisterer.Register(c)
			if err != nil {
				fmt.Fprintf(ctx.Out, "ERROR: failed to register: %v\n", err)
			}
		}
	})

	srv.RegisterHandler(path, promhttp.Handler().ServeHTTP)

	fmt.Fprintf(ctx.Out, "registered prometheus service on %q\n", path)

	return nil
}
