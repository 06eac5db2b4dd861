// Package controller implements the initializer of the HTTP proxy. The proxy
// starts with the daemon so that the other controllers can register their
// handlers on it.
package controller

import (
	"time"

	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/proxy"
	"go.dedis.ch/fedchain/proxy/http"
	"golang.org/x/xerrors"
)

// ListenFlag is the name of the start flag of the proxy address.
const ListenFlag = "listen"

const defaultAddr = "127.0.0.1:8080"

const defaultProm = "/metrics"

var (
	proxyFac   = func(addr string) proxy.Proxy { return http.NewHTTP(addr) }
	startDelay = 10 * time.Millisecond
	startRetry = 500
)

// NewController returns a new initializer of the proxy.
func NewController() node.Initializer {
	return controller{}
}

// controller creates, starts and injects the proxy.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(cli.StringFlag{
		Name:  ListenFlag,
		Usage: "the address of the http server",
		Value: defaultAddr,
	})

	cmd := builder.SetCommand("proxy")
	cmd.SetDescription("manage the http server")

	sub := cmd.SetSubCommand("addr")
	sub.SetDescription("print the address of the http server")
	sub.SetAction(builder.MakeAction(addrAction{}))

	sub = cmd.SetSubCommand("prom")
	sub.SetDescription("register the collectors and start a prometheus " +
		"handler. Fails if the path is used more than once.")
	sub.SetFlags(cli.StringFlag{
		Name:  "path",
		Usage: "the handler path",
		Value: defaultProm,
	})
	sub.SetAction(builder.MakeAction(promAction{}))
}

// OnStart implements node.Initializer. It starts the proxy and waits until it
// listens.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	srv := proxyFac(flags.String(ListenFlag))

	errs := make(chan error, 1)

	go func() {
		errs <- srv.Listen()
	}()

	for i := 0; i < startRetry && srv.GetAddr() == nil; i++ {
		select {
		case err := <-errs:
			return xerrors.Errorf("failed to start proxy: %v", err)
		case <-time.After(startDelay):
		}
	}

	if srv.GetAddr() == nil {
		srv.Stop()
		return xerrors.New("proxy did not start in time")
	}

	inj.Inject(srv)

	return nil
}

// OnStop implements node.Initializer. It stops the proxy.
func (controller) OnStop(inj node.Injector) error {
	var srv proxy.Proxy

	err := inj.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("failed to resolve proxy: %v", err)
	}

	srv.Stop()

	return nil
}
