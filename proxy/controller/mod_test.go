package controller

import (
	"bytes"
	"io"
	"net"
	gohttp "net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/proxy"
)

func TestController_SetCommands(t *testing.T) {
	builder := &fakeBuilder{}

	NewController().SetCommands(builder)

	require.Len(t, builder.startFlags, 1)
	require.Equal(t, ListenFlag, builder.startFlags[0].(cli.StringFlag).Name)
	require.Equal(t, []string{"proxy"}, builder.commands)
	require.Equal(t, 2, builder.actions)
}

func TestController_Lifecycle(t *testing.T) {
	inj := node.NewInjector()

	err := NewController().OnStart(node.FlagSet{ListenFlag: "127.0.0.1:0"}, inj)
	require.NoError(t, err)

	var srv proxy.Proxy
	require.NoError(t, inj.Resolve(&srv))
	require.NotNil(t, srv.GetAddr())

	out := new(bytes.Buffer)
	ctx := node.Context{
		Injector: inj,
		Flags:    node.FlagSet{"path": "/metrics"},
		Out:      out,
	}

	require.NoError(t, addrAction{}.Execute(ctx))
	require.Equal(t, srv.GetAddr().String()+"\n", out.String())

	out.Reset()
	require.NoError(t, promAction{}.Execute(ctx))
	require.Contains(t, out.String(), `registered prometheus service on "/metrics"`)

	err = promAction{}.Execute(ctx)
	require.EqualError(t, err, `path "/metrics" already registered`)

	res, err := gohttp.Get("http://" + srv.GetAddr().String() + "/metrics")
	require.NoError(t, err)

	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "go_goroutines")

	require.NoError(t, NewController().OnStop(inj))
}

func TestController_OnStart_Failures(t *testing.T) {
	err := NewController().OnStart(node.FlagSet{ListenFlag: "bad://xx"}, node.NewInjector())
	require.Error(t, err)
	require.Regexp(t, "^failed to start proxy: failed to create conn", err.Error())

	err = NewController().OnStop(node.NewInjector())
	require.Error(t, err)
	require.Regexp(t, "^failed to resolve proxy: ", err.Error())

	defer func(fac func(string) proxy.Proxy, retry int) {
		proxyFac = fac
		startRetry = retry
	}(proxyFac, startRetry)

	proxyFac = func(string) proxy.Proxy { return &silentProxy{stop: make(chan struct{})} }
	startRetry = 2

	err = NewController().OnStart(node.FlagSet{}, node.NewInjector())
	require.EqualError(t, err, "proxy did not start in time")
}

func TestActions_MissingProxy(t *testing.T) {
	ctx := node.Context{Injector: node.NewInjector(), Flags: node.FlagSet{}, Out: io.Discard}

	err := addrAction{}.Execute(ctx)
	require.Regexp(t, "^failed to resolve proxy: ", err.Error())

	err = promAction{}.Execute(ctx)
	require.Regexp(t, "^failed to resolve proxy: ", err.Error())
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeBuilder struct {
	startFlags []cli.Flag
	commands   []string
	actions    int
}

func (b *fakeBuilder) SetCommand(name string) cli.CommandBuilder {
	b.commands = append(b.commands, name)
	return fakeCommandBuilder{}
}

func (b *fakeBuilder) SetStartFlags(flags ...cli.Flag) {
	b.startFlags = append(b.startFlags, flags...)
}

func (b *fakeBuilder) MakeAction(node.ActionTemplate) cli.Action {
	b.actions++
	return nil
}

type fakeCommandBuilder struct{}

func (fakeCommandBuilder) SetDescription(string) {}

func (fakeCommandBuilder) SetFlags(...cli.Flag) {}

func (fakeCommandBuilder) SetAction(cli.Action) {}

func (fakeCommandBuilder) SetSubCommand(string) cli.CommandBuilder {
	return fakeCommandBuilder{}
}

// silentProxy never listens.
type silentProxy struct {
	proxy.Proxy
	stop chan struct{}
}

func (p *silentProxy) Listen() error {
	<-p.stop
	return nil
}

func (p *silentProxy) GetAddr() net.Addr {
	return nil
}

func (p *silentProxy) Stop() {
	close(p.stop)
}
