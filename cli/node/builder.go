package node

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/ucli"
	"golang.org/x/xerrors"
)

// ConfigFlag is the name of the global flag of the configuration folder, where
// the daemon opens its socket.
const ConfigFlag = "config"

// LogLevelFlag is the name of the global flag of the log level of the daemon.
const LogLevelFlag = "log-level"

// CLIBuilder builds a CLI application to start and control a process.
//
// - implements node.Builder
// - implements cli.Builder
type CLIBuilder struct {
	*ucli.Builder

	daemonFactory DaemonFactory
	injector      Injector
	actions       *actionMap
	startFlags    []cli.Flag
	inits         []Initializer

	// The daemon is stopped with SIGINT or SIGTERM, unless a channel is given
	// in which case the caller is in charge of it.
	enableSignal bool
	sigs         chan os.Signal
}

// NewBuilder returns a builder of the application with the given name and
// default configuration folder.
func NewBuilder(name, config string, inits ...Initializer) *CLIBuilder {
	return NewBuilderWithCfg(name, config, nil, nil, inits...)
}

// NewBuilderWithCfg returns a builder with a specific channel of signals to
// stop the daemon and a specific output for the clients.
func NewBuilderWithCfg(name, config string, sigs chan os.Signal, out io.Writer,
	inits ...Initializer) *CLIBuilder {

	if out == nil {
		out = os.Stdout
	}

	enabled := false

	if sigs == nil {
		sigs = make(chan os.Signal, 1)
		enabled = true
	}

	injector := NewInjector()
	actions := &actionMap{}

	builder := ucli.NewBuilder(name, nil,
		cli.StringFlag{
			Name:  ConfigFlag,
			Usage: "path to the config folder",
			Value: config,
		},
		cli.StringFlag{
			Name:  LogLevelFlag,
			Usage: "log level of the daemon (trace, debug, info, warn, error)",
		},
	)

	return &CLIBuilder{
		Builder:  builder,
		injector: injector,
		actions:  actions,
		daemonFactory: socketFactory{
			injector: injector,
			actions:  actions,
			out:      out,
		},
		enableSignal: enabled,
		sigs:         sigs,
		inits:        inits,
	}
}

// SetStartFlags implements node.Builder. It panics when two controllers
// define a start flag with the same name.
func (b *CLIBuilder) SetStartFlags(flags ...cli.Flag) {
	for _, flag := range flags {
		for _, known := range b.startFlags {
			if known.Key() == flag.Key() {
				panic(fmt.Sprintf("start flag '%s' already set", flag.Key()))
			}
		}

		b.startFlags = append(b.startFlags, flag)
	}
}

// MakeAction implements node.Builder. The action sends the index of the
// template followed by the flags of the command to the daemon.
func (b *CLIBuilder) MakeAction(tmpl ActionTemplate) cli.Action {
	index := b.actions.Set(tmpl)

	return func(flags cli.Flags) error {
		client, err := b.daemonFactory.ClientFromContext(flags)
		if err != nil {
			return xerrors.Errorf("couldn't make client: %v", err)
		}

		fset := make(FlagSet)

		ctx, ok := flags.(*urfave.Context)
		if ok {
			lookupFlags(fset, ctx)
		}

		buf, err := json.Marshal(fset)
		if err != nil {
			return xerrors.Errorf("failed to marshal flag set: %v", err)
		}

		msg := make([]byte, 2, 2+len(buf))
		binary.LittleEndian.PutUint16(msg, index)

		err = client.Send(append(msg, buf...))
		if err != nil {
			return xerrors.Opaque(err)
		}

		return nil
	}
}

// lookupFlags fills the set with the flags of the command and its ancestors.
// The flags of the command take precedence.
func lookupFlags(fset FlagSet, ctx *urfave.Context) {
	lineage := ctx.Lineage()

	for i := len(lineage) - 1; i >= 0; i-- {
		ancestor := lineage[i]

		if ancestor.App != nil {
			fill(fset, ancestor.App.Flags, ancestor)
		}

		if ancestor.Command != nil {
			fill(fset, ancestor.Command.Flags, ancestor)
		}
	}
}

func fill(fset FlagSet, flags []urfave.Flag, ctx *urfave.Context) {
	for _, flag := range flags {
		names := flag.Names()
		if len(names) == 0 {
			continue
		}

		value := ctx.Value(names[0])
		if value == nil {
			continue
		}

		// A string slice does not serialize to JSON so the actual list is
		// sent instead.
		slice, ok := value.(urfave.StringSlice)
		if ok {
			fset[names[0]] = slice.Value()
		} else {
			fset[names[0]] = value
		}
	}
}

// Build implements cli.Builder. It sets the commands of the initializers and
// the start command, then builds the application.
func (b *CLIBuilder) Build() cli.Application {
	for _, controller := range b.inits {
		controller.SetCommands(b)
	}

	cmd := b.SetCommand("start")
	cmd.SetDescription("start the daemon")
	cmd.SetFlags(b.startFlags...)
	cmd.SetAction(b.start)

	return b.Builder.Build()
}

func (b *CLIBuilder) start(flags cli.Flags) error {
	if b.enableSignal {
		signal.Notify(b.sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(b.sigs)
	}

	lvl := flags.String(LogLevelFlag)
	if lvl != "" {
		fedchain.Logger = fedchain.Logger.Level(fedchain.ParseLogLevel(lvl))
	}

	dir := flags.Path(ConfigFlag)
	if dir != "" {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			return xerrors.Errorf("couldn't make path: %v", err)
		}
	}

	daemon, err := b.daemonFactory.DaemonFromContext(flags)
	if err != nil {
		return xerrors.Errorf("couldn't make daemon: %v", err)
	}

	started := 0

	for _, controller := range b.inits {
		err = controller.OnStart(flags, b.injector)
		if err != nil {
			b.stop(started)
			return xerrors.Errorf("couldn't run the controller: %v", err)
		}

		started++
	}

	// The daemon listens once every component has started.
	err = daemon.Listen()
	if err != nil {
		b.stop(started)
		return xerrors.Errorf("couldn't start the daemon: %v", err)
	}

	fedchain.Logger.Info().Str("config", dir).Msg("daemon has started")

	<-b.sigs

	err = daemon.Close()
	if err != nil {
		fedchain.Logger.Warn().Err(err).Msg("failed to close the daemon")
	}

	err = b.stop(started)
	if err != nil {
		return err
	}

	fedchain.Logger.Info().Msg("daemon has been stopped")

	return nil
}

// stop stops the started controllers in reverse order so that a component is
// stopped before the ones it depends on.
func (b *CLIBuilder) stop(started int) error {
	for i := started - 1; i >= 0; i-- {
		err := b.inits[i].OnStop(b.injector)
		if err != nil {
			return xerrors.Errorf("couldn't stop controller: %v", err)
		}
	}

	return nil
}

// actionMap assigns a unique index to each action template.
type actionMap struct {
	list []ActionTemplate
}

func (m *actionMap) Set(a ActionTemplate) uint16 {
	m.list = append(m.list, a)
	return uint16(len(m.list) - 1)
}

func (m *actionMap) Get(index uint16) ActionTemplate {
	if int(index) >= len(m.list) {
		return nil
	}

	return m.list[index]
}
