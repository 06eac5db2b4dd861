// Package node builds the CLI application of a long running process.
//
// The application has a start command that runs the initializers and opens a
// daemon on a UNIX socket in the configuration folder. Every other command
// created with MakeAction is forwarded to the daemon, which executes it with
// the components injected by the initializers and streams the output back.
//
//	fedchain --config /tmp/consumer start --ledger http://127.0.0.1:8080
//	fedchain --config /tmp/consumer federation announce --requirements ...
package node

import (
	"io"

	"go.dedis.ch/fedchain/cli"
)

// Builder is the builder given to the initializers so that they can create
// their commands and actions.
type Builder interface {
	// SetCommand creates a new command and returns its builder.
	SetCommand(name string) cli.CommandBuilder

	// SetStartFlags appends flags to the start command.
	SetStartFlags(...cli.Flag)

	// MakeAction creates a CLI action that executes the template on the
	// daemon.
	MakeAction(ActionTemplate) cli.Action
}

// ActionTemplate is an action executed on the daemon.
type ActionTemplate interface {
	// Execute processes a command received from the CLI on the daemon.
	Execute(Context) error
}

// Context is the context of an action executed on the daemon. It provides the
// dependency injector, the flags of the command and the output of the CLI.
type Context struct {
	Injector Injector
	Flags    cli.Flags
	Out      io.Writer
}

// Injector is a dependency injection abstraction.
type Injector interface {
	// Resolve populates the input with a compatible dependency if any.
	Resolve(interface{}) error

	// Inject stores the dependency to be resolved later on.
	Inject(interface{})
}

// Initializer is implemented by the controllers of a process. A controller
// sets its commands, starts its components and injects them.
type Initializer interface {
	// SetCommands populates the builder with the commands of the controller.
	SetCommands(Builder)

	// OnStart starts the components of the controller and populates the
	// injector.
	OnStart(cli.Flags, Injector) error

	// OnStop stops the components and cleans the resources.
	OnStop(Injector) error
}

// Client sends a command to the daemon.
type Client interface {
	Send([]byte) error
}

// Daemon is the IPC endpoint of a running process.
type Daemon interface {
	Listen() error
	Close() error
}

// DaemonFactory creates a daemon and the clients to connect to it.
type DaemonFactory interface {
	ClientFromContext(cli.Flags) (Client, error)
	DaemonFromContext(cli.Flags) (Daemon, error)
}
