// Package ucli implements the cli builder on top of urfave/cli. The context of
// urfave/cli already provides every primitive of cli.Flags so it is given as
// is to the actions.
package ucli

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/fedchain/cli"
)

// Builder is the root of the application.
//
// - implements cli.Builder
type Builder struct {
	name     string
	usage    string
	action   cli.Action
	flags    []cli.Flag
	commands []*cmdBuilder
}

// NewBuilder returns a new builder for the application. The action is run when
// no command is given and can be nil. The flags are global and available to
// every command and subcommand.
func NewBuilder(name string, action cli.Action, flags ...cli.Flag) *Builder {
	return &Builder{
		name:   name,
		action: action,
		flags:  flags,
	}
}

// SetUsage sets the one-line description of the application.
func (b *Builder) SetUsage(usage string) {
	b.usage = usage
}

// SetCommand implements cli.Builder.
func (b *Builder) SetCommand(name string) cli.CommandBuilder {
	cmd := &cmdBuilder{name: name}
	b.commands = append(b.commands, cmd)

	return cmd
}

// Build implements cli.Builder. It creates the urfave/cli application with the
// commands in the order they have been set.
func (b *Builder) Build() cli.Application {
	app := &urfave.App{
		Name:        b.name,
		Usage:       b.usage,
		HideVersion: true,
		Flags:       buildFlags(b.flags),
		Commands:    buildCommands(b.commands),
		Action:      makeAction(b.action),
	}

	app.Setup()

	return app
}

// cmdBuilder collects the properties of a command.
//
// - implements cli.CommandBuilder
type cmdBuilder struct {
	name        string
	description string
	action      cli.Action
	flags       []urfave.Flag
	subcommands []*cmdBuilder
}

// SetDescription implements cli.CommandBuilder.
func (b *cmdBuilder) SetDescription(value string) {
	b.description = value
}

// SetFlags implements cli.CommandBuilder. It replaces the flags already set.
func (b *cmdBuilder) SetFlags(flags ...cli.Flag) {
	b.flags = buildFlags(flags)
}

// SetAction implements cli.CommandBuilder.
func (b *cmdBuilder) SetAction(action cli.Action) {
	b.action = action
}

// SetSubCommand implements cli.CommandBuilder.
func (b *cmdBuilder) SetSubCommand(name string) cli.CommandBuilder {
	sub := &cmdBuilder{name: name}
	b.subcommands = append(b.subcommands, sub)

	return sub
}

// buildFlags converts the flag definitions to their urfave/cli counterpart. It
// panics on an unknown definition as this is a programming error.
func buildFlags(flags []cli.Flag) []urfave.Flag {
	res := make([]urfave.Flag, 0, len(flags))

	for _, f := range flags {
		switch e := f.(type) {
		case cli.StringFlag:
			res = append(res, &urfave.StringFlag{
				Name:     e.Name,
				Usage:    e.Usage,
				Required: e.Required,
				Value:    e.Value,
			})
		case cli.StringSliceFlag:
			res = append(res, &urfave.StringSliceFlag{
				Name:     e.Name,
				Usage:    e.Usage,
				Required: e.Required,
				Value:    urfave.NewStringSlice(e.Value...),
			})
		case cli.DurationFlag:
			res = append(res, &urfave.DurationFlag{
				Name:     e.Name,
				Usage:    e.Usage,
				Required: e.Required,
				Value:    e.Value,
			})
		case cli.IntFlag:
			res = append(res, &urfave.IntFlag{
				Name:     e.Name,
				Usage:    e.Usage,
				Required: e.Required,
				Value:    e.Value,
			})
		case cli.BoolFlag:
			res = append(res, &urfave.BoolFlag{
				Name:     e.Name,
				Usage:    e.Usage,
				Required: e.Required,
				Value:    e.Value,
			})
		default:
			panic(fmt.Sprintf("flag type '%T' not supported", f))
		}
	}

	return res
}

func buildCommands(cmds []*cmdBuilder) []*urfave.Command {
	commands := make([]*urfave.Command, len(cmds))

	for i, cmd := range cmds {
		commands[i] = &urfave.Command{
			Name:        cmd.name,
			Usage:       cmd.description,
			Action:      makeAction(cmd.action),
			Flags:       cmd.flags,
			Subcommands: buildCommands(cmd.subcommands),
		}
	}

	return commands
}

// makeAction wraps the action so that it receives the urfave/cli context as
// the flags.
func makeAction(action cli.Action) urfave.ActionFunc {
	if action == nil {
		return nil
	}

	return func(ctx *urfave.Context) error {
		return action(ctx)
	}
}
