// Package command defines the commands to generate and read the Ed25519 key
// of a domain without a running daemon.
//
//	fedchain signer new --save /tmp/consumer/private.key
//	fedchain signer read --path /tmp/consumer/private.key --format ADDRESS
package command

import (
	"os"

	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/crypto/ed25519"
)

// Initializer sets the signer commands.
//
// - implements cli.Initializer
type Initializer struct{}

// SetCommands implements cli.Initializer.
func (i Initializer) SetCommands(builder cli.Builder) {
	action := action{
		printer: os.Stdout,

		genSigner: ed25519.NewSigner().MarshalBinary,
		getPubKey: getPubkey,
		readFile:  os.ReadFile,
		saveFile:  saveToFile,
	}

	cmd := builder.SetCommand("signer")
	cmd.SetDescription("manage the Ed25519 key of a domain")

	sub := cmd.SetSubCommand("new")
	sub.SetDescription("create a new signer")
	sub.SetFlags(cli.StringFlag{
		Name:  "save",
		Usage: "if provided, save the signer to that file, otherwise print it in hex",
	}, cli.BoolFlag{
		Name:  "force",
		Usage: "overwrite the file if it exists",
	})
	sub.SetAction(action.newSignerAction)

	sub = cmd.SetSubCommand("read")
	sub.SetDescription("read a signer")
	sub.SetFlags(cli.StringFlag{
		Name:     "path",
		Usage:    "path to the signer's file",
		Required: true,
	}, cli.StringFlag{
		Name:  "format",
		Usage: "output format: [PUBKEY | ADDRESS | BASE64 | BASE64_PUBKEY]",
		Value: Pubkey,
	})
	sub.SetAction(action.loadSignerAction)
}
