package controller

import (
	"fmt"

	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/ledger/client"
	"golang.org/x/xerrors"
)

type showAction struct{}

// Execute implements node.ActionTemplate. It prints the account address and
// the public key of the domain.
func (showAction) Execute(ctx node.Context) error {
	var cl *client.Client

	err := ctx.Injector.Resolve(&cl)
	if err != nil {
		return xerrors.Errorf("failed to resolve client: %v", err)
	}

	text, err := cl.PublicKey().MarshalText()
	if err != nil {
		return xerrors.Errorf("failed to marshal public key: %v", err)
	}

	fmt.Fprintf(ctx.Out, "address: %s\npublic key: %s\n", cl.Address(), text)

	return nil
}

type syncAction struct{}

// Execute implements node.ActionTemplate. It fetches the nonce of the account
// and prints it.
func (syncAction) Execute(ctx node.Context) error {
	var cl *client.Client

	err := ctx.Injector.Resolve(&cl)
	if err != nil {
		return xerrors.Errorf("failed to resolve client: %v", err)
	}

	err = cl.Sync()
	if err != nil {
		return xerrors.Errorf("failed to sync: %v", err)
	}

	fmt.Fprintf(ctx.Out, "nonce: %d\n", cl.Nonce())

	return nil
}
