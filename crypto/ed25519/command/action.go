package command

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/core/access"
	"go.dedis.ch/fedchain/crypto"
	"go.dedis.ch/fedchain/crypto/ed25519"
	"golang.org/x/xerrors"
)

// Output formats of the read command.
const (
	Pubkey       = "PUBKEY"
	Address      = "ADDRESS"
	Base64       = "BASE64"
	Base64Pubkey = "BASE64_PUBKEY"
)

// action holds the dependencies of the commands so that the tests can replace
// them.
type action struct {
	printer io.Writer

	genSigner func() ([]byte, error)
	getPubKey func([]byte) (crypto.PublicKey, error)

	readFile func(filename string) ([]byte, error)
	saveFile func(path string, force bool, data []byte) error
}

func (a action) newSignerAction(flags cli.Flags) error {
	data, err := a.genSigner()
	if err != nil {
		return xerrors.Errorf("failed to marshal signer: %v", err)
	}

	path := flags.String("save")
	if path == "" {
		fmt.Fprintln(a.printer, hex.EncodeToString(data))
		return nil
	}

	err = a.saveFile(path, flags.Bool("force"), data)
	if err != nil {
		return xerrors.Errorf("failed to save file: %v", err)
	}

	return nil
}

func (a action) loadSignerAction(flags cli.Flags) error {
	data, err := a.readFile(flags.Path("path"))
	if err != nil {
		return xerrors.Errorf("failed to read data: %v", err)
	}

	format := flags.String("format")

	if format == Base64 {
		fmt.Fprintln(a.printer, base64.StdEncoding.EncodeToString(data))
		return nil
	}

	var out string

	switch format {
	case Pubkey, Address, Base64Pubkey:
	default:
		return xerrors.Errorf("unknown format '%s'", format)
	}

	pubkey, err := a.getPubKey(data)
	if err != nil {
		return xerrors.Errorf("failed to get pubkey: %v", err)
	}

	switch format {
	case Pubkey:
		text, err := pubkey.MarshalText()
		if err != nil {
			return xerrors.Errorf("failed to marshal pubkey: %v", err)
		}

		out = string(text)
	case Address:
		out, err = access.AddressOf(pubkey)
		if err != nil {
			return xerrors.Errorf("failed to compute address: %v", err)
		}
	case Base64Pubkey:
		buf, err := pubkey.MarshalBinary()
		if err != nil {
			return xerrors.Errorf("failed to marshal pubkey: %v", err)
		}

		out = base64.StdEncoding.EncodeToString(buf)
	}

	fmt.Fprintln(a.printer, out)

	return nil
}

// saveToFile writes the key readable by the current user only.
func saveToFile(path string, force bool, data []byte) error {
	if !force && fileExist(path) {
		return xerrors.Errorf("file '%s' already exist, use --force if you "+
			"want to overwrite", path)
	}

	if force {
		// The previous key is read-only.
		_ = os.Remove(path)
	}

	err := os.WriteFile(path, data, 0400)
	if err != nil {
		return xerrors.Errorf("failed to write file: %v", err)
	}

	return nil
}

func fileExist(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func getPubkey(data []byte) (crypto.PublicKey, error) {
	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal signer: %v", err)
	}

	return signer.GetPublicKey(), nil
}
