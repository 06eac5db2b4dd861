// Package loader defines an abstraction to load the private key of a domain
// from a persistent storage. It allows one to either read it from the
// storage, or to generate a new one and store it for the next time.
package loader

import (
	"go.dedis.ch/fedchain/crypto/ed25519"
	"golang.org/x/xerrors"
)

// Generator is the interface to implement to generate a key.
type Generator interface {
	Generate() ([]byte, error)
}

// Loader is an abstraction to load a key from a storage.
type Loader interface {
	// LoadOrCreate tries to load the key and returns it if found, otherwise it
	// generates a new one using the generator and stores it.
	LoadOrCreate(Generator) ([]byte, error)

	// Load returns the key if it exists, otherwise an error.
	Load() ([]byte, error)
}

// LoadSigner returns the Ed25519 signer stored by the loader. A new signer is
// generated when create is true and nothing is stored yet.
func LoadSigner(l Loader, create bool) (ed25519.Signer, error) {
	var data []byte
	var err error

	if create {
		data, err = l.LoadOrCreate(ed25519.Generator{})
	} else {
		data, err = l.Load()
	}

	if err != nil {
		return ed25519.Signer{}, xerrors.Errorf("failed to load key: %v", err)
	}

	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return ed25519.Signer{}, xerrors.Errorf("invalid key: %v", err)
	}

	return signer, nil
}
