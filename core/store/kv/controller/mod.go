// Package controller implements the initializer of the key/value database of a
// process. The database is opened in the configuration folder when the daemon
// starts and closed when it stops.
package controller

import (
	"path/filepath"

	"go.dedis.ch/fedchain/cli"
	"go.dedis.ch/fedchain/cli/node"
	"go.dedis.ch/fedchain/core/store/kv"
	"golang.org/x/xerrors"
)

var newDB = kv.New

// controller opens the database of the process.
//
// - implements node.Initializer
type controller struct {
	filename string
}

// NewController returns the initializer of the database stored in the file of
// the given name inside the configuration folder.
func NewController(filename string) node.Initializer {
	return controller{filename: filename}
}

// SetCommands implements node.Initializer. The database has no command.
func (controller) SetCommands(node.Builder) {}

// OnStart implements node.Initializer. It opens the database and injects it.
func (c controller) OnStart(flags cli.Flags, inj node.Injector) error {
	db, err := newDB(filepath.Join(flags.String(node.ConfigFlag), c.filename))
	if err != nil {
		return xerrors.Errorf("failed to open db: %v", err)
	}

	inj.Inject(db)

	return nil
}

// OnStop implements node.Initializer. It closes the database.
func (controller) OnStop(inj node.Injector) error {
	var db kv.DB

	err := inj.Resolve(&db)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	err = db.Close()
	if err != nil {
		return xerrors.Errorf("while closing db: %v", err)
	}

	return nil
}
